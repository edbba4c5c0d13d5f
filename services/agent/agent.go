// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agent assembles and runs the monitoring agent: every
// subsystem singleton, the event fanout between them, and the HTTP
// server.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jinterlante1206/bannin/pkg/logging"
	"github.com/jinterlante1206/bannin/services/agent/alerts"
	"github.com/jinterlante1206/bannin/services/agent/analytics"
	"github.com/jinterlante1206/bannin/services/agent/collect"
	"github.com/jinterlante1206/bannin/services/agent/datatypes"
	"github.com/jinterlante1206/bannin/services/agent/handlers"
	"github.com/jinterlante1206/bannin/services/agent/history"
	"github.com/jinterlante1206/bannin/services/agent/llmtrack"
	"github.com/jinterlante1206/bannin/services/agent/mcpsession"
	"github.com/jinterlante1206/bannin/services/agent/observability"
	"github.com/jinterlante1206/bannin/services/agent/ollamamon"
	"github.com/jinterlante1206/bannin/services/agent/platform"
	"github.com/jinterlante1206/bannin/services/agent/predict"
	"github.com/jinterlante1206/bannin/services/agent/progress"
	"github.com/jinterlante1206/bannin/services/agent/relay"
	"github.com/jinterlante1206/bannin/services/agent/routes"
)

const (
	// Version is stamped into /status and the log header.
	Version = "0.4.0"

	trainingScanInterval = 10 * time.Second
	shutdownTimeout      = 5 * time.Second
)

// Options configures an Agent. Zero values take sensible defaults;
// the relay stays off unless RelayURL is set.
type Options struct {
	Host string
	Port int

	// DataDir holds the event store, the config cache and the log
	// file. Default ~/.bannin.
	DataDir string

	RelayURL string
	RelayKey string

	// ConfigURL overrides the BANNIN_CONFIG_URL remote-config feed.
	ConfigURL string

	// RulesPath points at a YAML alert-rules file overlaying the
	// built-in rules. Default: <DataDir>/rules.yaml when present.
	RulesPath string

	Verbose bool
}

// Agent owns every subsystem. Build with New, then Run.
type Agent struct {
	opts     Options
	platform platform.Info
	logger   *logging.Logger
	metrics  *observability.AgentMetrics

	store     *analytics.Store
	pipeline  *analytics.Pipeline
	broker    *handlers.EventBroker
	fanout    *eventFanout
	pricing   *llmtrack.PriceTable
	collector *collect.Collector
	scanner   *collect.ProcessScanner
	engine    *alerts.Engine
	history   *history.History
	predictor *predict.Predictor
	tasks     *progress.Tracker
	detector  *progress.Detector
	llm       *llmtrack.Tracker
	mcp       *mcpsession.Tracker
	ollama    *ollamamon.Monitor
	aggregate *llmtrack.Aggregator
	configMgr *platform.ConfigManager
	relay     *relay.Client

	server *http.Server

	scanStop chan struct{}
	scanDone chan struct{}
}

// eventFanout is the single Emit surface subsystems write to: every
// event reaches the analytics pipeline, the SSE broker, and the
// Prometheus counters.
type eventFanout struct {
	machine  string
	pipeline *analytics.Pipeline
	broker   *handlers.EventBroker
	metrics  *observability.AgentMetrics
}

func (f *eventFanout) Emit(e datatypes.Event) {
	if e.Machine == "" {
		e.Machine = f.machine
	}
	f.pipeline.Emit(e)
	f.broker.Emit(e)
	if f.metrics != nil {
		f.metrics.RecordEvent(e.Source)
		if e.Type == datatypes.EventLLMCall {
			provider, _ := e.Data["provider"].(string)
			cost, _ := e.Data["cost_usd"].(float64)
			f.metrics.RecordLLMCall(provider, cost)
		}
	}
}

// EmitSnapshot adapts a metric snapshot into the event stream; the
// pipeline downsamples these to one per five minutes.
func (f *eventFanout) EmitSnapshot(s *datatypes.MetricSnapshot) {
	if f.metrics != nil {
		f.metrics.CollectorTicksTotal.Inc()
	}
	data := map[string]any{
		"cpu_percent":    s.CPU.Percent,
		"memory_percent": s.Memory.Percent,
		"disk_percent":   s.Disk.Percent,
	}
	if len(s.GPUs) > 0 {
		data["gpu_memory_percent"] = s.GPUs[0].MemoryPercent
	}
	f.Emit(datatypes.Event{
		Timestamp: s.Epoch,
		Source:    datatypes.SourceSystem,
		Type:      datatypes.EventMetricSnapshot,
		Message:   fmt.Sprintf("cpu %.0f%% mem %.0f%%", s.CPU.Percent, s.Memory.Percent),
		Data:      data,
	})
}

// New wires every subsystem. Nothing runs until Run.
func New(opts Options) (*Agent, error) {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Port <= 0 {
		opts.Port = 8484
	}
	if opts.DataDir == "" {
		opts.DataDir = logging.ExpandHome("~/.bannin")
	}
	if opts.RelayURL == "" {
		opts.RelayURL = os.Getenv("BANNIN_RELAY_URL")
	}
	if opts.RelayKey == "" {
		opts.RelayKey = os.Getenv("BANNIN_RELAY_KEY")
	}
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	level := logging.LevelInfo
	if opts.Verbose {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{Level: level, LogDir: opts.DataDir, Service: "bannin"})
	logger.SetAsDefault()

	info := platform.Detect()
	metrics := observability.InitMetrics()

	store, err := analytics.NewStore(filepath.Join(opts.DataDir, "store.db"))
	if err != nil {
		return nil, err
	}

	a := &Agent{
		opts:     opts,
		platform: info,
		logger:   logger,
		metrics:  metrics,
		store:    store,
		broker:   handlers.NewEventBroker(),
		pricing:  llmtrack.NewPriceTable(nil),
	}
	a.pipeline = analytics.NewPipeline(analytics.PipelineConfig{
		Writer:  store,
		Machine: info.Hostname,
		OnDrop:  metrics.EventsDroppedTotal.Inc,
	})
	a.fanout = &eventFanout{
		machine:  info.Hostname,
		pipeline: a.pipeline,
		broker:   a.broker,
		metrics:  metrics,
	}

	a.collector = collect.NewCollector(&collect.NvidiaSMISampler{})
	a.scanner = collect.NewProcessScanner()

	rules, err := loadAlertRules(opts)
	if err != nil {
		return nil, err
	}
	a.engine = alerts.NewEngine(alerts.Config{
		Rules:         rules,
		Platform:      info.Name,
		FreshSnapshot: func() *datatypes.MetricSnapshot { return a.collector.Snapshot(false) },
		Notify: func(fa datatypes.FiredAlert) {
			metrics.RecordAlert(fa.Severity)
			a.fanout.Emit(datatypes.Event{
				Timestamp: fa.Epoch,
				Source:    datatypes.SourceAlerts,
				Type:      datatypes.EventAlert,
				Severity:  fa.Severity,
				Message:   fa.Message,
				Data: map[string]any{
					"rule_id":   fa.RuleID,
					"value":     fa.Value,
					"threshold": fa.Threshold,
				},
			})
		},
	})

	a.history = history.New(history.DefaultConfig(), a.collector, a.fanout, a.engine)
	a.predictor = predict.New(predict.Config{}, a.history)
	a.tasks = progress.NewTracker(progress.Config{})
	a.detector = progress.NewDetector(nil)

	a.llm = llmtrack.NewTracker(llmtrack.Config{
		Pricing:  a.pricing,
		Sink:     a.fanout,
		Warnings: a.engine,
	})
	a.mcp = mcpsession.NewTracker(mcpsession.Config{
		Sink:          a.fanout,
		ContextWindow: a.pricing.ContextWindow,
	})
	a.ollama = ollamamon.NewMonitor(ollamamon.Config{
		Sink:    a.fanout,
		Pricing: a.pricing,
		GPUMemoryPercent: func() (float64, bool) {
			if snap := a.history.Latest(); snap != nil && len(snap.GPUs) > 0 {
				return snap.GPUs[0].MemoryPercent, true
			}
			return 0, false
		},
	})

	a.aggregate = &llmtrack.Aggregator{
		MCP:        a.mcpHealth,
		Transcript: a.transcriptHealth,
		Ollama:     a.ollama.Health,
		API:        a.llm.Health,
	}

	a.configMgr = platform.NewConfigManager(platform.ConfigOptions{
		URL:       opts.ConfigURL,
		CachePath: filepath.Join(opts.DataDir, "platform_config.json"),
		Pricing:   a.pricing,
	})

	if opts.RelayURL != "" {
		a.relay = relay.NewClient(relay.Config{
			URL:     opts.RelayURL,
			APIKey:  opts.RelayKey,
			Machine: info.Hostname,
			Metrics: func() any { return a.history.Latest() },
			Processes: func() any {
				return collect.GroupByApp(a.scanner.Scan(), 10)
			},
			OOM:          func() any { return a.predictor.Predict() },
			Training:     func() any { return a.tasks.Tasks() },
			Health:       func() any { return a.aggregate.Combined() },
			Alerts:       a.engine,
			ResolvePID:   a.tasks.TaskPID,
			OnTerminated: a.onTaskTerminated,
			OnReconnect:  metrics.RelayReconnectsTotal.Inc,
		})
	}
	return a, nil
}

// loadAlertRules overlays a YAML rules file, when one is configured or
// present in the data dir, on the built-in rules. An explicitly passed
// path must load; a missing default file is not an error.
func loadAlertRules(opts Options) ([]datatypes.AlertRule, error) {
	path := opts.RulesPath
	if path == "" {
		candidate := filepath.Join(opts.DataDir, "rules.yaml")
		if _, err := os.Stat(candidate); err != nil {
			return alerts.DefaultRules(), nil
		}
		path = candidate
	}
	custom, err := alerts.LoadRules(path)
	if err != nil {
		return nil, fmt.Errorf("load alert rules: %w", err)
	}
	slog.Info("loaded alert rules", "path", path, "count", len(custom))
	return alerts.MergeRules(alerts.DefaultRules(), custom), nil
}

// mcpHealth scores every session that is still running on estimation.
func (a *Agent) mcpHealth() []datatypes.HealthReport {
	var reports []datatypes.HealthReport
	for _, s := range a.mcp.Sessions() {
		if s.DataSource == datatypes.MCPDataReal {
			continue
		}
		reports = append(reports, a.scoreMCPSession(s))
	}
	return reports
}

// transcriptHealth scores the worst session backed by real transcript
// counts; consulted only when no estimated session exists.
func (a *Agent) transcriptHealth() *datatypes.HealthReport {
	var worst *datatypes.HealthReport
	for _, s := range a.mcp.Sessions() {
		if s.DataSource != datatypes.MCPDataReal {
			continue
		}
		r := a.scoreMCPSession(s)
		if worst == nil || r.Score < worst.Score {
			worst = &r
		}
	}
	return worst
}

func (a *Agent) scoreMCPSession(s datatypes.MCPSession) datatypes.HealthReport {
	ctx := s.ContextPercent
	fatigue := s.SessionFatigue
	burden := s.ToolCallBurden
	in := llmtrack.HealthInputs{
		ContextPercent: &ctx,
		SessionFatigue: &fatigue,
		ToolCallBurden: &burden,
		ClientLabel:    s.ClientLabel,
	}
	if s.RealSessionData != nil {
		in.Model = s.RealSessionData.Model
	}
	return llmtrack.ScoreHealth(a.pricing, in)
}

// onTaskTerminated clears the task or detection record after a relay
// stop command succeeds.
func (a *Agent) onTaskTerminated(taskID string, pid int32) {
	a.detector.MarkFinished(pid)
	if _, ok := a.tasks.Task(taskID); ok {
		a.tasks.MarkCompleted(taskID)
	}
}

// Run starts every subsystem, serves HTTP, and blocks until the
// context cancels. Shutdown is orderly and flushes the pipeline.
func (a *Agent) Run(ctx context.Context) error {
	slog.Info("agent starting",
		"version", Version, "platform", a.platform.Name,
		"host", a.opts.Host, "port", a.opts.Port, "data_dir", a.opts.DataDir)

	a.pipeline.Start()
	a.history.Start()
	a.ollama.Start()
	a.configMgr.Start()
	a.startTrainingScan()
	if a.relay != nil {
		a.relay.Start()
	}
	a.fanout.Emit(datatypes.Event{
		Type:    datatypes.EventAgentStart,
		Message: "agent started",
		Data:    map[string]any{"version": Version, "platform": a.platform.Name},
	})

	svc := &handlers.Services{
		Machine:   a.platform.Hostname,
		Version:   Version,
		Platform:  a.platform,
		StartedAt: time.Now(),
		History:   a.history,
		Scanner:   a.scanner,
		Alerts:    a.engine,
		Predictor: a.predictor,
		Tasks:     a.tasks,
		Detector:  a.detector,
		LLM:       a.llm,
		Health:    a.aggregate,
		MCP:       a.mcp,
		Ollama:    a.ollama,
		Pipeline:  a.pipeline,
		Store:     a.store,
		Broker:    a.broker,
		Metrics:   a.metrics,
		Actions:   handlers.NewTokenStore(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	routes.SetupRoutes(router, svc)

	a.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", a.opts.Host, a.opts.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	slog.Info("agent listening", "addr", a.server.Addr)

	select {
	case err := <-errCh:
		a.shutdown()
		return err
	case <-ctx.Done():
		a.shutdown()
		return nil
	}
}

// shutdown stops subsystems in reverse start order. The pipeline goes
// last so every stop event still lands in the store.
func (a *Agent) shutdown() {
	slog.Info("agent stopping")
	a.fanout.Emit(datatypes.Event{
		Type:    datatypes.EventAgentStop,
		Message: "agent stopping",
	})

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if a.server != nil {
		a.server.Shutdown(sctx)
	}

	if a.relay != nil {
		a.relay.Stop()
	}
	a.stopTrainingScan()
	a.configMgr.Stop()
	a.ollama.Stop()
	a.history.Stop()
	a.pipeline.Stop()
	a.store.Close()
	a.logger.Close()
}

// startTrainingScan launches the loop that reconciles the detector
// against the live process table.
func (a *Agent) startTrainingScan() {
	a.scanStop = make(chan struct{})
	a.scanDone = make(chan struct{})
	go func() {
		defer close(a.scanDone)
		ticker := time.NewTicker(trainingScanInterval)
		defer ticker.Stop()
		for {
			a.detector.UpdateFromScan(a.scanner.Scan())
			select {
			case <-a.scanStop:
				return
			case <-ticker.C:
			}
		}
	}()
}

func (a *Agent) stopTrainingScan() {
	if a.scanStop == nil {
		return
	}
	close(a.scanStop)
	<-a.scanDone
	a.scanStop = nil
}
