// Package main implements the entry point for the ECNE data river.
// ECNE subscribes to raw data points on NATS, scores their coherence,
// and forwards points above the sensitivity threshold to a sink behind
// admission control and a circuit breaker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GreatPyreneseDad/ECNE-sub001/admission"
	"github.com/GreatPyreneseDad/ECNE-sub001/annotate"
	"github.com/GreatPyreneseDad/ECNE-sub001/breaker"
	"github.com/GreatPyreneseDad/ECNE-sub001/coherence"
	"github.com/GreatPyreneseDad/ECNE-sub001/config"
	"github.com/GreatPyreneseDad/ECNE-sub001/event"
	"github.com/GreatPyreneseDad/ECNE-sub001/gate"
	"github.com/GreatPyreneseDad/ECNE-sub001/health"
	"github.com/GreatPyreneseDad/ECNE-sub001/ingest"
	"github.com/GreatPyreneseDad/ECNE-sub001/metric"
	"github.com/GreatPyreneseDad/ECNE-sub001/natsclient"
	"github.com/GreatPyreneseDad/ECNE-sub001/point"
	"github.com/GreatPyreneseDad/ECNE-sub001/river"
	"github.com/GreatPyreneseDad/ECNE-sub001/sink"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "ecne"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := setupLogger(
		firstNonEmpty(cliCfg.LogLevel, cfg.Logging.Level),
		firstNonEmpty(cliCfg.LogFormat, cfg.Logging.Format))
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("Configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	slog.Info("Starting ECNE data river",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"sensitivity", cfg.River.Sensitivity,
		"sink", cfg.Sink.Type)

	ctx := context.Background()
	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}

	return app.runWithSignalHandling(ctx, cliCfg.ShutdownTimeout)
}

// loadConfig layers the optional config file over defaults
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader(slog.Default())
	if path != "" {
		loader.AddLayer(path)
	}
	return loader.Load()
}

// application holds the wired components in start order
type application struct {
	cfg         *config.Config
	logger      *slog.Logger
	natsClient  *natsclient.Client
	adminServer *metric.Server
	bus         *event.Bus
	bridge      *event.NATSBridge
	broadcaster *event.Broadcaster
	riv         *river.River
	batcher     *admission.Batcher[point.DataPoint]
	ingester    *ingest.Ingester
}

// buildApplication wires every component from the configuration
func buildApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	registry := metric.NewRegistry()
	core := registry.CoreMetrics()
	monitor := health.NewMonitor()

	natsClient, err := buildNATSClient(cfg, core, logger)
	if err != nil {
		return nil, err
	}

	slog.Info("Connecting to NATS", "url", cfg.NATS.URL)
	if err := natsClient.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	bus, err := event.NewBus(logger, registry)
	if err != nil {
		return nil, fmt.Errorf("create event bus: %w", err)
	}

	app := &application{
		cfg:         cfg,
		logger:      logger,
		natsClient:  natsClient,
		adminServer: metric.NewServer(cfg.Admin.MetricsPort, cfg.Admin.MetricsPath, registry, monitor),
		bus:         bus,
	}

	if cfg.Events.Enabled {
		app.bridge, err = event.NewNATSBridge(bus, natsClient,
			cfg.Events.SubjectPrefix, cfg.Events.BridgeBuffer, logger)
		if err != nil {
			return nil, fmt.Errorf("create event bridge: %w", err)
		}
	}
	if cfg.Events.WebSocket.Enabled {
		ws := cfg.Events.WebSocket
		app.broadcaster, err = event.NewBroadcaster(bus, ws.Port, ws.Path, ws.Buffer, logger)
		if err != nil {
			return nil, fmt.Errorf("create websocket broadcaster: %w", err)
		}
	}

	pointSink, err := buildSink(ctx, cfg, natsClient, logger)
	if err != nil {
		return nil, err
	}

	app.riv, err = buildRiver(cfg, registry, core, monitor, bus, pointSink, logger)
	if err != nil {
		return nil, err
	}

	// The ingester feeds the river directly, or through the batcher
	// when batching is configured.
	var processor ingest.Processor = app.riv
	if cfg.River.BatchSize > 1 {
		app.batcher, err = admission.NewBatcher(cfg.River.BatchSize, cfg.River.BatchLinger(), 0,
			func(ctx context.Context, batch []point.DataPoint) {
				app.riv.ProcessBatch(ctx, batch)
			})
		if err != nil {
			return nil, fmt.Errorf("create batcher: %w", err)
		}
		processor = &batchSubmitter{batcher: app.batcher}
	}

	app.ingester, err = ingest.New(cfg.Ingest.IngestSettings(),
		natsClient, processor, monitor, registry, logger)
	if err != nil {
		return nil, fmt.Errorf("create ingester: %w", err)
	}

	return app, nil
}

// buildNATSClient translates the NATS section into client options
func buildNATSClient(cfg *config.Config, core *metric.Metrics, logger *slog.Logger) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithClientName(cfg.NATS.Name),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(time.Duration(cfg.NATS.ReconnectWaitMs) * time.Millisecond),
		natsclient.WithConnectTimeout(time.Duration(cfg.NATS.ConnectTimeoutMs) * time.Millisecond),
		natsclient.WithDrainTimeout(time.Duration(cfg.NATS.DrainTimeoutMs) * time.Millisecond),
		natsclient.WithHealthInterval(time.Duration(cfg.NATS.HealthIntervalMs) * time.Millisecond),
		natsclient.WithLogger(logger),
		natsclient.WithStatusRecorder(core),
	}

	client, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}
	return client, nil
}

// buildSink selects the filtered-point destination
func buildSink(ctx context.Context, cfg *config.Config, client *natsclient.Client, logger *slog.Logger) (sink.Sink, error) {
	switch cfg.Sink.Type {
	case "memory":
		return sink.NewMemorySink(cfg.Sink.MemoryCapacity)
	case "jetstream":
		js, err := sink.NewJetStreamSink(cfg.Sink.JetStreamSettings(), client, logger)
		if err != nil {
			return nil, fmt.Errorf("create jetstream sink: %w", err)
		}
		if err := js.EnsureStream(ctx); err != nil {
			return nil, fmt.Errorf("ensure filtered stream: %w", err)
		}
		return js, nil
	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.Sink.Type)
	}
}

// buildRiver assembles the scoring pipeline
func buildRiver(
	cfg *config.Config,
	registry *metric.Registry,
	core *metric.Metrics,
	monitor *health.Monitor,
	bus *event.Bus,
	pointSink sink.Sink,
	logger *slog.Logger,
) (*river.River, error) {
	scorer, err := coherence.NewScorer(cfg.River.Weights)
	if err != nil {
		return nil, fmt.Errorf("create scorer: %w", err)
	}

	filterGate, err := gate.New(cfg.River.Sensitivity, registry)
	if err != nil {
		return nil, fmt.Errorf("create gate: %w", err)
	}

	controller, err := admission.NewController(cfg.River.MaxConcurrent,
		admission.Policy(cfg.River.AdmissionPolicy), cfg.River.QueueWait(), registry)
	if err != nil {
		return nil, fmt.Errorf("create admission controller: %w", err)
	}

	circuit, err := breaker.New(cfg.River.BreakerSettings(),
		breaker.WithMetricsRegistry(registry),
		breaker.WithOnOpen(func(reason string) {
			bus.Publish(event.NewCircuitOpen(reason))
		}))
	if err != nil {
		return nil, fmt.Errorf("create circuit breaker: %w", err)
	}

	annotator, err := buildAnnotator(cfg, logger)
	if err != nil {
		return nil, err
	}

	riv, err := river.New(river.Options{
		Scorer:         scorer,
		Gate:           filterGate,
		Admission:      controller,
		Breaker:        circuit,
		Annotator:      annotator,
		Sink:           pointSink,
		Bus:            bus,
		Metrics:        core,
		Health:         monitor,
		Logger:         logger,
		ProcessTimeout: cfg.River.ProcessTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("create river: %w", err)
	}
	return riv, nil
}

// buildAnnotator assembles the optional enrichment chain
func buildAnnotator(cfg *config.Config, logger *slog.Logger) (annotate.Annotator, error) {
	var stages []annotate.Annotator

	if cfg.River.EnableAnomalyDetection {
		detector, err := annotate.NewAnomalyDetector(100, 20, 3.0)
		if err != nil {
			return nil, fmt.Errorf("create anomaly detector: %w", err)
		}
		stages = append(stages, detector)
	}
	if cfg.River.EnablePrediction {
		predictor, err := annotate.NewPredictor(0.3)
		if err != nil {
			return nil, fmt.Errorf("create predictor: %w", err)
		}
		stages = append(stages, predictor)
	}

	if len(stages) == 0 {
		return nil, nil
	}

	if timeout := cfg.River.AnnotatorTimeout(); timeout > 0 {
		for i, stage := range stages {
			stages[i] = annotate.WithTimeout(stage, timeout, logger)
		}
	}

	return annotate.NewChain(logger, stages...), nil
}

// batchSubmitter adapts the batcher to the ingester's processor shape
type batchSubmitter struct {
	batcher *admission.Batcher[point.DataPoint]
}

func (s *batchSubmitter) ProcessDataPoint(_ context.Context, p point.DataPoint) (*point.FilteredDataPoint, error) {
	if err := s.batcher.Submit(p); err != nil {
		return nil, err
	}
	return nil, nil
}

// runWithSignalHandling starts everything and blocks until a signal or
// a fatal admin-server error.
func (a *application) runWithSignalHandling(ctx context.Context, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		if err := a.adminServer.Start(); err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})

	if err := a.startComponents(groupCtx); err != nil {
		a.stopComponents(shutdownTimeout)
		return err
	}

	slog.Info("ECNE data river running",
		"metrics", a.adminServer.Address(),
		"subject", a.cfg.Ingest.Subject)

	// Closing the admin server unblocks its Start goroutine.
	group.Go(func() error {
		<-groupCtx.Done()
		return a.adminServer.Stop()
	})

	err := group.Wait()
	slog.Info("Shutting down", "cause", contextCause(signalCtx, err))

	a.stopComponents(shutdownTimeout)
	slog.Info("ECNE shutdown complete")
	return err
}

// startComponents brings up the pipeline back to front so nothing
// receives a point before its downstream is ready.
func (a *application) startComponents(ctx context.Context) error {
	if a.bridge != nil {
		if err := a.bridge.Start(ctx); err != nil {
			return fmt.Errorf("start event bridge: %w", err)
		}
	}
	if a.broadcaster != nil {
		if err := a.broadcaster.Start(ctx); err != nil {
			return fmt.Errorf("start websocket broadcaster: %w", err)
		}
	}
	if err := a.riv.Start(ctx); err != nil {
		return fmt.Errorf("start river: %w", err)
	}
	if a.batcher != nil {
		if err := a.batcher.Start(ctx); err != nil {
			return fmt.Errorf("start batcher: %w", err)
		}
	}
	if err := a.ingester.Start(ctx); err != nil {
		return fmt.Errorf("start ingester: %w", err)
	}
	return nil
}

// stopComponents tears down front to back, draining each stage
func (a *application) stopComponents(timeout time.Duration) {
	if err := a.ingester.Stop(timeout); err != nil {
		a.logger.Warn("ingester stop", "error", err)
	}
	if a.batcher != nil {
		if err := a.batcher.Stop(timeout); err != nil {
			a.logger.Warn("batcher stop", "error", err)
		}
	}
	if err := a.riv.Stop(timeout); err != nil {
		a.logger.Warn("river stop", "error", err)
	}
	if a.broadcaster != nil {
		if err := a.broadcaster.Stop(timeout); err != nil {
			a.logger.Warn("broadcaster stop", "error", err)
		}
	}
	if a.bridge != nil {
		if err := a.bridge.Stop(timeout); err != nil {
			a.logger.Warn("bridge stop", "error", err)
		}
	}
	a.bus.Close()

	closeCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.natsClient.Close(closeCtx); err != nil {
		a.logger.Warn("NATS close", "error", err)
	}
	if err := a.adminServer.Stop(); err != nil {
		a.logger.Warn("admin server stop", "error", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func contextCause(ctx context.Context, err error) string {
	if err != nil {
		return err.Error()
	}
	if ctx.Err() != nil {
		return "signal"
	}
	return "stopped"
}
