// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/nohassle/hdmi-matrix-bridge/bridge"
	"github.com/nohassle/hdmi-matrix-bridge/config"
	"github.com/nohassle/hdmi-matrix-bridge/discovery"
	"github.com/nohassle/hdmi-matrix-bridge/matrix"
	"github.com/nohassle/hdmi-matrix-bridge/pkg/interfaces"
	"github.com/nohassle/hdmi-matrix-bridge/pkg/logger"
	"github.com/nohassle/hdmi-matrix-bridge/router"
	"github.com/nohassle/hdmi-matrix-bridge/storage"
)

const (
	signalChannelSize = 1
	recordTimeout     = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
	flushTimeout      = 10 * time.Second
)

// App wires the matrix client, router, poller, MQTT bridge and event
// recorder together and manages their lifecycle.
type App struct {
	cfg           *config.Config
	metricsPort   string
	server        *http.Server
	client        *matrix.Client
	router        *router.Router
	poller        *router.Poller
	mqttBridge    *bridge.Bridge
	recorder      interfaces.EventRecorder
	configWatcher *config.Watcher
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// New creates the application. When matrix.host is empty and discovery is
// enabled the matrix address is resolved via mDNS before anything connects.
func New(cfg *config.Config, metricsPort string, configWatcher *config.Watcher) (*App, error) {
	app := &App{
		cfg:           cfg,
		metricsPort:   metricsPort,
		configWatcher: configWatcher,
	}

	host := cfg.Matrix.Host
	if host == "" && cfg.Discovery.Enabled {
		var err error
		host, err = app.discoverHost()
		if err != nil {
			return nil, fmt.Errorf("failed to discover matrix: %w", err)
		}
	}
	if host == "" {
		return nil, fmt.Errorf("no matrix host configured and discovery disabled")
	}

	app.client = matrix.NewClient(host, cfg.Matrix.Timeout)
	table := router.NewTable(&cfg.Matrix)
	app.router = router.New(table, app.client, cfg.Matrix.EventsChannelSize, cfg.Matrix.AvailabilityThreshold)
	app.poller = router.NewPoller(app.router, cfg.Matrix.PollInterval)

	if err := app.initializeRecorder(); err != nil {
		return nil, err
	}

	if cfg.MQTT.Enabled() {
		b, err := bridge.New(app.router, host, bridge.Config{
			Broker:          cfg.MQTT.Broker,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			ClientID:        cfg.MQTT.ClientID,
			TopicPrefix:     cfg.MQTT.TopicPrefix,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect MQTT bridge: %w", err)
		}
		app.mqttBridge = b
	} else {
		logger.Info().Msg("MQTT bridge disabled (no broker configured)")
	}

	app.server = app.buildMetricsServer()

	return app, nil
}

// discoverHost resolves the matrix address via mDNS.
func (a *App) discoverHost() (string, error) {
	scanner := discovery.NewScanner(a.cfg.Discovery.ServiceType, a.cfg.Discovery.Domain, a.cfg.Discovery.Match)

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Discovery.Timeout)
	defer cancel()

	host, err := scanner.DiscoverHost(ctx, a.cfg.Discovery.Timeout)
	if err != nil {
		return "", err
	}
	logger.Info().Str("host", host).Msg("Matrix located via mDNS")
	return host, nil
}

// initializeRecorder sets up the InfluxDB event recorder with its spool, when
// configured.
func (a *App) initializeRecorder() error {
	if !a.cfg.InfluxDB.Enabled() {
		logger.Info().Msg("Event recording disabled (no InfluxDB URL configured)")
		return nil
	}

	influx, err := storage.NewInfluxRecorder(
		a.cfg.InfluxDB.URL,
		a.cfg.InfluxDB.Token,
		a.cfg.InfluxDB.Organization,
		a.cfg.InfluxDB.Bucket,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize InfluxDB: %w", err)
	}

	spool, err := storage.NewSpool(a.cfg.InfluxDB.SpoolDir, a.cfg.InfluxDB.SpoolMaxSize, a.cfg.InfluxDB.SpoolMaxAge)
	if err != nil {
		influx.Close()
		return fmt.Errorf("failed to initialize event spool: %w", err)
	}
	logger.Info().Str("directory", a.cfg.InfluxDB.SpoolDir).
		Int64("max_size_mb", a.cfg.InfluxDB.SpoolMaxSize/(1024*1024)).
		Msg("Event spool initialized")

	a.recorder = storage.NewSpoolingRecorder(influx, spool)
	return nil
}

// buildMetricsServer sets up the localhost-only metrics and health server.
func (a *App) buildMetricsServer() *http.Server {
	healthLimiter := rate.NewLimiter(10, 20)
	readyLimiter := rate.NewLimiter(10, 20)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", rateLimitMiddleware(healthLimiter, healthCheckHandler))
	mux.HandleFunc("/ready", rateLimitMiddleware(readyLimiter, func(w http.ResponseWriter, r *http.Request) {
		readinessCheckHandler(w, r, a.router)
	}))

	return &http.Server{
		Addr:    "localhost:" + a.metricsPort,
		Handler: mux,
	}
}

// Run starts the application and blocks until shutdown.
func (a *App) Run(configChan <-chan *config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	a.ctx = ctx
	a.cancel = cancel
	defer a.cancel()

	a.configWatcher.Start(ctx)
	defer a.configWatcher.Stop()

	a.startMetricsServer()
	a.setupSignalHandler()
	a.startConfigWatcher(configChan)
	a.startEventDispatcher(ctx)
	a.poller.Start(ctx)

	<-ctx.Done()
	logger.Info().Msg("Shutting down")
	a.performCleanup()
}

// startMetricsServer starts the HTTP server for metrics and health checks
func (a *App) startMetricsServer() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info().Str("addr", a.server.Addr).Msg("Starting metrics and health check server (localhost only)")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// startEventDispatcher starts the goroutine that fans confirmed state changes
// out to the MQTT bridge and the event recorder.
func (a *App) startEventDispatcher(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				logger.Info().Msg("Event dispatcher shutting down")
				return
			case event, ok := <-a.router.Events():
				if !ok {
					logger.Info().Msg("Events channel closed, event dispatcher exiting")
					return
				}
				a.dispatchEvent(event)
			}
		}
	}()
}

func (a *App) dispatchEvent(event *interfaces.RouteEvent) {
	if a.mqttBridge != nil {
		a.mqttBridge.HandleEvent(event)
	}
	if a.recorder != nil {
		recordCtx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := a.recorder.WriteEvent(recordCtx, event); err != nil {
			logger.Error().Err(err).Str("type", string(event.Type)).
				Msg("Failed to record event")
		}
		cancel()
	}
}

// setupSignalHandler sets up graceful shutdown on interrupt signals
func (a *App) setupSignalHandler() {
	sigChan := make(chan os.Signal, signalChannelSize)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		a.performGracefulShutdown()
	}()
}

// DumpApplicationState dumps current application state to logs
func (a *App) DumpApplicationState() {
	logger.Info().Msg("=== APPLICATION STATE DUMP (SIGUSR1) ===")

	state := a.router.State()
	logger.Info().
		Str("power", state.Power.String()).
		Bool("available", state.Available).
		Time("updated_at", state.UpdatedAt).
		Str("matrix", a.client.Addr()).
		Msg("Matrix state")

	for _, zone := range state.Zones {
		logger.Info().
			Int("zone_id", zone.ZoneID).
			Str("zone", zone.ZoneName).
			Int("source_id", zone.SourceID).
			Str("source", zone.SourceName).
			Msg("Zone routing")
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	logger.Info().
		Uint64("alloc_mb", m.Alloc/1024/1024).
		Uint64("total_alloc_mb", m.TotalAlloc/1024/1024).
		Uint32("num_gc", m.NumGC).
		Int("num_goroutines", runtime.NumGoroutine()).
		Msg("Runtime statistics")

	logger.Info().Msg("=== END STATE DUMP ===")
}

// DumpGoroutineStackTraces dumps all goroutine stack traces to logs
func DumpGoroutineStackTraces() {
	logger.Info().Msg("=== GOROUTINE STACK TRACES (SIGUSR2) ===")
	logger.Info().Int("num_goroutines", runtime.NumGoroutine()).Msg("Current goroutine count")

	buf := make([]byte, 1024*1024) // 1MB buffer
	stackLen := runtime.Stack(buf, true)
	logger.Info().Str("stack_traces", string(buf[:stackLen])).Msg("Full stack trace")

	logger.Info().Msg("=== END STACK TRACES ===")
}

// performGracefulShutdown handles graceful shutdown of all components
func (a *App) performGracefulShutdown() {
	logger.Info().Msg("Initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server stopped")
	}

	a.poller.Stop()
	a.configWatcher.Stop()
	a.cancel()
}

// performCleanup flushes the recorder and waits for goroutines to finish
func (a *App) performCleanup() {
	a.router.Close()

	if a.mqttBridge != nil {
		a.mqttBridge.Stop()
	}

	if a.recorder != nil {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), flushTimeout)
		flushDone := make(chan struct{})
		go func() {
			a.recorder.Flush()
			a.recorder.Close()
			close(flushDone)
		}()

		select {
		case <-flushDone:
			logger.Info().Msg("Event recorder flushed and closed")
		case <-flushCtx.Done():
			logger.Warn().Msg("Event recorder flush timeout - some data may be lost")
		}
		flushCancel()
	}

	logger.Info().Msg("Waiting for goroutines to finish...")
	a.wg.Wait()
	logger.Info().Msg("All goroutines finished, exiting")
}

// UpdateConfig applies a reloaded configuration. Only dynamic settings are
// reapplied; the matrix host and the zone/source tables are fixed at startup.
func (a *App) UpdateConfig(newCfg *config.Config) {
	a.cfg = newCfg
	logger.Info().Msg("Application configuration updated")

	logger.SetLevel(newCfg.Logging.Level)
	a.poller.UpdateInterval(newCfg.Matrix.PollInterval)
	logger.Info().Dur("new_poll_interval", newCfg.Matrix.PollInterval).Msg("Poll interval updated")
}

// startConfigWatcher starts a goroutine to listen for config file changes and reloads
func (a *App) startConfigWatcher(configChan <-chan *config.Config) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-a.ctx.Done():
				logger.Info().Msg("Config watcher goroutine shutting down")
				return
			case newCfg := <-configChan:
				a.UpdateConfig(newCfg)
			}
		}
	}()
}

// rateLimitMiddleware wraps an HTTP handler with rate limiting
func rateLimitMiddleware(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			logger.Warn().
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Msg("Rate limit exceeded for health endpoint")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// healthCheckHandler handles health check requests
func healthCheckHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("OK")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write health check response")
	}
}

// readinessCheckHandler reports ready while the matrix is reachable.
func readinessCheckHandler(w http.ResponseWriter, _ *http.Request, r interfaces.ZoneRouter) {
	if !r.State().Available {
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, writeErr := w.Write([]byte("NOT READY: matrix unreachable")); writeErr != nil {
			logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("READY")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
	}
}
