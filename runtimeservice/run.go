// Package runtimeservice boots the runtime server: configuration, store,
// auth, bus, pipeline and the HTTP/websocket surface, then blocks until
// shutdown.
package runtimeservice

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/liminal-foundation/lre-core/internal/auth"
	"github.com/liminal-foundation/lre-core/internal/bus"
	"github.com/liminal-foundation/lre-core/internal/config"
	"github.com/liminal-foundation/lre-core/internal/execution"
	"github.com/liminal-foundation/lre-core/internal/health"
	"github.com/liminal-foundation/lre-core/internal/logger"
	"github.com/liminal-foundation/lre-core/internal/metrics"
	"github.com/liminal-foundation/lre-core/internal/pipeline"
	"github.com/liminal-foundation/lre-core/internal/presence"
	"github.com/liminal-foundation/lre-core/internal/routing"
	"github.com/liminal-foundation/lre-core/internal/runtime"
	"github.com/liminal-foundation/lre-core/internal/store"
)

// Run starts the runtime server and blocks until shutdown or error.
func Run() error {
	log := logger.New("lre-server")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return err
	}

	// Root context bound to SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.StorePath, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("store unavailable")
		return err
	}
	defer func() { _ = st.Close() }()

	retry := store.NewRetryQueue(st,
		cfg.WriteRetryQueueSize,
		time.Duration(cfg.WriteRetryBaseMillis)*time.Millisecond,
		cfg.WriteRetryMaxAttempts,
		log,
	)
	retry.Start(ctx)

	mgr, err := auth.NewManager(st, auth.Config{
		Secret:           []byte(cfg.SecretKey),
		TokenExpiry:      time.Duration(cfg.TokenExpiryMinutes) * time.Minute,
		BcryptCost:       cfg.BcryptCost,
		LockoutThreshold: cfg.LockoutThreshold,
		LockoutWindow:    time.Duration(cfg.LockoutMinutes) * time.Minute,
	}, log)
	if err != nil {
		return err
	}

	eventBus := bus.New(log, cfg.BusDeliveryBufferSlots)
	defer eventBus.Close()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)
	m.Attach(eventBus)
	metrics.AttachAudit(eventBus, log)

	presenceWindow := time.Duration(cfg.PresenceWindowSeconds) * time.Second
	registry := execution.NewRegistry(log)
	execution.RegisterBuiltins(registry, execution.Builtins{
		Store:          st,
		PresenceWindow: presenceWindow,
		Log:            log,
	})

	hub := runtime.NewHub(log)
	pipe := pipeline.New(pipeline.Deps{
		Presence: runtime.HubPresence{
			Hub:   hub,
			Store: presence.NewStoreChecker(st, presenceWindow),
		},
		Router:      routing.NewTable(nil),
		Executor:    registry,
		Bus:         eventBus,
		ExecTimeout: time.Duration(cfg.ExecTimeoutSeconds) * time.Second,
		Log:         log,
	})

	rt := runtime.New(runtime.Deps{
		Config:   cfg,
		Store:    st,
		Retry:    retry,
		Auth:     mgr,
		Pipeline: pipe,
		Registry: registry,
		Metrics:  m,
		Hub:      hub,
		Log:      log,
	})

	storeChecker := health.NewChecker("store", health.PingerFunc(st.HealthCheck), 5*time.Second, log)
	go storeChecker.Start(ctx, 30*time.Second)
	svcHealth := health.NewService(storeChecker)

	router := buildRouter(rt, svcHealth, promReg, log)
	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server")
	case <-rt.ShutdownRequested():
		log.Warn().Msg("emergency shutdown accepted, stopping server")
	case err := <-errCh:
		log.Error().Stack().Err(err).Msg("HTTP server failed")
		return err
	}

	rt.TriggerShutdown("server stopping")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error().Stack().Err(err).Msg("server forced to shutdown")
		return err
	}
	retry.Wait()
	log.Info().Msg("server exited")
	return nil
}

// buildRouter wires the HTTP surface: websocket upgrade, health probe
// and prometheus metrics.
func buildRouter(rt *runtime.Runtime, svcHealth *health.Service, promReg *prometheus.Registry, log zerolog.Logger) *mux.Router {
	root := mux.NewRouter()

	root.HandleFunc("/ws", rt.ServeWS).Methods("GET")
	root.HandleFunc("/api/health", healthHandler(svcHealth, rt)).Methods("GET")
	root.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})).Methods("GET")

	root.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debug().Str("path", r.URL.Path).Msg("route not found")
		http.NotFound(w, r)
	})
	return root
}

func healthHandler(svcHealth *health.Service, rt *runtime.Runtime) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		code := http.StatusOK
		if !svcHealth.IsHealthy() {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      status,
			"components":  svcHealth.Components(),
			"connections": rt.Hub().Count(),
		})
	}
}

// newHTTPServer deliberately sets no read/write timeouts: websocket
// sessions are long-lived and outlive per-request deadlines.
func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()
	return errCh
}
