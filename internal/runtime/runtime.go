// Package runtime assembles the bridge daemon: telemetry, bus, engine
// driver, voice catalog, dispatcher and the speech service.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/speechswitch/swbridge/internal/bus"
	"github.com/speechswitch/swbridge/internal/config"
	"github.com/speechswitch/swbridge/internal/dispatch"
	"github.com/speechswitch/swbridge/internal/engine"
	"github.com/speechswitch/swbridge/internal/history"
	"github.com/speechswitch/swbridge/internal/natsserver"
	"github.com/speechswitch/swbridge/internal/queue"
	"github.com/speechswitch/swbridge/internal/service"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
	ready  atomic.Bool
	wg     sync.WaitGroup

	busClient *bus.Client
	svc       *service.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{cfg: cfg, logger: logger}
}

// Start brings the daemon up and blocks until ctx is cancelled. A failed
// voice catalog build (no voices anywhere) is fatal: the bridge cannot
// speak, so it refuses to start.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	defer busClient.Close()
	r.busClient = busClient

	driver, err := r.buildDriver()
	if err != nil {
		return err
	}

	hist, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("open utterance history: %w", err)
	}
	defer hist.Close()

	playback, capture, err := r.buildQueue(busClient)
	if err != nil {
		return err
	}
	if capture != nil {
		defer capture.Close()
	}

	disp, err := dispatch.New(driver, playback, r.cfg.Engines.Default, r.logger)
	if err != nil {
		return fmt.Errorf("initialize dispatcher: %w", err)
	}
	r.applySynthDefaults(disp)

	svc := service.New(ctx, busClient, disp, playback, hist, r.logger)
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start speech service: %w", err)
	}
	r.svc = svc
	defer svc.Close()

	httpServer := r.startHTTP(metricsHandler)
	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", httpServer.Addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
	return nil
}

func (r *Runtime) buildDriver() (engine.Driver, error) {
	switch r.cfg.Engines.Mode {
	case "exec":
		return engine.NewExecDriver(r.cfg.Engines.Directory, r.cfg.Engines.Runner, r.logger)
	case "mock":
		return engine.DefaultMockDriver(), nil
	}
	return nil, fmt.Errorf("unknown engines mode %q", r.cfg.Engines.Mode)
}

func (r *Runtime) buildQueue(busClient *bus.Client) (queue.Queue, *queue.Capture, error) {
	var q queue.Queue = queue.NewNATS(busClient, r.cfg.Queue.Target, r.logger)
	if dir := r.cfg.Queue.CaptureDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create capture dir: %w", err)
		}
		capture := queue.NewCapture(q, dir, r.logger)
		return capture, capture, nil
	}
	return q, nil, nil
}

func (r *Runtime) applySynthDefaults(disp *dispatch.Dispatcher) {
	disp.SetRate(r.cfg.Synth.Rate)
	disp.SetPitch(r.cfg.Synth.Pitch)
	if r.cfg.Synth.Punctuation != "" {
		disp.SetPunctuation(r.cfg.Synth.Punctuation)
	}
	if r.cfg.Synth.Voice != "" {
		disp.SetVoiceName(r.cfg.Synth.Voice)
	}
}

func (r *Runtime) startHTTP(metricsHandler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
	return server
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() && r.svc != nil && r.svc.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
