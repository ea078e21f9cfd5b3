package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"duoplay/server/internal/admin"
	"duoplay/server/internal/config"
	"duoplay/server/internal/control"
	"duoplay/server/internal/game"
	"duoplay/server/internal/journal"
	"duoplay/server/internal/logging"
	"duoplay/server/internal/lowlatency"
	"duoplay/server/internal/orchestrator"
	"duoplay/server/internal/registry"
	"duoplay/server/internal/timeref"
)

// Server assembles every subsystem and owns their lifecycles.
type Server struct {
	cfg *config.Config
	log *logging.Logger

	registry     *registry.Registry
	orchestrator *orchestrator.Orchestrator
	lowLatency   *lowlatency.Handler
	journal      *journal.Journal

	controlServer *http.Server
	adminServer   *http.Server
}

// NewServer wires the subsystems together in dependency order.
func NewServer(cfg *config.Config, log *logging.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("nil configuration")
	}
	if log == nil {
		log = logging.L()
	}

	//1.- The journal is optional; an empty directory disables recording.
	runName := fmt.Sprintf("run-%s", time.Now().UTC().Format("20060102-150405"))
	jrnl, manifest, err := journal.New(cfg.JournalDir, runName, time.Now)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if jrnl != nil {
		log.Info("journal opened", logging.String("events", manifest.EventsPath))
	}

	reg := registry.New(cfg.LivenessTimeout)
	epochs := timeref.New(cfg.TimeRefURL, cfg.TimeRefTimeout, log)
	orch := orchestrator.New(log, reg, game.NewFactory(), epochs, orchestrator.WithJournal(jrnl))

	binder := lowlatency.NewBinder()
	low := lowlatency.NewHandler(lowlatency.Options{
		Logger:   log,
		Registry: reg,
		Binder:   binder,
		Sink:     orch,
	})
	//2.- Sessions relay actions back out through the same UDP socket.
	orch.SetSender(low)
	orch.SetRevoker(binder)

	controlHandler := control.NewHandler(control.Options{
		Logger:       log,
		Registry:     reg,
		Coordinator:  orch,
		Codes:        binder,
		PingInterval: cfg.PingInterval,
		MaxPayload:   cfg.MaxPayloadBytes,
	})
	controlMux := http.NewServeMux()
	controlMux.Handle("/ws", controlHandler)

	adminRouter := admin.NewHandlerSet(admin.Options{
		Logger:      log,
		Coordinator: orch,
		AdminToken:  cfg.AdminToken,
		RateLimiter: admin.NewMutationLimiter(time.Minute, 30, nil),
	}).Router()

	return &Server{
		cfg:          cfg,
		log:          log,
		registry:     reg,
		orchestrator: orch,
		lowLatency:   low,
		journal:      jrnl,
		controlServer: &http.Server{
			Addr:              cfg.ControlAddr,
			Handler:           controlMux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		adminServer: &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           adminRouter,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves until the context is cancelled, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)

	//1.- The UDP socket binds first so the address is live before any client
	// receives a binding code.
	udpAddr, err := net.ResolveUDPAddr("udp", s.cfg.LowLatencyAddr)
	if err != nil {
		return fmt.Errorf("resolve low-latency address: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen low-latency: %w", err)
	}
	go func() {
		s.log.Info("low-latency channel listening", logging.String("addr", s.cfg.LowLatencyAddr))
		if err := s.lowLatency.Serve(ctx, udpConn); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("low-latency serve: %w", err)
		}
	}()

	go func() {
		s.log.Info("control channel listening", logging.String("addr", s.cfg.ControlAddr))
		if err := s.controlServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("control serve: %w", err)
		}
	}()

	go func() {
		s.log.Info("admin api listening", logging.String("addr", s.cfg.AdminAddr))
		if err := s.adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin serve: %w", err)
		}
	}()

	//2.- The liveness sweep evicts silent clients on a fixed cadence.
	go func() {
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.orchestrator.Sweep()
			}
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := s.controlServer.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("control shutdown", logging.Error(err))
	}
	if err := s.adminServer.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("admin shutdown", logging.Error(err))
	}
	if err := s.journal.Close(); err != nil {
		s.log.Warn("journal close", logging.Error(err))
	}
	return runErr
}
