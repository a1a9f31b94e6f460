// Package supervisor drives the top-level run loop: build the
// interface monitor and server manager for a Config, run until a
// terminate or reload signal (or a fatal error) arrives, and stop
// everything gracefully. Grounded on Runner in the teacher's
// internal/server/runner.go, generalized from one DNS listener to the
// WS-Discovery server manager.
package supervisor

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wsdd-go/wsdd/internal/config"
	"github.com/wsdd-go/wsdd/internal/ifmon"
	"github.com/wsdd-go/wsdd/internal/wsd"
)

// Supervisor owns one run of the daemon against one Config snapshot. A
// reload builds a fresh Supervisor over a freshly loaded Config rather
// than mutating this one, matching Config's "pointer replaced, never
// mutated in place" invariant.
type Supervisor struct {
	Logger *slog.Logger

	// StopTimeout bounds how long graceful shutdown (Bye broadcast,
	// socket close, goroutine join) is allowed to take.
	StopTimeout time.Duration
}

// New returns a Supervisor with the default stop timeout.
func New(logger *slog.Logger) *Supervisor {
	return &Supervisor{Logger: logger, StopTimeout: 2 * time.Second}
}

func (s *Supervisor) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Run builds the interface monitor and server manager for cfg and
// blocks until SIGINT/SIGTERM (reload=false, err=nil), SIGHUP
// (reload=true, err=nil), or the monitor reports a fatal error
// (err!=nil). Either way, every running WSD server has been asked to
// stop gracefully before Run returns.
func (s *Supervisor) Run(parent context.Context, cfg *config.Config) (reload bool, err error) {
	termCtx, stopTerm := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stopTerm()

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	defer signal.Stop(hupCh)

	ctx, cancel := context.WithCancel(termCtx)
	defer cancel()

	filter := ifmon.Filter{
		Whitelist:  cfg.InterfaceWhitelist,
		EnableIPv4: cfg.EnableIPv4,
		EnableIPv6: cfg.EnableIPv6,
	}
	monitor := ifmon.NewMonitor(filter)
	manager := wsd.NewServerManager(s.Logger, cfg, monitor)
	manager.StopTimeout = s.StopTimeout

	s.log().Info("supervisor starting", "ipv4", cfg.EnableIPv4, "ipv6", cfg.EnableIPv6, "endpoint", cfg.EndpointURN)

	managerDone := make(chan error, 1)
	go func() { managerDone <- manager.Run(ctx) }()

	select {
	case <-hupCh:
		s.log().Info("received SIGHUP, reloading")
		cancel()
		<-managerDone
		return true, nil

	case <-termCtx.Done():
		s.log().Info("received termination signal, shutting down")
		cancel()
		<-managerDone
		return false, nil

	case mgrErr := <-managerDone:
		if mgrErr != nil && mgrErr != context.Canceled {
			s.log().Error("server manager exited with an error", "error", mgrErr)
			return false, mgrErr
		}
		return false, nil
	}
}
