// Package app wires all CareScript subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run blocks until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithPatientStore, WithSessionStore, etc.). When an option is not provided,
// New creates the PostgreSQL implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carescript/carescript/internal/config"
	"github.com/carescript/carescript/internal/health"
	"github.com/carescript/carescript/internal/observe"
	"github.com/carescript/carescript/pkg/store"
	"github.com/carescript/carescript/pkg/store/postgres"
)

// sessionStopTimeout bounds the transcript persistence during shutdown.
const sessionStopTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	patients     store.PatientStore
	calibrations store.CalibrationStore
	sessions     store.SessionStore
	sessionMgr   *SessionManager
	checkers     []health.Checker

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithPatientStore injects a patient store instead of creating one from config.
func WithPatientStore(s store.PatientStore) Option {
	return func(a *App) { a.patients = s }
}

// WithCalibrationStore injects a calibration store instead of creating one
// from config.
func WithCalibrationStore(s store.CalibrationStore) Option {
	return func(a *App) { a.calibrations = s }
}

// WithSessionStore injects a session store instead of creating one from config.
func WithSessionStore(s store.SessionStore) Option {
	return func(a *App) { a.sessions = s }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStores(ctx); err != nil {
		return nil, fmt.Errorf("app: init stores: %w", err)
	}

	a.sessionMgr = NewSessionManager(SessionManagerConfig{
		Config:    cfg,
		Providers: providers,
		Patients:  a.patients,
		Sessions:  a.sessions,
	})

	return a, nil
}

// initStores sets up the PostgreSQL stores or uses injected mocks.
func (a *App) initStores(ctx context.Context) error {
	if a.patients != nil && a.calibrations != nil && a.sessions != nil {
		return nil // all injected
	}

	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		return fmt.Errorf("store.postgres_dsn is required when stores are not injected")
	}

	st, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}

	if a.patients == nil {
		a.patients = st
	}
	if a.calibrations == nil {
		a.calibrations = st
	}
	if a.sessions == nil {
		a.sessions = st
	}

	a.checkers = append(a.checkers, health.Checker{Name: "postgres", Check: st.Ping})
	a.closers = append(a.closers, func() error {
		st.Close()
		return nil
	})
	return nil
}

// Sessions returns the care-session manager.
func (a *App) Sessions() *SessionManager { return a.sessionMgr }

// PatientStore returns the configured patient store.
func (a *App) PatientStore() store.PatientStore { return a.patients }

// CalibrationStore returns the configured calibration store.
func (a *App) CalibrationStore() store.CalibrationStore { return a.calibrations }

// SessionStore returns the configured session store.
func (a *App) SessionStore() store.SessionStore { return a.sessions }

// HealthCheckers returns the readiness checks for the configured backends.
func (a *App) HealthCheckers() []health.Checker { return a.checkers }

// Metrics returns the process-wide metrics instruments.
func (a *App) Metrics() *observe.Metrics { return observe.DefaultMetrics() }

// Run blocks until ctx is cancelled, then stops any active care session.
// The HTTP surface runs separately (see internal/httpapi); Run only keeps the
// application alive and guarantees an orderly session teardown.
func (a *App) Run(ctx context.Context) error {
	slog.Info("app running")
	<-ctx.Done()

	if a.sessionMgr.IsActive() {
		stopCtx, cancel := context.WithTimeout(context.Background(), sessionStopTimeout)
		defer cancel()
		if err := a.sessionMgr.Stop(stopCtx); err != nil {
			slog.Warn("stop session on shutdown", "err", err)
		}
	}

	return ctx.Err()
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.sessionMgr.IsActive() {
			if err := a.sessionMgr.Stop(ctx); err != nil {
				slog.Warn("stop session on shutdown", "err", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
