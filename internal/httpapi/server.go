// Package httpapi exposes the nurse-facing HTTP surface: care-session
// lifecycle, intervention control, calibration clip management, completed
// recording transcription, and the live session WebSocket.
//
// The API is consumed by the bedside dashboard. All responses are JSON except
// calibration clip downloads (raw audio) and /metrics (Prometheus text).
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carescript/carescript/internal/app"
	"github.com/carescript/carescript/internal/config"
	"github.com/carescript/carescript/internal/health"
	"github.com/carescript/carescript/internal/observe"
	"github.com/carescript/carescript/internal/transcript"
	"github.com/carescript/carescript/internal/transcript/phonetic"
	"github.com/carescript/carescript/pkg/provider/transcribe"
	"github.com/carescript/carescript/pkg/store"
)

// shutdownTimeout bounds the drain of in-flight requests when Run's context
// is cancelled.
const shutdownTimeout = 10 * time.Second

// maxRecordingBytes caps completed-recording uploads. A one-hour session at
// 16 kHz mono 16-bit PCM is ~115 MB.
const maxRecordingBytes = 256 << 20

// maxClipBytes caps calibration clip uploads.
const maxClipBytes = 16 << 20

// ServerConfig holds all dependencies for a [Server].
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// TLS enables HTTPS when non-nil.
	TLS *config.TLSConfig

	Sessions     *app.SessionManager
	Patients     store.PatientStore
	Calibrations store.CalibrationStore
	Records      store.SessionStore

	// Transcriber handles completed-recording batch transcription.
	Transcriber transcribe.Provider

	// Language is passed to batch transcription. Empty selects the provider
	// default.
	Language string

	// Checkers are the readiness checks exposed on /readyz.
	Checkers []health.Checker

	// Metrics defaults to observe.DefaultMetrics when nil.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default when nil.
	Logger *slog.Logger
}

// Server is the nurse-facing HTTP server.
type Server struct {
	addr        string
	tls         *config.TLSConfig
	sessions    *app.SessionManager
	patients    store.PatientStore
	calibration store.CalibrationStore
	records     store.SessionStore
	transcriber transcribe.Provider
	language    string
	corrector   *transcript.Corrector
	metrics     *observe.Metrics
	logger      *slog.Logger
	handler     http.Handler
}

// NewServer builds the route table and wraps it in the observability
// middleware.
func NewServer(cfg ServerConfig) *Server {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		addr:        cfg.Addr,
		tls:         cfg.TLS,
		sessions:    cfg.Sessions,
		patients:    cfg.Patients,
		calibration: cfg.Calibrations,
		records:     cfg.Records,
		transcriber: cfg.Transcriber,
		language:    cfg.Language,
		corrector:   transcript.NewCorrector(phonetic.New()),
		metrics:     m,
		logger:      logger,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/sessions", s.handleSessionStart)
	mux.HandleFunc("GET /api/sessions/current", s.handleSessionInfo)
	mux.HandleFunc("DELETE /api/sessions/current", s.handleSessionStop)

	mux.HandleFunc("GET /api/intervention", s.handleInterventionState)
	mux.HandleFunc("POST /api/intervention/trigger", s.handleInterventionTrigger)
	mux.HandleFunc("POST /api/intervention/cancel", s.handleInterventionCancel)

	mux.HandleFunc("GET /api/patients/{id}/calibration", s.handleCalibrationGet)
	mux.HandleFunc("POST /api/patients/{id}/calibration", s.handleCalibrationPut)
	mux.HandleFunc("POST /api/patients/{id}/recordings", s.handleRecording)

	mux.HandleFunc("GET /api/live", s.handleLive)

	health.New(cfg.Checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.handler = observe.Middleware(m)(mux)
	return s
}

// Handler returns the root handler, middleware included. Used by tests with
// httptest.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.addr, "tls", s.tls != nil)
		if s.tls != nil {
			errCh <- srv.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http server shutdown", "err", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// writeJSON serializes v with the given status. Encoding failures are logged,
// not surfaced: the status line is already written.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", "err", err)
	}
}

// writeError emits the standard error envelope.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
