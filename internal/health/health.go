// Package health serves the liveness and readiness probes for the care
// server.
//
// Liveness (/healthz) answers 200 whenever the process can serve HTTP at
// all. Readiness (/readyz) answers 200 only while every registered probe
// passes; a bedside device should not open a care session against a server
// whose database or speech providers are unreachable, so orchestrators gate
// traffic on this endpoint.
//
// Both endpoints respond with a JSON body: a "status" of "ok" or "fail",
// and for readiness a "checks" map with one entry per probe.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout caps one readiness probe. A hung database ping must not hold
// the readiness endpoint open indefinitely.
const probeTimeout = 5 * time.Second

// Checker is one named readiness probe. Check returns nil while the
// dependency can serve a care session and an error describing the outage
// otherwise.
type Checker struct {
	// Name keys the probe in the JSON response, e.g. "postgres" or
	// "transcription".
	Name string

	// Check probes the dependency. It must honor context cancellation.
	Check func(ctx context.Context) error
}

// report is the response body shape shared by both endpoints.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler answers the probe endpoints. The probe set is fixed at
// construction; safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New builds a Handler over the given probes. Readiness evaluates them in
// order, sequentially.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz answers the liveness probe with 200 unconditionally.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every probe and answers 200 only when all of them pass. A
// failing probe is reported by name with its error text, so an operator can
// tell a database outage from a provider outage without reading logs.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	out := report{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK

	for _, c := range h.checkers {
		if err := h.probe(r.Context(), c); err != nil {
			out.Checks[c.Name] = "fail: " + err.Error()
			out.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			out.Checks[c.Name] = "ok"
		}
	}

	respond(w, status, out)
}

// probe runs one checker under the probe timeout.
func (h *Handler) probe(ctx context.Context, c Checker) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return c.Check(ctx)
}

// Register mounts both probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
