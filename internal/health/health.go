// Package health serves the liveness and readiness probes of the assistant's
// local observability listener.
//
//   - /healthz — liveness; a process that can answer HTTP is alive.
//   - /readyz  — readiness; passes only while the pipeline could serve a
//     turn, i.e. every registered [Checker] (one per provider stage plus the
//     audio device) reports healthy.
//
// Responses are JSON: a top-level "status" of "ok" or "fail" and, for
// readiness, a per-check breakdown under "checks".
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Checker is one named readiness condition.
type Checker struct {
	// Name keys the check in the JSON response ("stt", "audio_device", ...).
	Name string

	// Check reports nil while the dependency is healthy. It must respect
	// context cancellation.
	Check func(ctx context.Context) error
}

// checkState is the per-check entry in a readiness response.
type checkState struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// report is the response body of both endpoints.
type report struct {
	Status string                `json:"status"`
	Checks map[string]checkState `json:"checks,omitempty"`
}

// Handler answers the probe endpoints. The checker list is fixed at
// construction, which is what makes it safe for concurrent use.
type Handler struct {
	timeout  time.Duration
	checkers []Checker
}

// New builds a Handler over the given checkers. Checks run sequentially per
// /readyz request, each bounded by a 5s deadline.
func New(checkers ...Checker) *Handler {
	return &Handler{
		timeout:  5 * time.Second,
		checkers: append([]Checker(nil), checkers...),
	}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz evaluates every checker and answers 200 only if all pass; any
// failure yields 503 with the failing checks named in the body.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := report{
		Status: "ok",
		Checks: make(map[string]checkState, len(h.checkers)),
	}
	status := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			res.Checks[c.Name] = checkState{Status: "fail", Error: err.Error()}
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			res.Checks[c.Name] = checkState{Status: "ok"}
		}
	}

	writeJSON(w, status, res)
}

// Register mounts both endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
