// Package health serves the liveness and readiness endpoints.
//
//   - /healthz answers 200 while the process can serve HTTP.
//   - /readyz runs every registered [Checker] concurrently and answers 200
//     only when all required checks pass.
//
// Engines load lazily on first use, so an unloaded engine is reported under
// "engines" but never fails readiness.
package health

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker checks one dependency.
type Checker struct {
	// Name labels the result in the "checks" map (e.g. "store").
	Name string

	// Check returns nil when the dependency is healthy. It must respect ctx.
	Check func(ctx context.Context) error

	// Advisory checks are reported but do not fail readiness.
	Advisory bool
}

type result struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks,omitempty"`
	Engines map[string]bool   `json:"engines,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
	engines  func() map[string]bool
}

// Option configures a [Handler].
type Option func(*Handler)

// WithEngines reports the load state of each engine on /readyz.
func WithEngines(fn func() map[string]bool) Option {
	return func(h *Handler) { h.engines = fn }
}

// New creates a [Handler] evaluating checkers on each /readyz request.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{checkers: append([]Checker(nil), checkers...)}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz always answers 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz answers 200 when every required checker passes within
// [checkTimeout], and 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]string, len(h.checkers))
		ready  = true
	)
	for _, c := range h.checkers {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				checks[c.Name] = "ok"
			case c.Advisory:
				checks[c.Name] = "warn: " + err.Error()
			default:
				checks[c.Name] = "fail: " + err.Error()
				ready = false
			}
		})
	}
	wg.Wait()

	res := result{Status: "ok", Checks: checks}
	if h.engines != nil {
		res.Engines = maps.Clone(h.engines())
	}
	status := http.StatusOK
	if !ready {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
