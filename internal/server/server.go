// Package server exposes the coordinator over HTTP.
//
// Routes:
//
//	POST   /api/transcriptions     body is the recording; answers 202 {job_id}
//	POST   /api/translations       {tgt_lang, src_lang?, text?}; answers {accepted}
//	POST   /api/reset
//	GET    /api/state              coordinator snapshot
//	GET    /api/transcript         export (?format=txt|srt|vtt&source=transcription|translation&id=)
//	GET    /api/archive            stored transcripts, newest first (?limit=)
//	GET    /api/archive/{id}
//	DELETE /api/archive/{id}
//	GET    /ws                     live updates as JSON text frames
//
// Health checks and /metrics are mounted when configured.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/purescribe/internal/coordinator"
	"github.com/MrWong99/purescribe/internal/export"
	"github.com/MrWong99/purescribe/internal/health"
	"github.com/MrWong99/purescribe/internal/observe"
	"github.com/MrWong99/purescribe/internal/protocol"
	"github.com/MrWong99/purescribe/internal/store"
)

const (
	defaultMaxUpload = 512 << 20
	maxJSONBody      = 1 << 20
)

// Coordinator is the part of [coordinator.Coordinator] the server drives.
type Coordinator interface {
	SubmitTranscription(ctx context.Context, req protocol.InferenceRequest) (string, error)
	SubmitTranslation(ctx context.Context, req protocol.TranslationRequest) (bool, error)
	Reset(ctx context.Context) error
	Snapshot(ctx context.Context) (coordinator.Snapshot, error)
	SubscribeWithSnapshot(ctx context.Context) (*coordinator.Subscription, coordinator.Snapshot, error)
}

var _ Coordinator = (*coordinator.Coordinator)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithStore enables the archive routes and exports of archived transcripts.
func WithStore(s store.Store) Option {
	return func(srv *Server) { srv.store = s }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(srv *Server) { srv.health = h }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(srv *Server) { srv.metricsHandler = h }
}

// WithMetrics records HTTP request metrics in m.
func WithMetrics(m *observe.Metrics) Option {
	return func(srv *Server) { srv.metrics = m }
}

// WithMaxUpload limits the size of uploaded recordings in bytes.
func WithMaxUpload(n int64) Option {
	return func(srv *Server) { srv.maxUpload = n }
}

// WithAllowedOrigins sets the host patterns accepted for cross-origin
// WebSocket connections.
func WithAllowedOrigins(patterns ...string) Option {
	return func(srv *Server) { srv.origins = patterns }
}

// WithClock overrides the time source used for export file names.
func WithClock(now func() time.Time) Option {
	return func(srv *Server) { srv.now = now }
}

// Server serves the HTTP API.
type Server struct {
	coord          Coordinator
	store          store.Store
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
	maxUpload      int64
	origins        []string
	now            func() time.Time
}

// New returns a Server backed by coord.
func New(coord Coordinator, opts ...Option) *Server {
	s := &Server{
		coord:     coord,
		maxUpload: defaultMaxUpload,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed and instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/transcriptions", s.handleTranscribe)
	mux.HandleFunc("POST /api/translations", s.handleTranslate)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/transcript", s.handleTranscript)
	mux.HandleFunc("GET /api/archive", s.handleArchiveList)
	mux.HandleFunc("GET /api/archive/{id}", s.handleArchiveGet)
	mux.HandleFunc("DELETE /api/archive/{id}", s.handleArchiveDelete)
	mux.HandleFunc("GET /ws", s.handleWS)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return observe.Middleware(s.metrics)(mux)
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "recording exceeds upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty recording")
		return
	}

	id, err := s.coord.SubmitTranscription(r.Context(), protocol.InferenceRequest{
		Audio:       body,
		ContentType: r.Header.Get("Content-Type"),
	})
	if err != nil {
		s.coordError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req protocol.TranslationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	accepted, err := s.coord.SubmitTranslation(r.Context(), req)
	if err != nil {
		s.coordError(w, r, err)
		return
	}
	status := http.StatusOK
	if accepted {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]bool{"accepted": accepted})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Reset(r.Context()); err != nil {
		s.coordError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.coord.Snapshot(r.Context())
	if err != nil {
		s.coordError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleTranscript renders the current transcript, or the archived one named
// by ?id=, as a download.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format, err := export.ParseFormat(q.Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, ok := s.loadTranscript(w, r, q.Get("id"))
	if !ok {
		return
	}

	var render func(io.Writer) error
	switch source := q.Get("source"); source {
	case "", "transcription":
		render = func(out io.Writer) error { return export.Write(out, format, t.Segments) }
	case "translation":
		if format.Timed() {
			writeError(w, http.StatusBadRequest, "translations carry no timestamps; use format=txt")
			return
		}
		if t.Translation == "" {
			writeError(w, http.StatusNotFound, "no translation available")
			return
		}
		render = func(out io.Writer) error {
			_, err := io.WriteString(out, t.Translation)
			return err
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown source %q", source))
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(format, s.now())))
	if err := render(w); err != nil {
		observe.Logger(r.Context()).Warn("server: write export", "err", err)
	}
}

// loadTranscript resolves id against the archive, or the live coordinator
// state when id is empty. It writes the error response itself.
func (s *Server) loadTranscript(w http.ResponseWriter, r *http.Request, id string) (*store.Transcript, bool) {
	if id != "" {
		if s.store == nil {
			writeError(w, http.StatusNotFound, "archive disabled")
			return nil, false
		}
		t, err := s.store.Get(r.Context(), id)
		if err != nil {
			observe.Logger(r.Context()).Error("server: load transcript", "id", id, "err", err)
			writeError(w, http.StatusInternalServerError, "load transcript")
			return nil, false
		}
		if t == nil {
			writeError(w, http.StatusNotFound, "transcript not found")
			return nil, false
		}
		return t, true
	}

	snap, err := s.coord.Snapshot(r.Context())
	if err != nil {
		s.coordError(w, r, err)
		return nil, false
	}
	t := &store.Transcript{ID: snap.Transcription.ID, Segments: snap.Transcription.Segments}
	if snap.Translation.Status == coordinator.TranslationComplete && snap.Translation.JobID == t.ID {
		t.SourceLang = snap.Translation.SourceLanguage
		t.TargetLang = snap.Translation.TargetLanguage
		t.Translation = snap.Translation.FinalText
	}
	return t, true
}

func (s *Server) handleArchiveList(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "archive disabled")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	list, err := s.store.List(r.Context(), limit)
	if err != nil {
		observe.Logger(r.Context()).Error("server: list archive", "err", err)
		writeError(w, http.StatusInternalServerError, "list archive")
		return
	}
	if list == nil {
		list = []store.Transcript{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleArchiveGet(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTranscript(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleArchiveDelete(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "archive disabled")
		return
	}
	if err := s.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		observe.Logger(r.Context()).Error("server: delete transcript", "err", err)
		writeError(w, http.StatusInternalServerError, "delete transcript")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) coordError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, coordinator.ErrClosed) {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.Debug("server: request abandoned", "path", r.URL.Path, "err", err)
		return
	}
	observe.Logger(r.Context()).Error("server: coordinator", "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
