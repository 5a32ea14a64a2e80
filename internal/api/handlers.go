package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"speech-preroll/internal/audio"
	"speech-preroll/internal/auth"
	"speech-preroll/internal/database"
	"speech-preroll/internal/preroll"
)

// EventReader lists stored preroll events. *database.EventStore satisfies it.
type EventReader interface {
	Recent(ctx context.Context, limit int) ([]database.EventRecord, error)
}

type Handlers struct {
	store  *preroll.Store
	events EventReader
	window time.Duration
	maxAge time.Duration
	logger *zap.Logger
}

type Options struct {
	Window time.Duration
	MaxAge time.Duration
	Events EventReader // nil when the database is disabled
	Logger *zap.Logger
}

func New(store *preroll.Store, opts Options) *Handlers {
	if opts.Window <= 0 {
		opts.Window = preroll.DefaultWindow
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = preroll.DefaultMaxAge
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Handlers{
		store:  store,
		events: opts.Events,
		window: opts.Window,
		maxAge: opts.MaxAge,
		logger: opts.Logger,
	}
}

// Register mounts the control API on mux. Everything except /healthz goes
// through auth.Require.
func (h *Handlers) Register(mux *http.ServeMux, verifier *auth.Verifier) {
	mux.HandleFunc("/healthz", Healthz)
	mux.Handle("/api/preroll/status", auth.Require(verifier, http.HandlerFunc(h.Status)))
	mux.Handle("/api/preroll/capture", auth.Require(verifier, http.HandlerFunc(h.Capture)))
	mux.Handle("/api/preroll/arm", auth.Require(verifier, http.HandlerFunc(h.Arm)))
	mux.Handle("/api/preroll/consume", auth.Require(verifier, http.HandlerFunc(h.Consume)))
	mux.Handle("/api/preroll/clear", auth.Require(verifier, http.HandlerFunc(h.Clear)))
	mux.Handle("/api/events", auth.Require(verifier, http.HandlerFunc(h.Events)))
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}

func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendMethodNotAllowed(w)
		return
	}
	writeJSON(w, h.store.Status())
}

func (h *Handlers) Capture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendMethodNotAllowed(w)
		return
	}
	window, ok := durationParam(w, r, "windowMs", h.window)
	if !ok {
		return
	}
	writeJSON(w, h.store.Capture(window))
}

func (h *Handlers) Arm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendMethodNotAllowed(w)
		return
	}
	writeJSON(w, map[string]interface{}{"armed": h.store.Arm()})
}

// Consume answers with the clip as audio/wav, or 204 when nothing is
// deliverable.
func (h *Handlers) Consume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendMethodNotAllowed(w)
		return
	}
	maxAge, ok := durationParam(w, r, "maxAgeMs", h.maxAge)
	if !ok {
		return
	}

	clip, ok := h.store.ConsumeClip(maxAge)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	wav := audio.EncodeWAV(clip.Samples, h.store.SampleRate())
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(wav)))
	w.Header().Set("X-Capture-Id", clip.ID)
	w.Header().Set("X-Captured-At", clip.CapturedAt.UTC().Format(time.RFC3339Nano))
	if _, err := w.Write(wav); err != nil {
		h.logger.Debug("write preroll response failed", zap.Error(err))
	}
}

func (h *Handlers) Clear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendMethodNotAllowed(w)
		return
	}
	h.store.Clear()
	writeJSON(w, map[string]interface{}{"success": true})
}

func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendMethodNotAllowed(w)
		return
	}
	if h.events == nil {
		sendJSONError(w, http.StatusServiceUnavailable, "Event log not configured")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			sendBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.events.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Warn("list preroll events failed", zap.Error(err))
		sendJSONError(w, http.StatusInternalServerError, "Failed to list events")
		return
	}
	writeJSON(w, map[string]interface{}{
		"success": true,
		"events":  records,
	})
}

// durationParam reads a non-negative millisecond query parameter.
func durationParam(w http.ResponseWriter, r *http.Request, name string, fallback time.Duration) (time.Duration, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback, true
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		sendBadRequest(w, name+" must be a non-negative integer")
		return 0, false
	}
	return audio.Millis(n), true
}

// Helper functions for consistent JSON error responses
func sendJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

func sendMethodNotAllowed(w http.ResponseWriter) {
	sendJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func sendBadRequest(w http.ResponseWriter, message string) {
	sendJSONError(w, http.StatusBadRequest, message)
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}
