// Package api provides the read-mostly HTTP status surface of the chat client.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/tbchat-client/internal/dispatch"
	"github.com/ashureev/tbchat-client/internal/domain"
	"github.com/ashureev/tbchat-client/internal/state"
	"github.com/go-chi/chi/v5"
)

// ChatClient is the part of the client the status API reads from.
type ChatClient interface {
	State() domain.ConnectionState
	Snapshot() state.Snapshot
	Restoring() bool
	Stats() dispatch.Stats
	Pending() int
	Reconnect(ctx context.Context) error
}

// Handler serves connection and mirror status.
type Handler struct {
	client           ChatClient
	reconnectTimeout time.Duration
	logger           *slog.Logger
}

// NewHandler creates a new Handler over the given client.
func NewHandler(client ChatClient, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		client:           client,
		reconnectTimeout: 15 * time.Second,
		logger:           logger,
	}
}

// RegisterRoutes registers the status routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/state", h.GetState)
	r.Get("/connection", h.GetConnection)
	r.Post("/reconnect", h.Reconnect)
	r.Get("/channels/{id}/messages", h.GetMessages)
}

// Health reports 200 while connected and 503 otherwise.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	st := h.client.State()
	status := map[string]interface{}{
		"status":     "healthy",
		"connection": st,
	}
	code := http.StatusOK
	if st != domain.StateConnected {
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	JSON(w, code, status)
}

// GetState returns a full snapshot of the mirror.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.client.Snapshot())
}

// GetConnection returns connection details and frame counters.
func (h *Handler) GetConnection(w http.ResponseWriter, r *http.Request) {
	snap := h.client.Snapshot()
	JSON(w, http.StatusOK, map[string]interface{}{
		"state":      h.client.State(),
		"last_error": snap.LastError,
		"restoring":  h.client.Restoring(),
		"pending":    h.client.Pending(),
		"frames":     h.client.Stats(),
	})
}

// Reconnect resets the retry budget and dials again.
func (h *Handler) Reconnect(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.reconnectTimeout)
	defer cancel()

	if err := h.client.Reconnect(ctx); err != nil {
		h.logger.Warn("Manual reconnect failed", "error", err)
		Error(w, http.StatusBadGateway, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"state": h.client.State()})
}

// GetMessages returns the record window of one channel, or of the
// server-wide scope when id is "server".
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap := h.client.Snapshot()

	if id == domain.ServerScope {
		JSON(w, http.StatusOK, nonNil(snap.ServerEvents))
		return
	}
	if _, ok := snap.Channels[id]; !ok {
		Error(w, http.StatusNotFound, "unknown channel")
		return
	}
	JSON(w, http.StatusOK, nonNil(snap.Messages[id]))
}

func nonNil(records []domain.Record) []domain.Record {
	if records == nil {
		return []domain.Record{}
	}
	return records
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
