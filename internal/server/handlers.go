package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Medal-OF-Owner/Chatlet/internal/hub"
	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
	"github.com/Medal-OF-Owner/Chatlet/internal/room"
	"github.com/Medal-OF-Owner/Chatlet/internal/store"
	"github.com/Medal-OF-Owner/Chatlet/internal/version"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	hub   *hub.Hub
	store store.Store
}

func NewHandler(h *hub.Hub, s store.Store) *Handler {
	return &Handler{hub: h, store: s}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string `json:"status"` // "healthy" or "degraded"
	Version   string `json:"version"`
	Store     string `json:"store"`
	Latency   string `json:"latency,omitempty"`
	Rooms     int    `json:"rooms"`
	Timestamp string `json:"timestamp"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Version:   version.Version,
		Store:     h.store.Driver(),
		Rooms:     len(h.hub.Rooms().Rooms()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	start := time.Now()
	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("store ping failed")
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	} else {
		resp.Latency = time.Since(start).String()
	}

	h.JSON(w, status, resp)
}

func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]any{"rooms": h.hub.Rooms().Rooms()})
}

// EnsureRoom returns the record for a slug, creating it on first use.
func (h *Handler) EnsureRoom(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.EnsureRoom(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, rec)
}

func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.GetRoom(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, rec)
}

// MembersResponse lists who is connected to a room right now.
type MembersResponse struct {
	Room    string              `json:"room"`
	Members []protocol.UserInfo `json:"members"`
}

func (h *Handler) Members(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.GetRoom(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.storeError(w, r, err)
		return
	}

	resp := MembersResponse{Room: rec.ID, Members: []protocol.UserInfo{}}
	members, err := h.hub.Rooms().Members(rec.ID)
	if err != nil && !errors.Is(err, room.ErrRoomNotFound) {
		h.Error(w, http.StatusInternalServerError, "members unavailable")
		return
	}
	for _, m := range members {
		resp.Members = append(resp.Members, m.Info())
	}
	h.JSON(w, http.StatusOK, resp)
}

func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	limit := store.MaxHistory
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, store.MaxHistory)
	}

	rec, err := h.store.GetRoom(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.storeError(w, r, err)
		return
	}

	msgs, err := h.store.Recent(r.Context(), rec.ID, limit)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []protocol.ChatMessage{}
	}
	h.JSON(w, http.StatusOK, protocol.MessageHistoryPayload{Messages: msgs})
}

func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.Error(w, http.StatusNotFound, "room not found")
	case errors.Is(err, store.ErrInvalidSlug):
		h.Error(w, http.StatusBadRequest, "invalid room slug")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("store request failed")
		h.Error(w, http.StatusInternalServerError, "store unavailable")
	}
}
