package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cingulado/alade-chat/backend/internal/hub"
	"github.com/cingulado/alade-chat/backend/internal/model/chat"
	chatService "github.com/cingulado/alade-chat/backend/internal/service/chat"
	"github.com/cingulado/alade-chat/backend/pkg/utils"
)

// LiveState exposes the realtime view of the hub.
type LiveState interface {
	Presence(sessionID string) int
	Stats() hub.Stats
}

// Handler serves the chat HTTP API used by the widget and the CRM.
type Handler struct {
	chatSvc *chatService.Service
	live    LiveState
}

// New creates the chat handler.
func New(chatSvc *chatService.Service, live LiveState) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		live:    live,
	}
}

// RegisterRoutes mounts the chat routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ping", h.handlePing)
	r.Post("/session", h.handleCreateSession)
	r.Patch("/session/{id}/contact", h.handleUpdateContact)
	r.Post("/message", h.handleSaveMessage)
	r.Get("/sessions", h.handleListSessions)
	r.Get("/sessions/{id}/messages", h.handleListMessages)
	r.Get("/sessions/{id}/events", h.handleListEvents)
	r.Get("/presence/{id}", h.handlePresence)
	r.Get("/hub/stats", h.handleStats)
}

func (h *Handler) handlePing(w http.ResponseWriter, r *http.Request) {
	utils.RespondOK(w, http.StatusOK, map[string]any{"message": "chat API alive"})
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Contact chatService.Contact `json:"contact"`
		Meta    json.RawMessage     `json:"meta"`
		LeadID  string              `json:"leadId"`
	}

	if err := decodeBody(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var meta chatService.SessionMeta
	if raw := bytes.TrimSpace(payload.Meta); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &meta); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "meta must be an object")
			return
		}
		meta.Raw = raw
	}

	session, err := h.chatSvc.CreateSession(r.Context(), chatService.CreateSessionInput{
		Contact:   payload.Contact,
		Meta:      meta,
		LeadID:    payload.LeadID,
		UserAgent: r.UserAgent(),
		IPAddress: clientIP(r),
	})
	if err != nil {
		h.respondServiceError(w, "create session", err)
		return
	}

	utils.RespondOK(w, http.StatusOK, map[string]any{"session": session})
}

func (h *Handler) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	var update chat.ContactUpdate
	if err := decodeBody(r, &update); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.UpdateContact(r.Context(), chi.URLParam(r, "id"), update)
	if err != nil {
		h.respondServiceError(w, "update contact", err)
		return
	}

	utils.RespondOK(w, http.StatusOK, map[string]any{"session": session})
}

func (h *Handler) handleSaveMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string          `json:"sessionId"`
		Text      string          `json:"text"`
		Sender    string          `json:"sender"`
		Meta      json.RawMessage `json:"meta"`
	}

	if err := decodeBody(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	meta := bytes.TrimSpace(payload.Meta)
	if bytes.Equal(meta, []byte("null")) {
		meta = nil
	}

	message, err := h.chatSvc.SaveMessage(r.Context(), chatService.SaveMessageInput{
		SessionID: payload.SessionID,
		Text:      payload.Text,
		Sender:    payload.Sender,
		Meta:      json.RawMessage(meta),
	})
	if err != nil {
		h.respondServiceError(w, "save message", err)
		return
	}

	utils.RespondOK(w, http.StatusOK, map[string]any{"message": message})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.chatSvc.ListSessions(r.Context())
	if err != nil {
		h.respondServiceError(w, "list sessions", err)
		return
	}
	utils.RespondOK(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	session, messages, err := h.chatSvc.LoadTranscript(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, "load transcript", err)
		return
	}
	utils.RespondOK(w, http.StatusOK, map[string]any{"session": session, "messages": messages})
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.chatSvc.ListEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, "list events", err)
		return
	}
	utils.RespondOK(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) handlePresence(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	utils.RespondOK(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"count":     h.live.Presence(sessionID),
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	utils.RespondOK(w, http.StatusOK, map[string]any{"stats": h.live.Stats()})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatService.ErrSessionRequired),
		errors.Is(err, chatService.ErrTextRequired),
		errors.Is(err, chatService.ErrInvalidSender):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("[chat] %s failed: %v", op, err)
		utils.RespondError(w, http.StatusInternalServerError, op+" failed")
	}
}

// decodeBody treats an empty body as an empty object.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
