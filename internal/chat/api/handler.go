// Package chatapi exposes the messaging core over JSON/HTTP for clients that
// don't hold a live websocket connection.
package chatapi

import (
	"errors"
	"log/slog"
	"net/http"

	"ideamart/internal/chat"
	"ideamart/internal/identity"
)

const defaultMaxBodyBytes = 64 << 10 // 64 KiB

// Handler wires the chat HTTP endpoints to the messaging service.
type Handler struct {
	log      *slog.Logger
	svc      *chat.Service
	verifier *identity.Verifier

	maxBodyBytes int64
}

// NewHandler constructs a chat API handler.
func NewHandler(log *slog.Logger, svc *chat.Service, verifier *identity.Verifier) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if svc == nil {
		return nil, errors.New("chatapi: nil service")
	}
	if verifier == nil {
		return nil, errors.New("chatapi: nil verifier")
	}
	return &Handler{
		log:          log,
		svc:          svc,
		verifier:     verifier,
		maxBodyBytes: defaultMaxBodyBytes,
	}, nil
}

// Register wires chat routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /v1/conversations", h.handleCreateConversation)
	mux.HandleFunc("GET /v1/conversations", h.handleListConversations)
	mux.HandleFunc("GET /v1/conversations/{id}/messages", h.handleListMessages)
	mux.HandleFunc("POST /v1/conversations/{id}/messages", h.handleSendMessage)
	mux.HandleFunc("PATCH /v1/messages/{id}", h.handleEditMessage)
	mux.HandleFunc("DELETE /v1/messages/{id}", h.handleDeleteMessage)
}

// requireSession resolves the caller's session from the Authorization header.
func (h *Handler) requireSession(w http.ResponseWriter, r *http.Request) (identity.Session, bool) {
	token := identity.BearerFromHeader(r.Header.Get("Authorization"))
	if token == "" {
		writeError(w, http.StatusUnauthorized, "not_authenticated", "missing bearer token")
		return identity.Session{}, false
	}
	sess, err := h.verifier.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "not_authenticated", "invalid bearer token")
		return identity.Session{}, false
	}
	return sess, true
}

func (h *Handler) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	var req createConversationRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	convID, err := h.svc.GetOrCreateConversation(r.Context(), sess, req.RecipientID)
	if err != nil {
		h.writeChatError(w, err, "")
		return
	}

	writeJSON(w, http.StatusOK, createConversationResponse{ConversationID: convID})
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	summaries, err := h.svc.ListConversations(r.Context(), sess)
	if err != nil {
		h.writeChatError(w, err, "")
		return
	}

	out := make([]conversationSummaryResponse, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, toSummaryResponse(s))
	}
	writeJSON(w, http.StatusOK, listConversationsResponse{Conversations: out})
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	msgs, err := h.svc.Messages(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		h.writeChatError(w, err, "")
		return
	}

	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, listMessagesResponse{Messages: out})
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	if err := h.svc.SendMessage(r.Context(), sess, r.PathValue("id"), req.Content); err != nil {
		h.writeChatError(w, err, req.Content)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	var req editMessageRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	if err := h.svc.EditMessage(r.Context(), sess, r.PathValue("id"), req.Content); err != nil {
		h.writeChatError(w, err, req.Content)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteMessage(r.Context(), sess, r.PathValue("id")); err != nil {
		h.writeChatError(w, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeChatError maps service errors onto HTTP statuses. Transient failures
// echo the unsent content back so the client can restore the draft.
func (h *Handler) writeChatError(w http.ResponseWriter, err error, content string) {
	code := chat.ErrorCode(err)
	status := statusForCode(code)

	if chat.IsTransient(err) {
		writeErrorContent(w, status, code, "temporary failure, retry with the same content", content)
		return
	}
	writeError(w, status, code, err.Error())
}

func statusForCode(code string) int {
	switch code {
	case "not_authenticated":
		return http.StatusUnauthorized
	case "empty_content", "content_too_long", "self_conversation", "invalid_recipient":
		return http.StatusUnprocessableEntity
	case "not_participant", "forbidden":
		return http.StatusForbidden
	case "consecutive_message_limit":
		return http.StatusTooManyRequests
	case "already_replied":
		return http.StatusConflict
	case "conversation_not_found", "message_not_found":
		return http.StatusNotFound
	case "transient":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
