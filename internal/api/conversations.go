package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/user/llmcouncil/internal/db"
)

type createConversationRequest struct {
	Title string `json:"title,omitempty"`
}

type conversationResponse struct {
	*db.Conversation
	Messages []*db.Message `json:"messages"`
}

func (h *handler) listConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.conversations.List(r.Context())
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, convs)
}

func (h *handler) createConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	conv := &db.Conversation{Title: strings.TrimSpace(req.Title)}
	if err := h.conversations.Create(r.Context(), conv); err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.publishConversationEvent(conv.ID, "created", conv)
	jsonResponse(w, http.StatusCreated, conversationResponse{Conversation: conv, Messages: []*db.Message{}})
}

func (h *handler) getConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, err := h.conversations.Get(r.Context(), id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if conv == nil {
		jsonError(w, http.StatusNotFound, "conversation not found")
		return
	}
	msgs, err := h.messages.ListByConversation(r.Context(), id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, conversationResponse{Conversation: conv, Messages: msgs})
}

func (h *handler) deleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.conversations.Delete(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			jsonError(w, http.StatusNotFound, "conversation not found")
			return
		}
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.publishConversationEvent(id, "deleted", nil)
	jsonResponse(w, http.StatusNoContent, nil)
}
