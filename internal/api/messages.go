package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/user/llmcouncil/internal/council"
	"github.com/user/llmcouncil/internal/db"
)

type sendMessageRequest struct {
	Content           string   `json:"content"`
	ChairmanModel     string   `json:"chairman_model,omitempty"`
	CouncilModels     []string `json:"council_models,omitempty"`
	SkipClarification bool     `json:"skip_clarification,omitempty"`
	IsFirstMessage    *bool    `json:"is_first_message,omitempty"`
}

// assistantMetadata is what gets stored in the assistant message's metadata column.
type assistantMetadata struct {
	council.Metadata
	Clarification *council.ClarificationVerdict `json:"clarification,omitempty"`
}

// messageTarget is the conversation a round belongs to. Ids the server never
// created are served statelessly: clients that keep history themselves get
// the round back but nothing is written.
type messageTarget struct {
	id     string
	stored bool
}

// prepareMessage validates the body, loads the conversation and stores the
// user turn. It writes the error response itself and returns ok=false.
func (h *handler) prepareMessage(w http.ResponseWriter, r *http.Request) (messageTarget, council.Request, bool) {
	target := messageTarget{id: r.PathValue("id")}
	if h.council == nil {
		jsonError(w, http.StatusServiceUnavailable, "council unavailable")
		return target, council.Request{}, false
	}
	var req sendMessageRequest
	if err := decodeLenientJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return target, council.Request{}, false
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		jsonError(w, http.StatusBadRequest, "content is required")
		return target, council.Request{}, false
	}

	conv, err := h.conversations.Get(r.Context(), target.id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return target, council.Request{}, false
	}

	firstMessage := false
	if conv != nil {
		target.stored = true
		firstMessage = conv.MessageCount == 0
	}
	if req.IsFirstMessage != nil {
		firstMessage = *req.IsFirstMessage
	}
	if target.stored {
		if _, err := h.messages.AddUser(r.Context(), target.id, content); err != nil {
			jsonError(w, http.StatusInternalServerError, err.Error())
			return target, council.Request{}, false
		}
	}

	return target, council.Request{
		Query:             content,
		Roster:            req.CouncilModels,
		Chairman:          req.ChairmanModel,
		SkipClarification: req.SkipClarification,
		GenerateTitle:     firstMessage,
	}, true
}

func (h *handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	target, req, ok := h.prepareMessage(w, r)
	if !ok {
		return
	}
	// A blocking round cannot pause for a follow-up question.
	req.SkipClarification = true

	res, err := h.council.Run(r.Context(), req)
	if err != nil {
		h.logger.Warn("council round failed", "conversation_id", target.id, "error", err)
		jsonError(w, runErrorStatus(err), err.Error())
		return
	}

	if target.stored {
		if err := h.saveAssistant(r.Context(), target.id, res); err != nil {
			jsonError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if res.Metadata.Title != "" {
			h.updateTitle(r.Context(), target.id, res.Metadata.Title)
		}
	}
	jsonResponse(w, http.StatusOK, res)
}

func (h *handler) streamMessage(w http.ResponseWriter, r *http.Request) {
	stream, ok := newSSEWriter(w)
	if !ok {
		jsonError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	target, req, ok := h.prepareMessage(w, r)
	if !ok {
		return
	}

	stream.open()

	ctx := r.Context()
	transcript := &council.Transcript{}
	writeFailed := false
	for evt := range h.council.Stream(ctx, req) {
		transcript.Apply(evt)

		if target.stored {
			switch evt.Type {
			case council.EventTitleComplete:
				h.updateTitle(ctx, target.id, transcript.Metadata.Title)
			case council.EventComplete:
				if err := h.saveAssistant(ctx, target.id, &transcript.Result); err != nil {
					h.logger.Error("store assistant message", "conversation_id", target.id, "error", err)
					evt = council.Event{Type: council.EventError, Message: err.Error()}
				}
			}
		}

		h.publishCouncilEvent(target.id, evt)
		if writeFailed {
			continue
		}
		if err := stream.send(evt); err != nil {
			h.logger.Debug("stream client gone", "conversation_id", target.id, "error", err)
			writeFailed = true
		}
	}

	// The round stopped to ask the user something; keep the question in history.
	if target.stored && transcript.Clarification != nil && !transcript.Done && ctx.Err() == nil {
		if err := h.saveAssistant(ctx, target.id, &transcript.Result); err != nil {
			h.logger.Error("store clarification", "conversation_id", target.id, "error", err)
		}
	}
}

func (h *handler) saveAssistant(ctx context.Context, conversationID string, res *council.Result) error {
	msg := &db.Message{ConversationID: conversationID}
	var err error
	if res.Clarification == nil {
		if msg.Stage1, err = json.Marshal(res.Stage1); err != nil {
			return fmt.Errorf("encode stage1: %w", err)
		}
		if msg.Stage2, err = json.Marshal(res.Stage2); err != nil {
			return fmt.Errorf("encode stage2: %w", err)
		}
		if msg.Stage3, err = json.Marshal(res.Stage3); err != nil {
			return fmt.Errorf("encode stage3: %w", err)
		}
	}
	meta := assistantMetadata{Metadata: res.Metadata, Clarification: res.Clarification}
	if msg.Metadata, err = json.Marshal(meta); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := h.messages.AddAssistant(ctx, msg); err != nil {
		return err
	}
	if err := h.conversations.Touch(ctx, conversationID); err != nil {
		h.logger.Warn("touch conversation", "conversation_id", conversationID, "error", err)
	}
	return nil
}

func (h *handler) updateTitle(ctx context.Context, conversationID, title string) {
	title = strings.TrimSpace(title)
	if title == "" {
		return
	}
	if err := h.conversations.UpdateTitle(ctx, conversationID, title); err != nil {
		h.logger.Warn("update conversation title", "conversation_id", conversationID, "error", err)
		return
	}
	h.publishConversationEvent(conversationID, "title_updated", map[string]string{"title": title})
}

func runErrorStatus(err error) int {
	switch {
	case errors.Is(err, council.ErrEmptyQuery), errors.Is(err, council.ErrEmptyRoster):
		return http.StatusBadRequest
	case council.IsStageExhausted(err), council.IsChairmanFailure(err):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
