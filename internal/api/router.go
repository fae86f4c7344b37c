package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/user/llmcouncil/internal/council"
	"github.com/user/llmcouncil/internal/db"
	"github.com/user/llmcouncil/internal/hub"
	"github.com/user/llmcouncil/internal/registry"
)

type councilRunner interface {
	Run(ctx context.Context, req council.Request) (*council.Result, error)
	Stream(ctx context.Context, req council.Request) <-chan council.Event
}

type modelCatalog interface {
	Get() *registry.Catalog
	Save(cat *registry.Catalog) error
}

type eventPublisher interface {
	PublishCouncilEvent(conversationID string, evt any)
	PublishConversationEvent(conversationID, event string, data any)
}

type handler struct {
	conn          *sql.DB
	conversations *db.ConversationRepo
	messages      *db.MessageRepo
	council       councilRunner
	models        modelCatalog
	events        eventPublisher
	logger        *slog.Logger
}

func NewRouter(conn *sql.DB, runner councilRunner, models modelCatalog, hubInst *hub.Hub, token string, logger *slog.Logger) http.Handler {
	handler := newHandler(conn, runner, models, logger)
	if hubInst != nil {
		handler.events = hubInst
	}
	return handler.routes(token)
}

func newHandler(conn *sql.DB, runner councilRunner, models modelCatalog, logger *slog.Logger) *handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &handler{
		conn:          conn,
		conversations: db.NewConversationRepo(conn),
		messages:      db.NewMessageRepo(conn),
		council:       runner,
		models:        models,
		logger:        logger,
	}
}

func (h *handler) routes(token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.health)

	mux.HandleFunc("GET /api/models", h.listModels)
	mux.HandleFunc("PUT /api/models", h.updateModels)

	mux.HandleFunc("GET /api/conversations", h.listConversations)
	mux.HandleFunc("POST /api/conversations", h.createConversation)
	mux.HandleFunc("GET /api/conversations/{id}", h.getConversation)
	mux.HandleFunc("DELETE /api/conversations/{id}", h.deleteConversation)

	mux.HandleFunc("POST /api/conversations/{id}/message", h.sendMessage)
	mux.HandleFunc("POST /api/conversations/{id}/message/stream", h.streamMessage)

	return authMiddleware(token)(jsonMiddleware(corsMiddleware(mux)))
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.conn.PingContext(r.Context()); err != nil {
		h.logger.Error("health check: database unreachable", "error", err)
		jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "service": "LLM Council API"})
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok", "service": "LLM Council API"})
}

func (h *handler) publishCouncilEvent(conversationID string, evt council.Event) {
	if h.events != nil {
		h.events.PublishCouncilEvent(conversationID, evt)
	}
}

func (h *handler) publishConversationEvent(conversationID, event string, data any) {
	if h.events != nil {
		h.events.PublishConversationEvent(conversationID, event, data)
	}
}

func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			if r.Method == http.MethodOptions || r.URL.Path == "/api/health" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				if strings.TrimSpace(authHeader[7:]) == token {
					next.ServeHTTP(w, r)
					return
				}
			}

			if r.URL.Query().Get("token") == token {
				next.ServeHTTP(w, r)
				return
			}

			jsonError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, dst any) error {
	return decodeRequest(r, dst, true)
}

// decodeLenientJSON ignores fields dst does not declare.
func decodeLenientJSON(r *http.Request, dst any) error {
	return decodeRequest(r, dst, false)
}

func decodeRequest(r *http.Request, dst any, strict bool) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return io.ErrUnexpectedEOF
	}
	return nil
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, dst any) error {
	err := decodeJSON(r, dst)
	if err == io.EOF {
		return nil
	}
	return err
}
