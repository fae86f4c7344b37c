package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/user/llmcouncil/internal/config"
	"github.com/user/llmcouncil/internal/hub"
)

type Server struct {
	cfg        *config.Config
	hub        *hub.Hub
	httpServer *http.Server
}

func New(cfg *config.Config, h *hub.Hub, apiHandler http.Handler) *Server {
	return &Server{
		cfg: cfg,
		hub: h,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", cfg.Port),
			Handler:           newMux(h, apiHandler),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func newMux(h *hub.Hub, apiHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","service":"LLM Council API"}` + "\n"))
	}))
	if h != nil {
		mux.HandleFunc("/ws", h.HandleWebSocket)
	}
	if apiHandler != nil {
		mux.Handle("/api/", apiHandler)
	}
	return mux
}

// Start serves until ctx is cancelled. The hub runs for the same lifetime.
func (s *Server) Start(ctx context.Context) error {
	if s.hub != nil {
		go s.hub.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
