package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/user/llmcouncil/internal/api"
	"github.com/user/llmcouncil/internal/config"
	"github.com/user/llmcouncil/internal/council"
	"github.com/user/llmcouncil/internal/db"
	"github.com/user/llmcouncil/internal/hub"
	"github.com/user/llmcouncil/internal/llm"
	"github.com/user/llmcouncil/internal/registry"
	"github.com/user/llmcouncil/internal/server"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	models, err := registry.NewRegistry(cfg.ModelsPath)
	if err != nil {
		return fmt.Errorf("failed to load model catalog: %w", err)
	}

	client := llm.New(llm.Options{
		APIKey:            cfg.APIKey,
		BaseURL:           cfg.APIURL,
		Title:             "LLM Council",
		RequestsPerSecond: cfg.RateLimit,
		Burst:             4,
	})
	if !client.Enabled() {
		slog.Warn("OPENROUTER_API_KEY is not set, every model call will fail")
	}
	c := council.New(council.Options{
		Client: client,
		Defaults: func() council.ModelDefaults {
			cat := models.Get()
			return council.ModelDefaults{
				Council:   cat.CouncilModels,
				Chairman:  cat.ChairmanModel,
				Clarifier: cat.ClarifierModel,
				Title:     cat.TitleModel,
			}
		},
		Logger:          slog.Default().With("component", "council"),
		QueryTimeout:    cfg.QueryTimeout,
		ChairmanTimeout: cfg.ChairmanTimeout,
	})

	hubInst := hub.New(cfg.Token, slog.Default().With("component", "hub"))
	apiHandler := api.NewRouter(database.SQL(), c, models, hubInst, cfg.Token, slog.Default().With("component", "api"))

	if cfg.PrintToken {
		fmt.Println(cfg.Token)
	}
	fmt.Printf("\nllmcouncil running at http://localhost:%d?token=%s\n\n", cfg.Port, cfg.Token)

	srv := server.New(cfg, hubInst, apiHandler)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
