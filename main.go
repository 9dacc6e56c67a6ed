package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/lmittmann/tint"
	"github.com/rs/cors"

	"rsacomm/internal/config"
	"rsacomm/internal/hub"
	"rsacomm/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: cfg.SlogLevel(),
	})))

	var st *store.Store
	if cfg.ArchiveDSN != "" {
		st, err = store.Open(cfg.ArchiveDSN)
		if err != nil {
			slog.Error("failed to open archive", "dsn", cfg.ArchiveDSN, "error", err)
			os.Exit(1)
		}
	}

	h := hub.New(st, cfg.LoginDeadline, cfg.IdleDeadline)
	controller := NewController(h)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", controller.HandleWS)
	mux.HandleFunc("/health", controller.HandleHealth)

	slog.Info("server listening",
		"addr", cfg.Listen,
		"login_deadline", cfg.LoginDeadline,
		"idle_deadline", cfg.IdleDeadline)

	if err := http.ListenAndServe(cfg.Listen, cors.Default().Handler(mux)); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
