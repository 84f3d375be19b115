package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcp-orchestra/orchestra-go/pkg/mcphub"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, path, err := mcphub.FindConfig()
	if err != nil {
		if !errors.Is(err, mcphub.ErrNoConfig) {
			log.Fatalf("load config: %v", err)
		}
		cfg = mcphub.Config{
			"everything": {
				Command: "npx",
				Args:    []string{"@modelcontextprotocol/server-everything"},
			},
		}
		path = "(built-in)"
	}
	logger.Info("using configuration", "path", path, "servers", len(cfg))

	hub := mcphub.NewHub(&mcphub.Options{Logger: logger})
	defer hub.CloseAll()

	if err := hub.LoadConfig(ctx, cfg, &mcphub.LoadOptions{Parallel: true, MaxConcurrent: 4}); err != nil {
		log.Fatalf("bring-up: %v", err)
	}
	logger.Info("hub ready", "servers", hub.ServerNames())

	tools, err := hub.ListAllTools(ctx)
	if err != nil {
		logger.Warn("list tools", "error", err)
	}
	for _, tool := range tools {
		fmt.Printf("Tool: %s (server %s)\n", tool.Tool.Name, tool.Server)
	}

	srv := &http.Server{Addr: ":8788", Handler: mcphub.AdminHandler(hub)}
	go func() {
		logger.Info("admin api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin api", "error", err)
		}
	}()

	<-ctx.Done()
	_ = srv.Shutdown(context.Background())
}
