package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/comigor/whatsapp-relay/internal/agent"
	"github.com/comigor/whatsapp-relay/internal/config"
	"github.com/comigor/whatsapp-relay/internal/history"
	"github.com/comigor/whatsapp-relay/internal/httpapi"
	"github.com/comigor/whatsapp-relay/internal/journal"
	"github.com/comigor/whatsapp-relay/internal/llm"
	"github.com/comigor/whatsapp-relay/internal/logger"
	"github.com/comigor/whatsapp-relay/internal/observability"
	"github.com/comigor/whatsapp-relay/internal/whatsapp"
)

func main() {

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Log.Level)

	if cfg.WhatsApp.PhoneID == "" || cfg.WhatsApp.Token == "" {
		logger.L.Warn("whatsapp credentials missing; replies will be rejected by the platform")
	}
	logger.L.Info("Starting WhatsApp bot", "phone_id", cfg.WhatsApp.PhoneID, "model", cfg.LLM.Model)

	// Initialize LLM backend
	model := llm.NewBackend(llm.NewClient(cfg.LLM), cfg.LLM)

	store := history.NewStore(history.Options{
		Capacity:   cfg.Conversation.Capacity,
		MaxSenders: cfg.Conversation.MaxSenders,
		IdleTTL:    cfg.Conversation.IdleTTL,
	})

	deliveries := journal.Open(context.Background(), cfg.Journal.Path)
	defer deliveries.Close()

	metrics := observability.NewDefaultMetrics()

	pipeline := agent.New(store, model, whatsapp.NewClient(cfg.WhatsApp), *cfg,
		agent.WithRecorder(deliveries),
		agent.WithMetrics(metrics),
	)

	api := httpapi.New(*cfg, pipeline, deliveries, metrics.Handler())
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.L.Info("starting server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.L.Info("shutdown signal received")

	// in-flight webhooks finish their pipeline runs before we exit
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.LLM.Timeout+cfg.WhatsApp.Timeout*2+5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.L.Error("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}

	logger.L.Info("shutdown complete")
}
