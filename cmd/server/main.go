package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/mdplan/internal/api"
	"github.com/dgallion1/mdplan/internal/config"
	"github.com/dgallion1/mdplan/internal/convert"
	"github.com/dgallion1/mdplan/internal/pipeline"
	"github.com/dgallion1/mdplan/internal/plan"
	"github.com/dgallion1/mdplan/internal/planstore"
	"github.com/dgallion1/mdplan/internal/prompts"
	"github.com/dgallion1/mdplan/internal/stats"
	"github.com/dgallion1/mdplan/internal/tokens"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("load configuration", "error", err)
		os.Exit(1)
	}
	for _, w := range cfg.Warnings {
		log.Warn("configuration", "warning", w)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	counter, err := tokens.Resolve(cfg.Model, cfg.TokenizerEncoding)
	if err != nil {
		log.Warn("tokenizer", "error", err)
	}
	parts, err := prompts.Load(cfg.PromptsDir, cfg.PromptPartPattern)
	if err != nil {
		log.Error("load prompt parts", "error", err)
		os.Exit(1)
	}
	params := cfg.Params(prompts.Overhead(counter, cfg.SystemPrompt, parts), len(parts))

	store, err := planstore.Open(ctx, cfg.PlanStore, cfg.PlanStoreDSN, cfg.PlanCacheSize)
	if err != nil {
		log.Error("open plan store", "store", cfg.PlanStore, "error", err)
		os.Exit(1)
	}

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(pipeline.Options{
		WorkerCount:  cfg.WorkerCount,
		MaxQueueSize: cfg.MaxQueueSize,
		JobTTL:       cfg.JobTTL,
		Convert:      convert.Options{PDFFallbackPdftotext: cfg.PDFFallbackPdftotext},
	}, plan.New(counter), store, stats.New(time.Hour), log)
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(orch, log, cfg, params)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown. The store closes only after in-flight jobs drain.
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()
		if err := store.Close(); err != nil {
			log.Warn("close plan store", "error", err)
		}
	}()

	log.Info("starting mdplan",
		"port", cfg.Port,
		"store", cfg.PlanStore,
		"tokenizer", counter.Name(),
		"model", cfg.Model,
		"context_limit", params.ContextLimit,
		"prompt_parts", len(parts))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	<-stopped
	log.Info("stopped")
}
