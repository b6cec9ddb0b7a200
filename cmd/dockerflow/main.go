package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"dockerflow/internal/action"
	"dockerflow/internal/alert"
	"dockerflow/internal/api"
	"dockerflow/internal/config"
	"dockerflow/internal/db"
	"dockerflow/internal/docker"
	"dockerflow/internal/notify"
	"dockerflow/internal/quota"
	"dockerflow/internal/reconcile"
	"dockerflow/internal/store"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		log.Fatalf("migrate db: %v", err)
	}

	st := store.New(database.SQL)

	// One engine client for the whole process.
	engine, err := docker.NewEngine(cfg.DockerHost)
	if err != nil {
		log.Fatalf("docker client: %v", err)
	}
	defer engine.Close()

	broadcaster := api.NewBroadcaster()
	telegram := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)

	reconciler := reconcile.New(engine, st)
	enforcer := quota.New(st)
	orchestrator := action.New(engine, st, broadcaster, cfg.StopTimeoutSeconds, cfg.RestartPollInterval, cfg.RestartPollAttempts)
	emitter := alert.New(st, telegram, broadcaster)

	server := api.NewServer(cfg, st, engine, reconciler, enforcer, orchestrator, emitter, broadcaster)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("dockerflow starting on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}
