// Command broker wires the Session & Execution Engine's components
// together: configuration, logging, workspace provisioning, the metadata
// store, the session manager, admission control, the execution engine,
// session kinds, health reporting, and the tool surface adapter. It then
// runs the periodic cleanup and workspace-sweep loops until it receives a
// termination signal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sessionbroker/internal/admission"
	"sessionbroker/internal/config"
	"sessionbroker/internal/execengine"
	"sessionbroker/internal/health"
	"sessionbroker/internal/langregistry"
	"sessionbroker/internal/logging"
	"sessionbroker/internal/metrics"
	"sessionbroker/internal/policy"
	"sessionbroker/internal/session"
	"sessionbroker/internal/sessionkind"
	"sessionbroker/internal/store"
	"sessionbroker/internal/toolsurface"
	"sessionbroker/internal/workspace"
)

func main() {
	logging.Init()
	defer logging.Sync()
	log := logging.S()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("failed to load configuration", "error", err)
	}
	log.Infow("starting session broker", "environment", cfg.Environment, "executionBackend", cfg.ExecutionBackend)

	breakers := admission.NewRegistry(func(name string) admission.BreakerConfig {
		return admission.DefaultBreakerConfig(admission.IsTransientError)
	})

	var durable store.DurableTier
	if cfg.MetadataStoreHost != "" {
		redisURL := fmt.Sprintf("redis://:%s@%s:%d/%d", cfg.MetadataStorePassword, cfg.MetadataStoreHost, cfg.MetadataStorePort, cfg.MetadataStoreDB)
		tier, err := store.NewRedisTier(redisURL)
		if err != nil {
			log.Warnw("durable tier unavailable, falling back to in-memory fallback only", "error", err)
		} else {
			durable = tier
		}
	}

	metadataStore := store.New(durable, breakers)
	sessions := session.New(metadataStore, cfg.MaxSessionsPerClient)

	ws := workspace.New(cfg.DataRoot)
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 5*time.Minute)
	ws.EnsureBaseWorkspaces(startupCtx)
	cancelStartup()
	ws.SweepStaleWorkspaces(cfg.SessionTimeout)

	var docker *execengine.DockerBackend
	if cfg.ExecutionBackend == "docker" {
		docker, err = execengine.NewDockerBackend()
		if err != nil {
			log.Fatalw("EXECUTION_BACKEND=docker requested but docker client init failed", "error", err)
		}
		defer docker.Close()
	}
	engine := execengine.New(sessions, ws, cfg.MaxConcurrentExecutions, docker)

	helperCommand := os.Getenv("WEB_IDE_HELPER_COMMAND")
	kinds := sessionkind.New(sessions, ws, cfg.WebIDEHost, helperCommand)
	defer kinds.Close()

	screener := policy.New()
	ac := admission.New()
	defer ac.Close()

	languageIDs := make([]string, 0)
	for _, d := range langregistry.All() {
		languageIDs = append(languageIDs, d.ID)
	}
	reporter := health.New(sessions, ws, breakers, languageIDs)

	adapter := toolsurface.New(sessions, kinds, engine, screener, ac, reporter, cfg.SharedKey)
	_ = adapter // exposed to whichever transport (stdio/HTTP) is wired in by the embedder

	collector := metrics.NewCollector(metrics.Get(), 15*time.Second)
	collector.Start()
	defer collector.Stop()
	_ = metrics.Handler // exposed at GET /metrics by whichever HTTP transport is wired in by the embedder

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runCleanupLoop(ctx, sessions, ws, cfg)

	log.Infow("session broker ready")
	<-ctx.Done()
	log.Infow("shutting down session broker")
}

func runCleanupLoop(ctx context.Context, sessions *session.Manager, ws *workspace.Provisioner, cfg *config.Config) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sessions.CleanupExpired(ctx, "", cfg.SessionTimeout); err != nil {
				logging.S().Warnw("periodic session cleanup failed", "error", err)
			}
			ws.SweepStaleWorkspaces(cfg.SessionTimeout)
		}
	}
}
