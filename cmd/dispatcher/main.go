// Command dispatcher wires the credential store, model registry, task
// queue, rendezvous table, and HTTP edge into the running service,
// mirroring the teacher's main.go: store selection from environment,
// background workers started before the listener, a startup banner, and a
// blocking ListenAndServe.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/1percentsync/sakura-dispatch/internal/config"
	"github.com/1percentsync/sakura-dispatch/internal/dispatch"
	"github.com/1percentsync/sakura-dispatch/internal/httpapi"
	"github.com/1percentsync/sakura-dispatch/internal/idempotency"
	"github.com/1percentsync/sakura-dispatch/internal/models"
	"github.com/1percentsync/sakura-dispatch/internal/notify"
	"github.com/1percentsync/sakura-dispatch/internal/observability"
	"github.com/1percentsync/sakura-dispatch/internal/queue"
	"github.com/1percentsync/sakura-dispatch/internal/rendezvous"
	"github.com/1percentsync/sakura-dispatch/internal/store"
	"github.com/1percentsync/sakura-dispatch/internal/timeline"
)

// registry carries the dispatcher's process-static set of supported
// models, grounded on original_source/models.py's ACCEPTABLE_MODELS.
func registry() *models.Registry {
	return models.New([]models.Spec{
		{
			ID:      "sakura-14b-qwen2.5-v1.0-iq4xs",
			Object:  "model",
			Created: 0,
			OwnedBy: "llamacpp",
			Meta: models.Meta{
				VocabType: 2,
				NVocab:    152064,
				NCtxTrain: 131072,
				NEmbd:     5120,
				NParams:   14770033664,
				Size:      8180228096,
			},
		},
	})
}

func main() {
	cfg := config.LoadFromEnv()
	ctx := context.Background()

	var credStore store.CredentialStore
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer pg.Close()
		credStore = pg
		log.Printf("Connected to Postgres for credential storage")
	} else {
		log.Println("DATABASE_URL not set; using in-memory credential store (dev mode, not durable)")
		credStore = store.NewMemoryStore()
	}

	// database.py's init_db resets daily_usage to 0 for every row at
	// process start; the recurring reset is started below via
	// httpapi.StartDailyUsageReset.
	if err := credStore.ResetDailyUsage(ctx); err != nil {
		log.Printf("Warning: failed to reset daily usage on boot: %v", err)
	}

	var idemStore *idempotency.Store
	if cfg.RedisAddr != "" {
		redisBackend, err := store.NewRedisBackend(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		idemStore = idempotency.NewStore(redisBackend, 24*time.Hour)
		log.Printf("Connected to Redis at %s for idempotency cache", cfg.RedisAddr)
	} else {
		idemStore = idempotency.NewStore(nil, 24*time.Hour)
		log.Println("REDIS_ADDR not set; using in-memory idempotency cache (single-node only)")
	}

	hub := notify.NewHub()
	hubCtx, cancelHub := context.WithCancel(ctx)
	defer cancelHub()
	go hub.Run(hubCtx)

	d := dispatch.New(queue.New(), rendezvous.NewTable(), credStore, registry(), timeline.NewStore(2000), hub, cfg)

	api := httpapi.New(d, credStore, registry(), hub, idemStore, cfg)

	resetStop := make(chan struct{})
	defer close(resetStop)
	go api.StartDailyUsageReset(resetStop)

	metricsStop := make(chan struct{})
	defer close(metricsStop)
	go d.StartMetricsLoop(metricsStop, 10*time.Second)

	observability.SchedulerMode.WithLabelValues("unset").Set(0)

	fmt.Println("==================================================")
	fmt.Println("sakura-dispatch: inference dispatcher starting")
	fmt.Println("==================================================")
	fmt.Printf("Listen address:     %s\n", cfg.ListenAddr)
	fmt.Printf("Phase 1 wait:       %s\n", cfg.Phase1Wait)
	fmt.Printf("Phase 2 window:     %s\n", cfg.Phase2Window)
	fmt.Printf("Temp-ban duration:  %s\n", cfg.TempBanDuration)
	fmt.Printf("Admin surface:      %v\n", cfg.AdminToken != "")
	fmt.Println("==================================================")

	if cfg.AdminToken == "" {
		log.Println("Warning: ADMIN_TOKEN not set; /admin/* routes are disabled")
	}

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 200 * time.Second, // must exceed the ~180s completion deadline
	}

	log.Printf("sakura-dispatch listening on %s", cfg.ListenAddr)
	log.Fatal(server.ListenAndServe())
}
