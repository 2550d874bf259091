package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"legalia-progress-service/internal/app"
	"legalia-progress-service/internal/calendar"
	"legalia-progress-service/internal/config"
	"legalia-progress-service/internal/idempotency"
	"legalia-progress-service/internal/infra/memory"
	pgstore "legalia-progress-service/internal/infra/postgres"
	redisinfra "legalia-progress-service/internal/infra/redis"
	transport "legalia-progress-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the progress server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	cal, err := calendar.NewService(cfg.Calendar.Timezone)
	if err != nil {
		return err
	}

	var repo app.ProgressRepository = memory.NewProgressRepository(sampleCatalog())
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		repo = pgstore.NewStore(pool)
	}

	catalogTTL := config.Duration(cfg.Catalog.TTL, 10*time.Minute)
	if redisClient != nil {
		repo = redisinfra.NewCatalogCache(redisClient, repo, catalogTTL)
	} else {
		repo = memory.NewCatalogCache(repo, catalogTTL)
	}

	var ledger idempotency.Ledger = memory.NewLedger()
	if redisClient != nil {
		ledger = redisinfra.NewLedger(redisClient)
	}
	guard := idempotency.NewGuard(ledger,
		idempotency.WithTTL(config.Duration(cfg.Idempotency.TTL, idempotency.DefaultTTL)))

	feed := app.NewProgressFeed()
	service := app.NewSubmissionService(repo, guard, cal,
		app.WithProgressFeed(feed),
		app.WithRateLimitWindow(config.Duration(cfg.RateLimit.Window, app.DefaultRateLimitWindow)))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	transport.NewHandler(service).Register(mux)
	mux.HandleFunc("/ws", transport.NewWSHandler(feed).ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting progress service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleCatalog provides a minimal quiz catalog for running without
// Postgres; production deployments point cfg.Postgres.URL at the real
// store.
func sampleCatalog() map[string]int {
	return map[string]int{
		"constitutional-law-1": 10,
		"civil-law-1":          8,
		"criminal-law-1":       12,
	}
}
