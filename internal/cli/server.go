package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"paidquiz-service/internal/app"
	"paidquiz-service/internal/config"
	"paidquiz-service/internal/gateway"
	"paidquiz-service/internal/infra/memory"
	pgstore "paidquiz-service/internal/infra/postgres"
	redisinfra "paidquiz-service/internal/infra/redis"
	transport "paidquiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the registration server",
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

	var store app.Store
	var loader memory.TestLoader
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		pg := pgstore.NewStore(pool)
		store, loader = pg, pg
	} else {
		mem := memory.NewStore()
		store, loader = mem, mem
	}

	bankTTL := config.TTLDuration(cfg.Bank.TTL, 10*time.Minute)
	var tests app.TestRepository
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		tests = redisinfra.NewTestRepository(redisClient, loader, bankTTL)
	} else {
		tests = memory.NewTestRepository(loader, bankTTL)
	}

	demo := cfg.DemoMode()
	var gw app.Gateway
	if demo {
		log.Printf("no gateway credentials configured, running in demo mode")
		gw = gateway.NewDemo()
	} else {
		gw = gateway.NewRazorpay(cfg.Gateway.KeyID, cfg.Gateway.KeySecret,
			config.TTLDuration(cfg.Gateway.Timeout, 10*time.Second))
	}

	feed := app.NewFeed()
	service := app.NewSubmissionService(store, tests, gw, demo, feed)
	handler := transport.NewHandler(service, cfg.Gateway.KeyID)
	wsHandler := transport.NewWSHandler(feed)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	handler.Register(mux)
	mux.HandleFunc("GET /ws/submissions", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting paidquiz service on :%s", finalPort)
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
