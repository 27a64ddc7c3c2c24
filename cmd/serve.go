package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/blentor/blentor/db"
	"github.com/blentor/blentor/internal/api"
	"github.com/blentor/blentor/internal/ask"
	"github.com/blentor/blentor/internal/config"
	"github.com/blentor/blentor/internal/knowledge"
	"github.com/blentor/blentor/internal/learn"
	"github.com/blentor/blentor/internal/llm"
	"github.com/blentor/blentor/internal/log"
	"github.com/blentor/blentor/internal/script"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 4 * time.Minute // answer generation can be slow on cold models
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.SilenceUsage = true
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe initializes every component and starts the HTTP server plus the
// background learning goroutines, then blocks until SIGINT/SIGTERM.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{Level: logLevel(), JSON: true})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting blentor", "version", Version)

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("creating connection pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	client, err := llm.New(ctx, llm.Config{
		GenerativeModel: cfg.GenerativeModel,
		EmbedderModel:   cfg.EmbedderModel,
		GenerateTimeout: cfg.GenerateTimeout,
		EmbedTimeout:    cfg.EmbedTimeout,
		Logger:          logger.With("component", "llm"),
	})
	if err != nil {
		return fmt.Errorf("initializing LLM client: %w", err)
	}

	store := knowledge.NewStore(pool, logger.With("component", "store"))

	catalog := knowledge.NewCatalog(store, logger.With("component", "catalog"))
	if err := catalog.Reload(ctx); err != nil {
		return fmt.Errorf("loading category catalog: %w", err)
	}

	reporter := ask.NewReporter(store, logger.With("component", "reporter"))
	reporter.Start(ctx)

	pipeline := ask.NewPipeline(
		ask.NewPlanner(client, logger.With("component", "planner")),
		ask.NewRetriever(client.Embedder(), store, cfg.MatchThreshold, cfg.TopK, logger.With("component", "retriever")),
		ask.NewJudge(client, logger.With("component", "judge")),
		ask.NewComposer(client, store, reporter, logger.With("component", "composer")),
		catalog,
		logger.With("component", "pipeline"),
	)

	scripts := script.NewComposer(client, logger.With("component", "script"))

	activity := learn.NewActivity()

	var wg sync.WaitGroup
	if cfg.LearnEnabled {
		// The learn-rate budget paces only background model calls. The
		// request path keeps the unpaced client: user questions must never
		// queue behind self-study.
		learnGen := client.WithLimiter(rate.NewLimiter(rate.Limit(cfg.LearnRatePerMin/60.0), 2))

		loop := learn.New(learn.Config{
			Store:           store,
			Gen:             learnGen,
			Embedder:        client.Embedder(),
			Catalog:         catalog,
			Activity:        activity,
			Interval:        cfg.LearnInterval,
			Cooldown:        cfg.LearnCooldown,
			MaxTaskAttempts: cfg.MaxTaskAttempts,
			Logger:          logger.With("component", "learn"),
		})
		curator := learn.NewCurator(learn.CuratorConfig{
			Store:    store,
			Gen:      learnGen,
			Catalog:  catalog,
			Activity: activity,
			Interval: cfg.CurationInterval,
			Cooldown: cfg.LearnCooldown,
			Logger:   logger.With("component", "curator"),
		})

		wg.Add(2)
		go func() {
			defer wg.Done()
			loop.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			curator.Run(ctx)
		}()
	} else {
		logger.Info("learning loop disabled by configuration")
	}

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:      logger.With("component", "api"),
		Pipeline:    pipeline,
		Scripts:     scripts,
		Queries:     store,
		Activity:    activity,
		AuthSecret:  authSecret(cfg),
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
		RateBurst:   cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", addr,
		"endpoints", "/preguntar, /generar-script",
		"health", "/health",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		wg.Wait()         // learning goroutines observe ctx cancellation
		<-reporter.Done() // flush pending usage increments
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}

// authSecret returns the bearer-auth key, or nil when auth is disabled.
func authSecret(cfg *config.Config) []byte {
	if cfg.AuthSecret == "" {
		return nil
	}
	return []byte(cfg.AuthSecret)
}

// logLevel reads BLENTOR_LOG_LEVEL. Default info.
func logLevel() slog.Level {
	switch strings.ToLower(os.Getenv("BLENTOR_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
