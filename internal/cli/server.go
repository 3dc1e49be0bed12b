package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	"live-quiz-service/internal/infra/postgres"
	redisinfra "live-quiz-service/internal/infra/redis"
	"live-quiz-service/internal/logger"
	"live-quiz-service/internal/mirror"
	"live-quiz-service/internal/telemetry"
	transport "live-quiz-service/internal/transport/http"
)

const shutdownTimeout = 5 * time.Second

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// sessionRegistry is what the server needs from either registry implementation.
type sessionRegistry interface {
	app.SessionRepository
	Len() int
}

// quizSource is what the server needs from either quiz/session source.
type quizSource interface {
	app.SessionDirectory
	memory.QuizLoader
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(registry)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := telemetry.MonitorRedis(redisClient, log); err != nil {
			return err
		}
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var (
		pool  *pgxpool.Pool
		bunDB *bun.DB
	)
	if cfg.Postgres.URL != "" {
		bunDB, err = openBun(cfg)
		if err != nil {
			return err
		}
		defer bunDB.Close()
		if err := runMigrations(ctx, bunDB); err != nil {
			return err
		}
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var source quizSource
	if pool != nil {
		source = postgres.NewCatalog(pool)
	} else {
		static := memory.NewStaticCatalog(sampleQuizzes())
		static.AddSession(domain.SessionRecord{ID: "demo-session", HostID: "host-1", QuizID: "quiz-1", Pin: "123456"})
		source = static
		log.Warn("postgres not configured, serving the built-in demo session")
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, source, quizTTL, log)
	} else {
		quizRepo = memory.NewQuizRepository(source, quizTTL)
	}

	var store sessionRegistry
	if redisClient != nil {
		store = redisinfra.NewSessionStore(redisClient, redisTTL, log)
	} else {
		store = memory.NewSessionStore()
	}
	telemetry.RegisterSessionGauge(registry, store.Len)

	var queue mirror.Queue
	if redisClient != nil {
		redisQueue := redisinfra.NewJobQueue(redisClient, "quiz:mirror", cfg.Mirror.Retention)
		recovered, err := redisQueue.RecoverInFlight(ctx)
		if err != nil {
			return err
		}
		if recovered > 0 {
			log.Info("requeued unfinished mirror jobs", zap.Int("jobs", recovered))
		}
		queue = redisQueue
	} else {
		memQueue := memory.NewJobQueue(cfg.Mirror.Retention)
		defer memQueue.Close()
		queue = memQueue
	}
	var mirrorStore mirror.Store = memory.NewMirrorStore()
	if bunDB != nil {
		mirrorStore = postgres.NewMirrorStore(bunDB)
	}
	bridge := mirror.NewBridge(queue, mirrorStore, mirror.Config{
		Workers:      cfg.Mirror.Workers,
		Attempts:     cfg.Mirror.Attempts,
		Backoff:      config.TTLDuration(cfg.Mirror.Backoff, 2*time.Second),
		Outbox:       cfg.Mirror.Outbox,
		DrainTimeout: config.TTLDuration(cfg.Mirror.DrainTimeout, 10*time.Second),
	}, mirror.WithLogger(log.Named("mirror")), mirror.WithMetrics(metrics))

	coordinator := app.NewCoordinator(store, source, quizRepo,
		app.WithMirror(bridge),
		app.WithLogger(log.Named("coordinator")),
	)

	schedule := cfg.Session.SweepSchedule
	if schedule == "" {
		schedule = "@every 1s"
	}
	sweeper := app.NewSweeper(coordinator, schedule,
		config.TTLDuration(cfg.Session.EvictAfter, 30*time.Minute), log.Named("sweeper"))

	auth := transport.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer)
	if cfg.Auth.Secret == "" {
		log.Warn("auth secret not configured, trusting userId query parameters")
	}
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	wsHandler := transport.NewWSHandler(coordinator, auth, log.Named("ws"), metrics)
	router := transport.NewRouter(transport.RouterConfig{
		Coordinator: coordinator,
		WS:          wsHandler,
		Auth:        auth,
		Gatherer:    registry,
	})

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}
	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
	}

	// The bridge outlives the HTTP server and the sockets so disconnects during shutdown are still mirrored.
	bridgeCtx, stopBridge := context.WithCancel(context.Background())
	defer stopBridge()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bridge.Run(bridgeCtx)
	})
	g.Go(func() error {
		return sweeper.Start(gctx)
	})
	g.Go(func() error {
		log.Info("starting quiz service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		if wsErr := wsHandler.Close(shutdownCtx); wsErr != nil {
			log.Warn("websocket connections did not close in time", zap.Error(wsErr))
		}
		stopBridge()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped", zap.Error(err))
		return err
	}
	log.Info("server stopped")
	return nil
}
