package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/covenant-app/covenant/cmd/covenant/cli"
	"github.com/covenant-app/covenant/internal/app"
	"github.com/covenant-app/covenant/internal/auth"
	"github.com/covenant-app/covenant/internal/locks"
	"github.com/covenant-app/covenant/internal/members"
	"github.com/covenant-app/covenant/internal/notify"
	"github.com/covenant-app/covenant/internal/observability"
	"github.com/covenant-app/covenant/internal/platform/cache"
	"github.com/covenant-app/covenant/internal/platform/db"
	"github.com/covenant-app/covenant/internal/rbac"
	"github.com/covenant-app/covenant/internal/shared"
	"github.com/covenant-app/covenant/internal/users"
	"github.com/covenant-app/covenant/jobs"
)

const (
	brokerRetryDelay = 5 * time.Second
	hubBuffer        = 32
)

func main() {
	if len(os.Args) > 1 {
		os.Exit(runCommand(os.Args[1:]))
	}

	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, lock operations will run degraded", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	})
	if err != nil {
		logger.Error("init token manager", slog.Any("error", err))
		os.Exit(1)
	}

	roleTable, err := rbac.LoadRoles(cfg.RolesFile)
	if err != nil {
		logger.Error("load roles", slog.Any("error", err))
		os.Exit(1)
	}
	resolver := rbac.NewResolver(roleTable)
	metrics := observability.NewMetrics()

	asynqOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(asynqOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(asynqOpts)
	defer func() { _ = inspector.Close() }()

	denials := rbac.NewDenialQueue(jobClient, 0, logger, metrics)
	guard := rbac.Guard{
		Verifier:        tokens,
		Resolver:        resolver,
		Logger:          logger,
		Metrics:         metrics,
		Auditor:         denials,
		AllowQueryToken: true,
	}

	hub := notify.NewHub(hubBuffer, metrics)
	broker := notify.NewBroker(redisClient, cfg.NotifyChannel, hub, logger)
	lockManager := locks.NewManager(locks.NewRedisStore(redisClient), broker, logger, metrics, locks.Config{TTL: cfg.LockTTL})

	auditLogger := shared.NewAuditLogger(dbpool)

	authService := auth.NewService(auth.NewRepository(dbpool), tokens)
	usersService := users.NewService(users.NewRepository(dbpool), resolver, auditLogger, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Metrics:        metrics,
		Guard:          guard,
		AuthHandler:    auth.NewHandler(logger, authService),
		UsersHandler:   users.NewHandler(logger, usersService, guard),
		MembersHandler: members.NewHandler(logger, members.NewRepository(dbpool), lockManager, guard),
		LocksHandler:   locks.NewHandler(logger, lockManager, guard),
		RolesHandler:   rbac.NewRolesHandler(resolver, guard),
		JobHandler:     jobs.NewHandler(inspector, logger),
		SocketHandler:  notify.NewSocketHandler(hub, lockManager, guard, logger),
		LockStore: app.PingerFunc(func(ctx context.Context) error {
			return cache.Ping(ctx, redisClient)
		}),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.Int("roles", len(roleTable.Definitions())))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		runBroker(gctx, broker, logger)
		return nil
	})
	g.Go(func() error {
		denials.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

// runBroker keeps the cross-process bridge subscribed. Local delivery keeps
// working while Redis is down, so subscribe failures only back off.
func runBroker(ctx context.Context, broker *notify.Broker, logger *slog.Logger) {
	for {
		err := broker.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warn("lock event bridge", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(brokerRetryDelay):
		}
	}
}

func runCommand(args []string) int {
	switch args[0] {
	case "roles":
		rolesCLI, err := cli.NewRolesCLI(os.Getenv("ROLES_FILE"))
		if err != nil {
			slog.Default().Error("load roles", slog.Any("error", err))
			return cli.ExitError
		}
		return rolesCLI.Run(args[1:], os.Stdout, os.Stderr)
	case "jobs":
		addr := os.Getenv("REDIS_ADDR")
		if addr == "" {
			addr = "127.0.0.1:6379"
		}
		jobsCLI := cli.NewJobsCLI(addr)
		defer func() { _ = jobsCLI.Close() }()
		return jobsCLI.Run(args[1:], os.Stdout, os.Stderr)
	default:
		slog.Default().Error("unknown command", slog.String("command", args[0]))
		return cli.ExitError
	}
}
