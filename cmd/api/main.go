package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/auth-service/internal/api/http"
	"github.com/spec-kit/auth-service/internal/api/http/handlers"
	"github.com/spec-kit/auth-service/internal/auth"
	"github.com/spec-kit/auth-service/internal/config"
	"github.com/spec-kit/auth-service/internal/events"
	"github.com/spec-kit/auth-service/internal/keys"
	"github.com/spec-kit/auth-service/internal/observability"
	"github.com/spec-kit/auth-service/internal/persistence"
	"github.com/spec-kit/auth-service/internal/repository"
	"github.com/spec-kit/auth-service/internal/revocation"
	"github.com/spec-kit/auth-service/internal/service"
	"github.com/spec-kit/auth-service/internal/token"
	"github.com/spec-kit/auth-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// No token traffic is accepted without a keypair.
	keyManager := keys.NewManager(keys.ConfigFrom(cfg.Keys), logger)
	if _, err := keyManager.ObtainKeyPair(); err != nil {
		logger.Fatal("failed to initialize signing keys", zap.Error(err))
	}

	codec := token.NewCodec(keyManager)
	verifier, err := token.NewVerifier(codec, token.VerifierConfig{
		Issuer:          cfg.Auth.Issuer,
		AccessLifetime:  cfg.Auth.AccessLifetime(),
		RefreshLifetime: cfg.Auth.RefreshLifetime(),
	})
	if err != nil {
		logger.Fatal("invalid token configuration", zap.Error(err))
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), persistence.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger)
	worker.StartAuditWorker(dispatcher, metrics, logger)

	tokenDeps := service.TokenDependencies{
		Codec:        codec,
		Verifier:     verifier,
		RefreshStore: redis.RevocationStore(cfg.Revocation.RefreshPrefix, cfg.Revocation.Timeout()),
		Keys:         keyManager,
		Dispatcher:   dispatcher,
		Logger:       logger,
		Rotation: service.RotationPolicy{
			Enabled: cfg.Auth.RotateRefreshTokens,
			Window:  cfg.Auth.RotateWindow(),
		},
	}
	// Must stay a nil interface when tracking is off.
	var accessStore revocation.Store
	if cfg.Auth.TrackAccessTokens {
		accessStore = redis.RevocationStore(cfg.Revocation.AccessPrefix, cfg.Revocation.Timeout())
		tokenDeps.AccessStore = accessStore
	}
	tokenService, err := service.NewTokenService(tokenDeps)
	if err != nil {
		logger.Fatal("failed to build token service", zap.Error(err))
	}

	userRepo := repository.NewUserRepository(pg.PoolHandle())
	authService := service.NewAuthService(auth.NewPasswordAuthenticator(userRepo), tokenService, logger)
	keyService := service.NewKeyService(keyManager, logger)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, keyManager, metrics),
		Auth:           handlers.NewAuthHandler(authService, tokenService),
		Keys:           handlers.NewKeysHandler(keyService),
		AuthMiddleware: auth.NewMiddleware(verifier, accessStore),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
