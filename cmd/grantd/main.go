package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/pilab-dev/grantd"
	oauthapi "github.com/pilab-dev/grantd/api/echo"
	"github.com/pilab-dev/grantd/cache"
	"github.com/pilab-dev/grantd/config"
	"github.com/pilab-dev/grantd/domain"
	"github.com/pilab-dev/grantd/log"
	"github.com/pilab-dev/grantd/mongodb"
	"github.com/pilab-dev/grantd/redisstore"
	"github.com/pilab-dev/grantd/tracing"
)

var (
	appLogger      log.Logger
	tracerProvider *sdktrace.TracerProvider
)

// headerSessionResolver trusts a reverse proxy to authenticate the browser
// and forward the subject in headers. Production deployments sit grantd
// behind the SSO frontend that owns the login session.
type headerSessionResolver struct{}

func (headerSessionResolver) Resolve(c echo.Context) (*domain.Session, error) {
	subject := c.Request().Header.Get("X-Auth-Subject")
	if subject == "" {
		return nil, nil
	}
	return &domain.Session{
		ID:              c.Request().Header.Get("X-Auth-Session"),
		SubjectID:       subject,
		AuthenticatedAt: time.Now().UTC(),
	}, nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
	}
	appLogger = log.NewZerologAdapter(logLevel, cfg.LogPretty)

	ctx := context.Background()
	appLogger.Info(ctx, "Starting grantd server", map[string]interface{}{
		"http_port": cfg.HTTPPort,
		"issuer":    cfg.Issuer,
		"storage":   cfg.Storage,
		"log_level": logLevel.String(),
	})

	tp, err := tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize TracerProvider", err)
	}
	tracerProvider = tp

	records, clients, cleanup, err := buildStorage(ctx, cfg)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize storage backend", err)
	}

	provider := grantd.NewProvider(grantd.Options{
		Records:                   records,
		Clients:                   clients,
		Logger:                    appLogger,
		ErrorPageURL:              cfg.Issuer + "/oauth2/error",
		AuthorizationCodeLifetime: cfg.AuthCodeTTL(),
		AccessTokenLifetime:       cfg.AccessTokenTTL(),
		RefreshTokenLifetime:      cfg.RefreshTokenTTL(),
		DeviceFlow: grantd.DeviceFlowOptions{
			Lifetime:        cfg.DeviceCodeTTL(),
			PollInterval:    cfg.DeviceInterval(),
			VerificationURI: cfg.Issuer + "/device",
			UserCodeType:    cfg.UserCodeType,
		},
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	api := oauthapi.NewOAuth2API(provider, clients, headerSessionResolver{},
		appLogger, cfg.Issuer, "/login", "/consent")
	api.RegisterRoutes(e)

	go func() {
		appLogger.Info(context.Background(), fmt.Sprintf("HTTP server listening on port %s", cfg.HTTPPort))
		if err := e.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal(context.Background(), "Failed to start HTTP server", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	appLogger.Info(ctx, fmt.Sprintf("Received signal: %v. Shutting down...", sig))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown error", err)
	}
	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			appLogger.Error(shutdownCtx, "TracerProvider shutdown error", err)
		}
	}
	if cleanup != nil {
		cleanup(shutdownCtx)
	}

	appLogger.Info(shutdownCtx, "Server gracefully stopped.")
}

// buildStorage selects the grant record store and client repository for the
// configured backend. Redis keeps clients in memory, it only persists
// grants.
func buildStorage(ctx context.Context, cfg *config.ServerConfig) (
	domain.GrantRecordStore, domain.ClientRepository, func(context.Context), error,
) {
	switch cfg.Storage {
	case config.StorageMongo:
		client, db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, nil, nil, err
		}
		grants := mongodb.NewGrantRepository(db)
		if err := grants.EnsureIndexes(ctx); err != nil {
			return nil, nil, nil, err
		}
		cleanup := func(shutdownCtx context.Context) {
			if err := client.Disconnect(shutdownCtx); err != nil {
				appLogger.Error(shutdownCtx, "MongoDB disconnect error", err)
			}
		}
		return grants, mongodb.NewClientRepository(db), cleanup, nil

	case config.StorageRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, nil, fmt.Errorf("redis ping failed: %w", err)
		}
		cleanup := func(shutdownCtx context.Context) {
			if err := rdb.Close(); err != nil {
				appLogger.Error(shutdownCtx, "Redis close error", err)
			}
		}
		return redisstore.NewGrantStore(rdb), cache.NewMemoryClientStore(), cleanup, nil

	case config.StorageMemory:
		store := cache.NewMemoryGrantStore()
		cleanup := func(context.Context) { _ = store.Close() }
		return store, cache.NewMemoryClientStore(), cleanup, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}
