package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"calsync_server/adapter/out/memory"
	"calsync_server/adapter/out/persistence"
	"calsync_server/adapter/out/provider"
	"calsync_server/config"
	"calsync_server/core/port/out"
	"calsync_server/core/service/auth"
	"calsync_server/core/service/calendar"
	"calsync_server/core/service/credential"
	"calsync_server/infra/database"
	"calsync_server/pkg/crypto"
	"calsync_server/pkg/httputil"
	"calsync_server/pkg/logger"
	"calsync_server/pkg/metrics"
	"calsync_server/pkg/resilience"
)

// stateKeyInfo separates the state-signing key from token encryption keys.
const stateKeyInfo = "oauth-state"

type Dependencies struct {
	Config   *config.Config
	Postgres *database.Postgres
	Redis    *redis.Client

	// Repositories
	CredentialRepo   out.CredentialRepository
	AppointmentRepo  out.AppointmentRepository
	VideoSessionRepo out.VideoSessionRepository
	StateLedger      out.StateLedger

	// Providers
	GoogleOAuth    *provider.GoogleOAuthAdapter
	GoogleCalendar *provider.GoogleCalendarAdapter

	// Services
	Encryptor         *crypto.Encryptor
	CredentialStore   *credential.Store
	Coordinator       *auth.Coordinator
	ConnectionService *auth.ConnectionService
	SyncService       *calendar.SyncService
	Hooks             *calendar.DomainHooks

	Metrics *metrics.CalendarMetrics
}

func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg, Metrics: metrics.NewCalendarMetrics()}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// =========================================================================
	// Encryption
	// =========================================================================

	encCtx, err := crypto.NewEncryptionContextFromHex(cfg.EncryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("encryption context: %w", err)
	}
	deps.Encryptor = crypto.NewEncryptor(encCtx)

	stateKey, err := encCtx.DeriveKey(stateKeyInfo, 32)
	if err != nil {
		return nil, nil, fmt.Errorf("derive state key: %w", err)
	}

	// =========================================================================
	// Storage
	// =========================================================================

	pg, err := database.NewPostgres(ctx, cfg.DatabaseURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	deps.Postgres = pg
	cleanups = append(cleanups, pg.Close)
	logger.Info("[Bootstrap] PostgreSQL connected")

	if cfg.RunMigrations {
		if err := database.Migrate(ctx, pg.DB.DB); err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	deps.CredentialRepo = persistence.NewCredentialAdapter(pg.DB)
	deps.AppointmentRepo = persistence.NewAppointmentAdapter(pg.DB)
	deps.VideoSessionRepo = persistence.NewVideoSessionAdapter(pg.DB)

	if cfg.RedisURL != "" {
		client, err := database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		deps.Redis = client
		cleanups = append(cleanups, func() { _ = client.Close() })
		deps.StateLedger = persistence.NewRedisStateLedger(client)
		logger.Info("[Bootstrap] Redis connected, OAuth state ledger enabled")
	} else {
		deps.StateLedger = memory.NewStateLedger()
		logger.Warn("[Bootstrap] REDIS_URL not set, OAuth state ledger is process-local")
	}

	// =========================================================================
	// Google
	// =========================================================================

	httpClient := httputil.NewClient(httputil.GoogleClientConfig(cfg.GoogleHTTPTimeout))

	breakerCfg := func(name string) resilience.BreakerConfig {
		bc := resilience.DefaultBreakerConfig(name)
		if cfg.BreakerFailureThreshold > 0 {
			bc.FailureThreshold = uint32(cfg.BreakerFailureThreshold)
		}
		if cfg.BreakerOpenTimeout > 0 {
			bc.Timeout = cfg.BreakerOpenTimeout
		}
		return bc
	}

	deps.GoogleOAuth = provider.NewGoogleOAuthAdapter(
		provider.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		},
		httpClient,
		resilience.NewBreaker(breakerCfg("google-oauth"), provider.IsExpectedOAuthError),
		deps.Metrics.Latency,
	)
	deps.GoogleCalendar = provider.NewGoogleCalendarAdapter(
		httpClient,
		resilience.NewBreaker(breakerCfg("google-calendar"), provider.IsExpectedCalendarError),
		deps.Metrics.Latency,
	)

	// =========================================================================
	// Services
	// =========================================================================

	deps.CredentialStore = credential.NewStore(deps.CredentialRepo)
	deps.Coordinator = auth.NewCoordinator(deps.GoogleOAuth, auth.NewStateCodec(stateKey))
	deps.ConnectionService = auth.NewConnectionService(deps.Coordinator, deps.CredentialStore, deps.Encryptor, deps.StateLedger)

	tokens := auth.NewTokenProvider(deps.CredentialStore, deps.Encryptor, deps.Coordinator, deps.Metrics)
	deps.SyncService = calendar.NewSyncService(
		deps.AppointmentRepo,
		deps.VideoSessionRepo,
		deps.CredentialStore,
		tokens,
		deps.GoogleCalendar,
		calendar.NewEventFormatter(cfg.JoinBaseURL),
		deps.Metrics,
	)
	deps.Hooks = calendar.NewDomainHooks(deps.SyncService)

	return deps, cleanup, nil
}
