package bootstrap

import (
	"context"
	"time"

	"skillswap_server/adapter/out/collaborator"
	"skillswap_server/adapter/out/messaging"
	"skillswap_server/adapter/out/mongodb"
	"skillswap_server/adapter/out/persistence"
	"skillswap_server/adapter/out/provider"
	"skillswap_server/config"
	"skillswap_server/core/domain"
	"skillswap_server/core/port/out"
	"skillswap_server/core/service/calendar"
	"skillswap_server/core/service/reminder"
	"skillswap_server/core/service/session"
	"skillswap_server/infra/database"
	"skillswap_server/pkg/cache"
	"skillswap_server/pkg/clock"
	"skillswap_server/pkg/crypto"
	"skillswap_server/pkg/httputil"
	"skillswap_server/pkg/logger"
	"skillswap_server/pkg/metrics"
	"skillswap_server/pkg/snowflake"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// Dependencies wires the orchestrator: storage, cache, calendar providers,
// collaborator services and the core services on top of them.
type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	Cache     *cache.RedisCache
	Uow       *persistence.UnitOfWork
	Providers *provider.Factory
	Producer  out.EventPublisher
	Archive   out.EventArchive

	// Collaborator services
	MeetingLink out.MeetingLinkPort
	Contacts    out.UserContactPort
	Skills      out.SkillLookupPort
	Notifier    out.NotificationPort
	Chat        out.ChatThreadPort

	// Core services
	SessionService  *session.Service
	CalendarService *calendar.Service
	ReminderService *reminder.Service
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	// Token encryption must be ready before any integration row is read.
	if err := crypto.Init(); err != nil {
		return nil, nil, err
	}

	// Repositories assign snowflake IDs on insert.
	if err := snowflake.InitFromName(cfg.WorkerID); err != nil {
		return nil, nil, err
	}

	// Database (pgxpool, health checks and migrations)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	// Database (sqlx, repositories)
	sqlDB, err := database.NewSQLX(cfg.DatabaseURL)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })
	metrics.RegisterPool("postgres", sqlDB.DB)

	deps.Uow = persistence.NewUnitOfWork(sqlDB)

	// Redis (OAuth state, busy cache, event streams)
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Warn("Redis connection failed: %v", err)
		} else {
			deps.Redis = redisClient
			cleanups = append(cleanups, func() { redisClient.Close() })
			deps.Cache = cache.NewRedisCache(redisClient)
			deps.Producer = messaging.NewRedisProducer(redisClient)
		}
	}
	if deps.Redis == nil {
		logger.Warn("Redis not available: OAuth state and busy caching disabled, events stay queued in the outbox")
	}

	// MongoDB (event archive)
	if cfg.MongoDBURL != "" {
		mongoClient, err := mongodb.NewClient(cfg.MongoDBURL)
		if err != nil {
			logger.Warn("MongoDB connection failed: %v", err)
		} else {
			deps.MongoDB = mongoClient
			cleanups = append(cleanups, func() {
				mongoClient.Disconnect(context.Background())
			})
			deps.Archive = mongodb.NewEventArchive(mongoClient, cfg.MongoDBName)
		}
	}

	// Collaborator services share one tuned HTTP client.
	httpClient := httputil.NewOptimizedClient(httputil.DefaultClientConfig())
	callTimeout := time.Duration(cfg.ExternalCallTimeoutSec) * time.Second

	deps.MeetingLink = collaborator.NewMeetingLinkAdapter(cfg.MeetingLinkBaseURL, cfg.ServiceAuthToken, httpClient, callTimeout)
	deps.Contacts = collaborator.NewUserServiceAdapter(cfg.UserServiceURL, cfg.ServiceAuthToken, httpClient, callTimeout)
	deps.Skills = collaborator.NewSkillCatalogAdapter(cfg.SkillServiceURL, cfg.ServiceAuthToken, httpClient, callTimeout)
	deps.Notifier = collaborator.NewNotificationAdapter(cfg.NotificationServiceURL, cfg.ServiceAuthToken, httpClient, callTimeout)
	deps.Chat = collaborator.NewChatServiceAdapter(cfg.ChatServiceURL, cfg.ServiceAuthToken, httpClient, callTimeout)

	// Calendar providers get their own pool tuning: external APIs with
	// stricter rate limits than the internal collaborators.
	calendarClient := httputil.NewOptimizedClient(httputil.CalendarClientConfig())
	deps.Providers = provider.NewFactoryWithClient(cfg, calendarClient)

	clk := clock.NewSystem()

	// Calendar service; nil cache degrades to provider-only lookups.
	var calendarCache calendar.Cache
	if deps.Cache != nil {
		calendarCache = deps.Cache
	}
	deps.CalendarService = calendar.NewService(deps.Uow, deps.Providers, calendarCache, clk, calendar.Config{
		RedirectURIs: map[domain.CalendarProvider]string{
			domain.ProviderGoogle:    cfg.GoogleRedirectURL,
			domain.ProviderMicrosoft: cfg.MicrosoftRedirectURL,
		},
	})

	// Session orchestrator
	deps.SessionService = session.NewService(
		deps.Uow,
		deps.MeetingLink,
		deps.Contacts,
		deps.Skills,
		deps.Chat,
		deps.CalendarService,
		clk,
		cfg.DefaultReminderOffsets(),
	)

	// Reminder preferences
	deps.ReminderService = reminder.NewService(deps.Uow, clk, cfg.DefaultReminderOffsets())

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	return deps, cleanup, nil
}

func (d *Dependencies) HealthCheck(ctx context.Context) error {
	if err := d.DB.Ping(ctx); err != nil {
		return err
	}
	if d.Redis != nil {
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}
