package bootstrap

import (
	"context"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"

	"mailsift_server/adapter/out/blobstore"
	"mailsift_server/adapter/out/ocr"
	"mailsift_server/adapter/out/persistence"
	"mailsift_server/adapter/out/provider"
	"mailsift_server/config"
	out "mailsift_server/core/port/out"
	"mailsift_server/core/service/extract"
	"mailsift_server/core/service/ingest"
	"mailsift_server/core/service/mailbox"
	"mailsift_server/core/service/watch"
	"mailsift_server/infra/database"
	"mailsift_server/internal/queue"
	"mailsift_server/pkg/crypto"
	"mailsift_server/pkg/logger"
	"mailsift_server/pkg/metrics"
	"mailsift_server/pkg/tracing"
)

// Dependencies is the wired object graph both serving modes draw from.
type Dependencies struct {
	Config  *config.Config
	Log     zerolog.Logger
	Metrics *metrics.Metrics

	DB    *pgxpool.Pool
	SQLDB *sqlx.DB
	Redis *redis.Client

	Vault   *crypto.Vault
	Breaker *gobreaker.CircuitBreaker
	OAuth   *oauth2.Config

	// Repositories
	Users     out.UserRepository
	Processed out.ProcessedEmailRepository
	Docs      out.ExtractionRepository

	// Outbound adapters
	Blobs    out.BlobStore
	Analyzer out.DocumentAnalyzer

	// Queue substrate; nil when USE_QUEUE=false.
	Queue *queue.Queue

	// Services
	Mailboxes *mailbox.Factory
	Watches   *watch.Manager
	Sync      *ingest.SyncService
	Extract   *extract.Service
	Direct    *ingest.DirectService

	stopTracing func(context.Context) error
}

// NewDependencies wires the full graph: config, observability,
// connections, adapters, then services, in that order. The returned
// cleanup tears everything down in reverse.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	deps.Log = logger.New(logger.Options{
		Level:   cfg.LogLevel,
		Service: "mailsift",
		Pretty:  cfg.IsDevelopment(),
	})
	deps.Metrics = metrics.New()

	stopTracing, err := tracing.Setup(ctx, tracing.Options{
		Enabled:  cfg.EnableTracing,
		Endpoint: cfg.OTLPEndpoint,
		Service:  "mailsift",
	})
	if err != nil {
		deps.Log.Warn().Err(err).Msg("tracing setup failed, continuing without")
	} else {
		deps.stopTracing = stopTracing
		cleanups = append(cleanups, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = stopTracing(shutdownCtx)
		})
	}

	// Postgres (pgxpool for health checks and schema, sqlx for stores)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		runCleanups(cleanups)
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, db.Close)

	if err := database.InitSchema(ctx, db); err != nil {
		runCleanups(cleanups)
		return nil, nil, err
	}

	sqlDB, err := database.NewSQLx(cfg.DatabaseURL)
	if err != nil {
		runCleanups(cleanups)
		return nil, nil, err
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { _ = sqlDB.Close() })

	// Redis backs the queue; direct mode runs without it.
	redisClient, err := database.NewRedis(cfg.RedisAddr(), cfg.RedisPassword)
	if err != nil {
		if cfg.UseQueue {
			runCleanups(cleanups)
			return nil, nil, err
		}
		deps.Log.Warn().Err(err).Msg("redis unavailable, continuing in direct mode")
	} else {
		deps.Redis = redisClient
		cleanups = append(cleanups, func() { _ = redisClient.Close() })
		if cfg.UseQueue {
			deps.Queue = queue.New(redisClient, deps.Log)
		}
	}

	vault, err := crypto.NewVault([]byte(cfg.EncryptionKey))
	if err != nil {
		runCleanups(cleanups)
		return nil, nil, err
	}
	deps.Vault = vault

	// AWS clients. Credentials come from the default chain, which reads
	// AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY when set.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		runCleanups(cleanups)
		return nil, nil, err
	}
	deps.Blobs = blobstore.New(s3.NewFromConfig(awsCfg), cfg.S3Bucket, deps.Metrics, deps.Log)
	deps.Analyzer = ocr.New(textract.NewFromConfig(awsCfg), deps.Blobs, cfg.S3Bucket, deps.Metrics, deps.Log)

	// Repositories
	deps.Users = persistence.NewUserStore(sqlDB)
	deps.Processed = persistence.NewProcessedEmailStore(sqlDB)
	deps.Docs = persistence.NewExtractionStore(sqlDB)

	// Mailbox access
	deps.Breaker = provider.NewBreaker(deps.Log)
	deps.OAuth = provider.NewOAuthConfig(cfg.GmailClientID, cfg.GmailClientSecret, cfg.GmailRedirectURI)
	deps.Mailboxes = mailbox.NewFactory(deps.Users, vault, deps.OAuth, deps.Breaker, deps.Log)

	// Services
	deps.Watches = watch.NewManager(deps.Users, deps.Mailboxes, cfg.GoogleProjectID, cfg.PubSubTopic, deps.Metrics, deps.Log)

	var jobQueue out.JobQueue
	if deps.Queue != nil {
		jobQueue = deps.Queue
	}
	deps.Sync = ingest.NewSyncService(
		deps.Users, deps.Processed, deps.Mailboxes, jobQueue,
		ingest.NewLockSet(), deps.Metrics, deps.Log,
	)
	deps.Extract = extract.NewService(deps.Analyzer, deps.Docs, deps.Metrics, deps.Log)
	deps.Direct = ingest.NewDirectService(deps.Sync, deps.Extract, cfg.AttachmentConcurrency)

	cleanup := func() { runCleanups(cleanups) }
	return deps, cleanup, nil
}

// HealthCheck pings the stores the process depends on.
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

func runCleanups(cleanups []func()) {
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}
