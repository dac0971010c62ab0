package bootstrap

import (
	"context"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"post_worker/adapter/out/messaging"
	"post_worker/adapter/out/persistence"
	"post_worker/config"
	"post_worker/core/agent/llm"
	"post_worker/core/agent/rag"
	"post_worker/core/domain"
	"post_worker/core/port/out"
	"post_worker/core/service/compliance"
	"post_worker/core/service/dedup"
	"post_worker/core/service/diversity"
	"post_worker/core/service/normalize"
	"post_worker/core/service/orchestrator"
	"post_worker/core/service/pipeline"
	"post_worker/infra/database"
	"post_worker/internal/rulepack"
	"post_worker/pkg/cache"
	"post_worker/pkg/logger"
	"post_worker/pkg/ratelimit"
	"post_worker/pkg/resilience"
	"post_worker/pkg/snowflake"
)

const (
	historyFile     = "history.jsonl"
	diagnosticsFile = "last_raw_output.txt"
	embeddingPrefix = "post_worker:embedding:"
)

type Dependencies struct {
	Config *config.Config

	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	// Storage
	History     out.HistoryRepository
	Queue       out.QueueWriter
	Archive     out.QueueArchive
	Diagnostics *persistence.FileDiagnostics
	Notifier    *messaging.RedisNotifier
	RunLock     *ratelimit.RunLock

	// Generation
	Rules     *domain.RuleSet
	LLMClient *llm.Client
	Generator out.TextGenerator
	Embedder  *rag.Embedder
	IDs       *snowflake.Generator

	// Stages
	Normalizer   *normalize.Normalizer
	Filter       *diversity.Filter
	Dedup        *dedup.Deduplicator
	Orchestrator *orchestrator.Orchestrator
	Driver       *pipeline.Driver
}

// NewDependencies wires every component of a run. Redis and MongoDB are
// optional and only logged when unreachable; a configured Postgres history
// is required.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	rules, err := rulepack.Load(cfg.RulesPath)
	if err != nil {
		return nil, nil, err
	}
	deps.Rules = rules
	if len(rules.PendingReview) > 0 {
		logger.Warn("Rule pack values awaiting review: %v", rules.PendingReview)
	}

	ids, err := snowflake.NewGenerator(cfg.NodeID)
	if err != nil {
		return nil, nil, err
	}
	deps.IDs = ids

	// History
	switch cfg.HistoryBackend {
	case "postgres":
		sqlDB, err := database.NewPostgres(ctx, cfg.DatabaseURL, nil)
		if err != nil {
			return nil, nil, err
		}
		deps.SQLDB = sqlDB
		cleanups = append(cleanups, func() { sqlDB.Close() })

		repo := persistence.NewPostgresHistory(sqlDB)
		if err := repo.EnsureSchema(ctx); err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.History = repo
		logger.Info("History backend: postgres")
	default:
		deps.History = persistence.NewFileHistory(filepath.Join(cfg.OutDir, historyFile))
		logger.Info("History backend: %s", filepath.Join(cfg.OutDir, historyFile))
	}

	deps.Queue = persistence.NewFileQueueWriter(cfg.OutDir)
	deps.Diagnostics = persistence.NewFileDiagnostics(filepath.Join(cfg.OutDir, diagnosticsFile))

	// Redis (embedding cache L2, pacing, run lock, notifications)
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(ctx, cfg.RedisURL, nil)
		if err != nil {
			logger.Warn("Redis connection failed, running without shared state: %v", err)
		} else {
			deps.Redis = redisClient
			cleanups = append(cleanups, func() { redisClient.Close() })

			deps.Notifier = messaging.NewRedisNotifier(redisClient)
			deps.RunLock = ratelimit.NewRunLock(redisClient)
		}
	}

	// MongoDB (queue archive)
	if cfg.MongoDBURL != "" {
		mongoClient, err := database.NewMongo(ctx, cfg.MongoDBURL)
		if err != nil {
			logger.Warn("MongoDB connection failed, queue archive disabled: %v", err)
		} else {
			deps.MongoDB = mongoClient
			cleanups = append(cleanups, func() {
				disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				mongoClient.Disconnect(disconnectCtx)
			})

			archive := persistence.NewMongoQueueArchive(mongoClient.Database(cfg.MongoDBName))
			if err := archive.EnsureIndexes(ctx); err != nil {
				logger.Warn("Failed to ensure queue archive indexes: %v", err)
			}
			deps.Archive = archive
		}
	}

	// LLM client
	llmClient, err := llm.NewClientWithConfig(llm.ClientConfig{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		Model:          cfg.LLMModel,
		EmbeddingModel: cfg.EmbeddingModel,
		MaxTokens:      cfg.LLMMaxTokens,
		Temperature:    cfg.LLMTemperature,
		Timeout:        time.Duration(cfg.LLMTimeoutSec) * time.Second,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.LLMClient = llmClient
	deps.Generator = deps.LLMClient
	if cfg.LLMRequestsPerMin > 0 {
		limiter := ratelimit.PerMinute(deps.Redis, cfg.LLMRequestsPerMin)
		deps.Generator = llm.NewThrottledGenerator(deps.LLMClient, limiter, "generate:"+cfg.LLMModel)
		logger.Info("Generation calls paced at %d per minute", cfg.LLMRequestsPerMin)
	}

	// Embeddings
	deps.Embedder = newEmbedder(cfg, deps)

	// Stages
	deps.Normalizer = normalize.New(rules, cfg.Language)
	deps.Filter = diversity.New(rules, compliance.NewChecker(rules.Compliance))
	deps.Dedup = dedup.New(deps.Embedder, cfg.SimilarityThreshold, cfg.EmbedHistoryWindow, logger.Named("dedup"))
	deps.Orchestrator = orchestrator.New(orchestrator.Config{
		MaxRateLimitRetries: cfg.RetryMaxRateLimit,
		MaxTransportRetries: cfg.RetryMaxTransport,
		BaseDelay:           cfg.RetryBaseDelay,
		TransportDelay:      cfg.RetryTransportBase,
		MaxDelay:            cfg.RetryMaxDelay,
		Jitter:              cfg.RetryJitter,
		FailFast:            cfg.FailFast,
	}, deps.Diagnostics, logger.Named("orchestrator"))

	deps.Driver = pipeline.New(pipeline.Config{
		BriefPath:         cfg.BriefPath,
		CategoriesPath:    cfg.CategoriesPath,
		RolesPath:         cfg.RolesPath,
		NumPosts:          cfg.NumPosts,
		RecentPostsMax:    cfg.RecentPostsMax,
		PromptRecentItems: cfg.PromptRecentItems,
		Language:          cfg.Language,
		FallbackCategory:  cfg.FallbackCategory,
		ForcedCategories:  cfg.ForcedCategories,
		ReviewEnabled:     cfg.ReviewEnabled,
		MaxTokens:         cfg.LLMMaxTokens,
	}, pipeline.Deps{
		History:      deps.History,
		Generator:    deps.Generator,
		Queue:        deps.Queue,
		Archive:      deps.Archive,
		Notifier:     notifier(deps.Notifier),
		Diagnostics:  deps.Diagnostics,
		Rules:        rules,
		Normalizer:   deps.Normalizer,
		Filter:       deps.Filter,
		Dedup:        deps.Dedup,
		Orchestrator: deps.Orchestrator,
		IDs:          deps.IDs,
	}, logger.Named("pipeline"))

	return deps, cleanup, nil
}

// notifier keeps a missing Redis notifier a nil interface.
func notifier(n *messaging.RedisNotifier) out.RunNotifier {
	if n == nil {
		return nil
	}
	return n
}

// newEmbedder returns a disabled embedder when embeddings are switched off,
// never nil.
func newEmbedder(cfg *config.Config, deps *Dependencies) *rag.Embedder {
	log := logger.Named("embedder")
	if !cfg.EmbeddingsEnabled {
		log.Info().Msg("embeddings disabled, similarity dedup will be skipped")
		return rag.NewEmbedder(nil, nil, nil, log)
	}

	local := rag.NewEmbeddingCache(rag.DefaultCacheSize, rag.DefaultCacheTTL)

	var embeddingCache out.EmbeddingCache = local
	if deps.Redis != nil {
		shared := rag.NewRedisEmbeddingCache(
			cache.NewRedisCache(deps.Redis, embeddingPrefix), cfg.EmbeddingCacheTTL, log)
		embeddingCache = rag.NewTieredCache(local, shared)
	}

	breaker := resilience.NewCircuitBreaker(rag.BreakerConfig(), log)
	return rag.NewEmbedder(deps.LLMClient, embeddingCache, breaker, log)
}
