package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"post_worker/pkg/apperr"
)

type Config struct {
	Environment string
	LogLevel    string
	NodeID      int64

	// OpenAI-compatible endpoint
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	LLMModel          string
	LLMMaxTokens      int
	LLMTemperature    float64
	LLMTimeoutSec     int
	LLMRequestsPerMin int
	EmbeddingModel    string
	EmbeddingsEnabled bool

	// Content documents
	BriefPath      string
	CategoriesPath string
	RolesPath      string
	RulesPath      string

	// Run shape
	OutDir            string
	NumPosts          int
	RecentPostsMax    int
	PromptRecentItems int
	Language          string
	FallbackCategory  string
	ForcedCategories  []string
	ReviewEnabled     bool

	// Similarity dedup
	SimilarityThreshold float64
	EmbedHistoryWindow  int

	// Retry / backoff
	RetryMaxRateLimit  int
	RetryMaxTransport  int
	RetryBaseDelay     time.Duration
	RetryTransportBase time.Duration
	RetryMaxDelay      time.Duration
	RetryJitter        time.Duration
	FailFast           bool

	// Storage backends
	HistoryBackend    string
	DatabaseURL       string
	RedisURL          string
	EmbeddingCacheTTL time.Duration
	MongoDBURL        string
	MongoDBName       string
	RunLockTTL        time.Duration

	// Schedule mode
	RunInterval time.Duration
	RunTimeout  time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		NodeID:      int64(getEnvInt("NODE_ID", 1)),

		// OpenAI
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", "ollama"),
		OpenAIBaseURL:     getEnv("OPENAI_API_BASE", ""),
		LLMModel:          getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:      getEnvInt("LLM_MAX_TOKENS", 2048),
		LLMTemperature:    getEnvFloat("LLM_TEMPERATURE", 0.7),
		LLMTimeoutSec:     getEnvInt("LLM_TIMEOUT_SEC", 120),
		LLMRequestsPerMin: getEnvInt("LLM_REQUESTS_PER_MINUTE", 0),
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", "text-embedding-ada-002"),
		EmbeddingsEnabled: getEnvBool("EMBEDDINGS_ENABLED", true),

		// Content
		BriefPath:      getEnv("BRIEF_MD_PATH", "content/brief.md"),
		CategoriesPath: getEnv("CATEGORIES_MD_PATH", "content/post_categories.md"),
		RolesPath:      getEnv("ROLES_MD_PATH", "content/roles.md"),
		RulesPath:      getEnv("RULES_PATH", ""),

		// Run
		OutDir:            getEnv("OUT_DIR", "out"),
		NumPosts:          getEnvInt("N_POSTS", 10),
		RecentPostsMax:    getEnvInt("RECENT_POSTS_MAX", 50),
		PromptRecentItems: getEnvInt("PROMPT_RECENT_ITEMS", 5),
		Language:          getEnv("LANGUAGE", "de"),
		FallbackCategory:  getEnv("FALLBACK_CATEGORY", "educational"),
		ForcedCategories:  getEnvSlice("FORCED_CATEGORIES", nil),
		ReviewEnabled:     getEnvBool("REVIEW_ENABLED", true),

		// Dedup
		SimilarityThreshold: getEnvFloat("SIMILARITY_THRESHOLD", 0.88),
		EmbedHistoryWindow:  getEnvInt("EMBED_HISTORY_WINDOW", 50),

		// Retry
		RetryMaxRateLimit:  getEnvInt("RETRY_MAX_RATE_LIMIT", 3),
		RetryMaxTransport:  getEnvInt("RETRY_MAX_TRANSPORT", 2),
		RetryBaseDelay:     getEnvDuration("RETRY_BASE_DELAY_MS", 1000*time.Millisecond),
		RetryTransportBase: getEnvDuration("RETRY_TRANSPORT_DELAY_MS", 2000*time.Millisecond),
		RetryMaxDelay:      getEnvDuration("RETRY_MAX_DELAY_MS", 60*time.Second),
		RetryJitter:        getEnvDuration("RETRY_JITTER_MS", 250*time.Millisecond),
		FailFast:           getEnvBool("FAIL_FAST", false),

		// Storage
		HistoryBackend:    strings.ToLower(getEnv("HISTORY_BACKEND", "file")),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RedisURL:          getEnv("REDIS_URL", ""),
		EmbeddingCacheTTL: time.Duration(getEnvInt("EMBEDDING_CACHE_TTL_HOUR", 168)) * time.Hour,
		MongoDBURL:        getEnv("MONGODB_URL", ""),
		MongoDBName:       getEnv("MONGODB_DATABASE", "post_worker"),
		RunLockTTL:        time.Duration(getEnvInt("RUN_LOCK_TTL_SEC", 900)) * time.Second,

		// Schedule
		RunInterval: time.Duration(getEnvInt("RUN_INTERVAL_MIN", 240)) * time.Minute,
		RunTimeout:  time.Duration(getEnvInt("RUN_TIMEOUT_SEC", 600)) * time.Second,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no run could work with.
func (c *Config) Validate() error {
	switch {
	case c.NumPosts <= 0:
		return apperr.ConfigError(fmt.Sprintf("N_POSTS must be positive, got %d", c.NumPosts))
	case c.RecentPostsMax < 0:
		return apperr.ConfigError("RECENT_POSTS_MAX must not be negative")
	case c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1:
		return apperr.ConfigError(fmt.Sprintf("SIMILARITY_THRESHOLD must be in (0,1], got %v", c.SimilarityThreshold))
	case c.HistoryBackend != "file" && c.HistoryBackend != "postgres":
		return apperr.ConfigError(fmt.Sprintf("unknown HISTORY_BACKEND %q", c.HistoryBackend))
	case c.HistoryBackend == "postgres" && c.DatabaseURL == "":
		return apperr.ConfigError("HISTORY_BACKEND=postgres requires DATABASE_URL")
	case c.LLMRequestsPerMin < 0:
		return apperr.ConfigError("LLM_REQUESTS_PER_MINUTE must not be negative")
	case c.RunInterval <= 0:
		return apperr.ConfigError("RUN_INTERVAL_MIN must be positive")
	case c.NodeID < 0 || c.NodeID > 1023:
		return apperr.ConfigError(fmt.Sprintf("NODE_ID must be between 0 and 1023, got %d", c.NodeID))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvDuration reads a millisecond count.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
