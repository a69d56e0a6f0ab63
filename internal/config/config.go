package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgallion1/mdplan/internal/plan"
	"github.com/dgallion1/mdplan/internal/planstore"
	"github.com/dgallion1/mdplan/internal/tokens"
)

type Config struct {
	Port string

	// Auth
	APIKey string

	// Worker pool
	WorkerCount  int
	MaxQueueSize int

	// Upload limits
	MaxUploadBytes int64

	// Job state
	JobTTL time.Duration

	// Chunking
	ChunkMode       plan.Mode
	TargetTokens    int
	Tolerance       float64
	MaxTokens       int
	OverlapTokens   int
	ContextFraction float64
	PricePer1K      float64

	// Model and tokenizer
	Model             string
	ContextLimit      int // explicit override; 0 uses the model table
	ModelLimitsFile   string
	TokenizerEncoding string
	Models            ModelTable

	// Plan store
	PlanStore     string
	PlanStoreDSN  string
	PlanCacheSize int

	// Prompts
	PromptsDir        string
	PromptPartPattern string
	SystemPrompt      string

	// PDF
	PDFFallbackPdftotext bool

	// Warnings collects recoverable problems found while loading, such as
	// an unknown chunk mode. Callers log them.
	Warnings []string
}

// Load reads .env (if present) and the environment.
func Load() (Config, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()

	cfg := Config{
		Port: envOr("PORT", "8090"),

		APIKey: os.Getenv("MDPLAN_API_KEY"),

		WorkerCount:  envInt("WORKER_COUNT", 4),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 100),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),

		TargetTokens:    envInt("CHUNK_TARGET_TOKENS", 10000),
		Tolerance:       envFloat("CHUNK_TOLERANCE", 0.1),
		MaxTokens:       envInt("CHUNK_MAX_TOKENS", 12000),
		OverlapTokens:   envInt("CHUNK_OVERLAP_TOKENS", 200),
		ContextFraction: envFloat("CHUNK_CONTEXT_FRACTION", tokens.DefaultSafetyMargin),
		PricePer1K:      envFloat("CHUNK_PRICING_INPUT_PER_1K", 0),

		Model:             envOr("MODEL", "gpt-4o"),
		ContextLimit:      envInt("MODEL_CONTEXT_LIMIT", 0),
		ModelLimitsFile:   os.Getenv("MODEL_LIMITS_FILE"),
		TokenizerEncoding: os.Getenv("TOKENIZER_ENCODING"),

		PlanStore:     envOr("PLAN_STORE", planstore.KindMemory),
		PlanStoreDSN:  os.Getenv("PLAN_STORE_DSN"),
		PlanCacheSize: envInt("PLAN_CACHE_SIZE", planstore.DefaultCacheSize),

		PromptsDir:        os.Getenv("PROMPTS_DIR"),
		PromptPartPattern: envOr("PROMPT_PART_PATTERN", "user_prompt_part*.md"),
		SystemPrompt:      os.Getenv("SYSTEM_PROMPT"),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),
	}

	mode, err := plan.ParseMode(os.Getenv("CHUNK_MODE"))
	if err != nil {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("CHUNK_MODE: %v; using %s", err, mode))
	}
	cfg.ChunkMode = mode

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}
	if cfg.PlanCacheSize <= 0 {
		cfg.PlanCacheSize = planstore.DefaultCacheSize
	}

	cfg.Models = DefaultModels()
	if cfg.ModelLimitsFile != "" {
		file, err := LoadModelTable(cfg.ModelLimitsFile)
		if err != nil {
			return cfg, err
		}
		cfg.Models = cfg.Models.Merge(file)
	}
	return cfg, nil
}

// Validate checks the chunking options and store selection.
func (c Config) Validate() error {
	if err := c.Params(0, 1).Validate(); err != nil {
		return err
	}
	switch strings.ToLower(c.PlanStore) {
	case planstore.KindMemory, planstore.KindSQLite, planstore.KindRedis:
	default:
		return fmt.Errorf("PLAN_STORE must be one of memory, sqlite, redis (got %q)", c.PlanStore)
	}
	return nil
}

// ValidateServer adds the requirements of the HTTP service.
func (c Config) ValidateServer() error {
	if c.APIKey == "" {
		return fmt.Errorf("MDPLAN_API_KEY is required")
	}
	return c.Validate()
}

// ResolvedContextLimit is the explicit override or the model table entry,
// 0 when neither is known.
func (c Config) ResolvedContextLimit() int {
	if c.ContextLimit > 0 {
		return c.ContextLimit
	}
	return c.Models.Limit(c.Model)
}

// ResolvedPrice is the explicit price or the model table entry.
func (c Config) ResolvedPrice() float64 {
	if c.PricePer1K > 0 {
		return c.PricePer1K
	}
	return c.Models.Price(c.Model)
}

// Params builds planning parameters. overhead and parts come from the
// loaded prompt parts.
func (c Config) Params(overhead, parts int) plan.Params {
	return plan.Params{
		Mode:           c.ChunkMode,
		TargetTokens:   c.TargetTokens,
		Tolerance:      c.Tolerance,
		HardCeiling:    c.MaxTokens,
		OverlapTokens:  c.OverlapTokens,
		ContextLimit:   c.ResolvedContextLimit(),
		SafetyMargin:   c.ContextFraction,
		PricePer1K:     c.ResolvedPrice(),
		PromptOverhead: overhead,
		Parts:          max(parts, 1),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
