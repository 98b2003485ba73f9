package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/phuslu/log"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendDisk     = "disk"
	BackendS3       = "s3"
)

type Config struct {
	Port               string   `toml:"port" validate:"required"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
	LogLevel           string   `toml:"log_level" validate:"oneof=trace debug info warn error"`

	DatabaseURL string `toml:"database_url" validate:"required"`

	BlobBackend  string `toml:"blob_backend" validate:"oneof=disk s3"`
	UploadDir    string `toml:"upload_dir" validate:"required_if=BlobBackend disk"`
	AwsAccessKey string `toml:"aws_access_key" validate:"required_if=BlobBackend s3"`
	AwsSecretKey string `toml:"aws_secret_key" validate:"required_if=BlobBackend s3"`
	AwsRegion    string `toml:"aws_region" validate:"required_if=BlobBackend s3"`
	BucketName   string `toml:"bucket_name" validate:"required_if=BlobBackend s3"`

	QueueBackend           string        `toml:"queue_backend" validate:"oneof=postgres badger"`
	QueueName              string        `toml:"queue_name" validate:"required"`
	QueuePollInterval      time.Duration `toml:"-" validate:"gt=0"`
	QueueVisibilityTimeout time.Duration `toml:"-" validate:"gt=0"`
	QueueMaxReceive        int           `toml:"queue_max_receive" validate:"gte=1"`
	BadgerPath             string        `toml:"badger_path"`

	StatusBackend       string        `toml:"status_backend" validate:"oneof=memory badger postgres"`
	StatusTTL           time.Duration `toml:"-" validate:"gte=0"`
	StatusSweepSchedule string        `toml:"status_sweep_schedule"`

	AIAPIKey         string  `toml:"gemini_api_key" validate:"required"`
	EmbedModel       string  `toml:"embed_model"`
	EmbedDim         int     `toml:"embed_dim" validate:"gt=0"`
	EmbedBatchSize   int     `toml:"embed_batch_size" validate:"gt=0"`
	EmbedRPS         float64 `toml:"embed_rps" validate:"gte=0"`
	GenModel         string  `toml:"gen_model"`
	VectorCollection string  `toml:"vector_collection" validate:"required"`
	RetrievalTopK    int     `toml:"retrieval_top_k" validate:"gt=0"`

	ChunkSize         int    `toml:"chunk_size" validate:"gt=0"`
	ChunkOverlap      int    `toml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
	WorkerConcurrency int    `toml:"worker_concurrency" validate:"gt=0"`
	CallbackURL       string `toml:"callback_url" validate:"omitempty,url"`

	MaxFilesPerUpload int   `toml:"max_files_per_upload" validate:"gt=0"`
	MaxUploadMB       int64 `toml:"max_upload_mb" validate:"gt=0"`

	ExtractTimeout time.Duration `toml:"-" validate:"gt=0"`
	EmbedTimeout   time.Duration `toml:"-" validate:"gt=0"`
	IndexTimeout   time.Duration `toml:"-" validate:"gt=0"`
	LLMTimeout     time.Duration `toml:"-" validate:"gt=0"`
}

// Defaults returns a configuration suitable for local operation.
func Defaults() *Config {
	return &Config{
		Port:               "8000",
		CORSAllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		LogLevel:           "info",

		BlobBackend: BackendDisk,
		UploadDir:   "uploads",
		AwsRegion:   "us-east-2",
		BucketName:  "contexta-docs",

		QueueBackend:           BackendPostgres,
		QueueName:              "file-upload-queue",
		QueuePollInterval:      500 * time.Millisecond,
		QueueVisibilityTimeout: 5 * time.Minute,
		QueueMaxReceive:        3,
		BadgerPath:             "data/badger",

		StatusBackend:       BackendMemory,
		StatusTTL:           24 * time.Hour,
		StatusSweepSchedule: "@every 10m",

		EmbedModel:       "text-embedding-004",
		EmbedDim:         768,
		EmbedBatchSize:   16,
		EmbedRPS:         5,
		GenModel:         "gemini-1.5-flash",
		VectorCollection: "pdf_chunks",
		RetrievalTopK:    4,

		ChunkSize:         1000,
		ChunkOverlap:      200,
		WorkerConcurrency: 100,

		MaxFilesPerUpload: 10,
		MaxUploadMB:       50,

		ExtractTimeout: 2 * time.Minute,
		EmbedTimeout:   30 * time.Second,
		IndexTimeout:   30 * time.Second,
		LLMTimeout:     2 * time.Minute,
	}
}

// LoadConfig loads .env, then the optional TOML file at path, then the
// environment, and returns the merged config. Later sources win.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	if path == "" {
		path = os.Getenv("PDFCHAT_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
		if err := applyFileDurations(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.CallbackURL == "" {
		cfg.CallbackURL = "http://localhost:" + cfg.Port
	}
	return cfg, nil
}

// fileDurations mirrors the duration settings as strings ("5m", "500ms").
type fileDurations struct {
	QueuePollInterval      string `toml:"queue_poll_interval"`
	QueueVisibilityTimeout string `toml:"queue_visibility_timeout"`
	StatusTTL              string `toml:"status_ttl"`
	ExtractTimeout         string `toml:"extract_timeout"`
	EmbedTimeout           string `toml:"embed_timeout"`
	IndexTimeout           string `toml:"index_timeout"`
	LLMTimeout             string `toml:"llm_timeout"`
}

func applyFileDurations(data []byte, cfg *Config) error {
	var fd fileDurations
	if err := toml.Unmarshal(data, &fd); err != nil {
		return err
	}
	fields := []struct {
		raw string
		dst *time.Duration
	}{
		{fd.QueuePollInterval, &cfg.QueuePollInterval},
		{fd.QueueVisibilityTimeout, &cfg.QueueVisibilityTimeout},
		{fd.StatusTTL, &cfg.StatusTTL},
		{fd.ExtractTimeout, &cfg.ExtractTimeout},
		{fd.EmbedTimeout, &cfg.EmbedTimeout},
		{fd.IndexTimeout, &cfg.IndexTimeout},
		{fd.LLMTimeout, &cfg.LLMTimeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("duration %q: %w", f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", cfg.CORSAllowedOrigins)
	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", cfg.LogLevel))

	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)

	cfg.BlobBackend = getEnv("BLOB_BACKEND", cfg.BlobBackend)
	cfg.UploadDir = getEnv("UPLOAD_DIR", cfg.UploadDir)
	cfg.AwsAccessKey = getEnv("AWS_ACCESS_KEY", cfg.AwsAccessKey)
	cfg.AwsSecretKey = getEnv("AWS_SECRET_KEY", cfg.AwsSecretKey)
	cfg.AwsRegion = getEnv("AWS_REGION", cfg.AwsRegion)
	cfg.BucketName = getEnv("BUCKET_NAME", cfg.BucketName)

	cfg.QueueBackend = getEnv("QUEUE_BACKEND", cfg.QueueBackend)
	cfg.QueueName = getEnv("QUEUE_NAME", cfg.QueueName)
	cfg.QueuePollInterval = getEnvDuration("QUEUE_POLL_INTERVAL", cfg.QueuePollInterval)
	cfg.QueueVisibilityTimeout = getEnvDuration("QUEUE_VISIBILITY_TIMEOUT", cfg.QueueVisibilityTimeout)
	cfg.QueueMaxReceive = getEnvInt("QUEUE_MAX_RECEIVE", cfg.QueueMaxReceive)
	cfg.BadgerPath = getEnv("BADGER_PATH", cfg.BadgerPath)

	cfg.StatusBackend = getEnv("STATUS_BACKEND", cfg.StatusBackend)
	cfg.StatusTTL = getEnvDuration("STATUS_TTL", cfg.StatusTTL)
	cfg.StatusSweepSchedule = getEnv("STATUS_SWEEP_SCHEDULE", cfg.StatusSweepSchedule)

	cfg.AIAPIKey = getEnv("GEMINI_API_KEY", cfg.AIAPIKey)
	cfg.EmbedModel = getEnv("EMBED_MODEL", cfg.EmbedModel)
	cfg.EmbedDim = getEnvInt("EMBED_DIM", cfg.EmbedDim)
	cfg.EmbedBatchSize = getEnvInt("EMBED_BATCH_SIZE", cfg.EmbedBatchSize)
	cfg.EmbedRPS = getEnvFloat("EMBED_RPS", cfg.EmbedRPS)
	cfg.GenModel = getEnv("GEN_MODEL", cfg.GenModel)
	cfg.VectorCollection = getEnv("VECTOR_COLLECTION", cfg.VectorCollection)
	cfg.RetrievalTopK = getEnvInt("RETRIEVAL_TOP_K", cfg.RetrievalTopK)

	cfg.ChunkSize = getEnvInt("CHUNK_SIZE", cfg.ChunkSize)
	cfg.ChunkOverlap = getEnvInt("CHUNK_OVERLAP", cfg.ChunkOverlap)
	cfg.WorkerConcurrency = getEnvInt("WORKER_CONCURRENCY", cfg.WorkerConcurrency)
	cfg.CallbackURL = getEnv("CALLBACK_URL", cfg.CallbackURL)

	cfg.MaxFilesPerUpload = getEnvInt("MAX_FILES_PER_UPLOAD", cfg.MaxFilesPerUpload)
	cfg.MaxUploadMB = int64(getEnvInt("MAX_UPLOAD_MB", int(cfg.MaxUploadMB)))

	cfg.ExtractTimeout = getEnvDuration("EXTRACT_TIMEOUT", cfg.ExtractTimeout)
	cfg.EmbedTimeout = getEnvDuration("EMBED_TIMEOUT", cfg.EmbedTimeout)
	cfg.IndexTimeout = getEnvDuration("INDEX_TIMEOUT", cfg.IndexTimeout)
	cfg.LLMTimeout = getEnvDuration("LLM_TIMEOUT", cfg.LLMTimeout)
}

// Validate checks field constraints. Process-specific rules (which backends
// can be shared between processes) are checked by the caller.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// RequireSharedQueue fails when the queue backend cannot be reached from a
// second process. Badger holds an exclusive lock on its directory.
func (c *Config) RequireSharedQueue() error {
	if c.QueueBackend == BackendBadger {
		return fmt.Errorf("queue backend %q is single-process; use %q or run standalone", BackendBadger, BackendPostgres)
	}
	return nil
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Int("default", def).Msg("not an int, using default")
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Float64("default", def).Msg("not a number, using default")
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Dur("default", def).Msg("not a duration, using default")
		return def
	}
	return d
}

func getEnvList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
