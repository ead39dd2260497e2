package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/weftworks/weft/engine"
	"github.com/weftworks/weft/engine/emit"
	"github.com/weftworks/weft/engine/model"
	"github.com/weftworks/weft/engine/storage"
	"github.com/weftworks/weft/engine/store"
)

// Defaults for a locally-run service.
const (
	DefaultDBPath      = "weft.db"
	DefaultStorageDir  = "weft-files"
	DefaultEventBuffer = 64
)

// Config carries everything Open needs to wire a service. The zero value
// plus defaults yields a SQLite-backed local setup with no provider
// sources.
type Config struct {
	// DBPath is the SQLite database file. Used when MySQLDSN is empty.
	DBPath string

	// MySQLDSN selects the MySQL backend for server deployments.
	MySQLDSN string

	// StorageDir is the root of the local file store.
	StorageDir string

	// MaxParallel bounds per-level execution concurrency. Zero keeps the
	// engine default.
	MaxParallel int

	// CacheHitDelay is the perceptual delay before a cache hit replays.
	// Zero keeps the engine default.
	CacheHitDelay time.Duration

	// BreakerThreshold is the retry count that trips a node's circuit
	// breaker. Zero keeps the engine default.
	BreakerThreshold int

	// OpenAIKey, AnthropicKey, and GoogleKey enable the provider-backed
	// model sources. Empty keys leave a provider out.
	OpenAIKey    string
	AnthropicKey string
	GoogleKey    string

	// LogJSON switches the slog handler to JSON output.
	LogJSON bool
}

// DefaultConfig returns the local-first defaults.
func DefaultConfig() Config {
	return Config{
		DBPath:     DefaultDBPath,
		StorageDir: DefaultStorageDir,
	}
}

// FromEnv reads configuration from the process environment on top of the
// defaults. Unset or unparseable values keep their default.
func FromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("WEFT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	cfg.MySQLDSN = os.Getenv("WEFT_MYSQL_DSN")
	if v := os.Getenv("WEFT_STORAGE_DIR"); v != "" {
		cfg.StorageDir = v
	}
	if n, err := strconv.Atoi(os.Getenv("WEFT_MAX_PARALLEL")); err == nil {
		cfg.MaxParallel = n
	}
	if d, err := time.ParseDuration(os.Getenv("WEFT_CACHE_HIT_DELAY")); err == nil {
		cfg.CacheHitDelay = d
	}
	if n, err := strconv.Atoi(os.Getenv("WEFT_BREAKER_THRESHOLD")); err == nil {
		cfg.BreakerThreshold = n
	}
	cfg.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	cfg.AnthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.GoogleKey = os.Getenv("GOOGLE_API_KEY")
	if b, err := strconv.ParseBool(os.Getenv("WEFT_LOG_JSON")); err == nil {
		cfg.LogJSON = b
	}
	return cfg
}

// LoadConfig loads a dotenv file into the environment and then reads the
// configuration. With an empty path the default ".env" is tried and may
// be absent; an explicit path must exist.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		_ = godotenv.Load()
		return FromEnv(), nil
	}
	if err := godotenv.Load(path); err != nil {
		return Config{}, fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return FromEnv(), nil
}

// Logger builds the slog logger the configuration asks for.
func (c Config) Logger() *slog.Logger {
	if c.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// Open wires a full service from configuration: store, file storage,
// event broker, engine, and provider-backed model cache. The registry
// carries the caller's node handlers. Extra engine options are applied
// after the config-derived ones, so callers can attach metrics or a
// custom clock.
func Open(ctx context.Context, cfg Config, registry *engine.Registry, opts ...engine.Option) (*Service, error) {
	logger := cfg.Logger()

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	files, err := storage.NewLocal(cfg.StorageDir, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	engineOpts := []engine.Option{engine.WithFileStore(files)}
	if cfg.MaxParallel > 0 {
		engineOpts = append(engineOpts, engine.WithMaxParallel(cfg.MaxParallel))
	}
	if cfg.CacheHitDelay > 0 {
		engineOpts = append(engineOpts, engine.WithCacheHitDelay(cfg.CacheHitDelay))
	}
	if cfg.BreakerThreshold > 0 {
		engineOpts = append(engineOpts, engine.WithBreakerThreshold(cfg.BreakerThreshold))
	}
	engineOpts = append(engineOpts, opts...)

	broker := emit.NewBroker(DefaultEventBuffer)
	eng := engine.New(st, registry, broker, engineOpts...)

	models, closers := buildModelCache(ctx, cfg, logger)
	svc := New(st, eng, registry, files, models, broker, logger)
	svc.closers = closers

	backend := "memory"
	switch {
	case cfg.MySQLDSN != "":
		backend = "mysql"
	case cfg.DBPath != "":
		backend = cfg.DBPath
	}
	logger.Info("service ready", "db", backend, "storage", files.BaseDir())
	return svc, nil
}

func openStore(cfg Config) (store.Store, error) {
	if cfg.MySQLDSN != "" {
		return store.NewMySQLStore(cfg.MySQLDSN)
	}
	if cfg.DBPath != "" {
		return store.NewSQLiteStore(cfg.DBPath)
	}
	return store.NewMemStore(), nil
}

// buildModelCache assembles provider sources from the configured keys. A
// provider that fails to construct is logged and skipped rather than
// blocking startup.
func buildModelCache(ctx context.Context, cfg Config, logger *slog.Logger) (*model.Cache, []func() error) {
	var sources []model.Source
	var closers []func() error

	if cfg.OpenAIKey != "" {
		src, err := model.NewOpenAISource(cfg.OpenAIKey)
		if err != nil {
			logger.Warn("openai model source unavailable", "error", err)
		} else {
			sources = append(sources, src)
		}
	}
	if cfg.AnthropicKey != "" {
		src, err := model.NewAnthropicSource(cfg.AnthropicKey)
		if err != nil {
			logger.Warn("anthropic model source unavailable", "error", err)
		} else {
			sources = append(sources, src)
		}
	}
	if cfg.GoogleKey != "" {
		src, err := model.NewGoogleSource(ctx, cfg.GoogleKey)
		if err != nil {
			logger.Warn("google model source unavailable", "error", err)
		} else {
			sources = append(sources, src)
			closers = append(closers, src.Close)
		}
	}
	return model.NewCache(sources...), closers
}
