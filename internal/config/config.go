package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"

	"imagelab/internal/mirror"
	"imagelab/internal/upload"
)

// Config holds everything the server and the sweeper need. Values come from
// the environment first and can be overridden with options.
type Config struct {
	Listen         string `env:"IMAGELAB_LISTEN,default=:8000"`
	UploadDir      string `env:"IMAGELAB_UPLOAD_DIR,default=./static/user_images"`
	PresetDir      string `env:"IMAGELAB_PRESET_DIR,default=./static/imagenet_subset"`
	DBPath         string `env:"IMAGELAB_DB_PATH,default=./imagelab.sqlite"`
	MaxAgeSeconds  int    `env:"IMAGELAB_MAX_AGE_SECONDS,default=3600"`
	SweepSeconds   int    `env:"IMAGELAB_SWEEP_INTERVAL_SECONDS,default=600"`
	MaxUploadBytes int64  `env:"IMAGELAB_MAX_UPLOAD_BYTES,default=10485760"`
	VerifyContent  bool   `env:"IMAGELAB_VERIFY_CONTENT,default=true"`
	ClassifierURL  string `env:"IMAGELAB_CLASSIFIER_URL,default=http://localhost:8080"`
	LogLevel       string `env:"IMAGELAB_LOG_LEVEL,default=info"`

	MirrorEndpoint  string `env:"IMAGELAB_MIRROR_ENDPOINT"`
	MirrorBucket    string `env:"IMAGELAB_MIRROR_BUCKET"`
	MirrorAccessKey string `env:"IMAGELAB_MIRROR_ACCESS_KEY"`
	MirrorSecretKey string `env:"IMAGELAB_MIRROR_SECRET_KEY"`
	MirrorRegion    string `env:"IMAGELAB_MIRROR_REGION"`
	MirrorUseSSL    bool   `env:"IMAGELAB_MIRROR_SSL,default=false"`
}

type ConfigOption func(*Config)

func WithListen(addr string) ConfigOption {
	return func(cfg *Config) {
		cfg.Listen = addr
	}
}

func WithUploadDir(dir string) ConfigOption {
	return func(cfg *Config) {
		cfg.UploadDir = dir
	}
}

func WithPresetDir(dir string) ConfigOption {
	return func(cfg *Config) {
		cfg.PresetDir = dir
	}
}

func WithDBPath(path string) ConfigOption {
	return func(cfg *Config) {
		cfg.DBPath = path
	}
}

func WithClassifierURL(url string) ConfigOption {
	return func(cfg *Config) {
		cfg.ClassifierURL = url
	}
}

func WithLogLevel(level string) ConfigOption {
	return func(cfg *Config) {
		cfg.LogLevel = level
	}
}

// WithRetention sets the retention window and sweep interval, truncated to
// whole seconds.
func WithRetention(policy upload.RetentionPolicy) ConfigOption {
	return func(cfg *Config) {
		cfg.MaxAgeSeconds = int(policy.MaxAge / time.Second)
		cfg.SweepSeconds = int(policy.SweepInterval / time.Second)
	}
}

func WithMaxUploadBytes(n int64) ConfigOption {
	return func(cfg *Config) {
		cfg.MaxUploadBytes = n
	}
}

func WithVerifyContent(verify bool) ConfigOption {
	return func(cfg *Config) {
		cfg.VerifyContent = verify
	}
}

// FromEnvSet builds a Config from es, filling in tag defaults for anything
// unset, then applies opts.
func FromEnvSet(es env.EnvSet, opts ...ConfigOption) (Config, error) {
	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg, cfg.Validate()
}

// Load reads dotenvPath (if it exists) into the process environment without
// overriding variables that are already set, then builds a Config from the
// environment.
func Load(dotenvPath string, opts ...ConfigOption) (Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("load %s: %w", dotenvPath, err)
			}
		} else {
			slog.Debug("Loaded environment file", "path", dotenvPath)
		}
	}

	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}

	return FromEnvSet(es, opts...)
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch {
	case c.Listen == "":
		return errors.New("listen address must not be empty")
	case c.UploadDir == "":
		return errors.New("upload dir must not be empty")
	case c.DBPath == "":
		return errors.New("database path must not be empty")
	case c.MaxUploadBytes <= 0:
		return fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes)
	case c.MirrorEndpoint != "" && c.MirrorBucket == "":
		return errors.New("mirror bucket must be set when a mirror endpoint is configured")
	}
	return c.Retention().Validate()
}

// Retention returns the sweeper policy.
func (c Config) Retention() upload.RetentionPolicy {
	return upload.RetentionPolicy{
		MaxAge:        time.Duration(c.MaxAgeSeconds) * time.Second,
		SweepInterval: time.Duration(c.SweepSeconds) * time.Second,
	}
}

// Mirror returns the bucket mirror settings. The mirror is disabled unless
// both an endpoint and a bucket are configured.
func (c Config) Mirror() mirror.Config {
	return mirror.Config{
		Endpoint:  c.MirrorEndpoint,
		Bucket:    c.MirrorBucket,
		AccessKey: c.MirrorAccessKey,
		SecretKey: c.MirrorSecretKey,
		Region:    c.MirrorRegion,
		UseSSL:    c.MirrorUseSSL,
	}
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
