package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Vision   VisionConfig   `yaml:"vision"`
	Capture  CaptureConfig  `yaml:"capture"`
	Detector DetectorConfig `yaml:"detector"`
	Location LocationConfig `yaml:"location"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	APIKey      string `yaml:"api_key"`
}

type StoreConfig struct {
	Driver     string         `yaml:"driver"` // sqlite | postgres
	SQLitePath string         `yaml:"sqlite_path"`
	Postgres   PostgresConfig `yaml:"postgres"`
	InitWait   InitWaitConfig `yaml:"init_wait"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// InitWaitConfig bounds how long store operations wait for the engine to open.
type InitWaitConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	InputSize          int     `yaml:"input_size"`
	MatchThreshold     float64 `yaml:"match_threshold"`
	LivenessEnabled    *bool   `yaml:"liveness_enabled"`
}

// Liveness reports whether the liveness check is on. Unset means on.
func (v VisionConfig) Liveness() bool {
	return v.LivenessEnabled == nil || *v.LivenessEnabled
}

type CaptureConfig struct {
	Source      string `yaml:"source"`
	InputFormat string `yaml:"input_format"`
	FPS         int    `yaml:"fps"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
}

type DetectorConfig struct {
	Enabled         bool          `yaml:"enabled"`
	AutoStart       bool          `yaml:"auto_start"`
	HistorySize     int           `yaml:"history_size"`
	CropPadding     int           `yaml:"crop_padding"`
	JPEGQuality     int           `yaml:"jpeg_quality"`
	LocationTimeout time.Duration `yaml:"location_timeout"`
}

// LocationConfig is the fixed position reported for detections. Zero
// accuracy means no location is configured.
type LocationConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Accuracy  float64 `yaml:"accuracy"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
// A .env file in the working directory, if present, is loaded into the
// environment first without replacing variables that are already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Vision.MatchThreshold <= 0 || c.Vision.MatchThreshold >= 1 {
		return fmt.Errorf("vision.match_threshold must be in (0, 1), got %v", c.Vision.MatchThreshold)
	}
	if c.Detector.JPEGQuality < 1 || c.Detector.JPEGQuality > 100 {
		return fmt.Errorf("detector.jpeg_quality must be in [1, 100], got %d", c.Detector.JPEGQuality)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "data/lookout.db"
	}
	if cfg.Store.Postgres.Port == 0 {
		cfg.Store.Postgres.Port = 5432
	}
	if cfg.Store.Postgres.MaxConns == 0 {
		cfg.Store.Postgres.MaxConns = 10
	}
	if cfg.Store.InitWait.PollInterval == 0 {
		cfg.Store.InitWait.PollInterval = 100 * time.Millisecond
	}
	if cfg.Store.InitWait.MaxAttempts == 0 {
		cfg.Store.InitWait.MaxAttempts = 50
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.InputSize == 0 {
		cfg.Vision.InputSize = 512
	}
	if cfg.Vision.MatchThreshold == 0 {
		cfg.Vision.MatchThreshold = 0.6
	}
	if cfg.Capture.FPS == 0 {
		cfg.Capture.FPS = 5
	}
	if cfg.Capture.Width == 0 {
		cfg.Capture.Width = 1280
	}
	if cfg.Capture.Height == 0 {
		cfg.Capture.Height = 720
	}
	if cfg.Detector.HistorySize == 0 {
		cfg.Detector.HistorySize = 10
	}
	if cfg.Detector.CropPadding == 0 {
		cfg.Detector.CropPadding = 30
	}
	if cfg.Detector.JPEGQuality == 0 {
		cfg.Detector.JPEGQuality = 90
	}
	if cfg.Detector.LocationTimeout == 0 {
		cfg.Detector.LocationTimeout = 5 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOOKOUT_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOOKOUT_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = port
		}
	}
	if v := os.Getenv("LOOKOUT_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("LOOKOUT_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("LOOKOUT_SQLITE_PATH"); v != "" {
		cfg.Store.SQLitePath = v
	}
	if v := os.Getenv("LOOKOUT_DB_HOST"); v != "" {
		cfg.Store.Postgres.Host = v
	}
	if v := os.Getenv("LOOKOUT_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Store.Postgres.Port = port
		}
	}
	if v := os.Getenv("LOOKOUT_DB_NAME"); v != "" {
		cfg.Store.Postgres.Name = v
	}
	if v := os.Getenv("LOOKOUT_DB_USER"); v != "" {
		cfg.Store.Postgres.User = v
	}
	if v := os.Getenv("LOOKOUT_DB_PASSWORD"); v != "" {
		cfg.Store.Postgres.Password = v
	}
	if v := os.Getenv("LOOKOUT_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("LOOKOUT_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("LOOKOUT_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("LOOKOUT_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("LOOKOUT_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("LOOKOUT_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("LOOKOUT_MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Vision.MatchThreshold = f
		}
	}
	if v := os.Getenv("LOOKOUT_LIVENESS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Vision.LivenessEnabled = &b
		}
	}
	if v := os.Getenv("LOOKOUT_CAPTURE_SOURCE"); v != "" {
		cfg.Capture.Source = v
	}
	if v := os.Getenv("LOOKOUT_DETECTOR_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Detector.Enabled = b
		}
	}
	if v := os.Getenv("LOOKOUT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
