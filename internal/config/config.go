package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Matcher   MatcherConfig   `yaml:"matcher" toml:"matcher"`
	Extractor ExtractorConfig `yaml:"extractor" toml:"extractor"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Audit     AuditConfig     `yaml:"audit" toml:"audit"`
	Cache     CacheConfig     `yaml:"cache" toml:"cache"`
	Images    ImagesConfig    `yaml:"images" toml:"images"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Ops       OpsConfig       `yaml:"ops" toml:"ops"`
	Scheduler SchedulerConfig `yaml:"scheduler" toml:"scheduler"`
	Web       WebConfig       `yaml:"web" toml:"web"`
}

// MatcherConfig holds the decision parameters of the face matcher.
type MatcherConfig struct {
	// DistanceThreshold is the maximum Euclidean distance for a match.
	// 0.6 is the calibration of the dlib ResNet face model.
	DistanceThreshold       float64 `yaml:"distance_threshold" toml:"distance_threshold" default:"0.6"`
	Dim                     int     `yaml:"dim" toml:"dim" default:"128"`
	MaxDescriptorsPerPerson int     `yaml:"max_descriptors_per_person" toml:"max_descriptors_per_person" default:"20"`
}

type ExtractorConfig struct {
	URL             string `yaml:"url" toml:"url" default:"http://localhost:8000"`
	TimeoutMs       int    `yaml:"timeout_ms" toml:"timeout_ms" default:"10000"`
	MultiFacePolicy string `yaml:"multi_face_policy" toml:"multi_face_policy" default:"best"` // "best" or "reject"
}

// Timeout returns the extractor call deadline.
func (c *ExtractorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

type DatabaseConfig struct {
	URL           string `yaml:"url" toml:"url"`                                      // PostgreSQL connection URL
	MaxOpenConns  int    `yaml:"max_open_conns" toml:"max_open_conns" default:"25"`   // Maximum open connections
	MaxIdleConns  int    `yaml:"max_idle_conns" toml:"max_idle_conns" default:"5"`    // Maximum idle connections
	HNSWEnabled   bool   `yaml:"hnsw_enabled" toml:"hnsw_enabled"`                    // Keep an in-memory candidate index
	HNSWIndexPath string `yaml:"hnsw_index_path" toml:"hnsw_index_path"`              // Path to persist the candidate index (optional)
}

type AuditConfig struct {
	Backend    string `yaml:"backend" toml:"backend" default:"postgres"` // "postgres" or "mariadb"
	MariaDBURL string `yaml:"mariadb_url" toml:"mariadb_url"`            // DSN, e.g. audit:audit@tcp(mariadb:3306)/audit?parseTime=true
}

type CacheConfig struct {
	RedisURL   string `yaml:"redis_url" toml:"redis_url"`
	TTLMinutes int    `yaml:"ttl_minutes" toml:"ttl_minutes" default:"60"`
}

// TTL returns how long extracted descriptors stay cached.
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

type ImagesConfig struct {
	Dir string `yaml:"dir" toml:"dir" default:"./data/images"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer" toml:"jwt_issuer"`
}

type OpsConfig struct {
	LogPath     string `yaml:"log_path" toml:"log_path"`                         // empty logs to stderr only
	MaxAgeHours int    `yaml:"max_age_hours" toml:"max_age_hours" default:"720"` // rotated files kept this long
}

type SchedulerConfig struct {
	IntegritySweepCron string `yaml:"integrity_sweep_cron" toml:"integrity_sweep_cron" default:"*/15 * * * *"`
	IndexSaveCron      string `yaml:"index_save_cron" toml:"index_save_cron" default:"0 * * * *"`
	IndexRebuildCron   string `yaml:"index_rebuild_cron" toml:"index_rebuild_cron" default:"30 3 * * *"`
}

type WebConfig struct {
	Host           string `yaml:"host" toml:"host" default:"0.0.0.0"`
	Port           int    `yaml:"port" toml:"port" default:"8080"`
	AllowedOrigins string `yaml:"allowed_origins" toml:"allowed_origins"` // comma-separated CORS whitelist
}

// Validate reports configuration values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Matcher.DistanceThreshold <= 0 {
		errs = append(errs, errors.New("matcher.distance_threshold must be positive"))
	}
	if c.Matcher.Dim <= 0 {
		errs = append(errs, errors.New("matcher.dim must be positive"))
	}
	if c.Matcher.MaxDescriptorsPerPerson <= 0 {
		errs = append(errs, errors.New("matcher.max_descriptors_per_person must be positive"))
	}
	if c.Extractor.TimeoutMs <= 0 {
		errs = append(errs, errors.New("extractor.timeout_ms must be positive"))
	}
	switch c.Extractor.MultiFacePolicy {
	case "best", "reject":
	default:
		errs = append(errs, fmt.Errorf("extractor.multi_face_policy %q is not one of best, reject", c.Extractor.MultiFacePolicy))
	}
	switch c.Audit.Backend {
	case "postgres":
	case "mariadb":
		if c.Audit.MariaDBURL == "" {
			errs = append(errs, errors.New("audit.mariadb_url is required for the mariadb audit backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("audit.backend %q is not one of postgres, mariadb", c.Audit.Backend))
	}
	return errors.Join(errs...)
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

// Load builds the configuration from tag defaults, the optional CONFIG_FILE
// and environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	defaults.SetDefaults(cfg)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// LoadFile overlays a YAML or TOML file onto cfg. Keys absent from the file
// keep their current value.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing YAML config %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parsing TOML config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config file extension: %s", path)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Matcher.DistanceThreshold = envFloat("MATCHER_DISTANCE_THRESHOLD", cfg.Matcher.DistanceThreshold)
	cfg.Matcher.Dim = envInt("MATCHER_DIM", cfg.Matcher.Dim)
	cfg.Matcher.MaxDescriptorsPerPerson = envInt("MATCHER_MAX_DESCRIPTORS_PER_PERSON", cfg.Matcher.MaxDescriptorsPerPerson)

	cfg.Extractor.URL = envString("EXTRACTOR_URL", cfg.Extractor.URL)
	cfg.Extractor.TimeoutMs = envInt("EXTRACTOR_TIMEOUT_MS", cfg.Extractor.TimeoutMs)
	cfg.Extractor.MultiFacePolicy = envString("EXTRACTOR_MULTI_FACE_POLICY", cfg.Extractor.MultiFacePolicy)

	cfg.Database.URL = envString("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)
	cfg.Database.HNSWEnabled = envBool("HNSW_ENABLED", cfg.Database.HNSWEnabled)
	cfg.Database.HNSWIndexPath = envString("HNSW_INDEX_PATH", cfg.Database.HNSWIndexPath)

	cfg.Audit.Backend = envString("AUDIT_BACKEND", cfg.Audit.Backend)
	cfg.Audit.MariaDBURL = envString("MARIADB_URL", cfg.Audit.MariaDBURL)

	cfg.Cache.RedisURL = envString("REDIS_URL", cfg.Cache.RedisURL)
	cfg.Cache.TTLMinutes = envInt("CACHE_TTL", cfg.Cache.TTLMinutes)

	cfg.Images.Dir = envString("IMAGES_DIR", cfg.Images.Dir)

	cfg.Auth.JWTSecret = envString("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.JWTIssuer = envString("AUTH_JWT_ISSUER", cfg.Auth.JWTIssuer)

	cfg.Ops.LogPath = envString("OPS_LOG_PATH", cfg.Ops.LogPath)
	cfg.Ops.MaxAgeHours = envInt("OPS_LOG_MAX_AGE", cfg.Ops.MaxAgeHours)

	cfg.Scheduler.IntegritySweepCron = envString("INTEGRITY_SWEEP_CRON", cfg.Scheduler.IntegritySweepCron)
	cfg.Scheduler.IndexSaveCron = envString("INDEX_SAVE_CRON", cfg.Scheduler.IndexSaveCron)
	cfg.Scheduler.IndexRebuildCron = envString("INDEX_REBUILD_CRON", cfg.Scheduler.IndexRebuildCron)

	cfg.Web.Host = envString("WEB_HOST", cfg.Web.Host)
	cfg.Web.Port = envInt("WEB_PORT", cfg.Web.Port)
	cfg.Web.AllowedOrigins = envString("WEB_ALLOWED_ORIGINS", cfg.Web.AllowedOrigins)
}
