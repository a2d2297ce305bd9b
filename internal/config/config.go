package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/kozaktomas/face-gate/internal/retrier"
	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var modelsYAML []byte

const defaultModel = "Facenet"

type Config struct {
	Web       WebConfig
	Database  DatabaseConfig
	Embedding EmbeddingConfig
	Match     MatchConfig
	Auth      AuthConfig
	Storage   StorageConfig
	History   HistoryConfig
	Log       LogConfig
	Models    ModelsConfig
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string // WEB_ALLOWED_ORIGINS, comma separated; localhost is always allowed
	RequestTimeout time.Duration
	MaxUploadSize  int64
}

type DatabaseConfig struct {
	Driver       string        // "postgres" or "mysql"
	URL          string        // PostgreSQL URL or MySQL DSN
	MaxOpenConns int           // Maximum open connections (default 25)
	MaxIdleConns int           // Maximum idle connections (default 5)
	Timeout      time.Duration // per-statement timeout
	Retries      int           // bounded retries for reads
}

type EmbeddingConfig struct {
	URL     string // defaults to http://localhost:8000
	Model   string // defaults to Facenet
	Dim     int    // 0 takes the model default
	Workers int
	Timeout time.Duration
	Retries int
}

type MatchConfig struct {
	Threshold    float64 // 0 takes the model default
	Index        string  // "" or "hnsw"
	HNSWMinUsers int
	// RefreshInterval reloads the registry cache from the database so writes
	// made by other instances become visible. 0 disables the refresher.
	RefreshInterval time.Duration
}

type AuthConfig struct {
	TokenTTL      time.Duration // 0 disables expiry
	SweepInterval time.Duration
	TestTokens    bool // enables GET /generarToken
}

type StorageConfig struct {
	Backend     string // "local" or "s3"
	Path        string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Prefix    string
}

type HistoryConfig struct {
	QueueSize int
}

type LogConfig struct {
	Level  string
	Format string
}

type ModelsConfig struct {
	Models map[string]ModelProfile `yaml:"models"`
}

type ModelProfile struct {
	Dim       int     `yaml:"dim"`
	Threshold float64 `yaml:"threshold"`
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

// envDuration parses a Go duration ("30s", "12h"). Zero is accepted.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return defaultVal
}

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

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func Load() *Config {
	var models ModelsConfig
	if err := yaml.Unmarshal(modelsYAML, &models); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded models.yaml: " + err.Error())
	}

	storagePath := os.Getenv("STORAGE_PATH")
	if storagePath == "" {
		storagePath = envString("VOLUMEN_PATH", "./data")
	}

	cfg := &Config{
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8000),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
			RequestTimeout: envDuration("WEB_REQUEST_TIMEOUT", 60*time.Second),
			MaxUploadSize:  int64(envInt("WEB_MAX_UPLOAD_MB", 10)) << 20,
		},
		Database: DatabaseConfig{
			Driver:       strings.ToLower(envString("DATABASE_DRIVER", "")),
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
			Timeout:      envDuration("STORE_TIMEOUT", 5*time.Second),
			Retries:      envInt("STORE_RETRIES", 3),
		},
		Embedding: EmbeddingConfig{
			URL:     os.Getenv("EMBEDDING_URL"),
			Model:   envString("EMBEDDING_MODEL", defaultModel),
			Dim:     envInt("EMBEDDING_DIM", 0),
			Workers: envInt("EMBEDDING_WORKERS", 4),
			Timeout: envDuration("EMBEDDING_TIMEOUT", 30*time.Second),
			Retries: envInt("EMBEDDING_RETRIES", 2),
		},
		Match: MatchConfig{
			Threshold:       envFloat("MATCH_THRESHOLD", 0),
			Index:           strings.ToLower(os.Getenv("MATCH_INDEX")),
			HNSWMinUsers:    envInt("MATCH_HNSW_MIN_USERS", 1000),
			RefreshInterval: envDuration("MATCH_REFRESH_INTERVAL", 30*time.Second),
		},
		Auth: AuthConfig{
			TokenTTL:      envDuration("TOKEN_TTL", 12*time.Hour),
			SweepInterval: envDuration("TOKEN_SWEEP_INTERVAL", time.Minute),
			TestTokens:    envBool("AUTH_TEST_TOKENS", true),
		},
		Storage: StorageConfig{
			Backend:     strings.ToLower(envString("STORAGE_BACKEND", "local")),
			Path:        storagePath,
			S3Bucket:    os.Getenv("S3_BUCKET"),
			S3Region:    envString("S3_REGION", "us-east-1"),
			S3Endpoint:  os.Getenv("S3_ENDPOINT"),
			S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
			S3SecretKey: os.Getenv("S3_SECRET_KEY"),
			S3Prefix:    os.Getenv("S3_PREFIX"),
		},
		History: HistoryConfig{
			QueueSize: envInt("HISTORY_QUEUE_SIZE", 256),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
		},
		Models: models,
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = mysqlDSNFromParts()
		if cfg.Database.URL != "" && cfg.Database.Driver == "" {
			cfg.Database.Driver = "mysql"
		}
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = detectDriver(cfg.Database.URL)
	}
	return cfg
}

// mysqlDSNFromParts builds a DSN from DB_HOST, DB_PORT, DB_USER, DB_PASSWORD and DB_NAME.
func mysqlDSNFromParts() string {
	host := os.Getenv("DB_HOST")
	name := os.Getenv("DB_NAME")
	if host == "" || name == "" {
		return ""
	}
	c := mysql.NewConfig()
	c.User = os.Getenv("DB_USER")
	c.Passwd = os.Getenv("DB_PASSWORD")
	c.Net = "tcp"
	c.Addr = host + ":" + envString("DB_PORT", "3306")
	c.DBName = name
	c.ParseTime = true
	return c.FormatDSN()
}

func detectDriver(url string) string {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(url, "@tcp(") || strings.HasPrefix(url, "mysql://") {
		return "mysql"
	}
	return "postgres"
}

// Profile returns the defaults for the configured embedding model.
func (c *Config) Profile() ModelProfile {
	if p, ok := c.Models.Models[c.Embedding.Model]; ok {
		return p
	}
	return c.Models.Models[defaultModel]
}

// Threshold returns MATCH_THRESHOLD or the model default.
func (c *Config) Threshold() float64 {
	if c.Match.Threshold > 0 {
		return c.Match.Threshold
	}
	if p := c.Profile(); p.Threshold > 0 {
		return p.Threshold
	}
	return 0.37
}

// EmbeddingDim returns EMBEDDING_DIM or the model default.
func (c *Config) EmbeddingDim() int {
	if c.Embedding.Dim > 0 {
		return c.Embedding.Dim
	}
	return c.Profile().Dim
}

// StoreRetry bounds retries of relational and blob store reads.
func (c *Config) StoreRetry() retrier.Policy {
	return retrier.Policy{
		MaxRetries: uint64(c.Database.Retries),
		Base:       retrier.DefaultPolicy.Base,
		MaxDelay:   retrier.DefaultPolicy.MaxDelay,
	}
}

// ExtractionRetry bounds retries of embedding extraction.
func (c *Config) ExtractionRetry() retrier.Policy {
	return retrier.Policy{
		MaxRetries: uint64(c.Embedding.Retries),
		Base:       retrier.DefaultPolicy.Base,
		MaxDelay:   retrier.DefaultPolicy.MaxDelay,
	}
}

// Validate reports configuration errors that would prevent serving.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL (or DB_HOST and DB_NAME) is required")
	}
	switch c.Database.Driver {
	case "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.Database.Driver)
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.Path == "" {
			return fmt.Errorf("STORAGE_PATH is required for local storage")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for s3 storage")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if t := c.Threshold(); t <= 0 || t > 2 {
		return fmt.Errorf("match threshold %.3f out of range", t)
	}
	if c.Match.Index != "" && c.Match.Index != "hnsw" {
		return fmt.Errorf("unsupported MATCH_INDEX %q", c.Match.Index)
	}
	return nil
}
