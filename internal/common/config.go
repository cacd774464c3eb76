package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Queue       QueueConfig     `toml:"queue"`
	Storage     StorageConfig   `toml:"storage"`
	Vector      VectorConfig    `toml:"vector"`
	Artifacts   ArtifactsConfig `toml:"artifacts"`
	Embedder    EmbedderConfig  `toml:"embedder"`
	Ingest      IngestConfig    `toml:"ingest"`
	GitHub      GitHubConfig    `toml:"github"`
	Crawler     CrawlerConfig   `toml:"crawler"`
	Reaper      ReaperConfig    `toml:"reaper"`
	Logging     LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// QueueConfig controls the worker loop and which logical queue it serves.
type QueueConfig struct {
	Type         string `toml:"type"`          // Logical queue this worker process serves: "ingest", "checksum_update", "prune"
	PollInterval string `toml:"poll_interval"` // e.g. "5s" - how often the worker polls for pending jobs
}

// PollIntervalDuration parses the poll interval, falling back to 5s.
func (q QueueConfig) PollIntervalDuration() time.Duration {
	d, err := time.ParseDuration(q.PollInterval)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

type StorageConfig struct {
	JobBackend string         `toml:"job_backend"` // "postgres" or "badger"
	Badger     BadgerConfig   `toml:"badger"`
	Postgres   PostgresConfig `toml:"postgres"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// PostgresConfig holds connection parameters for the transactional store.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// DSN builds a postgres connection string from the configured parameters.
func (p PostgresConfig) DSN() string {
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, sslmode)
}

// VectorConfig configures the vector store gateway.
type VectorConfig struct {
	TableName string `toml:"table_name"` // Vector table name (shared with the query side)
	EmbedDim  int    `toml:"embed_dim"`  // Declared embedding dimension; mismatch with the table is fatal
}

// ArtifactsConfig selects and configures the manifest artifact backend.
type ArtifactsConfig struct {
	Backend string         `toml:"backend"` // "local" or "s3"
	Local   LocalArtifacts `toml:"local"`
	S3      S3Artifacts    `toml:"s3"`
}

type LocalArtifacts struct {
	Dir string `toml:"dir"` // Directory for manifest-<key>.json files
}

type S3Artifacts struct {
	Bucket          string `toml:"bucket"`
	Prefix          string `toml:"prefix"` // Key prefix, default "manifests/"
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"` // Optional custom endpoint (minio etc.)
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
}

// EmbedderConfig configures the OpenAI-compatible embedding client.
type EmbedderConfig struct {
	BaseURL string `toml:"base_url"` // OpenAI-compatible endpoint; empty = api.openai.com
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
	Timeout string `toml:"timeout"` // HTTP timeout as duration string (default "60s")
}

// TimeoutDuration parses the embedder timeout, falling back to 60s.
func (e EmbedderConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(e.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// IngestConfig carries defaults for source adapters and chunking.
type IngestConfig struct {
	Exts         []string `toml:"exts"`          // Default file-extension allowlist for file-scan adapters
	ChunkSize    int      `toml:"chunk_size"`    // Default chunk size when a payload enables chunking without one
	ChunkOverlap int      `toml:"chunk_overlap"` // Default chunk overlap
}

// GitHubConfig holds the API token used by the GitHub adapters.
type GitHubConfig struct {
	Token string `toml:"token"`
}

// CrawlerConfig controls the web adapters.
type CrawlerConfig struct {
	UserAgent      string `toml:"user_agent"`
	RequestTimeout string `toml:"request_timeout"` // HTTP request timeout (default "20s")
	RequestsPerSec float64 `toml:"requests_per_sec"` // Crawl politeness rate (default 2)
	MaxBodySize    int    `toml:"max_body_size"`   // Maximum response body size in bytes
}

// RequestTimeoutDuration parses the request timeout, falling back to 20s.
func (c CrawlerConfig) RequestTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d <= 0 {
		return 20 * time.Second
	}
	return d
}

// ReaperConfig controls the optional stale-job reaper.
type ReaperConfig struct {
	Enabled      bool   `toml:"enabled"`       // Disabled by default; abandoned jobs stay processing until operator retry
	Schedule     string `toml:"schedule"`      // Cron schedule (default "0 * * * * *")
	LeaseTimeout string `toml:"lease_timeout"` // Re-pend processing jobs started before now-lease_timeout
}

// LeaseTimeoutDuration parses the lease timeout, falling back to 30m.
func (r ReaperConfig) LeaseTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(r.LeaseTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
	Dir    string   `toml:"dir"`    // Log directory (default: <exe dir>/logs)
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Queue: QueueConfig{
			Type:         "ingest",
			PollInterval: "5s",
		},
		Storage: StorageConfig{
			JobBackend: "badger",
			Badger: BadgerConfig{
				Path: "./data",
			},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "postgres",
				Database: "colligo",
				SSLMode:  "disable",
			},
		},
		Vector: VectorConfig{
			TableName: "colligo_vectors",
			EmbedDim:  1536,
		},
		Artifacts: ArtifactsConfig{
			Backend: "local",
			Local: LocalArtifacts{
				Dir: "./data/artifacts",
			},
			S3: S3Artifacts{
				Prefix: "manifests/",
			},
		},
		Embedder: EmbedderConfig{
			Model:   "text-embedding-3-small",
			Timeout: "60s",
		},
		Ingest: IngestConfig{
			Exts:         []string{".md", ".py", ".go", ".yml", ".yaml", ".toml", ".json", ".txt"},
			ChunkSize:    2000,
			ChunkOverlap: 200,
		},
		Crawler: CrawlerConfig{
			UserAgent:      "Colligo/1.0",
			RequestTimeout: "20s",
			RequestsPerSec: 2,
			MaxBodySize:    10 * 1024 * 1024,
		},
		Reaper: ReaperConfig{
			Enabled:      false,
			Schedule:     "0 * * * * *",
			LeaseTimeout: "30m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files; later files override
// earlier files, and environment variables override all of them.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("COLLIGO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("COLLIGO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("COLLIGO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if queueType := os.Getenv("COLLIGO_QUEUE_TYPE"); queueType != "" {
		config.Queue.Type = queueType
	}
	if pollInterval := os.Getenv("COLLIGO_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}

	if backend := os.Getenv("COLLIGO_JOB_BACKEND"); backend != "" {
		config.Storage.JobBackend = backend
	}
	if badgerPath := os.Getenv("COLLIGO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if pgHost := os.Getenv("COLLIGO_PG_HOST"); pgHost != "" {
		config.Storage.Postgres.Host = pgHost
	}
	if pgPort := os.Getenv("COLLIGO_PG_PORT"); pgPort != "" {
		if p, err := strconv.Atoi(pgPort); err == nil {
			config.Storage.Postgres.Port = p
		}
	}
	if pgUser := os.Getenv("COLLIGO_PG_USER"); pgUser != "" {
		config.Storage.Postgres.User = pgUser
	}
	if pgPassword := os.Getenv("COLLIGO_PG_PASSWORD"); pgPassword != "" {
		config.Storage.Postgres.Password = pgPassword
	}
	if pgDatabase := os.Getenv("COLLIGO_PG_DATABASE"); pgDatabase != "" {
		config.Storage.Postgres.Database = pgDatabase
	}

	if table := os.Getenv("COLLIGO_VECTOR_TABLE"); table != "" {
		config.Vector.TableName = table
	}
	if dim := os.Getenv("COLLIGO_EMBED_DIM"); dim != "" {
		if d, err := strconv.Atoi(dim); err == nil {
			config.Vector.EmbedDim = d
		}
	}

	if backend := os.Getenv("COLLIGO_ARTIFACT_BACKEND"); backend != "" {
		config.Artifacts.Backend = backend
	}
	if dir := os.Getenv("COLLIGO_ARTIFACT_DIR"); dir != "" {
		config.Artifacts.Local.Dir = dir
	}
	if bucket := os.Getenv("COLLIGO_ARTIFACT_BUCKET"); bucket != "" {
		config.Artifacts.S3.Bucket = bucket
	}

	if baseURL := os.Getenv("COLLIGO_EMBEDDER_BASE_URL"); baseURL != "" {
		config.Embedder.BaseURL = baseURL
	}
	if apiKey := os.Getenv("COLLIGO_EMBEDDER_API_KEY"); apiKey != "" {
		config.Embedder.APIKey = apiKey
	} else if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.Embedder.APIKey = apiKey
	}
	if model := os.Getenv("COLLIGO_EMBEDDER_MODEL"); model != "" {
		config.Embedder.Model = model
	}

	if exts := os.Getenv("COLLIGO_INGEST_EXTS"); exts != "" {
		parts := strings.Split(exts, ",")
		cleaned := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part != "" {
				cleaned = append(cleaned, part)
			}
		}
		if len(cleaned) > 0 {
			config.Ingest.Exts = cleaned
		}
	}

	if token := os.Getenv("COLLIGO_GITHUB_TOKEN"); token != "" {
		config.GitHub.Token = token
	} else if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		config.GitHub.Token = token
	}

	if level := os.Getenv("COLLIGO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}
