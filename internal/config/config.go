package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	VLM       VLMConfig       `mapstructure:"vlm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Search    SearchConfig    `mapstructure:"search"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres or sqlite
	Path            string        `mapstructure:"path"`   // sqlite file path
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return c.Path
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
	Dimensions int    `mapstructure:"dimensions"`
}

type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

// VLMConfig configures the vision-language backend. FastModel serves the
// fast tier, DeepModel the deep tier and the default reanalyze model.
type VLMConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	FastModel string `mapstructure:"fast_model"`
	DeepModel string `mapstructure:"deep_model"`
}

type EmbeddingConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// DetectorConfig configures the face-detection sidecar.
type DetectorConfig struct {
	BaseURL    string  `mapstructure:"base_url"`
	APIKey     string  `mapstructure:"api_key"`
	Model      string  `mapstructure:"model"`
	MinQuality float64 `mapstructure:"min_quality"`
}

type PipelineConfig struct {
	Workers        int           `mapstructure:"workers"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	InstantTimeout time.Duration `mapstructure:"instant_timeout"`
	FastTimeout    time.Duration `mapstructure:"fast_timeout"`
	DeepTimeout    time.Duration `mapstructure:"deep_timeout"`
	FaceTimeout    time.Duration `mapstructure:"face_timeout"`
	ThumbnailSize  int           `mapstructure:"thumbnail_size"`
}

type SearchConfig struct {
	LexicalWeight  float64       `mapstructure:"lexical_weight"`
	VectorWeight   float64       `mapstructure:"vector_weight"`
	TopK           int           `mapstructure:"top_k"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	FaceSimilarity float64       `mapstructure:"face_similarity"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("vlm.api_key", "VLM_API_KEY")
	v.BindEnv("vlm.base_url", "VLM_BASE_URL")
	v.BindEnv("embedding.api_key", "EMBEDDING_API_KEY")
	v.BindEnv("detector.base_url", "DETECTOR_BASE_URL")
	v.BindEnv("detector.api_key", "DETECTOR_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/photosense.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "photos")
	v.SetDefault("qdrant.dimensions", 1024)

	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "photos")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", true)

	v.SetDefault("vlm.base_url", "https://api.openai.com/v1")
	v.SetDefault("vlm.fast_model", "gpt-4o-mini")
	v.SetDefault("vlm.deep_model", "gpt-4o")

	v.SetDefault("embedding.base_url", "https://api.jina.ai/v1")
	v.SetDefault("embedding.model", "jina-embeddings-v3")
	v.SetDefault("embedding.dimensions", 1024)

	v.SetDefault("detector.base_url", "http://localhost:8800")
	v.SetDefault("detector.model", "buffalo_l")
	v.SetDefault("detector.min_quality", 0.3)

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.retry_backoff", 2*time.Second)
	v.SetDefault("pipeline.instant_timeout", 10*time.Second)
	v.SetDefault("pipeline.fast_timeout", 30*time.Second)
	v.SetDefault("pipeline.deep_timeout", 2*time.Minute)
	v.SetDefault("pipeline.face_timeout", time.Minute)
	v.SetDefault("pipeline.thumbnail_size", 512)

	v.SetDefault("search.lexical_weight", 0.5)
	v.SetDefault("search.vector_weight", 0.5)
	v.SetDefault("search.top_k", 20)
	v.SetDefault("search.cache_ttl", 2*time.Minute)
	v.SetDefault("search.face_similarity", 0.45)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
