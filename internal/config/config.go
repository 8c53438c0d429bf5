package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Fabric    FabricConfig
	MongoDB   MongoDBConfig
	Minio     MinioConfig
	Redis     RedisConfig
	OIDC      OIDCConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
}

// FabricConfig addresses the resource fabric's remote collaborators and
// per-tier cache versions (spec.md §4.1, §4.2, §4.6): the bundle server,
// the CTAN package-archive proxy, and the code-current version stamped
// into the cache fabric on open.
type FabricConfig struct {
	BundlesBaseURL  string
	PackagesBaseURL string
	EnableCTAN      bool
	EnableLazyFS    bool
	EnableDocCache  bool

	CacheVersionCTAN   int
	CacheVersionBundle int
	CacheVersionWASM   int
	CacheVersionAux    int
	CacheVersionDoc    int
	CacheVersionFmt    int

	PDFOverlayEntries int
	AuxOverlayEntries int
	FmtOverlayEntries int

	MaxConcurrentCompiles int
}

// MinioConfig addresses the durable blob-store tier.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// OIDCConfig configures the OIDC verifier guarding the admin endpoint
// (cache clear; /metrics is served without auth). Compile/format endpoints are unauthenticated by
// design (spec.md's library surface has no auth concept) and are protected
// only by rate limiting.
type OIDCConfig struct {
	IssuerURL string
	ClientID  string
}

type JWTConfig struct {
	Secret          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// RateLimitConfig controls the rate limiter applied to the HTTP API (in-memory token bucket, or a Redis fixed window when UseRedis is set).
// - RPS: allowed requests per second
// - Burst: maximum burst tokens
// - Enabled: whether middleware is enabled
type RateLimitConfig struct {
	Enabled       bool
	RPS           float64
	Burst         int
	UseRedis      bool
	WindowSeconds int // window size in seconds for Redis fixed-window counter
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load("gogotex-support-services/.env")

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "5001")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("JWT_ACCESS_TOKEN_TTL", 15)
	viper.SetDefault("JWT_REFRESH_TOKEN_TTL", 10080)

	// Rate limiting defaults
	viper.SetDefault("RATE_LIMIT_ENABLED", true)
	viper.SetDefault("RATE_LIMIT_RPS", 10)
	viper.SetDefault("RATE_LIMIT_BURST", 40)
	// Redis-backed rate limiter defaults
	viper.SetDefault("RATE_LIMIT_USE_REDIS", false)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)

	// Resource fabric defaults
	viper.SetDefault("FABRIC_ENABLE_CTAN", true)
	viper.SetDefault("FABRIC_ENABLE_LAZYFS", true)
	viper.SetDefault("FABRIC_ENABLE_DOC_CACHE", true)
	viper.SetDefault("FABRIC_PDF_OVERLAY_ENTRIES", 10)
	viper.SetDefault("FABRIC_AUX_OVERLAY_ENTRIES", 200)
	viper.SetDefault("FABRIC_FMT_OVERLAY_ENTRIES", 0)
	viper.SetDefault("FABRIC_MAX_CONCURRENT_COMPILES", 4)
	viper.SetDefault("MINIO_BUCKET", "texfabric")

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			Environment:  viper.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Fabric: FabricConfig{
			BundlesBaseURL:        viper.GetString("FABRIC_BUNDLES_BASE_URL"),
			PackagesBaseURL:       viper.GetString("FABRIC_PACKAGES_BASE_URL"),
			EnableCTAN:            viper.GetBool("FABRIC_ENABLE_CTAN"),
			EnableLazyFS:          viper.GetBool("FABRIC_ENABLE_LAZYFS"),
			EnableDocCache:        viper.GetBool("FABRIC_ENABLE_DOC_CACHE"),
			CacheVersionCTAN:      viper.GetInt("FABRIC_CACHE_VERSION_CTAN"),
			CacheVersionBundle:    viper.GetInt("FABRIC_CACHE_VERSION_BUNDLE"),
			CacheVersionWASM:      viper.GetInt("FABRIC_CACHE_VERSION_WASM"),
			CacheVersionAux:       viper.GetInt("FABRIC_CACHE_VERSION_AUX"),
			CacheVersionDoc:       viper.GetInt("FABRIC_CACHE_VERSION_DOC"),
			CacheVersionFmt:       viper.GetInt("FABRIC_CACHE_VERSION_FMT"),
			PDFOverlayEntries:     viper.GetInt("FABRIC_PDF_OVERLAY_ENTRIES"),
			AuxOverlayEntries:     viper.GetInt("FABRIC_AUX_OVERLAY_ENTRIES"),
			FmtOverlayEntries:     viper.GetInt("FABRIC_FMT_OVERLAY_ENTRIES"),
			MaxConcurrentCompiles: viper.GetInt("FABRIC_MAX_CONCURRENT_COMPILES"),
		},
		MongoDB: MongoDBConfig{
			URI:      os.Getenv("MONGODB_URI"),
			Database: viper.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Minio: MinioConfig{
			Endpoint:  viper.GetString("MINIO_ENDPOINT"),
			AccessKey: viper.GetString("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			UseSSL:    viper.GetBool("MINIO_USE_SSL"),
			Bucket:    viper.GetString("MINIO_BUCKET"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       0,
		},
		OIDC: OIDCConfig{
			IssuerURL: viper.GetString("OIDC_ISSUER_URL"),
			ClientID:  viper.GetString("OIDC_CLIENT_ID"),
		},
		JWT: JWTConfig{
			Secret:          os.Getenv("JWT_SECRET"),
			AccessTokenTTL:  time.Duration(viper.GetInt("JWT_ACCESS_TOKEN_TTL")) * time.Minute,
			RefreshTokenTTL: time.Duration(viper.GetInt("JWT_REFRESH_TOKEN_TTL")) * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:       viper.GetBool("RATE_LIMIT_ENABLED"),
			RPS:           float64(viper.GetFloat64("RATE_LIMIT_RPS")),
			Burst:         viper.GetInt("RATE_LIMIT_BURST"),
			UseRedis:      viper.GetBool("RATE_LIMIT_USE_REDIS"),
			WindowSeconds: viper.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
	}

	// Basic validation
	if cfg.MongoDB.URI == "" {
		log.Println("WARNING: MONGODB_URI is not set; the durable metadata tier is disabled, cache fabric runs memory+blob only")
	}
	if cfg.JWT.Secret == "" {
		log.Println("WARNING: JWT_SECRET is not set; set a secure value in production")
	}

	return cfg, nil
}
