package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Billing  BillingConfig  `mapstructure:"billing"`
	Preview  PreviewConfig  `mapstructure:"preview"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Clamd    ClamdConfig    `mapstructure:"clamd"`
	Share    ShareConfig    `mapstructure:"share"`
	Fonts    FontsConfig    `mapstructure:"fonts"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port           int    `mapstructure:"port"`
	AllowedOrigins string `mapstructure:"allowed_origins"`
	CookieDomain   string `mapstructure:"cookie_domain"`
}

// Origins 将逗号分隔的 AllowedOrigins 拆分为列表。
func (a APIConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(a.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig 包含 Redis 连接配置。
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr 返回 host:port。
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// AuthConfig 包含 JWT 密钥与登录限流设置。
type AuthConfig struct {
	PrivateKeyPath        string        `mapstructure:"private_key_path"`
	PublicKeyPath         string        `mapstructure:"public_key_path"`
	AccessTokenTTL        time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL       time.Duration `mapstructure:"refresh_token_ttl"`
	LoginRateLimitPerHour int           `mapstructure:"login_rate_limit_per_hour"`
	LoginLockThreshold    int           `mapstructure:"login_lock_threshold"`
	LoginLockTTL          time.Duration `mapstructure:"login_lock_ttl"`
}

// LimitsConfig 控制免费/付费用户的配额。
type LimitsConfig struct {
	FreeMaxResumes       int   `mapstructure:"free_max_resumes"`
	PremiumMaxResumes    int   `mapstructure:"premium_max_resumes"`
	PublicRequestsPerMin int   `mapstructure:"public_requests_per_min"`
	MaxUploadBytes       int64 `mapstructure:"max_upload_bytes"`
}

// BillingConfig 包含支付回调的共享密钥与套餐映射。
type BillingConfig struct {
	WebhookSecret string `mapstructure:"webhook_secret"`
	PlanQuarterly string `mapstructure:"plan_quarterly"`
	PlanYearly    string `mapstructure:"plan_yearly"`
}

// PreviewConfig 控制实时预览管线。
type PreviewConfig struct {
	Width     int           `mapstructure:"width"`
	Padding   int           `mapstructure:"padding"`
	Threshold int           `mapstructure:"threshold"`
	Debounce  time.Duration `mapstructure:"debounce"`
}

// WorkerConfig 控制 asynq worker。
type WorkerConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	BrowserBin  string `mapstructure:"browser_bin"`
}

// ClamdConfig 是病毒扫描服务地址，例如 tcp://clamav:3310。
type ClamdConfig struct {
	Addr string `mapstructure:"addr"`
}

// ShareConfig 控制公开分享页的缓存。
type ShareConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// FontsConfig 指定 PDF 与预览共用的回退字体（需覆盖中日韩文字的 .ttf）。
// 未配置时无法绘制的语言不参与协商。
type FontsConfig struct {
	FallbackPath string `mapstructure:"fallback_path"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// LoadEnvFiles 依次加载 ENV_FILE 或 .env.local、.env，文件不存在时忽略。
// 已存在的环境变量不会被覆盖。
func LoadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

// Load reads configuration from .env files and environment variables (with optional defaults).
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := validate(*cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase 只读取并校验数据库配置，供命令行工具使用。
func LoadDatabase() (DatabaseConfig, error) {
	cfg, err := read()
	if err != nil {
		return DatabaseConfig{}, err
	}
	if err := validateDatabase(cfg.Database); err != nil {
		return DatabaseConfig{}, err
	}
	return cfg.Database, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func read() (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "civy")
	v.SetDefault("database.user", "civy")
	v.SetDefault("database.password", "civy")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.public_endpoint", "http://localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "resumes")
	v.SetDefault("minio.bucket_lookup", "auto")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("auth.private_key_path", "keys/jwt_private.pem")
	v.SetDefault("auth.public_key_path", "keys/jwt_public.pem")
	v.SetDefault("auth.access_token_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_token_ttl", 7*24*time.Hour)
	v.SetDefault("auth.login_rate_limit_per_hour", 10)
	v.SetDefault("auth.login_lock_threshold", 5)
	v.SetDefault("auth.login_lock_ttl", 15*time.Minute)
	v.SetDefault("limits.free_max_resumes", 3)
	v.SetDefault("limits.premium_max_resumes", 50)
	v.SetDefault("limits.public_requests_per_min", 60)
	v.SetDefault("limits.max_upload_bytes", 5*1024*1024)
	v.SetDefault("preview.width", 794)
	v.SetDefault("preview.padding", 32)
	v.SetDefault("preview.threshold", 5)
	v.SetDefault("preview.debounce", 50*time.Millisecond)
	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("clamd.addr", "tcp://localhost:3310")
	v.SetDefault("share.cache_ttl", 5*time.Minute)
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                       "API_PORT",
		"api.allowed_origins":            "API_ALLOWED_ORIGINS",
		"api.cookie_domain":              "COOKIE_DOMAIN",
		"database.host":                  "DATABASE_HOST",
		"database.port":                  "DATABASE_PORT",
		"database.name":                  "POSTGRES_DB",
		"database.user":                  "POSTGRES_USER",
		"database.password":              "POSTGRES_PASSWORD",
		"database.sslmode":               "DATABASE_SSLMODE",
		"redis.host":                     "REDIS_HOST",
		"redis.port":                     "REDIS_PORT",
		"minio.endpoint":                 "MINIO_ENDPOINT",
		"minio.public_endpoint":          "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":            "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":        "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":                  "MINIO_USE_SSL",
		"minio.bucket":                   "MINIO_BUCKET",
		"minio.region":                   "MINIO_REGION",
		"minio.bucket_lookup":            "MINIO_BUCKET_LOOKUP",
		"minio.auto_create_bucket":       "MINIO_AUTO_CREATE_BUCKET",
		"auth.private_key_path":          "JWT_PRIVATE_KEY_PATH",
		"auth.public_key_path":           "JWT_PUBLIC_KEY_PATH",
		"auth.access_token_ttl":          "JWT_ACCESS_TOKEN_TTL",
		"auth.refresh_token_ttl":         "JWT_REFRESH_TOKEN_TTL",
		"auth.login_rate_limit_per_hour": "LOGIN_RATE_LIMIT_PER_HOUR",
		"auth.login_lock_threshold":      "LOGIN_LOCK_THRESHOLD",
		"auth.login_lock_ttl":            "LOGIN_LOCK_TTL",
		"limits.free_max_resumes":        "FREE_MAX_RESUMES",
		"limits.premium_max_resumes":     "PREMIUM_MAX_RESUMES",
		"limits.public_requests_per_min": "PUBLIC_REQUESTS_PER_MIN",
		"limits.max_upload_bytes":        "MAX_UPLOAD_BYTES",
		"billing.webhook_secret":         "BILLING_WEBHOOK_SECRET",
		"billing.plan_quarterly":         "BILLING_PLAN_QUARTERLY",
		"billing.plan_yearly":            "BILLING_PLAN_YEARLY",
		"preview.width":                  "PREVIEW_WIDTH",
		"preview.padding":                "PREVIEW_PADDING",
		"preview.threshold":              "PREVIEW_THRESHOLD",
		"preview.debounce":               "PREVIEW_DEBOUNCE",
		"worker.concurrency":             "WORKER_CONCURRENCY",
		"worker.browser_bin":             "CHROMIUM_BIN",
		"clamd.addr":                     "CLAMD_ADDR",
		"share.cache_ttl":                "SHARE_CACHE_TTL",
		"fonts.fallback_path":            "PDF_FALLBACK_FONT",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

func validateDatabase(d DatabaseConfig) error {
	if d.Host == "" {
		return errors.New("database host is required")
	}
	if d.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if d.Name == "" {
		return errors.New("database name is required")
	}
	if d.User == "" {
		return errors.New("database user is required")
	}
	if d.Password == "" {
		return errors.New("database password is required")
	}
	if d.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	return nil
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if err := validateDatabase(cfg.Database); err != nil {
		return err
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.AccessKeyID == "" {
		return errors.New("minio access key id is required")
	}
	if cfg.MinIO.SecretAccessKey == "" {
		return errors.New("minio secret access key is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	if cfg.Auth.AccessTokenTTL <= 0 || cfg.Auth.RefreshTokenTTL <= 0 {
		return errors.New("jwt token ttl must be positive")
	}
	if cfg.Limits.FreeMaxResumes < 0 || cfg.Limits.PremiumMaxResumes < cfg.Limits.FreeMaxResumes {
		return errors.New("premium resume limit must not be below the free limit")
	}
	if cfg.Preview.Debounce < 0 {
		return errors.New("preview debounce must not be negative")
	}
	return nil
}
