// config предоставляет структуру конфигурации сервера BioCraft Studio и функции
// загрузки из файла/переменных окружения с предсказуемым приоритетом.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Окружения, влияющие на формат логов, флаги cookie и CSP.
const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// Бэкенды хранилища рецептов.
const (
	RecipesPostgres = "postgres"
	RecipesMongo    = "mongo"
)

// Config — корневая конфигурация сервера.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл local.yaml из рабочей директории;
//  4. переменные окружения (cleanenv).
type Config struct {
	Env         string          `yaml:"env" env:"ENV" env-default:"local"`
	FrontendURL string          `yaml:"frontend_url" env:"FRONTEND_URL" env-default:"http://localhost:9002"`
	HTTP        HTTPConfig      `yaml:"http"`
	DB          DBConfig        `yaml:"db"`
	Redis       RedisConfig     `yaml:"redis"`
	Mongo       MongoConfig     `yaml:"mongo"`
	Recipes     RecipesConfig   `yaml:"recipes"`
	S3          S3Config        `yaml:"s3"`
	Auth        AuthConfig      `yaml:"auth"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	OAuth       OAuthConfig     `yaml:"oauth"`
	Upload      UploadConfig    `yaml:"upload"`
	Timeouts    TimeoutConfig   `yaml:"timeouts"`
}

// IsProduction сообщает, запущен ли сервер в боевом окружении.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProd || c.Env == "production"
}

// HTTPConfig — сетевые настройки HTTP-сервера.
type HTTPConfig struct {
	Host       string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port       string `yaml:"port" env:"HTTP_PORT" env-default:"3001"`
	// TrustProxy включает определение IP клиента по X-Forwarded-For.
	TrustProxy bool   `yaml:"trust_proxy" env:"HTTP_TRUST_PROXY" env-default:"false"`
}

// Addr возвращает адрес в формате host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// DBConfig — настройки подключения к PostgreSQL.
type DBConfig struct {
	DatabaseURL string `yaml:"db_url" env:"DATABASE_URL" env-required:"true"`
}

// RedisConfig — пустой URL означает in-memory хранилища сессий и лимитов.
type RedisConfig struct {
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
}

// MongoConfig используется только при recipes.backend = mongo.
type MongoConfig struct {
	URI      string `yaml:"uri" env:"MONGO_URI" env-default:"mongodb://localhost:27017"`
	Database string `yaml:"database" env:"MONGO_DATABASE" env-default:"biocraft"`
}

// RecipesConfig выбирает хранилище рецептов.
type RecipesConfig struct {
	Backend string `yaml:"backend" env:"RECIPES_BACKEND" env-default:"postgres"`
}

// S3Config — объектное хранилище (MinIO) для аватаров и загружаемых файлов.
// Пустой Endpoint отключает загрузки.
type S3Config struct {
	Endpoint      string        `yaml:"endpoint" env:"S3_ENDPOINT"`
	AccessKey     string        `yaml:"access_key" env:"S3_ACCESS_KEY"`
	SecretKey     string        `yaml:"secret_key" env:"S3_SECRET_KEY"`
	Bucket        string        `yaml:"bucket" env:"S3_BUCKET" env-default:"biocraft"`
	UseSSL        bool          `yaml:"use_ssl" env:"S3_USE_SSL" env-default:"false"`
	PresignTTL    time.Duration `yaml:"presign_ttl" env:"S3_PRESIGN_TTL" env-default:"15m"`
	PublicBaseURL string        `yaml:"public_base_url" env:"S3_PUBLIC_BASE_URL"`
}

// AuthConfig содержит параметры выпуска токенов и жизни сессий.
type AuthConfig struct {
	JWTSecret                string        `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	Issuer                   string        `yaml:"issuer" env:"JWT_ISSUER" env-default:"biocraft-studio"`
	Audience                 []string      `yaml:"audience" env:"JWT_AUDIENCE" env-default:"biocraft-web"`
	AccessTokenTTL           time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"1h"`
	RefreshTokenTTL          time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"720h"`
	// SessionMaxAge — Max-Age cookie без "remember me", RememberMaxAge — с ним.
	SessionMaxAge            time.Duration `yaml:"session_max_age" env:"SESSION_MAX_AGE" env-default:"24h"`
	RememberMaxAge           time.Duration `yaml:"remember_max_age" env:"REMEMBER_MAX_AGE" env-default:"168h"`
	// MaxStoredAge — предельный возраст сохранённой сессии независимо от токена.
	MaxStoredAge             time.Duration `yaml:"max_stored_age" env:"MAX_STORED_AGE" env-default:"168h"`
	ResetTokenTTL            time.Duration `yaml:"reset_token_ttl" env:"RESET_TOKEN_TTL" env-default:"1h"`
	RevokeTimeout            time.Duration `yaml:"revoke_timeout" env:"REVOKE_TIMEOUT" env-default:"5s"`
	JanitorInterval          time.Duration `yaml:"janitor_interval" env:"JANITOR_INTERVAL" env-default:"1h"`
	// RequireEmailVerification запрещает вход до подтверждения e-mail.
	RequireEmailVerification bool          `yaml:"require_email_verification" env:"REQUIRE_EMAIL_VERIFICATION" env-default:"false"`
}

// RateLimitConfig — лимиты запросов на IP.
type RateLimitConfig struct {
	AuthLimit  int           `yaml:"auth_limit" env:"RATE_AUTH_LIMIT" env-default:"10"`
	AuthWindow time.Duration `yaml:"auth_window" env:"RATE_AUTH_WINDOW" env-default:"15m"`
	APILimit   int           `yaml:"api_limit" env:"RATE_API_LIMIT" env-default:"60"`
	APIWindow  time.Duration `yaml:"api_window" env:"RATE_API_WINDOW" env-default:"1m"`
}

// OAuthClient — учётные данные одного OAuth-провайдера.
// Пустой ClientID отключает провайдера.
type OAuthClient struct {
	ClientID     string `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"CLIENT_SECRET"`
}

// OAuthConfig — внешние провайдеры входа.
type OAuthConfig struct {
	RedirectURL string      `yaml:"redirect_url" env:"OAUTH_REDIRECT_URL" env-default:"http://localhost:3001/auth/callback"`
	Google      OAuthClient `yaml:"google" env-prefix:"OAUTH_GOOGLE_"`
	GitHub      OAuthClient `yaml:"github" env-prefix:"OAUTH_GITHUB_"`
}

// UploadConfig — ограничения для POST /upload и аватаров.
type UploadConfig struct {
	MaxBytes           int64    `yaml:"max_bytes" env:"UPLOAD_MAX_BYTES" env-default:"10485760"`
	AllowedExt         []string `yaml:"allowed_ext" env:"UPLOAD_ALLOWED_EXT" env-default:".csv,.txt,.json,.pdf,.xlsx,.xls"`
	AvatarMaxBytes     int64    `yaml:"avatar_max_bytes" env:"AVATAR_MAX_BYTES" env-default:"5242880"`
	AvatarContentTypes []string `yaml:"avatar_content_types" env:"AVATAR_CONTENT_TYPES" env-default:"image/jpeg,image/png,image/webp"`
}

// TimeoutConfig — таймауты сервера.
type TimeoutConfig struct {
	Request  time.Duration `yaml:"request" env:"REQUEST_TIMEOUT" env-default:"30s"`
	Shutdown time.Duration `yaml:"shutdown" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// Validate проверяет согласованность значений, которые cleanenv проверить не может.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("auth.jwt_secret is empty"))
	}

	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("auth token ttl must be positive"))
	}

	if c.Auth.SessionMaxAge <= 0 || c.Auth.RememberMaxAge < c.Auth.SessionMaxAge {
		errs = append(errs, errors.New("auth.remember_max_age must be >= auth.session_max_age > 0"))
	}

	if c.RateLimit.AuthLimit <= 0 || c.RateLimit.AuthWindow <= 0 ||
		c.RateLimit.APILimit <= 0 || c.RateLimit.APIWindow <= 0 {
		errs = append(errs, errors.New("rate_limit values must be positive"))
	}

	switch c.Recipes.Backend {
	case RecipesPostgres, RecipesMongo:
	default:
		errs = append(errs, fmt.Errorf("recipes.backend %q is not supported", c.Recipes.Backend))
	}

	return errors.Join(errs...)
}

// MustLoad — обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// После чтения файла ENV-переменные накладываются поверх значений из YAML.
func Load(path string) (*Config, error) {
	var cfg Config

	read := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q does not exist: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		return validated(&cfg)
	}

	if path != "" {
		return read(path)
	}

	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return read(envPath)
	}

	if _, err := os.Stat("local.yaml"); err == nil {
		return read("local.yaml")
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	return validated(&cfg)
}

func validated(cfg *Config) (*Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
