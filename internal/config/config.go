package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config хранит все настройки приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Auth     AuthConfig
	Frontend FrontendConfig
	OAuth    OAuthConfig
}

// ServerConfig содержит настройки HTTP сервера
type ServerConfig struct {
	Port         string
	ReadTimeout  int
	WriteTimeout int
}

// DatabaseConfig содержит настройки подключения к PostgreSQL
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig содержит унифицированные настройки подключения к Redis
// Поддерживает режимы: single, sentinel, cluster
type RedisConfig struct {
	// Mode: Режим работы Redis ("single", "sentinel", "cluster"). По умолчанию "single".
	Mode string `mapstructure:"mode"`

	// Addrs: Список адресов Redis (хост:порт). Используется для всех режимов.
	Addrs []string `mapstructure:"addrs"`

	// Addr: Альтернативный адрес для режима 'single' (для обратной совместимости).
	Addr string `mapstructure:"addr"`

	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// MasterName: Имя мастер-сервера Redis (только для режима "sentinel")
	MasterName string `mapstructure:"master_name"`

	MaxRetries      int `mapstructure:"max_retries"`
	MinRetryBackoff int `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff int `mapstructure:"max_retry_backoff"`
}

// JWTConfig содержит настройки подписи токенов.
// Secret используется и для access-токенов, и для state-токенов OAuth.
type JWTConfig struct {
	Secret               string `mapstructure:"secret"`
	ExpirationHrs        int    `mapstructure:"expirationHrs"`
	RefreshTokenLifetime int    `mapstructure:"refreshTokenLifetime"` // в часах
}

// AuthConfig содержит настройки аутентификации
type AuthConfig struct {
	SessionLimit int
}

// FrontendConfig содержит адреса, на которые уходят редиректы OAuth-потока
type FrontendConfig struct {
	// URL фронтенда (страница /login получает токены или контекст слияния)
	URL string `mapstructure:"url"`
	// IOSScheme - кастомная схема нативного приложения (например, "notesapp")
	IOSScheme string `mapstructure:"ios_scheme"`
}

// OAuthConfig содержит настройки внешних провайдеров
type OAuthConfig struct {
	GitHub OAuthProviderConfig `mapstructure:"github"`
	Apple  OAuthProviderConfig `mapstructure:"apple"`
}

// OAuthProviderConfig - унифицированная конфигурация одного провайдера.
// GitHub использует ClientID/ClientSecret, Apple - ClientID/TeamID/KeyID/PrivateKey.
type OAuthProviderConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	TeamID       string   `mapstructure:"team_id"`
	KeyID        string   `mapstructure:"key_id"`
	PrivateKey   string   `mapstructure:"private_key"` // PEM (PKCS#8, ES256)
	CallbackURL  string   `mapstructure:"callback_url"`
	Scopes       []string `mapstructure:"scopes"`
}

// ProviderConfig возвращает конфигурацию провайдера по имени.
// Это единственная точка, через которую OAuth-подсистема читает настройки,
// поэтому горячая перезагрузка конфига не требует перезапуска потока.
func (c *Config) ProviderConfig(name string) (OAuthProviderConfig, bool) {
	switch strings.ToLower(name) {
	case "github":
		return c.OAuth.GitHub, true
	case "apple":
		return c.OAuth.Apple, true
	default:
		return OAuthProviderConfig{}, false
	}
}

// PostgresConnectionString формирует строку подключения к PostgreSQL
func (d *DatabaseConfig) PostgresConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// Load загружает конфигурацию из файла
func Load(configPath string) (*Config, error) {
	vip := viper.New() // Используем новый экземпляр Viper, чтобы избежать глобального состояния

	// Привязываем переменные окружения ЯВНО
	// Привязка для секции Database
	vip.BindEnv("database.host", "DATABASE_HOST")
	vip.BindEnv("database.port", "DATABASE_PORT")
	vip.BindEnv("database.user", "DATABASE_USER")
	vip.BindEnv("database.password", "DATABASE_PASSWORD")
	vip.BindEnv("database.dbname", "DATABASE_DBNAME")
	vip.BindEnv("database.sslmode", "DATABASE_SSLMODE")

	// Привязка для секции Redis
	vip.BindEnv("redis.mode", "REDIS_MODE")
	vip.BindEnv("redis.addrs", "REDIS_ADDRS")
	vip.BindEnv("redis.addr", "REDIS_ADDR")
	vip.BindEnv("redis.password", "REDIS_PASSWORD")
	vip.BindEnv("redis.db", "REDIS_DB")
	vip.BindEnv("redis.master_name", "REDIS_MASTER_NAME")

	// Привязка для секции JWT
	vip.BindEnv("jwt.secret", "JWT_SECRET")
	vip.BindEnv("jwt.expirationHrs", "JWT_EXPIRATIONHRS")
	vip.BindEnv("jwt.refreshTokenLifetime", "JWT_REFRESHTOKENLIFETIME")

	// Привязка для секции Auth
	vip.BindEnv("auth.sessionLimit", "AUTH_SESSIONLIMIT")

	// Привязка для Frontend
	vip.BindEnv("frontend.url", "FRONTEND_URL")
	vip.BindEnv("frontend.ios_scheme", "FRONTEND_IOS_SCHEME")

	// Привязка для OAuth провайдеров
	vip.BindEnv("oauth.github.enabled", "OAUTH_GITHUB_ENABLED")
	vip.BindEnv("oauth.github.client_id", "OAUTH_GITHUB_CLIENT_ID")
	vip.BindEnv("oauth.github.client_secret", "OAUTH_GITHUB_CLIENT_SECRET")
	vip.BindEnv("oauth.github.callback_url", "OAUTH_GITHUB_CALLBACK_URL")
	vip.BindEnv("oauth.apple.enabled", "OAUTH_APPLE_ENABLED")
	vip.BindEnv("oauth.apple.client_id", "OAUTH_APPLE_CLIENT_ID")
	vip.BindEnv("oauth.apple.team_id", "OAUTH_APPLE_TEAM_ID")
	vip.BindEnv("oauth.apple.key_id", "OAUTH_APPLE_KEY_ID")
	vip.BindEnv("oauth.apple.private_key", "OAUTH_APPLE_PRIVATE_KEY")
	vip.BindEnv("oauth.apple.callback_url", "OAUTH_APPLE_CALLBACK_URL")

	// Привязка для Server
	vip.BindEnv("server.port", "SERVER_PORT")

	// Устанавливаем путь к файлу конфигурации
	if configPath != "" {
		vip.SetConfigFile(configPath)
		// Пытаемся прочитать файл конфигурации (не страшно, если его нет, т.к. есть BindEnv)
		if err := vip.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				log.Printf("Файл конфигурации '%s' не найден, используются переменные окружения/умолчания.", configPath)
			} else {
				log.Printf("Предупреждение: не удалось прочитать файл конфигурации '%s': %v", configPath, err)
			}
		}
	}

	// Анмаршалим конфигурацию (Viper объединит значения из файла и привязанных env vars)
	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Логирование конфигурации (только в debug режиме)
	if os.Getenv("GIN_MODE") != "release" {
		log.Printf("--- Загруженные значения конфигурации ---")
		log.Printf("Database Host: %s", cfg.Database.Host)
		log.Printf("Database Name: %s", cfg.Database.DBName)
		log.Printf("Redis Addr: %s", cfg.Redis.Addr)
		log.Printf("JWT Secret Set: %t", cfg.JWT.Secret != "")
		log.Printf("Frontend URL: %s", cfg.Frontend.URL)
		log.Printf("GitHub OAuth Enabled: %t", cfg.OAuth.GitHub.Enabled)
		log.Printf("Apple OAuth Enabled: %t", cfg.OAuth.Apple.Enabled)
		log.Printf("Server Port: %s", cfg.Server.Port)
		log.Printf("-----------------------------------------")
	}

	// Проверка обязательных параметров
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT secret is required in config (check JWT_SECRET env var)")
	}
	if cfg.Database.Host == "" || cfg.Database.DBName == "" || cfg.Database.User == "" {
		return nil, fmt.Errorf("database configuration (host, dbname, user) is incomplete in config (check DATABASE_HOST, DATABASE_DBNAME, DATABASE_USER env vars)")
	}
	if cfg.Frontend.URL == "" {
		return nil, fmt.Errorf("frontend URL is required in config (check FRONTEND_URL env var)")
	}

	return &cfg, nil
}
