// config предоставляет структуру конфигурации сервиса и функции
// загрузки из файла/переменных окружения с предсказуемым приоритетом.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config — корневая конфигурация сервиса.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл local.yaml из рабочей директории;
//  4. переменные окружения (cleanenv).
type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	Ops       OpsConfig       `yaml:"ops"`
	Auth      AuthConfig      `yaml:"auth"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Lockout   LockoutConfig   `yaml:"lockout"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cookie    CookieConfig    `yaml:"cookie"`
	DB        DBConfig        `yaml:"db"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
}

// Prod сообщает, работает ли сервис в боевом окружении.
// От этого зависят атрибуты refresh-cookie (Secure, SameSite=Strict).
func (c *Config) Prod() bool { return c.Env == "prod" }

// HTTPConfig — сетевые настройки публичного HTTP API.
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"50080"`
}

// OpsConfig — сетевые настройки служебного листенера (/livez, /healthz, /metrics).
type OpsConfig struct {
	Host string `yaml:"host" env:"OPS_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"OPS_PORT" env-default:"9091"`
}

// Addr возвращает адрес в формате host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// Addr возвращает адрес в формате host:port.
func (o OpsConfig) Addr() string {
	return net.JoinHostPort(o.Host, o.Port)
}

// Режимы ротации refresh-токена при обновлении пары.
const (
	RotationAlways = "always"
	RotationNever  = "never"
	RotationAfter  = "after"
)

// AuthConfig содержит параметры выпуска и валидации токенов.
//
// Секреты access- и refresh-токенов обязаны быть заданы и обязаны
// различаться: токен одного типа не должен проходить проверку подписи
// другого.
type AuthConfig struct {
	AccessSecret    string        `yaml:"access_secret" env:"ACCESS_SECRET" env-required:"true"`
	RefreshSecret   string        `yaml:"refresh_secret" env:"REFRESH_SECRET" env-required:"true"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"168h"`
	Issuer          string        `yaml:"issuer"   env:"ISSUER" env-default:"go-trip-planner"`
	Audience        []string      `yaml:"audience" env:"AUDIENCE" env-default:"go-trip-planner/api"`
	// Rotation — политика ротации refresh-токена: always | never | after.
	Rotation string `yaml:"rotation" env:"ROTATION" env-default:"always"`
	// RotationMinAge — минимальный возраст refresh-токена для режима "after":
	// токен моложе порога при обновлении не ротируется.
	RotationMinAge time.Duration `yaml:"rotation_min_age" env:"ROTATION_MIN_AGE" env-default:"1h"`
}

// SessionsConfig — правила ведения серверного реестра refresh-сессий.
type SessionsConfig struct {
	// MaxPerUser — потолок одновременных сессий на пользователя;
	// при превышении вытесняется старейшая по issued_at.
	MaxPerUser int `yaml:"max_per_user" env:"SESSIONS_MAX_PER_USER" env-default:"10"`
	// JanitorInterval — период фоновой очистки истёкших сессий.
	JanitorInterval time.Duration `yaml:"janitor_interval" env:"SESSIONS_JANITOR_INTERVAL" env-default:"30m"`
}

// Хранилища счётчиков блокировки.
const (
	LockoutStoreMemory = "memory"
	LockoutStoreRedis  = "redis"
)

// LockoutConfig — защита от перебора пароля.
//
// Store=memory корректен ТОЛЬКО для единственного экземпляра сервиса:
// при горизонтальном масштабировании счётчики обязаны жить в Redis.
type LockoutConfig struct {
	Threshold int           `yaml:"threshold" env:"LOCKOUT_THRESHOLD" env-default:"5"`
	Window    time.Duration `yaml:"window" env:"LOCKOUT_WINDOW" env-default:"15m"`
	Store     string        `yaml:"store" env:"LOCKOUT_STORE" env-default:"memory"`
}

// RateLimitConfig — ограничение частоты запросов к /auth/* (fixed window).
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" env:"RATE_LIMIT_ENABLED" env-default:"true"`
	Limit   int           `yaml:"limit" env:"RATE_LIMIT_LIMIT" env-default:"20"`
	Window  time.Duration `yaml:"window" env:"RATE_LIMIT_WINDOW" env-default:"1m"`
}

// CookieConfig — транспорт refresh-токена.
type CookieConfig struct {
	Name   string `yaml:"name" env:"COOKIE_NAME" env-default:"refresh_token"`
	Domain string `yaml:"domain" env:"COOKIE_DOMAIN" env-default:""`
}

// DBConfig — настройки подключения к базе данных.
type DBConfig struct {
	DatabaseURL string `yaml:"db_url" env:"DATABASE_URL" env-required:"true"`
}

// RedisConfig — настройки подключения к Redis.
// URL обязателен, когда lockout.store=redis или включён rate_limit.
type RedisConfig struct {
	RedisURL string `yaml:"redis_url" env:"REDIS_URL" env-default:""`
}

// KafkaConfig — публикация событий безопасности.
// При Enabled=false события уходят только в лог.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" env:"KAFKA_ENABLED" env-default:"false"`
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"auth.security-events"`
}

// TimeoutConfig — таймауты сервиса.
type TimeoutConfig struct {
	Service time.Duration `yaml:"service" env:"SERVICE" env-default:"5s"`
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
// ВАЖНО: после чтения файла накладываем ENV-переменные поверх значений из YAML.
func Load(path string) (*Config, error) {
	var cfg Config

	// чтение файла + overlay ENV.
	tryRead := func(p string) (*Config, error) {
		if p == "" {
			return nil, fmt.Errorf("empty config path")
		}

		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return &cfg, nil
	}

	// 1) Явный путь.
	if path != "" {
		c, err := tryRead(path)
		if err != nil {
			return nil, err
		}

		return c, nil
	}

	// 2) CONFIG_PATH.
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		c, err := tryRead(envPath)
		if err != nil {
			return nil, err
		}

		return c, nil
	}

	// 3) ./local.yaml.
	if _, err := os.Stat("local.yaml"); err == nil {
		if err := cleanenv.ReadConfig("local.yaml", &cfg); err != nil {
			return nil, fmt.Errorf("failed to read local.yaml: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return &cfg, nil
	}

	// 4) Только ENV.
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	return &cfg, nil
}
