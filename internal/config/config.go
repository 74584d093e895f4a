package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config содержит всю конфигурацию push-relay.
type Config struct {
	Env          string `yaml:"env" env:"ENV" env-default:"production"`
	Server       ServerConfig
	RabbitMQ     RabbitMQConfig
	Redis        RedisConfig
	FCM          FCMConfig
	APNS         APNSConfig
	TokenService TokenServiceConfig
	Relay        RelayConfig
	Log          LogConfig
	Auth         AuthConfig
}

// ServerConfig содержит настройки HTTP сервера.
type ServerConfig struct {
	Port               string        `yaml:"port" env:"PORT" env-default:"8083"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-separator:","`
	EnableMetrics      bool          `yaml:"enable_metrics" env:"ENABLE_METRICS" env-default:"true"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
	PushWaitTimeout    time.Duration `yaml:"push_wait_timeout" env:"PUSH_WAIT_TIMEOUT" env-default:"15s"`         // Сколько POST /internal/push ждет завершения обработки
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute" env:"RATE_LIMIT_PER_MINUTE" env-default:"120"` // 0 отключает ограничение
}

// RabbitMQConfig содержит настройки подключения к RabbitMQ.
// Если URI пуст, AMQP-вход отключен и push-сообщения принимаются только по HTTP.
type RabbitMQConfig struct {
	URI                    string `yaml:"uri" env:"RABBITMQ_URI"`
	PushQueueName          string `yaml:"push_queue_name" env:"PUSH_QUEUE_NAME" env-default:"push_relay"`
	TokenDeletionQueueName string `yaml:"token_deletion_queue_name" env:"TOKEN_DELETION_QUEUE_NAME" env-default:"auth_token_deletions"`
	WorkerConcurrency      int    `yaml:"worker_concurrency" env:"WORKER_CONCURRENCY" env-default:"10"`
	MaxRetries             int    `yaml:"max_retries" env:"RABBITMQ_MAX_RETRIES" env-default:"50"`
}

// RedisConfig - хранилище токенов устройств. Если Addr пуст, используется TokenService.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type FCMConfig struct {
	CredentialsPath string `yaml:"credentials_path" env:"FCM_CREDENTIALS_PATH"` // Путь к файлу ключа сервис-аккаунта
	BroadcastTopic  string `yaml:"broadcast_topic" env:"FCM_BROADCAST_TOPIC"`   // Топик для уведомлений без user_id
}

type APNSConfig struct {
	KeyID      string `yaml:"key_id" env:"APNS_KEY_ID"`
	TeamID     string `yaml:"team_id" env:"APNS_TEAM_ID"`
	KeyPath    string `yaml:"key_path" env:"APNS_KEY_PATH"`
	Topic      string `yaml:"topic" env:"APNS_TOPIC"`
	Production bool   `yaml:"production" env:"APNS_PRODUCTION" env-default:"false"`
}

type TokenServiceConfig struct {
	URL     string        `yaml:"url" env:"TOKEN_SERVICE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"TOKEN_SERVICE_TIMEOUT" env-default:"10s"`
}

// RelayConfig - поведение пересылки push-сообщений.
type RelayConfig struct {
	SummaryField        string        `yaml:"summary_field" env:"RELAY_SUMMARY_FIELD" env-default:"body"`
	MissingNotification string        `yaml:"missing_notification" env:"RELAY_MISSING_NOTIFICATION" env-default:"reject"`
	ProcessTimeout      time.Duration `yaml:"process_timeout" env:"RELAY_PROCESS_TIMEOUT" env-default:"30s"`
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Encoding string `yaml:"encoding" env:"LOG_ENCODING" env-default:"json"`
}

// AuthConfig - секреты для проверки токенов. Docker secrets имеют приоритет над env.
type AuthConfig struct {
	JWTSecret          string `yaml:"-" env:"JWT_SECRET"`
	InterServiceSecret string `yaml:"-" env:"INTER_SERVICE_SECRET"`
}

// LoadConfig загружает конфигурацию из файла, а при его отсутствии - из переменных окружения.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yml"
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Printf("Предупреждение: не удалось прочитать файл конфигурации '%s': %v. Попытка чтения из переменных окружения.", configPath, err)
		cfg = Config{}
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
		}
	}

	if secret, err := ReadSecret("jwt_secret"); err == nil {
		cfg.Auth.JWTSecret = secret
	}
	if secret, err := ReadSecret("inter_service_secret"); err == nil {
		cfg.Auth.InterServiceSecret = secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Printf("Конфигурация загружена. Port: %s, Push Queue: %s, AMQP enabled: %t",
		cfg.Server.Port, cfg.RabbitMQ.PushQueueName, cfg.RabbitMQ.URI != "")
	return &cfg, nil
}

// Validate проверяет обязательные поля и допустимые значения.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT secret is not set (secret jwt_secret or JWT_SECRET)")
	}
	switch c.Relay.MissingNotification {
	case "reject", "display":
	default:
		return fmt.Errorf("invalid RELAY_MISSING_NOTIFICATION %q: expected reject or display", c.Relay.MissingNotification)
	}
	if c.Relay.SummaryField == "" {
		return errors.New("RELAY_SUMMARY_FIELD must not be empty")
	}
	if c.RabbitMQ.URI != "" && c.RabbitMQ.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.RabbitMQ.WorkerConcurrency)
	}
	return nil
}

// IsDevelopment сообщает, запущен ли сервис в режиме разработки.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// SecretsDir - каталог Docker Secrets. Переменная, чтобы тесты могли подменить путь.
var SecretsDir = "/run/secrets"

// ReadSecret читает секрет из файла в каталоге Docker Secrets.
func ReadSecret(secretName string) (string, error) {
	filePath := filepath.Join(SecretsDir, secretName)
	secretBytes, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", filePath, err)
	}
	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", filePath)
	}
	return secret, nil
}
