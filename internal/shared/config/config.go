package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	JWT          JWTConfig
	Encryption   EncryptionConfig
	Scheduler    SchedulerConfig
	TLS          TLSConfig
	Aggregator   AggregatorConfig
	Risk         RiskConfig
	Processor    ProcessorConfig
	Transfer     TransferConfig
	LinkToken    LinkTokenConfig
	LiveUpdate   LiveUpdateConfig
	Webhook      WebhookConfig
	Firebase     FirebaseConfig
	Kafka        KafkaConfig
	Redis        RedisConfig
	Notification NotificationConfig
	Telemetry    TelemetryConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	AllowedHosts []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type JWTConfig struct {
	Secret string
}

type EncryptionConfig struct {
	Key string
}

type SchedulerConfig struct {
	Enabled       bool
	ScheduleTimes []string
	WorkerCount   int
	JobDelay      time.Duration
	QueueSize     int
	RunOnStartup  bool
}

type TLSConfig struct {
	Enabled      bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
}

// AggregatorConfig configures the bank-aggregation provider client.
type AggregatorConfig struct {
	BaseURL      string
	ClientID     string
	Secret       string
	Environment  string
	WebhookURL   string
	RedirectURI  string
	Products     []string
	CountryCodes []string
	Timeout      time.Duration
}

// IsSandbox reports whether sandbox-only endpoints may be used.
func (c AggregatorConfig) IsSandbox() bool {
	return c.Environment == "sandbox"
}

type RiskConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

type ProcessorConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type TransferConfig struct {
	ProcessorMode         bool
	EnforceBalanceCeiling bool
	// RefreshBalance fetches the live balance before the ceiling check.
	RefreshBalance bool
}

type LinkTokenConfig struct {
	TTL          time.Duration
	MaxRetries   int
	RetryInitial time.Duration
	RetryMax     time.Duration
}

type LiveUpdateConfig struct {
	Backend          string
	SubscriberBuffer int
}

type WebhookConfig struct {
	VerificationSecret string
}

type FirebaseConfig struct {
	CredentialsFile string
}

type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	RateLimit   int
	RateWindow  time.Duration
	RateEnabled bool
}

type NotificationConfig struct {
	MessagesFile string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
}

func Load() (*Config, error) {

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	// Parse scheduler configuration
	schedulerWorkers, err := strconv.Atoi(getEnv("SCHEDULER_WORKERS", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_WORKERS: %w", err)
	}
	schedulerJobDelay, err := getDurationEnv("SCHEDULER_JOB_DELAY", time.Second)
	if err != nil {
		return nil, err
	}
	schedulerQueueSize, err := strconv.Atoi(getEnv("SCHEDULER_QUEUE_SIZE", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_QUEUE_SIZE: %w", err)
	}

	aggregatorTimeout, err := getDurationEnv("AGGREGATOR_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	riskTimeout, err := getDurationEnv("RISK_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	riskRetries, err := strconv.Atoi(getEnv("RISK_MAX_RETRIES", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid RISK_MAX_RETRIES: %w", err)
	}
	processorTimeout, err := getDurationEnv("PROCESSOR_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	linkTokenTTL, err := getDurationEnv("LINK_TOKEN_TTL", 30*time.Minute)
	if err != nil {
		return nil, err
	}
	linkTokenRetries, err := strconv.Atoi(getEnv("LINK_TOKEN_MAX_RETRIES", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid LINK_TOKEN_MAX_RETRIES: %w", err)
	}
	linkTokenRetryInitial, err := getDurationEnv("LINK_TOKEN_RETRY_INITIAL", 200*time.Millisecond)
	if err != nil {
		return nil, err
	}
	linkTokenRetryMax, err := getDurationEnv("LINK_TOKEN_RETRY_MAX", 2*time.Second)
	if err != nil {
		return nil, err
	}

	liveBuffer, err := strconv.Atoi(getEnv("LIVE_UPDATE_BUFFER", "32"))
	if err != nil {
		return nil, fmt.Errorf("invalid LIVE_UPDATE_BUFFER: %w", err)
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	rateLimit, err := strconv.Atoi(getEnv("RATE_LIMIT_REQUESTS", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_REQUESTS: %w", err)
	}
	rateWindow, err := getDurationEnv("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			AllowedHosts: getListEnv("ALLOWED_HOSTS", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "bankline"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "bankline"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Encryption: EncryptionConfig{
			Key: getEnv("ENCRYPTION_KEY", ""),
		},
		Scheduler: SchedulerConfig{
			Enabled:       getBoolEnv("SCHEDULER_ENABLED", true),
			ScheduleTimes: getListEnv("SCHEDULER_TIMES", "03:00,15:00"),
			WorkerCount:   schedulerWorkers,
			JobDelay:      schedulerJobDelay,
			QueueSize:     schedulerQueueSize,
			RunOnStartup:  getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false),
		},
		TLS: TLSConfig{
			Enabled:      getBoolEnv("TLS_ENABLED", false),
			CertPath:     getEnv("TLS_CERT_PATH", ""),
			KeyPath:      getEnv("TLS_KEY_PATH", ""),
			RedirectHTTP: getBoolEnv("TLS_REDIRECT_HTTP", false),
		},
		Aggregator: AggregatorConfig{
			BaseURL:      getEnv("AGGREGATOR_BASE_URL", "https://sandbox.plaid.com"),
			ClientID:     getEnv("AGGREGATOR_CLIENT_ID", ""),
			Secret:       getEnv("AGGREGATOR_SECRET", ""),
			Environment:  getEnv("AGGREGATOR_ENV", "sandbox"),
			WebhookURL:   getEnv("AGGREGATOR_WEBHOOK_URL", ""),
			RedirectURI:  getEnv("AGGREGATOR_REDIRECT_URI", ""),
			Products:     getListEnv("AGGREGATOR_PRODUCTS", "auth,transactions"),
			CountryCodes: getListEnv("AGGREGATOR_COUNTRY_CODES", "US"),
			Timeout:      aggregatorTimeout,
		},
		Risk: RiskConfig{
			BaseURL:    getEnv("RISK_BASE_URL", ""),
			APIKey:     getEnv("RISK_API_KEY", ""),
			Timeout:    riskTimeout,
			MaxRetries: riskRetries,
		},
		Processor: ProcessorConfig{
			BaseURL: getEnv("PROCESSOR_BASE_URL", ""),
			APIKey:  getEnv("PROCESSOR_API_KEY", ""),
			Timeout: processorTimeout,
		},
		Transfer: TransferConfig{
			ProcessorMode:         getBoolEnv("TRANSFER_PROCESSOR_MODE", false),
			EnforceBalanceCeiling: getBoolEnv("TRANSFER_ENFORCE_BALANCE_CEILING", false),
			RefreshBalance:        getBoolEnv("TRANSFER_REFRESH_BALANCE", true),
		},
		LinkToken: LinkTokenConfig{
			TTL:          linkTokenTTL,
			MaxRetries:   linkTokenRetries,
			RetryInitial: linkTokenRetryInitial,
			RetryMax:     linkTokenRetryMax,
		},
		LiveUpdate: LiveUpdateConfig{
			Backend:          strings.ToLower(getEnv("LIVE_UPDATE_BACKEND", "memory")),
			SubscriberBuffer: liveBuffer,
		},
		Webhook: WebhookConfig{
			VerificationSecret: getEnv("WEBHOOK_VERIFICATION_SECRET", ""),
		},
		Firebase: FirebaseConfig{
			CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
		},
		Kafka: KafkaConfig{
			Brokers:    getListEnv("KAFKA_BROKERS", ""),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "bankline.audit"),
		},
		Redis: RedisConfig{
			Addr:        getEnv("REDIS_ADDR", ""),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          redisDB,
			RateLimit:   rateLimit,
			RateWindow:  rateWindow,
			RateEnabled: getBoolEnv("RATE_LIMIT_ENABLED", false),
		},
		Notification: NotificationConfig{
			MessagesFile: getEnv("NOTIFICATION_MESSAGES_FILE", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "bankline-api"),
			Environment:  getEnv("OTEL_ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			MetricsPort:  getEnv("METRICS_PORT", "9464"),
		},
	}

	// Validate required fields
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Encryption.Key == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(cfg.Encryption.Key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	if cfg.TLS.Enabled {
		if cfg.TLS.CertPath == "" {
			return nil, fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if cfg.TLS.KeyPath == "" {
			return nil, fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}

	if cfg.Transfer.ProcessorMode && cfg.Processor.BaseURL == "" {
		return nil, fmt.Errorf("PROCESSOR_BASE_URL is required when TRANSFER_PROCESSOR_MODE=true")
	}

	switch cfg.LiveUpdate.Backend {
	case "memory", "postgres":
	default:
		return nil, fmt.Errorf("LIVE_UPDATE_BACKEND must be 'memory' or 'postgres', got %q", cfg.LiveUpdate.Backend)
	}

	if cfg.Redis.RateEnabled && cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required when RATE_LIMIT_ENABLED=true")
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// getListEnv splits a comma-separated value, dropping blanks.
func getListEnv(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
