// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig                  `mapstructure:"app"`
	Camunda       CamundaConfig              `mapstructure:"camunda"`
	Database      DatabaseConfig             `mapstructure:"database"`
	Workers       map[string]WorkerConfig    `mapstructure:"workers"`
	Auth          AuthConfig                 `mapstructure:"auth"`
	Providers     ProvidersConfig            `mapstructure:"providers"`
	Orchestration OrchestrationConfig        `mapstructure:"orchestration"`
	Integrations  IntegrationConfig          `mapstructure:"integrations"`
	Countries     map[string]CountryOverride `mapstructure:"countries"`
	Logging       LoggingConfig              `mapstructure:"logging"`
	Observability ObservabilityConfig        `mapstructure:"observability"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name            string   `mapstructure:"name"`
	Version         string   `mapstructure:"version"`
	Environment     string   `mapstructure:"environment"`
	Port            int      `mapstructure:"port"`
	ShutdownTimeout int      `mapstructure:"shutdown_timeout"` // milliseconds
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	UsePlaintext   bool   `mapstructure:"use_plaintext"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

// PostgresConfig selects the persistent registry. When disabled the
// in-memory registry is used.
type PostgresConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

// RedisConfig enables the cross-process application lock and OTP storage.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every job worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"` // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"`
}

// --- Specific Configuration Sections ---

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	TokenTTL  int    `mapstructure:"token_ttl"` // minutes
	OTPMode   string `mapstructure:"otp_mode"`  // static | redis
	StaticOTP string `mapstructure:"static_otp"`
	OTPTTL    int    `mapstructure:"otp_ttl"` // seconds
	// OTPMaxAttempts is how many wrong codes discard the current one.
	OTPMaxAttempts int    `mapstructure:"otp_max_attempts"`
	AdminMobile    string `mapstructure:"admin_mobile"`
	AdminPassword  string `mapstructure:"admin_password"`
	AdminCountry   string `mapstructure:"admin_country"`
}

// ProvidersConfig selects the verification provider backend.
type ProvidersConfig struct {
	Kind         string `mapstructure:"kind"` // genai | fake
	BaseURL      string `mapstructure:"base_url"`
	APIKey       string `mapstructure:"api_key"`
	Model        string `mapstructure:"model"`
	Timeout      int    `mapstructure:"timeout"`       // milliseconds, per attempt
	RetryBackoff int    `mapstructure:"retry_backoff"` // milliseconds
}

type OrchestrationConfig struct {
	ProviderTimeout      int `mapstructure:"provider_timeout"` // milliseconds, whole call incl. retry
	BiometricMaxAttempts int `mapstructure:"biometric_max_attempts"`
	LockTTL              int `mapstructure:"lock_ttl"`         // milliseconds
	LockWait             int `mapstructure:"lock_wait"`        // milliseconds
	EvidenceTimeout      int `mapstructure:"evidence_timeout"` // milliseconds, one upload
	ChatHistoryLimit     int `mapstructure:"chat_history_limit"`
}

// IntegrationConfig holds settings for AWS delivery and storage.
type IntegrationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SES    struct {
			Enabled    bool   `mapstructure:"enabled"`
			FromEmail  string `mapstructure:"from_email"`
			AdminEmail string `mapstructure:"admin_email"`
		} `mapstructure:"ses"`
		SNS struct {
			Enabled            bool   `mapstructure:"enabled"`
			DefaultSMSSenderID string `mapstructure:"default_sms_sender_id"`
		} `mapstructure:"sns"`
		S3 struct {
			Enabled bool   `mapstructure:"enabled"`
			Bucket  string `mapstructure:"bucket"`
			Prefix  string `mapstructure:"prefix"`
		} `mapstructure:"s3"`
	} `mapstructure:"aws"`
}

// CountryOverride adjusts the built-in market limits. Zero values keep the default.
type CountryOverride struct {
	MinLoan      float64 `mapstructure:"min_loan"`
	MaxLoan      float64 `mapstructure:"max_loan"`
	ExchangeRate float64 `mapstructure:"exchange_rate"`
	Disabled     bool    `mapstructure:"disabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type ObservabilityConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
}
