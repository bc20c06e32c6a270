package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "LOAN"

// Load reads configs/config.yaml, merges config.<environment>.yaml on top and
// applies LOAN_* environment overrides.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName("config." + env)
	_ = v.MergeInConfig() // environment file is optional

	cfg, err := finish(v)
	if err != nil {
		return nil, err
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = env
	}
	return cfg, nil
}

// LoadFromFile reads a single config file.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return finish(v)
}

// keyDelimiter replaces viper's "." so that task types such as
// loan.submit-biometrics stay single keys under workers.
const keyDelimiter = "::"

func newViper() *viper.Viper {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_", ".", "_", "-", "_"))
	v.AutomaticEnv()
	bindEnv(v)
	return v
}

// AutomaticEnv only resolves keys viper already knows about, so the keys that
// are commonly injected as secrets are bound explicitly.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"auth.jwt_secret",
		"auth.admin_password",
		"providers.api_key",
		"providers.base_url",
		"database.postgres.password",
		"database.postgres.host",
		"database.redis.address",
		"database.redis.password",
		"camunda.broker_address",
	} {
		_ = v.BindEnv(strings.ReplaceAll(key, ".", keyDelimiter))
	}
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env"}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnvVars resolves ${VAR} placeholders inside string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok || !strings.Contains(strVal, "$") {
			continue
		}
		if expanded := os.ExpandEnv(strVal); expanded != strVal && expanded != "" {
			v.Set(key, expanded)
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "loan-orchestrator"
	}
	if cfg.App.Port == 0 {
		cfg.App.Port = 8080
	}
	if cfg.App.ShutdownTimeout == 0 {
		cfg.App.ShutdownTimeout = 15000
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.Index == "" {
		cfg.Database.Elasticsearch.Index = "loan-applications"
	}

	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 60
	}
	if cfg.Auth.OTPMode == "" {
		cfg.Auth.OTPMode = "static"
	}
	if cfg.Auth.OTPTTL == 0 {
		cfg.Auth.OTPTTL = 300
	}
	if cfg.Auth.OTPMaxAttempts == 0 {
		cfg.Auth.OTPMaxAttempts = 5
	}

	if cfg.Providers.Kind == "" {
		cfg.Providers.Kind = "genai"
	}
	if cfg.Providers.Timeout == 0 {
		cfg.Providers.Timeout = 20000
	}
	if cfg.Providers.RetryBackoff == 0 {
		cfg.Providers.RetryBackoff = 500
	}

	if cfg.Orchestration.ProviderTimeout == 0 {
		cfg.Orchestration.ProviderTimeout = 45000
	}
	if cfg.Orchestration.LockTTL == 0 {
		cfg.Orchestration.LockTTL = 60000
	}
	if cfg.Orchestration.EvidenceTimeout == 0 {
		cfg.Orchestration.EvidenceTimeout = 5000
	}
	if cfg.Orchestration.LockWait == 0 {
		cfg.Orchestration.LockWait = 5000
	}
	if cfg.Orchestration.ChatHistoryLimit == 0 {
		cfg.Orchestration.ChatHistoryLimit = 20
	}

	if cfg.Integrations.AWS.Region == "" {
		cfg.Integrations.AWS.Region = "ap-southeast-1"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = cfg.App.Name
	}

	// viper lowercases map keys; markets are keyed by their ISO code.
	if len(cfg.Countries) > 0 {
		countries := make(map[string]CountryOverride, len(cfg.Countries))
		for code, override := range cfg.Countries {
			countries[strings.ToUpper(code)] = override
		}
		cfg.Countries = countries
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}
}

// providerCallsPerJob is how many sequential provider calls a job may make.
// Each is bounded by orchestration.provider_timeout.
var providerCallsPerJob = map[string]int{
	"loan.submit-documents":  1,
	"loan.submit-biometrics": 2, // face match, then the contract draft
	"loan.generate-contract": 1,
}

func validateConfig(cfg *Config) error {
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if cfg.Auth.OTPMode != "static" && cfg.Auth.OTPMode != "redis" {
		return fmt.Errorf("auth.otp_mode must be static or redis, got %q", cfg.Auth.OTPMode)
	}
	if cfg.Auth.OTPMode == "redis" && !cfg.Database.Redis.Enabled {
		return fmt.Errorf("auth.otp_mode=redis requires database.redis.enabled")
	}

	switch cfg.Providers.Kind {
	case "fake":
	case "genai":
		if cfg.Providers.BaseURL == "" {
			return fmt.Errorf("providers.base_url is required for the genai provider")
		}
	default:
		return fmt.Errorf("providers.kind must be genai or fake, got %q", cfg.Providers.Kind)
	}

	if cfg.Orchestration.BiometricMaxAttempts < 0 {
		return fmt.Errorf("orchestration.biometric_max_attempts must not be negative")
	}
	// The lease covers one provider call plus the two biometric uploads.
	if held := cfg.Orchestration.ProviderTimeout + 2*cfg.Orchestration.EvidenceTimeout; cfg.Orchestration.LockTTL <= held {
		return fmt.Errorf("orchestration.lock_ttl (%dms) must exceed provider_timeout plus two evidence uploads (%dms)",
			cfg.Orchestration.LockTTL, held)
	}
	for taskType, calls := range providerCallsPerJob {
		worker, ok := cfg.Workers[taskType]
		if !ok || !worker.Enabled {
			continue
		}
		if need := calls * cfg.Orchestration.ProviderTimeout; worker.Timeout < need {
			return fmt.Errorf("workers.%s.timeout must be at least %dms for %d provider call(s)", taskType, need, calls)
		}
	}

	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required when camunda is enabled")
	}

	if cfg.Database.Postgres.Enabled {
		if cfg.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
		if cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
		if cfg.Database.Postgres.User == "" {
			return fmt.Errorf("database.postgres.user is required")
		}
	}

	if cfg.Database.Elasticsearch.Enabled && len(cfg.Database.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("database.elasticsearch.addresses is required")
	}

	if cfg.Database.Redis.Enabled && cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	aws := cfg.Integrations.AWS
	if aws.SES.Enabled && (aws.SES.FromEmail == "" || aws.SES.AdminEmail == "") {
		return fmt.Errorf("integrations.aws.ses.from_email and admin_email are required")
	}
	if aws.S3.Enabled && aws.S3.Bucket == "" {
		return fmt.Errorf("integrations.aws.s3.bucket is required")
	}

	return nil
}

func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}
	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
