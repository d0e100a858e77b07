// Package config loads process configuration from defaults, an optional
// YAML file and the environment, in that order of precedence.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/kernel/retry"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/kms"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/ledgerclient"
)

// Config holds treasury process configuration.
type Config struct {
	// DatabaseURL selects Postgres. When empty the process runs in lite
	// mode on SQLite under DataDir.
	DatabaseURL string `env:"DATABASE_URL" yaml:"database_url"`
	DataDir     string `env:"TREASURY_DATA_DIR" envDefault:"data" yaml:"data_dir"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"INFO" yaml:"log_level"`

	Ledger     LedgerConfig     `yaml:"ledger"`
	Retry      RetryConfig      `yaml:"retry"`
	Custody    CustodyConfig    `yaml:"custody"`
	Redis      RedisConfig      `yaml:"redis"`
	Governance GovernanceConfig `yaml:"governance"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// LedgerConfig configures the RPC node connection.
type LedgerConfig struct {
	RPCURL         string        `env:"TREASURY_RPC_URL" envDefault:"http://127.0.0.1:8899" yaml:"rpc_url"`
	Commitment     string        `env:"TREASURY_COMMITMENT" envDefault:"confirmed" yaml:"commitment"`
	RateLimit      float64       `env:"TREASURY_RPC_RATE" envDefault:"10" yaml:"rate_limit"`
	Burst          int           `env:"TREASURY_RPC_BURST" envDefault:"10" yaml:"burst"`
	PollInterval   time.Duration `env:"TREASURY_CONFIRM_POLL" envDefault:"500ms" yaml:"poll_interval"`
	MaxConfirmWait time.Duration `env:"TREASURY_CONFIRM_MAX_WAIT" envDefault:"90s" yaml:"max_confirm_wait"`
	HTTPTimeout    time.Duration `env:"TREASURY_RPC_TIMEOUT" envDefault:"30s" yaml:"http_timeout"`
}

// RetryConfig bounds per-transaction retries.
type RetryConfig struct {
	MaxAttempts int           `env:"TREASURY_RETRY_MAX_ATTEMPTS" envDefault:"3" yaml:"max_attempts"`
	BaseDelay   time.Duration `env:"TREASURY_RETRY_BASE_DELAY" envDefault:"2s" yaml:"base_delay"`
	MaxJitter   time.Duration `env:"TREASURY_RETRY_MAX_JITTER" envDefault:"0s" yaml:"max_jitter"`
}

// CustodyConfig carries the master secret. Secret and salt have no
// defaults; prefix a value with "base64:" to pass binary material.
type CustodyConfig struct {
	MasterSecret string `env:"TREASURY_MASTER_SECRET" yaml:"master_secret"`
	Salt         string `env:"TREASURY_KMS_SALT" yaml:"salt"`
	ScryptN      int    `env:"TREASURY_SCRYPT_N" envDefault:"32768" yaml:"scrypt_n"`
	ScryptR      int    `env:"TREASURY_SCRYPT_R" envDefault:"8" yaml:"scrypt_r"`
	ScryptP      int    `env:"TREASURY_SCRYPT_P" envDefault:"1" yaml:"scrypt_p"`
}

// RedisConfig enables the shared execution lock when Addr is set.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" yaml:"addr"`
	Password string `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int    `env:"REDIS_DB" envDefault:"0" yaml:"db"`
}

// GovernanceConfig configures the gate.
type GovernanceConfig struct {
	// ApprovalPolicy is an optional CEL expression evaluated after the
	// passed-state check.
	ApprovalPolicy string `env:"TREASURY_APPROVAL_POLICY" yaml:"approval_policy"`
}

// ExecutionConfig configures the coordinator.
type ExecutionConfig struct {
	AllowedTypes []string `env:"TREASURY_ALLOWED_TYPES" envSeparator:"," envDefault:"proposal_execution,vote,bet,borrow_lend,swap" yaml:"allowed_types"`
	// Schemas maps an execution type to a JSON schema file for its params.
	Schemas map[string]string `env:"TREASURY_PARAM_SCHEMAS" envSeparator:"," envKeyValSeparator:"=" yaml:"schemas"`
	LockTTL time.Duration     `env:"TREASURY_LOCK_TTL" envDefault:"2m" yaml:"lock_ttl"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled        bool    `env:"OTEL_ENABLED" envDefault:"false" yaml:"enabled"`
	ServiceName    string  `env:"OTEL_SERVICE_NAME" envDefault:"treasury" yaml:"service_name"`
	ServiceVersion string  `env:"OTEL_SERVICE_VERSION" envDefault:"0.1.0" yaml:"service_version"`
	Environment    string  `env:"TREASURY_ENV" envDefault:"development" yaml:"environment"`
	OTLPEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317" yaml:"otlp_endpoint"`
	Insecure       bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true" yaml:"insecure"`
	SampleRate     float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1" yaml:"sample_rate"`
}

// Load builds a Config from defaults, then the YAML file at path (if
// non-empty), then any environment variables that are set.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{}}); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	// A tag name no field carries disables defaults, so unset variables
	// leave the file values alone.
	if err := env.ParseWithOptions(cfg, env.Options{DefaultValueTagName: "envNoDefault"}); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	return cfg, nil
}

// Validate checks everything that does not need a live dependency. The
// custody secret is checked separately by KMSConfig so commands that never
// touch keys can run without it.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ledgerclient.ParseCommitment(c.Ledger.Commitment); err != nil {
		errs = append(errs, err)
	}
	if c.Ledger.RPCURL == "" {
		errs = append(errs, errors.New("ledger rpc url is required"))
	}
	if c.Ledger.Burst < 0 || c.Ledger.RateLimit < 0 {
		errs = append(errs, errors.New("ledger rate limit must not be negative"))
	}
	if c.Ledger.PollInterval <= 0 {
		errs = append(errs, errors.New("ledger poll interval must be positive"))
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(c.Execution.AllowedTypes) == 0 {
		errs = append(errs, errors.New("at least one execution type must be allowed"))
	}
	for t := range c.Execution.Schemas {
		if !c.Allows(contracts.ExecutionType(t)) {
			errs = append(errs, fmt.Errorf("schema configured for disallowed execution type %q", t))
		}
	}
	if c.Execution.LockTTL <= 0 {
		errs = append(errs, errors.New("execution lock ttl must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Allows reports whether t is in the execution allowlist.
func (c *Config) Allows(t contracts.ExecutionType) bool {
	for _, a := range c.Execution.AllowedTypes {
		if strings.TrimSpace(a) == string(t) {
			return true
		}
	}
	return false
}

// RetryPolicy converts RetryConfig.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxJitter:   c.Retry.MaxJitter,
	}
}

// KMSConfig decodes the custody secret into a validated kms.Config.
func (c *Config) KMSConfig() (kms.Config, error) {
	secret, err := decodeSecret(c.Custody.MasterSecret)
	if err != nil {
		return kms.Config{}, fmt.Errorf("config: master secret: %w", err)
	}
	salt, err := decodeSecret(c.Custody.Salt)
	if err != nil {
		return kms.Config{}, fmt.Errorf("config: salt: %w", err)
	}
	kc := kms.Config{
		MasterSecret: secret,
		Salt:         salt,
		KDF:          kms.KDFParams{N: c.Custody.ScryptN, R: c.Custody.ScryptR, P: c.Custody.ScryptP},
	}
	if err := kc.Validate(); err != nil {
		return kms.Config{}, fmt.Errorf("config: %w", err)
	}
	return kc, nil
}

func decodeSecret(s string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(s, "base64:"); ok {
		return base64.StdEncoding.DecodeString(rest)
	}
	return []byte(s), nil
}
