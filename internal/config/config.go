// Package config provides configuration loading and management for the bank
// server and keeper. Values come from defaults, then an optional YAML file,
// then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/agent-bank/internal/alert"
	"github.com/yourorg/agent-bank/internal/circuitbreaker"
	"github.com/yourorg/agent-bank/internal/governance"
	"github.com/yourorg/agent-bank/internal/ratelimit"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Bank        BankConfig         `yaml:"bank"`
	Governance  governance.Options `yaml:"governance"`
	RateLimit   ratelimit.Config   `yaml:"rate_limit"`
	RiskSources []RiskSourceConfig `yaml:"risk_sources"`
	Audit       AuditConfig        `yaml:"audit"`
	Alert       alert.Config       `yaml:"alert"`
	Signer      SignerConfig       `yaml:"signer"`
	Otel        OtelConfig         `yaml:"otel"`
	Log         LogConfig          `yaml:"log"`
	Keeper      KeeperConfig       `yaml:"keeper"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port           string        `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// IngressRPS and IngressBurst bound the whole server, ahead of the
	// per-agent limiter
	IngressRPS   float64 `yaml:"ingress_rps"`
	IngressBurst int     `yaml:"ingress_burst"`

	// EnableFaucet exposes wallet minting against the in-process custody ledger
	EnableFaucet bool `yaml:"enable_faucet"`
}

// BankConfig seeds the bank singleton
type BankConfig struct {
	Admin              string `yaml:"admin"`
	ProtocolFeeBps     uint16 `yaml:"protocol_fee_bps"`
	AutoPauseThreshold uint32 `yaml:"auto_pause_threshold"`

	// SuspiciousRiskScore is the risk score at which a blocked withdrawal
	// counts toward the auto-pause threshold
	SuspiciousRiskScore int `yaml:"suspicious_risk_score"`
}

// Risk source kinds
const (
	SourceHeuristic  = "heuristic"
	SourceScamCheck  = "scam_check"
	SourceReputation = "reputation"
	SourceBlocklist  = "blocklist"
)

// RiskSourceConfig configures one risk-gating check; order is evaluation order
type RiskSourceConfig struct {
	Kind     string        `yaml:"kind"`
	URL      string        `yaml:"url"`
	APIKey   string        `yaml:"api_key"`
	Penalty  int           `yaml:"penalty"`
	Timeout  time.Duration `yaml:"timeout"`
	OnError  string        `yaml:"on_error"`
	MinScore int           `yaml:"min_score"`
	RetryMax int           `yaml:"retry_max"`
	Entries  []string      `yaml:"entries"`

	// MaxSourceRisk fails a passing verdict whose own score is above it
	// (0 selects the pipeline default of 80)
	MaxSourceRisk int `yaml:"max_source_risk"`
}

// AuditConfig selects the event journal
type AuditConfig struct {
	// SQLitePath enables the SQLite journal; empty keeps events in memory
	SQLitePath string `yaml:"sqlite_path"`
}

// SignerConfig holds the receipt signing key
type SignerConfig struct {
	PrivateKey string `yaml:"private_key"`
}

// OtelConfig configures tracing
type OtelConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// LogConfig configures logrus
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// KeeperConfig configures the keeper process
type KeeperConfig struct {
	ServerURL   string        `yaml:"server_url"`
	Identity    string        `yaml:"identity"`
	Agents      []string      `yaml:"agents"`
	TriggerCron string        `yaml:"trigger_cron"`
	AccrueCron  string        `yaml:"accrue_cron"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           "8080",
			RequestTimeout: 10 * time.Second,
			IngressRPS:     50,
			IngressBurst:   100,
		},
		Bank: BankConfig{
			AutoPauseThreshold:  circuitbreaker.DefaultAutoPauseThreshold,
			SuspiciousRiskScore: 50,
		},
		Governance: governance.DefaultOptions(),
		RateLimit:  ratelimit.DefaultConfig(),
		RiskSources: []RiskSourceConfig{
			{Kind: SourceHeuristic, Penalty: 50, Timeout: time.Second, OnError: "closed", MaxSourceRisk: 80},
		},
		Alert: alert.Config{Timeout: 10 * time.Second, RetryMax: 3},
		Log:   LogConfig{Level: "info", Format: "json"},
		Keeper: KeeperConfig{
			ServerURL:   "http://localhost:8080",
			Identity:    "keeper",
			TriggerCron: "0 */5 * * * *",
			AccrueCron:  "0 0 * * * *",
			Timeout:     30 * time.Second,
		},
	}
}

// LoadDotEnv loads a .env file into the environment if it exists
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads config from a YAML file (missing file is fine), then applies
// environment variable overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides file values with environment variables
func (c *Config) applyEnv() {
	c.Server.Port = GetEnvOrDefault("PORT", c.Server.Port)
	c.Server.RequestTimeout = GetEnvAsDuration("REQUEST_TIMEOUT", c.Server.RequestTimeout)
	c.Server.IngressRPS = GetEnvAsFloat("INGRESS_RPS", c.Server.IngressRPS)
	c.Server.IngressBurst = GetEnvAsInt("INGRESS_BURST", c.Server.IngressBurst)
	c.Server.EnableFaucet = GetEnvAsBool("ENABLE_FAUCET", c.Server.EnableFaucet)

	c.Bank.Admin = GetEnvOrDefault("BANK_ADMIN", c.Bank.Admin)
	c.Bank.ProtocolFeeBps = uint16(GetEnvAsInt("PROTOCOL_FEE_BPS", int(c.Bank.ProtocolFeeBps)))
	c.Bank.AutoPauseThreshold = uint32(GetEnvAsInt("AUTO_PAUSE_THRESHOLD", int(c.Bank.AutoPauseThreshold)))
	c.Bank.SuspiciousRiskScore = GetEnvAsInt("SUSPICIOUS_RISK_SCORE", c.Bank.SuspiciousRiskScore)

	c.Governance.ProposalTTL = GetEnvAsDuration("PROPOSAL_TTL", c.Governance.ProposalTTL)

	c.RateLimit.MaxRequestsPerMinute = GetEnvAsInt("RATE_MAX_REQUESTS_PER_MINUTE", c.RateLimit.MaxRequestsPerMinute)
	if v, ok := GetEnv("RATE_MAX_AMOUNT_PER_HOUR"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.RateLimit.MaxAmountPerHour = n
		}
	}
	c.RateLimit.Cooldown = GetEnvAsDuration("RATE_COOLDOWN", c.RateLimit.Cooldown)

	c.Audit.SQLitePath = GetEnvOrDefault("AUDIT_SQLITE_PATH", c.Audit.SQLitePath)
	c.Alert.URL = GetEnvOrDefault("ALERT_WEBHOOK_URL", c.Alert.URL)
	c.Alert.APIKey = GetEnvOrDefault("ALERT_WEBHOOK_API_KEY", c.Alert.APIKey)
	c.Signer.PrivateKey = GetEnvOrDefault("SIGNER_PRIVATE_KEY", c.Signer.PrivateKey)
	c.Otel.Endpoint = GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", c.Otel.Endpoint)
	c.Log.Level = GetEnvOrDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Format = GetEnvOrDefault("LOG_FORMAT", c.Log.Format)

	c.Keeper.ServerURL = GetEnvOrDefault("KEEPER_SERVER_URL", c.Keeper.ServerURL)
	c.Keeper.Identity = GetEnvOrDefault("KEEPER_IDENTITY", c.Keeper.Identity)
	if v, ok := GetEnv("KEEPER_AGENTS"); ok {
		c.Keeper.Agents = splitList(v)
	}

	// API keys per source kind, e.g. RISK_SCAM_CHECK_API_KEY
	for i := range c.RiskSources {
		prefix := "RISK_" + strings.ToUpper(c.RiskSources[i].Kind)
		c.RiskSources[i].URL = GetEnvOrDefault(prefix+"_URL", c.RiskSources[i].URL)
		c.RiskSources[i].APIKey = GetEnvOrDefault(prefix+"_API_KEY", c.RiskSources[i].APIKey)
	}
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	var errs []error

	if c.Bank.ProtocolFeeBps > circuitbreaker.MaxProtocolFeeBps {
		errs = append(errs, fmt.Errorf("bank.protocol_fee_bps %d exceeds %d", c.Bank.ProtocolFeeBps, circuitbreaker.MaxProtocolFeeBps))
	}
	if c.Bank.SuspiciousRiskScore < 0 || c.Bank.SuspiciousRiskScore > 100 {
		errs = append(errs, fmt.Errorf("bank.suspicious_risk_score %d outside [0,100]", c.Bank.SuspiciousRiskScore))
	}
	if c.RateLimit.MaxRequestsPerMinute < 0 || c.RateLimit.MaxRequestsPerMinute > ratelimit.MaxLogEntries {
		errs = append(errs, fmt.Errorf("rate_limit.max_requests_per_minute %d outside [0,%d]", c.RateLimit.MaxRequestsPerMinute, ratelimit.MaxLogEntries))
	}
	if c.Server.IngressRPS < 0 || c.Server.IngressBurst < 0 {
		errs = append(errs, fmt.Errorf("server ingress limits must not be negative"))
	}

	for i, rs := range c.RiskSources {
		switch rs.Kind {
		case SourceHeuristic, SourceBlocklist:
		case SourceScamCheck, SourceReputation:
			if rs.URL == "" {
				errs = append(errs, fmt.Errorf("risk_sources[%d] (%s) requires a url", i, rs.Kind))
			}
		default:
			errs = append(errs, fmt.Errorf("risk_sources[%d] has unknown kind %q", i, rs.Kind))
		}
		if rs.Penalty < 0 || rs.Penalty > 100 {
			errs = append(errs, fmt.Errorf("risk_sources[%d] penalty %d outside [0,100]", i, rs.Penalty))
		}
		if rs.MaxSourceRisk < 0 || rs.MaxSourceRisk > 100 {
			errs = append(errs, fmt.Errorf("risk_sources[%d] max_source_risk %d outside [0,100]", i, rs.MaxSourceRisk))
		}
		switch strings.ToLower(rs.OnError) {
		case "", "open", "closed", "fail-open", "fail-closed", "fail_open", "fail_closed":
		default:
			errs = append(errs, fmt.Errorf("risk_sources[%d] on_error %q must be open or closed", i, rs.OnError))
		}
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a boolean with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
