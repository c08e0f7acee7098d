package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, uint32(10), cfg.Bank.AutoPauseThreshold)
	assert.Equal(t, 50, cfg.Bank.SuspiciousRiskScore)
	assert.Equal(t, 72*time.Hour, cfg.Governance.ProposalTTL)
	assert.Equal(t, 10, cfg.RateLimit.MaxRequestsPerMinute)
	require.Len(t, cfg.RiskSources, 1)
	assert.Equal(t, SourceHeuristic, cfg.RiskSources[0].Kind)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, "bank.yaml", `
server:
  port: "9090"
  request_timeout: 5s
bank:
  admin: "0x00000000000000000000000000000000000000aa"
  protocol_fee_bps: 25
  auto_pause_threshold: 3
rate_limit:
  max_requests_per_minute: 20
  max_amount_per_hour: 5000
  cooldown: 1m
risk_sources:
  - kind: heuristic
    penalty: 50
  - kind: scam_check
    url: http://scam.local
    penalty: 30
    timeout: 2s
    on_error: open
    max_source_risk: 90
  - kind: blocklist
    penalty: 20
    entries: ["0x00000000000000000000000000000000000000bb"]
keeper:
  agents: ["alice", "bob"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, uint16(25), cfg.Bank.ProtocolFeeBps)
	assert.Equal(t, uint32(3), cfg.Bank.AutoPauseThreshold)
	assert.Equal(t, uint64(5000), cfg.RateLimit.MaxAmountPerHour)
	assert.Equal(t, time.Minute, cfg.RateLimit.Cooldown)
	require.Len(t, cfg.RiskSources, 3)
	assert.Equal(t, "open", cfg.RiskSources[1].OnError)
	assert.Equal(t, 2*time.Second, cfg.RiskSources[1].Timeout)
	assert.Equal(t, 90, cfg.RiskSources[1].MaxSourceRisk)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Keeper.Agents)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "bank.yaml", "server:\n  port: \"9090\"\n")
	t.Setenv("PORT", "7070")
	t.Setenv("AUTO_PAUSE_THRESHOLD", "0")
	t.Setenv("RATE_MAX_AMOUNT_PER_HOUR", "42")
	t.Setenv("KEEPER_AGENTS", "alice, bob ,,carol")
	t.Setenv("ENABLE_FAUCET", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Zero(t, cfg.Bank.AutoPauseThreshold)
	assert.Equal(t, uint64(42), cfg.RateLimit.MaxAmountPerHour)
	assert.Equal(t, []string{"alice", "bob", "carol"}, cfg.Keeper.Agents)
	assert.True(t, cfg.Server.EnableFaucet)
}

func TestLoad_InvalidFile(t *testing.T) {
	_, err := Load(writeFile(t, "bad.yaml", "server: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"fee above 100%", func(c *Config) { c.Bank.ProtocolFeeBps = 10_001 }},
		{"suspicious score out of range", func(c *Config) { c.Bank.SuspiciousRiskScore = 101 }},
		{"unknown source kind", func(c *Config) { c.RiskSources = []RiskSourceConfig{{Kind: "oracle"}} }},
		{"http source without url", func(c *Config) { c.RiskSources = []RiskSourceConfig{{Kind: SourceReputation}} }},
		{"bad failure policy", func(c *Config) { c.RiskSources = []RiskSourceConfig{{Kind: SourceHeuristic, OnError: "maybe"}} }},
		{"request limit above log capacity", func(c *Config) { c.RateLimit.MaxRequestsPerMinute = 150 }},
		{"max source risk out of range", func(c *Config) { c.RiskSources = []RiskSourceConfig{{Kind: SourceHeuristic, MaxSourceRisk: 101}} }},
		{"penalty out of range", func(c *Config) { c.RiskSources = []RiskSourceConfig{{Kind: SourceHeuristic, Penalty: 120}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("CFG_TEST_INT", "12")
	t.Setenv("CFG_TEST_BAD_INT", "twelve")
	t.Setenv("CFG_TEST_FLOAT", "2.5")
	t.Setenv("CFG_TEST_DURATION", "90s")

	assert.Equal(t, 12, GetEnvAsInt("CFG_TEST_INT", 1))
	assert.Equal(t, 1, GetEnvAsInt("CFG_TEST_BAD_INT", 1))
	assert.Equal(t, 2.5, GetEnvAsFloat("CFG_TEST_FLOAT", 0))
	assert.Equal(t, 90*time.Second, GetEnvAsDuration("CFG_TEST_DURATION", 0))
	assert.Equal(t, "fallback", GetEnvOrDefault("CFG_TEST_UNSET", "fallback"))
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")), "Missing file is fine")

	path := writeFile(t, ".env", "CFG_DOTENV_VALUE=loaded\n")
	t.Cleanup(func() { os.Unsetenv("CFG_DOTENV_VALUE") })
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("CFG_DOTENV_VALUE"))
}
