package trustgate

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestConfigValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative cache ttl", func(c *Config) { c.Policy.CacheTTL = -time.Second }},
		{"negative risk weight", func(c *Config) { c.Risk.UnknownDeviceWeight = -1 }},
		{"suspicious threshold out of range", func(c *Config) { c.Risk.SuspiciousThreshold = 101 }},
		{"velocity threshold zero", func(c *Config) { c.Risk.VelocityThreshold = 0 }},
		{"velocity window zero", func(c *Config) { c.Risk.VelocityWindow = 0 }},
		{"country history zero", func(c *Config) { c.Risk.CountryHistorySize = 0 }},
		{"challenge ttl zero", func(c *Config) { c.MFA.ChallengeTTL = 0 }},
		{"challenge attempts zero", func(c *Config) { c.MFA.ChallengeMaxAttempts = 0 }},
		{"otp too short", func(c *Config) { c.MFA.OTPDigits = 3 }},
		{"otp too long", func(c *Config) { c.MFA.OTPDigits = 11 }},
		{"backup code too short", func(c *Config) { c.MFA.BackupCodeLength = 4 }},
		{"token enabled with short key", func(c *Config) {
			c.Token.Enabled = true
			c.Token.SigningKey = []byte("short")
		}},
		{"empty key prefix", func(c *Config) { c.Storage.KeyPrefix = "" }},
		{"retry attempts zero", func(c *Config) { c.Storage.RetryMaxAttempts = 0 }},
		{"broken fallback policy", func(c *Config) { c.FallbackPolicy.Session.Timeout = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestParseConfig_MergesOverDefaults(t *testing.T) {
	raw := []byte(`
policy:
  cache_ttl: 30s
risk:
  unknown_device_weight: 40
  suspicious_threshold: 60
mfa:
  challenge_ttl: 2m
  otp_digits: 8
  risk_step_up: false
token:
  enabled: true
  signing_key: 0123456789abcdef0123456789abcdef
  issuer: portal
  ttl: 15m
storage:
  key_prefix: authz
  retry_max_attempts: 5
audit:
  buffer_size: 64
fallback_policy:
  lockout:
    threshold: 10
    duration: 1h
  session:
    timeout: 2h
    max_concurrent: 1
  network:
    geo_blacklist: ["KP"]
`)

	cfg, err := ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.Policy.CacheTTL != 30*time.Second {
		t.Fatalf("cache ttl = %v", cfg.Policy.CacheTTL)
	}
	if cfg.Risk.UnknownDeviceWeight != 40 || cfg.Risk.SuspiciousThreshold != 60 {
		t.Fatalf("risk overrides not applied: %+v", cfg.Risk)
	}
	// Untouched keys keep their defaults.
	if cfg.Risk.NewCountryWeight != DefaultConfig().Risk.NewCountryWeight {
		t.Fatalf("absent key must keep default, got %d", cfg.Risk.NewCountryWeight)
	}
	if cfg.MFA.ChallengeTTL != 2*time.Minute || cfg.MFA.OTPDigits != 8 || cfg.MFA.RiskStepUp {
		t.Fatalf("mfa overrides not applied: %+v", cfg.MFA)
	}
	if !cfg.Token.Enabled || cfg.Token.Issuer != "portal" || cfg.Token.TTL != 15*time.Minute {
		t.Fatalf("token overrides not applied: %+v", cfg.Token)
	}
	if cfg.Storage.KeyPrefix != "authz" || cfg.Storage.RetryMaxAttempts != 5 {
		t.Fatalf("storage overrides not applied: %+v", cfg.Storage)
	}
	if cfg.Audit.BufferSize != 64 || !cfg.Audit.Enabled {
		t.Fatalf("audit overrides not applied: %+v", cfg.Audit)
	}

	fp := cfg.FallbackPolicy
	if fp.Lockout.Threshold != 10 || fp.Lockout.Duration != time.Hour {
		t.Fatalf("fallback lockout not applied: %+v", fp.Lockout)
	}
	if fp.Session.Timeout != 2*time.Hour || fp.Session.MaxConcurrent != 1 {
		t.Fatalf("fallback session not applied: %+v", fp.Session)
	}
	if len(fp.Network.GeoBlacklist) != 1 || fp.Network.GeoBlacklist[0] != "KP" {
		t.Fatalf("fallback network not applied: %+v", fp.Network)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("merged config must validate: %v", err)
	}
}

func TestParseConfig_BadInput(t *testing.T) {
	if _, err := ParseConfig([]byte("{not yaml")); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for bad yaml, got %v", err)
	}
	if _, err := ParseConfig([]byte("policy:\n  cache_ttl: soon\n")); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for bad duration, got %v", err)
	}
}

func TestCloneConfig_Isolation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Token.SigningKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.FallbackPolicy.Network.GeoBlacklist = []string{"KP"}

	clone := cloneConfig(cfg)
	cfg.Token.SigningKey[0] = 'x'
	cfg.FallbackPolicy.Network.GeoBlacklist[0] = "RU"

	if clone.Token.SigningKey[0] == 'x' {
		t.Fatal("signing key must be copied, not shared")
	}
	if clone.FallbackPolicy.Network.GeoBlacklist[0] != "KP" {
		t.Fatal("fallback policy lists must be copied, not shared")
	}
}
