package trustgate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// configFile mirrors the YAML schema. It is deliberately separate from
// Config: file fields are pointers so absent keys keep their defaults, and
// durations are parsed from strings ("15m", "24h").
type configFile struct {
	Policy struct {
		CacheTTL string `yaml:"cache_ttl"`
	} `yaml:"policy"`

	Risk struct {
		UnknownDeviceWeight *int   `yaml:"unknown_device_weight"`
		NewCountryWeight    *int   `yaml:"new_country_weight"`
		VelocityWeight      *int   `yaml:"velocity_weight"`
		VelocityThreshold   *int   `yaml:"velocity_threshold"`
		VelocityWindow      string `yaml:"velocity_window"`
		FailureWeight       *int   `yaml:"failure_weight"`
		FailureWeightCap    *int   `yaml:"failure_weight_cap"`
		SuspiciousThreshold *int   `yaml:"suspicious_threshold"`
		CountryHistorySize  *int   `yaml:"country_history_size"`
	} `yaml:"risk"`

	MFA struct {
		ChallengeTTL         string `yaml:"challenge_ttl"`
		ChallengeMaxAttempts *int   `yaml:"challenge_max_attempts"`
		OTPDigits            *int   `yaml:"otp_digits"`
		BackupCodeCount      *int   `yaml:"backup_code_count"`
		BackupCodeLength     *int   `yaml:"backup_code_length"`
		RiskStepUp           *bool  `yaml:"risk_step_up"`
	} `yaml:"mfa"`

	Token struct {
		Enabled    *bool  `yaml:"enabled"`
		SigningKey string `yaml:"signing_key"`
		Issuer     string `yaml:"issuer"`
		TTL        string `yaml:"ttl"`
	} `yaml:"token"`

	Storage struct {
		KeyPrefix            string `yaml:"key_prefix"`
		RetryMaxAttempts     *int   `yaml:"retry_max_attempts"`
		RetryInitialInterval string `yaml:"retry_initial_interval"`
	} `yaml:"storage"`

	Audit struct {
		Enabled    *bool `yaml:"enabled"`
		BufferSize *int  `yaml:"buffer_size"`
		DropIfFull *bool `yaml:"drop_if_full"`
	} `yaml:"audit"`

	Metrics struct {
		Enabled                 *bool `yaml:"enabled"`
		EnableLatencyHistograms *bool `yaml:"enable_latency_histograms"`
	} `yaml:"metrics"`

	FallbackPolicy *fallbackPolicyFile `yaml:"fallback_policy"`
}

type fallbackPolicyFile struct {
	Lockout struct {
		Enabled     *bool  `yaml:"enabled"`
		Threshold   *int   `yaml:"threshold"`
		Duration    string `yaml:"duration"`
		ResetWindow string `yaml:"reset_window"`
	} `yaml:"lockout"`

	Session struct {
		Timeout       string `yaml:"timeout"`
		MaxConcurrent *int   `yaml:"max_concurrent"`
	} `yaml:"session"`

	MFA struct {
		Required           *bool    `yaml:"required"`
		RequiredForRoles   []string `yaml:"required_for_roles"`
		AllowedTypes       []string `yaml:"allowed_types"`
		RememberDeviceDays *int     `yaml:"remember_device_days"`
	} `yaml:"mfa"`

	Network struct {
		IPWhitelist  []string `yaml:"ip_whitelist"`
		IPBlacklist  []string `yaml:"ip_blacklist"`
		GeoWhitelist []string `yaml:"geo_whitelist"`
		GeoBlacklist []string `yaml:"geo_blacklist"`
	} `yaml:"network"`
}

// LoadConfigFile reads a YAML configuration file over DefaultConfig.
// Absent keys keep their defaults; the merged result is validated by
// Builder.Build as usual.
func LoadConfigFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
	}
	return ParseConfig(raw)
}

// ParseConfig merges YAML bytes over DefaultConfig.
func ParseConfig(raw []byte) (Config, error) {
	var file configFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Config{}, fmt.Errorf("%w: parse yaml: %v", ErrInvalidConfig, err)
	}

	cfg := DefaultConfig()

	if err := applyDuration(&cfg.Policy.CacheTTL, file.Policy.CacheTTL, "policy.cache_ttl"); err != nil {
		return Config{}, err
	}

	applyInt(&cfg.Risk.UnknownDeviceWeight, file.Risk.UnknownDeviceWeight)
	applyInt(&cfg.Risk.NewCountryWeight, file.Risk.NewCountryWeight)
	applyInt(&cfg.Risk.VelocityWeight, file.Risk.VelocityWeight)
	applyInt(&cfg.Risk.VelocityThreshold, file.Risk.VelocityThreshold)
	applyInt(&cfg.Risk.FailureWeight, file.Risk.FailureWeight)
	applyInt(&cfg.Risk.FailureWeightCap, file.Risk.FailureWeightCap)
	applyInt(&cfg.Risk.SuspiciousThreshold, file.Risk.SuspiciousThreshold)
	applyInt(&cfg.Risk.CountryHistorySize, file.Risk.CountryHistorySize)
	if err := applyDuration(&cfg.Risk.VelocityWindow, file.Risk.VelocityWindow, "risk.velocity_window"); err != nil {
		return Config{}, err
	}

	if err := applyDuration(&cfg.MFA.ChallengeTTL, file.MFA.ChallengeTTL, "mfa.challenge_ttl"); err != nil {
		return Config{}, err
	}
	applyInt(&cfg.MFA.ChallengeMaxAttempts, file.MFA.ChallengeMaxAttempts)
	applyInt(&cfg.MFA.OTPDigits, file.MFA.OTPDigits)
	applyInt(&cfg.MFA.BackupCodeCount, file.MFA.BackupCodeCount)
	applyInt(&cfg.MFA.BackupCodeLength, file.MFA.BackupCodeLength)
	applyBool(&cfg.MFA.RiskStepUp, file.MFA.RiskStepUp)

	applyBool(&cfg.Token.Enabled, file.Token.Enabled)
	if file.Token.SigningKey != "" {
		cfg.Token.SigningKey = []byte(file.Token.SigningKey)
	}
	if file.Token.Issuer != "" {
		cfg.Token.Issuer = file.Token.Issuer
	}
	if err := applyDuration(&cfg.Token.TTL, file.Token.TTL, "token.ttl"); err != nil {
		return Config{}, err
	}

	if file.Storage.KeyPrefix != "" {
		cfg.Storage.KeyPrefix = file.Storage.KeyPrefix
	}
	applyInt(&cfg.Storage.RetryMaxAttempts, file.Storage.RetryMaxAttempts)
	if err := applyDuration(&cfg.Storage.RetryInitialInterval, file.Storage.RetryInitialInterval, "storage.retry_initial_interval"); err != nil {
		return Config{}, err
	}

	applyBool(&cfg.Audit.Enabled, file.Audit.Enabled)
	applyInt(&cfg.Audit.BufferSize, file.Audit.BufferSize)
	applyBool(&cfg.Audit.DropIfFull, file.Audit.DropIfFull)

	applyBool(&cfg.Metrics.Enabled, file.Metrics.Enabled)
	applyBool(&cfg.Metrics.EnableLatencyHistograms, file.Metrics.EnableLatencyHistograms)

	if file.FallbackPolicy != nil {
		if err := applyFallbackPolicy(&cfg.FallbackPolicy, file.FallbackPolicy); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func applyFallbackPolicy(p *SecurityPolicy, file *fallbackPolicyFile) error {
	applyBool(&p.Lockout.Enabled, file.Lockout.Enabled)
	applyInt(&p.Lockout.Threshold, file.Lockout.Threshold)
	if err := applyDuration(&p.Lockout.Duration, file.Lockout.Duration, "fallback_policy.lockout.duration"); err != nil {
		return err
	}
	if err := applyDuration(&p.Lockout.ResetWindow, file.Lockout.ResetWindow, "fallback_policy.lockout.reset_window"); err != nil {
		return err
	}

	if err := applyDuration(&p.Session.Timeout, file.Session.Timeout, "fallback_policy.session.timeout"); err != nil {
		return err
	}
	applyInt(&p.Session.MaxConcurrent, file.Session.MaxConcurrent)

	applyBool(&p.MFA.Required, file.MFA.Required)
	if file.MFA.RequiredForRoles != nil {
		p.MFA.RequiredForRoles = file.MFA.RequiredForRoles
	}
	if file.MFA.AllowedTypes != nil {
		p.MFA.AllowedTypes = stringsToMethods(file.MFA.AllowedTypes)
	}
	applyInt(&p.MFA.RememberDeviceDays, file.MFA.RememberDeviceDays)

	if file.Network.IPWhitelist != nil {
		p.Network.IPWhitelist = file.Network.IPWhitelist
	}
	if file.Network.IPBlacklist != nil {
		p.Network.IPBlacklist = file.Network.IPBlacklist
	}
	if file.Network.GeoWhitelist != nil {
		p.Network.GeoWhitelist = file.Network.GeoWhitelist
	}
	if file.Network.GeoBlacklist != nil {
		p.Network.GeoBlacklist = file.Network.GeoBlacklist
	}

	return nil
}

func applyInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func applyBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func applyDuration(dst *time.Duration, src, field string) error {
	if src == "" {
		return nil
	}
	d, err := time.ParseDuration(src)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, field, err)
	}
	*dst = d
	return nil
}
