package trustgate

import (
	"fmt"
	"time"
)

// PolicyConfig controls policy resolution behavior.
type PolicyConfig struct {
	// CacheTTL bounds how stale the resolver's policy snapshot may be.
	// Engine-side policy writes invalidate the cache immediately; writes
	// performed behind the engine's back surface within this window.
	CacheTTL time.Duration
}

// RiskConfig carries the additive risk factor weights. Zero values fall back
// to the defaults from DefaultConfig.
type RiskConfig struct {
	// UnknownDeviceWeight is added when the device fingerprint has never been
	// seen for the account (or no fingerprint was presented).
	UnknownDeviceWeight int
	// NewCountryWeight is added when the origin country differs from every
	// country seen in the account's recent successful logins.
	NewCountryWeight int
	// VelocityWeight is added when attempts inside VelocityWindow exceed
	// VelocityThreshold.
	VelocityWeight    int
	VelocityThreshold int
	VelocityWindow    time.Duration
	// FailureWeight is added per recent failed attempt, capped at FailureWeightCap.
	FailureWeight    int
	FailureWeightCap int
	// SuspiciousThreshold marks an attempt suspicious when the total score
	// strictly exceeds it.
	SuspiciousThreshold int
	// CountryHistorySize is how many recent success countries are kept per account.
	CountryHistorySize int
}

// MFAConfig controls the challenge lifecycle.
type MFAConfig struct {
	// ChallengeTTL bounds how long a pending challenge stays confirmable.
	ChallengeTTL time.Duration
	// ChallengeMaxAttempts invalidates a challenge after this many failed codes.
	ChallengeMaxAttempts int
	// OTPDigits is the length of generated sms/email one-time codes.
	OTPDigits int
	// BackupCodeCount and BackupCodeLength shape GenerateBackupCodes output.
	BackupCodeCount  int
	BackupCodeLength int
	// RiskStepUp forces an MFA challenge on suspicious attempts even when the
	// policy does not require one, provided the account has a usable method.
	RiskStepUp bool
}

// TokenConfig controls access token issuance for admitted sessions.
type TokenConfig struct {
	Enabled bool
	// SigningKey is the HMAC-SHA256 key. Required when Enabled.
	SigningKey []byte
	Issuer     string
	// TTL of issued tokens. 0 ties the token lifetime to the session expiry.
	TTL time.Duration
}

// StorageConfig controls Redis key layout and the retry policy applied at
// the persistence boundary.
type StorageConfig struct {
	// KeyPrefix namespaces every Redis key the engine writes.
	KeyPrefix string
	// RetryMaxAttempts bounds retries of transient backend failures. 1 = no retry.
	RetryMaxAttempts int
	// RetryInitialInterval seeds the exponential backoff between retries.
	RetryInitialInterval time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds events under backpressure instead of blocking the
	// authentication path. Dropped counts are observable via Engine.AuditDropped.
	DropIfFull bool
}

// MetricsConfig controls the in-process metrics registry.
type MetricsConfig struct {
	Enabled bool
	// EnableLatencyHistograms adds the Authenticate latency histogram.
	EnableLatencyHistograms bool
}

// Config is the complete engine configuration. Start from [DefaultConfig]
// and override what you need; Builder.Build validates the result.
type Config struct {
	Policy  PolicyConfig
	Risk    RiskConfig
	MFA     MFAConfig
	Token   TokenConfig
	Storage StorageConfig
	Audit   AuditConfig
	Metrics MetricsConfig

	// FallbackPolicy governs attempts when no active policy matches. It is
	// deliberately strict; see DefaultConfig.
	FallbackPolicy SecurityPolicy
}

// DefaultConfig returns the baseline configuration the engine ships with.
func DefaultConfig() Config {
	return Config{
		Policy: PolicyConfig{
			CacheTTL: 5 * time.Second,
		},
		Risk: RiskConfig{
			UnknownDeviceWeight: 25,
			NewCountryWeight:    20,
			VelocityWeight:      30,
			VelocityThreshold:   10,
			VelocityWindow:      5 * time.Minute,
			FailureWeight:       5,
			FailureWeightCap:    25,
			SuspiciousThreshold: 50,
			CountryHistorySize:  5,
		},
		MFA: MFAConfig{
			ChallengeTTL:         5 * time.Minute,
			ChallengeMaxAttempts: 5,
			OTPDigits:            6,
			BackupCodeCount:      10,
			BackupCodeLength:     10,
			RiskStepUp:           true,
		},
		Storage: StorageConfig{
			KeyPrefix:            "tg",
			RetryMaxAttempts:     3,
			RetryInitialInterval: 50 * time.Millisecond,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		FallbackPolicy: SecurityPolicy{
			ID:       "fallback",
			Name:     "fallback",
			Scope:    ScopeGlobal,
			Priority: -1,
			Active:   true,
			Lockout: LockoutRules{
				Enabled:     true,
				Threshold:   5,
				Duration:    15 * time.Minute,
				ResetWindow: 15 * time.Minute,
			},
			Session: SessionRules{
				Timeout:       30 * time.Minute,
				MaxConcurrent: 3,
			},
			MFA: MFARules{
				AllowedTypes: []MFAMethod{MFAMethodTOTP, MFAMethodSMS, MFAMethodEmail},
			},
		},
	}
}

// Validate checks the configuration for internal consistency. It is called
// by Builder.Build; calling it directly is allowed.
func (c *Config) Validate() error {
	if c.Policy.CacheTTL < 0 {
		return fmt.Errorf("%w: policy cache ttl must be >= 0", ErrInvalidConfig)
	}
	if c.Risk.UnknownDeviceWeight < 0 || c.Risk.NewCountryWeight < 0 ||
		c.Risk.VelocityWeight < 0 || c.Risk.FailureWeight < 0 || c.Risk.FailureWeightCap < 0 {
		return fmt.Errorf("%w: risk weights must be >= 0", ErrInvalidConfig)
	}
	if c.Risk.SuspiciousThreshold < 0 || c.Risk.SuspiciousThreshold > 100 {
		return fmt.Errorf("%w: suspicious threshold must be in [0,100]", ErrInvalidConfig)
	}
	if c.Risk.VelocityThreshold <= 0 {
		return fmt.Errorf("%w: velocity threshold must be > 0", ErrInvalidConfig)
	}
	if c.Risk.VelocityWindow <= 0 {
		return fmt.Errorf("%w: velocity window must be > 0", ErrInvalidConfig)
	}
	if c.Risk.CountryHistorySize <= 0 {
		return fmt.Errorf("%w: country history size must be > 0", ErrInvalidConfig)
	}
	if c.MFA.ChallengeTTL <= 0 {
		return fmt.Errorf("%w: mfa challenge ttl must be > 0", ErrInvalidConfig)
	}
	if c.MFA.ChallengeMaxAttempts <= 0 {
		return fmt.Errorf("%w: mfa challenge max attempts must be > 0", ErrInvalidConfig)
	}
	if c.MFA.OTPDigits < 4 || c.MFA.OTPDigits > 10 {
		return fmt.Errorf("%w: otp digits must be in [4,10]", ErrInvalidConfig)
	}
	if c.MFA.BackupCodeCount <= 0 || c.MFA.BackupCodeLength < 8 {
		return fmt.Errorf("%w: backup code count must be > 0 and length >= 8", ErrInvalidConfig)
	}
	if c.Token.Enabled && len(c.Token.SigningKey) < 32 {
		return fmt.Errorf("%w: token signing key must be at least 32 bytes", ErrInvalidConfig)
	}
	if c.Storage.KeyPrefix == "" {
		return fmt.Errorf("%w: storage key prefix required", ErrInvalidConfig)
	}
	if c.Storage.RetryMaxAttempts <= 0 {
		return fmt.Errorf("%w: retry max attempts must be > 0", ErrInvalidConfig)
	}
	if err := validatePolicyRules(&c.FallbackPolicy); err != nil {
		return fmt.Errorf("%w: fallback policy: %v", ErrInvalidConfig, err)
	}
	return nil
}

// cloneConfig deep-copies the fields the engine must not share with callers.
func cloneConfig(c Config) Config {
	out := c
	if c.Token.SigningKey != nil {
		out.Token.SigningKey = append([]byte(nil), c.Token.SigningKey...)
	}
	out.FallbackPolicy = clonePolicy(c.FallbackPolicy)
	return out
}

func clonePolicy(p SecurityPolicy) SecurityPolicy {
	out := p
	out.MFA.RequiredForRoles = append([]string(nil), p.MFA.RequiredForRoles...)
	out.MFA.AllowedTypes = append([]MFAMethod(nil), p.MFA.AllowedTypes...)
	out.Network.IPWhitelist = append([]string(nil), p.Network.IPWhitelist...)
	out.Network.IPBlacklist = append([]string(nil), p.Network.IPBlacklist...)
	out.Network.GeoWhitelist = append([]string(nil), p.Network.GeoWhitelist...)
	out.Network.GeoBlacklist = append([]string(nil), p.Network.GeoBlacklist...)
	return out
}
