package trustgate

import (
	"context"
	"time"
)

// PolicyScope identifies the breadth of a security policy.
type PolicyScope string

const (
	// ScopeGlobal policies apply to every authentication attempt.
	ScopeGlobal PolicyScope = "global"
	// ScopeApplication policies apply to attempts for one application ID.
	ScopeApplication PolicyScope = "application"
	// ScopeRole policies apply to attempts where the account holds the named role.
	ScopeRole PolicyScope = "role"
)

// MFAMethod names a second-factor mechanism.
type MFAMethod string

const (
	MFAMethodTOTP   MFAMethod = "totp"
	MFAMethodSMS    MFAMethod = "sms"
	MFAMethodEmail  MFAMethod = "email"
	MFAMethodBackup MFAMethod = "backup"
)

// PasswordRules captures the credential composition and rotation rules a
// policy carries. The engine never verifies credentials itself; these rules
// are resolved and handed to callers so the credential system can enforce them.
type PasswordRules struct {
	MinLength      int  `json:"min_length" yaml:"min_length"`
	MaxLength      int  `json:"max_length" yaml:"max_length"`
	RequireUpper   bool `json:"require_upper" yaml:"require_upper"`
	RequireLower   bool `json:"require_lower" yaml:"require_lower"`
	RequireNumber  bool `json:"require_number" yaml:"require_number"`
	RequireSpecial bool `json:"require_special" yaml:"require_special"`
	HistoryCount   int  `json:"history_count" yaml:"history_count"`
	ExpiryDays     int  `json:"expiry_days" yaml:"expiry_days"`
}

// LockoutRules controls the failed-attempt lockout state machine.
type LockoutRules struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Threshold is the failure count inside ResetWindow that trips a lockout.
	Threshold int `json:"threshold" yaml:"threshold"`
	// Duration is how long a tripped lockout holds. 0 = manual unlock only.
	Duration time.Duration `json:"duration" yaml:"duration"`
	// ResetWindow is the rolling window failures are counted in.
	ResetWindow time.Duration `json:"reset_window" yaml:"reset_window"`
}

// SessionRules controls session lifetime and concurrency admission.
type SessionRules struct {
	// Timeout is the absolute session lifetime. Activity does not extend it.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// MaxConcurrent caps live sessions per account. When full, the stalest
	// session is evicted; a fresh login is never rejected for concurrency.
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent"`
}

// MFARules controls when a second factor is demanded and which kinds qualify.
type MFARules struct {
	Required         bool        `json:"required" yaml:"required"`
	RequiredForRoles []string    `json:"required_for_roles" yaml:"required_for_roles"`
	AllowedTypes     []MFAMethod `json:"allowed_types" yaml:"allowed_types"`
	// RememberDeviceDays lets a successful MFA exempt the same device for N
	// days. 0 disables remembering entirely.
	RememberDeviceDays int `json:"remember_device_days" yaml:"remember_device_days"`
}

// NetworkRules holds IP and geography allow/deny lists. Whitelists win: when
// a whitelist is non-empty only its members pass and the corresponding
// blacklist is ignored. IP entries may be exact addresses or CIDR blocks.
// Geo entries are ISO 3166-1 alpha-2 country codes.
type NetworkRules struct {
	IPWhitelist  []string `json:"ip_whitelist" yaml:"ip_whitelist"`
	IPBlacklist  []string `json:"ip_blacklist" yaml:"ip_blacklist"`
	GeoWhitelist []string `json:"geo_whitelist" yaml:"geo_whitelist"`
	GeoBlacklist []string `json:"geo_blacklist" yaml:"geo_blacklist"`
}

// SecurityPolicy is one named bundle of authentication rules. Exactly one
// policy governs any attempt: the highest-ranked active policy whose scope
// matches the attempt's context.
type SecurityPolicy struct {
	ID   string      `json:"id" yaml:"id"`
	Name string      `json:"name" yaml:"name"`
	Scope PolicyScope `json:"scope" yaml:"scope"`
	// ApplicationID binds an application-scoped policy; empty otherwise.
	ApplicationID string `json:"application_id,omitempty" yaml:"application_id"`
	// Role binds a role-scoped policy; empty otherwise.
	Role     string `json:"role,omitempty" yaml:"role"`
	Priority int    `json:"priority" yaml:"priority"`
	Active   bool   `json:"active" yaml:"active"`

	Password PasswordRules `json:"password" yaml:"password"`
	Lockout  LockoutRules  `json:"lockout" yaml:"lockout"`
	Session  SessionRules  `json:"session" yaml:"session"`
	MFA      MFARules      `json:"mfa" yaml:"mfa"`
	Network  NetworkRules  `json:"network" yaml:"network"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// ScopeContext describes the attempt being authenticated, for policy matching.
type ScopeContext struct {
	ApplicationID string
	Roles         []string
}

// UserDevice is a device fingerprint the engine has seen for an account.
// Devices are registered on first sight and never auto-trusted.
type UserDevice struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Fingerprint string    `json:"fingerprint"`
	Name        string    `json:"name,omitempty"`
	Trusted     bool      `json:"trusted"`
	Blocked     bool      `json:"blocked"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// UserMFA is one enrolled second-factor method on an account.
type UserMFA struct {
	ID                   string     `json:"id"`
	UserID               string     `json:"user_id"`
	Type                 MFAMethod  `json:"type"`
	Enabled              bool       `json:"enabled"`
	BackupCodesRemaining int        `json:"backup_codes_remaining,omitempty"`
	LastUsedAt           *time.Time `json:"last_used_at,omitempty"`
}

// LoginHistoryEntry is the immutable record of one authentication attempt.
// The engine is the sole writer; exactly one entry is appended per attempt.
type LoginHistoryEntry struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Success          bool      `json:"success"`
	FailureReason    string    `json:"failure_reason,omitempty"`
	LoginMethod      string    `json:"login_method,omitempty"`
	IPAddress        string    `json:"ip_address,omitempty"`
	Geo              string    `json:"geo,omitempty"`
	DeviceType       string    `json:"device_type,omitempty"`
	RiskScore        int       `json:"risk_score"`
	Suspicious       bool      `json:"suspicious"`
	SuspiciousReason string    `json:"suspicious_reason,omitempty"`
	MFARequired      bool      `json:"mfa_required"`
	MFAMethod        MFAMethod `json:"mfa_method,omitempty"`
	MFASuccess       bool      `json:"mfa_success"`
	CreatedAt        time.Time `json:"created_at"`
}

// HistoryFilter narrows a login history query. Nil pointer fields match everything.
type HistoryFilter struct {
	UserID     string
	Success    *bool
	Suspicious *bool
	Since      time.Time
	Limit      int
	Offset     int
}

// AuthRequest carries one authentication attempt into the engine. The client
// IP travels on the context via [WithClientIP].
type AuthRequest struct {
	// AccountID identifies the account being authenticated. The engine treats
	// it as opaque; it is the lockout and history key.
	AccountID string
	// Credential is the opaque secret handed to the CredentialVerifier.
	// The engine never inspects, logs, or stores it.
	Credential string
	// ApplicationID and Roles form the policy scope context.
	ApplicationID string
	Roles         []string
	// DeviceFingerprint is an opaque stable device identifier, if the caller
	// has one. Empty means unknown device.
	DeviceFingerprint string
	DeviceType        string
	// LoginMethod is recorded in history (e.g. "password", "sso").
	LoginMethod string
}

// AuthDecision is the outcome of Authenticate or ConfirmMFA.
type AuthDecision struct {
	// Allowed is true only when a session was issued.
	Allowed bool
	UserID  string
	// SessionID and AccessToken are set when Allowed.
	SessionID   string
	AccessToken string
	ExpiresAt   time.Time
	// MFARequired signals the attempt is paused pending ConfirmMFA.
	MFARequired    bool
	MFAChallengeID string
	MFAMethods     []MFAMethod
	// EvictedSessions lists sessions displaced by concurrency admission.
	EvictedSessions []string
	RiskScore       int
	Suspicious      bool
}

// VerifyOutcome is the CredentialVerifier verdict.
type VerifyOutcome int

const (
	// VerifyOK means the credential matched.
	VerifyOK VerifyOutcome = iota
	// VerifyInvalidCredential means the account exists but the credential did not match.
	VerifyInvalidCredential
	// VerifyAccountNotFound means no such account. Callers of the engine still
	// see ErrInvalidCredentials; the distinction only reaches history and audit.
	VerifyAccountNotFound
)

// CredentialVerifier checks a credential against the caller's identity store.
// The engine imposes the request context deadline; a context error maps to
// ErrVerificationTimeout and the attempt is denied.
type CredentialVerifier interface {
	Verify(ctx context.Context, accountID, credential string) (VerifyOutcome, error)
}

// GeoResolver maps a client IP to an ISO 3166-1 alpha-2 country code.
// An empty string means unknown; unknown origins pass geo whitelists only
// when the whitelist is empty.
type GeoResolver interface {
	Lookup(ctx context.Context, ip string) (string, error)
}

// Notifier delivers one-time codes for sms and email MFA challenges.
type Notifier interface {
	Send(ctx context.Context, userID string, method MFAMethod, code string) error
}

// PolicyProvider is the durable store for security policies.
type PolicyProvider interface {
	ListActivePolicies(ctx context.Context) ([]SecurityPolicy, error)
	ListPolicies(ctx context.Context) ([]SecurityPolicy, error)
	GetPolicy(ctx context.Context, id string) (*SecurityPolicy, error)
	CreatePolicy(ctx context.Context, policy *SecurityPolicy) error
	UpdatePolicy(ctx context.Context, policy *SecurityPolicy) error
	// DeletePolicy deactivates the policy. Providers may hard-delete.
	DeletePolicy(ctx context.Context, id string) error
}

// DeviceProvider is the durable store for device records.
type DeviceProvider interface {
	// GetDevice returns nil, nil when no record exists for the fingerprint.
	GetDevice(ctx context.Context, userID, fingerprint string) (*UserDevice, error)
	SaveDevice(ctx context.Context, device *UserDevice) error
	ListDevices(ctx context.Context, userID string) ([]UserDevice, error)
	GetDeviceByID(ctx context.Context, deviceID string) (*UserDevice, error)
	SetTrusted(ctx context.Context, deviceID string, trusted bool) error
	SetBlocked(ctx context.Context, deviceID string, blocked bool) error
}

// MFAProvider is the durable store for enrolled second factors.
type MFAProvider interface {
	ListMethods(ctx context.Context, userID string) ([]UserMFA, error)
	// VerifyTOTP checks a TOTP code against the account's enrolled secret.
	VerifyTOTP(ctx context.Context, userID, code string) (bool, error)
	DisableMethod(ctx context.Context, userID string, method MFAMethod) error
	// ReplaceBackupCodes atomically swaps the stored code hashes.
	ReplaceBackupCodes(ctx context.Context, userID string, hashes [][32]byte) error
	// ConsumeBackupCode burns a matching backup code. Returns false when no
	// unused code matches the hash.
	ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error)
}

// HistoryProvider is the durable append-only store for login history.
type HistoryProvider interface {
	Append(ctx context.Context, entry *LoginHistoryEntry) error
	Query(ctx context.Context, filter HistoryFilter) ([]LoginHistoryEntry, error)
}
