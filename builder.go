package trustgate

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/trustgate/trustgate/internal/lockout"
	"github.com/trustgate/trustgate/internal/riskstate"
	"github.com/trustgate/trustgate/internal/stores"
	"github.com/trustgate/trustgate/session"
)

// Builder assembles an Engine. Construction is allocation-only; no I/O
// happens until the first Engine call.
//
//	engine, err := trustgate.New().
//	    WithConfig(trustgate.DefaultConfig()).
//	    WithRedis(client).
//	    WithPolicyProvider(policies).
//	    WithCredentialVerifier(verifier).
//	    WithHistoryProvider(history).
//	    Build()
type Builder struct {
	config    Config
	hasConfig bool

	redis     redis.UniversalClient
	verifier  CredentialVerifier
	geo       GeoResolver
	policies  PolicyProvider
	devices   DeviceProvider
	mfa       MFAProvider
	history   HistoryProvider
	notifier  Notifier
	auditSink AuditSink
}

// New creates an empty Builder.
func New() *Builder {
	return &Builder{}
}

// WithConfig sets the engine configuration. Unset means DefaultConfig.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	b.hasConfig = true
	return b
}

// WithRedis sets the Redis client backing hot engine state. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialVerifier sets the credential check delegate. Required.
func (b *Builder) WithCredentialVerifier(v CredentialVerifier) *Builder {
	b.verifier = v
	return b
}

// WithPolicyProvider sets the durable policy store. Required.
func (b *Builder) WithPolicyProvider(p PolicyProvider) *Builder {
	b.policies = p
	return b
}

// WithHistoryProvider sets the durable login history store. Required.
func (b *Builder) WithHistoryProvider(h HistoryProvider) *Builder {
	b.history = h
	return b
}

// WithDeviceProvider sets the durable device store. Optional: without it
// device registration, blocking, and the unknown-device risk factor see
// every device as unknown.
func (b *Builder) WithDeviceProvider(d DeviceProvider) *Builder {
	b.devices = d
	return b
}

// WithMFAProvider sets the enrolled-methods store. Optional: without it the
// engine never challenges, and policies that require MFA deny logins with
// ErrNoMFAMethodAvailable.
func (b *Builder) WithMFAProvider(m MFAProvider) *Builder {
	b.mfa = m
	return b
}

// WithGeoResolver sets the IP-to-country resolver. Optional: without it
// every origin is unknown, which passes geo blacklists and fails non-empty
// geo whitelists.
func (b *Builder) WithGeoResolver(g GeoResolver) *Builder {
	b.geo = g
	return b
}

// WithNotifier sets the one-time-code delivery channel. Optional: without
// it sms and email methods are excluded from challenges.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink sets the audit event destination. Unset with auditing
// enabled means events are dispatched to a NoOpSink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration and wiring and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b == nil {
		return nil, ErrEngineNotReady
	}

	cfg := b.config
	if !b.hasConfig {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, fmt.Errorf("%w: redis client required", ErrInvalidConfig)
	}
	if b.verifier == nil {
		return nil, fmt.Errorf("%w: credential verifier required", ErrInvalidConfig)
	}
	if b.policies == nil {
		return nil, fmt.Errorf("%w: policy provider required", ErrInvalidConfig)
	}
	if b.history == nil {
		return nil, fmt.Errorf("%w: history provider required", ErrInvalidConfig)
	}
	if b.mfa == nil && policyDemandsMFA(&cfg.FallbackPolicy) {
		return nil, fmt.Errorf("%w: fallback policy requires mfa but no mfa provider is set", ErrInvalidConfig)
	}

	cfg = cloneConfig(cfg)
	prefix := cfg.Storage.KeyPrefix

	e := &Engine{
		config:   cfg,
		redis:    b.redis,
		resolver: newPolicyResolver(b.policies, cfg.Policy.CacheTTL),
		scorer:   newRiskScorer(cfg.Risk),

		lockouts:   lockout.NewTracker(b.redis, prefix),
		sessions:   session.NewStore(b.redis, prefix),
		challenges: stores.NewChallengeStore(b.redis, prefix),
		remember:   stores.NewRememberStore(b.redis, prefix),
		riskState:  riskstate.NewStore(b.redis, prefix),
		tokens:     newTokenManager(cfg.Token),

		verifier:    b.verifier,
		geo:         b.geo,
		policies:    b.policies,
		devices:     b.devices,
		mfaProvider: b.mfa,
		history:     b.history,
		notifier:    b.notifier,

		metrics: NewMetrics(cfg.Metrics),
	}
	e.audit = newAuditDispatcher(cfg.Audit, b.auditSink)

	return e, nil
}

func policyDemandsMFA(p *SecurityPolicy) bool {
	return p.MFA.Required || len(p.MFA.RequiredForRoles) > 0
}
