package trustgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trustgate/trustgate/internal"
	"github.com/trustgate/trustgate/session"
)

// CreatePolicy validates and persists a new security policy. The resolver
// cache is invalidated so the policy takes effect immediately on this
// engine instance.
func (e *Engine) CreatePolicy(ctx context.Context, policy *SecurityPolicy) error {
	if e == nil || e.policies == nil {
		return ErrEngineNotReady
	}
	if policy == nil {
		return fmt.Errorf("%w: nil policy", ErrPolicyInvalid)
	}
	if err := validatePolicyRules(policy); err != nil {
		return err
	}

	if policy.ID == "" {
		policy.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	policy.CreatedAt = now
	policy.UpdatedAt = now

	err := e.withRetry(ctx, func() error { return e.policies.CreatePolicy(ctx, policy) })
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	e.resolver.Invalidate()
	e.emitAudit(ctx, auditEventPolicyCreated, true, "", policy.ApplicationID, "", nil, func() map[string]string {
		return map[string]string{"policy_id": policy.ID, "scope": string(policy.Scope)}
	})
	return nil
}

// UpdatePolicy validates and persists changes to an existing policy.
// In-flight authentication attempts keep the policy snapshot they resolved.
func (e *Engine) UpdatePolicy(ctx context.Context, policy *SecurityPolicy) error {
	if e == nil || e.policies == nil {
		return ErrEngineNotReady
	}
	if policy == nil || policy.ID == "" {
		return fmt.Errorf("%w: policy id required", ErrPolicyInvalid)
	}
	if err := validatePolicyRules(policy); err != nil {
		return err
	}

	policy.UpdatedAt = time.Now().UTC()

	err := e.withRetry(ctx, func() error { return e.policies.UpdatePolicy(ctx, policy) })
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	e.resolver.Invalidate()
	e.emitAudit(ctx, auditEventPolicyUpdated, true, "", policy.ApplicationID, "", nil, func() map[string]string {
		return map[string]string{"policy_id": policy.ID}
	})
	return nil
}

// DeletePolicy deactivates a policy. Attempts already holding its snapshot
// finish under it; new attempts no longer resolve it.
func (e *Engine) DeletePolicy(ctx context.Context, policyID string) error {
	if e == nil || e.policies == nil {
		return ErrEngineNotReady
	}
	if policyID == "" {
		return ErrPolicyNotFound
	}

	err := e.withRetry(ctx, func() error { return e.policies.DeletePolicy(ctx, policyID) })
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	e.resolver.Invalidate()
	e.emitAudit(ctx, auditEventPolicyDeleted, true, "", "", "", nil, func() map[string]string {
		return map[string]string{"policy_id": policyID}
	})
	return nil
}

// GetPolicy returns one policy by ID.
func (e *Engine) GetPolicy(ctx context.Context, policyID string) (*SecurityPolicy, error) {
	if e == nil || e.policies == nil {
		return nil, ErrEngineNotReady
	}
	policy, err := e.policies.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if policy == nil {
		return nil, ErrPolicyNotFound
	}
	return policy, nil
}

// ListPolicies returns all policies, active and inactive.
func (e *Engine) ListPolicies(ctx context.Context) ([]SecurityPolicy, error) {
	if e == nil || e.policies == nil {
		return nil, ErrEngineNotReady
	}
	policies, err := e.policies.ListPolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return policies, nil
}

// ResolvePolicy returns the policy that would govern an attempt with the
// given scope, falling back exactly as Authenticate does. Intended for
// admin tooling and for surfacing password rules to credential systems.
func (e *Engine) ResolvePolicy(ctx context.Context, scope ScopeContext) (SecurityPolicy, error) {
	if e == nil || e.resolver == nil {
		return SecurityPolicy{}, ErrEngineNotReady
	}
	policy, _, err := e.resolvePolicy(ctx, scope)
	return policy, err
}

// ValidateSession parses an access token and checks that its session is
// still live. Revoked and expired sessions fail regardless of the token's
// own expiry claim.
func (e *Engine) ValidateSession(ctx context.Context, accessToken string) (*session.Session, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	if e.tokens == nil {
		return nil, ErrTokenInvalid
	}

	sessionID, userID, err := e.tokens.Parse(accessToken)
	if err != nil {
		return nil, err
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if sess.UserID != userID {
		return nil, ErrTokenInvalid
	}

	return sess, nil
}

// TouchSession records activity on a session for eviction ordering.
// Touching a missing, expired, or revoked session is a silent no-op;
// activity never extends the session lifetime.
func (e *Engine) TouchSession(ctx context.Context, sessionID, userID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	return e.sessions.Touch(ctx, sessionID, userID, time.Now())
}

// ListSessions returns the user's live sessions, stalest first.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]*session.Session, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	sessions, err := e.sessions.Active(ctx, userID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return sessions, nil
}

// RevokeSession terminates one session. Revoking an unknown session is not
// an error; revocation is idempotent.
func (e *Engine) RevokeSession(ctx context.Context, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	revoked, err := e.sessions.Revoke(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if revoked {
		e.metrics.Inc(MetricSessionRevoked)
		e.emitAudit(ctx, auditEventSessionRevoked, true, "", "", sessionID, nil, nil)
	}
	return nil
}

// RevokeAllSessions terminates every session belonging to the user and
// returns how many were removed.
func (e *Engine) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}

	n, err := e.sessions.RevokeAll(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if n > 0 {
		e.metrics.Add(MetricSessionRevoked, uint64(n))
	}
	e.emitAudit(ctx, auditEventSessionRevokedAll, true, userID, "", "", nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprintf("%d", n)}
	})
	return n, nil
}

// ListDevices returns the devices seen for an account.
func (e *Engine) ListDevices(ctx context.Context, userID string) ([]UserDevice, error) {
	if e == nil || e.devices == nil {
		return nil, ErrEngineNotReady
	}
	devices, err := e.devices.ListDevices(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return devices, nil
}

// TrustDevice marks or unmarks a device as trusted. Trust is an operator
// decision; the engine never sets it on its own.
func (e *Engine) TrustDevice(ctx context.Context, deviceID string, trusted bool) error {
	if e == nil || e.devices == nil {
		return ErrEngineNotReady
	}

	err := e.withRetry(ctx, func() error { return e.devices.SetTrusted(ctx, deviceID, trusted) })
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	e.emitAudit(ctx, auditEventDeviceTrustChanged, true, "", "", "", nil, func() map[string]string {
		return map[string]string{"device_id": deviceID, "trusted": fmt.Sprintf("%t", trusted)}
	})
	return nil
}

// BlockDevice blocks or unblocks a device. Blocked devices are denied
// before credential verification on their next attempt.
func (e *Engine) BlockDevice(ctx context.Context, deviceID string, blocked bool) error {
	if e == nil || e.devices == nil {
		return ErrEngineNotReady
	}

	err := e.withRetry(ctx, func() error { return e.devices.SetBlocked(ctx, deviceID, blocked) })
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	e.emitAudit(ctx, auditEventDeviceBlockChanged, true, "", "", "", nil, func() map[string]string {
		return map[string]string{"device_id": deviceID, "blocked": fmt.Sprintf("%t", blocked)}
	})
	return nil
}

// ForgetRememberedDevice drops an MFA remember-device window, forcing a
// challenge on the device's next login.
func (e *Engine) ForgetRememberedDevice(ctx context.Context, userID, fingerprint string) error {
	if e == nil || e.remember == nil {
		return ErrEngineNotReady
	}
	if err := e.remember.Forget(ctx, userID, internal.HashFingerprint(fingerprint)); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// ListMFAMethods returns the account's enrolled second factors.
func (e *Engine) ListMFAMethods(ctx context.Context, userID string) ([]UserMFA, error) {
	if e == nil || e.mfaProvider == nil {
		return nil, ErrEngineNotReady
	}
	methods, err := e.mfaProvider.ListMethods(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
	}
	return methods, nil
}

// DisableMFAMethod disables one enrolled method.
func (e *Engine) DisableMFAMethod(ctx context.Context, userID string, method MFAMethod) error {
	if e == nil || e.mfaProvider == nil {
		return ErrEngineNotReady
	}

	err := e.withRetry(ctx, func() error { return e.mfaProvider.DisableMethod(ctx, userID, method) })
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
	}
	e.emitAudit(ctx, auditEventMFAMethodDisabled, true, userID, "", "", nil, func() map[string]string {
		return map[string]string{"method": string(method)}
	})
	return nil
}

// GenerateBackupCodes replaces the account's recovery codes and returns the
// plaintext codes exactly once. Only hashes are stored.
func (e *Engine) GenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	if e == nil || e.mfaProvider == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrMFAUnavailable
	}

	codes := make([]string, e.config.MFA.BackupCodeCount)
	hashes := make([][32]byte, e.config.MFA.BackupCodeCount)
	for i := range codes {
		code, err := internal.NewBackupCode(e.config.MFA.BackupCodeLength)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
		}
		codes[i] = code
		hashes[i] = internal.HashCode(code)
	}

	err := e.withRetry(ctx, func() error { return e.mfaProvider.ReplaceBackupCodes(ctx, userID, hashes) })
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
	}

	e.metrics.Inc(MetricBackupCodesGenerated)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, userID, "", "", nil, func() map[string]string {
		return map[string]string{"count": fmt.Sprintf("%d", len(codes))}
	})
	return codes, nil
}

// LoginHistory queries the account's attempt records.
func (e *Engine) LoginHistory(ctx context.Context, filter HistoryFilter) ([]LoginHistoryEntry, error) {
	if e == nil || e.history == nil {
		return nil, ErrEngineNotReady
	}
	entries, err := e.history.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return entries, nil
}

// LockAccount places a manual lockout. duration 0 locks until UnlockAccount.
func (e *Engine) LockAccount(ctx context.Context, accountID string, duration time.Duration) error {
	if e == nil || e.lockouts == nil {
		return ErrEngineNotReady
	}
	if accountID == "" {
		return ErrAccountLocked
	}

	if err := e.lockouts.Lock(ctx, accountID, duration, time.Now()); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	e.emitAudit(ctx, auditEventAccountLocked, true, accountID, "", "", nil, func() map[string]string {
		return map[string]string{"duration": duration.String()}
	})
	return nil
}

// UnlockAccount clears both the lockout and the failure counter.
func (e *Engine) UnlockAccount(ctx context.Context, accountID string) error {
	if e == nil || e.lockouts == nil {
		return ErrEngineNotReady
	}

	if err := e.lockouts.Unlock(ctx, accountID); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	e.emitAudit(ctx, auditEventAccountUnlocked, true, accountID, "", "", nil, nil)
	return nil
}

// AccountLocked reports whether the account is under an active lockout and,
// for time-bounded locks, when it lifts.
func (e *Engine) AccountLocked(ctx context.Context, accountID string) (bool, time.Time, error) {
	if e == nil || e.lockouts == nil {
		return false, time.Time{}, ErrEngineNotReady
	}
	locked, until, err := e.lockouts.Locked(ctx, accountID, time.Now())
	if err != nil {
		return false, time.Time{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return locked, until, nil
}
