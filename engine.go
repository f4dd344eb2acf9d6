package trustgate

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/trustgate/trustgate/internal"
	"github.com/trustgate/trustgate/internal/lockout"
	"github.com/trustgate/trustgate/internal/retry"
	"github.com/trustgate/trustgate/internal/riskstate"
	"github.com/trustgate/trustgate/internal/stores"
	"github.com/trustgate/trustgate/session"
)

// Failure reasons recorded on login history entries.
const (
	failureInvalidCredentials  = "invalid_credentials"
	failureAccountNotFound     = "account_not_found"
	failureAccountLocked       = "account_locked"
	failureIPNotWhitelisted    = "ip_not_whitelisted"
	failureIPBlacklisted       = "ip_blacklisted"
	failureGeoNotWhitelisted   = "geo_not_whitelisted"
	failureGeoBlacklisted      = "geo_blacklisted"
	failureDeviceBlocked       = "device_blocked"
	failureVerificationTimeout = "verification_timeout"
	failureNoMFAMethod         = "no_mfa_method"
	failureMFAInvalid          = "mfa_invalid"
	failureMFAExceeded         = "mfa_attempts_exceeded"
	failureMFAUnavailable      = "mfa_unavailable"
	failurePolicyUnavailable   = "policy_unavailable"
	failureStorage             = "storage_unavailable"
	failureHistory             = "history_write_failed"
)

// Engine is the authentication decision point. Construct it through
// [Builder.Build]; the zero value is not usable.
type Engine struct {
	config   Config
	redis    redis.UniversalClient
	resolver *policyResolver
	gate     networkGate
	scorer   *riskScorer

	lockouts   *lockout.Tracker
	sessions   *session.Store
	challenges *stores.ChallengeStore
	remember   *stores.RememberStore
	riskState  *riskstate.Store
	tokens     *tokenManager

	verifier    CredentialVerifier
	geo         GeoResolver
	policies    PolicyProvider
	devices     DeviceProvider
	mfaProvider MFAProvider
	history     HistoryProvider
	notifier    Notifier

	audit   *auditDispatcher
	metrics *Metrics
}

// Close flushes the audit dispatcher. The engine must not be used after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// MetricsSnapshot returns a point-in-time copy of all engine metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}, Histograms: map[MetricID][]uint64{}}
	}
	return e.metrics.Snapshot()
}

// AuditDropped returns how many audit events were shed under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) withRetry(ctx context.Context, op func() error) error {
	err := retry.Do(ctx, e.config.Storage.RetryMaxAttempts, e.config.Storage.RetryInitialInterval, op)
	if err != nil {
		e.metrics.Inc(MetricStorageRetryExhausted)
	}
	return err
}

// Authenticate evaluates one authentication attempt. Checks run in a fixed
// order: policy resolution, device block, network gate, lockout state,
// credential verification, risk scoring, MFA decision, session admission.
// When MFA is demanded the returned decision carries a challenge ID and the
// attempt pauses until [Engine.ConfirmMFA].
func (e *Engine) Authenticate(ctx context.Context, req AuthRequest) (*AuthDecision, error) {
	if e == nil || e.verifier == nil {
		return nil, ErrEngineNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
	}()

	now := time.Now()
	ip := clientIPFromContext(ctx)

	entry := LoginHistoryEntry{
		UserID:      req.AccountID,
		LoginMethod: req.LoginMethod,
		IPAddress:   ip,
		DeviceType:  req.DeviceType,
	}

	if req.AccountID == "" || req.Credential == "" {
		return e.denyLogin(ctx, &req, &entry, failureInvalidCredentials, MetricCredentialFailure, ErrInvalidCredentials)
	}

	policy, fellBack, err := e.resolvePolicy(ctx, ScopeContext{ApplicationID: req.ApplicationID, Roles: req.Roles})
	if err != nil {
		return e.denyLogin(ctx, &req, &entry, failurePolicyUnavailable, metricIDCount, err)
	}
	if fellBack {
		e.metrics.Inc(MetricPolicyFallback)
		e.emitAudit(ctx, auditEventPolicyFallback, true, req.AccountID, req.ApplicationID, "", nil, nil)
	}

	var geo string
	if e.geo != nil && ip != "" {
		country, gerr := e.geo.Lookup(ctx, ip)
		if gerr != nil {
			log.Printf("trustgate: geo lookup failed for %s: %v", ip, gerr)
		} else {
			geo = country
		}
	}
	entry.Geo = geo

	// Velocity counts every attempt, including ones denied below.
	var velocity int64
	if v, verr := e.riskState.RecordAttempt(ctx, req.AccountID, e.config.Risk.VelocityWindow); verr != nil {
		log.Printf("trustgate: velocity tracking failed: %v", verr)
	} else {
		velocity = v
	}

	var device *UserDevice
	if e.devices != nil && req.DeviceFingerprint != "" {
		derr := e.withRetry(ctx, func() error {
			var inner error
			device, inner = e.devices.GetDevice(ctx, req.AccountID, req.DeviceFingerprint)
			return inner
		})
		if derr != nil {
			return e.denyLogin(ctx, &req, &entry, failureStorage, metricIDCount, fmt.Errorf("%w: %v", ErrStorageUnavailable, derr))
		}
	}
	if device != nil && device.Blocked {
		return e.denyLogin(ctx, &req, &entry, failureDeviceBlocked, MetricDeviceBlocked, ErrDeviceBlocked)
	}

	if gateErr := e.gate.Evaluate(ip, geo, policy.Network); gateErr != nil {
		reason, metricID := gateDenial(gateErr)
		return e.denyLogin(ctx, &req, &entry, reason, metricID, gateErr)
	}

	locked, _, lockErr := e.lockouts.Locked(ctx, req.AccountID, now)
	if lockErr != nil {
		return e.denyLogin(ctx, &req, &entry, failureStorage, metricIDCount, fmt.Errorf("%w: %v", ErrStorageUnavailable, lockErr))
	}
	if locked {
		return e.denyLogin(ctx, &req, &entry, failureAccountLocked, MetricLockedRejected, ErrAccountLocked)
	}

	outcome, verifyErr := e.verifier.Verify(ctx, req.AccountID, req.Credential)
	if verifyErr != nil {
		if ctx.Err() != nil || errors.Is(verifyErr, context.DeadlineExceeded) || errors.Is(verifyErr, context.Canceled) {
			return e.denyLogin(ctx, &req, &entry, failureVerificationTimeout, MetricVerificationTimeout, ErrVerificationTimeout)
		}
		return e.denyLogin(ctx, &req, &entry, failureStorage, metricIDCount, fmt.Errorf("%w: %v", ErrStorageUnavailable, verifyErr))
	}

	assessment := e.assessRisk(ctx, &req, &policy, device, geo, velocity, now)
	entry.RiskScore = assessment.score
	entry.Suspicious = assessment.suspicious
	entry.SuspiciousReason = assessment.reason
	if assessment.suspicious {
		e.metrics.Inc(MetricRiskFlagged)
		e.emitAudit(ctx, auditEventRiskFlagged, true, req.AccountID, req.ApplicationID, "", nil, func() map[string]string {
			return map[string]string{
				"score":  fmt.Sprintf("%d", assessment.score),
				"reason": assessment.reason,
			}
		})
	}

	switch outcome {
	case VerifyAccountNotFound:
		// No lockout bookkeeping: there is no account to lock. Callers still
		// see the generic credential failure.
		return e.denyLogin(ctx, &req, &entry, failureAccountNotFound, MetricCredentialFailure, ErrInvalidCredentials)

	case VerifyInvalidCredential:
		tripped, count, ferr := e.lockouts.RecordFailure(ctx, req.AccountID, lockoutRules(&policy), now)
		if ferr != nil {
			return e.denyLogin(ctx, &req, &entry, failureStorage, metricIDCount, fmt.Errorf("%w: %v", ErrStorageUnavailable, ferr))
		}
		if tripped {
			e.metrics.Inc(MetricLockoutTriggered)
			e.emitAudit(ctx, auditEventLockoutTriggered, true, req.AccountID, req.ApplicationID, "", nil, func() map[string]string {
				return map[string]string{"failures": fmt.Sprintf("%d", count)}
			})
		}
		return e.denyLogin(ctx, &req, &entry, failureInvalidCredentials, MetricCredentialFailure, ErrInvalidCredentials)

	case VerifyOK:
		// fall through
	default:
		return e.denyLogin(ctx, &req, &entry, failureInvalidCredentials, MetricCredentialFailure, ErrInvalidCredentials)
	}

	challengeMethods, err := e.mfaDecision(ctx, &req, &policy, assessment)
	if err != nil {
		reason := failureMFAUnavailable
		metricID := metricIDCount
		if errors.Is(err, ErrNoMFAMethodAvailable) {
			reason = failureNoMFAMethod
			metricID = MetricNoMFAMethod
		}
		return e.denyLogin(ctx, &req, &entry, reason, metricID, err)
	}

	if len(challengeMethods) > 0 {
		entry.MFARequired = true
		return e.issueChallenge(ctx, &req, &policy, assessment, challengeMethods, geo, now)
	}

	return e.finishLogin(ctx, finishParams{
		userID:        req.AccountID,
		applicationID: req.ApplicationID,
		fingerprint:   req.DeviceFingerprint,
		deviceType:    req.DeviceType,
		device:        device,
		ip:            ip,
		geo:           geo,
		timeout:       policy.Session.Timeout,
		maxConcurrent: policy.Session.MaxConcurrent,
		entry:         &entry,
	})
}

// mfaDecision returns the allowed methods when a challenge must be issued,
// nil when the attempt may proceed directly to session admission.
func (e *Engine) mfaDecision(ctx context.Context, req *AuthRequest, policy *SecurityPolicy, assessment riskAssessment) ([]MFAMethod, error) {
	required := mfaRequired(policy, req.Roles)
	if e.mfaProvider == nil {
		if required {
			return nil, ErrNoMFAMethodAvailable
		}
		return nil, nil
	}

	if required && policy.MFA.RememberDeviceDays > 0 && req.DeviceFingerprint != "" {
		remembered, err := e.remember.Remembered(ctx, req.AccountID, internal.HashFingerprint(req.DeviceFingerprint))
		if err != nil {
			// Fail toward challenging.
			log.Printf("trustgate: remember-device check failed: %v", err)
		} else if remembered {
			required = false
		}
	}

	stepUp := false
	if !required && e.config.MFA.RiskStepUp && assessment.suspicious {
		stepUp = true
	}

	if !required && !stepUp {
		return nil, nil
	}

	methods, err := e.allowedMFAMethods(ctx, req.AccountID, policy)
	if err != nil {
		return nil, err
	}
	if e.notifier == nil {
		methods = stripDeliveryMethods(methods)
	}
	if len(methods) == 0 {
		if stepUp && !required {
			// Step-up is opportunistic: an account with no usable method is
			// admitted rather than stranded.
			return nil, nil
		}
		return nil, ErrNoMFAMethodAvailable
	}

	return methods, nil
}

func (e *Engine) issueChallenge(ctx context.Context, req *AuthRequest, policy *SecurityPolicy, assessment riskAssessment, methods []MFAMethod, geo string, now time.Time) (*AuthDecision, error) {
	challengeID := uuid.NewString()

	ch := &stores.Challenge{
		UserID:             req.AccountID,
		ApplicationID:      req.ApplicationID,
		Roles:              req.Roles,
		DeviceFingerprint:  req.DeviceFingerprint,
		DeviceType:         req.DeviceType,
		IPAddress:          clientIPFromContext(ctx),
		Geo:                geo,
		LoginMethod:        req.LoginMethod,
		Methods:            methodsToStrings(methods),
		RiskScore:          assessment.score,
		Suspicious:         assessment.suspicious,
		SuspiciousReason:   assessment.reason,
		SessionTimeoutSecs: int64(policy.Session.Timeout / time.Second),
		MaxConcurrent:      policy.Session.MaxConcurrent,
		RememberDays:       policy.MFA.RememberDeviceDays,
		ExpiresAt:          now.Add(e.config.MFA.ChallengeTTL).Unix(),
	}

	if method, ok := deliveryMethod(methods); ok {
		code, err := internal.NewOTP(e.config.MFA.OTPDigits)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
		}
		hash := internal.HashCode(code)
		ch.CodeHash = hex.EncodeToString(hash[:])

		if err := e.notifier.Send(ctx, req.AccountID, method, code); err != nil {
			log.Printf("trustgate: otp delivery failed for method %s: %v", method, err)
			remaining := stripDeliveryMethods(methods)
			if len(remaining) == 0 {
				return e.denyLogin(ctx, req, &LoginHistoryEntry{
					UserID:           req.AccountID,
					LoginMethod:      req.LoginMethod,
					IPAddress:        ch.IPAddress,
					Geo:              geo,
					DeviceType:       req.DeviceType,
					RiskScore:        assessment.score,
					Suspicious:       assessment.suspicious,
					SuspiciousReason: assessment.reason,
					MFARequired:      true,
				}, failureMFAUnavailable, metricIDCount, ErrMFAUnavailable)
			}
			methods = remaining
			ch.Methods = methodsToStrings(methods)
			ch.CodeHash = ""
		}
	}

	err := e.withRetry(ctx, func() error {
		return e.challenges.Save(ctx, challengeID, ch, e.config.MFA.ChallengeTTL)
	})
	if err != nil {
		return e.denyLogin(ctx, req, &LoginHistoryEntry{
			UserID:      req.AccountID,
			LoginMethod: req.LoginMethod,
			IPAddress:   ch.IPAddress,
			Geo:         geo,
			DeviceType:  req.DeviceType,
			RiskScore:   assessment.score,
			Suspicious:  assessment.suspicious,
			MFARequired: true,
		}, failureStorage, metricIDCount, fmt.Errorf("%w: %v", ErrStorageUnavailable, err))
	}

	e.metrics.Inc(MetricMFARequired)
	e.emitAudit(ctx, auditEventMFARequired, true, req.AccountID, req.ApplicationID, "", nil, func() map[string]string {
		return map[string]string{"challenge_id": challengeID}
	})

	return &AuthDecision{
		UserID:         req.AccountID,
		MFARequired:    true,
		MFAChallengeID: challengeID,
		MFAMethods:     methods,
		RiskScore:      assessment.score,
		Suspicious:     assessment.suspicious,
	}, nil
}

// ConfirmMFA completes an attempt paused by an MFA challenge. The session
// is admitted under the policy rules snapshotted when the challenge was
// issued, so a concurrent policy change cannot alter an in-flight attempt.
func (e *Engine) ConfirmMFA(ctx context.Context, challengeID string, method MFAMethod, code string, rememberDevice bool) (*AuthDecision, error) {
	if e == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if challengeID == "" || code == "" {
		return nil, ErrMFAChallengeInvalid
	}

	ch, err := e.challenges.Get(ctx, challengeID)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrChallengeExpired):
			return nil, ErrMFAChallengeExpired
		case errors.Is(err, stores.ErrChallengeNotFound):
			return nil, ErrMFAChallengeInvalid
		default:
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}

	methods := stringsToMethods(ch.Methods)
	if !methodAllowed(methods, method) {
		return e.failChallenge(ctx, challengeID, ch, method)
	}

	ok, verr := e.verifyChallengeCode(ctx, ch, method, code)
	if verr != nil {
		return nil, verr
	}
	if !ok {
		return e.failChallenge(ctx, challengeID, ch, method)
	}

	consumed, derr := e.challenges.Delete(ctx, challengeID)
	if derr != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, derr)
	}
	if !consumed {
		// Raced with another confirmation: treat as replay.
		return nil, ErrMFAChallengeInvalid
	}

	if rememberDevice && ch.RememberDays > 0 && ch.DeviceFingerprint != "" {
		window := time.Duration(ch.RememberDays) * 24 * time.Hour
		if rerr := e.remember.Remember(ctx, ch.UserID, internal.HashFingerprint(ch.DeviceFingerprint), window); rerr != nil {
			log.Printf("trustgate: remember-device write failed: %v", rerr)
		}
	}

	e.metrics.Inc(MetricMFASuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, ch.UserID, ch.ApplicationID, "", nil, func() map[string]string {
		return map[string]string{"method": string(method)}
	})

	ip := clientIPFromContext(ctx)
	if ip == "" {
		ip = ch.IPAddress
	}

	entry := LoginHistoryEntry{
		UserID:           ch.UserID,
		LoginMethod:      ch.LoginMethod,
		IPAddress:        ip,
		Geo:              ch.Geo,
		DeviceType:       ch.DeviceType,
		RiskScore:        ch.RiskScore,
		Suspicious:       ch.Suspicious,
		SuspiciousReason: ch.SuspiciousReason,
		MFARequired:      true,
		MFAMethod:        method,
		MFASuccess:       true,
	}

	return e.finishLogin(ctx, finishParams{
		userID:        ch.UserID,
		applicationID: ch.ApplicationID,
		fingerprint:   ch.DeviceFingerprint,
		deviceType:    ch.DeviceType,
		ip:            ip,
		geo:           ch.Geo,
		timeout:       time.Duration(ch.SessionTimeoutSecs) * time.Second,
		maxConcurrent: ch.MaxConcurrent,
		entry:         &entry,
	})
}

func (e *Engine) verifyChallengeCode(ctx context.Context, ch *stores.Challenge, method MFAMethod, code string) (bool, error) {
	switch method {
	case MFAMethodTOTP:
		ok, err := e.mfaProvider.VerifyTOTP(ctx, ch.UserID, code)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
		}
		return ok, nil

	case MFAMethodSMS, MFAMethodEmail:
		if ch.CodeHash == "" {
			return false, nil
		}
		sum := internal.HashCode(code)
		got := hex.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(got), []byte(ch.CodeHash)) == 1, nil

	case MFAMethodBackup:
		ok, err := e.mfaProvider.ConsumeBackupCode(ctx, ch.UserID, internal.HashCode(code))
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
		}
		return ok, nil

	default:
		return false, nil
	}
}

// failChallenge counts a failed confirmation, invalidating the challenge
// when the attempt cap is reached. A terminal failure writes the attempt's
// history record; a retryable one leaves the attempt pending.
func (e *Engine) failChallenge(ctx context.Context, challengeID string, ch *stores.Challenge, method MFAMethod) (*AuthDecision, error) {
	e.metrics.Inc(MetricMFAFailure)

	exceeded, err := e.challenges.RecordFailure(ctx, challengeID, e.config.MFA.ChallengeMaxAttempts)
	if err != nil {
		log.Printf("trustgate: mfa attempt tracking failed: %v", err)
	}

	if !exceeded {
		e.emitAudit(ctx, auditEventMFAFailure, false, ch.UserID, ch.ApplicationID, "", ErrMFAChallengeInvalid, func() map[string]string {
			return map[string]string{"method": string(method)}
		})
		return nil, ErrMFAChallengeInvalid
	}

	e.metrics.Inc(MetricMFAAttemptsExceeded)
	e.emitAudit(ctx, auditEventMFAAttemptsExceeded, false, ch.UserID, ch.ApplicationID, "", ErrMFAAttemptsExceeded, nil)

	entry := LoginHistoryEntry{
		UserID:           ch.UserID,
		FailureReason:    failureMFAExceeded,
		LoginMethod:      ch.LoginMethod,
		IPAddress:        ch.IPAddress,
		Geo:              ch.Geo,
		DeviceType:       ch.DeviceType,
		RiskScore:        ch.RiskScore,
		Suspicious:       ch.Suspicious,
		SuspiciousReason: ch.SuspiciousReason,
		MFARequired:      true,
		MFAMethod:        method,
	}
	if herr := e.appendHistory(ctx, &entry); herr != nil {
		log.Printf("trustgate: history append on mfa lockout failed: %v", herr)
	}

	e.metrics.Inc(MetricLoginFailure)
	return nil, ErrMFAAttemptsExceeded
}

type finishParams struct {
	userID        string
	applicationID string
	fingerprint   string
	deviceType    string
	device        *UserDevice
	ip            string
	geo           string
	timeout       time.Duration
	maxConcurrent int
	entry         *LoginHistoryEntry
}

// finishLogin runs the post-verification tail shared by direct logins and
// MFA confirmations: device bookkeeping, session admission with eviction,
// lockout reset, token issuance, and the attempt's single history record.
func (e *Engine) finishLogin(ctx context.Context, p finishParams) (*AuthDecision, error) {
	now := time.Now()

	device := p.device
	if device == nil && e.devices != nil && p.fingerprint != "" {
		derr := e.withRetry(ctx, func() error {
			var inner error
			device, inner = e.devices.GetDevice(ctx, p.userID, p.fingerprint)
			return inner
		})
		if derr != nil {
			return e.denyFinish(ctx, p.entry, failureStorage, fmt.Errorf("%w: %v", ErrStorageUnavailable, derr))
		}
	}
	if device != nil && device.Blocked {
		e.metrics.Inc(MetricDeviceBlocked)
		return e.denyFinish(ctx, p.entry, failureDeviceBlocked, ErrDeviceBlocked)
	}

	deviceID, derr := e.upsertDevice(ctx, p.userID, device, p.fingerprint, p.deviceType, now)
	if derr != nil {
		return e.denyFinish(ctx, p.entry, failureStorage, derr)
	}

	sess := &session.Session{
		ID:             uuid.NewString(),
		UserID:         p.userID,
		ApplicationID:  p.applicationID,
		DeviceID:       deviceID,
		IPAddress:      p.ip,
		CreatedAt:      now.UnixMilli(),
		LastActivityAt: now.UnixMilli(),
		ExpiresAt:      now.Add(p.timeout).UnixMilli(),
	}

	evicted, serr := e.sessions.Issue(ctx, sess, p.maxConcurrent, p.timeout)
	if serr != nil {
		return e.denyFinish(ctx, p.entry, failureStorage, fmt.Errorf("%w: %v", ErrStorageUnavailable, serr))
	}
	for _, victim := range evicted {
		e.metrics.Inc(MetricSessionEvicted)
		e.emitAudit(ctx, auditEventSessionEvicted, true, p.userID, p.applicationID, victim, nil, func() map[string]string {
			return map[string]string{"replaced_by": sess.ID}
		})
	}

	if rerr := e.lockouts.RecordSuccess(ctx, p.userID); rerr != nil {
		log.Printf("trustgate: lockout reset failed: %v", rerr)
	}
	if gerr := e.riskState.RecordCountry(ctx, p.userID, p.geo, e.config.Risk.CountryHistorySize); gerr != nil {
		log.Printf("trustgate: country history write failed: %v", gerr)
	}

	var accessToken string
	expiresAt := time.UnixMilli(sess.ExpiresAt)
	if e.tokens != nil {
		token, tokenExpiry, terr := e.tokens.Issue(sess, now)
		if terr != nil {
			_, _ = e.sessions.Revoke(ctx, sess.ID)
			return e.denyFinish(ctx, p.entry, failureStorage, terr)
		}
		accessToken = token
		expiresAt = tokenExpiry
	}

	p.entry.Success = true
	p.entry.FailureReason = ""
	if herr := e.appendHistory(ctx, p.entry); herr != nil {
		// The attempt record is mandatory: without it the session must not stand.
		_, _ = e.sessions.Revoke(ctx, sess.ID)
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, p.userID, p.applicationID, "", ErrHistoryWriteFailed, nil)
		return nil, herr
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.metrics.Inc(MetricSessionIssued)
	e.emitAudit(ctx, auditEventLoginSuccess, true, p.userID, p.applicationID, sess.ID, nil, func() map[string]string {
		md := map[string]string{"risk_score": fmt.Sprintf("%d", p.entry.RiskScore)}
		if p.entry.MFARequired {
			md["mfa_method"] = string(p.entry.MFAMethod)
		}
		return md
	})
	e.emitAudit(ctx, auditEventSessionIssued, true, p.userID, p.applicationID, sess.ID, nil, nil)

	return &AuthDecision{
		Allowed:         true,
		UserID:          p.userID,
		SessionID:       sess.ID,
		AccessToken:     accessToken,
		ExpiresAt:       expiresAt,
		EvictedSessions: evicted,
		RiskScore:       p.entry.RiskScore,
		Suspicious:      p.entry.Suspicious,
	}, nil
}

func (e *Engine) upsertDevice(ctx context.Context, userID string, device *UserDevice, fingerprint, deviceType string, now time.Time) (string, error) {
	if e.devices == nil || fingerprint == "" {
		return "", nil
	}

	if device == nil {
		// First sight: register, never auto-trust.
		device = &UserDevice{
			ID:          uuid.NewString(),
			UserID:      userID,
			Fingerprint: fingerprint,
			Name:        deviceType,
			FirstSeenAt: now,
			LastSeenAt:  now,
		}
		err := e.withRetry(ctx, func() error { return e.devices.SaveDevice(ctx, device) })
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		e.metrics.Inc(MetricDeviceRegistered)
		e.emitAudit(ctx, auditEventDeviceRegistered, true, userID, "", "", nil, func() map[string]string {
			return map[string]string{"device_id": device.ID}
		})
		return device.ID, nil
	}

	device.LastSeenAt = now
	err := e.withRetry(ctx, func() error { return e.devices.SaveDevice(ctx, device) })
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return device.ID, nil
}

// assessRisk gathers signals and scores the attempt. Signal reads are
// best-effort: a missing signal lowers the score, it never blocks the login.
func (e *Engine) assessRisk(ctx context.Context, req *AuthRequest, policy *SecurityPolicy, device *UserDevice, geo string, velocity int64, now time.Time) riskAssessment {
	sig := riskSignals{
		knownDevice:      device != nil,
		country:          geo,
		attemptsInWindow: int(velocity),
	}

	recent, err := e.riskState.RecentCountries(ctx, req.AccountID)
	if err != nil {
		log.Printf("trustgate: country history read failed: %v", err)
	} else {
		sig.recentCountries = recent
	}

	failed, err := e.lockouts.FailureCount(ctx, req.AccountID, policy.Lockout.ResetWindow, now)
	if err != nil {
		log.Printf("trustgate: failure count read failed: %v", err)
	} else {
		sig.failedAttempts = int(failed)
	}

	return e.scorer.Score(sig)
}

func (e *Engine) resolvePolicy(ctx context.Context, scope ScopeContext) (SecurityPolicy, bool, error) {
	policy, err := e.resolver.Resolve(ctx, scope)
	if err == nil {
		return policy, false, nil
	}
	if errors.Is(err, ErrNoPolicyConfigured) || errors.Is(err, ErrNoPolicyMatch) {
		return clonePolicy(e.config.FallbackPolicy), true, nil
	}
	return SecurityPolicy{}, false, err
}

// denyLogin records a denied attempt: one history entry, the failure
// metrics, and a login_denied audit event. extraMetric is metricIDCount
// when no per-cause counter applies.
func (e *Engine) denyLogin(ctx context.Context, req *AuthRequest, entry *LoginHistoryEntry, reason string, extraMetric MetricID, cause error) (*AuthDecision, error) {
	entry.Success = false
	entry.FailureReason = reason

	e.metrics.Inc(MetricLoginFailure)
	if extraMetric < metricIDCount {
		e.metrics.Inc(extraMetric)
	}

	event := auditEventLoginFailure
	if !errors.Is(cause, ErrInvalidCredentials) && !errors.Is(cause, ErrVerificationTimeout) {
		event = auditEventLoginDenied
	}
	e.emitAudit(ctx, event, false, req.AccountID, req.ApplicationID, "", cause, func() map[string]string {
		return map[string]string{"reason": reason}
	})

	if herr := e.appendHistory(ctx, entry); herr != nil {
		log.Printf("trustgate: history append on denial failed: %v", herr)
	}

	return &AuthDecision{
		UserID:     req.AccountID,
		RiskScore:  entry.RiskScore,
		Suspicious: entry.Suspicious,
	}, cause
}

// denyFinish denies after credentials already verified (post-MFA tail).
func (e *Engine) denyFinish(ctx context.Context, entry *LoginHistoryEntry, reason string, cause error) (*AuthDecision, error) {
	entry.Success = false
	entry.FailureReason = reason

	e.metrics.Inc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginDenied, false, entry.UserID, "", "", cause, func() map[string]string {
		return map[string]string{"reason": reason}
	})

	if herr := e.appendHistory(ctx, entry); herr != nil {
		log.Printf("trustgate: history append on denial failed: %v", herr)
	}

	return nil, cause
}

func (e *Engine) appendHistory(ctx context.Context, entry *LoginHistoryEntry) error {
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now().UTC()

	err := e.withRetry(ctx, func() error { return e.history.Append(ctx, entry) })
	if err != nil {
		e.metrics.Inc(MetricHistoryWriteFailure)
		e.emitAudit(ctx, auditEventHistoryWriteFailed, false, entry.UserID, "", "", ErrHistoryWriteFailed, nil)
		return fmt.Errorf("%w: %v", ErrHistoryWriteFailed, err)
	}
	return nil
}

func gateDenial(err error) (string, MetricID) {
	switch {
	case errors.Is(err, ErrIPNotWhitelisted):
		return failureIPNotWhitelisted, MetricIPDenied
	case errors.Is(err, ErrIPBlacklisted):
		return failureIPBlacklisted, MetricIPDenied
	case errors.Is(err, ErrGeoNotWhitelisted):
		return failureGeoNotWhitelisted, MetricGeoDenied
	default:
		return failureGeoBlacklisted, MetricGeoDenied
	}
}

func lockoutRules(p *SecurityPolicy) lockout.Rules {
	return lockout.Rules{
		Enabled:     p.Lockout.Enabled,
		Threshold:   p.Lockout.Threshold,
		Duration:    p.Lockout.Duration,
		ResetWindow: p.Lockout.ResetWindow,
	}
}

func stripDeliveryMethods(methods []MFAMethod) []MFAMethod {
	out := methods[:0:0]
	for _, m := range methods {
		if m == MFAMethodSMS || m == MFAMethodEmail {
			continue
		}
		out = append(out, m)
	}
	return out
}
