package trustgate

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventLoginDenied          = "login_denied"
	auditEventPolicyFallback       = "policy_fallback"
	auditEventLockoutTriggered     = "lockout_triggered"
	auditEventAccountLocked        = "account_locked"
	auditEventAccountUnlocked      = "account_unlocked"
	auditEventRiskFlagged          = "risk_flagged"
	auditEventMFARequired          = "mfa_required"
	auditEventMFASuccess           = "mfa_success"
	auditEventMFAFailure           = "mfa_failure"
	auditEventMFAAttemptsExceeded  = "mfa_attempts_exceeded"
	auditEventMFAMethodDisabled    = "mfa_method_disabled"
	auditEventBackupCodesGenerated = "backup_codes_generated"
	auditEventSessionIssued        = "session_issued"
	auditEventSessionEvicted       = "session_evicted"
	auditEventSessionRevoked       = "session_revoked"
	auditEventSessionRevokedAll    = "session_revoked_all"
	auditEventDeviceRegistered     = "device_registered"
	auditEventDeviceTrustChanged   = "device_trust_changed"
	auditEventDeviceBlockChanged   = "device_block_changed"
	auditEventPolicyCreated        = "policy_created"
	auditEventPolicyUpdated        = "policy_updated"
	auditEventPolicyDeleted        = "policy_deleted"
	auditEventHistoryWriteFailed   = "history_write_failed"
)

// AuditErrorCode is the stable machine-readable error label carried on
// audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials    AuditErrorCode = "invalid_credentials"
	auditErrVerificationTimeout   AuditErrorCode = "verification_timeout"
	auditErrAccountLocked         AuditErrorCode = "account_locked"
	auditErrIPNotWhitelisted      AuditErrorCode = "ip_not_whitelisted"
	auditErrIPBlacklisted         AuditErrorCode = "ip_blacklisted"
	auditErrGeoNotWhitelisted     AuditErrorCode = "geo_not_whitelisted"
	auditErrGeoBlacklisted        AuditErrorCode = "geo_blacklisted"
	auditErrDeviceBlocked         AuditErrorCode = "device_blocked"
	auditErrNoMFAMethod           AuditErrorCode = "no_mfa_method"
	auditErrMFAInvalid            AuditErrorCode = "mfa_invalid"
	auditErrMFAExpired            AuditErrorCode = "mfa_expired"
	auditErrMFAAttemptsExceeded   AuditErrorCode = "mfa_attempts_exceeded"
	auditErrMFAUnavailable        AuditErrorCode = "mfa_unavailable"
	auditErrSessionNotFound       AuditErrorCode = "session_not_found"
	auditErrTokenInvalid          AuditErrorCode = "token_invalid"
	auditErrPolicyInvalid         AuditErrorCode = "policy_invalid"
	auditErrPolicyNotFound        AuditErrorCode = "policy_not_found"
	auditErrHistoryWriteFailed    AuditErrorCode = "history_write_failed"
	auditErrStorageUnavailable    AuditErrorCode = "storage_unavailable"
	auditErrInternal              AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	applicationID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:     time.Now().UTC(),
		EventType:     eventType,
		UserID:        userID,
		ApplicationID: applicationID,
		SessionID:     sessionID,
		IP:            clientIPFromContext(ctx),
		UserAgent:     userAgentFromContext(ctx),
		Success:       success,
		Metadata:      metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrVerificationTimeout):
		return auditErrVerificationTimeout
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrIPNotWhitelisted):
		return auditErrIPNotWhitelisted
	case errors.Is(err, ErrIPBlacklisted):
		return auditErrIPBlacklisted
	case errors.Is(err, ErrGeoNotWhitelisted):
		return auditErrGeoNotWhitelisted
	case errors.Is(err, ErrGeoBlacklisted):
		return auditErrGeoBlacklisted
	case errors.Is(err, ErrDeviceBlocked):
		return auditErrDeviceBlocked
	case errors.Is(err, ErrNoMFAMethodAvailable):
		return auditErrNoMFAMethod
	case errors.Is(err, ErrMFAChallengeInvalid):
		return auditErrMFAInvalid
	case errors.Is(err, ErrMFAChallengeExpired):
		return auditErrMFAExpired
	case errors.Is(err, ErrMFAAttemptsExceeded):
		return auditErrMFAAttemptsExceeded
	case errors.Is(err, ErrMFAUnavailable):
		return auditErrMFAUnavailable
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrTokenInvalid):
		return auditErrTokenInvalid
	case errors.Is(err, ErrPolicyInvalid):
		return auditErrPolicyInvalid
	case errors.Is(err, ErrPolicyNotFound):
		return auditErrPolicyNotFound
	case errors.Is(err, ErrHistoryWriteFailed):
		return auditErrHistoryWriteFailed
	case errors.Is(err, ErrStorageUnavailable):
		return auditErrStorageUnavailable
	default:
		return auditErrInternal
	}
}
