// Package internaldefs carries the shared metric name table used by the
// exporter packages. It is not part of the public API.
package internaldefs

import (
	trustgate "github.com/trustgate/trustgate"
)

// CounterDef binds one engine counter to its exported name.
type CounterDef struct {
	ID   trustgate.MetricID
	Name string
	Help string
}

// HistogramDef binds one engine histogram to its exported name.
type HistogramDef struct {
	ID   trustgate.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: trustgate.MetricLoginSuccess, Name: "trustgate_login_success_total", Help: "Admitted authentication attempts."},
	{ID: trustgate.MetricLoginFailure, Name: "trustgate_login_failure_total", Help: "Denied authentication attempts."},
	{ID: trustgate.MetricPolicyFallback, Name: "trustgate_policy_fallback_total", Help: "Attempts governed by the fallback policy."},
	{ID: trustgate.MetricIPDenied, Name: "trustgate_ip_denied_total", Help: "Attempts denied by IP rules."},
	{ID: trustgate.MetricGeoDenied, Name: "trustgate_geo_denied_total", Help: "Attempts denied by geography rules."},
	{ID: trustgate.MetricDeviceBlocked, Name: "trustgate_device_blocked_total", Help: "Attempts denied on a blocked device."},
	{ID: trustgate.MetricLockoutTriggered, Name: "trustgate_lockout_triggered_total", Help: "Lockouts tripped by failure thresholds."},
	{ID: trustgate.MetricLockedRejected, Name: "trustgate_locked_rejected_total", Help: "Attempts rejected on locked accounts."},
	{ID: trustgate.MetricCredentialFailure, Name: "trustgate_credential_failure_total", Help: "Credential verification failures."},
	{ID: trustgate.MetricVerificationTimeout, Name: "trustgate_verification_timeout_total", Help: "Credential verifications that timed out."},
	{ID: trustgate.MetricRiskFlagged, Name: "trustgate_risk_flagged_total", Help: "Attempts marked suspicious by risk scoring."},
	{ID: trustgate.MetricMFARequired, Name: "trustgate_mfa_required_total", Help: "Attempts paused for MFA step-up."},
	{ID: trustgate.MetricMFASuccess, Name: "trustgate_mfa_success_total", Help: "Successful MFA confirmations."},
	{ID: trustgate.MetricMFAFailure, Name: "trustgate_mfa_failure_total", Help: "Failed MFA confirmations."},
	{ID: trustgate.MetricMFAAttemptsExceeded, Name: "trustgate_mfa_attempts_exceeded_total", Help: "MFA challenges invalidated by the attempt cap."},
	{ID: trustgate.MetricNoMFAMethod, Name: "trustgate_no_mfa_method_total", Help: "Attempts denied with no usable MFA method."},
	{ID: trustgate.MetricSessionIssued, Name: "trustgate_session_issued_total", Help: "Admitted sessions."},
	{ID: trustgate.MetricSessionEvicted, Name: "trustgate_session_evicted_total", Help: "Sessions evicted by concurrency admission."},
	{ID: trustgate.MetricSessionRevoked, Name: "trustgate_session_revoked_total", Help: "Sessions revoked by operators."},
	{ID: trustgate.MetricDeviceRegistered, Name: "trustgate_device_registered_total", Help: "Devices registered on first sight."},
	{ID: trustgate.MetricBackupCodesGenerated, Name: "trustgate_backup_codes_generated_total", Help: "Backup code regeneration operations."},
	{ID: trustgate.MetricHistoryWriteFailure, Name: "trustgate_history_write_failure_total", Help: "Login history records that could not be persisted."},
	{ID: trustgate.MetricStorageRetryExhausted, Name: "trustgate_storage_retry_exhausted_total", Help: "Persistence operations that failed after bounded retries."},
}

var HistogramDefs = []HistogramDef{
	{ID: trustgate.MetricAuthenticateLatency, Name: "trustgate_authenticate_latency_seconds", Help: "Authenticate latency histogram."},
}

// HistogramBounds are the upper bucket bounds in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix carries the metric-name-safe spelling of each bound.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw bucket slice to the fixed width.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to cumulative counts.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
