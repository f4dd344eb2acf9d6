package trustgate

import "errors"

var (
	// ErrEngineNotReady indicates the engine was not built through Builder.Build.
	ErrEngineNotReady = errors.New("engine not ready")

	// ErrInvalidConfig indicates the engine configuration failed validation.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrNoPolicyConfigured indicates no active security policy exists system-wide.
	ErrNoPolicyConfigured = errors.New("no security policy configured")

	// ErrNoPolicyMatch indicates active policies exist but none match the scope context.
	ErrNoPolicyMatch = errors.New("no security policy matches scope")

	// ErrPolicyNotFound indicates the requested policy does not exist.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrPolicyInvalid indicates a policy failed validation on create or update.
	ErrPolicyInvalid = errors.New("policy invalid")

	// ErrIPNotWhitelisted indicates a non-empty IP whitelist did not match the client IP.
	ErrIPNotWhitelisted = errors.New("ip not whitelisted")

	// ErrIPBlacklisted indicates the client IP matched an IP blacklist entry.
	ErrIPBlacklisted = errors.New("ip blacklisted")

	// ErrGeoNotWhitelisted indicates a non-empty geo whitelist did not include the origin country.
	ErrGeoNotWhitelisted = errors.New("geo not whitelisted")

	// ErrGeoBlacklisted indicates the origin country matched a geo blacklist entry.
	ErrGeoBlacklisted = errors.New("geo blacklisted")

	// ErrAccountLocked indicates the account is under an active lockout.
	ErrAccountLocked = errors.New("account locked")

	// ErrInvalidCredentials is the single credential failure returned to callers.
	// Unknown accounts and wrong credentials are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrVerificationTimeout indicates the credential verifier did not answer in time.
	ErrVerificationTimeout = errors.New("credential verification timeout")

	// ErrDeviceBlocked indicates the presented device fingerprint is administratively blocked.
	ErrDeviceBlocked = errors.New("device blocked")

	// ErrDeviceNotFound indicates the requested device record does not exist.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrNoMFAMethodAvailable indicates MFA is required but the policy's allowed
	// types and the account's enabled methods have an empty intersection.
	ErrNoMFAMethodAvailable = errors.New("no mfa method available")

	// ErrMFAChallengeInvalid indicates the challenge does not exist, was already
	// consumed, or the submitted code failed verification.
	ErrMFAChallengeInvalid = errors.New("mfa challenge invalid")

	// ErrMFAChallengeExpired indicates the challenge outlived its TTL.
	ErrMFAChallengeExpired = errors.New("mfa challenge expired")

	// ErrMFAAttemptsExceeded indicates the challenge was invalidated after too many failures.
	ErrMFAAttemptsExceeded = errors.New("mfa attempts exceeded")

	// ErrMFAUnavailable indicates the MFA provider or notifier failed.
	ErrMFAUnavailable = errors.New("mfa unavailable")

	// ErrSessionNotFound indicates the session does not exist, expired, or was revoked.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTokenInvalid indicates an access token failed signature or claim validation.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrStorageUnavailable indicates a required backend stayed unreachable
	// after bounded retries. Authentication fails closed on this error.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrHistoryWriteFailed indicates the login history record could not be persisted.
	ErrHistoryWriteFailed = errors.New("history write failed")
)
