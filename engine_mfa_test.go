package trustgate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func mfaPolicy(mutate func(*SecurityPolicy)) SecurityPolicy {
	return testPolicy(func(p *SecurityPolicy) {
		p.MFA.Required = true
		if mutate != nil {
			mutate(p)
		}
	})
}

func TestMFA_RequiredIssuesChallenge(t *testing.T) {
	env := newTestEnv(t, testConfig(), mfaPolicy(nil))
	env.mfa.enable("alice", MFAMethodEmail)
	ctx := loginCtx("10.1.2.3")

	decision, err := env.engine.Authenticate(ctx, aliceRequest())
	if err != nil {
		t.Fatalf("challenge issuance should not error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("attempt must pause, not admit")
	}
	if !decision.MFARequired || decision.MFAChallengeID == "" {
		t.Fatalf("expected a pending challenge, got %+v", decision)
	}
	if !methodAllowed(decision.MFAMethods, MFAMethodEmail) {
		t.Fatalf("expected email offered, got %v", decision.MFAMethods)
	}

	// A pending attempt has not concluded; no history yet.
	if got := env.history.count(); got != 0 {
		t.Fatalf("expected no history while pending, got %d entries", got)
	}

	confirmed, err := env.engine.ConfirmMFA(ctx, decision.MFAChallengeID, MFAMethodEmail, env.notifier.lastCode(t), false)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if !confirmed.Allowed || confirmed.SessionID == "" {
		t.Fatalf("expected admitted session, got %+v", confirmed)
	}

	entry := env.history.last(t)
	if !entry.Success || !entry.MFARequired || !entry.MFASuccess || entry.MFAMethod != MFAMethodEmail {
		t.Fatalf("unexpected history entry %+v", entry)
	}
	if got := env.history.count(); got != 1 {
		t.Fatalf("expected exactly one entry for the attempt, got %d", got)
	}
}

func TestMFA_TOTPConfirm(t *testing.T) {
	env := newTestEnv(t, testConfig(), mfaPolicy(nil))
	env.mfa.enable("alice", MFAMethodTOTP)
	env.mfa.totpCode = "424242"
	ctx := loginCtx("10.1.2.3")

	decision, err := env.engine.Authenticate(ctx, aliceRequest())
	if err != nil || !decision.MFARequired {
		t.Fatalf("expected challenge, got %+v %v", decision, err)
	}

	confirmed, err := env.engine.ConfirmMFA(ctx, decision.MFAChallengeID, MFAMethodTOTP, "424242", false)
	if err != nil {
		t.Fatalf("totp confirm failed: %v", err)
	}
	if !confirmed.Allowed {
		t.Fatal("expected admitted session")
	}
}

func TestMFA_NoUsableMethod(t *testing.T) {
	policy := mfaPolicy(func(p *SecurityPolicy) {
		p.MFA.AllowedTypes = []MFAMethod{MFAMethodTOTP}
	})
	env := newTestEnv(t, testConfig(), policy)
	env.mfa.enable("alice", MFAMethodSMS) // not allowed by the policy

	_, err := env.engine.Authenticate(loginCtx("10.1.2.3"), aliceRequest())
	if !errors.Is(err, ErrNoMFAMethodAvailable) {
		t.Fatalf("expected ErrNoMFAMethodAvailable, got %v", err)
	}
	if entry := env.history.last(t); entry.FailureReason != "no_mfa_method" {
		t.Fatalf("expected no_mfa_method reason, got %q", entry.FailureReason)
	}
}

func TestMFA_WrongCodesExhaustChallenge(t *testing.T) {
	cfg := testConfig()
	cfg.MFA.ChallengeMaxAttempts = 2
	env := newTestEnv(t, cfg, mfaPolicy(nil))
	env.mfa.enable("alice", MFAMethodEmail)
	ctx := loginCtx("10.1.2.3")

	decision, err := env.engine.Authenticate(ctx, aliceRequest())
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	_, err = env.engine.ConfirmMFA(ctx, decision.MFAChallengeID, MFAMethodEmail, "000000", false)
	if !errors.Is(err, ErrMFAChallengeInvalid) {
		t.Fatalf("first wrong code: expected ErrMFAChallengeInvalid, got %v", err)
	}
	if got := env.history.count(); got != 0 {
		t.Fatalf("retryable failure must not conclude the attempt, got %d entries", got)
	}

	_, err = env.engine.ConfirmMFA(ctx, decision.MFAChallengeID, MFAMethodEmail, "000000", false)
	if !errors.Is(err, ErrMFAAttemptsExceeded) {
		t.Fatalf("second wrong code: expected ErrMFAAttemptsExceeded, got %v", err)
	}

	entry := env.history.last(t)
	if entry.Success || entry.FailureReason != "mfa_attempts_exceeded" {
		t.Fatalf("unexpected terminal entry %+v", entry)
	}
	if got := env.history.count(); got != 1 {
		t.Fatalf("expected one entry for the exhausted attempt, got %d", got)
	}

	// The challenge is gone: the right code no longer helps.
	_, err = env.engine.ConfirmMFA(ctx, decision.MFAChallengeID, MFAMethodEmail, env.notifier.lastCode(t), false)
	if !errors.Is(err, ErrMFAChallengeInvalid) {
		t.Fatalf("expected invalidated challenge, got %v", err)
	}
}

func TestMFA_ReplayAfterConfirm(t *testing.T) {
	env := newTestEnv(t, testConfig(), mfaPolicy(nil))
	env.mfa.enable("alice", MFAMethodEmail)
	ctx := loginCtx("10.1.2.3")

	decision, _ := env.engine.Authenticate(ctx, aliceRequest())
	code := env.notifier.lastCode(t)

	if _, err := env.engine.ConfirmMFA(ctx, decision.MFAChallengeID, MFAMethodEmail, code, false); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := env.engine.ConfirmMFA(ctx, decision.MFAChallengeID, MFAMethodEmail, code, false); !errors.Is(err, ErrMFAChallengeInvalid) {
		t.Fatalf("replayed confirmation must fail, got %v", err)
	}
}

func TestMFA_RememberDevice(t *testing.T) {
	policy := mfaPolicy(func(p *SecurityPolicy) {
		p.MFA.RememberDeviceDays = 30
	})
	env := newTestEnv(t, testConfig(), policy)
	env.mfa.enable("alice", MFAMethodEmail)
	ctx := loginCtx("10.1.2.3")

	decision, err := env.engine.Authenticate(ctx, aliceRequest())
	if err != nil || !decision.MFARequired {
		t.Fatalf("expected challenge, got %+v %v", decision, err)
	}
	if _, err := env.engine.ConfirmMFA(ctx, decision.MFAChallengeID, MFAMethodEmail, env.notifier.lastCode(t), true); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// Same device inside the window: no challenge.
	second, err := env.engine.Authenticate(ctx, aliceRequest())
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if second.MFARequired || !second.Allowed {
		t.Fatalf("remembered device should skip the challenge, got %+v", second)
	}

	// A different device is still challenged.
	other := aliceRequest()
	other.DeviceFingerprint = "fp-phone"
	third, err := env.engine.Authenticate(ctx, other)
	if err != nil {
		t.Fatalf("third login: %v", err)
	}
	if !third.MFARequired {
		t.Fatal("unremembered device must be challenged")
	}

	// Forgetting restores the challenge for the original device.
	if err := env.engine.ForgetRememberedDevice(context.Background(), "alice", "fp-laptop"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	fourth, err := env.engine.Authenticate(ctx, aliceRequest())
	if err != nil {
		t.Fatalf("fourth login: %v", err)
	}
	if !fourth.MFARequired {
		t.Fatal("forgotten device must be challenged again")
	}
}

func TestMFA_RememberDisabledByPolicy(t *testing.T) {
	env := newTestEnv(t, testConfig(), mfaPolicy(nil)) // RememberDeviceDays 0
	env.mfa.enable("alice", MFAMethodEmail)
	ctx := loginCtx("10.1.2.3")

	decision, _ := env.engine.Authenticate(ctx, aliceRequest())
	if _, err := env.engine.ConfirmMFA(ctx, decision.MFAChallengeID, MFAMethodEmail, env.notifier.lastCode(t), true); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	second, err := env.engine.Authenticate(ctx, aliceRequest())
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if !second.MFARequired {
		t.Fatal("remember-device must be inert when the policy window is 0")
	}
}

func TestMFA_BackupCodeConsumedOnce(t *testing.T) {
	policy := mfaPolicy(func(p *SecurityPolicy) {
		p.MFA.AllowedTypes = []MFAMethod{MFAMethodBackup}
	})
	env := newTestEnv(t, testConfig(), policy)
	env.mfa.enable("alice", MFAMethodBackup)
	ctx := loginCtx("10.1.2.3")

	codes, err := env.engine.GenerateBackupCodes(context.Background(), "alice")
	if err != nil {
		t.Fatalf("generate backup codes: %v", err)
	}
	if len(codes) != DefaultConfig().MFA.BackupCodeCount {
		t.Fatalf("expected %d codes, got %d", DefaultConfig().MFA.BackupCodeCount, len(codes))
	}

	decision, err := env.engine.Authenticate(ctx, aliceRequest())
	if err != nil || !decision.MFARequired {
		t.Fatalf("expected challenge, got %+v %v", decision, err)
	}
	if _, err := env.engine.ConfirmMFA(ctx, decision.MFAChallengeID, MFAMethodBackup, codes[0], false); err != nil {
		t.Fatalf("backup confirm: %v", err)
	}

	// The burned code no longer verifies.
	second, err := env.engine.Authenticate(ctx, aliceRequest())
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if _, err := env.engine.ConfirmMFA(ctx, second.MFAChallengeID, MFAMethodBackup, codes[0], false); !errors.Is(err, ErrMFAChallengeInvalid) {
		t.Fatalf("reused backup code must fail, got %v", err)
	}
	if _, err := env.engine.ConfirmMFA(ctx, second.MFAChallengeID, MFAMethodBackup, codes[1], false); err != nil {
		t.Fatalf("fresh backup code should verify: %v", err)
	}
}

func TestMFA_MethodOutsideChallengeRejected(t *testing.T) {
	env := newTestEnv(t, testConfig(), mfaPolicy(nil))
	env.mfa.enable("alice", MFAMethodEmail)
	ctx := loginCtx("10.1.2.3")

	decision, _ := env.engine.Authenticate(ctx, aliceRequest())
	_, err := env.engine.ConfirmMFA(ctx, decision.MFAChallengeID, MFAMethodTOTP, "123456", false)
	if !errors.Is(err, ErrMFAChallengeInvalid) {
		t.Fatalf("method not offered by the challenge must fail, got %v", err)
	}
}

func TestMFA_RiskStepUp(t *testing.T) {
	env := newTestEnv(t, testConfig(), testPolicy(nil)) // MFA not required
	env.mfa.enable("alice", MFAMethodEmail)

	// Establish a home country and a known device.
	if _, err := env.engine.Authenticate(loginCtx("10.1.2.3"), aliceRequest()); err != nil {
		t.Fatalf("baseline login: %v", err)
	}

	// Two credential failures raise the windowed failure factor.
	bad := aliceRequest()
	bad.Credential = "wrong"
	env.engine.Authenticate(loginCtx("10.1.2.3"), bad)
	env.engine.Authenticate(loginCtx("10.1.2.3"), bad)

	// New device + new country + recent failures pushes the score past the
	// suspicious threshold, so a step-up challenge fires.
	req := aliceRequest()
	req.DeviceFingerprint = "fp-stolen"
	decision, err := env.engine.Authenticate(loginCtx("5.5.5.5"), req)
	if err != nil {
		t.Fatalf("step-up issuance should not error: %v", err)
	}
	if !decision.MFARequired {
		t.Fatalf("expected step-up challenge, got %+v", decision)
	}
	if !decision.Suspicious {
		t.Fatal("expected the attempt flagged suspicious")
	}

	confirmed, err := env.engine.ConfirmMFA(loginCtx("5.5.5.5"), decision.MFAChallengeID, MFAMethodEmail, env.notifier.lastCode(t), false)
	if err != nil || !confirmed.Allowed {
		t.Fatalf("step-up confirm failed: %+v %v", confirmed, err)
	}
}

func TestMFA_StepUpWithoutMethodsAdmits(t *testing.T) {
	env := newTestEnv(t, testConfig(), testPolicy(nil))
	// No enrolled methods at all.

	if _, err := env.engine.Authenticate(loginCtx("10.1.2.3"), aliceRequest()); err != nil {
		t.Fatalf("baseline login: %v", err)
	}

	bad := aliceRequest()
	bad.Credential = "wrong"
	env.engine.Authenticate(loginCtx("10.1.2.3"), bad)
	env.engine.Authenticate(loginCtx("10.1.2.3"), bad)

	req := aliceRequest()
	req.DeviceFingerprint = "fp-stolen"
	decision, err := env.engine.Authenticate(loginCtx("5.5.5.5"), req)
	if err != nil {
		t.Fatalf("step-up without methods must admit: %v", err)
	}
	if !decision.Allowed || decision.MFARequired {
		t.Fatalf("expected direct admission, got %+v", decision)
	}
	if !decision.Suspicious {
		t.Fatal("the admitted attempt stays flagged suspicious")
	}
}

func TestMFA_ChallengeTTLBoundsConfirmation(t *testing.T) {
	env := newTestEnv(t, testConfig(), mfaPolicy(nil))
	env.mfa.enable("alice", MFAMethodEmail)
	ctx := loginCtx("10.1.2.3")

	decision, _ := env.engine.Authenticate(ctx, aliceRequest())
	code := env.notifier.lastCode(t)

	env.mr.FastForward(6 * time.Minute) // past the 5 minute challenge TTL

	_, err := env.engine.ConfirmMFA(ctx, decision.MFAChallengeID, MFAMethodEmail, code, false)
	if !errors.Is(err, ErrMFAChallengeInvalid) && !errors.Is(err, ErrMFAChallengeExpired) {
		t.Fatalf("expired challenge must not confirm, got %v", err)
	}
}
