package trustgate

import (
	"context"
	"fmt"
)

// mfaRequired decides whether this attempt must present a second factor,
// before any remember-device or step-up adjustments.
func mfaRequired(policy *SecurityPolicy, roles []string) bool {
	if policy.MFA.Required {
		return true
	}
	for _, required := range policy.MFA.RequiredForRoles {
		for _, role := range roles {
			if role == required {
				return true
			}
		}
	}
	return false
}

// allowedMFAMethods intersects the policy's allowed types with the account's
// enabled methods, preserving the policy's declared order. The backup method
// qualifies only when the account still has unused codes.
func (e *Engine) allowedMFAMethods(ctx context.Context, userID string, policy *SecurityPolicy) ([]MFAMethod, error) {
	enrolled, err := e.mfaProvider.ListMethods(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
	}

	enabled := make(map[MFAMethod]bool, len(enrolled))
	for _, m := range enrolled {
		if !m.Enabled {
			continue
		}
		if m.Type == MFAMethodBackup && m.BackupCodesRemaining <= 0 {
			continue
		}
		enabled[m.Type] = true
	}

	var methods []MFAMethod
	for _, t := range policy.MFA.AllowedTypes {
		if enabled[t] {
			methods = append(methods, t)
		}
	}

	return methods, nil
}

// deliveryMethod picks the method the engine itself must deliver a code for.
// totp and backup are verified against provider state; sms and email need a
// generated one-time code sent through the Notifier.
func deliveryMethod(methods []MFAMethod) (MFAMethod, bool) {
	for _, m := range methods {
		if m == MFAMethodSMS || m == MFAMethodEmail {
			return m, true
		}
	}
	return "", false
}

func methodsToStrings(methods []MFAMethod) []string {
	out := make([]string, len(methods))
	for i, m := range methods {
		out[i] = string(m)
	}
	return out
}

func stringsToMethods(values []string) []MFAMethod {
	out := make([]MFAMethod, len(values))
	for i, v := range values {
		out[i] = MFAMethod(v)
	}
	return out
}

func methodAllowed(methods []MFAMethod, method MFAMethod) bool {
	for _, m := range methods {
		if m == method {
			return true
		}
	}
	return false
}
