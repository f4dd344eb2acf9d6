package trustgate

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"time"
)

// policyResolver picks the single governing policy for an attempt. It keeps
// a short-lived snapshot of active policies so the hot path does not hit the
// provider on every login; engine-side policy writes invalidate the snapshot
// immediately.
type policyResolver struct {
	provider PolicyProvider
	cacheTTL time.Duration

	mu        sync.Mutex
	cached    []SecurityPolicy
	fetchedAt time.Time
}

func newPolicyResolver(provider PolicyProvider, cacheTTL time.Duration) *policyResolver {
	return &policyResolver{provider: provider, cacheTTL: cacheTTL}
}

// Invalidate drops the cached snapshot.
func (r *policyResolver) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.fetchedAt = time.Time{}
	r.mu.Unlock()
}

func (r *policyResolver) activePolicies(ctx context.Context) ([]SecurityPolicy, error) {
	r.mu.Lock()
	if r.cached != nil && time.Since(r.fetchedAt) < r.cacheTTL {
		snapshot := r.cached
		r.mu.Unlock()
		return snapshot, nil
	}
	r.mu.Unlock()

	policies, err := r.provider.ListActivePolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	r.mu.Lock()
	r.cached = policies
	r.fetchedAt = time.Now()
	r.mu.Unlock()

	return policies, nil
}

// Resolve returns the highest-ranked active policy matching the scope.
// Ranking is priority descending, then scope specificity (role over
// application over global), then lexical policy ID for a stable total order.
func (r *policyResolver) Resolve(ctx context.Context, scope ScopeContext) (SecurityPolicy, error) {
	policies, err := r.activePolicies(ctx)
	if err != nil {
		return SecurityPolicy{}, err
	}
	if len(policies) == 0 {
		return SecurityPolicy{}, ErrNoPolicyConfigured
	}

	matches := make([]SecurityPolicy, 0, len(policies))
	for _, p := range policies {
		if !p.Active {
			continue
		}
		if policyMatches(&p, scope) {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return SecurityPolicy{}, ErrNoPolicyMatch
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Priority != matches[j].Priority {
			return matches[i].Priority > matches[j].Priority
		}
		si, sj := scopeRank(matches[i].Scope), scopeRank(matches[j].Scope)
		if si != sj {
			return si > sj
		}
		return matches[i].ID < matches[j].ID
	})

	return clonePolicy(matches[0]), nil
}

func policyMatches(p *SecurityPolicy, scope ScopeContext) bool {
	switch p.Scope {
	case ScopeGlobal:
		return true
	case ScopeApplication:
		return p.ApplicationID != "" && p.ApplicationID == scope.ApplicationID
	case ScopeRole:
		for _, role := range scope.Roles {
			if role == p.Role {
				return p.Role != ""
			}
		}
		return false
	default:
		return false
	}
}

func scopeRank(s PolicyScope) int {
	switch s {
	case ScopeRole:
		return 2
	case ScopeApplication:
		return 1
	case ScopeGlobal:
		return 0
	default:
		return -1
	}
}

// validatePolicyRules rejects policies that could never be enforced
// coherently. Called on create, update, and on the configured fallback.
func validatePolicyRules(p *SecurityPolicy) error {
	switch p.Scope {
	case ScopeGlobal:
	case ScopeApplication:
		if p.ApplicationID == "" {
			return fmt.Errorf("%w: application scope requires application_id", ErrPolicyInvalid)
		}
	case ScopeRole:
		if p.Role == "" {
			return fmt.Errorf("%w: role scope requires role", ErrPolicyInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrPolicyInvalid, p.Scope)
	}

	if p.Lockout.Enabled {
		if p.Lockout.Threshold <= 0 {
			return fmt.Errorf("%w: lockout threshold must be > 0", ErrPolicyInvalid)
		}
		if p.Lockout.ResetWindow <= 0 {
			return fmt.Errorf("%w: lockout reset window must be > 0", ErrPolicyInvalid)
		}
		if p.Lockout.Duration < 0 {
			return fmt.Errorf("%w: lockout duration must be >= 0", ErrPolicyInvalid)
		}
	}

	if p.Session.Timeout <= 0 {
		return fmt.Errorf("%w: session timeout must be > 0", ErrPolicyInvalid)
	}
	if p.Session.MaxConcurrent <= 0 {
		return fmt.Errorf("%w: session max concurrent must be > 0", ErrPolicyInvalid)
	}

	if p.MFA.RememberDeviceDays < 0 {
		return fmt.Errorf("%w: remember device days must be >= 0", ErrPolicyInvalid)
	}
	for _, m := range p.MFA.AllowedTypes {
		switch m {
		case MFAMethodTOTP, MFAMethodSMS, MFAMethodEmail, MFAMethodBackup:
		default:
			return fmt.Errorf("%w: unknown mfa method %q", ErrPolicyInvalid, m)
		}
	}
	if (p.MFA.Required || len(p.MFA.RequiredForRoles) > 0) && len(p.MFA.AllowedTypes) == 0 {
		return fmt.Errorf("%w: mfa required but no allowed types", ErrPolicyInvalid)
	}

	if p.Password.MinLength < 0 || p.Password.MaxLength < 0 ||
		(p.Password.MaxLength > 0 && p.Password.MaxLength < p.Password.MinLength) {
		return fmt.Errorf("%w: password length bounds inconsistent", ErrPolicyInvalid)
	}

	for _, entry := range p.Network.IPWhitelist {
		if err := validateIPEntry(entry); err != nil {
			return fmt.Errorf("%w: ip whitelist entry %q: %v", ErrPolicyInvalid, entry, err)
		}
	}
	for _, entry := range p.Network.IPBlacklist {
		if err := validateIPEntry(entry); err != nil {
			return fmt.Errorf("%w: ip blacklist entry %q: %v", ErrPolicyInvalid, entry, err)
		}
	}
	for _, code := range append(append([]string{}, p.Network.GeoWhitelist...), p.Network.GeoBlacklist...) {
		if len(code) != 2 || strings.ToUpper(code) != code {
			return fmt.Errorf("%w: geo entry %q is not an uppercase ISO alpha-2 code", ErrPolicyInvalid, code)
		}
	}

	return nil
}

func validateIPEntry(entry string) error {
	if strings.Contains(entry, "/") {
		_, err := netip.ParsePrefix(entry)
		return err
	}
	_, err := netip.ParseAddr(entry)
	return err
}
