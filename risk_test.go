package trustgate

import "testing"

func TestRiskScorer(t *testing.T) {
	scorer := newRiskScorer(DefaultConfig().Risk)

	clean := riskSignals{
		knownDevice:     true,
		country:         "DE",
		recentCountries: []string{"DE"},
	}

	cases := []struct {
		name           string
		sig            riskSignals
		wantScore      int
		wantReason     string
		wantSuspicious bool
	}{
		{"clean attempt", clean, 0, "", false},
		{"unknown device", riskSignals{country: "DE", recentCountries: []string{"DE"}},
			25, "unknown_device", false},
		{"new country", riskSignals{knownDevice: true, country: "RU", recentCountries: []string{"DE", "US"}},
			20, "new_country", false},
		{"country match is case insensitive", riskSignals{knownDevice: true, country: "de", recentCountries: []string{"DE"}},
			0, "", false},
		{"no country history is not new", riskSignals{knownDevice: true, country: "DE"},
			0, "", false},
		{"velocity above threshold", riskSignals{knownDevice: true, country: "DE", recentCountries: []string{"DE"}, attemptsInWindow: 11},
			30, "velocity", false},
		{"velocity at threshold does not fire", riskSignals{knownDevice: true, country: "DE", recentCountries: []string{"DE"}, attemptsInWindow: 10},
			0, "", false},
		{"failed attempts accumulate", riskSignals{knownDevice: true, country: "DE", recentCountries: []string{"DE"}, failedAttempts: 3},
			15, "failed_attempts", false},
		{"failure weight capped", riskSignals{knownDevice: true, country: "DE", recentCountries: []string{"DE"}, failedAttempts: 50},
			25, "failed_attempts", false},
		{"factors add up", riskSignals{country: "RU", recentCountries: []string{"DE"}, failedAttempts: 2},
			55, "unknown_device", true},
		{"reason is the heaviest factor", riskSignals{knownDevice: true, country: "RU", recentCountries: []string{"DE"}, attemptsInWindow: 11},
			50, "velocity", false},
		{"total capped at 100", riskSignals{country: "RU", recentCountries: []string{"DE"}, attemptsInWindow: 99, failedAttempts: 50},
			100, "velocity", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := scorer.Score(tc.sig)
			if got.score != tc.wantScore {
				t.Fatalf("score = %d, want %d", got.score, tc.wantScore)
			}
			if got.reason != tc.wantReason {
				t.Fatalf("reason = %q, want %q", got.reason, tc.wantReason)
			}
			if got.suspicious != tc.wantSuspicious {
				t.Fatalf("suspicious = %v, want %v", got.suspicious, tc.wantSuspicious)
			}
		})
	}
}

func TestRiskScorer_SuspiciousIsStrictlyAbove(t *testing.T) {
	cfg := DefaultConfig().Risk
	cfg.SuspiciousThreshold = 25
	scorer := newRiskScorer(cfg)

	// Exactly at the threshold: not suspicious.
	at := scorer.Score(riskSignals{country: "DE", recentCountries: []string{"DE"}})
	if at.score != 25 || at.suspicious {
		t.Fatalf("score at threshold must not flag, got %+v", at)
	}

	over := scorer.Score(riskSignals{country: "RU", recentCountries: []string{"DE"}})
	if over.score != 45 || !over.suspicious {
		t.Fatalf("score above threshold must flag, got %+v", over)
	}
}
