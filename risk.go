package trustgate

import "strings"

// Risk factor names recorded in history and audit metadata.
const (
	riskFactorUnknownDevice  = "unknown_device"
	riskFactorNewCountry     = "new_country"
	riskFactorVelocity       = "velocity"
	riskFactorFailedAttempts = "failed_attempts"
)

// riskSignals are the inputs to one scoring pass. They are gathered before
// scoring; the scorer itself does no I/O.
type riskSignals struct {
	// knownDevice is true when the presented fingerprint has a device record
	// for the account. No fingerprint means unknown.
	knownDevice bool
	// country is the resolved origin country, "" when unknown.
	country string
	// recentCountries are the origins of the account's recent successful
	// logins, newest first.
	recentCountries []string
	// attemptsInWindow counts attempts (success and failure) inside the
	// velocity window, including this one.
	attemptsInWindow int
	// failedAttempts is the account's current windowed failure count.
	failedAttempts int
}

// riskAssessment is the scoring outcome. Scoring annotates the attempt and
// can force MFA step-up; it never denies on its own.
type riskAssessment struct {
	score      int
	suspicious bool
	// reason names the highest-contributing factor, "" when the score is 0.
	reason string
}

// riskScorer adds up independent factor weights and caps the total at 100.
type riskScorer struct {
	cfg RiskConfig
}

func newRiskScorer(cfg RiskConfig) *riskScorer {
	return &riskScorer{cfg: cfg}
}

func (s *riskScorer) Score(sig riskSignals) riskAssessment {
	type factor struct {
		name   string
		weight int
	}

	factors := make([]factor, 0, 4)

	if !sig.knownDevice {
		factors = append(factors, factor{riskFactorUnknownDevice, s.cfg.UnknownDeviceWeight})
	}

	if sig.country != "" && len(sig.recentCountries) > 0 && !containsFold(sig.recentCountries, sig.country) {
		factors = append(factors, factor{riskFactorNewCountry, s.cfg.NewCountryWeight})
	}

	if sig.attemptsInWindow > s.cfg.VelocityThreshold {
		factors = append(factors, factor{riskFactorVelocity, s.cfg.VelocityWeight})
	}

	if sig.failedAttempts > 0 {
		w := sig.failedAttempts * s.cfg.FailureWeight
		if w > s.cfg.FailureWeightCap {
			w = s.cfg.FailureWeightCap
		}
		factors = append(factors, factor{riskFactorFailedAttempts, w})
	}

	var out riskAssessment
	best := 0
	for _, f := range factors {
		if f.weight <= 0 {
			continue
		}
		out.score += f.weight
		if f.weight > best {
			best = f.weight
			out.reason = f.name
		}
	}

	if out.score > 100 {
		out.score = 100
	}
	out.suspicious = out.score > s.cfg.SuspiciousThreshold

	return out
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}
