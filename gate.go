package trustgate

import (
	"net/netip"
	"strings"
)

// networkGate evaluates a policy's IP and geography rules against the
// attempt's origin. Whitelist wins: a non-empty whitelist both admits its
// members and makes the corresponding blacklist irrelevant.
//
// IP checks run first. An attempt with no client IP fails a non-empty IP
// whitelist and passes blacklists (nothing to match). An unknown country
// fails a non-empty geo whitelist and passes geo blacklists.
type networkGate struct{}

// Evaluate returns nil when the origin passes, or the specific denial:
// ErrIPNotWhitelisted, ErrIPBlacklisted, ErrGeoNotWhitelisted, or
// ErrGeoBlacklisted.
func (networkGate) Evaluate(ip, country string, rules NetworkRules) error {
	if len(rules.IPWhitelist) > 0 {
		if !ipMatchesAny(ip, rules.IPWhitelist) {
			return ErrIPNotWhitelisted
		}
	} else if ipMatchesAny(ip, rules.IPBlacklist) {
		return ErrIPBlacklisted
	}

	if len(rules.GeoWhitelist) > 0 {
		if !geoMatchesAny(country, rules.GeoWhitelist) {
			return ErrGeoNotWhitelisted
		}
	} else if geoMatchesAny(country, rules.GeoBlacklist) {
		return ErrGeoBlacklisted
	}

	return nil
}

// ipMatchesAny reports whether ip matches any entry. Entries are exact
// addresses or CIDR blocks. Malformed entries and an unparseable ip never
// match; policy validation rejects malformed entries at write time.
func ipMatchesAny(ip string, entries []string) bool {
	if ip == "" || len(entries) == 0 {
		return false
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				continue
			}
			if prefix.Contains(addr) {
				return true
			}
			continue
		}

		other, err := netip.ParseAddr(entry)
		if err != nil {
			continue
		}
		if other.Unmap() == addr {
			return true
		}
	}

	return false
}

func geoMatchesAny(country string, entries []string) bool {
	if country == "" {
		return false
	}
	for _, entry := range entries {
		if strings.EqualFold(entry, country) {
			return true
		}
	}
	return false
}
