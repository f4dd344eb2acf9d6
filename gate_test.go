package trustgate

import (
	"errors"
	"testing"
)

func TestNetworkGate(t *testing.T) {
	cases := []struct {
		name    string
		ip      string
		country string
		rules   NetworkRules
		want    error
	}{
		{"no rules", "10.1.2.3", "DE", NetworkRules{}, nil},
		{"ip whitelist exact match", "10.1.2.3", "", NetworkRules{IPWhitelist: []string{"10.1.2.3"}}, nil},
		{"ip whitelist cidr match", "10.200.0.7", "", NetworkRules{IPWhitelist: []string{"10.0.0.0/8"}}, nil},
		{"ip whitelist miss", "8.8.8.8", "", NetworkRules{IPWhitelist: []string{"10.0.0.0/8"}}, ErrIPNotWhitelisted},
		{"no ip fails whitelist", "", "", NetworkRules{IPWhitelist: []string{"10.0.0.0/8"}}, ErrIPNotWhitelisted},
		{"whitelist overrides blacklist", "10.1.2.3", "", NetworkRules{
			IPWhitelist: []string{"10.0.0.0/8"},
			IPBlacklist: []string{"10.1.2.3"},
		}, nil},
		{"ip blacklist exact", "5.5.5.5", "", NetworkRules{IPBlacklist: []string{"5.5.5.5"}}, ErrIPBlacklisted},
		{"ip blacklist cidr", "192.168.9.1", "", NetworkRules{IPBlacklist: []string{"192.168.0.0/16"}}, ErrIPBlacklisted},
		{"no ip passes blacklist", "", "", NetworkRules{IPBlacklist: []string{"5.5.5.5"}}, nil},
		{"ipv6 exact match", "2001:db8::1", "", NetworkRules{IPWhitelist: []string{"2001:db8::1"}}, nil},
		{"ipv6 cidr match", "2001:db8::42", "", NetworkRules{IPWhitelist: []string{"2001:db8::/32"}}, nil},
		{"geo whitelist match", "10.1.2.3", "DE", NetworkRules{GeoWhitelist: []string{"DE"}}, nil},
		{"geo whitelist case fold", "10.1.2.3", "de", NetworkRules{GeoWhitelist: []string{"DE"}}, nil},
		{"geo whitelist miss", "10.1.2.3", "RU", NetworkRules{GeoWhitelist: []string{"DE", "US"}}, ErrGeoNotWhitelisted},
		{"unknown country fails geo whitelist", "10.1.2.3", "", NetworkRules{GeoWhitelist: []string{"DE"}}, ErrGeoNotWhitelisted},
		{"geo blacklist match", "10.1.2.3", "RU", NetworkRules{GeoBlacklist: []string{"RU"}}, ErrGeoBlacklisted},
		{"unknown country passes geo blacklist", "10.1.2.3", "", NetworkRules{GeoBlacklist: []string{"RU"}}, nil},
		{"geo whitelist overrides blacklist", "10.1.2.3", "DE", NetworkRules{
			GeoWhitelist: []string{"DE"},
			GeoBlacklist: []string{"DE"},
		}, nil},
		{"ip check runs before geo", "5.5.5.5", "RU", NetworkRules{
			IPBlacklist:  []string{"5.5.5.5"},
			GeoBlacklist: []string{"RU"},
		}, ErrIPBlacklisted},
		{"malformed ip never matches blacklist", "not-an-ip", "", NetworkRules{IPBlacklist: []string{"5.5.5.5"}}, nil},
		{"malformed entry skipped", "10.1.2.3", "", NetworkRules{IPBlacklist: []string{"garbage", "10.1.2.3"}}, ErrIPBlacklisted},
	}

	var gate networkGate
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := gate.Evaluate(tc.ip, tc.country, tc.rules)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Evaluate(%q, %q) = %v, want %v", tc.ip, tc.country, err, tc.want)
			}
		})
	}
}
