package gemini

import (
	"net/netip"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// punycodeHostname returns the ASCII form of hostname, used both for name
// resolution and as the TLS server name. IP literals are returned as is.
func punycodeHostname(hostname string) (string, error) {
	if _, err := netip.ParseAddr(hostname); err == nil {
		return hostname, nil
	}
	if isASCII(hostname) {
		return hostname, nil
	}
	return idna.Lookup.ToASCII(hostname)
}
