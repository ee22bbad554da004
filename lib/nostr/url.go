package nostr

import (
	"net/url"
	"strings"
)

// NormalizeURL returns the canonical relay url used as a map key everywhere.
// wss:// is assumed when no scheme is given. Returns "" when the input is not
// a ws or wss url with a host.
func NormalizeURL(relayURL string) string {
	relayURL = strings.TrimSpace(relayURL)
	if relayURL == "" {
		return ""
	}

	if !strings.Contains(relayURL, "://") {
		relayURL = "wss://" + relayURL
	}

	parsed, err := url.Parse(relayURL)
	if err != nil {
		return ""
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "ws" && scheme != "wss" {
		return ""
	}

	host := strings.ToLower(parsed.Host)
	if host == "" || strings.Contains(host, " ") {
		return ""
	}

	result := scheme + "://" + host
	if path := strings.TrimRight(parsed.Path, "/"); path != "" {
		result += path
	}
	if parsed.RawQuery != "" {
		result += "?" + parsed.RawQuery
	}
	return result
}

// NormalizeURLs normalizes and de-duplicates urls, keeping first-seen order
// and dropping invalid entries
func NormalizeURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		n := NormalizeURL(u)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// SameRelaySet reports whether a and b name the same relays in any order
func SameRelaySet(a, b []string) bool {
	return sameSet(NormalizeURLs(a), NormalizeURLs(b))
}
