// Package keys derives cache keys from resource identity.
package keys

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Options are request options that change the fetched resource (format,
// decoder settings, ...). Transport details such as auth never belong here.
type Options map[string]string

// Resource keys the result cache: normalized URL plus a digest of options.
func Resource(rawURL string, opts Options) string {
	u := normalizeURL(rawURL)
	return fmt.Sprintf("res:%s:o=%016x", u, xxhash.Sum64String(canonicalOptions(opts)))
}

// Bytes keys the raw payload tiers (memory and redis) by URL only.
func Bytes(rawURL string) string {
	u := normalizeURL(rawURL)
	return fmt.Sprintf("tile:%s:u=%016x", sanitizeForKey(hostOf(u)), xxhash.Sum64String(u))
}

func normalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return s
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	// Encode sorts by key
	u.RawQuery = u.Query().Encode()
	return u.String()
}

func canonicalOptions(opts Options) string {
	if len(opts) == 0 {
		return ""
	}
	ks := make([]string, 0, len(opts))
	for k := range opts {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	var b strings.Builder
	for _, k := range ks {
		b.WriteString(strings.TrimSpace(k))
		b.WriteByte('=')
		b.WriteString(strings.TrimSpace(opts[k]))
		b.WriteByte('\n')
	}
	return b.String()
}

func hostOf(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "local"
	}
	return u.Host
}

func sanitizeForKey(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := r
		if !isKeyRune(r) {
			out = '-'
		}
		if out == '-' && prev == '-' {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isKeyRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
		r == '.' || r == '_' || r == '-'
}
