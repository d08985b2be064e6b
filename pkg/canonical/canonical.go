// Package canonical normalizes URLs into the fixed-point form CHAI uses as
// an identity key.
//
// Canonicalization is pure and deterministic: the same input always yields
// the same output, and the function is idempotent
// (Canonicalize(Canonicalize(u)) == Canonicalize(u)). Both the diff engine
// and the deduplicator key on the canonical form, so any change to these
// rules changes package identity across ecosystems.
//
// Rules applied, in order:
//   - scheme defaults to https when missing; only http, https, and git are
//     accepted
//   - host is lowercased; empty hosts and unbalanced IPv6 brackets are
//     rejected
//   - default ports (:80, :443) are stripped
//   - http and git upgrade to https on well-known hosts
//   - trailing "/index.html", trailing slashes, and a ".git" suffix on
//     well-known forges are stripped from the path
//   - common tracking parameters are removed; remaining query parameters
//     are re-encoded in sorted order
//   - fragments are dropped
package canonical

import (
	"net/url"
	"strings"

	"github.com/chai-pm/chai/pkg/errors"
)

// forges are hosts where a ".git" path suffix is repository decoration, not
// part of the project identity.
var forges = map[string]bool{
	"github.com":      true,
	"gitlab.com":      true,
	"bitbucket.org":   true,
	"codeberg.org":    true,
	"sourceforge.net": true,
	"sr.ht":           true,
}

// httpsHosts are hosts known to serve https; http and git URLs pointing at
// them are upgraded.
var httpsHosts = map[string]bool{
	"github.com":      true,
	"gitlab.com":      true,
	"bitbucket.org":   true,
	"codeberg.org":    true,
	"sourceforge.net": true,
	"sr.ht":           true,
	"crates.io":       true,
	"docs.rs":         true,
	"pypi.org":        true,
	"rubygems.org":    true,
	"www.npmjs.com":   true,
}

// trackingParams are query parameters stripped outright. utm_* parameters
// are stripped by prefix.
var trackingParams = map[string]bool{
	"ref":     true,
	"ref_src": true,
	"fbclid":  true,
	"gclid":   true,
	"mc_cid":  true,
	"mc_eid":  true,
}

// Canonicalize returns the canonical form of raw, or an error with code
// ErrCodeMalformedURL when raw cannot be normalized.
func Canonicalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errors.New(errors.ErrCodeMalformedURL, "empty url")
	}

	// Legacy rows and forge shorthands arrive without a scheme
	// ("github.com/serde-rs/serde").
	if !strings.Contains(s, "://") {
		// "mailto:x@example.com" names a scheme; "localhost:8080/x" a port
		if prefix, rest, ok := strings.Cut(s, ":"); ok && !strings.ContainsAny(prefix, "./") {
			port, _, _ := strings.Cut(rest, "/")
			if port == "" || strings.Trim(port, "0123456789") != "" {
				return "", errors.New(errors.ErrCodeMalformedURL, "unsupported scheme %q in %q", strings.ToLower(prefix), raw)
			}
		}
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeMalformedURL, err, "cannot parse %q", raw)
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "http", "https", "git":
	default:
		return "", errors.New(errors.ErrCodeMalformedURL, "unsupported scheme %q in %q", scheme, raw)
	}

	if strings.Count(u.Host, "[") != strings.Count(u.Host, "]") {
		return "", errors.New(errors.ErrCodeMalformedURL, "invalid ipv6 bracketing in %q", raw)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", errors.New(errors.ErrCodeMalformedURL, "empty host in %q", raw)
	}

	port := u.Port()
	if port == "80" || port == "443" {
		port = ""
	}

	if scheme != "https" && httpsHosts[host] {
		scheme = "https"
	}

	path := u.EscapedPath()
	path = strings.TrimSuffix(path, "/index.html")
	path = strings.TrimRight(path, "/")
	if forges[host] {
		path = strings.TrimSuffix(path, ".git")
	}

	q := u.Query()
	for k := range q {
		if trackingParams[k] || strings.HasPrefix(k, "utm_") {
			q.Del(k)
		}
	}

	if strings.Contains(host, ":") {
		// bare IPv6 literal from Hostname(); restore the brackets
		host = "[" + host + "]"
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	if port != "" {
		b.WriteString(":")
		b.WriteString(port)
	}
	b.WriteString(path)
	if enc := q.Encode(); enc != "" {
		b.WriteString("?")
		b.WriteString(enc)
	}
	return b.String(), nil
}

// IsCanonical reports whether raw is already in canonical form.
func IsCanonical(raw string) bool {
	c, err := Canonicalize(raw)
	return err == nil && c == raw
}
