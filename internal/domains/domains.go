// Package domains compares URLs by host and by registrable domain.
//
// Registrable domains come from the public suffix list shipped with
// golang.org/x/net/publicsuffix, so multi-label suffixes such as "co.uk"
// resolve correctly. Every comparison fails closed: a URL that cannot be
// parsed, or has no host, never compares equal to anything.
package domains

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

var (
	ErrEmptyURL    = errors.New("empty url")
	ErrMissingHost = errors.New("missing host")
)

// Hostname returns the lowercased, IDNA-normalized host of rawURL without
// port. It returns "" when rawURL cannot be parsed or has no host.
func Hostname(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return normalizeHost(u.Hostname())
}

func normalizeHost(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return ""
	}
	if puny, err := idna.Lookup.ToASCII(host); err == nil {
		host = puny
	}
	return host
}

// RegistrableDomain returns the public-suffix-plus-one label of rawURL's host,
// e.g. "https://18f.gsa.gov/" -> "gsa.gov". IP literals and single-label hosts
// are returned as-is. Malformed input yields "".
func RegistrableDomain(rawURL string) string {
	return RegistrableDomainOfHost(Hostname(rawURL))
}

// RegistrableDomainOfHost is RegistrableDomain for a bare hostname.
func RegistrableDomainOfHost(host string) string {
	host = normalizeHost(host)
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// host is itself a public suffix or a single label like "localhost".
		return host
	}
	return etld1
}

// SameDomain reports whether a and b share a registrable domain.
func SameDomain(a, b string) bool {
	da, db := RegistrableDomain(a), RegistrableDomain(b)
	return da != "" && da == db
}

// SameHost reports whether a and b have the same hostname, ignoring case
// and port.
func SameHost(a, b string) bool {
	ha, hb := Hostname(a), Hostname(b)
	return ha != "" && ha == hb
}

// NormalizeTarget turns a stored target such as "18f.gov" into an absolute
// URL, defaulting the scheme to https.
func NormalizeTarget(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyURL
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse target %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("target %q: %w", raw, ErrMissingHost)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String(), nil
}

// Origin returns scheme://host[:port] for rawURL. Default ports are dropped.
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("origin of %q: %w", rawURL, ErrMissingHost)
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return scheme + "://" + host, nil
}

// Resolve resolves ref against base. It returns "" if either cannot be
// parsed.
func Resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	return b.ResolveReference(r).String()
}
