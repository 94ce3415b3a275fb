// Package hostutil provides shared utilities for host URL handling.
package hostutil

import (
	"fmt"
	"net/url"
	"strings"
)

// Normalize converts a host string to a full URL.
// - Empty string returns empty
// - localhost/127.0.0.1 defaults to http://
// - Other bare hostnames default to https://
// - Full URLs are used as-is
func Normalize(host string) string {
	if host == "" {
		return ""
	}
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	if IsLocalhost(host) {
		return "http://" + host
	}
	return "https://" + host
}

// IsLocalhost returns true if host is localhost, a .localhost subdomain,
// 127.0.0.1, or [::1] (with optional port).
func IsLocalhost(host string) bool {
	// Strip port if present for easier matching
	hostWithoutPort := host
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		// Check if this is IPv6 bracketed address
		if !strings.HasPrefix(host, "[") || strings.HasPrefix(host, "[::1]:") {
			hostWithoutPort = host[:idx]
		}
	}

	// Check for localhost or .localhost subdomain
	if hostWithoutPort == "localhost" || strings.HasSuffix(hostWithoutPort, ".localhost") {
		return true
	}
	if hostWithoutPort == "127.0.0.1" {
		return true
	}
	// IPv6 loopback (must be bracketed for valid URL)
	if hostWithoutPort == "[::1]" {
		return true
	}
	return false
}

// Origin returns the scheme://host[:port] part of a URL, lowercased, for use
// as a credential namespace. Paths, queries and trailing slashes are dropped so
// "https://API.example.com/v1/" and "https://api.example.com" share credentials.
// Unparseable input is returned trimmed of trailing slashes.
func Origin(rawURL string) string {
	u, err := url.Parse(Normalize(rawURL))
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(rawURL, "/")
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

// Join appends path to base with exactly one slash between them.
// Absolute URLs in path are returned unchanged.
func Join(base, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimSuffix(base, "/") + path
}

// RequireSecureURL rejects plain http:// URLs unless they point at localhost.
// Credentials are attached to every call, so they must never travel in clear
// text to a remote host. Empty input is accepted.
func RequireSecureURL(rawURL string) error {
	if rawURL == "" || !strings.HasPrefix(rawURL, "http://") {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if IsLocalhost(u.Host) {
		return nil
	}
	return fmt.Errorf("refusing insecure http:// URL %q: use https:// for non-localhost hosts", rawURL)
}
