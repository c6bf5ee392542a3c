package users

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeOpenIDURL canonicalises an identity-provider URL so the same
// identity always maps to the same stored value. A missing scheme defaults
// to http, the host is lowercased, the fragment dropped and an empty path
// becomes "/".
func NormalizeOpenIDURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("openid url is empty")
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse openid url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("openid url scheme %q not supported", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("openid url %q has no host", raw)
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}
