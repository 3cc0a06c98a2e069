package utils

import (
	"net/url"
	"path"
	"strings"
)

// CanonicalizeAddress lower-cases scheme and host and strips trailing
// slashes, query and fragment so the same peer is never listed twice.
func CanonicalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		return strings.TrimRight(addr, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	if u.Path != "" {
		u.Path = path.Clean(u.Path)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

// CanonicalizeWebPath returns p as an absolute, cleaned path without a trailing slash.
func CanonicalizeWebPath(p string) string {
	if p == "" {
		return ""
	}
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return ""
	}
	return cleaned
}
