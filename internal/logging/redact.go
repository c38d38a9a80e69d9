package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

const redactedValue = "REDACTED"

var secretParams = map[string]struct{}{
	"api_key":       {},
	"apikey":        {},
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
}

// IsSecretParam reports whether a query parameter name carries a credential.
// Matching is case-insensitive.
func IsSecretParam(name string) bool {
	_, ok := secretParams[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// RedactURL renders u with every credential query value replaced.
func RedactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	if u.RawQuery == "" {
		return u.String()
	}
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		clone := *u
		clone.RawQuery = ""
		return clone.String() + "?" + redactedValue
	}
	changed := false
	for name, vals := range values {
		if !IsSecretParam(name) {
			continue
		}
		for i := range vals {
			vals[i] = redactedValue
		}
		changed = true
	}
	if !changed {
		return u.String()
	}
	clone := *u
	clone.RawQuery = values.Encode()
	return clone.String()
}

// RedactURLString parses raw and redacts it. Unparseable input is replaced wholesale.
func RedactURLString(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return redactedValue
	}
	return RedactURL(u)
}

// URL returns the redacted form of u under FieldURL.
func URL(u *url.URL) Attr { return slog.String(FieldURL, RedactURL(u)) }
