// Package httpdate converts between the HTTP-date wire format and absolute
// time, and provides the epoch arithmetic used by the run gate.
package httpdate

import (
	"net/http"
	"time"
)

// Parse parses an HTTP-date header value. Malformed or empty input returns
// nil rather than an error: Expires and Last-Modified are advisory, and a
// bad value must not abort the run.
func Parse(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := http.ParseTime(s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// Format renders t in the wire format (RFC 1123, GMT).
func Format(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// Epoch returns t as Unix seconds. All gate comparisons happen in epoch
// seconds so string ordering across timezones can never leak in.
func Epoch(t time.Time) int64 {
	return t.Unix()
}

// FromEpoch returns the UTC time for n Unix seconds.
func FromEpoch(n int64) time.Time {
	return time.Unix(n, 0).UTC()
}

// Before reports whether a is strictly before b at second resolution.
func Before(a, b time.Time) bool {
	return Epoch(a) < Epoch(b)
}

// Now returns the current time in UTC.
func Now() time.Time {
	return time.Now().UTC()
}
