package database

import "time"

// Now returns the current UTC time in RFC 3339 form, as stored in the
// collected_at, analyzed_at and run timestamp columns.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// FormatUnix renders a Unix timestamp for display, e.g. "Feb 06, 2026 14:03".
// Zero renders as an empty string.
func FormatUnix(ts int64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format("Jan 02, 2006 15:04")
}
