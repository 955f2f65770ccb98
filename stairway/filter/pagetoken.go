package filter

import (
	"encoding/base64"
	"fmt"
	"time"
)

// pageTokenVersion guards against decoding a token produced by a
// future, incompatible encoding (spec.md §4.9: "a versioned,
// URL-encoded base64 of an ISO-8601 instant").
const pageTokenVersion = "v1"

// EncodePageToken encodes t as a page token: a versioned,
// URL-encoded base64 cursor equal to the submit_time of the last row
// returned (spec.md §4.9). Callers that returned zero rows should pass
// the server's current time so repeated polling still makes forward
// progress.
func EncodePageToken(t time.Time) string {
	raw := pageTokenVersion + ":" + t.UTC().Format(time.RFC3339Nano)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// DecodePageToken reverses EncodePageToken.
func DecodePageToken(token string) (time.Time, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, fmt.Errorf("filter: decode page token: %w", err)
	}
	s := string(raw)
	if len(s) <= len(pageTokenVersion)+1 || s[:len(pageTokenVersion)] != pageTokenVersion {
		return time.Time{}, fmt.Errorf("filter: unsupported page token version")
	}
	ts, err := time.Parse(time.RFC3339Nano, s[len(pageTokenVersion)+1:])
	if err != nil {
		return time.Time{}, fmt.Errorf("filter: malformed page token: %w", err)
	}
	return ts, nil
}
