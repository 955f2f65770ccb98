package filter

import (
	"testing"
	"time"
)

func TestPageToken_RoundTrip(t *testing.T) {
	want := time.Date(2026, 7, 30, 12, 0, 0, 123456789, time.UTC)
	token := EncodePageToken(want)

	got, err := DecodePageToken(token)
	if err != nil {
		t.Fatalf("DecodePageToken: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestPageToken_DecodeInvalidBase64(t *testing.T) {
	if _, err := DecodePageToken("not-valid-base64!!"); err == nil {
		t.Fatalf("expected error decoding invalid base64")
	}
}

func TestPageToken_DecodeUnknownVersion(t *testing.T) {
	// "v2:123" base64url-encoded.
	if _, err := DecodePageToken("djI6MTIz"); err == nil {
		t.Fatalf("expected error for unsupported token version")
	}
}

func TestPageToken_DecodeMalformedPayload(t *testing.T) {
	// "v1:notanumber" base64url-encoded.
	if _, err := DecodePageToken("djE6bm90YW51bWJlcg=="); err == nil {
		t.Fatalf("expected error for non-numeric payload")
	}
}

func TestPageToken_OrderingPreservesTimeOrdering(t *testing.T) {
	earlier := time.Now()
	later := earlier.Add(time.Second)

	tEarlier, err := DecodePageToken(EncodePageToken(earlier))
	if err != nil {
		t.Fatalf("decode earlier: %v", err)
	}
	tLater, err := DecodePageToken(EncodePageToken(later))
	if err != nil {
		t.Fatalf("decode later: %v", err)
	}
	if !tEarlier.Before(tLater) {
		t.Fatalf("expected decoded earlier < later, got %v vs %v", tEarlier, tLater)
	}
}
