package stairway

import (
	"errors"
	"testing"
)

func TestJSONCodec_RoundTrip(t *testing.T) {
	c := JSONCodec{}
	s, err := c.Encode(map[string]int{"a": 1})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var out map[string]int
	if err := c.Decode(s, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out["a"] != 1 {
		t.Fatalf("expected a=1, got %v", out)
	}
}

func TestJSONExceptionCodec_RoundTripPlainError(t *testing.T) {
	c := JSONExceptionCodec{}
	s, err := c.EncodeError(errors.New("boom"))
	if err != nil {
		t.Fatalf("EncodeError: %v", err)
	}
	got, err := c.DecodeError(s)
	if err != nil {
		t.Fatalf("DecodeError: %v", err)
	}
	if got.Error() != "boom" {
		t.Fatalf("expected message boom, got %q", got.Error())
	}
}

func TestJSONExceptionCodec_RoundTripFlightError(t *testing.T) {
	c := JSONExceptionCodec{}
	s, err := c.EncodeError(&FlightError{Message: "bad input", Code: "INVALID"})
	if err != nil {
		t.Fatalf("EncodeError: %v", err)
	}
	got, err := c.DecodeError(s)
	if err != nil {
		t.Fatalf("DecodeError: %v", err)
	}
	fe, ok := got.(*FlightError)
	if !ok {
		t.Fatalf("expected *FlightError, got %T", got)
	}
	if fe.Code != "INVALID" || fe.Message != "bad input" {
		t.Fatalf("unexpected FlightError: %+v", fe)
	}
}

func TestJSONExceptionCodec_NilErrorEncodesEmpty(t *testing.T) {
	c := JSONExceptionCodec{}
	s, err := c.EncodeError(nil)
	if err != nil {
		t.Fatalf("EncodeError: %v", err)
	}
	if s != "" {
		t.Fatalf("expected empty string for nil error, got %q", s)
	}
}

func TestJSONExceptionCodec_EmptyStringDecodesNil(t *testing.T) {
	c := JSONExceptionCodec{}
	got, err := c.DecodeError("")
	if err != nil {
		t.Fatalf("DecodeError: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil error, got %v", got)
	}
}
