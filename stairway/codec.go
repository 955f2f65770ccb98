package stairway

import "encoding/json"

// ObjectCodec serializes and deserializes arbitrary Go values to and
// from the string encoding stored in a flight's parameter maps
// (spec.md §4.3). Implementations must be safe for concurrent use.
type ObjectCodec interface {
	Encode(v any) (string, error)
	Decode(s string, v any) error
}

// JSONCodec is the default ObjectCodec, matching the teacher's
// encoding/json-everywhere approach to parameter and checkpoint
// serialization (graph/store and graph/checkpoint.go both round-trip
// state through encoding/json).
type JSONCodec struct{}

// Encode marshals v to a JSON string.
func (JSONCodec) Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode unmarshals s into v.
func (JSONCodec) Decode(s string, v any) error {
	return json.Unmarshal([]byte(s), v)
}

// ExceptionCodec serializes a terminal flight error for storage in the
// flight row's serialized_exception column and deserializes it back
// for surfacing to callers. Pluggable per spec.md §1/§6.
type ExceptionCodec interface {
	EncodeError(err error) (string, error)
	DecodeError(s string) (error, error)
}

// JSONExceptionCodec stores {"message": "...", "code": "..."} and
// reconstructs a *FlightError from it. It is the default
// ExceptionCodec and loses the original Go type of the cause, which is
// the expected tradeoff of crossing a durable-storage boundary — the
// same tradeoff the teacher accepts when serializing its own error
// values through json.Marshal for checkpoints.
type JSONExceptionCodec struct{}

type serializedException struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// EncodeError serializes err for durable storage.
func (JSONExceptionCodec) EncodeError(err error) (string, error) {
	if err == nil {
		return "", nil
	}
	se := serializedException{Message: err.Error()}
	if fe, ok := err.(*FlightError); ok {
		se.Code = fe.Code
	}
	b, mErr := json.Marshal(se)
	if mErr != nil {
		return "", mErr
	}
	return string(b), nil
}

// DecodeError reconstructs an error from its serialized form. An empty
// string decodes to a nil error.
func (JSONExceptionCodec) DecodeError(s string) (error, error) {
	if s == "" {
		return nil, nil
	}
	var se serializedException
	if err := json.Unmarshal([]byte(s), &se); err != nil {
		return nil, err
	}
	return &FlightError{Message: se.Message, Code: se.Code}, nil
}
