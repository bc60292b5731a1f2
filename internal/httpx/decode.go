package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
)

// MaxRequestBodySize bounds JSON request bodies. Encoded flight searches are a few
// hundred bytes; 64KB leaves ample room.
const MaxRequestBodySize = 64 << 10

// ErrUnsupportedMediaType is returned when a request declares a non-JSON body.
var ErrUnsupportedMediaType = errors.New("content type must be application/json")

// DecodeJSON decodes exactly one JSON value of type T from the request body.
// Unknown fields are rejected. A missing Content-Type is accepted.
func DecodeJSON[T any](r *http.Request) (T, error) {
	var zero T

	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return zero, ErrUnsupportedMediaType
		}
	}

	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)
	defer func() {
		_ = r.Body.Close()
	}()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var v T
	if err := dec.Decode(&v); err != nil {
		return zero, describeDecodeError(err)
	}

	if dec.More() {
		return zero, errors.New("request body contains multiple JSON values")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return zero, errors.New("request body contains trailing data")
	}

	return v, nil
}

func describeDecodeError(err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var maxBytesErr *http.MaxBytesError

	switch {
	case errors.As(err, &syntaxErr):
		return fmt.Errorf("malformed JSON at position %d", syntaxErr.Offset)
	case errors.Is(err, io.ErrUnexpectedEOF):
		return errors.New("malformed JSON: unexpected end of body")
	case errors.As(err, &typeErr):
		return fmt.Errorf("invalid value for field %q", typeErr.Field)
	case errors.As(err, &maxBytesErr):
		return fmt.Errorf("request body too large (max %d bytes)", MaxRequestBodySize)
	case errors.Is(err, io.EOF):
		return errors.New("request body is empty")
	default:
		return fmt.Errorf("failed to decode JSON: %w", err)
	}
}
