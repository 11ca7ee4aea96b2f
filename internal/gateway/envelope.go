package gateway

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

// IdempotencyKeyHeader carries the envelope's key on unsafe methods. Both
// attempts of a retried envelope send the same key.
const IdempotencyKeyHeader = "Idempotency-Key"

// Request describes one backend call. Body, when non-nil, is sent as JSON.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   any
}

// envelope wraps a Request with its retry count. It is a value: retrying
// yields a new envelope and never mutates the caller's copy.
type envelope struct {
	req     Request
	retries int
	key     string
}

// newEnvelope returns a fresh envelope that has not been retried. Envelopes
// for unsafe methods get a new idempotency key.
func newEnvelope(req Request) envelope {
	env := envelope{req: req}
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
	default:
		env.key = uuid.NewString()
	}
	return env
}

// IdempotencyKey is empty for safe methods.
func (e envelope) IdempotencyKey() string { return e.key }

func (e envelope) Request() Request { return e.req }

// Retried reports whether the envelope already used its one retry.
func (e envelope) Retried() bool { return e.retries > 0 }

func (e envelope) retry() envelope {
	e.retries++
	return e
}

// Response is a received backend response with the body fully read.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}
