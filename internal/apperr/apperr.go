// Package apperr classifies failures of the session core so that callers can
// branch on the kind of failure with errors.Is.
package apperr

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Kind identifies a class of failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNetwork means no response was received.
	KindNetwork
	// KindValidation means input was rejected locally, before any network call.
	KindValidation
	// KindAuthInvalid means the backend rejected an OTP or a credential.
	KindAuthInvalid
	// KindAuthExpired means the access token expired and refresh failed.
	// The session is over.
	KindAuthExpired
	KindServer
	KindConflict
	// KindRequest covers any other non-2xx response.
	KindRequest
	KindStorage
	// KindInvalidTransition is returned by the session state machine for an
	// event that is not legal in the current phase.
	KindInvalidTransition
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindValidation:
		return "validation"
	case KindAuthInvalid:
		return "auth_invalid"
	case KindAuthExpired:
		return "auth_expired"
	case KindServer:
		return "server"
	case KindConflict:
		return "conflict"
	case KindRequest:
		return "request"
	case KindStorage:
		return "storage"
	case KindInvalidTransition:
		return "invalid_transition"
	default:
		return "unknown"
	}
}

var (
	ErrNetwork           = &Error{Kind: KindNetwork}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrAuthInvalid       = &Error{Kind: KindAuthInvalid}
	ErrAuthExpired       = &Error{Kind: KindAuthExpired}
	ErrServer            = &Error{Kind: KindServer}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrRequest           = &Error{Kind: KindRequest}
	ErrStorage           = &Error{Kind: KindStorage}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
)

// Error is a classified failure. Status is the HTTP status when the failure
// came from a backend response.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status=%d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNetwork) works
// for every network failure regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a classified error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies err under kind.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation is shorthand for a local input error.
func Validation(op, message string) *Error {
	return New(KindValidation, op, message)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return KindUnknown
	}
	return e.Kind
}

// ClassifyStatus maps an HTTP status to a Kind. 2xx maps to KindUnknown.
func ClassifyStatus(status int) Kind {
	switch {
	case status >= 200 && status < 300:
		return KindUnknown
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthInvalid
	case status == http.StatusConflict:
		return KindConflict
	case status >= 500:
		return KindServer
	default:
		return KindRequest
	}
}

// FromStatus builds the classified error for a non-2xx response, extracting a
// message from a JSON {"message"} / {"error"} body or plain text.
func FromStatus(op string, status int, body []byte) *Error {
	return &Error{
		Kind:    ClassifyStatus(status),
		Op:      op,
		Status:  status,
		Message: messageFromBody(body),
	}
}

func messageFromBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	if len(text) > 512 {
		text = text[:512]
	}
	return text
}
