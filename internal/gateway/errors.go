package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed request into the handful of cases callers
// actually branch on. Transport-level details stay wrapped inside Error.
type Kind int

const (
	KindNetwork Kind = iota
	KindAuth
	KindNotFound
	KindValidation
	KindConflict
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindServer:
		return "server"
	default:
		return "network"
	}
}

// Error is the uniform failure outcome of a Gateway call.
type Error struct {
	Kind    Kind
	Status  int    // HTTP status, 0 for transport failures
	Message string // server-provided detail when available
	Err     error  // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway: %s (%s)", e.Message, e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("gateway: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("gateway: %s (status %d)", e.Kind, e.Status)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classify maps an HTTP status to an error kind.
func classify(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status >= 400 && status < 500:
		return KindValidation
	default:
		return KindServer
	}
}

func is(err error, kind Kind) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == kind
}

func IsAuth(err error) bool       { return is(err, KindAuth) }
func IsNotFound(err error) bool   { return is(err, KindNotFound) }
func IsValidation(err error) bool { return is(err, KindValidation) }
func IsConflict(err error) bool   { return is(err, KindConflict) }
func IsServer(err error) bool     { return is(err, KindServer) }
func IsNetwork(err error) bool    { return is(err, KindNetwork) }
