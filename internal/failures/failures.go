// Package failures classifies pipeline errors so callers can decide whether to
// retry, skip, or abort.
package failures

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type Kind string

const (
	// KindTransient covers timeouts, 5xx and connection resets; retried with bounded attempts.
	KindTransient Kind = "transient"
	// KindContent is a malformed response or row; never retried.
	KindContent Kind = "content"
	// KindStructural is a bad work item (missing identity, malformed reference).
	KindStructural Kind = "structural"
	// KindDuplicate means the write already happened; safe to skip.
	KindDuplicate Kind = "duplicate"
	// KindConfiguration is fatal at startup.
	KindConfiguration Kind = "configuration"
	// KindDataUnavailable means the manifest or ledger could not be read.
	KindDataUnavailable Kind = "data_unavailable"
	KindInternal        Kind = "internal"
)

var (
	ErrDuplicateAnalysis = New(KindDuplicate, "store.upsert_analysis", errors.New("analysis already recorded for transcript"))
	ErrDataUnavailable   = New(KindDataUnavailable, "", errors.New("data unavailable"))
)

// Error wraps a cause with its classification and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrDuplicateAnalysis)
// holds for every duplicate.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func Transient(op string, err error) error       { return New(KindTransient, op, err) }
func Content(op string, err error) error         { return New(KindContent, op, err) }
func Structural(op string, err error) error      { return New(KindStructural, op, err) }
func Configuration(op string, err error) error   { return New(KindConfiguration, op, err) }
func DataUnavailable(op string, err error) error { return New(KindDataUnavailable, op, err) }

func Contentf(op, format string, args ...any) error {
	return New(KindContent, op, fmt.Errorf(format, args...))
}

// KindOf reports the classification of err. Unclassified timeouts and network
// errors count as transient; anything else is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindInternal
}

func IsTransient(err error) bool { return KindOf(err) == KindTransient }

func IsDuplicate(err error) bool { return KindOf(err) == KindDuplicate }

// HTTPStatus maps a provider status code to a kind: 408, 429 and 5xx are
// transient, 401/403 are configuration problems, other 4xx are content errors.
func HTTPStatus(status int) Kind {
	switch {
	case status == 408 || status == 429 || status >= 500:
		return KindTransient
	case status == 401 || status == 403:
		return KindConfiguration
	default:
		return KindContent
	}
}
