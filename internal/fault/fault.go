// Package fault defines the error kinds shared by the tunnel, verifier,
// orchestrator and poller layers.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how callers are expected to react to it.
type Kind string

const (
	// KindNotFound: an executable or configuration file is absent. Never retried.
	KindNotFound Kind = "not_found"

	// KindTimeout: interface address or reachability not achieved within the window.
	KindTimeout Kind = "timeout"

	// KindProcessFailure: the tunnel process reported authentication, TLS or permission errors.
	KindProcessFailure Kind = "process_failure"

	// KindTransientNetwork: a single probe or register read failed.
	KindTransientNetwork Kind = "transient_network"

	// KindConflict: a long-running task is already active.
	KindConflict Kind = "conflict"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrProcessFailure   = &Error{Kind: KindProcessFailure}
	ErrTransientNetwork = &Error{Kind: KindTransientNetwork}
	ErrConflict         = &Error{Kind: KindConflict}
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "tunnel.start"
	Msg  string
	Err  error
}

// New creates a classified error with a message.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match when target is an *Error of the same kind.
// Sentinels carry only a kind, so errors.Is(err, ErrTimeout) matches any timeout.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// KindOf returns the kind of the first classified error in err's chain,
// or "" when err is unclassified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
