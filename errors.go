package daq

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes failures by the action a caller should take, not by
// concrete Go type.
type ErrorKind string

const (
	// KindInvalidState means the requested operation is not allowed in the
	// engine's or device's current state.
	KindInvalidState ErrorKind = "invalid_state"
	// KindNotFound means a device id, parameter name, preset id, or plan
	// type does not exist.
	KindNotFound ErrorKind = "not_found"
	// KindInvalidArgument means a malformed id, out-of-range value, or
	// unknown plan type was supplied.
	KindInvalidArgument ErrorKind = "invalid_argument"
	// KindPreconditionFailed means an interlock blocked the operation
	// (trigger before arm, emission while shutter open).
	KindPreconditionFailed ErrorKind = "precondition_failed"
	// KindDeviceFailure means a device returned an I/O error during a
	// command; the run aborts.
	KindDeviceFailure ErrorKind = "device_failure"
	// KindPoolExhausted means the buffer pool could not satisfy a lease;
	// this drops a frame without affecting the run.
	KindPoolExhausted ErrorKind = "pool_exhausted"
	// KindDataLoss means a preset's stored hash did not match its content.
	KindDataLoss ErrorKind = "data_loss"
	// KindCancelled means an abort or halt ended the run.
	KindCancelled ErrorKind = "cancelled"
	// KindLagged means a broadcast subscriber fell behind; it is logged,
	// never terminal.
	KindLagged ErrorKind = "lagged"
)

// Error is a structured error carrying the operation that failed, the
// run/device it concerns, and a classification kind.
type Error struct {
	Op     string
	RunUID string
	Device string
	Kind   ErrorKind
	Msg    string
	Inner  error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Device != "" {
		parts = append(parts, fmt.Sprintf("device=%s", e.Device))
	}
	if e.RunUID != "" {
		parts = append(parts, fmt.Sprintf("run=%s", e.RunUID))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("daq: %s", msg)
	}
	return fmt.Sprintf("daq: %s (%s)", msg, parts[0])
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Kind == te.Kind
	}
	return false
}

// NewError creates a structured error with no device or run context.
func NewError(op string, kind ErrorKind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// NewDeviceError creates a structured error scoped to a device.
func NewDeviceError(op, device string, kind ErrorKind, msg string) *Error {
	return &Error{Op: op, Device: device, Kind: kind, Msg: msg}
}

// NewRunError creates a structured error scoped to a run.
func NewRunError(op, runUID string, kind ErrorKind, msg string) *Error {
	return &Error{Op: op, RunUID: runUID, Kind: kind, Msg: msg}
}

// WrapError wraps an existing error with an operation name, preserving any
// existing classification.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if de, ok := inner.(*Error); ok {
		return &Error{
			Op:     op,
			RunUID: de.RunUID,
			Device: de.Device,
			Kind:   de.Kind,
			Msg:    de.Msg,
			Inner:  de.Inner,
		}
	}
	return &Error{Op: op, Kind: KindDeviceFailure, Msg: inner.Error(), Inner: inner}
}

// IsKind reports whether err is a structured Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
