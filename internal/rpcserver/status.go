package rpcserver

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	daq "github.com/easternanemone/rust-daq-sub004"
)

// toStatus maps a daq.ErrorKind to a grpc status code, the way an errno
// gets mapped to a protocol-level error code at any RPC boundary. An
// error that is already a grpc status (e.g. one propagated from a
// stream Send/Recv failure) passes through unchanged.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	de, ok := err.(*daq.Error)
	if !ok {
		return status.Error(codes.Unknown, err.Error())
	}
	return status.Error(kindToCode(de.Kind), de.Error())
}

// errKind returns the daq.ErrorKind carried by err as a label value, or
// "unknown" for an error that isn't a *daq.Error (including nil).
func errKind(err error) string {
	de, ok := err.(*daq.Error)
	if !ok {
		return "unknown"
	}
	return string(de.Kind)
}

func kindToCode(kind daq.ErrorKind) codes.Code {
	switch kind {
	case daq.KindInvalidState:
		return codes.FailedPrecondition
	case daq.KindNotFound:
		return codes.NotFound
	case daq.KindInvalidArgument:
		return codes.InvalidArgument
	case daq.KindPreconditionFailed:
		return codes.FailedPrecondition
	case daq.KindDeviceFailure:
		return codes.Unavailable
	case daq.KindPoolExhausted:
		return codes.ResourceExhausted
	case daq.KindDataLoss:
		return codes.DataLoss
	case daq.KindCancelled:
		return codes.Canceled
	case daq.KindLagged:
		return codes.ResourceExhausted
	default:
		return codes.Unknown
	}
}
