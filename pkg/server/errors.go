package server

import (
	"context"
	"errors"

	"github.com/vctt94/andarbahar/pkg/engine"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errorCodes = map[string]codes.Code{
	"invalid_input":         codes.InvalidArgument,
	"invalid_phase":         codes.FailedPrecondition,
	"sequence_violation":    codes.FailedPrecondition,
	"insufficient_funds":    codes.FailedPrecondition,
	"not_found":             codes.NotFound,
	"concurrency_exhausted": codes.Aborted,
}

// toStatus converts an engine error into a gRPC status error. Status errors
// pass through unchanged.
func (s *Server) toStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	code, ok := errorCodes[engine.ErrorCode(err)]
	if !ok {
		s.log.Errorf("%s: %v", op, err)
		return status.Error(codes.Internal, err.Error())
	}
	if code == codes.Aborted {
		s.log.Errorf("%s: %v", op, err)
	} else {
		s.log.Debugf("%s: %v", op, err)
	}
	return status.Error(code, err.Error())
}
