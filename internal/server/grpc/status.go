package grpc

import (
	"errors"

	"github.com/dmitrijs2005/counselkeeper/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps service errors to gRPC codes. Messages are the bare
// sentinel text so no internal detail leaks to the client.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrorPermissionDenied):
		return status.Error(codes.PermissionDenied, common.ErrorPermissionDenied.Error())
	case errors.Is(err, common.ErrorNotAssigned):
		return status.Error(codes.FailedPrecondition, common.ErrorNotAssigned.Error())
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, common.ErrorNotFound.Error())
	case errors.Is(err, common.ErrorInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrorDataIntegrity):
		return status.Error(codes.DataLoss, common.ErrorDataIntegrity.Error())
	case errors.Is(err, common.ErrorUnauthorized):
		return status.Error(codes.Unauthenticated, common.ErrorUnauthorized.Error())
	case errors.Is(err, common.ErrorRateLimited):
		return status.Error(codes.ResourceExhausted, common.ErrorRateLimited.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
