package grpcapi

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"gatekeep.org/internal/admin"
	"gatekeep.org/internal/auth"
	"gatekeep.org/internal/oauth"
	"gatekeep.org/internal/token"
)

const internalMessage = "internal error"

type errorClass struct {
	code codes.Code
	errs []error
	// detail keeps the wrapped validation message instead of the bare sentinel.
	detail bool
}

var errorClasses = []errorClass{
	{code: codes.Unauthenticated, errs: []error{
		auth.ErrUserNotSuperuser, auth.ErrUserDisabled, auth.ErrUserPasswordInvalid,
	}},
	{code: codes.NotFound, errs: []error{
		auth.ErrUserNotFound, auth.ErrUserHistoryPageNotFound, auth.ErrUserListPageNotFound,
		admin.ErrPolicyNotFound, admin.ErrPolicyListPageNotFound,
		oauth.ErrProviderAccountNotAttached,
	}},
	{code: codes.AlreadyExists, errs: []error{
		auth.ErrUserEmailCollision, admin.ErrPolicyAlreadyExists, oauth.ErrProviderAccountCollision,
	}},
	{code: codes.InvalidArgument, errs: []error{
		auth.ErrUserEmailUpdateSame, auth.ErrUserPasswordUpdateSame,
	}},
	{code: codes.InvalidArgument, detail: true, errs: []error{
		auth.ErrInvalidInput, admin.ErrPolicyBadFormatted,
	}},
	{code: codes.PermissionDenied, errs: []error{oauth.ErrStateTokenCollision}},
	{code: codes.Internal, errs: []error{
		oauth.ErrStateTokenIncorrect, oauth.ErrProviderResponse, oauth.ErrUnknownProvider,
	}},
}

// toStatus maps a service error to the status the caller sees. known is false
// when the error fell through to the generic internal error and should be
// logged in full.
func toStatus(err error) (st *status.Status, known bool) {
	if err == nil {
		return nil, true
	}
	if s, ok := status.FromError(err); ok {
		return s, true
	}
	if sentinel := token.Sentinel(err); sentinel != nil {
		return status.New(codes.Unauthenticated, sentinel.Error()), true
	}
	for _, class := range errorClasses {
		for _, target := range class.errs {
			if !errors.Is(err, target) {
				continue
			}
			msg := target.Error()
			if class.detail {
				msg = err.Error()
			}
			return status.New(class.code, msg), true
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err), true
	}
	return status.New(codes.Internal, internalMessage), false
}
