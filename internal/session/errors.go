package session

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotConnected = errors.New("session not connected")
	ErrCreation     = errors.New("session creation failed")
	ErrSend         = errors.New("message send failed")
	ErrRateLimited  = errors.New("send rate exceeded")
	ErrReset        = errors.New("session reset failed")
)

func wrapKind(kind error, code string, userID string, cause error) error {
	err := kind
	if cause != nil {
		err = fmt.Errorf("%w: %w", kind, cause)
	}
	return oops.
		In("session").
		Code(code).
		With("user_id", userID).
		Wrap(err)
}
