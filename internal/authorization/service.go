package authorization

import (
	"context"
	"errors"
)

// Service decides whether an admin actor holding role may perform action on
// object.
type Service interface {
	Authorize(ctx context.Context, actorID string, role string, object string, action string) error
}

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)
