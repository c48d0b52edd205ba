package database

import (
	"context"
	"errors"

	"github.com/koustreak/driftbox/internal/errs"
)

// ContextError maps a context cancellation or deadline to ErrKindTimeout.
// It returns nil for any other error so drivers can fall through to their
// own classification.
func ContextError(err error, msg string) *errs.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	return nil
}
