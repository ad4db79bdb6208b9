package apperr

import (
	"context"
	"errors"
)

// FromStorage normalizes an error surfaced by a storage backend. Deadline
// overruns become the Timeout kind so callers can apply backoff; everything
// else passes through unchanged.
func FromStorage(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimeout, "storage deadline exceeded", err)
	}
	return err
}
