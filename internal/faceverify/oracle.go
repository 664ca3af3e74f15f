package faceverify

import "context"

// Oracle decides whether a live capture shows the same person as a stored
// reference photo. An error means the decision could not be made at all;
// callers must treat that as a failed attempt, never as a pass.
type Oracle interface {
	Verify(ctx context.Context, reference, live Image) (Outcome, error)
}
