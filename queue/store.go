package queue

import (
	"context"
	"time"
)

// Store is the persistence contract for in-flight messages.
//
// DrainPending must be a single atomic unit: it selects the recipient's
// pending messages in FIFO order and marks them delivered before returning,
// so two concurrent drains for the same recipient partition the pending set
// disjointly with no duplicate delivery and no loss.
type Store interface {
	InsertMessage(ctx context.Context, msg Message) error

	// DrainPending returns the recipient's pending messages ascending by
	// CreatedAt, marking each delivered at the given instant.
	DrainPending(ctx context.Context, recipientID string, deliveredAt time.Time) ([]Message, error)

	// DeleteMessage hard-deletes one message; NotFound when already gone.
	DeleteMessage(ctx context.Context, messageID string) error

	// DeleteConversation removes every message between the two users in
	// either direction, regardless of delivery state, returning the count.
	DeleteConversation(ctx context.Context, userA, userB string) (int, error)

	// SweepDelivered removes delivered-but-unacknowledged messages marked
	// delivered before the cutoff, returning the count reclaimed.
	SweepDelivered(ctx context.Context, cutoff time.Time) (int, error)
}
