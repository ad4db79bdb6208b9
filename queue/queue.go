package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/telepath-im/telepath/apperr"
	"github.com/telepath-im/telepath/metrics"
)

// DefaultStoreTimeout bounds every storage call.
const DefaultStoreTimeout = 5 * time.Second

// MaxUserIDLength caps the syntactic length of an opaque user identifier.
const MaxUserIDLength = 128

// Queue is the message queue service.
type Queue struct {
	store   Store
	timeout time.Duration
}

// New creates a Queue over the given store. A non-positive timeout falls
// back to DefaultStoreTimeout.
func New(store Store, timeout time.Duration) *Queue {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &Queue{store: store, timeout: timeout}
}

func (q *Queue) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, q.timeout)
}

// ValidUserID reports whether s is a syntactically acceptable opaque user
// identifier: non-empty, bounded, printable, no whitespace.
func ValidUserID(s string) bool {
	if len(s) == 0 || len(s) > MaxUserIDLength {
		return false
	}
	for _, r := range s {
		if r <= 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

// Enqueue stores a wrapped message for later delivery. The recipient does
// not need to exist or be online; this is the store-and-forward guarantee.
func (q *Queue) Enqueue(ctx context.Context, senderID, recipientID, wrapped string) (*Message, error) {
	if !ValidUserID(senderID) {
		return nil, apperr.Validation("invalid sender id")
	}
	if !ValidUserID(recipientID) {
		return nil, apperr.Validation("invalid recipient id")
	}
	if wrapped == "" {
		return nil, apperr.Validation("empty wrapped content")
	}

	msg := Message{
		ID:             uuid.NewString(),
		SenderID:       senderID,
		RecipientID:    recipientID,
		WrappedContent: wrapped,
		CreatedAt:      time.Now().UTC(),
	}

	cctx, cancel := q.bound(ctx)
	defer cancel()
	if err := apperr.FromStorage(q.store.InsertMessage(cctx, msg)); err != nil {
		return nil, err
	}

	metrics.MessagesEnqueued.Inc()
	logrus.WithFields(logrus.Fields{
		"function":   "Enqueue",
		"message_id": msg.ID,
	}).Debug("Message enqueued")

	return &msg, nil
}

// DrainPending fetches and atomically marks delivered all pending messages
// for the recipient, FIFO by creation time. Concurrent drains for the same
// recipient never hand out the same message twice.
func (q *Queue) DrainPending(ctx context.Context, recipientID string) ([]Message, error) {
	if !ValidUserID(recipientID) {
		return nil, apperr.Validation("invalid recipient id")
	}

	cctx, cancel := q.bound(ctx)
	defer cancel()

	msgs, err := q.store.DrainPending(cctx, recipientID, time.Now().UTC())
	if err != nil {
		return nil, apperr.FromStorage(err)
	}

	if len(msgs) > 0 {
		metrics.MessagesDelivered.Add(float64(len(msgs)))
		logrus.WithFields(logrus.Fields{
			"function": "DrainPending",
			"count":    len(msgs),
		}).Debug("Pending messages drained")
	}
	return msgs, nil
}

// AcknowledgeRead hard-deletes a message after the recipient has read it.
// Acknowledging an already-gone message surfaces NotFound, which callers
// may treat as a no-op.
func (q *Queue) AcknowledgeRead(ctx context.Context, messageID string) error {
	if messageID == "" {
		return apperr.Validation("message id is required")
	}

	cctx, cancel := q.bound(ctx)
	defer cancel()

	if err := apperr.FromStorage(q.store.DeleteMessage(cctx, messageID)); err != nil {
		return err
	}

	metrics.MessagesPurged.Inc()
	return nil
}

// DeleteConversation removes every message between the two users in either
// direction, regardless of delivery state, and returns the count removed.
func (q *Queue) DeleteConversation(ctx context.Context, userA, userB string) (int, error) {
	if !ValidUserID(userA) || !ValidUserID(userB) {
		return 0, apperr.Validation("invalid user id")
	}

	cctx, cancel := q.bound(ctx)
	defer cancel()

	n, err := q.store.DeleteConversation(cctx, userA, userB)
	if err != nil {
		return 0, apperr.FromStorage(err)
	}

	if n > 0 {
		metrics.MessagesPurged.Add(float64(n))
	}
	logrus.WithFields(logrus.Fields{
		"function": "DeleteConversation",
		"deleted":  n,
	}).Info("Conversation deleted")

	return n, nil
}

// SweepDelivered reclaims delivered-but-unacknowledged messages older than
// the given age, covering the crash window between drain and acknowledge.
func (q *Queue) SweepDelivered(ctx context.Context, olderThan time.Duration) (int, error) {
	cctx, cancel := q.bound(ctx)
	defer cancel()

	n, err := q.store.SweepDelivered(cctx, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, apperr.FromStorage(err)
	}

	if n > 0 {
		metrics.MessagesPurged.Add(float64(n))
		logrus.WithFields(logrus.Fields{
			"function": "SweepDelivered",
			"swept":    n,
		}).Info("Stale delivered messages reclaimed")
	}
	return n, nil
}
