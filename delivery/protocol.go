package delivery

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/telepath-im/telepath/apperr"
	"github.com/telepath-im/telepath/keycodec"
	"github.com/telepath-im/telepath/metrics"
	"github.com/telepath-im/telepath/queue"
	"github.com/telepath-im/telepath/registry"
)

// Delivery is one received message. Exactly one of Plaintext or DecodeErr is
// meaningful: a message whose unwrap failed is surfaced with its error so the
// client can show a tamper notice instead of losing the event silently.
type Delivery struct {
	MessageID string
	From      string
	Plaintext string
	DecodeErr error
	Timestamp time.Time
}

// Protocol drives send, receive, acknowledge, and conversation deletion.
type Protocol struct {
	registry *registry.Registry
	queue    *queue.Queue
}

// New creates a Protocol over the given registry and queue.
func New(reg *registry.Registry, q *queue.Queue) *Protocol {
	return &Protocol{registry: reg, queue: q}
}

// Send wraps plaintext under the recipient's personal key and enqueues it.
// On any failure the conversation stays Idle and the error is surfaced
// unmodified; there is no partial enqueue.
func (p *Protocol) Send(ctx context.Context, from, to, plaintext string) (*queue.Message, error) {
	if !queue.ValidUserID(from) {
		return nil, apperr.Validation("invalid sender id")
	}
	if !queue.ValidUserID(to) {
		return nil, apperr.Validation("invalid recipient id")
	}

	key, err := p.registry.PersonalKey(ctx, to)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.NotFound("recipient has no personal key")
		}
		return nil, err
	}

	wrapped, err := keycodec.Wrap([]byte(plaintext), key.Value)
	if err != nil {
		return nil, err
	}

	msg, err := p.queue.Enqueue(ctx, from, to, wrapped)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Send",
		"message_id": msg.ID,
		"state":      StateSent.String(),
	}).Debug("Message sent")

	return msg, nil
}

// Receive drains the recipient's pending messages and unwraps each under
// the recipient's personal key. A message that fails to unwrap is still
// marked delivered (it left the pending set either way) but carries its
// decode error in the result.
//
// When the recipient has no personal key at all, Receive fails with
// NotFound before draining, so the pending set is not consumed by a caller
// who could not have read any of it.
func (p *Protocol) Receive(ctx context.Context, recipientID string) ([]Delivery, error) {
	if !queue.ValidUserID(recipientID) {
		return nil, apperr.Validation("invalid recipient id")
	}

	key, err := p.registry.PersonalKey(ctx, recipientID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.NotFound("recipient has no personal key")
		}
		return nil, err
	}

	msgs, err := p.queue.DrainPending(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	deliveries := make([]Delivery, 0, len(msgs))
	for _, msg := range msgs {
		d := Delivery{
			MessageID: msg.ID,
			From:      msg.SenderID,
			Timestamp: msg.CreatedAt,
		}
		plaintext, uerr := keycodec.Unwrap(msg.WrappedContent, key.Value)
		if uerr != nil {
			d.DecodeErr = uerr
			metrics.DecodeFailures.Inc()
			logrus.WithFields(logrus.Fields{
				"function":   "Receive",
				"message_id": msg.ID,
			}).Warn("Delivered message failed to unwrap")
		} else {
			d.Plaintext = string(plaintext)
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, nil
}

// Read acknowledges a delivered message, erasing it permanently. The
// terminal transition to Purged; acknowledging an already-gone message
// surfaces NotFound, which callers may ignore.
func (p *Protocol) Read(ctx context.Context, messageID string) error {
	return p.queue.AcknowledgeRead(ctx, messageID)
}

// DeleteConversation erases every message between the two users in either
// direction and returns the count removed. Terminal for the whole pair.
func (p *Protocol) DeleteConversation(ctx context.Context, userA, userB string) (int, error) {
	return p.queue.DeleteConversation(ctx, userA, userB)
}
