package queue

import "time"

// Message is an in-flight wrapped message. WrappedContent is opaque to the
// queue and meaningful only to the codec that produced it.
type Message struct {
	ID             string     `json:"id"`
	SenderID       string     `json:"sender_id"`
	RecipientID    string     `json:"recipient_id"`
	WrappedContent string     `json:"wrapped_content"`
	CreatedAt      time.Time  `json:"created_at"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
}

// Pending reports whether the message has not yet been fetched by its
// recipient.
func (m Message) Pending() bool { return m.DeliveredAt == nil }
