// Package delivery orchestrates the key codec and the message queue into
// one coherent send/receive/acknowledge state machine.
//
// From a single user's viewpoint a conversation moves through
// Idle -> Sending -> Sent on the outbound side and
// Idle -> Receiving -> Delivered -> (Read | Purged) on the inbound side.
// "Delivered" (fetched from the queue) and "Read" (explicitly acknowledged,
// which erases the message) are deliberately distinct states.
//
// A real-time push layer is an external collaborator: it reacts to recipient
// activity by calling Receive, driving the same queue contract as a polling
// client, so polling and push consumers share one set of delivery semantics.
package delivery
