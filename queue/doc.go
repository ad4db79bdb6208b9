// Package queue implements store-and-forward queuing of wrapped messages.
//
// A message is held server-side only until the recipient fetches it. The
// queue never inspects message content; payloads are opaque strings produced
// by the keycodec package. Delivery is at-most-once-effective: draining marks
// messages delivered atomically, read acknowledgement hard-deletes them, and
// a periodic sweep reclaims delivered messages that were never acknowledged.
package queue
