// Package httpapi binds the telepath core to HTTP.
//
// The surface mirrors the core's operation set one-to-one; the transport
// treats wrapped payloads as uninterpreted strings and carries no delivery
// bookkeeping of its own. Callers are identified by an opaque user id in
// the X-User-ID header; authentication mechanics beyond that are the
// surrounding application's concern.
package httpapi
