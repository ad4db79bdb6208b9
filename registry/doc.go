// Package registry manages encryption keys per user: creation, visibility,
// and resolution of a public key identifier back to its owner.
//
// Each user holds at most one personal key, the distinguished key used for
// public discovery and contact linking. Regenerating the personal key
// atomically replaces the previous one; an observer never sees zero or two
// personal keys for the same owner. Auxiliary named keys may exist alongside
// the personal key.
//
// Visibility is governed by two flags: IsPublic makes the key resolvable by
// its identifier, and ShareIdentity additionally reveals the owner's display
// name to the resolver. ShareIdentity without IsPublic is rejected, not
// merely discouraged.
package registry
