// Package contact turns resolved key owners into durable contact
// relationships. Linking is idempotent: adding the same contact twice merges
// into one row under the (owner, identifier) uniqueness constraint, so a
// duplicate concurrent add converges without any distributed lock.
package contact
