// Package storage provides the persistence backends behind the registry,
// queue, and contact services.
//
// Two implementations ship: Memory, a mutex-guarded in-process store suited
// to tests and single-node prototypes, and Pebble, a durable store over a
// cockroachdb/pebble database that survives process restarts, which the
// store-and-forward guarantee requires in production.
//
// Both backends satisfy registry.Store, queue.Store, contact.Store, and
// registry.Directory, and both keep the multi-row units the services rely
// on (personal key replacement, drain-and-mark, contact upsert) atomic.
package storage
