package registry

import "context"

// Store is the persistence contract for keys. Implementations must make
// ReplacePersonalKey a single atomic unit and enforce global uniqueness of
// key values. Absent rows surface as NotFound-kind errors.
type Store interface {
	// ReplacePersonalKey deletes any existing personal key for key.OwnerID
	// and inserts key in one atomic unit.
	ReplacePersonalKey(ctx context.Context, key Key) error

	// InsertKey inserts an auxiliary (non-personal) key.
	InsertKey(ctx context.Context, key Key) error

	GetKey(ctx context.Context, keyID string) (Key, error)
	FindKeyByValue(ctx context.Context, value string) (Key, error)
	PersonalKey(ctx context.Context, ownerID string) (Key, error)

	// ListOwnerKeys returns the owner's keys newest first.
	ListOwnerKeys(ctx context.Context, ownerID string) ([]Key, error)

	UpdateKeyVisibility(ctx context.Context, keyID string, isPublic, shareIdentity bool) error
	DeleteKey(ctx context.Context, keyID string) error
}

// Directory resolves opaque user ids to directory entries. It is backed by
// the surrounding application's user records.
type Directory interface {
	LookupUser(ctx context.Context, userID string) (DirectoryEntry, error)
}
