package contact

import (
	"context"
	"time"
)

// Contact is a durable relationship from an owner to another user.
type Contact struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Identifier  string    `json:"identifier"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the persistence contract for contacts. UpsertContact must honor
// the (OwnerID, Identifier) uniqueness constraint: a second insert for the
// same pair merges into the existing row and returns it.
type Store interface {
	UpsertContact(ctx context.Context, c Contact) (Contact, error)
	ListContacts(ctx context.Context, ownerID string) ([]Contact, error)
	DeleteContact(ctx context.Context, ownerID, identifier string) error
}
