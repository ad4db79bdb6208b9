package contact

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/telepath-im/telepath/apperr"
	"github.com/telepath-im/telepath/queue"
	"github.com/telepath-im/telepath/registry"
)

// DefaultStoreTimeout bounds every storage call.
const DefaultStoreTimeout = 5 * time.Second

// Linker is the contact linking service.
type Linker struct {
	store   Store
	dir     registry.Directory
	timeout time.Duration
}

// New creates a Linker over the given store and user directory.
func New(store Store, dir registry.Directory, timeout time.Duration) *Linker {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &Linker{store: store, dir: dir, timeout: timeout}
}

func (l *Linker) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.timeout)
}

// LinkByResolvedKey records the owner of a resolved public key as a contact
// of the requesting user. The display name prefers the shared identity and
// falls back to the identifier itself.
func (l *Linker) LinkByResolvedKey(ctx context.Context, ownerID string, res registry.Resolution) (*Contact, error) {
	if !queue.ValidUserID(ownerID) {
		return nil, apperr.Validation("invalid owner id")
	}
	if res.OwnerID == "" {
		return nil, apperr.Validation("resolution has no owner")
	}

	display := res.DisplayName
	if display == "" {
		display = res.OwnerID
	}
	return l.upsert(ctx, ownerID, res.OwnerID, display)
}

// LinkByIdentifier records a contact from a manually entered identifier.
// The identifier must correspond to a known user.
func (l *Linker) LinkByIdentifier(ctx context.Context, ownerID, identifier, displayName string) (*Contact, error) {
	if !queue.ValidUserID(ownerID) {
		return nil, apperr.Validation("invalid owner id")
	}
	if !queue.ValidUserID(identifier) {
		return nil, apperr.Validation("invalid contact identifier")
	}

	cctx, cancel := l.bound(ctx)
	defer cancel()
	entry, err := l.dir.LookupUser(cctx, identifier)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.NotFound("unknown user")
		}
		return nil, apperr.FromStorage(err)
	}

	if displayName == "" {
		displayName = entry.DisplayName
	}
	if displayName == "" {
		displayName = identifier
	}
	return l.upsert(ctx, ownerID, identifier, displayName)
}

func (l *Linker) upsert(ctx context.Context, ownerID, identifier, displayName string) (*Contact, error) {
	c := Contact{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Identifier:  identifier,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}

	cctx, cancel := l.bound(ctx)
	defer cancel()
	stored, err := l.store.UpsertContact(cctx, c)
	if err != nil {
		return nil, apperr.FromStorage(err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "upsert",
		"owner_id": ownerID,
	}).Debug("Contact linked")

	return &stored, nil
}

// ListContacts returns the owner's contacts.
func (l *Linker) ListContacts(ctx context.Context, ownerID string) ([]Contact, error) {
	if !queue.ValidUserID(ownerID) {
		return nil, apperr.Validation("invalid owner id")
	}

	cctx, cancel := l.bound(ctx)
	defer cancel()

	contacts, err := l.store.ListContacts(cctx, ownerID)
	if err != nil {
		return nil, apperr.FromStorage(err)
	}
	return contacts, nil
}

// RemoveContact deletes a contact relationship. Past messages are untouched;
// conversation deletion is a separate operation on the queue.
func (l *Linker) RemoveContact(ctx context.Context, ownerID, identifier string) error {
	if !queue.ValidUserID(ownerID) || !queue.ValidUserID(identifier) {
		return apperr.Validation("invalid user id")
	}

	cctx, cancel := l.bound(ctx)
	defer cancel()
	return apperr.FromStorage(l.store.DeleteContact(cctx, ownerID, identifier))
}
