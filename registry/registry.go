package registry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/telepath-im/telepath/apperr"
	"github.com/telepath-im/telepath/keycodec"
)

// DefaultStoreTimeout bounds every storage call so no operation can hang
// indefinitely on a stuck backend.
const DefaultStoreTimeout = 5 * time.Second

// errKeyUnknown is returned both for absent values and for values whose key
// is not public, so the two cases share one error shape.
var errKeyUnknown = apperr.NotFound("unknown key")

// Registry is the key registry service.
type Registry struct {
	store   Store
	dir     Directory
	timeout time.Duration
}

// New creates a Registry over the given store and user directory. A
// non-positive timeout falls back to DefaultStoreTimeout.
func New(store Store, dir Directory, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &Registry{store: store, dir: dir, timeout: timeout}
}

func (r *Registry) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func validateVisibility(vis Visibility) error {
	if vis.ShareIdentity && !vis.IsPublic {
		return apperr.Conflict("share_identity requires is_public")
	}
	return nil
}

// CreatePersonalKey generates fresh key material and registers it as the
// owner's personal key, atomically replacing any previous one.
func (r *Registry) CreatePersonalKey(ctx context.Context, ownerID string, vis Visibility) (*Key, error) {
	if ownerID == "" {
		return nil, apperr.Validation("owner id is required")
	}
	if err := validateVisibility(vis); err != nil {
		return nil, err
	}

	material, err := keycodec.GenerateMaterial()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "key generation failed", err)
	}

	key := Key{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		Value:         keycodec.FormatPublicID(material),
		CreatedAt:     time.Now().UTC(),
		Personal:      true,
		IsPublic:      vis.IsPublic,
		ShareIdentity: vis.ShareIdentity,
	}

	cctx, cancel := r.bound(ctx)
	defer cancel()
	if err := apperr.FromStorage(r.store.ReplacePersonalKey(cctx, key)); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "CreatePersonalKey",
		"owner_id":  ownerID,
		"key_id":    key.ID,
		"is_public": key.IsPublic,
	}).Info("Personal key registered")

	return &key, nil
}

// CreateKey registers an auxiliary named key alongside the personal one.
func (r *Registry) CreateKey(ctx context.Context, ownerID, label string, vis Visibility) (*Key, error) {
	if ownerID == "" {
		return nil, apperr.Validation("owner id is required")
	}
	if err := validateVisibility(vis); err != nil {
		return nil, err
	}

	material, err := keycodec.GenerateMaterial()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "key generation failed", err)
	}

	key := Key{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		Value:         keycodec.FormatPublicID(material),
		Label:         label,
		CreatedAt:     time.Now().UTC(),
		IsPublic:      vis.IsPublic,
		ShareIdentity: vis.ShareIdentity,
	}

	cctx, cancel := r.bound(ctx)
	defer cancel()
	if err := apperr.FromStorage(r.store.InsertKey(cctx, key)); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "CreateKey",
		"owner_id": ownerID,
		"key_id":   key.ID,
		"label":    label,
	}).Info("Auxiliary key registered")

	return &key, nil
}

// UpdateVisibility mutates a key's discoverability flags. Setting
// ShareIdentity while the key stays private is a state conflict.
func (r *Registry) UpdateVisibility(ctx context.Context, keyID string, isPublic, shareIdentity bool) error {
	if keyID == "" {
		return apperr.Validation("key id is required")
	}
	if err := validateVisibility(Visibility{IsPublic: isPublic, ShareIdentity: shareIdentity}); err != nil {
		return err
	}

	cctx, cancel := r.bound(ctx)
	defer cancel()
	if err := apperr.FromStorage(r.store.UpdateKeyVisibility(cctx, keyID, isPublic, shareIdentity)); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":       "UpdateVisibility",
		"key_id":         keyID,
		"is_public":      isPublic,
		"share_identity": shareIdentity,
	}).Info("Key visibility updated")

	return nil
}

// ResolvePublic maps a public key identifier to its owner. Malformed input
// is rejected before any storage round-trip. A private key resolves exactly
// like an absent one.
func (r *Registry) ResolvePublic(ctx context.Context, value string) (Resolution, error) {
	if !keycodec.ValidateFormat(value) {
		return Resolution{}, apperr.Validation("malformed key identifier")
	}

	cctx, cancel := r.bound(ctx)
	defer cancel()

	key, err := r.store.FindKeyByValue(cctx, value)
	if err != nil {
		if apperr.IsNotFound(err) {
			return Resolution{}, errKeyUnknown
		}
		return Resolution{}, apperr.FromStorage(err)
	}
	if !key.IsPublic {
		return Resolution{}, errKeyUnknown
	}

	res := Resolution{OwnerID: key.OwnerID}
	if key.ShareIdentity {
		entry, err := r.dir.LookupUser(cctx, key.OwnerID)
		if err != nil {
			return Resolution{}, apperr.FromStorage(err)
		}
		res.IdentityShared = true
		res.DisplayName = entry.DisplayName
		if res.DisplayName == "" {
			res.DisplayName = entry.Username
		}
	}
	return res, nil
}

// PersonalKey returns the owner's current personal key. The delivery
// protocol uses this to resolve a recipient's encryption context.
func (r *Registry) PersonalKey(ctx context.Context, ownerID string) (*Key, error) {
	if ownerID == "" {
		return nil, apperr.Validation("owner id is required")
	}

	cctx, cancel := r.bound(ctx)
	defer cancel()

	key, err := r.store.PersonalKey(cctx, ownerID)
	if err != nil {
		return nil, apperr.FromStorage(err)
	}
	return &key, nil
}

// ListOwnerKeys returns all of the owner's keys, newest first.
func (r *Registry) ListOwnerKeys(ctx context.Context, ownerID string) ([]Key, error) {
	if ownerID == "" {
		return nil, apperr.Validation("owner id is required")
	}

	cctx, cancel := r.bound(ctx)
	defer cancel()

	keys, err := r.store.ListOwnerKeys(cctx, ownerID)
	if err != nil {
		return nil, apperr.FromStorage(err)
	}
	return keys, nil
}

// DeleteKey removes a key permanently.
func (r *Registry) DeleteKey(ctx context.Context, keyID string) error {
	if keyID == "" {
		return apperr.Validation("key id is required")
	}

	cctx, cancel := r.bound(ctx)
	defer cancel()

	if err := apperr.FromStorage(r.store.DeleteKey(cctx, keyID)); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "DeleteKey",
		"key_id":   keyID,
	}).Info("Key deleted")

	return nil
}
