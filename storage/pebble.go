package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/sirupsen/logrus"

	"github.com/telepath-im/telepath/apperr"
	"github.com/telepath-im/telepath/contact"
	"github.com/telepath-im/telepath/queue"
	"github.com/telepath-im/telepath/registry"
)

// Key namespaces. Values are JSON except the index rows, which hold the
// referenced key bytes.
//
//	key:id:<keyID>              -> registry.Key
//	key:val:<value>             -> keyID
//	key:owner:<ownerID>:<keyID> -> keyID
//	key:personal:<ownerID>      -> keyID
//	msg:<recipient>:<ns>-<seq>  -> queue.Message
//	msgidx:<messageID>          -> primary msg key
//	contact:<owner>:<ident>     -> contact.Contact
//	user:<userID>               -> registry.DirectoryEntry
const (
	prefixKeyByID    = "key:id:"
	prefixKeyByValue = "key:val:"
	prefixKeyOwner   = "key:owner:"
	prefixPersonal   = "key:personal:"
	prefixMsg        = "msg:"
	prefixMsgIndex   = "msgidx:"
	prefixContact    = "contact:"
	prefixUser       = "user:"
)

// Pebble is a durable store over a cockroachdb/pebble database. Multi-row
// units commit as one synced batch; read-modify-write units additionally
// serialize on a writer mutex so concurrent drains partition disjointly.
type Pebble struct {
	db *pebble.DB

	// wmu serializes read-modify-write units (drain, personal key replace,
	// contact upsert, conversation delete).
	wmu sync.Mutex

	// seq disambiguates messages created in the same nanosecond.
	seq uint64
}

// OpenPebble opens (or creates) the database at path.
func OpenPebble(path string) (*Pebble, error) {
	logrus.WithFields(logrus.Fields{
		"function": "OpenPebble",
		"path":     path,
	}).Info("Opening pebble store")

	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "pebble open failed", err)
	}
	return &Pebble{db: db}, nil
}

// Close closes the underlying database.
func (p *Pebble) Close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff
}

func (p *Pebble) getJSON(key string, out any) error {
	val, closer, err := p.db.Get([]byte(key))
	if err != nil {
		if err == pebble.ErrNotFound {
			return apperr.NotFound("row not found")
		}
		return apperr.Wrap(apperr.KindUnavailable, "pebble get failed", err)
	}
	defer closer.Close()
	if err := json.Unmarshal(val, out); err != nil {
		return apperr.Wrap(apperr.KindInternal, "corrupt row", err)
	}
	return nil
}

func (p *Pebble) getRef(key string) (string, error) {
	val, closer, err := p.db.Get([]byte(key))
	if err != nil {
		if err == pebble.ErrNotFound {
			return "", apperr.NotFound("row not found")
		}
		return "", apperr.Wrap(apperr.KindUnavailable, "pebble get failed", err)
	}
	defer closer.Close()
	return string(val), nil
}

func setJSON(b *pebble.Batch, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "marshal failed", err)
	}
	return b.Set([]byte(key), data, nil)
}

// --- registry.Store ---

func (p *Pebble) keyRows(key registry.Key) (idRow, valRow, ownerRow string) {
	idRow = prefixKeyByID + key.ID
	valRow = prefixKeyByValue + key.Value
	ownerRow = prefixKeyOwner + key.OwnerID + ":" + key.ID
	return
}

func (p *Pebble) ReplacePersonalKey(ctx context.Context, key registry.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()

	if existingID, err := p.getRef(prefixKeyByValue + key.Value); err == nil && existingID != key.ID {
		return apperr.Conflict("key value already registered")
	} else if err != nil && !apperr.IsNotFound(err) {
		return err
	}

	b := p.db.NewBatch()
	defer b.Close()

	// Drop the previous personal key, if any, in the same batch.
	if oldID, err := p.getRef(prefixPersonal + key.OwnerID); err == nil {
		var old registry.Key
		if gerr := p.getJSON(prefixKeyByID+oldID, &old); gerr == nil {
			idRow, valRow, ownerRow := p.keyRows(old)
			_ = b.Delete([]byte(idRow), nil)
			_ = b.Delete([]byte(valRow), nil)
			_ = b.Delete([]byte(ownerRow), nil)
		}
	} else if !apperr.IsNotFound(err) {
		return err
	}

	idRow, valRow, ownerRow := p.keyRows(key)
	if err := setJSON(b, idRow, key); err != nil {
		return err
	}
	_ = b.Set([]byte(valRow), []byte(key.ID), nil)
	_ = b.Set([]byte(ownerRow), []byte(key.ID), nil)
	_ = b.Set([]byte(prefixPersonal+key.OwnerID), []byte(key.ID), nil)

	if err := b.Commit(pebble.Sync); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "personal key replace failed", err)
	}
	return nil
}

func (p *Pebble) InsertKey(ctx context.Context, key registry.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()

	if _, err := p.getRef(prefixKeyByValue + key.Value); err == nil {
		return apperr.Conflict("key value already registered")
	} else if !apperr.IsNotFound(err) {
		return err
	}

	b := p.db.NewBatch()
	defer b.Close()

	idRow, valRow, ownerRow := p.keyRows(key)
	if err := setJSON(b, idRow, key); err != nil {
		return err
	}
	_ = b.Set([]byte(valRow), []byte(key.ID), nil)
	_ = b.Set([]byte(ownerRow), []byte(key.ID), nil)

	if err := b.Commit(pebble.Sync); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "key insert failed", err)
	}
	return nil
}

func (p *Pebble) GetKey(ctx context.Context, keyID string) (registry.Key, error) {
	if err := ctx.Err(); err != nil {
		return registry.Key{}, err
	}
	var key registry.Key
	if err := p.getJSON(prefixKeyByID+keyID, &key); err != nil {
		if apperr.IsNotFound(err) {
			return registry.Key{}, apperr.NotFound("key not found")
		}
		return registry.Key{}, err
	}
	return key, nil
}

func (p *Pebble) FindKeyByValue(ctx context.Context, value string) (registry.Key, error) {
	if err := ctx.Err(); err != nil {
		return registry.Key{}, err
	}
	id, err := p.getRef(prefixKeyByValue + value)
	if err != nil {
		if apperr.IsNotFound(err) {
			return registry.Key{}, apperr.NotFound("key not found")
		}
		return registry.Key{}, err
	}
	return p.GetKey(ctx, id)
}

func (p *Pebble) PersonalKey(ctx context.Context, ownerID string) (registry.Key, error) {
	if err := ctx.Err(); err != nil {
		return registry.Key{}, err
	}
	id, err := p.getRef(prefixPersonal + ownerID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return registry.Key{}, apperr.NotFound("no personal key")
		}
		return registry.Key{}, err
	}
	return p.GetKey(ctx, id)
}

func (p *Pebble) ListOwnerKeys(ctx context.Context, ownerID string) ([]registry.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte(prefixKeyOwner + ownerID + ":")
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "pebble iter failed", err)
	}
	defer iter.Close()

	var keys []registry.Key
	for iter.First(); iter.Valid(); iter.Next() {
		var key registry.Key
		if err := p.getJSON(prefixKeyByID+string(iter.Value()), &key); err != nil {
			if apperr.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if key.OwnerID != ownerID {
			continue
		}
		keys = append(keys, key)
	}

	// Newest first.
	sort.SliceStable(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

func (p *Pebble) UpdateKeyVisibility(ctx context.Context, keyID string, isPublic, shareIdentity bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()

	key, err := p.GetKey(ctx, keyID)
	if err != nil {
		return err
	}
	key.IsPublic = isPublic
	key.ShareIdentity = shareIdentity

	b := p.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, prefixKeyByID+keyID, key); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "visibility update failed", err)
	}
	return nil
}

func (p *Pebble) DeleteKey(ctx context.Context, keyID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()

	key, err := p.GetKey(ctx, keyID)
	if err != nil {
		return err
	}

	b := p.db.NewBatch()
	defer b.Close()

	idRow, valRow, ownerRow := p.keyRows(key)
	_ = b.Delete([]byte(idRow), nil)
	_ = b.Delete([]byte(valRow), nil)
	_ = b.Delete([]byte(ownerRow), nil)
	if key.Personal {
		if id, rerr := p.getRef(prefixPersonal + key.OwnerID); rerr == nil && id == keyID {
			_ = b.Delete([]byte(prefixPersonal+key.OwnerID), nil)
		}
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "key delete failed", err)
	}
	return nil
}

// --- queue.Store ---

func (p *Pebble) msgKey(recipientID string, createdAt time.Time) string {
	s := atomic.AddUint64(&p.seq, 1)
	return fmt.Sprintf("%s%s:%020d-%06d", prefixMsg, recipientID, createdAt.UnixNano(), s)
}

func (p *Pebble) InsertMessage(ctx context.Context, msg queue.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	primary := p.msgKey(msg.RecipientID, msg.CreatedAt)

	b := p.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, primary, msg); err != nil {
		return err
	}
	_ = b.Set([]byte(prefixMsgIndex+msg.ID), []byte(primary), nil)

	if err := b.Commit(pebble.Sync); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "message insert failed", err)
	}
	return nil
}

func (p *Pebble) DrainPending(ctx context.Context, recipientID string, deliveredAt time.Time) ([]queue.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()

	prefix := []byte(prefixMsg + recipientID + ":")
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "pebble iter failed", err)
	}
	defer iter.Close()

	b := p.db.NewBatch()
	defer b.Close()

	var drained []queue.Message
	for iter.First(); iter.Valid(); iter.Next() {
		var msg queue.Message
		if err := json.Unmarshal(iter.Value(), &msg); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "corrupt message row", err)
		}
		// Prefix scans can overmatch when a recipient id itself contains
		// the separator; the row's own recipient field is authoritative.
		if msg.RecipientID != recipientID || !msg.Pending() {
			continue
		}
		at := deliveredAt
		msg.DeliveredAt = &at
		if err := setJSON(b, string(iter.Key()), msg); err != nil {
			return nil, err
		}
		drained = append(drained, msg)
	}

	if len(drained) == 0 {
		return nil, nil
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "drain commit failed", err)
	}
	return drained, nil
}

func (p *Pebble) DeleteMessage(ctx context.Context, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()

	primary, err := p.getRef(prefixMsgIndex + messageID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return apperr.NotFound("message not found")
		}
		return err
	}

	b := p.db.NewBatch()
	defer b.Close()
	_ = b.Delete([]byte(primary), nil)
	_ = b.Delete([]byte(prefixMsgIndex+messageID), nil)

	if err := b.Commit(pebble.Sync); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "message delete failed", err)
	}
	return nil
}

func (p *Pebble) DeleteConversation(ctx context.Context, userA, userB string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()

	b := p.db.NewBatch()
	defer b.Close()

	count := 0
	for _, pair := range [][2]string{{userA, userB}, {userB, userA}} {
		recipient, sender := pair[0], pair[1]
		prefix := []byte(prefixMsg + recipient + ":")
		iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
		if err != nil {
			return 0, apperr.Wrap(apperr.KindUnavailable, "pebble iter failed", err)
		}
		for iter.First(); iter.Valid(); iter.Next() {
			var msg queue.Message
			if err := json.Unmarshal(iter.Value(), &msg); err != nil {
				iter.Close()
				return 0, apperr.Wrap(apperr.KindInternal, "corrupt message row", err)
			}
			if msg.RecipientID != recipient || msg.SenderID != sender {
				continue
			}
			_ = b.Delete(append([]byte(nil), iter.Key()...), nil)
			_ = b.Delete([]byte(prefixMsgIndex+msg.ID), nil)
			count++
		}
		if err := iter.Close(); err != nil {
			return 0, apperr.Wrap(apperr.KindUnavailable, "pebble iter close failed", err)
		}
	}

	if count == 0 {
		return 0, nil
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, apperr.Wrap(apperr.KindUnavailable, "conversation delete failed", err)
	}
	return count, nil
}

func (p *Pebble) SweepDelivered(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()

	prefix := []byte(prefixMsg)
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return 0, apperr.Wrap(apperr.KindUnavailable, "pebble iter failed", err)
	}
	defer iter.Close()

	b := p.db.NewBatch()
	defer b.Close()

	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		var msg queue.Message
		if err := json.Unmarshal(iter.Value(), &msg); err != nil {
			return 0, apperr.Wrap(apperr.KindInternal, "corrupt message row", err)
		}
		if msg.DeliveredAt == nil || !msg.DeliveredAt.Before(cutoff) {
			continue
		}
		_ = b.Delete(append([]byte(nil), iter.Key()...), nil)
		_ = b.Delete([]byte(prefixMsgIndex+msg.ID), nil)
		count++
	}

	if count == 0 {
		return 0, nil
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, apperr.Wrap(apperr.KindUnavailable, "sweep commit failed", err)
	}
	return count, nil
}

// --- contact.Store ---

func (p *Pebble) UpsertContact(ctx context.Context, c contact.Contact) (contact.Contact, error) {
	if err := ctx.Err(); err != nil {
		return contact.Contact{}, err
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()

	row := prefixContact + c.OwnerID + ":" + c.Identifier

	var existing contact.Contact
	err := p.getJSON(row, &existing)
	switch {
	case err == nil:
		if c.DisplayName != "" {
			existing.DisplayName = c.DisplayName
		} else {
			return existing, nil
		}
		c = existing
	case !apperr.IsNotFound(err):
		return contact.Contact{}, err
	}

	b := p.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, row, c); err != nil {
		return contact.Contact{}, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return contact.Contact{}, apperr.Wrap(apperr.KindUnavailable, "contact upsert failed", err)
	}
	return c, nil
}

func (p *Pebble) ListContacts(ctx context.Context, ownerID string) ([]contact.Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte(prefixContact + ownerID + ":")
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "pebble iter failed", err)
	}
	defer iter.Close()

	var out []contact.Contact
	for iter.First(); iter.Valid(); iter.Next() {
		var c contact.Contact
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "corrupt contact row", err)
		}
		if c.OwnerID != ownerID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (p *Pebble) DeleteContact(ctx context.Context, ownerID, identifier string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()

	row := prefixContact + ownerID + ":" + identifier
	var existing contact.Contact
	if err := p.getJSON(row, &existing); err != nil {
		if apperr.IsNotFound(err) {
			return apperr.NotFound("contact not found")
		}
		return err
	}

	if err := p.db.Delete([]byte(row), pebble.Sync); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "contact delete failed", err)
	}
	return nil
}

// --- registry.Directory ---

// RegisterUser records a user in the directory.
func (p *Pebble) RegisterUser(ctx context.Context, entry registry.DirectoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.ID == "" {
		return apperr.Validation("user id is required")
	}

	b := p.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, prefixUser+entry.ID, entry); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "user register failed", err)
	}
	return nil
}

func (p *Pebble) LookupUser(ctx context.Context, userID string) (registry.DirectoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return registry.DirectoryEntry{}, err
	}
	var entry registry.DirectoryEntry
	if err := p.getJSON(prefixUser+userID, &entry); err != nil {
		if apperr.IsNotFound(err) {
			return registry.DirectoryEntry{}, apperr.NotFound("user not found")
		}
		return registry.DirectoryEntry{}, err
	}
	return entry, nil
}
