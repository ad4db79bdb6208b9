package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/telepath-im/telepath/apperr"
	"github.com/telepath-im/telepath/contact"
	"github.com/telepath-im/telepath/queue"
	"github.com/telepath-im/telepath/registry"
)

// Memory is an in-process store. All state lives behind one RWMutex; the
// multi-row units each run inside a single critical section, which is what
// makes personal-key replacement and drain-and-mark atomic here.
type Memory struct {
	mu sync.RWMutex

	keysByID      map[string]registry.Key
	keyIDByValue  map[string]string
	ownerKeyIDs   map[string][]string // insertion order
	personalKeyID map[string]string

	msgsByID        map[string]queue.Message
	recipientMsgIDs map[string][]string // insertion order (FIFO)

	contacts map[string]map[string]contact.Contact // owner -> identifier
	users    map[string]registry.DirectoryEntry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		keysByID:        make(map[string]registry.Key),
		keyIDByValue:    make(map[string]string),
		ownerKeyIDs:     make(map[string][]string),
		personalKeyID:   make(map[string]string),
		msgsByID:        make(map[string]queue.Message),
		recipientMsgIDs: make(map[string][]string),
		contacts:        make(map[string]map[string]contact.Contact),
		users:           make(map[string]registry.DirectoryEntry),
	}
}

// --- registry.Store ---

func (m *Memory) ReplacePersonalKey(ctx context.Context, key registry.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existingID, ok := m.keyIDByValue[key.Value]; ok && existingID != key.ID {
		return apperr.Conflict("key value already registered")
	}

	if oldID, ok := m.personalKeyID[key.OwnerID]; ok {
		m.removeKeyLocked(oldID)
	}
	m.insertKeyLocked(key)
	m.personalKeyID[key.OwnerID] = key.ID
	return nil
}

func (m *Memory) InsertKey(ctx context.Context, key registry.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.keyIDByValue[key.Value]; ok {
		return apperr.Conflict("key value already registered")
	}
	if _, ok := m.keysByID[key.ID]; ok {
		return apperr.Conflict("key id already registered")
	}
	m.insertKeyLocked(key)
	return nil
}

func (m *Memory) insertKeyLocked(key registry.Key) {
	m.keysByID[key.ID] = key
	m.keyIDByValue[key.Value] = key.ID
	m.ownerKeyIDs[key.OwnerID] = append(m.ownerKeyIDs[key.OwnerID], key.ID)
}

func (m *Memory) removeKeyLocked(keyID string) {
	key, ok := m.keysByID[keyID]
	if !ok {
		return
	}
	delete(m.keysByID, keyID)
	delete(m.keyIDByValue, key.Value)

	ids := m.ownerKeyIDs[key.OwnerID]
	for i, id := range ids {
		if id == keyID {
			m.ownerKeyIDs[key.OwnerID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(m.ownerKeyIDs[key.OwnerID]) == 0 {
		delete(m.ownerKeyIDs, key.OwnerID)
	}
	if m.personalKeyID[key.OwnerID] == keyID {
		delete(m.personalKeyID, key.OwnerID)
	}
}

func (m *Memory) GetKey(ctx context.Context, keyID string) (registry.Key, error) {
	if err := ctx.Err(); err != nil {
		return registry.Key{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.keysByID[keyID]
	if !ok {
		return registry.Key{}, apperr.NotFound("key not found")
	}
	return key, nil
}

func (m *Memory) FindKeyByValue(ctx context.Context, value string) (registry.Key, error) {
	if err := ctx.Err(); err != nil {
		return registry.Key{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.keyIDByValue[value]
	if !ok {
		return registry.Key{}, apperr.NotFound("key not found")
	}
	return m.keysByID[id], nil
}

func (m *Memory) PersonalKey(ctx context.Context, ownerID string) (registry.Key, error) {
	if err := ctx.Err(); err != nil {
		return registry.Key{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.personalKeyID[ownerID]
	if !ok {
		return registry.Key{}, apperr.NotFound("no personal key")
	}
	return m.keysByID[id], nil
}

func (m *Memory) ListOwnerKeys(ctx context.Context, ownerID string) ([]registry.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.ownerKeyIDs[ownerID]
	keys := make([]registry.Key, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, m.keysByID[id])
	}
	// Newest first; insertion order breaks creation-time ties.
	sort.SliceStable(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

func (m *Memory) UpdateKeyVisibility(ctx context.Context, keyID string, isPublic, shareIdentity bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.keysByID[keyID]
	if !ok {
		return apperr.NotFound("key not found")
	}
	key.IsPublic = isPublic
	key.ShareIdentity = shareIdentity
	m.keysByID[keyID] = key
	return nil
}

func (m *Memory) DeleteKey(ctx context.Context, keyID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.keysByID[keyID]; !ok {
		return apperr.NotFound("key not found")
	}
	m.removeKeyLocked(keyID)
	return nil
}

// --- queue.Store ---

func (m *Memory) InsertMessage(ctx context.Context, msg queue.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.msgsByID[msg.ID] = msg
	m.recipientMsgIDs[msg.RecipientID] = append(m.recipientMsgIDs[msg.RecipientID], msg.ID)
	return nil
}

func (m *Memory) DrainPending(ctx context.Context, recipientID string, deliveredAt time.Time) ([]queue.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var drained []queue.Message
	for _, id := range m.recipientMsgIDs[recipientID] {
		msg := m.msgsByID[id]
		if !msg.Pending() {
			continue
		}
		at := deliveredAt
		msg.DeliveredAt = &at
		m.msgsByID[id] = msg
		drained = append(drained, msg)
	}
	return drained, nil
}

func (m *Memory) DeleteMessage(ctx context.Context, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.msgsByID[messageID]; !ok {
		return apperr.NotFound("message not found")
	}
	m.removeMessageLocked(messageID)
	return nil
}

func (m *Memory) removeMessageLocked(messageID string) {
	msg, ok := m.msgsByID[messageID]
	if !ok {
		return
	}
	delete(m.msgsByID, messageID)

	ids := m.recipientMsgIDs[msg.RecipientID]
	for i, id := range ids {
		if id == messageID {
			m.recipientMsgIDs[msg.RecipientID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(m.recipientMsgIDs[msg.RecipientID]) == 0 {
		delete(m.recipientMsgIDs, msg.RecipientID)
	}
}

func (m *Memory) DeleteConversation(ctx context.Context, userA, userB string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var doomed []string
	for id, msg := range m.msgsByID {
		if (msg.SenderID == userA && msg.RecipientID == userB) ||
			(msg.SenderID == userB && msg.RecipientID == userA) {
			doomed = append(doomed, id)
		}
	}
	for _, id := range doomed {
		m.removeMessageLocked(id)
	}
	return len(doomed), nil
}

func (m *Memory) SweepDelivered(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var doomed []string
	for id, msg := range m.msgsByID {
		if msg.DeliveredAt != nil && msg.DeliveredAt.Before(cutoff) {
			doomed = append(doomed, id)
		}
	}
	for _, id := range doomed {
		m.removeMessageLocked(id)
	}
	return len(doomed), nil
}

// --- contact.Store ---

func (m *Memory) UpsertContact(ctx context.Context, c contact.Contact) (contact.Contact, error) {
	if err := ctx.Err(); err != nil {
		return contact.Contact{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byIdentifier, ok := m.contacts[c.OwnerID]
	if !ok {
		byIdentifier = make(map[string]contact.Contact)
		m.contacts[c.OwnerID] = byIdentifier
	}

	if existing, ok := byIdentifier[c.Identifier]; ok {
		// Merge, never duplicate. The freshest display name wins.
		if c.DisplayName != "" {
			existing.DisplayName = c.DisplayName
			byIdentifier[c.Identifier] = existing
		}
		return existing, nil
	}

	byIdentifier[c.Identifier] = c
	return c, nil
}

func (m *Memory) ListContacts(ctx context.Context, ownerID string) ([]contact.Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	byIdentifier := m.contacts[ownerID]
	out := make([]contact.Contact, 0, len(byIdentifier))
	for _, c := range byIdentifier {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

func (m *Memory) DeleteContact(ctx context.Context, ownerID, identifier string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byIdentifier := m.contacts[ownerID]
	if _, ok := byIdentifier[identifier]; !ok {
		return apperr.NotFound("contact not found")
	}
	delete(byIdentifier, identifier)
	if len(byIdentifier) == 0 {
		delete(m.contacts, ownerID)
	}
	return nil
}

// --- registry.Directory ---

// RegisterUser records a user in the directory. The surrounding application
// calls this when an identified caller first appears.
func (m *Memory) RegisterUser(ctx context.Context, entry registry.DirectoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.ID == "" {
		return apperr.Validation("user id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[entry.ID] = entry
	return nil
}

func (m *Memory) LookupUser(ctx context.Context, userID string) (registry.DirectoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return registry.DirectoryEntry{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.users[userID]
	if !ok {
		return registry.DirectoryEntry{}, apperr.NotFound("user not found")
	}
	return entry, nil
}
