package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telepath-im/telepath/apperr"
	"github.com/telepath-im/telepath/contact"
	"github.com/telepath-im/telepath/queue"
	"github.com/telepath-im/telepath/registry"
)

func openTestPebble(t *testing.T) *Pebble {
	t.Helper()
	p, err := OpenPebble(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = p.Close()
	})
	return p
}

func testKey(owner string, personal bool) registry.Key {
	return registry.Key{
		ID:        uuid.NewString(),
		OwnerID:   owner,
		Value:     fmt.Sprintf("TLPTH-%04d-AAAA-BBBB-CCCC-DDDD", time.Now().UnixNano()%10000),
		CreatedAt: time.Now().UTC(),
		Personal:  personal,
	}
}

func testMessage(sender, recipient, content string) queue.Message {
	return queue.Message{
		ID:             uuid.NewString(),
		SenderID:       sender,
		RecipientID:    recipient,
		WrappedContent: content,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestPebbleReplacePersonalKey(t *testing.T) {
	p := openTestPebble(t)
	ctx := context.Background()

	first := testKey("alice", true)
	first.Value = "TLPTH-1111-1111-1111-1111-1111"
	require.NoError(t, p.ReplacePersonalKey(ctx, first))

	second := testKey("alice", true)
	second.Value = "TLPTH-2222-2222-2222-2222-2222"
	require.NoError(t, p.ReplacePersonalKey(ctx, second))

	got, err := p.PersonalKey(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	// The old key's rows are fully gone.
	_, err = p.GetKey(ctx, first.ID)
	assert.True(t, apperr.IsNotFound(err))
	_, err = p.FindKeyByValue(ctx, first.Value)
	assert.True(t, apperr.IsNotFound(err))

	keys, err := p.ListOwnerKeys(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestPebbleInsertKeyValueUniqueness(t *testing.T) {
	p := openTestPebble(t)
	ctx := context.Background()

	key := testKey("alice", false)
	key.Value = "TLPTH-3333-3333-3333-3333-3333"
	require.NoError(t, p.InsertKey(ctx, key))

	dup := testKey("bob", false)
	dup.Value = key.Value
	err := p.InsertKey(ctx, dup)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestPebbleUpdateKeyVisibility(t *testing.T) {
	p := openTestPebble(t)
	ctx := context.Background()

	key := testKey("alice", false)
	require.NoError(t, p.InsertKey(ctx, key))

	require.NoError(t, p.UpdateKeyVisibility(ctx, key.ID, true, true))
	got, err := p.GetKey(ctx, key.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPublic)
	assert.True(t, got.ShareIdentity)

	err = p.UpdateKeyVisibility(ctx, "missing", true, false)
	assert.True(t, apperr.IsNotFound(err))
}

func TestPebbleDrainPending(t *testing.T) {
	p := openTestPebble(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		msg := testMessage("alice", "bob", fmt.Sprintf("tlp1:m%d", i))
		msg.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Millisecond)
		require.NoError(t, p.InsertMessage(ctx, msg))
		ids = append(ids, msg.ID)
	}

	drained, err := p.DrainPending(ctx, "bob", time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, drained, 3)
	for i, msg := range drained {
		assert.Equal(t, ids[i], msg.ID, "FIFO order")
		assert.NotNil(t, msg.DeliveredAt)
	}

	again, err := p.DrainPending(ctx, "bob", time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestPebbleDeleteMessage(t *testing.T) {
	p := openTestPebble(t)
	ctx := context.Background()

	msg := testMessage("alice", "bob", "tlp1:x")
	require.NoError(t, p.InsertMessage(ctx, msg))

	require.NoError(t, p.DeleteMessage(ctx, msg.ID))
	err := p.DeleteMessage(ctx, msg.ID)
	assert.True(t, apperr.IsNotFound(err))

	drained, err := p.DrainPending(ctx, "bob", time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, drained)
}

func TestPebbleDeleteConversationBothDirections(t *testing.T) {
	p := openTestPebble(t)
	ctx := context.Background()

	require.NoError(t, p.InsertMessage(ctx, testMessage("alice", "bob", "tlp1:1")))
	require.NoError(t, p.InsertMessage(ctx, testMessage("bob", "alice", "tlp1:2")))
	require.NoError(t, p.InsertMessage(ctx, testMessage("alice", "carol", "tlp1:3")))

	// One delivered message must be removed too.
	_, err := p.DrainPending(ctx, "alice", time.Now().UTC())
	require.NoError(t, err)

	n, err := p.DeleteConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	carol, err := p.DrainPending(ctx, "carol", time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, carol, 1)
}

func TestPebbleSweepDelivered(t *testing.T) {
	p := openTestPebble(t)
	ctx := context.Background()

	require.NoError(t, p.InsertMessage(ctx, testMessage("alice", "bob", "tlp1:old")))
	deliveredAt := time.Now().UTC().Add(-48 * time.Hour)
	_, err := p.DrainPending(ctx, "bob", deliveredAt)
	require.NoError(t, err)

	require.NoError(t, p.InsertMessage(ctx, testMessage("alice", "bob", "tlp1:fresh")))

	n, err := p.SweepDelivered(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	remaining, err := p.DrainPending(ctx, "bob", time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
	assert.Equal(t, "tlp1:fresh", remaining[0].WrappedContent)
}

func TestPebbleContactUpsert(t *testing.T) {
	p := openTestPebble(t)
	ctx := context.Background()

	c := contact.Contact{
		ID: uuid.NewString(), OwnerID: "alice", Identifier: "bob",
		DisplayName: "Bob B.", CreatedAt: time.Now().UTC(),
	}
	first, err := p.UpsertContact(ctx, c)
	require.NoError(t, err)

	dup := c
	dup.ID = uuid.NewString()
	second, err := p.UpsertContact(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "upsert must keep the original row")

	contacts, err := p.ListContacts(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, contacts, 1)

	require.NoError(t, p.DeleteContact(ctx, "alice", "bob"))
	err = p.DeleteContact(ctx, "alice", "bob")
	assert.True(t, apperr.IsNotFound(err))
}

func TestPebbleUserDirectory(t *testing.T) {
	p := openTestPebble(t)
	ctx := context.Background()

	entry := registry.DirectoryEntry{ID: "alice", Username: "alice", DisplayName: "Alice A."}
	require.NoError(t, p.RegisterUser(ctx, entry))

	got, err := p.LookupUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, entry, got)

	_, err = p.LookupUser(ctx, "nobody")
	assert.True(t, apperr.IsNotFound(err))
}

// Store-and-forward requires pending messages to survive a restart.
func TestPebbleSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	p, err := OpenPebble(dir)
	require.NoError(t, err)

	msg := testMessage("alice", "bob", "tlp1:durable")
	require.NoError(t, p.InsertMessage(ctx, msg))
	key := testKey("bob", true)
	require.NoError(t, p.ReplacePersonalKey(ctx, key))
	require.NoError(t, p.Close())

	p, err = OpenPebble(dir)
	require.NoError(t, err)
	defer p.Close()

	drained, err := p.DrainPending(ctx, "bob", time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, drained, 1)
	assert.Equal(t, msg.ID, drained[0].ID)

	got, err := p.PersonalKey(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)
}
