package queue_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telepath-im/telepath/apperr"
	"github.com/telepath-im/telepath/queue"
	"github.com/telepath-im/telepath/storage"
)

func newQueue(t *testing.T) *queue.Queue {
	t.Helper()
	return queue.New(storage.NewMemory(), time.Second)
}

func TestEnqueueValidation(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	cases := []struct {
		name      string
		sender    string
		recipient string
		wrapped   string
	}{
		{"empty sender", "", "bob", "tlp1:AAAA"},
		{"empty recipient", "alice", "", "tlp1:AAAA"},
		{"whitespace recipient", "alice", "bo b", "tlp1:AAAA"},
		{"control char", "alice", "bob\n", "tlp1:AAAA"},
		{"empty content", "alice", "bob", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := q.Enqueue(ctx, tc.sender, tc.recipient, tc.wrapped)
			assert.True(t, apperr.IsKind(err, apperr.KindValidation))
		})
	}
}

func TestEnqueueDoesNotRequireRecipientToExist(t *testing.T) {
	q := newQueue(t)

	// No directory registration anywhere: store-and-forward still accepts.
	msg, err := q.Enqueue(context.Background(), "alice", "nobody-yet", "tlp1:AAAA")
	require.NoError(t, err)
	assert.True(t, msg.Pending())
}

func TestDrainPendingFIFOAndMarking(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		msg, err := q.Enqueue(ctx, "alice", "bob", fmt.Sprintf("tlp1:msg%d", i))
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	drained, err := q.DrainPending(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, drained, 5)

	for i, msg := range drained {
		assert.Equal(t, ids[i], msg.ID, "drain must be FIFO by creation time")
		assert.NotNil(t, msg.DeliveredAt, "drained message must be marked delivered")
	}

	again, err := q.DrainPending(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, again, "a second drain must not re-deliver")
}

func TestDrainPendingOnlyForRecipient(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "alice", "bob", "tlp1:forbob")
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "alice", "carol", "tlp1:forcarol")
	require.NoError(t, err)

	drained, err := q.DrainPending(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, drained, 1)
	assert.Equal(t, "tlp1:forbob", drained[0].WrappedContent)
}

// Two concurrent drains over N pending messages must hand out exactly N
// messages in total with no overlap (two device sessions of one account).
func TestConcurrentDrainsPartitionDisjointly(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	const n = 200
	for i := 0; i < n; i++ {
		_, err := q.Enqueue(ctx, "alice", "bob", fmt.Sprintf("tlp1:msg%d", i))
		require.NoError(t, err)
	}

	results := make([][]queue.Message, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	for s := 0; s < 2; s++ {
		go func(s int) {
			defer wg.Done()
			msgs, err := q.DrainPending(ctx, "bob")
			if err != nil {
				t.Errorf("DrainPending() error: %v", err)
				return
			}
			results[s] = msgs
		}(s)
	}
	wg.Wait()

	seen := make(map[string]int)
	total := 0
	for _, msgs := range results {
		total += len(msgs)
		for _, msg := range msgs {
			seen[msg.ID]++
		}
	}
	assert.Equal(t, n, total, "both drains together must deliver every message exactly once")
	for id, count := range seen {
		assert.Equal(t, 1, count, "message %s delivered %d times", id, count)
	}
}

func TestAcknowledgeRead(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	msg, err := q.Enqueue(ctx, "alice", "bob", "tlp1:hello")
	require.NoError(t, err)

	require.NoError(t, q.AcknowledgeRead(ctx, msg.ID))

	// Deleting twice surfaces NotFound, which callers may treat as a no-op.
	err = q.AcknowledgeRead(ctx, msg.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestDeleteConversationMixedStates(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	// 2 messages that will be delivered-but-unread.
	for i := 0; i < 2; i++ {
		_, err := q.Enqueue(ctx, "alice", "bob", "tlp1:early")
		require.NoError(t, err)
	}
	drained, err := q.DrainPending(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, drained, 2)

	// 3 undelivered: two more to bob, one back to alice.
	for i := 0; i < 2; i++ {
		_, err := q.Enqueue(ctx, "alice", "bob", "tlp1:late")
		require.NoError(t, err)
	}
	_, err = q.Enqueue(ctx, "bob", "alice", "tlp1:reply")
	require.NoError(t, err)

	// Unrelated traffic must survive.
	_, err = q.Enqueue(ctx, "alice", "carol", "tlp1:other")
	require.NoError(t, err)

	n, err := q.DeleteConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// Idempotent: nothing left between the pair.
	n, err = q.DeleteConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	carol, err := q.DrainPending(ctx, "carol")
	require.NoError(t, err)
	assert.Len(t, carol, 1)
}

func TestSweepDelivered(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "alice", "bob", "tlp1:stale")
	require.NoError(t, err)
	_, err = q.DrainPending(ctx, "bob")
	require.NoError(t, err)

	// Still pending; must survive any sweep.
	pendingMsg, err := q.Enqueue(ctx, "alice", "bob", "tlp1:fresh")
	require.NoError(t, err)

	// A zero-age sweep reclaims everything already marked delivered.
	time.Sleep(2 * time.Millisecond)
	n, err := q.SweepDelivered(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	drained, err := q.DrainPending(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, drained, 1)
	assert.Equal(t, pendingMsg.ID, drained[0].ID)
}

func TestValidUserID(t *testing.T) {
	assert.True(t, queue.ValidUserID("alice"))
	assert.True(t, queue.ValidUserID("a1b2-c3d4"))
	assert.True(t, queue.ValidUserID("user@example.com"))
	assert.False(t, queue.ValidUserID(""))
	assert.False(t, queue.ValidUserID("has space"))
	assert.False(t, queue.ValidUserID("tab\there"))
	assert.False(t, queue.ValidUserID(string(make([]byte, queue.MaxUserIDLength+1))))
}
