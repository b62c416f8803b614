package hub

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roleplayhub/hub/store"
)

// fakeOfflineQueue records what gets marked delivered so tests can pin
// down the push-then-mark ordering.
type fakeOfflineQueue struct {
	pending []store.OfflineMessage
	marked  []string
	loadErr error
	markErr error
}

func (f *fakeOfflineQueue) UndeliveredTo(string) ([]store.OfflineMessage, error) {
	return f.pending, f.loadErr
}

func (f *fakeOfflineQueue) MarkDelivered(ids []string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, ids...)
	return nil
}

func queuedMessages(n int) []store.OfflineMessage {
	ms := make([]store.OfflineMessage, n)
	for i := range ms {
		ms[i] = store.OfflineMessage{
			ID:          fmt.Sprintf("m%d", i),
			FromAccount: "a_wx",
			ToAccount:   "b_wx",
			Content:     fmt.Sprintf("hello %d", i),
			CreatedAt:   int64(1000 + i),
		}
	}
	return ms
}

func TestFlushOfflineQueue(t *testing.T) {
	q := &fakeOfflineQueue{pending: queuedMessages(3)}

	var sent []DirectMessagePush
	pushed, err := flushOfflineQueue(q, "b_wx", func(v interface{}) error {
		sent = append(sent, v.(DirectMessagePush))
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"m0", "m1", "m2"}, pushed)
	assert.Equal(t, []string{"m0", "m1", "m2"}, q.marked)

	// Queue order is delivery order, and the payload survives intact.
	require.Len(t, sent, 3)
	assert.Equal(t, "message", sent[0].Type)
	assert.Equal(t, "hello 0", sent[0].Content)
	assert.Equal(t, int64(1000), sent[0].Timestamp)
	assert.Equal(t, "m2", sent[2].MessageID)
}

func TestFlushOfflineQueuePartialPush(t *testing.T) {
	q := &fakeOfflineQueue{pending: queuedMessages(3)}

	// The connection dies after the second push; only the prefix that
	// actually went out may be marked delivered.
	calls := 0
	pushed, err := flushOfflineQueue(q, "b_wx", func(interface{}) error {
		calls++
		if calls > 2 {
			return assert.AnError
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"m0", "m1"}, pushed)
	assert.Equal(t, []string{"m0", "m1"}, q.marked)
}

func TestFlushOfflineQueueNothingPushed(t *testing.T) {
	q := &fakeOfflineQueue{pending: queuedMessages(2)}

	pushed, err := flushOfflineQueue(q, "b_wx", func(interface{}) error {
		return assert.AnError
	})
	require.NoError(t, err)

	// No push went out, so nothing is marked and the queue re-delivers
	// on the next bring-online.
	assert.Empty(t, pushed)
	assert.Empty(t, q.marked)
}

func TestFlushOfflineQueueErrors(t *testing.T) {
	q := &fakeOfflineQueue{loadErr: assert.AnError}
	pushed, err := flushOfflineQueue(q, "b_wx", func(interface{}) error { return nil })
	assert.Error(t, err)
	assert.Empty(t, pushed)

	// A mark failure after a successful push surfaces; the messages were
	// delivered and will be delivered again, which receivers tolerate.
	q = &fakeOfflineQueue{pending: queuedMessages(1), markErr: assert.AnError}
	pushed, err = flushOfflineQueue(q, "b_wx", func(interface{}) error { return nil })
	assert.Error(t, err)
	assert.Equal(t, []string{"m0"}, pushed)
}

func TestFlushOfflineQueueEmpty(t *testing.T) {
	q := &fakeOfflineQueue{}
	pushed, err := flushOfflineQueue(q, "b_wx", func(interface{}) error {
		t.Fatal("push called with an empty queue")
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, pushed)
	assert.Empty(t, q.marked)
}
