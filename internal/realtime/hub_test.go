package realtime

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu     sync.Mutex
	msgs   [][]byte
	fail   bool
	closed bool
}

func (f *fakeClient) Send(message []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return false
	}
	f.msgs = append(f.msgs, message)
	return true
}

func (f *fakeClient) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func TestHub_RegisterBroadcastUnregister(t *testing.T) {
	h := NewHub()
	a1, a2, b := &fakeClient{}, &fakeClient{}, &fakeClient{}
	h.Register("alice", a1)
	h.Register("alice", a2)
	h.Register("bob", b)
	require.Equal(t, 3, h.Connections())

	h.Broadcast("alice", []byte("hi"))
	require.Len(t, a1.msgs, 1)
	require.Len(t, a2.msgs, 1)
	require.Empty(t, b.msgs)

	h.Unregister("alice", a1)
	h.Unregister("alice", a2)
	h.Unregister("nobody", b)
	require.Equal(t, 1, h.Connections())
}

func TestHub_PublishReachesEveryone(t *testing.T) {
	h := NewHub()
	a, b, broken := &fakeClient{}, &fakeClient{}, &fakeClient{fail: true}
	h.Register("alice", a)
	h.Register("bob", b)
	h.Register("carol", broken)

	h.Publish(EventCacheInvalidated, "u-1", map[string]any{"removed": 3})

	require.Len(t, a.msgs, 1)
	require.Len(t, b.msgs, 1)
	var evt Event
	require.NoError(t, json.Unmarshal(a.msgs[0], &evt))
	require.Equal(t, EventCacheInvalidated, evt.Type)
	require.Equal(t, "u-1", evt.ActorID)
	require.Equal(t, 1, evt.Version)
	require.False(t, evt.At.IsZero())
}

func TestHub_NilPublishIsNoop(t *testing.T) {
	var h *Hub
	require.NotPanics(t, func() { h.Publish(EventCacheCleared, "", nil) })
}
