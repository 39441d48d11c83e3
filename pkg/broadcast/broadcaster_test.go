package broadcast

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunv/dispatchd/pkg/registry"
)

// TestPushStreamDeliversSnapshotOnSubscribe mirrors spec scenario S6: a
// client connecting to /ws receives a live snapshot well within 2s.
func TestPushStreamDeliversSnapshotOnSubscribe(t *testing.T) {
	r := registry.New("round-robin", 3, nil)
	require.NoError(t, r.AddWorker("a", "http://a", "red", 1, 10))

	b := New(r, 50*time.Millisecond)
	srv := httptest.NewServer(http.HandlerFunc(b.HandleWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var snap registry.Snapshot
	require.NoError(t, json.Unmarshal(msg, &snap))
	assert.Equal(t, "round-robin", snap.Algorithm)
	assert.Len(t, snap.Workers, 1)
}

func TestBroadcastDropsSlowSubscriberWithoutBlocking(t *testing.T) {
	r := registry.New("round-robin", 3, nil)
	require.NoError(t, r.AddWorker("a", "http://a", "red", 1, 10))
	b := New(r, time.Hour)

	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		c, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer peer.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(peer.URL, "http"), nil)
	require.NoError(t, err)

	// No writePump runs for this subscriber, so its queue is never drained.
	sub := &subscriber{conn: conn, send: make(chan []byte, sendQueueCap), done: make(chan struct{})}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	for i := 0; i < sendQueueCap+5; i++ {
		select {
		case sub.send <- []byte("x"):
		default:
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Broadcast()
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a subscriber with a full queue")
	}

	b.mu.RLock()
	_, stillSubscribed := b.subs[sub]
	b.mu.RUnlock()
	assert.False(t, stillSubscribed, "a subscriber whose queue is full must be dropped")
}

// TestBroadcastDoesNotPanicWhenSubscriberClosedConcurrently imitates a
// disconnect (removing the subscriber from the map and closing done, as
// unsubscribe does) concurrently with repeated non-blocking sends onto the
// same subscriber's queue, as Broadcast does. Closing send itself would
// make such a racing `s.send <- data` a send on a closed channel, which
// panics; send must never be closed.
func TestBroadcastDoesNotPanicWhenSubscriberClosedConcurrently(t *testing.T) {
	r := registry.New("round-robin", 3, nil)
	require.NoError(t, r.AddWorker("a", "http://a", "red", 1, 10))
	b := New(r, time.Hour)

	sub := &subscriber{send: make(chan []byte, sendQueueCap), done: make(chan struct{})}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			b.mu.RLock()
			_, ok := b.subs[sub]
			b.mu.RUnlock()
			if !ok {
				return
			}
			select {
			case sub.send <- []byte("x"):
			default:
			}
		}
	}()
	go func() {
		defer wg.Done()
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		sub.once.Do(func() { close(sub.done) })
	}()

	wg.Wait()
}
