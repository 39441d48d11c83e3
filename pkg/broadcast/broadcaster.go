// Package broadcast multiplexes the dispatcher's current registry
// snapshot to all subscribed push-stream clients with bounded fan-out
// cost.
//
// Grounded on the teacher's pkg/router/broadcast.go, which held one
// shared mutex across serialization and every client write — a single
// slow client there stalls the whole Broadcast call. This version keeps
// the teacher's websocket.Upgrader/map-of-clients shape but offloads
// writes to a per-client bounded queue (spec.md §4.6, §9 "dedicated
// subscriber mutex with per-client isolation"), dropping subscribers
// whose queue overflows instead of blocking on them.
package broadcast

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arjunv/dispatchd/pkg/registry"
)

const (
	writeWait    = 5 * time.Second
	sendQueueCap = 8
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscriber is one connected push-stream client.
//
// send is never closed: Broadcast and unsubscribe both reach a
// subscriber from outside any single owning goroutine, and closing a
// channel that other goroutines may still be sending on is a
// process-crashing send-on-closed-channel panic waiting to happen.
// Shutdown is instead signalled via done, which only close() ever
// closes (guarded by once); writePump is the only goroutine that reads
// send, and a full or abandoned send is simply dropped by the
// non-blocking select in Broadcast.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *subscriber) writePump() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// Broadcaster fans registry snapshots out to connected websocket clients.
type Broadcaster struct {
	registry *registry.Registry

	mu   sync.RWMutex // guards subs; distinct from the registry's lock
	subs map[*subscriber]struct{}

	tickInterval time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// New builds a Broadcaster reading snapshots from r, with a periodic
// broadcast tick (default 1s, §4.6).
func New(r *registry.Registry, tickInterval time.Duration) *Broadcaster {
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	return &Broadcaster{
		registry:     r,
		subs:         make(map[*subscriber]struct{}),
		tickInterval: tickInterval,
		stopCh:       make(chan struct{}),
	}
}

// Start begins the periodic broadcast ticker.
func (b *Broadcaster) Start() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-b.stopCh:
				return
			case <-ticker.C:
				b.Broadcast()
			}
		}
	}()
}

// Stop halts the periodic ticker and closes every subscriber.
func (b *Broadcaster) Stop() {
	close(b.stopCh)
	b.wg.Wait()

	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[*subscriber]struct{})
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}

// HandleWS upgrades the connection and registers it as a subscriber,
// immediately sending one snapshot (§4.6 Subscribe).
func (b *Broadcaster) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("⚠️  WebSocket upgrade failed: %v", err)
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, sendQueueCap), done: make(chan struct{})}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()
	log.Printf("📊 Dashboard client connected (%d total)", count)

	go sub.writePump()

	data, err := json.Marshal(b.registry.Snapshot())
	if err == nil {
		select {
		case sub.send <- data:
		default:
		}
	}

	go b.readLoop(sub)
}

// readLoop discards inbound frames and uses a read error (or close) as
// the unsubscribe signal (§4.6, §7 "Push-write failure").
func (b *Broadcaster) readLoop(sub *subscriber) {
	defer b.unsubscribe(sub)
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Broadcaster) unsubscribe(sub *subscriber) {
	b.mu.Lock()
	_, existed := b.subs[sub]
	delete(b.subs, sub)
	count := len(b.subs)
	b.mu.Unlock()
	if existed {
		sub.close()
		log.Printf("📊 Dashboard client disconnected (%d remain)", count)
	}
}

// Broadcast serializes the current snapshot once and fans it out to
// every subscriber's send queue. A full queue means a slow client; it is
// dropped rather than allowed to stall the others.
func (b *Broadcaster) Broadcast() {
	data, err := json.Marshal(b.registry.Snapshot())
	if err != nil {
		return
	}

	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.send <- data:
		default:
			b.unsubscribe(s)
		}
	}
}
