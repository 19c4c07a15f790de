package webchat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/ruminate/pkg/eventbus"
	"github.com/go-go-golems/ruminate/pkg/reasoning"
)

// Hub routes progress events to the websocket connections of their requester.
type Hub struct {
	mu          sync.Mutex
	pools       map[string]*ConnectionPool
	idleTimeout time.Duration
}

func NewHub(idleTimeout time.Duration) *Hub {
	return &Hub{pools: map[string]*ConnectionPool{}, idleTimeout: idleTimeout}
}

func (h *Hub) Attach(requesterID string, conn wsConn) {
	h.pool(requesterID, true).Add(conn)
	log.Debug().Str("component", "webchat").Str("requester_id", requesterID).Msg("ws attached")
}

func (h *Hub) Detach(requesterID string, conn wsConn) {
	if p := h.pool(requesterID, false); p != nil {
		p.Remove(conn)
	} else if conn != nil {
		_ = conn.Close()
	}
	log.Debug().Str("component", "webchat").Str("requester_id", requesterID).Msg("ws detached")
}

// Broadcast sends data to every connection of requesterID. Events for requesters
// without a connection are dropped.
func (h *Hub) Broadcast(requesterID string, data []byte) {
	if p := h.pool(requesterID, false); p != nil {
		p.Broadcast(data)
	}
}

// HandleEvent is the eventbus handler feeding the hub.
func (h *Hub) HandleEvent(_ context.Context, ev reasoning.Event, msg *message.Message) {
	requesterID := strings.TrimSpace(ev.Metadata().RequesterID)
	if requesterID == "" && msg != nil {
		requesterID = msg.Metadata.Get(eventbus.MetaRequesterID)
	}
	if requesterID == "" {
		return
	}
	var data []byte
	if msg != nil {
		data = msg.Payload
	}
	if len(data) == 0 {
		b, err := reasoning.MarshalEvent(ev)
		if err != nil {
			log.Warn().Err(err).Str("component", "webchat").Msg("re-encode event failed")
			return
		}
		data = b
	}
	h.Broadcast(requesterID, data)
}

func (h *Hub) Count(requesterID string) int {
	return h.pool(requesterID, false).Count()
}

// Requesters lists requesters with at least one pool.
func (h *Hub) Requesters() []string {
	h.mu.Lock()
	out := make([]string, 0, len(h.pools))
	for id := range h.pools {
		out = append(out, id)
	}
	h.mu.Unlock()
	sort.Strings(out)
	return out
}

func (h *Hub) CloseAll() {
	h.mu.Lock()
	pools := h.pools
	h.pools = map[string]*ConnectionPool{}
	h.mu.Unlock()
	for _, p := range pools {
		p.CloseAll()
	}
}

func (h *Hub) pool(requesterID string, create bool) *ConnectionPool {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pools[requesterID]
	if ok || !create {
		return p
	}
	var np *ConnectionPool
	np = NewConnectionPool(requesterID, h.idleTimeout, func() { h.evict(requesterID, np) })
	h.pools[requesterID] = np
	return np
}

func (h *Hub) evict(requesterID string, p *ConnectionPool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.pools[requesterID]; ok && cur == p && p.IsEmpty() {
		delete(h.pools, requesterID)
	}
}
