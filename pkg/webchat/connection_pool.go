package webchat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 10 * time.Second
)

// wsConn is the part of *websocket.Conn the pool writes through.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type poolClient struct {
	conn wsConn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *poolClient) stop() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// ConnectionPool holds the websocket connections of one requester. Each connection
// gets a buffered writer; a connection that falls behind is dropped rather than
// stalling the broadcast.
type ConnectionPool struct {
	requesterID string

	mu          sync.Mutex
	clients     map[wsConn]*poolClient
	idleTimer   *time.Timer
	idleTimeout time.Duration
	onIdle      func()

	sendBuffer   int
	writeTimeout time.Duration
}

func NewConnectionPool(requesterID string, idleTimeout time.Duration, onIdle func()) *ConnectionPool {
	return &ConnectionPool{
		requesterID:  requesterID,
		clients:      map[wsConn]*poolClient{},
		idleTimeout:  idleTimeout,
		onIdle:       onIdle,
		sendBuffer:   defaultSendBuffer,
		writeTimeout: defaultWriteTimeout,
	}
}

func (cp *ConnectionPool) Add(conn wsConn) {
	if cp == nil || conn == nil {
		return
	}
	buf := cp.sendBuffer
	if buf <= 0 {
		buf = 1
	}
	c := &poolClient{conn: conn, send: make(chan []byte, buf), done: make(chan struct{})}
	cp.mu.Lock()
	if old, ok := cp.clients[conn]; ok {
		old.stop()
	}
	cp.clients[conn] = c
	cp.stopIdleTimerLocked()
	cp.mu.Unlock()
	go cp.writer(c)
}

func (cp *ConnectionPool) Remove(conn wsConn) {
	if cp == nil || conn == nil {
		return
	}
	cp.mu.Lock()
	c, ok := cp.clients[conn]
	delete(cp.clients, conn)
	cp.scheduleIdleTimerLocked()
	cp.mu.Unlock()
	if ok {
		c.stop()
	} else {
		_ = conn.Close()
	}
}

func (cp *ConnectionPool) Broadcast(data []byte) {
	if cp == nil || len(data) == 0 {
		return
	}
	var dropped []*poolClient
	cp.mu.Lock()
	for conn, c := range cp.clients {
		select {
		case c.send <- data:
		default:
			log.Warn().Str("component", "webchat").Str("requester_id", cp.requesterID).Msg("ws send buffer full, dropping connection")
			delete(cp.clients, conn)
			dropped = append(dropped, c)
		}
	}
	if len(dropped) > 0 {
		cp.scheduleIdleTimerLocked()
	}
	cp.mu.Unlock()
	for _, c := range dropped {
		c.stop()
	}
}

func (cp *ConnectionPool) writer(c *poolClient) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if cp.writeTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(cp.writeTimeout))
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("component", "webchat").Str("requester_id", cp.requesterID).Msg("ws write failed, dropping connection")
				cp.drop(c)
				return
			}
		}
	}
}

func (cp *ConnectionPool) drop(c *poolClient) {
	cp.mu.Lock()
	if cur, ok := cp.clients[c.conn]; ok && cur == c {
		delete(cp.clients, c.conn)
		cp.scheduleIdleTimerLocked()
	}
	cp.mu.Unlock()
	c.stop()
}

func (cp *ConnectionPool) Count() int {
	if cp == nil {
		return 0
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.clients)
}

func (cp *ConnectionPool) IsEmpty() bool {
	return cp.Count() == 0
}

func (cp *ConnectionPool) CloseAll() {
	if cp == nil {
		return
	}
	cp.mu.Lock()
	clients := make([]*poolClient, 0, len(cp.clients))
	for conn, c := range cp.clients {
		clients = append(clients, c)
		delete(cp.clients, conn)
	}
	cp.stopIdleTimerLocked()
	cp.mu.Unlock()
	for _, c := range clients {
		c.stop()
	}
}

func (cp *ConnectionPool) stopIdleTimerLocked() {
	if cp.idleTimer != nil {
		cp.idleTimer.Stop()
		cp.idleTimer = nil
	}
}

func (cp *ConnectionPool) scheduleIdleTimerLocked() {
	if len(cp.clients) != 0 || cp.idleTimeout <= 0 || cp.onIdle == nil {
		cp.stopIdleTimerLocked()
		return
	}
	cp.stopIdleTimerLocked()
	cp.idleTimer = time.AfterFunc(cp.idleTimeout, cp.triggerIdle)
}

func (cp *ConnectionPool) triggerIdle() {
	var callback func()
	cp.mu.Lock()
	if len(cp.clients) == 0 {
		callback = cp.onIdle
	}
	cp.idleTimer = nil
	cp.mu.Unlock()
	if callback != nil {
		callback()
	}
}
