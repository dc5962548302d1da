package fakemaster

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/psantana5/ffqueue/pkg/models"
)

const writeWait = 5 * time.Second

type subscriber struct {
	conn *websocket.Conn
	send chan models.QueueEvent
}

func (c *subscriber) writeLoop() {
	defer c.conn.Close()
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(ev); err != nil {
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

type hub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*subscriber]struct{})}
}

// add registers conn and queues first ahead of any broadcast
func (h *hub) add(conn *websocket.Conn, first models.QueueEvent) *subscriber {
	c := &subscriber{conn: conn, send: make(chan models.QueueEvent, 64)}
	h.mu.Lock()
	defer h.mu.Unlock()
	c.send <- first
	h.subs[c] = struct{}{}
	return c
}

func (h *hub) remove(c *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[c]; ok {
		delete(h.subs, c)
		close(c.send)
	}
}

// broadcast drops subscribers that cannot keep up; they resync on reconnect
func (h *hub) broadcast(ev models.QueueEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.subs {
		select {
		case c.send <- ev:
		default:
			delete(h.subs, c)
			close(c.send)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.subs {
		delete(h.subs, c)
		close(c.send)
	}
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
