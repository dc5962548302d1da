package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/psantana5/ffqueue/pkg/models"
)

func (c *Client) eventsURL() (string, error) {
	endpoint := c.baseURL
	endpoint = strings.Replace(endpoint, "http://", "ws://", 1)
	endpoint = strings.Replace(endpoint, "https://", "wss://", 1)

	u, err := url.Parse(endpoint + "/queue/events")
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	return u.String(), nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := c.eventsURL()
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if t, ok := c.httpClient.Transport.(*http.Transport); ok && t.TLSClientConfig != nil {
		dialer.TLSClientConfig = t.TLSClientConfig
	}
	header := http.Header{}
	c.addAuthHeader(header)

	conn, _, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	return conn, nil
}

// Subscribe opens the push channel. The first connection is made before
// returning; after a disconnect the client reconnects and emits a synthetic
// revision event so consumers resynchronize.
func (c *Client) Subscribe(ctx context.Context) (<-chan models.QueueEvent, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	events := make(chan models.QueueEvent, 16)
	go func() {
		defer close(events)
		for {
			c.readLoop(ctx, conn, events)
			if ctx.Err() != nil {
				return
			}

			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.reconnectDelay):
				}
				conn, err = c.dial(ctx)
				if err == nil {
					break
				}
				c.logger.Warn("queue event channel reconnect failed", map[string]interface{}{"error": err.Error()})
			}

			c.logger.Info("queue event channel reconnected")
			select {
			case events <- models.QueueEvent{Type: models.QueueEventRevision}:
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()
	return events, nil
}

// readLoop forwards events until the connection drops or ctx is done
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, events chan<- models.QueueEvent) {
	var once sync.Once
	closeConn := func() { once.Do(func() { conn.Close() }) }
	defer closeConn()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var ev models.QueueEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("queue event channel closed", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
