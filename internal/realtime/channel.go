// Package realtime is the client side of the relay websocket.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"boxchat/internal/model"
	"boxchat/internal/utils/log"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

var ErrNotConnected = errors.New("realtime channel not connected")

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type (
	// DialFunc opens an authenticated websocket to the relay.
	DialFunc func(ctx context.Context) (*websocket.Conn, error)

	// Handlers run on the reader goroutine and must not block for long.
	Handlers struct {
		OnPresence func(userIDs []string)
		OnMessage  func(msg *model.Message)
		// OnDrop is called when the relay side ends the connection.
		OnDrop func(err error)
	}

	Channel struct {
		dial DialFunc
		h    Handlers

		mu    sync.Mutex
		state State
		conn  *websocket.Conn
		done  chan struct{}

		writeMu sync.Mutex
	}
)

func New(dial DialFunc, h Handlers) *Channel {
	return &Channel{dial: dial, h: h}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the relay and starts reading events. Calling it while
// connected is a no-op.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Connected:
		c.mu.Unlock()
		return nil
	case Connecting:
		c.mu.Unlock()
		return errors.New("realtime channel already connecting")
	}
	c.state = Connecting
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		return fmt.Errorf("dial relay: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.done = done
	c.state = Connected
	c.mu.Unlock()

	go c.listen(conn, done)
	return nil
}

func (c *Channel) listen(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.drop(conn, err)
			return
		}

		var ev model.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Error("unmarshal event failed", zap.Error(err))
			continue
		}

		switch ev.Type {
		case model.EventOnlineUsers:
			if c.h.OnPresence != nil {
				c.h.OnPresence(ev.OnlineUsers)
			}
		case model.EventNewMessage:
			if ev.Message != nil && c.h.OnMessage != nil {
				c.h.OnMessage(ev.Message)
			}
		default:
			log.Debug("unknown event", zap.String("type", ev.Type))
		}
	}
}

func (c *Channel) drop(conn *websocket.Conn, err error) {
	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
		c.state = Disconnected
	}
	c.mu.Unlock()
	conn.Close()

	if !current {
		return
	}
	log.Debug("relay socket closed", zap.Error(err))
	if c.h.OnDrop != nil {
		c.h.OnDrop(err)
	}
}

// Notify emits a sendMessage event for a record the relay already stored.
func (c *Channel) Notify(msg *model.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(&model.Event{Type: model.EventSendMessage, Message: msg})
}

// Close disconnects and waits for the reader to exit.
func (c *Channel) Close() error {
	c.mu.Lock()
	conn, done := c.conn, c.done
	c.conn = nil
	c.state = Disconnected
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()

	conn.Close()
	<-done
	return nil
}
