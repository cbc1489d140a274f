package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"boxchat/internal/model"
	"boxchat/internal/utils/log"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	KeepAlive          = 20 * time.Second
	MaxKeepAliveMisses = 3
	writeWait          = 10 * time.Second
	maxEventSize       = 1 << 20
)

var ErrUnresponsive = errors.New("connection unresponsive")

// Hub tracks one websocket per user on this instance and writes broker
// envelopes to them. Delivery is at-most-once: a user without a live
// connection picks the message up from history.
type Hub struct {
	broker   Broker
	messages MessageStore
	metrics  *metrics

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewHub(broker Broker, messages MessageStore, m *metrics) *Hub {
	return &Hub{
		broker:   broker,
		messages: messages,
		metrics:  m,
		sessions: make(map[string]*session),
	}
}

// Start subscribes to the broker and delivers envelopes until ctx is done,
// then closes every session.
func (h *Hub) Start(ctx context.Context) error {
	envs, err := h.broker.Subscribe(ctx)
	if err != nil {
		return err
	}

	go func() {
		for env := range envs {
			h.dispatch(env)
		}

		h.mu.Lock()
		sessions := h.sessions
		h.sessions = make(map[string]*session)
		h.mu.Unlock()
		for id, s := range sessions {
			s.Close()
			if err := h.broker.Leave(context.Background(), id); err != nil {
				log.Error("leave presence failed", zap.String("user", id), zap.Error(err))
			}
		}
	}()
	return nil
}

// Deliver fans a stored message out to its recipient.
func (h *Hub) Deliver(ctx context.Context, msg *model.Message) error {
	return h.broker.Publish(ctx, Envelope{
		To:    msg.RecipientID,
		Event: model.Event{Type: model.EventNewMessage, Message: msg},
	})
}

func (h *Hub) dispatch(env Envelope) {
	data, err := json.Marshal(env.Event)
	if err != nil {
		log.Error("marshal event failed", zap.Error(err))
		return
	}

	h.mu.RLock()
	var targets []*session
	if env.To == "" {
		for _, s := range h.sessions {
			targets = append(targets, s)
		}
	} else if s, ok := h.sessions[env.To]; ok {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if s.push(data) {
			h.metrics.delivered.WithLabelValues(env.Event.Type).Inc()
		}
	}
}

func (h *Hub) register(ctx context.Context, s *session) {
	h.mu.Lock()
	old := h.sessions[s.userID]
	h.sessions[s.userID] = s
	h.mu.Unlock()

	if old != nil {
		log.Info("replacing connection", zap.String("user", s.userID))
		old.Close()
	}
	h.metrics.connections.Inc()

	if err := h.broker.Join(ctx, s.userID); err != nil {
		log.Error("join presence failed", zap.String("user", s.userID), zap.Error(err))
	}
	h.publishPresence(ctx)
}

func (h *Hub) unregister(ctx context.Context, s *session) {
	h.metrics.connections.Dec()

	h.mu.Lock()
	current := h.sessions[s.userID] == s
	if current {
		delete(h.sessions, s.userID)
	}
	h.mu.Unlock()
	if !current {
		return
	}

	if err := h.broker.Leave(ctx, s.userID); err != nil {
		log.Error("leave presence failed", zap.String("user", s.userID), zap.Error(err))
	}
	h.publishPresence(ctx)
}

func (h *Hub) publishPresence(ctx context.Context) {
	online, err := h.broker.Online(ctx)
	if err != nil {
		log.Error("read presence failed", zap.Error(err))
		return
	}
	err = h.broker.Publish(ctx, Envelope{Event: model.Event{Type: model.EventOnlineUsers, OnlineUsers: online}})
	if err != nil {
		log.Error("publish presence failed", zap.Error(err))
	}
}

// forward relays a client's sendMessage notification. Only records the
// sender actually stored are forwarded, and always as stored.
func (h *Hub) forward(ctx context.Context, userID string, msg *model.Message) {
	if msg == nil || msg.ID == "" {
		return
	}

	stored, err := h.messages.Get(ctx, msg.ID)
	if err != nil {
		log.Error("get message failed", zap.String("message", msg.ID), zap.Error(err))
		return
	}
	if stored == nil || stored.SenderID != userID {
		log.Warn("dropping unverified sendMessage", zap.String("user", userID), zap.String("message", msg.ID))
		return
	}

	if err := h.Deliver(ctx, stored); err != nil {
		log.Error("forward message failed", zap.String("message", stored.ID), zap.Error(err))
	}
}

func (s *HttpServer) HandleWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("token")
		if raw == "" {
			raw = bearerToken(r)
		}
		userID, err := s.tokens.Verify(raw)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("upgrade failed", zap.Error(err))
			return
		}
		conn.SetReadLimit(maxEventSize)

		sess := newSession(userID, conn)
		s.hub.register(context.Background(), sess)
		go func() {
			if err := sess.serve(s.hub); err != nil {
				log.Debug("session ended", zap.String("user", userID), zap.Error(err))
			}
			s.hub.unregister(context.Background(), sess)
		}()
	}
}

type session struct {
	userID string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	incoming chan model.Event
	outgoing chan []byte

	outstandingPings uint32
}

func newSession(userID string, conn *websocket.Conn) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		userID:   userID,
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		incoming: make(chan model.Event),
		outgoing: make(chan []byte, 100),
	}
	conn.SetPongHandler(s.handlePong)
	return s
}

func (s *session) Close() {
	s.cancel()
}

func (s *session) handlePong(string) error {
	atomic.StoreUint32(&s.outstandingPings, 0)
	return nil
}

// push queues data without blocking; a full queue drops it.
func (s *session) push(data []byte) bool {
	select {
	case <-s.ctx.Done():
		return false
	case s.outgoing <- data:
		return true
	default:
		log.Warn("outgoing queue full, dropping event", zap.String("user", s.userID))
		return false
	}
}

func (s *session) serve(h *Hub) error {
	defer s.conn.Close()
	go s.readMessages()

	keepalive := time.NewTimer(KeepAlive)
	defer keepalive.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return s.ctx.Err()

		case <-keepalive.C:
			if pings := atomic.AddUint32(&s.outstandingPings, 1); pings > MaxKeepAliveMisses {
				return ErrUnresponsive
			}
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
			keepalive.Reset(KeepAlive)

		case ev := <-s.incoming:
			switch ev.Type {
			case model.EventSendMessage:
				h.forward(s.ctx, s.userID, ev.Message)
			default:
				log.Debug("ignoring client event", zap.String("type", ev.Type))
			}

		case data := <-s.outgoing:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		}
	}
}

func (s *session) readMessages() {
	defer s.Close()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			log.Debug("web socket closed", zap.String("user", s.userID), zap.Error(err))
			return
		}

		var ev model.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Error("unmarshal event failed", zap.Error(err))
			continue
		}

		select {
		case s.incoming <- ev:
		case <-s.ctx.Done():
			return
		}
	}
}
