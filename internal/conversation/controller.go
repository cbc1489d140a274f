// Package conversation keeps the decrypted projection of the open
// conversation and the per-counterpart unseen counters.
//
// Every payload is opened with the counterpart's public key and the local
// secret key, whoever authored it: box derives the same shared secret from
// (A.pub, B.sec) and (B.pub, A.sec).
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"boxchat/internal/cryptographic/encryption"
	"boxchat/internal/directory"
	"boxchat/internal/model"
	"boxchat/internal/utils/log"

	"go.uber.org/zap"
)

type State int

const (
	Idle State = iota
	Loading
	Ready
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FailurePolicy decides what an unseal failure looks like on screen.
type FailurePolicy int

const (
	// ShowRaw keeps the row and displays the stored payload.
	ShowRaw FailurePolicy = iota
	// Omit drops the row.
	Omit
	// MarkError keeps the row with the failed fields empty and Err set.
	MarkError
)

var (
	ErrNoRecipientKey = errors.New("counterpart has no public key")
	ErrNoLocalKeyPair = errors.New("no local key pair")
	ErrTransport      = errors.New("transport failure")
	ErrNoConversation = errors.New("no conversation open")
	ErrEmptyMessage   = errors.New("message has neither text nor image")
)

type (
	Relay interface {
		History(ctx context.Context, counterpartID string) ([]model.Message, error)
		Send(ctx context.Context, recipientID string, req model.SendRequest) (*model.Message, error)
		MarkSeen(ctx context.Context, messageID string) error
	}

	Directory interface {
		// Refresh returns the ids of unseen messages keyed by sender.
		Refresh(ctx context.Context) (map[string][]string, error)
		ResolvePublicKey(ctx context.Context, userID string) (string, error)
		PublicKey(userID string) (string, bool)
	}

	// Notifier pushes an already stored record to the realtime channel.
	Notifier interface {
		Notify(msg *model.Message) error
	}

	// Item is one displayed row: the record as stored plus its plaintext.
	Item struct {
		Record model.Message
		Text   string
		Image  string
		Err    error
	}

	Option func(*Controller)

	// unseenMark stamps a counted message with the refresh epoch it was
	// counted in. Marks taken from a snapshot carry epoch 0.
	unseenMark struct {
		sender string
		epoch  uint64
	}

	listener struct {
		id uint64
		fn func()
	}
)

func WithPolicy(p FailurePolicy) Option {
	return func(c *Controller) { c.policy = p }
}

func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

type Controller struct {
	localID  string
	keys     *model.KeyPair
	relay    Relay
	dir      Directory
	notifier Notifier
	policy   FailurePolicy

	mu          sync.Mutex
	counterpart string
	state       State
	gen         uint64
	epoch       uint64
	items       []Item
	index       map[string]int
	counted     map[string]unseenMark
	online      []string
	listeners   []listener
	nextID      uint64

	bg sync.WaitGroup
}

func New(localUserID string, keys *model.KeyPair, relay Relay, dir Directory, opts ...Option) *Controller {
	c := &Controller{
		localID: localUserID,
		keys:    keys,
		relay:   relay,
		dir:     dir,
		index:   make(map[string]int),
		counted: make(map[string]unseenMark),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnChange registers fn to run after every state change. fn runs on the
// goroutine that caused the change and must not block. The returned func
// removes fn; a change already in progress may still call it once.
func (c *Controller) OnChange(fn func()) (remove func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listener{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// Refresh reloads the directory and replaces the unseen counters with the
// relay's snapshot. Messages counted while the request was in flight are
// kept on top of it.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.epoch++
	start := c.epoch
	c.mu.Unlock()

	unseen, err := c.dir.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	c.mu.Lock()
	c.applyUnseenLocked(unseen, start)
	c.mu.Unlock()
	c.changed()
	return nil
}

// Open makes counterpartID the active conversation and loads its history.
// The relay marks the counterpart's messages seen while serving history.
// A response that arrives after another Open is discarded.
func (c *Controller) Open(ctx context.Context, counterpartID string) error {
	c.mu.Lock()
	prev := c.state
	if c.counterpart != counterpartID {
		c.items = nil
		c.index = make(map[string]int)
		prev = Idle
	}
	c.counterpart = counterpartID
	c.state = Loading
	c.gen++
	gen := c.gen
	c.epoch++
	start := c.epoch
	c.mu.Unlock()
	c.changed()

	unseen, err := c.dir.Refresh(ctx)
	if err != nil {
		return c.failOpen(gen, prev, err)
	}
	c.mu.Lock()
	c.applyUnseenLocked(unseen, start)
	c.mu.Unlock()

	history, err := c.relay.History(ctx, counterpartID)
	if err != nil {
		return c.failOpen(gen, prev, err)
	}

	key, hasKey := c.dir.PublicKey(counterpartID)
	loaded := make([]Item, 0, len(history))
	for _, m := range history {
		if m.SenderID == counterpartID {
			m.Seen = true
		}
		if item, keep := c.decrypt(m, key, hasKey); keep {
			loaded = append(loaded, item)
		}
	}

	c.mu.Lock()
	if c.gen != gen || c.counterpart != counterpartID {
		c.mu.Unlock()
		log.Debug("discarding stale history", zap.String("counterpart", counterpartID))
		return nil
	}

	// history replaces the list; rows that arrived live while loading
	// and are not part of it are kept after it
	index := make(map[string]int, len(loaded))
	for i, it := range loaded {
		index[it.Record.ID] = i
	}
	for _, it := range c.items {
		if _, ok := index[it.Record.ID]; ok {
			continue
		}
		index[it.Record.ID] = len(loaded)
		loaded = append(loaded, it)
	}
	c.items = loaded
	c.index = index
	c.state = Ready
	c.resetUnseenLocked(counterpartID)
	c.mu.Unlock()

	c.changed()
	return nil
}

func (c *Controller) failOpen(gen uint64, prev State, err error) error {
	c.mu.Lock()
	if c.gen == gen {
		c.state = prev
	}
	c.mu.Unlock()
	c.changed()
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

// Send seals text and image independently for the open counterpart, stores
// them through the relay and appends the stored record as a round trip
// would reproduce it.
func (c *Controller) Send(ctx context.Context, text, image string) (*Item, error) {
	c.mu.Lock()
	counterpart := c.counterpart
	c.mu.Unlock()

	if counterpart == "" {
		return nil, ErrNoConversation
	}
	if c.keys == nil || c.keys.SecretKey == "" {
		return nil, ErrNoLocalKeyPair
	}
	if text == "" && image == "" {
		return nil, ErrEmptyMessage
	}

	key, err := c.dir.ResolvePublicKey(ctx, counterpart)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, ErrNoRecipientKey
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	var req model.SendRequest
	if text != "" {
		if req.Text, err = encryption.Seal(text, key, c.keys.SecretKey); err != nil {
			return nil, err
		}
	}
	if image != "" {
		if req.Image, err = encryption.Seal(image, key, c.keys.SecretKey); err != nil {
			return nil, err
		}
	}

	stored, err := c.relay.Send(ctx, counterpart, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	item, keep := c.decrypt(*stored, key, true)

	c.mu.Lock()
	if keep && c.counterpart == stored.RecipientID {
		c.appendLocked(item)
	}
	c.mu.Unlock()
	c.changed()

	if c.notifier != nil {
		if err := c.notifier.Notify(stored); err != nil {
			log.Warn("send notification failed", zap.String("message", stored.ID), zap.Error(err))
		}
	}
	return &item, nil
}

// OnRealtimeMessage applies a newMessage event. The open counterpart is
// read when the event arrives, not when it was sent.
func (c *Controller) OnRealtimeMessage(msg *model.Message) {
	if msg == nil || msg.ID == "" {
		return
	}
	if msg.RecipientID != c.localID {
		log.Debug("ignoring message addressed elsewhere", zap.String("message", msg.ID))
		return
	}

	c.mu.Lock()
	if c.counterpart != "" && msg.SenderID == c.counterpart {
		if _, dup := c.index[msg.ID]; dup {
			c.mu.Unlock()
			return
		}
		key, hasKey := c.dir.PublicKey(msg.SenderID)
		m := *msg
		m.Seen = true
		if item, keep := c.decrypt(m, key, hasKey); keep {
			c.appendLocked(item)
		}
		c.mu.Unlock()
		c.changed()

		c.bg.Add(1)
		go c.markSeen(msg.ID)
		return
	}

	if _, dup := c.counted[msg.ID]; dup {
		c.mu.Unlock()
		return
	}
	c.counted[msg.ID] = unseenMark{sender: msg.SenderID, epoch: c.epoch}
	c.mu.Unlock()
	c.changed()
}

// OnPresence replaces the online list.
func (c *Controller) OnPresence(userIDs []string) {
	c.mu.Lock()
	c.online = append([]string(nil), userIDs...)
	c.mu.Unlock()
	c.changed()
}

func (c *Controller) markSeen(id string) {
	defer c.bg.Done()
	if err := c.relay.MarkSeen(context.Background(), id); err != nil {
		log.Debug("mark seen failed", zap.String("message", id), zap.Error(err))
	}
}

// Close drops all conversation state and waits for pending mark-seen calls.
func (c *Controller) Close() {
	c.mu.Lock()
	c.counterpart = ""
	c.state = Idle
	c.gen++
	c.items = nil
	c.index = make(map[string]int)
	c.counted = make(map[string]unseenMark)
	c.online = nil
	c.mu.Unlock()
	c.bg.Wait()
}

func (c *Controller) Counterpart() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counterpart
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Messages() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Item(nil), c.items...)
}

func (c *Controller) Unseen() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int)
	for _, m := range c.counted {
		out[m.sender]++
	}
	return out
}

func (c *Controller) OnlineUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.online...)
}

func (c *Controller) decrypt(m model.Message, key string, hasKey bool) (Item, bool) {
	item := Item{Record: m}

	open := func(payload string) (string, error) {
		switch {
		case payload == "":
			return "", nil
		case c.keys == nil:
			return "", ErrNoLocalKeyPair
		case !hasKey:
			return "", ErrNoRecipientKey
		}
		return encryption.Unseal(payload, key, c.keys.SecretKey)
	}

	text, textErr := open(m.Text)
	image, imageErr := open(m.Image)
	if textErr == nil && imageErr == nil {
		item.Text, item.Image = text, image
		return item, true
	}

	item.Err = textErr
	if item.Err == nil {
		item.Err = imageErr
	}
	log.Debug("unseal failed", zap.String("message", m.ID), zap.Error(item.Err))

	switch c.policy {
	case Omit:
		return item, false
	case MarkError:
		item.Text, item.Image = text, image
	default:
		item.Text, item.Image = text, image
		if textErr != nil {
			item.Text = m.Text
		}
		if imageErr != nil {
			item.Image = m.Image
		}
	}
	return item, true
}

func (c *Controller) appendLocked(item Item) {
	if _, dup := c.index[item.Record.ID]; dup {
		return
	}
	c.index[item.Record.ID] = len(c.items)
	c.items = append(c.items, item)
}

// applyUnseenLocked replaces the counted set with a snapshot requested at
// epoch start. Messages counted at or after start may postdate the
// snapshot, so they survive when it lacks them.
func (c *Controller) applyUnseenLocked(snapshot map[string][]string, start uint64) {
	counted := make(map[string]unseenMark)
	for sender, ids := range snapshot {
		if c.state == Ready && sender == c.counterpart {
			continue
		}
		for _, id := range ids {
			counted[id] = unseenMark{sender: sender}
		}
	}
	for id, m := range c.counted {
		if m.epoch < start {
			continue
		}
		if _, ok := counted[id]; !ok {
			counted[id] = m
		}
	}
	c.counted = counted
}

func (c *Controller) resetUnseenLocked(userID string) {
	for id, m := range c.counted {
		if m.sender == userID {
			delete(c.counted, id)
		}
	}
}

func (c *Controller) changed() {
	c.mu.Lock()
	listeners := append([]listener(nil), c.listeners...)
	c.mu.Unlock()
	for _, l := range listeners {
		l.fn()
	}
}
