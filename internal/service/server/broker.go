package server

import (
	"context"
	"sort"
	"sync"

	"boxchat/internal/model"
	"boxchat/internal/utils/log"

	"go.uber.org/zap"
)

type (
	// Envelope is an event on its way to local connections. An empty To
	// addresses every connection.
	Envelope struct {
		To    string      `json:"to,omitempty"`
		Event model.Event `json:"event"`
	}

	// Broker keeps the online set and carries envelopes between relay
	// instances.
	Broker interface {
		Join(ctx context.Context, userID string) error
		Leave(ctx context.Context, userID string) error
		Online(ctx context.Context) ([]string, error)
		Publish(ctx context.Context, env Envelope) error
		// Subscribe delivers every published envelope until ctx is done,
		// then closes the channel.
		Subscribe(ctx context.Context) (<-chan Envelope, error)
		Close() error
	}
)

// LocalBroker serves a single relay instance.
type LocalBroker struct {
	mu     sync.Mutex
	online map[string]struct{}
	subs   map[chan Envelope]struct{}
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{
		online: make(map[string]struct{}),
		subs:   make(map[chan Envelope]struct{}),
	}
}

func (b *LocalBroker) Join(_ context.Context, userID string) error {
	b.mu.Lock()
	b.online[userID] = struct{}{}
	b.mu.Unlock()
	return nil
}

func (b *LocalBroker) Leave(_ context.Context, userID string) error {
	b.mu.Lock()
	delete(b.online, userID)
	b.mu.Unlock()
	return nil
}

func (b *LocalBroker) Online(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.online))
	for id := range b.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *LocalBroker) Publish(_ context.Context, env Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- env:
		default:
			log.Warn("subscriber full, dropping event", zap.String("type", env.Event.Type))
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	ch := make(chan Envelope, 256)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

func (b *LocalBroker) Close() error {
	return nil
}
