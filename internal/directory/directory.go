// Package directory resolves counterpart public keys from the relay's user
// list. Refresh is demand driven; there is no background polling.
package directory

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"boxchat/internal/model"
	"boxchat/internal/utils/log"

	"go.uber.org/zap"
)

var ErrNotFound = errors.New("public key not found")

// Source is the relay surface the directory needs.
type Source interface {
	Users(ctx context.Context) (*model.UsersResponse, error)
	UploadKey(ctx context.Context, publicKey string) error
}

type Directory struct {
	src Source

	mu    sync.RWMutex
	users map[string]model.User
	order []string
}

func New(src Source) *Directory {
	return &Directory{
		src:   src,
		users: make(map[string]model.User),
	}
}

// Refresh replaces the cached users with the relay's list and returns the
// unseen snapshot that came with it: the ids of unseen messages keyed by
// sender.
func (d *Directory) Refresh(ctx context.Context) (map[string][]string, error) {
	resp, err := d.src.Users(ctx)
	if err != nil {
		return nil, err
	}

	users := make(map[string]model.User, len(resp.Users))
	order := make([]string, 0, len(resp.Users))
	for _, u := range resp.Users {
		users[u.ID] = u
		order = append(order, u.ID)
	}
	unseen := unseenIDs(resp)

	d.mu.Lock()
	d.users = users
	d.order = order
	d.mu.Unlock()

	log.Debug("directory refreshed", zap.Int("users", len(users)), zap.Int("senders", len(unseen)))
	return unseen, nil
}

// unseenIDs prefers the relay's id lists. A sender reported only by count
// gets placeholder ids so the count still shows.
func unseenIDs(resp *model.UsersResponse) map[string][]string {
	unseen := make(map[string][]string, len(resp.UnseenMessages))
	for sender, ids := range resp.UnseenMessageIDs {
		if len(ids) > 0 {
			unseen[sender] = append([]string(nil), ids...)
		}
	}
	for sender, n := range resp.UnseenMessages {
		if _, ok := unseen[sender]; ok || n <= 0 {
			continue
		}
		ids := make([]string, n)
		for i := range ids {
			ids[i] = "unseen:" + sender + ":" + strconv.Itoa(i)
		}
		unseen[sender] = ids
	}
	return unseen
}

// PublicKey is a cache-only lookup.
func (d *Directory) PublicKey(userID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok || u.PublicKey == "" {
		return "", false
	}
	return u.PublicKey, true
}

// ResolvePublicKey returns the cached key, refetching the user list once on
// a miss. A user without an uploaded key counts as a miss.
func (d *Directory) ResolvePublicKey(ctx context.Context, userID string) (string, error) {
	if key, ok := d.PublicKey(userID); ok {
		return key, nil
	}

	if _, err := d.Refresh(ctx); err != nil {
		return "", err
	}

	if key, ok := d.PublicKey(userID); ok {
		return key, nil
	}
	return "", ErrNotFound
}

// UploadLocalPublicKey overwrites the caller's key on the relay. Safe to
// call after every authentication.
func (d *Directory) UploadLocalPublicKey(ctx context.Context, publicKey string) error {
	return d.src.UploadKey(ctx, publicKey)
}

func (d *Directory) User(userID string) (model.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	return u, ok
}

// Users returns the cached users in relay order.
func (d *Directory) Users() []model.User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]model.User, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.users[id])
	}
	return out
}
