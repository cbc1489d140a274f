// Package memory implements the relay stores in process memory. It backs
// the memory storage mode and the relay tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"boxchat/internal/model"
	"boxchat/internal/repository"
)

type UserStore struct {
	mu    sync.RWMutex
	users map[string]model.User
	email map[string]string
}

func NewUserStore() *UserStore {
	return &UserStore{
		users: make(map[string]model.User),
		email: make(map[string]string),
	}
}

func (s *UserStore) Create(_ context.Context, user *model.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.email[user.Email]; ok {
		return repository.ErrDuplicateEmail
	}
	s.users[user.ID] = *user
	s.email[user.Email] = user.ID
	return nil
}

func (s *UserStore) GetByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.email[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, nil
	}
	u := s.users[id]
	return &u, nil
}

func (s *UserStore) GetByID(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *UserStore) ListExcept(_ context.Context, id string) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]model.User, 0, len(s.users))
	for uid, u := range s.users {
		if uid != id {
			u.PasswordHash = nil
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (s *UserStore) UpdatePublicKey(_ context.Context, id, publicKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PublicKey = publicKey
	s.users[id] = u
	return nil
}

func (s *UserStore) UpdateProfile(_ context.Context, id string, req model.UpdateProfileRequest) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	if req.DisplayName != "" {
		u.DisplayName = req.DisplayName
	}
	if req.Bio != "" {
		u.Bio = req.Bio
	}
	s.users[id] = u
	return &u, nil
}

// MessageStore keeps messages in insertion order.
type MessageStore struct {
	mu       sync.RWMutex
	messages []model.Message
	index    map[string]int
}

func NewMessageStore() *MessageStore {
	return &MessageStore{index: make(map[string]int)}
}

func (s *MessageStore) Create(_ context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *MessageStore) Get(_ context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return nil, nil
	}
	m := s.messages[i]
	return &m, nil
}

func (s *MessageStore) Conversation(_ context.Context, a, b string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Message{}
	for _, m := range s.messages {
		if (m.SenderID == a && m.RecipientID == b) || (m.SenderID == b && m.RecipientID == a) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MessageStore) MarkSeenFrom(_ context.Context, senderID, recipientID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.messages {
		m := &s.messages[i]
		if m.SenderID == senderID && m.RecipientID == recipientID && !m.Seen {
			m.Seen = true
			n++
		}
	}
	return n, nil
}

func (s *MessageStore) MarkSeen(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[id]; ok {
		s.messages[i].Seen = true
	}
	return nil
}

func (s *MessageStore) UnseenBySender(_ context.Context, recipientID string) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	unseen := make(map[string][]string)
	for _, m := range s.messages {
		if m.RecipientID == recipientID && !m.Seen {
			unseen[m.SenderID] = append(unseen[m.SenderID], m.ID)
		}
	}
	return unseen, nil
}
