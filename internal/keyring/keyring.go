// Package keyring owns the local box key pair. The secret half is only ever
// written to local storage.
package keyring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"boxchat/internal/cryptographic/dh"
	"boxchat/internal/cryptographic/encryption"
	"boxchat/internal/model"
	"boxchat/internal/utils/log"

	"go.uber.org/zap"
)

// StorageKey is the versioned name of the persisted record.
const StorageKey = "userKeyPair_v1"

var errInvalidRecord = errors.New("invalid key pair record")

// Store persists opaque records by key. Load returns nil, nil when the key
// is absent.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
}

type Keyring struct {
	store Store

	mu   sync.Mutex
	pair *model.KeyPair
}

func New(store Store) *Keyring {
	return &Keyring{store: store}
}

// LoadOrCreate returns the persisted key pair, generating and persisting a
// new one when the record is missing or unusable.
func (k *Keyring) LoadOrCreate(ctx context.Context) (*model.KeyPair, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.pair != nil {
		return copyPair(k.pair), nil
	}

	raw, err := k.store.Load(ctx, StorageKey)
	if err != nil {
		return nil, fmt.Errorf("keyring: load: %w", err)
	}

	if raw != nil {
		pair, err := decode(raw)
		if err == nil {
			k.pair = pair
			return copyPair(pair), nil
		}
		log.Warn("keyring: stored key pair unusable, regenerating", zap.Error(err))
	}

	pair, err := generate()
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(pair)
	if err != nil {
		return nil, err
	}
	if err := k.store.Save(ctx, StorageKey, data); err != nil {
		return nil, fmt.Errorf("keyring: save: %w", err)
	}

	log.Info("keyring: generated new key pair")
	k.pair = pair
	return copyPair(pair), nil
}

// PublicKey returns the loaded public key or "" before LoadOrCreate.
func (k *Keyring) PublicKey() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.pair == nil {
		return ""
	}
	return k.pair.PublicKey
}

func generate() (*model.KeyPair, error) {
	priv, pub, err := dh.NewX25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("keyring: %w", err)
	}
	return &model.KeyPair{
		PublicKey: encryption.EncodeKey(&pub),
		SecretKey: encryption.EncodeKey(&priv),
	}, nil
}

func decode(raw []byte) (*model.KeyPair, error) {
	var pair model.KeyPair
	if err := json.Unmarshal(raw, &pair); err != nil {
		return nil, err
	}

	pub, err := encryption.ParseKey(pair.PublicKey)
	if err != nil {
		return nil, errInvalidRecord
	}
	sec, err := encryption.ParseKey(pair.SecretKey)
	if err != nil {
		return nil, errInvalidRecord
	}
	if !dh.Matches(*sec, *pub) {
		return nil, errInvalidRecord
	}
	return &pair, nil
}

func copyPair(p *model.KeyPair) *model.KeyPair {
	cp := *p
	return &cp
}
