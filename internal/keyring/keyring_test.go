package keyring

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"boxchat/internal/cryptographic/encryption"
	"boxchat/internal/model"

	. "github.com/smartystreets/goconvey/convey"
)

type memStore struct {
	data    map[string][]byte
	saves   int
	loadErr error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Load(_ context.Context, key string) ([]byte, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.data[key], nil
}

func (m *memStore) Save(_ context.Context, key string, value []byte) error {
	m.saves++
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func TestLoadOrCreate(t *testing.T) {
	ctx := context.Background()

	Convey("First call generates and persists a usable pair", t, func() {
		store := newMemStore()
		kr := New(store)

		pair, err := kr.LoadOrCreate(ctx)
		So(err, ShouldBeNil)
		So(store.saves, ShouldEqual, 1)
		So(kr.PublicKey(), ShouldEqual, pair.PublicKey)

		var persisted model.KeyPair
		So(json.Unmarshal(store.data[StorageKey], &persisted), ShouldBeNil)
		So(persisted, ShouldResemble, *pair)

		Convey("and it seals for itself", func() {
			sealed, err := encryption.Seal("x", pair.PublicKey, pair.SecretKey)
			So(err, ShouldBeNil)
			plain, err := encryption.Unseal(sealed, pair.PublicKey, pair.SecretKey)
			So(err, ShouldBeNil)
			So(plain, ShouldEqual, "x")
		})

		Convey("Repeated calls never regenerate", func() {
			again, err := kr.LoadOrCreate(ctx)
			So(err, ShouldBeNil)
			So(again, ShouldResemble, pair)

			fresh, err := New(store).LoadOrCreate(ctx)
			So(err, ShouldBeNil)
			So(fresh, ShouldResemble, pair)
			So(store.saves, ShouldEqual, 1)
		})
	})

	Convey("Malformed records are replaced silently", t, func() {
		for _, raw := range []string{
			`{not json`,
			`{"publicKey":"","secretKey":""}`,
			`{"publicKey":"AAAA","secretKey":"AAAA"}`,
		} {
			store := newMemStore()
			store.data[StorageKey] = []byte(raw)

			pair, err := New(store).LoadOrCreate(ctx)
			So(err, ShouldBeNil)
			So(pair.PublicKey, ShouldNotBeEmpty)
			So(store.saves, ShouldEqual, 1)
		}
	})

	Convey("A pair whose halves do not match is replaced", t, func() {
		store := newMemStore()
		a, _ := New(newMemStore()).LoadOrCreate(ctx)
		b, _ := New(newMemStore()).LoadOrCreate(ctx)
		mixed, _ := json.Marshal(model.KeyPair{PublicKey: a.PublicKey, SecretKey: b.SecretKey})
		store.data[StorageKey] = mixed

		pair, err := New(store).LoadOrCreate(ctx)
		So(err, ShouldBeNil)
		So(pair.PublicKey, ShouldNotEqual, a.PublicKey)
		So(pair.SecretKey, ShouldNotEqual, b.SecretKey)
	})

	Convey("Store read errors are surfaced", t, func() {
		store := newMemStore()
		store.loadErr = errors.New("disk on fire")
		_, err := New(store).LoadOrCreate(ctx)
		So(err, ShouldNotBeNil)
		So(store.saves, ShouldEqual, 0)
	})
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()

	Convey("Records survive a new process", t, func() {
		path := filepath.Join(t.TempDir(), "nested", "keyring.json")

		first, err := New(NewFileStore(path)).LoadOrCreate(ctx)
		So(err, ShouldBeNil)

		info, err := os.Stat(path)
		So(err, ShouldBeNil)
		So(info.Mode().Perm(), ShouldEqual, os.FileMode(0o600))

		second, err := New(NewFileStore(path)).LoadOrCreate(ctx)
		So(err, ShouldBeNil)
		So(second, ShouldResemble, first)
	})

	Convey("A damaged file reads as absent", t, func() {
		path := filepath.Join(t.TempDir(), "keyring.json")
		So(os.WriteFile(path, []byte("garbage"), 0o600), ShouldBeNil)

		s := NewFileStore(path)
		v, err := s.Load(ctx, StorageKey)
		So(err, ShouldBeNil)
		So(v, ShouldBeNil)

		pair, err := New(s).LoadOrCreate(ctx)
		So(err, ShouldBeNil)
		So(pair.SecretKey, ShouldNotBeEmpty)
	})
}
