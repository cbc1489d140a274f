package app

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"boxchat/internal/conversation"
	"boxchat/internal/cryptographic/encryption"
	"boxchat/internal/repository/memory"
	"boxchat/internal/service/server"

	. "github.com/smartystreets/goconvey/convey"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memStore) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memStore) Save(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[key] = value
	return nil
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestSessions(t *testing.T) {
	ctx := context.Background()

	Convey("Given a relay and two signed up sessions", t, func() {
		relayCtx, cancel := context.WithCancel(ctx)
		relay := server.NewHttpServer(memory.NewUserStore(), memory.NewMessageStore(), server.NewLocalBroker(), server.NewTokens("test", time.Hour))
		So(relay.Start(relayCtx), ShouldBeNil)
		srv := httptest.NewServer(relay.Handler())
		Reset(func() {
			cancel()
			srv.Close()
		})

		aliceStore, bobStore := &memStore{}, &memStore{}
		alice, err := Authenticate(ctx, Options{
			ServerURL: srv.URL, Store: aliceStore, Signup: true,
			Email: "alice@x.io", Password: "secret123", DisplayName: "alice",
		})
		So(err, ShouldBeNil)
		Reset(func() { alice.Close() })

		bob, err := Authenticate(ctx, Options{
			ServerURL: srv.URL, Store: bobStore, Signup: true,
			Email: "bob@x.io", Password: "secret123", DisplayName: "bob",
		})
		So(err, ShouldBeNil)
		Reset(func() { bob.Close() })

		So(eventually(func() bool { return len(bob.Conversation.OnlineUsers()) == 2 }), ShouldBeTrue)

		Convey("hello travels sealed and shows up on both ends", func() {
			So(alice.Conversation.Open(ctx, bob.User.ID), ShouldBeNil)
			item, err := alice.Conversation.Send(ctx, "hello", "")
			So(err, ShouldBeNil)
			So(item.Text, ShouldEqual, "hello")
			So(encryption.IsSealed(item.Record.Text), ShouldBeTrue)

			// bob is not looking at alice: the message is counted once even
			// though it arrives by fan-out and by alice's notification
			So(eventually(func() bool { return bob.Conversation.Unseen()[alice.User.ID] == 1 }), ShouldBeTrue)
			time.Sleep(50 * time.Millisecond)
			So(bob.Conversation.Unseen()[alice.User.ID], ShouldEqual, 1)

			So(bob.Conversation.Open(ctx, alice.User.ID), ShouldBeNil)
			So(bob.Conversation.Unseen()[alice.User.ID], ShouldEqual, 0)
			msgs := bob.Conversation.Messages()
			So(len(msgs), ShouldEqual, 1)
			So(msgs[0].Text, ShouldEqual, "hello")

			Convey("and live messages append once while open", func() {
				_, err := alice.Conversation.Send(ctx, "again", "https://cdn.example.com/a.png")
				So(err, ShouldBeNil)
				So(eventually(func() bool { return len(bob.Conversation.Messages()) == 2 }), ShouldBeTrue)
				time.Sleep(50 * time.Millisecond)

				msgs := bob.Conversation.Messages()
				So(len(msgs), ShouldEqual, 2)
				So(msgs[1].Text, ShouldEqual, "again")
				So(msgs[1].Image, ShouldEqual, "https://cdn.example.com/a.png")
			})
		})

		Convey("a fresh login reuses the stored key pair", func() {
			pub := alice.Keys.PublicKey
			So(alice.Close(), ShouldBeNil)

			again, err := Authenticate(ctx, Options{
				ServerURL: srv.URL, Store: aliceStore,
				Email: "alice@x.io", Password: "secret123",
				Policy: conversation.MarkError,
			})
			So(err, ShouldBeNil)
			defer again.Close()
			So(again.Keys.PublicKey, ShouldEqual, pub)
			So(again.User.PublicKey, ShouldEqual, pub)
			So(again.DisplayName(bob.User.ID), ShouldEqual, "bob")
		})

		Convey("bad credentials do not produce a session", func() {
			_, err := Authenticate(ctx, Options{ServerURL: srv.URL, Store: &memStore{}, Email: "bob@x.io", Password: "nope-nope"})
			So(err, ShouldNotBeNil)
		})
	})
}
