package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"boxchat/internal/model"
	"boxchat/internal/service/api"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeRelay struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	inbound  chan model.Event
	tokens   chan string
	upgrader websocket.Upgrader
}

func newFakeRelay() *fakeRelay {
	f := &fakeRelay{
		conns:   make(chan *websocket.Conn, 4),
		inbound: make(chan model.Event, 16),
		tokens:  make(chan string, 4),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		f.tokens <- r.URL.Query().Get("token")
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- conn
		go func() {
			for {
				var ev model.Event
				if err := conn.ReadJSON(&ev); err != nil {
					return
				}
				f.inbound <- ev
			}
		}()
	}))
	return f
}

func (f *fakeRelay) dialer(token string) DialFunc {
	client, err := api.NewClient(f.srv.URL, nil)
	if err != nil {
		panic(err)
	}
	client = client.WithToken(token)
	return func(ctx context.Context) (*websocket.Conn, error) {
		return client.Dial(ctx, nil)
	}
}

func TestChannel(t *testing.T) {
	ctx := context.Background()

	Convey("Given a relay and a channel", t, func() {
		relay := newFakeRelay()

		presence := make(chan []string, 4)
		messages := make(chan *model.Message, 4)
		dropped := make(chan error, 1)
		ch := New(relay.dialer("t1"), Handlers{
			OnPresence: func(ids []string) { presence <- ids },
			OnMessage:  func(m *model.Message) { messages <- m },
			OnDrop:     func(err error) { dropped <- err },
		})
		So(ch.State(), ShouldEqual, Disconnected)

		Convey("emitting before connecting fails", func() {
			So(ch.Notify(&model.Message{ID: "m1"}), ShouldEqual, ErrNotConnected)
		})

		Convey("when connected", func() {
			So(ch.Connect(ctx), ShouldBeNil)
			So(ch.State(), ShouldEqual, Connected)
			So(<-relay.tokens, ShouldEqual, "t1")
			server := <-relay.conns

			Convey("connecting again is a no-op", func() {
				So(ch.Connect(ctx), ShouldBeNil)
				So(len(relay.conns), ShouldEqual, 0)
			})

			Convey("presence lists are passed on whole", func() {
				So(server.WriteJSON(model.Event{Type: model.EventOnlineUsers, OnlineUsers: []string{"a", "b"}}), ShouldBeNil)
				So(server.WriteJSON(model.Event{Type: model.EventOnlineUsers, OnlineUsers: []string{"c"}}), ShouldBeNil)
				So(<-presence, ShouldResemble, []string{"a", "b"})
				So(<-presence, ShouldResemble, []string{"c"})
			})

			Convey("new messages reach the handler with sealed fields intact", func() {
				msg := &model.Message{ID: "m1", SenderID: "a", RecipientID: "b", Text: "bm9uY2U=:Y2lwaGVy"}
				So(server.WriteMessage(websocket.TextMessage, []byte("{broken")), ShouldBeNil)
				So(server.WriteJSON(model.Event{Type: "typing"}), ShouldBeNil)
				So(server.WriteJSON(model.Event{Type: model.EventNewMessage, Message: msg}), ShouldBeNil)

				got := <-messages
				So(got.ID, ShouldEqual, "m1")
				So(got.Text, ShouldEqual, msg.Text)
				So(ch.State(), ShouldEqual, Connected)
			})

			Convey("Notify emits the stored record", func() {
				stored := &model.Message{ID: "m2", SenderID: "a", RecipientID: "b", Image: "bm9uY2U=:aW1n"}
				So(ch.Notify(stored), ShouldBeNil)

				ev := <-relay.inbound
				So(ev.Type, ShouldEqual, model.EventSendMessage)
				So(ev.Message.ID, ShouldEqual, "m2")
				So(ev.Message.Image, ShouldEqual, stored.Image)
			})

			Convey("Close returns to Disconnected without reporting a drop", func() {
				So(ch.Close(), ShouldBeNil)
				So(ch.State(), ShouldEqual, Disconnected)
				So(ch.Notify(&model.Message{ID: "m3"}), ShouldEqual, ErrNotConnected)
				So(len(dropped), ShouldEqual, 0)
				So(ch.Close(), ShouldBeNil)
			})

			Convey("a relay hangup is reported and the channel can reconnect", func() {
				server.Close()
				select {
				case err := <-dropped:
					So(err, ShouldNotBeNil)
				case <-time.After(5 * time.Second):
					So("drop not reported", ShouldBeEmpty)
				}
				So(ch.State(), ShouldEqual, Disconnected)

				So(ch.Connect(ctx), ShouldBeNil)
				So(ch.State(), ShouldEqual, Connected)
				So(ch.Close(), ShouldBeNil)
			})
		})

		Convey("a failed dial leaves the channel disconnected", func() {
			relay.srv.Close()
			So(ch.Connect(ctx), ShouldNotBeNil)
			So(ch.State(), ShouldEqual, Disconnected)
		})

		Reset(func() {
			ch.Close()
			relay.srv.Close()
		})
	})
}
