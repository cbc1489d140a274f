package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"boxchat/internal/conversation"
	"boxchat/internal/directory"
	"boxchat/internal/model"

	"github.com/gdamore/tcell/v2"
	. "github.com/smartystreets/goconvey/convey"
)

func TestAppShutdown(t *testing.T) {
	Convey("Given an app running on a simulated screen", t, func() {
		dir := directory.New(nil)
		sess := &Session{
			User:         &model.User{ID: "b", DisplayName: "bob"},
			Directory:    dir,
			Conversation: conversation.New("b", nil, nil, dir),
		}
		a := NewApp(sess)
		a.app.SetScreen(tcell.NewSimulationScreen("UTF-8"))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- a.Run(ctx) }()

		ready := make(chan struct{})
		a.app.QueueUpdate(func() { close(ready) })
		<-ready

		cancel()
		So(<-done, ShouldBeNil)

		Convey("later changes and notices do not block", func() {
			flushed := make(chan struct{})
			go func() {
				for i := 0; i < 500; i++ {
					sess.Conversation.OnPresence([]string{fmt.Sprint(i)})
					a.notice("n %d", i)
				}
				close(flushed)
			}()

			select {
			case <-flushed:
			case <-time.After(5 * time.Second):
				So("updates blocked", ShouldBeEmpty)
			}
		})
	})
}
