package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"boxchat/internal/conversation"
	"boxchat/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

type (
	App struct {
		app     *tview.Application
		users   *tview.List
		chatbox *tview.TextView
		status  *tview.TextView
		input   *tview.InputField

		sess    *Session
		ctx     context.Context
		ids     []string
		stopped atomic.Bool
	}
)

func NewApp(sess *Session) *App {
	return &App{
		app:  tview.NewApplication(),
		sess: sess,
	}
}

// Run blocks until the user quits.
func (c *App) Run(ctx context.Context) error {
	c.ctx = ctx

	c.users = tview.NewList().ShowSecondaryText(false)
	c.users.SetBorder(true).SetTitle(" Users ")
	c.users.SetSelectedFunc(func(i int, _ string, _ string, _ rune) {
		if i < len(c.ids) {
			go c.open(c.ids[i])
		}
	})

	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true).SetTitle(" Chat ")

	c.status = tview.NewTextView().SetDynamicColors(true)

	c.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" New Message ")
	c.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := strings.TrimSpace(c.input.GetText())
		if text == "" {
			return
		}
		c.input.SetText("")
		c.handleInput(text)
	})

	c.app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyTab {
			if c.users.HasFocus() {
				c.app.SetFocus(c.input)
			} else {
				c.app.SetFocus(c.users)
			}
			return nil
		}
		return ev
	})

	right := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.status, 1, 0, false).
		AddItem(c.input, 3, 0, true)
	layout := tview.NewFlex().
		AddItem(c.users, 30, 0, false).
		AddItem(right, 0, 1, true)

	remove := c.sess.Conversation.OnChange(func() {
		c.queue(c.render)
	})
	defer remove()
	// nothing drains the update queue once Run returns
	defer c.stopped.Store(true)
	c.render()

	go func() {
		<-ctx.Done()
		c.app.Stop()
	}()

	return c.app.SetRoot(layout, true).SetFocus(c.users).Run()
}

func (c *App) handleInput(text string) {
	switch {
	case text == "/quit":
		c.app.Stop()
	case strings.HasPrefix(text, "/image "):
		url := strings.TrimSpace(strings.TrimPrefix(text, "/image "))
		go c.send("", url)
	default:
		go c.send(text, "")
	}
}

func (c *App) open(userID string) {
	if err := c.sess.Conversation.Open(c.ctx, userID); err != nil {
		log.Error("open conversation failed", zap.String("counterpart", userID), zap.Error(err))
		c.notice("could not load conversation: %v", err)
		return
	}
	c.notice("")
}

func (c *App) send(text, image string) {
	if _, err := c.sess.Conversation.Send(c.ctx, text, image); err != nil {
		log.Error("send message failed", zap.Error(err))
		switch {
		case errors.Is(err, conversation.ErrNoRecipientKey):
			c.notice("%s has not set up encryption yet", c.sess.DisplayName(c.sess.Conversation.Counterpart()))
		case errors.Is(err, conversation.ErrNoConversation):
			c.notice("pick someone to talk to first (Tab switches panes)")
		default:
			c.notice("send failed: %v", err)
		}
		return
	}
	c.notice("")
}

func (c *App) notice(format string, args ...any) {
	c.queue(func() {
		c.status.SetText("[red]" + tview.Escape(fmt.Sprintf(format, args...)) + "[-]")
	})
}

func (c *App) queue(fn func()) {
	if c.stopped.Load() {
		return
	}
	c.app.QueueUpdateDraw(fn)
}

// render runs on the UI goroutine.
func (c *App) render() {
	conv := c.sess.Conversation
	unseen := conv.Unseen()
	online := make(map[string]bool)
	for _, id := range conv.OnlineUsers() {
		online[id] = true
	}

	cur := c.users.GetCurrentItem()
	c.users.Clear()
	c.ids = c.ids[:0]
	for _, u := range c.sess.Directory.Users() {
		marker := "[gray]○[-]"
		if online[u.ID] {
			marker = "[green]●[-]"
		}
		label := fmt.Sprintf("%s %s", marker, tview.Escape(u.DisplayName))
		if n := unseen[u.ID]; n > 0 {
			label += fmt.Sprintf(" [yellow](%d)[-]", n)
		}
		c.users.AddItem(label, "", 0, nil)
		c.ids = append(c.ids, u.ID)
	}
	if cur < c.users.GetItemCount() {
		c.users.SetCurrentItem(cur)
	}

	counterpart := conv.Counterpart()
	if counterpart == "" {
		c.chatbox.SetTitle(" Chat ")
		c.chatbox.SetText("")
		return
	}
	title := fmt.Sprintf(" Chat with %s ", c.sess.DisplayName(counterpart))
	if conv.State() == conversation.Loading {
		title += "(loading) "
	}
	c.chatbox.SetTitle(title)

	var b strings.Builder
	for _, it := range conv.Messages() {
		if it.Record.SenderID == c.sess.User.ID {
			b.WriteString("[yellow]You:[-] ")
		} else {
			fmt.Fprintf(&b, "[green]%s:[-] ", tview.Escape(c.sess.DisplayName(it.Record.SenderID)))
		}
		if it.Err != nil && it.Text == "" && it.Image == "" {
			b.WriteString("[red]unable to decrypt[-]\n")
			continue
		}
		b.WriteString(tview.Escape(it.Text))
		if it.Image != "" {
			fmt.Fprintf(&b, " [blue][image] %s[-]", tview.Escape(it.Image))
		}
		b.WriteString("\n")
	}
	c.chatbox.SetText(b.String())
	c.chatbox.ScrollToEnd()
}
