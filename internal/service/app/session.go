package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"boxchat/internal/conversation"
	"boxchat/internal/directory"
	"boxchat/internal/keyring"
	"boxchat/internal/model"
	"boxchat/internal/realtime"
	"boxchat/internal/service/api"
	"boxchat/internal/utils/log"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Options struct {
	ServerURL  string
	HTTPClient *http.Client
	// Store holds the local key pair record.
	Store keyring.Store

	Email    string
	Password string

	// Signup creates the account instead of logging in.
	Signup      bool
	DisplayName string
	Bio         string

	Policy conversation.FailurePolicy
}

// Session is everything that lives between login and logout. Components
// get their collaborators from here instead of from globals.
type Session struct {
	User         *model.User
	Keys         *model.KeyPair
	API          *api.Client
	Directory    *directory.Directory
	Channel      *realtime.Channel
	Conversation *conversation.Controller
}

// Authenticate loads or creates the local key pair, logs in (or signs up),
// uploads the public key and connects the realtime channel.
func Authenticate(ctx context.Context, opts Options) (*Session, error) {
	if opts.Store == nil {
		return nil, errors.New("no keyring store")
	}
	keys, err := keyring.New(opts.Store).LoadOrCreate(ctx)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}

	client, err := api.NewClient(opts.ServerURL, opts.HTTPClient)
	if err != nil {
		return nil, err
	}

	var auth *model.AuthResponse
	if opts.Signup {
		auth, err = client.Signup(ctx, model.SignupRequest{
			Email:       opts.Email,
			DisplayName: opts.DisplayName,
			Password:    opts.Password,
			Bio:         opts.Bio,
			PublicKey:   keys.PublicKey,
		})
	} else {
		auth, err = client.Login(ctx, model.LoginRequest{Email: opts.Email, Password: opts.Password})
	}
	if err != nil {
		return nil, err
	}
	if auth.User == nil {
		return nil, errors.New("relay returned no user")
	}

	authed := client.WithToken(auth.Token)
	dir := directory.New(authed)
	if err := dir.UploadLocalPublicKey(ctx, keys.PublicKey); err != nil {
		return nil, fmt.Errorf("upload public key: %w", err)
	}
	auth.User.PublicKey = keys.PublicKey

	s := &Session{
		User:      auth.User,
		Keys:      keys,
		API:       authed,
		Directory: dir,
	}

	s.Channel = realtime.New(func(ctx context.Context) (*websocket.Conn, error) {
		return authed.Dial(ctx, nil)
	}, realtime.Handlers{
		OnPresence: func(ids []string) { s.Conversation.OnPresence(ids) },
		OnMessage:  func(msg *model.Message) { s.Conversation.OnRealtimeMessage(msg) },
		OnDrop: func(err error) {
			log.Warn("realtime channel dropped", zap.Error(err))
		},
	})
	s.Conversation = conversation.New(auth.User.ID, keys, authed, dir,
		conversation.WithPolicy(opts.Policy),
		conversation.WithNotifier(s.Channel),
	)

	if err := s.Channel.Connect(ctx); err != nil {
		return nil, err
	}
	if err := s.Conversation.Refresh(ctx); err != nil {
		s.Channel.Close()
		return nil, err
	}

	log.Info("session started", zap.String("user", auth.User.ID))
	return s, nil
}

// Close is logout: the channel is disconnected and conversation state is
// dropped.
func (s *Session) Close() error {
	err := s.Channel.Close()
	s.Conversation.Close()
	log.Info("session closed", zap.String("user", s.User.ID))
	return err
}

// DisplayName resolves a user id through the directory cache.
func (s *Session) DisplayName(userID string) string {
	if userID == s.User.ID {
		return s.User.DisplayName
	}
	if u, ok := s.Directory.User(userID); ok && u.DisplayName != "" {
		return u.DisplayName
	}
	return userID
}
