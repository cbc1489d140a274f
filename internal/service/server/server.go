// Package server is the delivery relay: auth collaborator, message store
// endpoints and the websocket hub. It never sees plaintext; sealed
// payloads are stored and forwarded as opaque strings.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"boxchat/internal/model"
	"boxchat/internal/utils/log"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type (
	UserStore interface {
		Create(ctx context.Context, user *model.User) error
		GetByEmail(ctx context.Context, email string) (*model.User, error)
		GetByID(ctx context.Context, id string) (*model.User, error)
		ListExcept(ctx context.Context, id string) ([]model.User, error)
		UpdatePublicKey(ctx context.Context, id, publicKey string) error
		UpdateProfile(ctx context.Context, id string, req model.UpdateProfileRequest) (*model.User, error)
	}

	MessageStore interface {
		Create(ctx context.Context, msg *model.Message) error
		Get(ctx context.Context, id string) (*model.Message, error)
		Conversation(ctx context.Context, a, b string) ([]model.Message, error)
		MarkSeenFrom(ctx context.Context, senderID, recipientID string) (int64, error)
		MarkSeen(ctx context.Context, id string) error
		UnseenBySender(ctx context.Context, recipientID string) (map[string][]string, error)
	}

	HttpServer struct {
		users    UserStore
		messages MessageStore
		tokens   *Tokens
		hub      *Hub
		metrics  *metrics
		registry *prometheus.Registry
	}
)

func NewHttpServer(users UserStore, messages MessageStore, broker Broker, tokens *Tokens) *HttpServer {
	registry := prometheus.NewRegistry()
	m := newMetrics(registry)
	return &HttpServer{
		users:    users,
		messages: messages,
		tokens:   tokens,
		hub:      NewHub(broker, messages, m),
		metrics:  m,
		registry: registry,
	}
}

// Start subscribes the hub to the broker. It must be called before the
// handler serves websocket traffic.
func (s *HttpServer) Start(ctx context.Context) error {
	return s.hub.Start(ctx)
}

func (s *HttpServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.metrics.middleware)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/auth/signup", s.Signup()).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", s.Login()).Methods(http.MethodPost)
	r.Handle("/auth/check", s.authenticate(s.Check())).Methods(http.MethodGet)
	r.Handle("/auth/update-profile", s.authenticate(s.UpdateProfile())).Methods(http.MethodPut)

	r.Handle("/messages/upload-key", s.authenticate(s.UploadKey())).Methods(http.MethodPost)
	r.Handle("/messages/users", s.authenticate(s.ListUsers())).Methods(http.MethodGet)
	r.Handle("/messages/send/{id}", s.authenticate(s.SendMessage())).Methods(http.MethodPost)
	r.Handle("/messages/mark/{id}", s.authenticate(s.MarkSeen())).Methods(http.MethodPut)
	r.Handle("/messages/{id}", s.authenticate(s.History())).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.HandleWS()).Methods(http.MethodGet)
	return r
}

// Run serves on addr until ctx is cancelled.
func (s *HttpServer) Run(ctx context.Context, addr string) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info("relay listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("marshal response failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(v)
}
