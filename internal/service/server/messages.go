package server

import (
	"errors"
	"net/http"
	"time"

	"boxchat/internal/cryptographic/encryption"
	"boxchat/internal/model"
	"boxchat/internal/repository"
	"boxchat/internal/utils/log"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *HttpServer) UploadKey() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, _ := SubjectFrom(r.Context())

		var req model.UploadKeyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if _, err := encryption.ParseKey(req.PublicKey); err != nil {
			http.Error(w, "publicKey must be base64 of 32 bytes", http.StatusBadRequest)
			return
		}

		err := s.users.UpdatePublicKey(r.Context(), sub, req.PublicKey)
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "user does not exist", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Error("upload key failed", zap.Error(err))
			http.Error(w, "upload key failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *HttpServer) ListUsers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sub, _ := SubjectFrom(ctx)

		users, err := s.users.ListExcept(ctx, sub)
		if err != nil {
			log.Error("list users failed", zap.Error(err))
			http.Error(w, "list users failed", http.StatusInternalServerError)
			return
		}

		ids, err := s.messages.UnseenBySender(ctx, sub)
		if err != nil {
			log.Error("unseen messages failed", zap.Error(err))
			http.Error(w, "list users failed", http.StatusInternalServerError)
			return
		}
		resp := model.UsersResponse{
			Users:            users,
			UnseenMessages:   make(map[string]int, len(ids)),
			UnseenMessageIDs: make(map[string][]string, len(ids)),
		}
		for sender, list := range ids {
			if len(list) > 0 {
				resp.UnseenMessages[sender] = len(list)
				resp.UnseenMessageIDs[sender] = list
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// History returns the pair's messages as stored and then marks the
// counterpart's messages to the caller as seen.
func (s *HttpServer) History() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sub, _ := SubjectFrom(ctx)
		counterpart := mux.Vars(r)["id"]

		messages, err := s.messages.Conversation(ctx, sub, counterpart)
		if err != nil {
			log.Error("get history failed", zap.Error(err))
			http.Error(w, "get history failed", http.StatusInternalServerError)
			return
		}

		if n, err := s.messages.MarkSeenFrom(ctx, counterpart, sub); err != nil {
			log.Error("mark history seen failed", zap.Error(err))
		} else if n > 0 {
			log.Debug("marked history seen", zap.String("from", counterpart), zap.Int64("count", n))
		}

		writeJSON(w, http.StatusOK, model.MessagesResponse{Messages: messages})
	}
}

func (s *HttpServer) MarkSeen() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sub, _ := SubjectFrom(ctx)
		id := mux.Vars(r)["id"]

		msg, err := s.messages.Get(ctx, id)
		if err != nil {
			log.Error("get message failed", zap.Error(err))
			http.Error(w, "mark failed", http.StatusInternalServerError)
			return
		}
		if msg == nil {
			http.Error(w, "message does not exist", http.StatusNotFound)
			return
		}
		if msg.RecipientID != sub {
			http.Error(w, "only the recipient can mark a message", http.StatusForbidden)
			return
		}

		if err := s.messages.MarkSeen(ctx, id); err != nil {
			log.Error("mark message failed", zap.Error(err))
			http.Error(w, "mark failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// SendMessage stores the sealed payloads verbatim and fans the record out
// to the recipient.
func (s *HttpServer) SendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sub, _ := SubjectFrom(ctx)
		recipientID := mux.Vars(r)["id"]

		var req model.SendRequest
		if err := decodeJSON(w, r, &req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if req.Text == "" && req.Image == "" {
			http.Error(w, "text or image is required", http.StatusBadRequest)
			return
		}

		recipient, err := s.users.GetByID(ctx, recipientID)
		if err != nil {
			log.Error("get recipient failed", zap.Error(err))
			http.Error(w, "send failed", http.StatusInternalServerError)
			return
		}
		if recipient == nil {
			http.Error(w, "recipient does not exist", http.StatusNotFound)
			return
		}
		if !recipient.CanReceive() {
			http.Error(w, "recipient has no public key", http.StatusBadRequest)
			return
		}

		msg := &model.Message{
			ID:          uuid.NewString(),
			SenderID:    sub,
			RecipientID: recipientID,
			Text:        req.Text,
			Image:       req.Image,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.messages.Create(ctx, msg); err != nil {
			log.Error("store message failed", zap.Error(err))
			http.Error(w, "send failed", http.StatusInternalServerError)
			return
		}
		s.metrics.stored.Inc()
		s.metrics.ciphertextBytes.Observe(float64(len(msg.Text) + len(msg.Image)))
		log.Debug("message stored",
			zap.String("message", msg.ID),
			zap.String("from", msg.SenderID),
			zap.String("to", msg.RecipientID),
			zap.Int("bytes", len(msg.Text)+len(msg.Image)),
		)

		if err := s.hub.Deliver(ctx, msg); err != nil {
			log.Error("fan out message failed", zap.String("message", msg.ID), zap.Error(err))
		}

		writeJSON(w, http.StatusCreated, model.SendResponse{NewMessage: msg})
	}
}
