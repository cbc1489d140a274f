package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"boxchat/internal/cryptographic/encryption"
	"boxchat/internal/cryptographic/password"
	"boxchat/internal/model"
	"boxchat/internal/repository"
	"boxchat/internal/utils/log"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type subjectKey struct{}

func contextWithSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, subjectKey{}, sub)
}

func SubjectFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(subjectKey{}).(string)
	return v, ok
}

func bearerToken(r *http.Request) string {
	raw := r.Header.Get("Authorization")
	if len(raw) > len("bearer ") && strings.EqualFold(raw[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(raw[len("bearer "):])
	}
	return ""
}

func (s *HttpServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		sub, err := s.tokens.Verify(raw)
		if err != nil {
			log.Debug("rejecting token", zap.Error(err))
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(contextWithSubject(r.Context(), sub)))
	})
}

func (s *HttpServer) Signup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req model.SignupRequest
		if err := decodeJSON(w, r, &req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		req.Email = strings.TrimSpace(req.Email)
		req.DisplayName = strings.TrimSpace(req.DisplayName)
		if req.Email == "" || req.DisplayName == "" || req.Password == "" {
			http.Error(w, "email, displayName and password are required", http.StatusBadRequest)
			return
		}
		if req.PublicKey != "" {
			if _, err := encryption.ParseKey(req.PublicKey); err != nil {
				http.Error(w, "invalid public key", http.StatusBadRequest)
				return
			}
		}

		hash, err := password.Hash(req.Password)
		if errors.Is(err, password.ErrTooShort) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err != nil {
			log.Error("hash password failed", zap.Error(err))
			http.Error(w, "signup failed", http.StatusInternalServerError)
			return
		}

		user := &model.User{
			ID:           uuid.NewString(),
			Email:        req.Email,
			DisplayName:  req.DisplayName,
			Bio:          req.Bio,
			PasswordHash: hash,
			PublicKey:    req.PublicKey,
			CreatedAt:    time.Now().UTC(),
		}
		err = s.users.Create(ctx, user)
		if errors.Is(err, repository.ErrDuplicateEmail) {
			http.Error(w, "email already registered", http.StatusConflict)
			return
		}
		if err != nil {
			log.Error("create user failed", zap.Error(err))
			http.Error(w, "signup failed", http.StatusInternalServerError)
			return
		}

		log.Info("user signed up", zap.String("user", user.ID))
		s.respondWithToken(w, http.StatusCreated, user)
	}
}

func (s *HttpServer) Login() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req model.LoginRequest
		if err := decodeJSON(w, r, &req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}

		user, err := s.users.GetByEmail(ctx, req.Email)
		if err != nil {
			log.Error("get user failed", zap.Error(err))
			http.Error(w, "login failed", http.StatusInternalServerError)
			return
		}
		if user == nil || !password.Compare(user.PasswordHash, req.Password) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}

		s.respondWithToken(w, http.StatusOK, user)
	}
}

func (s *HttpServer) Check() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, _ := SubjectFrom(r.Context())
		user, err := s.users.GetByID(r.Context(), sub)
		if err != nil {
			log.Error("get user failed", zap.Error(err))
			http.Error(w, "check failed", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "user does not exist", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, model.UserResponse{User: user})
	}
}

func (s *HttpServer) UpdateProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, _ := SubjectFrom(r.Context())

		var req model.UpdateProfileRequest
		if err := decodeJSON(w, r, &req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}

		user, err := s.users.UpdateProfile(r.Context(), sub, req)
		if err != nil {
			log.Error("update profile failed", zap.Error(err))
			http.Error(w, "update failed", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "user does not exist", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, model.UserResponse{User: user})
	}
}

func (s *HttpServer) respondWithToken(w http.ResponseWriter, status int, user *model.User) {
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		log.Error("issue token failed", zap.Error(err))
		http.Error(w, "token failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, model.AuthResponse{Token: token, User: user})
}
