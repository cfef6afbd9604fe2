package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/snaplink/internal/auth"
	"github.com/snaplink/internal/logger"
	"github.com/snaplink/internal/model"
	"github.com/snaplink/internal/repository"
)

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_.]{3,32}$`)

type AuthHandler struct {
	users  *repository.UserRepository
	tokens *auth.Manager
}

func NewAuthHandler(users *repository.UserRepository, tokens *auth.Manager) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string           `json:"token"`
	User  model.UserPublic `json:"user"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if !usernameRe.MatchString(req.Username) {
		writeError(w, http.StatusBadRequest, "username must be 3-32 chars (letters, digits, _ .)")
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "invalid email")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	if _, err := h.users.GetByEmail(r.Context(), req.Email); err == nil {
		writeError(w, http.StatusConflict, "email already registered")
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if _, err := h.users.GetByUsername(r.Context(), req.Username); err == nil {
		writeError(w, http.StatusConflict, "username taken")
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.Errorf("auth register hash: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	u := &model.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
	}
	if err := h.users.Create(r.Context(), u); err != nil {
		logger.Errorf("auth register create: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	token, err := h.tokens.Issue(u.ID)
	if err != nil {
		logger.Errorf("auth register token: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: u.ToPublic()})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	u, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Не раскрываем, существует ли email.
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.tokens.Issue(u.ID)
	if err != nil {
		logger.Errorf("auth login token: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: u.ToPublic()})
}
