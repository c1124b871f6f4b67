package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"mocktest/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type contextKey string

const userIDContextKey contextKey = "auth_user_id"

const UserIDHeader = "X-User-ID"

type Handler struct {
	svc userService
}

type userService interface {
	CreateUser(ctx context.Context, in CreateUserInput) (*User, error)
	GetUser(ctx context.Context, userID int64) (*User, error)
}

type createUserRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"omitempty,email"`
}

func NewHandler(svc userService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := apiresp.DecodeJSON(r, &req); err != nil {
		apiresp.WriteBadRequest(w, r, err)
		return
	}

	user, err := h.svc.CreateUser(r.Context(), CreateUserInput{Name: req.Name, Email: req.Email})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			apiresp.WriteError(w, r, http.StatusBadRequest, "name is required and email must be valid")
			return
		}
		log.Error().Err(err).Msg("create user failed")
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, user)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || userID <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := h.svc.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
			return
		}
		log.Error().Err(err).Int64("user_id", userID).Msg("get user failed")
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, user)
}

// Identify resolves the acting user id from the X-User-ID header and falls
// back to defaultUserID when the header is missing or malformed.
func Identify(defaultUserID int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := defaultUserID
			if raw := strings.TrimSpace(r.Header.Get(UserIDHeader)); raw != "" {
				if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
					userID = v
				}
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}

func CurrentUserID(ctx context.Context) (int64, bool) {
	v, ok := ctx.Value(userIDContextKey).(int64)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}

// ContextWithUserID injects the acting user id into context.
// Useful for tests and internal handlers.
func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
