package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type UsersStore interface {
	Insert(ctx context.Context, u user.User) error
	ListAll(ctx context.Context) ([]user.User, error)
	FindByID(ctx context.Context, id string) (user.User, error)
	Replace(ctx context.Context, id string, req user.UpdateUserRequest) (user.User, error)
	Delete(ctx context.Context, id string) error
}

type UsersHandler struct {
	repo UsersStore
}

func NewUsersHandler(repo UsersStore) *UsersHandler {
	return &UsersHandler{repo: repo}
}

func (h *UsersHandler) CreateUser(ctx *gin.Context) {
	var req user.CreateUserRequest

	if !BindJSON(ctx, &req) {
		return
	}

	u := user.NewFromCreateRequest(req, user.Now())

	err := h.repo.Insert(ctx.Request.Context(), u)

	if err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			RespondConflict(ctx, "email_taken", fmt.Sprintf("A user with the email %s already exists.", req.Email))
			return
		}
		RespondInternal(ctx, "Could not create user", err)
		return
	}

	ctx.Header("Location", "/users/"+u.ID)
	ctx.JSON(http.StatusCreated, u)
}

func (h *UsersHandler) ListUsers(ctx *gin.Context) {
	users, err := h.repo.ListAll(ctx.Request.Context())

	if err != nil {
		RespondInternal(ctx, "Could not list users", err)
		return
	}

	if users == nil {
		users = []user.User{}
	}

	ctx.JSON(http.StatusOK, users)
}

func (h *UsersHandler) GetUserByID(ctx *gin.Context) {
	id, ok := parseUserID(ctx)

	if !ok {
		return
	}

	u, err := h.repo.FindByID(ctx.Request.Context(), id)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			respondUserNotFound(ctx, id)
			return
		}
		RespondInternal(ctx, "Could not fetch user", err)
		return
	}

	ctx.JSON(http.StatusOK, u)
}

// UpdateUser replaces name and email. A missing user is reported before
// the body is validated.
func (h *UsersHandler) UpdateUser(ctx *gin.Context) {
	id, ok := parseUserID(ctx)

	if !ok {
		return
	}

	_, err := h.repo.FindByID(ctx.Request.Context(), id)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			respondUserNotFound(ctx, id)
			return
		}
		RespondInternal(ctx, "Could not fetch user", err)
		return
	}

	var req user.UpdateUserRequest

	if !BindJSON(ctx, &req) {
		return
	}

	u, err := h.repo.Replace(ctx.Request.Context(), id, req)

	if err != nil {
		switch {
		// deleted between the lookup and the write
		case errors.Is(err, user.ErrNotFound):
			respondUserNotFound(ctx, id)
		case errors.Is(err, user.ErrEmailTaken):
			RespondConflict(ctx, "email_taken", fmt.Sprintf("A user with the email %s already exists.", req.Email))
		default:
			RespondInternal(ctx, "Could not update user", err)
		}
		return
	}

	ctx.JSON(http.StatusOK, u)
}

// DeleteUser answers 204 whether or not the user existed.
func (h *UsersHandler) DeleteUser(ctx *gin.Context) {
	id, err := uuid.Parse(ctx.Param("id"))

	if err != nil {
		ctx.Status(http.StatusNoContent)
		return
	}

	err = h.repo.Delete(ctx.Request.Context(), id.String())

	if err != nil {
		RespondInternal(ctx, "Could not delete user", err)
		return
	}

	ctx.Status(http.StatusNoContent)
}

// parseUserID answers 404 for ids that are not uuids, the same as for an id
// that does not exist.
func parseUserID(ctx *gin.Context) (string, bool) {
	raw := ctx.Param("id")

	id, err := uuid.Parse(raw)

	if err != nil {
		respondUserNotFound(ctx, raw)
		return "", false
	}

	return id.String(), true
}

func respondUserNotFound(ctx *gin.Context, id string) {
	RespondNotFound(ctx, fmt.Sprintf("User with ID %s not found.", id))
}
