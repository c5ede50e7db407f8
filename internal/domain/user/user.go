package user

import (
	"errors"
	"time"
)

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already in use")
	// the id belongs to a stored user already
	ErrIDTaken = errors.New("user id already in use")
)

// notblank rejects whitespace-only values, required alone only rejects "".
type CreateUserRequest struct {
	Name  string `json:"name" binding:"required,notblank,max=200"`
	Email string `json:"email" binding:"required,notblank,max=200"`
}

// full replacement of name and email, there are no partial updates.
type UpdateUserRequest struct {
	Name  string `json:"name" binding:"required,notblank,max=200"`
	Email string `json:"email" binding:"required,notblank,max=200"`
}
