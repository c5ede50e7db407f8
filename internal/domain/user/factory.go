package user

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Now is the clock used for record timestamps. Postgres keeps microseconds,
// so every backend stores the same precision.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func NewFromCreateRequest(req CreateUserRequest, now time.Time) User {
	return User{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Email:     req.Email,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Replaced builds the new value of an existing record after a full update.
// UpdatedAt always moves forward, even if the clock has not.
func Replaced(current User, req UpdateUserRequest, now time.Time) User {
	next := current
	next.Name = req.Name
	next.Email = req.Email
	next.UpdatedAt = NextUpdatedAt(current.UpdatedAt, now)

	return next
}

func NextUpdatedAt(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}

	return prev.Add(time.Microsecond)
}

// EmailKey is the comparison form of an email used for uniqueness.
func EmailKey(email string) string {
	return strings.ToLower(email)
}
