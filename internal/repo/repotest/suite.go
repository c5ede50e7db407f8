// Package repotest holds the behaviour every user store must share, run
// against each backend from that backend's own tests.
package repotest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/geocoder89/userhub/internal/repo/seed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Store interface {
	Insert(ctx context.Context, u user.User) error
	ListAll(ctx context.Context) ([]user.User, error)
	FindByID(ctx context.Context, id string) (user.User, error)
	Replace(ctx context.Context, id string, req user.UpdateUserRequest) (user.User, error)
	Delete(ctx context.Context, id string) error
	ClaimSeed(ctx context.Context, name string) (bool, error)
	Ping(ctx context.Context) error
}

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

func NewUser(name, email string) user.User {
	return user.NewFromCreateRequest(user.CreateUserRequest{Name: name, Email: email}, user.Now())
}

// Run executes the shared store behaviour. newStore must return an empty
// store each time it is called.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("insert_then_find", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		u := NewUser("Ann", "ann@x.com")
		require.NoError(t, s.Insert(ctx, u))

		got, err := s.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		assert.Equal(t, u.Name, got.Name)
		assert.Equal(t, u.Email, got.Email)
		assert.True(t, u.CreatedAt.Equal(got.CreatedAt))
		assert.True(t, got.CreatedAt.Equal(got.UpdatedAt))
	})

	t.Run("find_missing", func(t *testing.T) {
		s := newStore(t)

		_, err := s.FindByID(context.Background(), "6f0f7c52-3c59-4bc6-9b0c-3a4de2e7c0a1")
		assert.ErrorIs(t, err, user.ErrNotFound)
	})

	t.Run("email_unique_ignoring_case", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.Insert(ctx, NewUser("Ann", "ann@x.com")))
		assert.ErrorIs(t, s.Insert(ctx, NewUser("Ann B", "Ann@X.COM")), user.ErrEmailTaken)

		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("list_all", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)

		ids := map[string]bool{}
		for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
			u := NewUser("n", email)
			require.NoError(t, s.Insert(ctx, u))
			ids[u.ID] = true
		}

		all, err = s.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		for _, u := range all {
			assert.True(t, ids[u.ID], "unexpected id %s", u.ID)
		}
	})

	t.Run("replace", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		u := NewUser("Ann", "ann@x.com")
		require.NoError(t, s.Insert(ctx, u))

		updated, err := s.Replace(ctx, u.ID, user.UpdateUserRequest{Name: "Annie", Email: "annie@x.com"})
		require.NoError(t, err)
		assert.Equal(t, u.ID, updated.ID)
		assert.Equal(t, "Annie", updated.Name)
		assert.Equal(t, "annie@x.com", updated.Email)
		assert.True(t, u.CreatedAt.Equal(updated.CreatedAt))
		assert.True(t, updated.UpdatedAt.After(u.UpdatedAt))

		again, err := s.Replace(ctx, u.ID, user.UpdateUserRequest{Name: "Annie", Email: "annie@x.com"})
		require.NoError(t, err)
		assert.True(t, again.UpdatedAt.After(updated.UpdatedAt))

		got, err := s.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "Annie", got.Name)
		assert.True(t, again.UpdatedAt.Equal(got.UpdatedAt))

		// the previous email is free again
		assert.NoError(t, s.Insert(ctx, NewUser("Ann 2", "ann@x.com")))
	})

	t.Run("replace_missing", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		_, err := s.Replace(ctx, "6f0f7c52-3c59-4bc6-9b0c-3a4de2e7c0a1", user.UpdateUserRequest{Name: "x", Email: "x@x.com"})
		assert.ErrorIs(t, err, user.ErrNotFound)

		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("replace_email_taken", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		ann := NewUser("Ann", "ann@x.com")
		bob := NewUser("Bob", "bob@x.com")
		require.NoError(t, s.Insert(ctx, ann))
		require.NoError(t, s.Insert(ctx, bob))

		_, err := s.Replace(ctx, bob.ID, user.UpdateUserRequest{Name: "Bob", Email: "ANN@x.com"})
		assert.ErrorIs(t, err, user.ErrEmailTaken)

		got, err := s.FindByID(ctx, bob.ID)
		require.NoError(t, err)
		assert.Equal(t, "bob@x.com", got.Email)

		_, err = s.Replace(ctx, ann.ID, user.UpdateUserRequest{Name: "Ann", Email: "Ann@X.com"})
		assert.NoError(t, err)
	})

	t.Run("delete_idempotent", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		u := NewUser("Ann", "ann@x.com")
		require.NoError(t, s.Insert(ctx, u))

		require.NoError(t, s.Delete(ctx, u.ID))
		require.NoError(t, s.Delete(ctx, u.ID))

		_, err := s.FindByID(ctx, u.ID)
		assert.ErrorIs(t, err, user.ErrNotFound)

		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)

		assert.NoError(t, s.Insert(ctx, NewUser("Ann again", "ann@x.com")))
	})

	t.Run("insert_existing_id", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		u := NewUser("Ann", "ann@x.com")
		require.NoError(t, s.Insert(ctx, u))

		dup := u
		dup.Name = "Mallory"
		dup.Email = "mallory@x.com"
		assert.ErrorIs(t, s.Insert(ctx, dup), user.ErrIDTaken)

		got, err := s.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "Ann", got.Name)
		assert.Equal(t, "ann@x.com", got.Email)

		// the refused insert holds no claim on its email
		assert.NoError(t, s.Insert(ctx, NewUser("Mallory", "mallory@x.com")))
	})

	t.Run("claim_seed_once", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		first, err := s.ClaimSeed(ctx, "demo")
		require.NoError(t, err)
		assert.True(t, first)

		again, err := s.ClaimSeed(ctx, "demo")
		require.NoError(t, err)
		assert.False(t, again)

		other, err := s.ClaimSeed(ctx, "other")
		require.NoError(t, err)
		assert.True(t, other)
	})

	t.Run("reseed_keeps_edits_and_deletes", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		log := slog.New(slog.NewTextHandler(io.Discard, nil))

		require.NoError(t, seed.Apply(ctx, s, log))

		jane, john := seed.Users()[0], seed.Users()[1]

		_, err := s.Replace(ctx, jane.ID, user.UpdateUserRequest{Name: "Janet", Email: "janet@x.com"})
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, john.ID))

		require.NoError(t, seed.Apply(ctx, s, log))

		got, err := s.FindByID(ctx, jane.ID)
		require.NoError(t, err)
		assert.Equal(t, "Janet", got.Name)
		assert.Equal(t, "janet@x.com", got.Email)

		_, err = s.FindByID(ctx, john.ID)
		assert.ErrorIs(t, err, user.ErrNotFound)

		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		// the seeded emails stay free for others
		assert.NoError(t, s.Insert(ctx, NewUser("Someone", jane.Email)))
		assert.NoError(t, s.Insert(ctx, NewUser("Someone else", john.Email)))
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ping(context.Background()))
	})
}
