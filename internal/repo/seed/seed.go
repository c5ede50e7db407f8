// Package seed loads the demo users into a fresh store.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/geocoder89/userhub/internal/domain/user"
)

// DemoRun names the demo seed in the store's record of applied seeds.
const DemoRun = "demo_users"

type Store interface {
	Insert(ctx context.Context, u user.User) error
	// ClaimSeed reports true exactly once per name for the lifetime of the
	// stored data.
	ClaimSeed(ctx context.Context, name string) (bool, error)
}

var seedTime = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

func Users() []user.User {
	return []user.User{
		{
			ID:        "c398344e-a745-4221-a472-74d1a011030e",
			Name:      "Jane Doe",
			Email:     "jane.doe@example.com",
			CreatedAt: seedTime,
			UpdatedAt: seedTime,
		},
		{
			ID:        "d68840b3-f726-4074-a690-349479b47e27",
			Name:      "John Smith",
			Email:     "john.smith@example.com",
			CreatedAt: seedTime,
			UpdatedAt: seedTime,
		},
	}
}

// Apply inserts Users the first time it runs against a store. Later runs,
// after restarts included, leave the data alone so edits and deletes stick.
func Apply(ctx context.Context, s Store, log *slog.Logger) error {
	claimed, err := s.ClaimSeed(ctx, DemoRun)
	if err != nil {
		return fmt.Errorf("claim seed: %w", err)
	}

	if !claimed {
		log.Debug("demo users already seeded")
		return nil
	}

	for _, u := range Users() {
		err := s.Insert(ctx, u)

		if errors.Is(err, user.ErrEmailTaken) || errors.Is(err, user.ErrIDTaken) {
			log.Debug("seed user already present", "id", u.ID, "email", u.Email)
			continue
		}

		if err != nil {
			return fmt.Errorf("seed %s: %w", u.Email, err)
		}

		log.Info("seeded user", "id", u.ID, "email", u.Email)
	}

	return nil
}
