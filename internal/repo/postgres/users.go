package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/geocoder89/userhub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const backend = "postgres"

const userColumns = `id, name, email, created_at, updated_at`

const usersPKey = "users_pkey"

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
	now  func() time.Time
}

// prom may be nil.
func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{
		pool: pool,
		prom: prom,
		now:  user.Now,
	}
}

func (r *UsersRepo) Insert(ctx context.Context, u user.User) error {
	return r.prom.ObserveDB(backend, "insert", func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO users (id, name, email, created_at, updated_at) VALUES ($1,$2,$3,$4,$5)`,
			u.ID, u.Name, u.Email, u.CreatedAt, u.UpdatedAt,
		)

		if err != nil {
			switch {
			case isUniqueViolation(err) && violatedConstraint(err) == usersPKey:
				return user.ErrIDTaken
			case isUniqueViolation(err):
				return user.ErrEmailTaken
			}
			return fmt.Errorf("insert user: %w", err)
		}

		return nil
	})
}

func (r *UsersRepo) ListAll(ctx context.Context) ([]user.User, error) {
	var out []user.User

	err := r.prom.ObserveDB(backend, "list", func() error {
		rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC, id ASC`)

		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}

		defer rows.Close()

		out = make([]user.User, 0)

		for rows.Next() {
			var u user.User

			err = rows.Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt, &u.UpdatedAt)

			if err != nil {
				return fmt.Errorf("scan user: %w", err)
			}

			out = append(out, normalize(u))
		}

		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}

func (r *UsersRepo) FindByID(ctx context.Context, id string) (user.User, error) {
	var u user.User

	err := r.prom.ObserveDB(backend, "find_by_id", func() error {
		err := r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1`,
			id,
		).Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt, &u.UpdatedAt)

		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
				return user.ErrNotFound
			}
			return fmt.Errorf("find user: %w", err)
		}

		return nil
	})

	if err != nil {
		return user.User{}, err
	}

	return normalize(u), nil
}

// Replace is a single UPDATE so the read-modify-write is atomic. updated_at
// never moves backwards or stays put, whatever the app clock says.
func (r *UsersRepo) Replace(ctx context.Context, id string, req user.UpdateUserRequest) (user.User, error) {
	var u user.User

	err := r.prom.ObserveDB(backend, "replace", func() error {
		err := r.pool.QueryRow(
			ctx,
			`UPDATE users
				SET name = $2,
						email = $3,
						updated_at = GREATEST($4, updated_at + interval '1 microsecond')
			WHERE id = $1
			RETURNING `+userColumns,
			id,
			req.Name,
			req.Email,
			r.now(),
		).Scan(
			&u.ID,
			&u.Name,
			&u.Email,
			&u.CreatedAt,
			&u.UpdatedAt,
		)

		if err != nil {
			switch {
			case errors.Is(err, pgx.ErrNoRows), isInvalidID(err):
				return user.ErrNotFound
			case isUniqueViolation(err):
				return user.ErrEmailTaken
			}
			return fmt.Errorf("replace user: %w", err)
		}

		return nil
	})

	if err != nil {
		return user.User{}, err
	}

	return normalize(u), nil
}

// Delete does not care whether a row was removed.
func (r *UsersRepo) Delete(ctx context.Context, id string) error {
	return r.prom.ObserveDB(backend, "delete", func() error {
		_, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)

		if err != nil && !isInvalidID(err) {
			return fmt.Errorf("delete user: %w", err)
		}

		return nil
	})
}

// ClaimSeed records name in seed_runs and reports whether this call added it.
func (r *UsersRepo) ClaimSeed(ctx context.Context, name string) (bool, error) {
	var claimed bool

	err := r.prom.ObserveDB(backend, "claim_seed", func() error {
		tag, err := r.pool.Exec(ctx,
			`INSERT INTO seed_runs (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`,
			name,
		)
		if err != nil {
			return fmt.Errorf("claim seed %s: %w", name, err)
		}

		claimed = tag.RowsAffected() == 1
		return nil
	})

	return claimed, err
}

func (r *UsersRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func normalize(u user.User) user.User {
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func violatedConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// 22P02: invalid_text_representation, i.e. the id is not a uuid
func isInvalidID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
