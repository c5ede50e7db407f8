// Package redisrepo stores users in redis: one JSON value per user, a sorted
// set for insertion order and one key per lowercased email for uniqueness.
package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/geocoder89/userhub/internal/observability"
	"github.com/redis/go-redis/v9"
)

const (
	backend       = "redis"
	maxTxAttempts = 5
)

type UsersRepo struct {
	rdb    *redis.Client
	prom   *observability.Prom
	prefix string
	now    func() time.Time
}

// prefix namespaces every key, e.g. "userhub:". prom may be nil.
func NewUsersRepo(rdb *redis.Client, prefix string, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{
		rdb:    rdb,
		prom:   prom,
		prefix: prefix,
		now:    user.Now,
	}
}

func (r *UsersRepo) userKey(id string) string {
	return r.prefix + "users:" + id
}

func (r *UsersRepo) idsKey() string {
	return r.prefix + "users:ids"
}

func (r *UsersRepo) emailKey(email string) string {
	return r.prefix + "users:email:" + user.EmailKey(email)
}

// Insert claims the email first, then writes the record only if no user is
// stored under the id. The claim is released again if the write fails.
func (r *UsersRepo) Insert(ctx context.Context, u user.User) error {
	return r.prom.ObserveDB(backend, "insert", func() error {
		b, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("encode user: %w", err)
		}

		email := r.emailKey(u.Email)
		key := r.userKey(u.ID)

		claimed, err := r.rdb.SetNX(ctx, email, u.ID, 0).Result()
		if err != nil {
			return fmt.Errorf("claim email: %w", err)
		}

		if !claimed {
			return user.ErrEmailTaken
		}

		err = r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return fmt.Errorf("check user id: %w", err)
			}

			if n > 0 {
				return user.ErrIDTaken
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, b, 0)
				pipe.ZAdd(ctx, r.idsKey(), redis.Z{Score: float64(u.CreatedAt.UnixMicro()), Member: u.ID})
				return nil
			})

			return err
		}, key, email)

		if err != nil {
			r.releaseEmail(context.WithoutCancel(ctx), email, u.ID)

			if errors.Is(err, user.ErrIDTaken) {
				return err
			}
			return fmt.Errorf("insert user: %w", err)
		}

		return nil
	})
}

func (r *UsersRepo) ListAll(ctx context.Context) ([]user.User, error) {
	var out []user.User

	err := r.prom.ObserveDB(backend, "list", func() error {
		ids, err := r.rdb.ZRange(ctx, r.idsKey(), 0, -1).Result()
		if err != nil {
			return fmt.Errorf("list user ids: %w", err)
		}

		out = make([]user.User, 0, len(ids))

		if len(ids) == 0 {
			return nil
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = r.userKey(id)
		}

		vals, err := r.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("load users: %w", err)
		}

		for _, v := range vals {
			s, ok := v.(string)
			// deleted between ZRANGE and MGET
			if !ok {
				continue
			}

			u, err := decode([]byte(s))
			if err != nil {
				return err
			}

			out = append(out, u)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}

func (r *UsersRepo) FindByID(ctx context.Context, id string) (user.User, error) {
	var u user.User

	err := r.prom.ObserveDB(backend, "find_by_id", func() error {
		var err error
		u, err = r.get(ctx, r.rdb, id)
		return err
	})

	return u, err
}

// Replace watches the user key so a concurrent write makes the transaction
// fail and retry instead of losing an update.
func (r *UsersRepo) Replace(ctx context.Context, id string, req user.UpdateUserRequest) (user.User, error) {
	var next user.User

	err := r.prom.ObserveDB(backend, "replace", func() error {
		key := r.userKey(id)

		for attempt := 0; attempt < maxTxAttempts; attempt++ {
			err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
				current, err := r.get(ctx, tx, id)
				if err != nil {
					return err
				}

				oldEmail := r.emailKey(current.Email)
				newEmail := r.emailKey(req.Email)

				claimed := false

				if newEmail != oldEmail {
					claimed, err = r.claimEmail(ctx, newEmail, id)
					if err != nil {
						return err
					}

					// the exec fails if the claim is dropped before we commit
					if err := tx.Watch(ctx, newEmail).Err(); err != nil {
						if claimed {
							r.releaseEmail(context.WithoutCancel(ctx), newEmail, id)
						}
						return fmt.Errorf("watch email: %w", err)
					}
				}

				next = user.Replaced(current, req, r.now())

				b, err := json.Marshal(next)
				if err != nil {
					return fmt.Errorf("encode user: %w", err)
				}

				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, b, 0)
					if newEmail != oldEmail {
						pipe.Del(ctx, oldEmail)
					}
					return nil
				})

				if err != nil && claimed {
					r.releaseEmail(context.WithoutCancel(ctx), newEmail, id)
				}

				return err
			}, key)

			if errors.Is(err, redis.TxFailedErr) {
				continue
			}

			return err
		}

		return fmt.Errorf("replace user %s: too much contention", id)
	})

	if err != nil {
		return user.User{}, err
	}

	return next, nil
}

// Delete is idempotent: a missing user is not an error.
func (r *UsersRepo) Delete(ctx context.Context, id string) error {
	return r.prom.ObserveDB(backend, "delete", func() error {
		key := r.userKey(id)

		for attempt := 0; attempt < maxTxAttempts; attempt++ {
			err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
				current, err := r.get(ctx, tx, id)
				if errors.Is(err, user.ErrNotFound) {
					return nil
				}
				if err != nil {
					return err
				}

				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key, r.emailKey(current.Email))
					pipe.ZRem(ctx, r.idsKey(), id)
					return nil
				})

				return err
			}, key)

			if errors.Is(err, redis.TxFailedErr) {
				continue
			}

			if err != nil {
				return fmt.Errorf("delete user: %w", err)
			}

			return nil
		}

		return fmt.Errorf("delete user %s: too much contention", id)
	})
}

func (r *UsersRepo) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// ClaimSeed sets a marker key once; later calls, from any process sharing the
// keyspace, report false.
func (r *UsersRepo) ClaimSeed(ctx context.Context, name string) (bool, error) {
	var claimed bool

	err := r.prom.ObserveDB(backend, "claim_seed", func() error {
		var err error
		claimed, err = r.rdb.SetNX(ctx, r.prefix+"seeds:"+name, time.Now().UTC().Format(time.RFC3339), 0).Result()
		if err != nil {
			return fmt.Errorf("claim seed %s: %w", name, err)
		}
		return nil
	})

	return claimed, err
}

// claimEmail reports whether this call created the claim. A claim already
// held by id is not an error.
func (r *UsersRepo) claimEmail(ctx context.Context, key, id string) (bool, error) {
	claimed, err := r.rdb.SetNX(ctx, key, id, 0).Result()
	if err != nil {
		return false, fmt.Errorf("claim email: %w", err)
	}

	if claimed {
		return true, nil
	}

	owner, err := r.rdb.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("read email owner: %w", err)
	}

	if owner != id {
		return false, user.ErrEmailTaken
	}

	return false, nil
}

// releaseEmail drops a claim left by a failed write. The claim stays when it
// now belongs to someone else or the stored record for id uses that email.
func (r *UsersRepo) releaseEmail(ctx context.Context, key, id string) {
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		owner, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		if owner != id {
			return nil
		}

		current, err := r.get(ctx, tx, id)
		switch {
		case err == nil && r.emailKey(current.Email) == key:
			return nil
		case err != nil && !errors.Is(err, user.ErrNotFound):
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})

		return err
	}, key, r.userKey(id))

	if err != nil {
		slog.Default().WarnContext(ctx, "email claim not released", "key", key, "err", err)
	}
}

// satisfied by both *redis.Client and *redis.Tx
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *UsersRepo) get(ctx context.Context, c getter, id string) (user.User, error) {
	b, err := c.Get(ctx, r.userKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, fmt.Errorf("get user: %w", err)
	}

	return decode(b)
}

func decode(b []byte) (user.User, error) {
	var u user.User

	if err := json.Unmarshal(b, &u); err != nil {
		return user.User{}, fmt.Errorf("decode user: %w", err)
	}

	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()

	return u, nil
}
