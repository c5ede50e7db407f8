package memory

import (
	"context"
	"sync"
	"time"

	"github.com/geocoder89/userhub/internal/domain/user"
)

type UsersRepo struct {
	mu     sync.RWMutex
	items  []user.User       // insertion order
	byID   map[string]int    // id -> position in items
	emails map[string]string // email key -> id
	seeds  map[string]bool
	now    func() time.Time
}

func NewUsersRepo() *UsersRepo {
	return &UsersRepo{
		byID:   make(map[string]int),
		emails: make(map[string]string),
		seeds:  make(map[string]bool),
		now:    user.Now,
	}
}

// WithClock swaps the clock used for update timestamps.
func (r *UsersRepo) WithClock(now func() time.Time) *UsersRepo {
	r.now = now
	return r
}

func (r *UsersRepo) Insert(_ context.Context, u user.User) error {
	key := user.EmailKey(u.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byID[u.ID]; taken {
		return user.ErrIDTaken
	}

	if _, taken := r.emails[key]; taken {
		return user.ErrEmailTaken
	}

	r.byID[u.ID] = len(r.items)
	r.items = append(r.items, u)
	r.emails[key] = u.ID

	return nil
}

func (r *UsersRepo) ListAll(_ context.Context) ([]user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]user.User, len(r.items))
	copy(out, r.items)

	return out, nil
}

func (r *UsersRepo) FindByID(_ context.Context, id string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.byID[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}

	return r.items[i], nil
}

func (r *UsersRepo) Replace(_ context.Context, id string, req user.UpdateUserRequest) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.byID[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}

	current := r.items[i]
	oldKey := user.EmailKey(current.Email)
	newKey := user.EmailKey(req.Email)

	if owner, taken := r.emails[newKey]; taken && owner != id {
		return user.User{}, user.ErrEmailTaken
	}

	next := user.Replaced(current, req, r.now())
	r.items[i] = next

	delete(r.emails, oldKey)
	r.emails[newKey] = id

	return next, nil
}

// Delete is idempotent: removing an unknown id is not an error.
func (r *UsersRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.byID[id]
	if !ok {
		return nil
	}

	delete(r.emails, user.EmailKey(r.items[i].Email))
	delete(r.byID, id)

	r.items = append(r.items[:i], r.items[i+1:]...)
	for j := i; j < len(r.items); j++ {
		r.byID[r.items[j].ID] = j
	}

	return nil
}

// ClaimSeed reports true the first time name is claimed on this store.
func (r *UsersRepo) ClaimSeed(_ context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seeds[name] {
		return false, nil
	}

	r.seeds[name] = true

	return true, nil
}

func (r *UsersRepo) Ping(_ context.Context) error {
	return nil
}
