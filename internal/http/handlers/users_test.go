package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/geocoder89/userhub/internal/http/handlers"
	"github.com/geocoder89/userhub/internal/repo/memory"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Make sure Gin does not spam the console during the test

func init() {
	gin.SetMode(gin.TestMode)
}

// Fake repository implementation of the handlers.UsersStore interface

type fakeUsersRepo struct {
	insertFn  func(ctx context.Context, u user.User) error
	listFn    func(ctx context.Context) ([]user.User, error)
	findFn    func(ctx context.Context, id string) (user.User, error)
	replaceFn func(ctx context.Context, id string, req user.UpdateUserRequest) (user.User, error)
	deleteFn  func(ctx context.Context, id string) error

	inserts int
	deletes []string
}

func (f *fakeUsersRepo) Insert(ctx context.Context, u user.User) error {
	f.inserts++
	if f.insertFn != nil {
		return f.insertFn(ctx, u)
	}
	return nil
}

func (f *fakeUsersRepo) ListAll(ctx context.Context) ([]user.User, error) {
	if f.listFn != nil {
		return f.listFn(ctx)
	}
	return nil, nil
}

func (f *fakeUsersRepo) FindByID(ctx context.Context, id string) (user.User, error) {
	if f.findFn != nil {
		return f.findFn(ctx, id)
	}
	return user.User{}, user.ErrNotFound
}

func (f *fakeUsersRepo) Replace(ctx context.Context, id string, req user.UpdateUserRequest) (user.User, error) {
	if f.replaceFn != nil {
		return f.replaceFn(ctx, id, req)
	}
	return user.User{}, user.ErrNotFound
}

func (f *fakeUsersRepo) Delete(ctx context.Context, id string) error {
	f.deletes = append(f.deletes, id)
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	return nil
}

// mounts every user route on a fresh engine
func setupRouter(repo handlers.UsersStore) *gin.Engine {
	r := gin.New()
	h := handlers.NewUsersHandler(repo)

	r.POST("/users", h.CreateUser)
	r.GET("/users", h.ListUsers)
	r.GET("/users/:id", h.GetUserByID)
	r.PUT("/users/:id", h.UpdateUser)
	r.DELETE("/users/:id", h.DeleteUser)

	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	return w
}

func decodeUser(t *testing.T, w *httptest.ResponseRecorder) user.User {
	t.Helper()

	var u user.User
	if err := json.Unmarshal(w.Body.Bytes(), &u); err != nil {
		t.Fatalf("decode user: %v body=%s", err, w.Body.String())
	}

	return u
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()

	var resp struct {
		Error handlers.APIError `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v body=%s", err, w.Body.String())
	}

	return resp.Error.Code
}

func TestCreateUserHandler(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		repoSetUp      func(*fakeUsersRepo)
		wantStatusCode int
		wantCode       string
		wantInserts    int
	}{
		{
			name:           "success",
			body:           `{"name":"Ann","email":"ann@x.com"}`,
			wantStatusCode: http.StatusCreated,
			wantInserts:    1,
		},
		{
			name:           "blank_name",
			body:           `{"name":"  ","email":"ann@x.com"}`,
			wantStatusCode: http.StatusBadRequest,
			wantCode:       "invalid_request",
		},
		{
			name:           "missing_email",
			body:           `{"name":"Ann"}`,
			wantStatusCode: http.StatusBadRequest,
			wantCode:       "invalid_request",
		},
		{
			name: "duplicate_email",
			body: `{"name":"Ann","email":"ann@x.com"}`,
			repoSetUp: func(f *fakeUsersRepo) {
				f.insertFn = func(ctx context.Context, u user.User) error {
					return user.ErrEmailTaken
				}
			},
			wantStatusCode: http.StatusConflict,
			wantCode:       "email_taken",
			wantInserts:    1,
		},
		{
			name: "repo_error",
			body: `{"name":"Ann","email":"ann@x.com"}`,
			repoSetUp: func(f *fakeUsersRepo) {
				f.insertFn = func(ctx context.Context, u user.User) error {
					return errors.New("db error")
				}
			},
			wantStatusCode: http.StatusInternalServerError,
			wantCode:       "internal_error",
			wantInserts:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeUsersRepo{}
			if tt.repoSetUp != nil {
				tt.repoSetUp(repo)
			}

			w := do(setupRouter(repo), http.MethodPost, "/users", tt.body)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
			if repo.inserts != tt.wantInserts {
				t.Fatalf("got %d inserts, want %d", repo.inserts, tt.wantInserts)
			}
			if tt.wantCode != "" && errorCode(t, w) != tt.wantCode {
				t.Fatalf("got error code %q, want %q", errorCode(t, w), tt.wantCode)
			}
		})
	}
}

func TestCreateUserHandler_ResponseShape(t *testing.T) {
	var stored user.User
	repo := &fakeUsersRepo{
		insertFn: func(ctx context.Context, u user.User) error {
			stored = u
			return nil
		},
	}

	w := do(setupRouter(repo), http.MethodPost, "/users", `{"Name":"Ann","Email":"ann@x.com"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	got := decodeUser(t, w)

	if _, err := uuid.Parse(got.ID); err != nil {
		t.Fatalf("expected generated uuid, got %q", got.ID)
	}
	if got.ID != stored.ID {
		t.Fatalf("response id %s differs from stored id %s", got.ID, stored.ID)
	}
	if loc := w.Header().Get("Location"); loc != "/users/"+got.ID {
		t.Fatalf("unexpected Location %q", loc)
	}
	if !got.CreatedAt.Equal(got.UpdatedAt) {
		t.Fatalf("createdAt %v != updatedAt %v", got.CreatedAt, got.UpdatedAt)
	}

	var raw map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &raw)
	for _, k := range []string{"id", "name", "email", "createdAt", "updatedAt"} {
		if _, ok := raw[k]; !ok {
			t.Fatalf("missing json key %q in %s", k, w.Body.String())
		}
	}
}

func TestCreateUserHandler_IgnoresClientSuppliedID(t *testing.T) {
	clientID := uuid.NewString()
	repo := &fakeUsersRepo{}

	w := do(setupRouter(repo), http.MethodPost, "/users", `{"id":"`+clientID+`","name":"Ann","email":"ann@x.com"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("got status %d", w.Code)
	}
	if decodeUser(t, w).ID == clientID {
		t.Fatalf("server must generate the id")
	}
}

func TestListUsersHandler(t *testing.T) {
	t.Run("empty_is_array", func(t *testing.T) {
		w := do(setupRouter(&fakeUsersRepo{}), http.MethodGet, "/users", "")

		if w.Code != http.StatusOK {
			t.Fatalf("got status %d", w.Code)
		}
		if body := w.Body.String(); body != "[]" {
			t.Fatalf("expected empty json array, got %s", body)
		}
	})

	t.Run("repo_error", func(t *testing.T) {
		repo := &fakeUsersRepo{
			listFn: func(ctx context.Context) ([]user.User, error) {
				return nil, errors.New("db down")
			},
		}

		w := do(setupRouter(repo), http.MethodGet, "/users", "")

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("got status %d", w.Code)
		}
	})
}

func TestGetUserByIDHandler(t *testing.T) {
	now := time.Now().UTC()
	id := uuid.NewString()

	tests := []struct {
		name           string
		path           string
		repoSetUp      func(*fakeUsersRepo)
		wantStatusCode int
	}{
		{
			name: "found",
			path: "/users/" + id,
			repoSetUp: func(f *fakeUsersRepo) {
				f.findFn = func(ctx context.Context, got string) (user.User, error) {
					return user.User{ID: got, Name: "Ann", Email: "ann@x.com", CreatedAt: now, UpdatedAt: now}, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "not_found",
			path:           "/users/" + id,
			wantStatusCode: http.StatusNotFound,
		},
		{
			name: "malformed_id",
			path: "/users/not-a-uuid",
			repoSetUp: func(f *fakeUsersRepo) {
				// would be a 200 if the handler reached the repo
				f.findFn = func(ctx context.Context, got string) (user.User, error) {
					return user.User{ID: got}, nil
				}
			},
			wantStatusCode: http.StatusNotFound,
		},
		{
			name: "repo_error",
			path: "/users/" + id,
			repoSetUp: func(f *fakeUsersRepo) {
				f.findFn = func(ctx context.Context, got string) (user.User, error) {
					return user.User{}, errors.New("db error")
				}
			},
			wantStatusCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeUsersRepo{}
			if tt.repoSetUp != nil {
				tt.repoSetUp(repo)
			}

			w := do(setupRouter(repo), http.MethodGet, tt.path, "")

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}

func TestGetUserByIDHandler_NormalizesID(t *testing.T) {
	id := uuid.New()
	var looked string

	repo := &fakeUsersRepo{
		findFn: func(ctx context.Context, got string) (user.User, error) {
			looked = got
			return user.User{ID: got}, nil
		},
	}

	w := do(setupRouter(repo), http.MethodGet, "/users/"+strings.ToUpper(id.String()), "")

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d", w.Code)
	}
	if looked != id.String() {
		t.Fatalf("repo got %q, want canonical %q", looked, id.String())
	}
}

func TestUpdateUserHandler(t *testing.T) {
	created := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	id := uuid.NewString()
	existing := func(f *fakeUsersRepo) {
		f.findFn = func(ctx context.Context, got string) (user.User, error) {
			return user.User{ID: got, Name: "Ann", Email: "ann@x.com", CreatedAt: created, UpdatedAt: created}, nil
		}
	}

	tests := []struct {
		name           string
		path           string
		body           string
		repoSetUp      func(*fakeUsersRepo)
		wantStatusCode int
	}{
		{
			name: "success",
			path: "/users/" + id,
			body: `{"name":"Annie","email":"annie@x.com"}`,
			repoSetUp: func(f *fakeUsersRepo) {
				existing(f)
				f.replaceFn = func(ctx context.Context, got string, req user.UpdateUserRequest) (user.User, error) {
					return user.User{ID: got, Name: req.Name, Email: req.Email, CreatedAt: created, UpdatedAt: created.Add(time.Second)}, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "missing_user_wins_over_invalid_body",
			path:           "/users/" + id,
			body:           `{"name":"","email":""}`,
			wantStatusCode: http.StatusNotFound,
		},
		{
			name:           "blank_fields",
			path:           "/users/" + id,
			body:           `{"name":"Annie","email":"   "}`,
			repoSetUp:      existing,
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name: "email_taken",
			path: "/users/" + id,
			body: `{"name":"Annie","email":"bob@x.com"}`,
			repoSetUp: func(f *fakeUsersRepo) {
				existing(f)
				f.replaceFn = func(ctx context.Context, got string, req user.UpdateUserRequest) (user.User, error) {
					return user.User{}, user.ErrEmailTaken
				}
			},
			wantStatusCode: http.StatusConflict,
		},
		{
			name: "deleted_concurrently",
			path: "/users/" + id,
			body: `{"name":"Annie","email":"annie@x.com"}`,
			repoSetUp: func(f *fakeUsersRepo) {
				existing(f)
			},
			wantStatusCode: http.StatusNotFound,
		},
		{
			name:           "malformed_id",
			path:           "/users/123",
			body:           `{"name":"Annie","email":"annie@x.com"}`,
			wantStatusCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeUsersRepo{}
			if tt.repoSetUp != nil {
				tt.repoSetUp(repo)
			}

			w := do(setupRouter(repo), http.MethodPut, tt.path, tt.body)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}

func TestDeleteUserHandler(t *testing.T) {
	id := uuid.NewString()

	t.Run("always_no_content", func(t *testing.T) {
		repo := &fakeUsersRepo{}

		for i := 0; i < 2; i++ {
			w := do(setupRouter(repo), http.MethodDelete, "/users/"+id, "")
			if w.Code != http.StatusNoContent {
				t.Fatalf("call %d: got status %d", i, w.Code)
			}
		}

		if len(repo.deletes) != 2 {
			t.Fatalf("expected 2 deletes, got %v", repo.deletes)
		}
	})

	t.Run("malformed_id", func(t *testing.T) {
		repo := &fakeUsersRepo{}

		w := do(setupRouter(repo), http.MethodDelete, "/users/nope", "")

		if w.Code != http.StatusNoContent {
			t.Fatalf("got status %d", w.Code)
		}
		if len(repo.deletes) != 0 {
			t.Fatalf("repo must not be called, got %v", repo.deletes)
		}
	})

	t.Run("repo_error", func(t *testing.T) {
		repo := &fakeUsersRepo{
			deleteFn: func(ctx context.Context, id string) error {
				return errors.New("db error")
			},
		}

		w := do(setupRouter(repo), http.MethodDelete, "/users/"+id, "")

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("got status %d", w.Code)
		}
	})
}

// Lifecycle against the in-memory store, the walkthrough from the API docs.
func TestUsersLifecycle_MemoryStore(t *testing.T) {
	r := setupRouter(memory.NewUsersRepo())

	w := do(r, http.MethodPost, "/users", `{"name":"Ann","email":"ann@x.com"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: got %d body=%s", w.Code, w.Body.String())
	}
	created := decodeUser(t, w)

	w = do(r, http.MethodGet, "/users/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: got %d", w.Code)
	}
	if got := decodeUser(t, w); got.Name != "Ann" || got.Email != "ann@x.com" {
		t.Fatalf("get: unexpected user %+v", got)
	}

	w = do(r, http.MethodPost, "/users", `{"name":"Other","email":"ANN@x.com"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate: got %d", w.Code)
	}

	w = do(r, http.MethodPost, "/users", `{"name":"","email":"blank@x.com"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("blank: got %d", w.Code)
	}

	w = do(r, http.MethodPut, "/users/"+uuid.NewString(), `{"name":"x","email":"x@x.com"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("update missing: got %d", w.Code)
	}

	w = do(r, http.MethodPut, "/users/"+created.ID, `{"name":"Annie","email":"annie@x.com"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update: got %d body=%s", w.Code, w.Body.String())
	}
	updated := decodeUser(t, w)
	if updated.ID != created.ID || !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("update changed identity: %+v vs %+v", updated, created)
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Fatalf("updatedAt did not advance: %v -> %v", created.UpdatedAt, updated.UpdatedAt)
	}

	w = do(r, http.MethodGet, "/users", "")
	var all []user.User
	if err := json.Unmarshal(w.Body.Bytes(), &all); err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 || all[0].Name != "Annie" {
		t.Fatalf("list: unexpected %+v", all)
	}

	for i := 0; i < 2; i++ {
		w = do(r, http.MethodDelete, "/users/"+created.ID, "")
		if w.Code != http.StatusNoContent {
			t.Fatalf("delete %d: got %d", i, w.Code)
		}
	}

	w = do(r, http.MethodGet, "/users/"+created.ID, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: got %d", w.Code)
	}
}

func TestListUsers_ReturnsEveryCreatedUser(t *testing.T) {
	r := setupRouter(memory.NewUsersRepo())

	const n = 5
	want := map[string]user.User{}

	for i := 0; i < n; i++ {
		w := do(r, http.MethodPost, "/users", `{"name":"user","email":"user`+string(rune('a'+i))+`@x.com"}`)
		if w.Code != http.StatusCreated {
			t.Fatalf("create %d: got %d", i, w.Code)
		}
		u := decodeUser(t, w)
		want[u.ID] = u
	}

	w := do(r, http.MethodGet, "/users", "")
	var all []user.User
	if err := json.Unmarshal(w.Body.Bytes(), &all); err != nil {
		t.Fatalf("list: %v", err)
	}

	if len(all) != n {
		t.Fatalf("got %d users, want %d", len(all), n)
	}
	for _, u := range all {
		if prev, ok := want[u.ID]; !ok || prev.Email != u.Email || !prev.UpdatedAt.Equal(u.UpdatedAt) {
			t.Fatalf("listed user %+v does not match a create result", u)
		}
	}
}

