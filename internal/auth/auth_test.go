package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"erp/ecommerce/storepro/internal/domain"
	"erp/ecommerce/storepro/internal/platform/httpx"
	"erp/ecommerce/storepro/internal/storage"
)

type sentMail struct {
	mu    sync.Mutex
	kinds []string
}

func (s *sentMail) Welcome(domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds = append(s.kinds, "welcome")
}

func (s *sentMail) StoreWelcome(domain.User, domain.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds = append(s.kinds, "store_welcome")
}

type fixture struct {
	repo   *storage.Memory
	svc    *Service
	tokens *Tokens
	mail   *sentMail
	router http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	rp := httpx.Responder{Log: log}
	repo := storage.NewMemory()
	tokens := NewTokens("test-secret", time.Hour)
	mail := &sentMail{}
	svc := NewService(repo, tokens, mail, domain.DefaultPlans("", ""), log)
	svc.hashCost = bcrypt.MinCost

	h := NewHandler(svc, NewGuard(tokens, repo, rp), NewRateLimiter(600, 100, rp), rp)
	r := chi.NewRouter()
	r.Route("/auth", h.Routes)
	return &fixture{repo: repo, svc: svc, tokens: tokens, mail: mail, router: r}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.7:5555"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) storeOwner(t *testing.T) Session {
	t.Helper()
	sess, err := f.svc.RegisterStore(context.Background(), RegisterStoreRequest{
		Name: "Layla", Email: "Layla@Example.com", Password: "secret1", Phone: "+966500000000",
		StoreName: "Dates House",
	})
	require.NoError(t, err)
	return sess
}

func TestRegisterRejectsNonCustomerRoles(t *testing.T) {
	f := newFixture(t)
	for _, role := range []string{"store_owner", "platform_admin", "wizard"} {
		rec := f.do(t, http.MethodPost, "/auth/register", "", map[string]string{
			"name": "Omar", "email": "omar@example.com", "password": "secret1", "role": role,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code, role)
	}
	_, err := f.repo.GetUserByEmail(context.Background(), "omar@example.com")
	assert.True(t, storage.IsNotFound(err))

	rec := f.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Omar", "email": "omar@example.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, f.mail.kinds)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]RegisterRequest{
		"missing name":   {Email: "a@example.com", Password: "secret1"},
		"bad email":      {Name: "A", Email: "nope", Password: "secret1"},
		"short password": {Name: "A", Email: "a@example.com", Password: "12345"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.RegisterCustomer(context.Background(), req)
			assert.ErrorIs(t, err, httpx.ErrValidation)
		})
	}
}

func TestRegisterCustomerDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.RegisterCustomer(ctx, RegisterRequest{Name: "Sara", Email: "sara@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCustomer, sess.User.Role)
	assert.Equal(t, []string{"welcome"}, f.mail.kinds)

	_, err = f.svc.RegisterCustomer(ctx, RegisterRequest{Name: "Sara", Email: " SARA@example.com ", Password: "secret1"})
	assert.ErrorIs(t, err, httpx.ErrValidation)
}

func TestRegisterStoreCreatesOwnerAndStore(t *testing.T) {
	f := newFixture(t)
	sess := f.storeOwner(t)

	require.NotNil(t, sess.Store)
	assert.Equal(t, domain.RoleStoreOwner, sess.User.Role)
	assert.Equal(t, "layla@example.com", sess.User.Email)
	assert.Equal(t, sess.Store.ID, sess.User.StoreID)
	assert.Equal(t, "dates-house", sess.Store.Slug)
	assert.Equal(t, "layla@example.com", sess.Store.Email)
	assert.Equal(t, "+966500000000", sess.Store.Phone)
	assert.Equal(t, domain.PlanFree, sess.Store.Subscription.Plan)
	assert.Equal(t, domain.Limits{MaxProducts: 10, MaxOrders: 100}, sess.Store.Limits)
	assert.Equal(t, "SAR", sess.Store.Settings.Currency)
	assert.Equal(t, []string{"store_welcome"}, f.mail.kinds)

	claims, err := f.tokens.Parse(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, claims.Subject)
	assert.Equal(t, sess.Store.ID, claims.StoreID)

	_, err = f.svc.RegisterStore(context.Background(), RegisterStoreRequest{
		Name: "Other", Email: "other@example.com", Password: "secret1", StoreName: "dates house",
	})
	assert.ErrorIs(t, err, httpx.ErrValidation)
	_, err = f.repo.GetUserByEmail(context.Background(), "other@example.com")
	assert.True(t, storage.IsNotFound(err), "no user is left behind when the store is rejected")
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	owner := f.storeOwner(t)

	rec := f.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Email: "layla@example.com", Password: "wrong!"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Email: "ghost@example.com", Password: "secret1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Email: "LAYLA@example.com", Password: "secret1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data Session `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Data.Token)

	u, err := f.repo.GetUser(context.Background(), owner.User.ID)
	require.NoError(t, err)
	assert.NotNil(t, u.LastLogin)

	u.IsActive = false
	require.NoError(t, f.repo.UpdateUser(context.Background(), u))
	rec = f.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Email: "layla@example.com", Password: "secret1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	owner := f.storeOwner(t)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/auth/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/auth/me", "garbage", nil).Code)

	other := NewTokens("another-secret", time.Hour)
	forged, err := other.Issue(owner.User)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/auth/me", forged, nil).Code)

	expired := NewTokens("test-secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, err := expired.Issue(owner.User)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/auth/me", stale, nil).Code)

	rec := f.do(t, http.MethodGet, "/auth/me", owner.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"slug":"dates-house"`)

	u, _ := f.repo.GetUser(context.Background(), owner.User.ID)
	u.IsActive = false
	require.NoError(t, f.repo.UpdateUser(context.Background(), u))
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/auth/me", owner.Token, nil).Code)
}

func TestStoreRoutesRequireOwnerRole(t *testing.T) {
	f := newFixture(t)
	f.storeOwner(t)
	cust, err := f.svc.RegisterCustomer(context.Background(), RegisterRequest{Name: "Sara", Email: "sara@example.com", Password: "secret1"})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPut, "/auth/store", cust.Token, map[string]string{"name": "Hijacked"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	taken, _ := f.repo.StoreNameTaken(context.Background(), "Hijacked", "")
	assert.False(t, taken)
}

func TestUpdateStoreKeepsSlug(t *testing.T) {
	f := newFixture(t)
	owner := f.storeOwner(t)

	rec := f.do(t, http.MethodPut, "/auth/store", owner.Token, map[string]any{
		"name": "Palm Market", "language": "en", "currency": "usd",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	s, err := f.repo.GetStore(context.Background(), owner.Store.ID)
	require.NoError(t, err)
	assert.Equal(t, "Palm Market", s.Name)
	assert.Equal(t, "dates-house", s.Slug)
	assert.Equal(t, "USD", s.Settings.Currency)
	assert.False(t, s.Settings.IsRTL)

	rec = f.do(t, http.MethodPut, "/auth/store", owner.Token, map[string]any{"language": "de"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateProfilePasswordChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.storeOwner(t)
	newPass := "better-secret"

	_, err := f.svc.UpdateProfile(ctx, owner.User, UpdateProfileRequest{CurrentPassword: "wrong", NewPassword: newPass})
	assert.ErrorIs(t, err, httpx.ErrValidation)

	name := "Layla A."
	u, err := f.svc.UpdateProfile(ctx, owner.User, UpdateProfileRequest{Name: &name, CurrentPassword: "secret1", NewPassword: newPass})
	require.NoError(t, err)
	assert.Equal(t, name, u.Name)

	_, err = f.svc.Login(ctx, LoginRequest{Email: "layla@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, httpx.ErrUnauthenticated)
	_, err = f.svc.Login(ctx, LoginRequest{Email: "layla@example.com", Password: newPass})
	assert.NoError(t, err)
}

func TestRateLimiterRejectsBursts(t *testing.T) {
	rp := httpx.Responder{}
	l := NewRateLimiter(1, 2, rp)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "198.51.100.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "198.51.100.2:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code, "limits are per client")

	l.now = func() time.Time { return time.Now().Add(time.Hour) }
	l.Sweep()
	assert.Empty(t, l.clients)
}

func TestCanManageStore(t *testing.T) {
	assert.True(t, CanManageStore(domain.User{Role: domain.RolePlatformAdmin}, "st_1"))
	assert.True(t, CanManageStore(domain.User{Role: domain.RoleStoreOwner, StoreID: "st_1"}, "st_1"))
	assert.False(t, CanManageStore(domain.User{Role: domain.RoleStoreOwner, StoreID: "st_2"}, "st_1"))
	assert.False(t, CanManageStore(domain.User{Role: domain.RoleCustomer}, ""))
}
