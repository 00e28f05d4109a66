package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"callcrm/internal/api/auth"
	"callcrm/internal/config"
	"callcrm/internal/model"
	"callcrm/internal/pkg/logger"
	"callcrm/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

type recordingNotifier struct {
	mu        sync.Mutex
	transfers []uint
	resets    []string
}

func (r *recordingNotifier) LeadTransferred(ctx context.Context, lead *model.Lead, from, to *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers = append(r.transfers, to.ID)
	return nil
}

func (r *recordingNotifier) PasswordReset(ctx context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets = append(r.resets, user.Email)
	return nil
}

func (r *recordingNotifier) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transfers), len(r.resets)
}

type testEnv struct {
	srv      *Server
	store    *store.Store
	mr       *miniredis.Miniredis
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T, tweak ...func(cfg *config.Config)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Database = config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "crm.db")}
	cfg.App.UploadDir = t.TempDir()
	cfg.App.KeepaliveInterval = 0
	cfg.App.LoginRateLimit = 0
	cfg.Security.SessionSecret = "test-secret"
	cfg.Security.ResetCode = "letmein"
	cfg.Security.BcryptCost = bcrypt.MinCost
	for _, fn := range tweak {
		fn(cfg)
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	st := store.New(db, store.WithLocation(time.UTC))
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	notifier := &recordingNotifier{}
	srv := newServer(cfg, logger.Discard(), st, rdb, notifier)
	srv.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		_ = srv.Close()
		mr.Close()
	})
	return &testEnv{srv: srv, store: st, mr: mr, notifier: notifier}
}

func (e *testEnv) createUser(t *testing.T, email string, role model.Role, password string) *model.User {
	t.Helper()
	hash, err := auth.HashPassword(password, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &model.User{Email: email, Password: hash, Name: email, Role: role}
	if err := e.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

// tokenFor 直接签发会话，跳过登录接口。
func (e *testEnv) tokenFor(t *testing.T, u *model.User) string {
	t.Helper()
	token, _, err := e.srv.sessions.Create(context.Background(), u.ID, u.Role)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == "crm_session" && c.Value != "" {
			return c
		}
	}
	return nil
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, w, http.StatusOK)

	env.mr.Close()
	w = env.do(t, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, w, http.StatusServiceUnavailable)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/calls", "/api/leads", "/api/stats", "/api/admin/users", "/uploads/biodata/x.pdf"} {
		w := env.do(t, http.MethodGet, path, "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, w.Code)
		}
	}
}

func TestLogin_WrongPasswordSetsNoCookie(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "agent@example.com", model.RoleCCAgent, "secret1")

	w := env.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "agent@example.com", "password": "wrong"})
	expectStatus(t, w, http.StatusUnauthorized)
	if c := sessionCookie(w); c != nil {
		t.Fatalf("unexpected session cookie %v", c)
	}

	w = env.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "nobody@example.com", "password": "secret1"})
	expectStatus(t, w, http.StatusUnauthorized)
}

func TestLogin_CookieSessionAndLogout(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "agent@example.com", model.RoleCCAgent, "secret1")

	w := env.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "Agent@Example.com", "password": "secret1"})
	expectStatus(t, w, http.StatusOK)
	profile := decode[model.Profile](t, w)
	if profile.Email != "agent@example.com" || profile.Role != model.RoleCCAgent {
		t.Fatalf("unexpected profile %+v", profile)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("password")) {
		t.Fatalf("password leaked in response: %s", w.Body.String())
	}
	cookie := sessionCookie(w)
	if cookie == nil || !cookie.HttpOnly {
		t.Fatalf("expected http-only session cookie, got %v", cookie)
	}

	me := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		env.srv.Router().ServeHTTP(rec, req)
		return rec
	}
	expectStatus(t, me(), http.StatusOK)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusOK)

	expectStatus(t, me(), http.StatusUnauthorized)
}

func TestLogin_ThrottledPerIP(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.App.LoginRateLimit = 0.001
		cfg.App.LoginRateBurst = 2
	})
	env.createUser(t, "agent@example.com", model.RoleCCAgent, "secret1")

	bad := gin.H{"email": "agent@example.com", "password": "nope"}
	expectStatus(t, env.do(t, http.MethodPost, "/api/auth/login", "", bad), http.StatusUnauthorized)
	expectStatus(t, env.do(t, http.MethodPost, "/api/auth/login", "", bad), http.StatusUnauthorized)
	w := env.do(t, http.MethodPost, "/api/auth/login", "", bad)
	expectStatus(t, w, http.StatusTooManyRequests)
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"name": "Boss", "email": "boss@example.com", "role": "super_admin", "password": "secret1",
	})
	expectStatus(t, w, http.StatusBadRequest)

	body := gin.H{"name": "Cro", "email": "cro@example.com", "phone": "0171", "role": "cro_agent", "password": "secret1"}
	w = env.do(t, http.MethodPost, "/api/auth/register", "", body)
	expectStatus(t, w, http.StatusOK)
	if sessionCookie(w) == nil {
		t.Fatal("expected session cookie after register")
	}
	token := w.Header().Get(auth.TokenHeader)
	w = env.do(t, http.MethodGet, "/api/auth/me", token, nil)
	expectStatus(t, w, http.StatusOK)
	if p := decode[model.Profile](t, w); p.Role != model.RoleCROAgent || p.Phone != "0171" {
		t.Fatalf("unexpected profile %+v", p)
	}

	w = env.do(t, http.MethodPost, "/api/auth/register", "", body)
	expectStatus(t, w, http.StatusConflict)
}

func TestRegister_Disabled(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Security.AllowRegister = false })
	w := env.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"name": "A", "email": "a@example.com", "role": "cc_agent", "password": "secret1",
	})
	expectStatus(t, w, http.StatusForbidden)
}

func TestResetPassword(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUser(t, "agent@example.com", model.RoleCCAgent, "oldpass")
	oldToken := env.tokenFor(t, u)

	w := env.do(t, http.MethodPost, "/api/auth/reset-password", "", gin.H{
		"code": "wrong", "email": "agent@example.com", "newPassword": "newpass",
	})
	expectStatus(t, w, http.StatusBadRequest)

	w = env.do(t, http.MethodPost, "/api/auth/reset-password", "", gin.H{
		"code": "letmein", "email": "ghost@example.com", "newPassword": "newpass",
	})
	expectStatus(t, w, http.StatusNotFound)

	w = env.do(t, http.MethodPost, "/api/auth/reset-password", "", gin.H{
		"code": "letmein", "email": "agent@example.com", "newPassword": "newpass",
	})
	expectStatus(t, w, http.StatusOK)

	expectStatus(t, env.do(t, http.MethodGet, "/api/auth/me", oldToken, nil), http.StatusUnauthorized)
	expectStatus(t, env.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "agent@example.com", "password": "oldpass"}), http.StatusUnauthorized)
	expectStatus(t, env.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "agent@example.com", "password": "newpass"}), http.StatusOK)

	waitFor(t, func() bool {
		_, resets := env.notifier.counts()
		return resets == 1
	})
}

func TestResetPassword_DisabledWithoutCode(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Security.ResetCode = "" })
	env.createUser(t, "agent@example.com", model.RoleCCAgent, "oldpass")

	w := env.do(t, http.MethodPost, "/api/auth/reset-password", "", gin.H{
		"code": "", "email": "agent@example.com", "newPassword": "newpass",
	})
	expectStatus(t, w, http.StatusBadRequest)
}

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUser(t, "agent@example.com", model.RoleCCAgent, "secret1")
	token := env.tokenFor(t, u)

	w := env.do(t, http.MethodPut, "/api/profile", token, gin.H{"name": "New Name", "phone": "0188", "password": "another"})
	expectStatus(t, w, http.StatusOK)
	p := decode[model.Profile](t, w)
	if p.Name != "New Name" || p.Phone != "0188" || p.Role != model.RoleCCAgent {
		t.Fatalf("unexpected profile %+v", p)
	}
	expectStatus(t, env.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "agent@example.com", "password": "another"}), http.StatusOK)

	w = env.do(t, http.MethodPut, "/api/profile", token, gin.H{"name": "  "})
	expectStatus(t, w, http.StatusBadRequest)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
