package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// newChainRouter はサーバーと同じ順序でミドルウェアを組んだchi.Routerを返す。
func newChainRouter(t *testing.T, resolver SessionResolver) http.Handler {
	t.Helper()
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    3,
		AuthRate:        1,
		AuthBurst:       1,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(rl.Stop)

	csrfConfig := CSRFConfig{}
	r := chi.NewRouter()
	r.Use(NewRecoveryMiddleware(nil))
	r.Use(NewSecurityHeadersMiddleware())
	r.Use(NewCORSMiddleware("http://localhost:3000"))
	r.Use(rl.GeneralMiddleware())
	r.Use(NewClientSessionMiddleware(resolver, ClientSessionConfig{MaxAge: 3600}))
	r.Use(NewLoggingMiddleware(slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))))

	r.Get("/api/csrf-token", NewCSRFTokenHandler(csrfConfig).ServeHTTP)
	r.Group(func(r chi.Router) {
		r.Use(NewCSRFMiddleware(csrfConfig))
		r.Get("/api/whoami", func(w http.ResponseWriter, r *http.Request) {
			s, _ := ClientSessionFromContext(r.Context())
			json.NewEncoder(w).Encode(map[string]string{"client_session_id": s.ID})
		})
		r.With(rl.AuthMiddleware()).Post("/auth/signin", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})
	return r
}

// TestMiddlewareChain_CookieRoundTrip は発行されたCookieで同じクライアントセッションに戻れることを検証する。
func TestMiddlewareChain_CookieRoundTrip(t *testing.T) {
	router := newChainRouter(t, newFakeResolver())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/whoami", nil))
	first := w.Result()

	sessionCookie := findCookie(first, ClientSessionCookieName)
	csrfCookie := findCookie(first, csrfCookieName)
	if sessionCookie == nil || csrfCookie == nil {
		t.Fatalf("cookies = %v, want client_session and csrf_token", first.Cookies())
	}
	if first.Header.Get("X-Frame-Options") != "DENY" {
		t.Error("security headers should be applied")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	req.AddCookie(sessionCookie)
	req.AddCookie(csrfCookie)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body map[string]string
	json.NewDecoder(w.Result().Body).Decode(&body)
	if body["client_session_id"] != sessionCookie.Value {
		t.Errorf("client_session_id = %q, want %q", body["client_session_id"], sessionCookie.Value)
	}
	if findCookie(w.Result(), ClientSessionCookieName) != nil {
		t.Error("known session should not be re-issued")
	}
}

// TestMiddlewareChain_SignInRequiresCSRFAndIsRateLimited はサインインがCSRF検証と認証用レート制限を通ることを検証する。
func TestMiddlewareChain_SignInRequiresCSRFAndIsRateLimited(t *testing.T) {
	existing := newTestSession("chain-session", "")
	router := newChainRouter(t, newFakeResolver(existing))

	post := func(withToken bool) int {
		req := httptest.NewRequest(http.MethodPost, "/auth/signin", nil)
		req.AddCookie(&http.Cookie{Name: ClientSessionCookieName, Value: "chain-session"})
		if withToken {
			req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "tok"})
			req.Header.Set(csrfHeaderName, "tok")
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Result().StatusCode
	}

	if got := post(false); got != http.StatusForbidden {
		t.Errorf("without CSRF = %d, want 403", got)
	}
	if got := post(true); got != http.StatusNoContent {
		t.Errorf("1st signin = %d, want 204", got)
	}
	if got := post(true); got != http.StatusTooManyRequests {
		t.Errorf("2nd signin = %d, want 429 (auth burst 1)", got)
	}
}

// TestMiddlewareChain_SignInLimitedWithoutSessionCookie はセッションCookieを送らないクライアントも
// 接続元IP単位で認証用レート制限を受けることを検証する。
func TestMiddlewareChain_SignInLimitedWithoutSessionCookie(t *testing.T) {
	resolver := newFakeResolver()
	router := newChainRouter(t, resolver)

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/auth/signin", nil)
		req.RemoteAddr = "198.51.100.7:40000"
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "tok"})
		req.Header.Set(csrfHeaderName, "tok")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Result().StatusCode
	}

	if got := post(); got != http.StatusNoContent {
		t.Fatalf("1st signin = %d, want 204", got)
	}
	if got := post(); got != http.StatusTooManyRequests {
		t.Errorf("2nd signin without session cookie = %d, want 429 (auth burst 1)", got)
	}
}

// TestMiddlewareChain_GeneralLimitRunsBeforeSessionCreation は全般のレート制限を超えたリクエストで
// クライアントセッションが作られないことを検証する。
func TestMiddlewareChain_GeneralLimitRunsBeforeSessionCreation(t *testing.T) {
	resolver := newFakeResolver()
	router := newChainRouter(t, resolver)

	var statuses []int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
		req.RemoteAddr = "198.51.100.8:40000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		statuses = append(statuses, w.Result().StatusCode)
	}

	// GeneralBurst 3
	if statuses[2] != http.StatusOK || statuses[3] != http.StatusTooManyRequests || statuses[4] != http.StatusTooManyRequests {
		t.Errorf("statuses = %v, want 3 x 200 then 429", statuses)
	}
	if n := resolver.created(); n != 3 {
		t.Errorf("sessions created = %d, want 3", n)
	}
}

// TestMiddlewareChain_Preflight はプリフライトがセッション作成前に204で終わることを検証する。
func TestMiddlewareChain_Preflight(t *testing.T) {
	resolver := newFakeResolver()
	router := newChainRouter(t, resolver)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/auth/signin", nil))

	if w.Result().StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Result().StatusCode)
	}
	if len(resolver.sessions) != 0 {
		t.Error("preflight should not create a client session")
	}
}
