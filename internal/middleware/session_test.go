package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSessionMiddleware_KnownCookie_InjectsSession(t *testing.T) {
	existing := newTestSession("known-id", "user-123")
	mw := NewClientSessionMiddleware(newFakeResolver(existing), ClientSessionConfig{MaxAge: 3600})

	var captured string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := ClientSessionFromContext(r.Context())
		if err != nil {
			t.Errorf("expected no error, got %v", err)
			return
		}
		captured = s.ID
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.AddCookie(&http.Cookie{Name: ClientSessionCookieName, Value: "known-id"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if captured != "known-id" {
		t.Errorf("session ID = %q, want %q", captured, "known-id")
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("既存セッションではCookieを再発行しない")
	}
}

func TestClientSessionMiddleware_NoCookie_IssuesNewSession(t *testing.T) {
	mw := NewClientSessionMiddleware(newFakeResolver(), ClientSessionConfig{
		CookieDomain: "example.com",
		CookieSecure: true,
		MaxAge:       86400,
	})

	var captured string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, _ := ClientSessionFromContext(r.Context())
		captured = s.ID
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != ClientSessionCookieName || c.Value != captured {
		t.Errorf("cookie = %s=%s, want %s=%s", c.Name, c.Value, ClientSessionCookieName, captured)
	}
	if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie flags = HttpOnly:%v Secure:%v SameSite:%v", c.HttpOnly, c.Secure, c.SameSite)
	}
	if c.MaxAge != 86400 || c.Path != "/" {
		t.Errorf("cookie MaxAge=%d Path=%q", c.MaxAge, c.Path)
	}
}

func TestClientSessionMiddleware_UnknownCookie_Replaced(t *testing.T) {
	mw := NewClientSessionMiddleware(newFakeResolver(), ClientSessionConfig{})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.AddCookie(&http.Cookie{Name: ClientSessionCookieName, Value: "expired-id"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value == "expired-id" {
		t.Errorf("未知のIDは新しいIDで置き換えるべき: %+v", cookies)
	}
}

func TestClientSessionFromContext_NoValue_ReturnsError(t *testing.T) {
	if _, err := ClientSessionFromContext(context.Background()); err == nil {
		t.Error("expected error for empty context")
	}
}

func TestUserIDFromContext(t *testing.T) {
	tests := []struct {
		name    string
		ctx     context.Context
		want    string
		wantErr bool
	}{
		{"セッションなし", context.Background(), "", true},
		{"匿名", ContextWithClientSession(context.Background(), newTestSession("s-1", "")), "", true},
		{"サインイン中", ContextWithClientSession(context.Background(), newTestSession("s-2", "user-456")), "user-456", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UserIDFromContext(tt.ctx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("userID = %q, want %q", got, tt.want)
			}
		})
	}
}
