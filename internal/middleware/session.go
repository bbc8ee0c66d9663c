// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/eventboard/internal/clientsession"
)

// ClientSessionCookieName はクライアントセッションIDを保持するCookieの名前。
const ClientSessionCookieName = "client_session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// clientSessionContextKey はリクエストコンテキストにクライアントセッションを格納するためのキー。
var clientSessionContextKey = contextKey("client_session")

// SessionResolver はクライアントセッションの解決に必要なインターフェース。
// clientsession.Registryの部分集合として定義する。
type SessionResolver interface {
	Resolve(id string) (s *clientsession.Session, created bool)
}

// ClientSessionConfig はクライアントセッションCookieの設定。
type ClientSessionConfig struct {
	CookieDomain string
	CookieSecure bool
	MaxAge       int // 秒
}

// NewClientSessionMiddleware はHTTP Only Cookieからクライアントセッションを解決し、
// リクエストコンテキストに注入するミドルウェアを返す。
// Cookieがない、または未知のIDの場合は新しいセッションを作成してCookieを発行する。
func NewClientSessionMiddleware(resolver SessionResolver, config ClientSessionConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id string
			if cookie, err := r.Cookie(ClientSessionCookieName); err == nil {
				id = cookie.Value
			}

			s, created := resolver.Resolve(id)
			if created {
				http.SetCookie(w, &http.Cookie{
					Name:     ClientSessionCookieName,
					Value:    s.ID,
					Path:     "/",
					Domain:   config.CookieDomain,
					MaxAge:   config.MaxAge,
					HttpOnly: true,
					Secure:   config.CookieSecure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClientSession(r.Context(), s)))
		})
	}
}

// ClientSessionFromContext はリクエストコンテキストからクライアントセッションを取得する。
// クライアントセッションミドルウェアを通過したリクエストでのみ有効。
func ClientSessionFromContext(ctx context.Context) (*clientsession.Session, error) {
	s, ok := ctx.Value(clientSessionContextKey).(*clientsession.Session)
	if !ok || s == nil {
		return nil, fmt.Errorf("client session not found in context")
	}
	return s, nil
}

// ContextWithClientSession はコンテキストにクライアントセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithClientSession(ctx context.Context, s *clientsession.Session) context.Context {
	return context.WithValue(ctx, clientSessionContextKey, s)
}

// UserIDFromContext はサインイン中のユーザーのUIDを取得する。
// 匿名のクライアントセッションではエラーを返す。
func UserIDFromContext(ctx context.Context) (string, error) {
	s, err := ClientSessionFromContext(ctx)
	if err != nil {
		return "", err
	}
	id := s.Store.Current()
	if id == nil || id.UID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return id.UID, nil
}
