package middleware

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/hitoshi/eventboard/internal/clientsession"
	"github.com/hitoshi/eventboard/internal/identity"
	"github.com/hitoshi/eventboard/internal/session"
)

// --- テスト用ヘルパー ---

// newTestSession はテスト用のクライアントセッションを生成する。uidが空なら匿名。
func newTestSession(id, uid string) *clientsession.Session {
	store := session.NewStore(nil)
	if uid != "" {
		store.Restore(&identity.Identity{UID: uid, Email: uid + "@example.com", Provider: identity.ProviderPassword})
	}
	return &clientsession.Session{ID: id, Store: store}
}

// withSession はリクエストにクライアントセッションを注入する。
func withSession(r *http.Request, s *clientsession.Session) *http.Request {
	return r.WithContext(ContextWithClientSession(r.Context(), s))
}

// fakeResolver はIDをキーにセッションを保持するSessionResolver。
type fakeResolver struct {
	mu       sync.Mutex
	sessions map[string]*clientsession.Session
	nextID   int
}

func newFakeResolver(existing ...*clientsession.Session) *fakeResolver {
	r := &fakeResolver{sessions: make(map[string]*clientsession.Session)}
	for _, s := range existing {
		r.sessions[s.ID] = s
	}
	return r
}

func (r *fakeResolver) Resolve(id string) (*clientsession.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok && id != "" {
		return s, false
	}
	r.nextID++
	s := newTestSession(fmt.Sprintf("generated-%d", r.nextID), "")
	r.sessions[s.ID] = s
	return s, true
}

// created は新しく作成したセッションの数を返す。
func (r *fakeResolver) created() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextID
}
