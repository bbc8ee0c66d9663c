// Package clientsession はブラウザごとのクライアントセッションを管理する。
// 1つのクライアントセッションはSession Store、認証セッションController、
// 参加登録Controller、一覧エンジンを束ねたもので、Cookieで識別される。
package clientsession

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/eventboard/internal/attendance"
	"github.com/hitoshi/eventboard/internal/authsession"
	"github.com/hitoshi/eventboard/internal/identity"
	"github.com/hitoshi/eventboard/internal/listing"
	"github.com/hitoshi/eventboard/internal/repository"
	"github.com/hitoshi/eventboard/internal/session"
)

// Session は1つのブラウザに紐づく状態一式。
// 各Controllerはスレッドセーフで、同一ブラウザからの並行リクエストで共有される。
type Session struct {
	ID         string
	Store      *session.Store
	Auth       *authsession.Controller
	Attendance *attendance.Controller
	Listing    *listing.Engine

	dispose func()

	mu         sync.Mutex
	lastAccess time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastAccess = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

// Deps はクライアントセッションの構築に必要な依存関係。
type Deps struct {
	Provider identity.Provider
	Profiles repository.ProfileRepository
	Events   repository.EventRepository
	Signups  repository.SignupRepository
}

// Config はRegistryの設定を保持する。
type Config struct {
	IdleTimeout     time.Duration // 最終アクセスからこの時間が経過したセッションを破棄する
	CleanupInterval time.Duration // 期限切れセッションのクリーンアップ間隔。0以下なら自動実行しない
	PageSize        int
	Auth            authsession.Config
}

// Gauge はアクティブなクライアントセッション数の記録先。
type Gauge interface {
	SetActiveClientSessions(n int)
}

// Registry はクライアントセッションをIDで管理する。
type Registry struct {
	deps   Deps
	config Config
	logger *slog.Logger
	gauge  Gauge
	now    func() time.Time
	newID  func() string

	mu       sync.RWMutex
	sessions map[string]*Session

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRegistry は新しいRegistryを生成する。
// CleanupIntervalが正の場合はバックグラウンドでアイドルセッションの破棄を開始する。
func NewRegistry(deps Deps, config Config, gauge Gauge, logger *slog.Logger) *Registry {
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		deps:     deps,
		config:   config,
		logger:   logger,
		gauge:    gauge,
		now:      time.Now,
		newID:    uuid.NewString,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go r.cleanupLoop()
	}

	return r
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止し、全セッションを破棄する。
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)

		r.mu.Lock()
		all := make([]*Session, 0, len(r.sessions))
		for id, s := range r.sessions {
			all = append(all, s)
			delete(r.sessions, id)
		}
		r.mu.Unlock()

		for _, s := range all {
			s.dispose()
		}
		r.report(0)
	})
}

// Lookup はIDに対応するセッションを返し、最終アクセス時刻を更新する。
// IdleTimeoutを超えたセッションはその場で破棄し、見つからなかったものとして扱う。
// 判定と更新はEvictIdleと同じロックの中で行うため、返したセッションが直後に破棄されることはない。
func (r *Registry) Lookup(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	now := r.now()
	cutoff := now.Add(-r.config.IdleTimeout)

	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	if s.idleSince().Before(cutoff) {
		delete(r.sessions, id)
		n := len(r.sessions)
		r.mu.Unlock()

		s.dispose()
		r.report(n)
		return nil, false
	}
	s.touch(now)
	r.mu.Unlock()
	return s, true
}

// Resolve はIDに対応するセッションを返す。存在しない場合は新しいIDで作成する。
// クライアントが提示した未知のIDはそのまま採用しない。
func (r *Registry) Resolve(id string) (s *Session, created bool) {
	if s, ok := r.Lookup(id); ok {
		return s, false
	}
	return r.Create(), true
}

// Create は新しいクライアントセッションを作成して登録する。
// 認証セッションControllerを購読させた後、保存済みセッションなしとして初期化する。
func (r *Registry) Create() *Session {
	store := session.NewStore(r.deps.Provider)
	auth := authsession.NewController(store, r.deps.Profiles, r.config.Auth, r.logger)
	dispose := auth.Start()
	store.Restore(nil)

	s := &Session{
		Store:      store,
		Auth:       auth,
		Attendance: attendance.NewController(r.deps.Signups, r.now),
		Listing:    listing.NewEngine(r.deps.Events, r.config.PageSize, r.logger),
		dispose:    dispose,
		lastAccess: r.now(),
	}

	r.mu.Lock()
	for {
		s.ID = r.newID()
		if _, exists := r.sessions[s.ID]; !exists {
			break
		}
	}
	r.sessions[s.ID] = s
	n := len(r.sessions)
	r.mu.Unlock()

	r.report(n)
	r.logger.Debug("client session created", slog.String("client_session_id", s.ID))
	return s
}

// Remove はセッションを登録解除して破棄する。存在しない場合は何もしない。
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	n := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return
	}
	s.dispose()
	r.report(n)
}

// EvictIdle はIdleTimeoutを超えてアクセスのないセッションを破棄し、破棄した件数を返す。
func (r *Registry) EvictIdle() int {
	cutoff := r.now().Add(-r.config.IdleTimeout)

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, s := range expired {
		s.dispose()
	}
	if len(expired) > 0 {
		r.report(n)
		r.logger.Info("idle client sessions evicted",
			slog.Int("evicted", len(expired)),
			slog.Int("active", n),
		)
	}
	return len(expired)
}

// Len は現在管理されているセッション数を返す。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) report(n int) {
	if r.gauge != nil {
		r.gauge.SetActiveClientSessions(n)
	}
}

// cleanupLoop は定期的にアイドルセッションを破棄する。
func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(r.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.EvictIdle()
		}
	}
}
