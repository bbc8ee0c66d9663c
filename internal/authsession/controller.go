// Package authsession はクライアントセッションごとの認証状態機械（Auth Session Controller）を提供する。
// Session Storeの唯一の購読者として、Identityとプロフィール、管理者フラグ、読み込み状態を管理する。
package authsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/eventboard/internal/identity"
	"github.com/hitoshi/eventboard/internal/model"
	"github.com/hitoshi/eventboard/internal/repository"
	"github.com/hitoshi/eventboard/internal/session"
)

// State は認証状態を表す。
type State int

const (
	// StateInitializing は最初のセッション通知を待っている状態。
	StateInitializing State = iota
	// StateAnonymous は未ログイン状態。
	StateAnonymous
	// StateAuthenticated はIdentityが確立している状態。
	StateAuthenticated
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Snapshot はある時点の認証状態のコピー。
type Snapshot struct {
	State    State
	Identity *identity.Identity
	Profile  *model.UserProfile
	Loading  bool
}

// IsLoggedIn はIdentityが確立している場合にtrueを返す。
func (s Snapshot) IsLoggedIn() bool {
	return s.State == StateAuthenticated
}

// IsAdmin はプロフィールが存在し、管理者フラグがtrueの場合にtrueを返す。
func (s Snapshot) IsAdmin() bool {
	return s.Profile != nil && s.Profile.Admin
}

// Config はControllerの設定。
type Config struct {
	DefaultAvatarURL string        // 自動作成するプロフィールのアバターURL
	FetchTimeout     time.Duration // プロフィール取得・作成のタイムアウト
}

// AuthError はサインアウトなどIdentity Serviceの操作失敗を表す。
type AuthError struct {
	Op  string
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	return fmt.Sprintf("auth session %s failed: %v", e.Op, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Controller はAuth Session Controller。
type Controller struct {
	store    *session.Store
	profiles repository.ProfileRepository
	config   Config
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	identity  *identity.Identity
	profile   *model.UserProfile
	loading   bool
	ready     chan struct{} // loadingがfalseになるとcloseされる
	seq       uint64        // 受信したセッション通知の通番
	observers []observer
	nextObs   int
	started   bool
	disposed  bool
}

type observer struct {
	id int
	fn func(Snapshot)
}

// NewController はControllerを生成する。初期状態はInitializingでloading=true。
func NewController(store *session.Store, profiles repository.ProfileRepository, config Config, logger *slog.Logger) *Controller {
	if config.FetchTimeout == 0 {
		config.FetchTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:    store,
		profiles: profiles,
		config:   config,
		logger:   logger,
		state:    StateInitializing,
		loading:  true,
		ready:    make(chan struct{}),
	}
}

// Start はControllerをSession Storeの購読者として登録し、破棄関数を返す。
// 2回目以降の呼び出しは何もしない破棄関数を返す。
func (c *Controller) Start() (dispose func()) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return func() {}
	}
	c.started = true
	c.mu.Unlock()

	unsubscribe := c.store.Subscribe(c.onSessionChange)
	return func() {
		unsubscribe()
		c.mu.Lock()
		c.disposed = true
		c.observers = nil
		c.mu.Unlock()
	}
}

// Subscribe は状態変化の購読者を登録し、登録解除関数を返す。
func (c *Controller) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers = append(c.observers, observer{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, o := range c.observers {
			if o.id == id {
				c.observers = append(c.observers[:i], c.observers[i+1:]...)
				return
			}
		}
	}
}

// Snapshot は現在の状態のコピーを返す。
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// CurrentIdentity は現在のIdentityを返す。
func (c *Controller) CurrentIdentity() *identity.Identity { return c.Snapshot().Identity }

// Profile は現在のプロフィールを返す。
func (c *Controller) Profile() *model.UserProfile { return c.Snapshot().Profile }

// IsLoggedIn はログイン中の場合にtrueを返す。
func (c *Controller) IsLoggedIn() bool { return c.Snapshot().IsLoggedIn() }

// IsAdmin はキャッシュされたプロフィールの管理者フラグを返す。
// 管理者操作の前にWaitReadyを呼ぶこと。
func (c *Controller) IsAdmin() bool { return c.Snapshot().IsAdmin() }

// IsEmailUser はメールアドレスとパスワードでサインインしている場合にtrueを返す。
func (c *Controller) IsEmailUser() bool { return c.Snapshot().Identity.IsEmailUser() }

// Loading はプロフィールの読み込み中の場合にtrueを返す。
func (c *Controller) Loading() bool { return c.Snapshot().Loading }

// WaitReady はloadingがfalseになるまで待つ。
func (c *Controller) WaitReady(ctx context.Context) error {
	for {
		c.mu.Lock()
		if !c.loading {
			c.mu.Unlock()
			return nil
		}
		ready := c.ready
		c.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RefreshProfile はプロフィールを再取得する。未ログインの場合は何もしない。
// 取得できなかった場合はプロフィールをnilにする。
func (c *Controller) RefreshProfile(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateAuthenticated || c.identity == nil {
		c.mu.Unlock()
		return
	}
	seq := c.seq
	uid := c.identity.UID
	c.mu.Unlock()

	profile, err := c.profiles.Get(ctx, uid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.logger.Info("no user profile found", slog.String("firebase_uid", uid))
		} else {
			c.logger.Error("failed to refresh user profile", slog.String("firebase_uid", uid), slog.String("error", err.Error()))
		}
		profile = nil
	}

	c.mu.Lock()
	if seq != c.seq || c.disposed {
		c.mu.Unlock()
		return
	}
	c.profile = profile
	snap, obs := c.snapshotLocked(), c.observersLocked()
	c.mu.Unlock()
	notify(obs, snap)
}

// Logout はIdentity Serviceからサインアウトする。
// 状態の更新はSession Storeからの通知で行われる。失敗した場合はAuthErrorを返す。
func (c *Controller) Logout(ctx context.Context) error {
	if err := c.store.SignOut(ctx); err != nil {
		c.logger.Error("failed to sign out", slog.String("error", err.Error()))
		return &AuthError{Op: "logout", Err: err}
	}
	return nil
}

// onSessionChange はSession Storeからの通知を処理する。
// loadingは通知ごとに、プロフィールの取得または自動作成が完了した後で1回だけfalseになる。
func (c *Controller) onSessionChange(id *identity.Identity) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.seq++
	seq := c.seq

	if id == nil {
		c.state = StateAnonymous
		c.identity = nil
		c.profile = nil
		c.setLoadingLocked(false)
		snap, obs := c.snapshotLocked(), c.observersLocked()
		c.mu.Unlock()
		notify(obs, snap)
		return
	}

	c.state = StateAuthenticated
	c.identity = id
	c.profile = nil
	c.setLoadingLocked(true)
	snap, obs := c.snapshotLocked(), c.observersLocked()
	c.mu.Unlock()
	notify(obs, snap)

	ctx, cancel := context.WithTimeout(context.Background(), c.config.FetchTimeout)
	profile := c.loadProfile(ctx, id)
	cancel()

	c.mu.Lock()
	if seq != c.seq || c.disposed {
		c.mu.Unlock()
		return
	}
	c.profile = profile
	c.setLoadingLocked(false)
	snap, obs = c.snapshotLocked(), c.observersLocked()
	c.mu.Unlock()
	notify(obs, snap)
}

// loadProfile はプロフィールを取得し、存在しない場合はメールアドレスがあれば自動作成する。
// 失敗はログに記録し、nilを返す。
func (c *Controller) loadProfile(ctx context.Context, id *identity.Identity) *model.UserProfile {
	profile, err := c.profiles.Get(ctx, id.UID)
	if err == nil {
		return profile
	}
	if !errors.Is(err, repository.ErrNotFound) {
		c.logger.Error("failed to fetch user profile", slog.String("firebase_uid", id.UID), slog.String("error", err.Error()))
		return nil
	}

	c.logger.Info("no user profile found", slog.String("firebase_uid", id.UID))
	if id.Email == "" {
		return nil
	}

	np := &model.NewProfile{FirebaseUID: id.UID, Email: id.Email}
	if c.config.DefaultAvatarURL != "" {
		avatar := c.config.DefaultAvatarURL
		np.AvatarURL = &avatar
	}
	created, err := c.profiles.Create(ctx, np)
	if err != nil {
		c.logger.Error("failed to create user profile", slog.String("firebase_uid", id.UID), slog.String("error", err.Error()))
		return nil
	}
	c.logger.Info("created user profile", slog.String("firebase_uid", id.UID))
	return created
}

func (c *Controller) setLoadingLocked(loading bool) {
	if loading == c.loading {
		return
	}
	c.loading = loading
	if loading {
		c.ready = make(chan struct{})
	} else {
		close(c.ready)
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{State: c.state, Identity: c.identity, Profile: c.profile, Loading: c.loading}
}

func (c *Controller) observersLocked() []observer {
	obs := make([]observer, len(c.observers))
	copy(obs, c.observers)
	return obs
}

func notify(obs []observer, snap Snapshot) {
	for _, o := range obs {
		o.fn(snap)
	}
}
