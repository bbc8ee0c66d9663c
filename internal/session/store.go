// Package session はクライアントセッションごとの認証状態（Session Store）を提供する。
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/hitoshi/eventboard/internal/identity"
)

// Observer はセッション変化の通知を受け取る関数。
// サインアウト時はnilが渡される。
type Observer func(id *identity.Identity)

type subscriber struct {
	id int
	fn Observer
}

// Store は1つのクライアントセッションの現在のIdentityを保持し、変化を購読者に通知する。
// 通知は発行順に直列で配送される。購読者は通知中にStoreの変更操作を呼んではならない。
type Store struct {
	provider identity.Provider

	// deliverMu は通知の配送を直列化する。
	deliverMu sync.Mutex

	mu          sync.Mutex
	current     *identity.Identity
	subscribers []subscriber
	nextID      int
}

// NewStore はStoreを生成する。
func NewStore(provider identity.Provider) *Store {
	return &Store{provider: provider}
}

// Current は現在のIdentityを返す。未ログインの場合はnilを返す。
func (s *Store) Current() *identity.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe は購読者を登録し、登録解除関数を返す。
// 登録解除関数は複数回呼んでも安全。
func (s *Store) Subscribe(fn Observer) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers = append(s.subscribers, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subscribers {
				if sub.id == id {
					s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

// Restore は起動時のセッション復元結果を反映する。匿名の場合はnilを渡す。
func (s *Store) Restore(id *identity.Identity) {
	s.publish(id)
}

// SignIn はIdentity Serviceでサインインし、成功した場合にセッションを確立する。
func (s *Store) SignIn(ctx context.Context, email, password string) (*identity.Identity, error) {
	id, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}
	s.publish(id)
	return id, nil
}

// CreateAccount はIdentity Serviceでアカウントを作成する。
// セッションは確立しない。プロフィール作成後にEstablishを呼ぶこと。
func (s *Store) CreateAccount(ctx context.Context, email, password string) (*identity.Identity, error) {
	id, err := s.provider.CreateAccount(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return id, nil
}

// Establish は作成済みのIdentityでセッションを確立する。
func (s *Store) Establish(id *identity.Identity) {
	s.publish(id)
}

// SignOut はIdentity Serviceからサインアウトし、セッションを破棄する。
// 失敗した場合はセッションを維持したままエラーを返す。
func (s *Store) SignOut(ctx context.Context) error {
	current := s.Current()
	if current == nil {
		return nil
	}
	if err := s.provider.SignOut(ctx, current); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	s.publish(nil)
	return nil
}

// publish は現在のIdentityを更新し、購読者へ発行順に通知する。
func (s *Store) publish(id *identity.Identity) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	s.current = id
	subs := make([]subscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(id)
	}
}
