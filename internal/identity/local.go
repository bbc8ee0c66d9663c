package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// localAccount はLocalProviderが保持するアカウント。
type localAccount struct {
	uid          string
	email        string
	passwordHash []byte
}

// LocalProvider はプロセス内にアカウントを保持するIdentity Service。
// 開発環境（IDENTITY_PROVIDER=local）とテストで使用する。
type LocalProvider struct {
	mu       sync.RWMutex
	accounts map[string]*localAccount // key: 小文字化したメールアドレス
	cost     int
}

// NewLocalProvider はLocalProviderを生成する。costはbcryptのコスト（0の場合はbcrypt.DefaultCost）。
func NewLocalProvider(cost int) *LocalProvider {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &LocalProvider{
		accounts: make(map[string]*localAccount),
		cost:     cost,
	}
}

// CreateAccount はアカウントを作成する。
func (p *LocalProvider) CreateAccount(ctx context.Context, email, password string) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, NewAuthError(CodeInvalidEmail, err)
	}
	if len(password) < 6 {
		return nil, NewAuthError(CodeWeakPassword, nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	key := strings.ToLower(email)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.accounts[key]; ok {
		return nil, NewAuthError(CodeEmailExists, nil)
	}
	acc := &localAccount{uid: uuid.NewString(), email: email, passwordHash: hash}
	p.accounts[key] = acc

	return acc.identity(), nil
}

// SignIn はメールアドレスとパスワードを照合する。
// 存在しないメールアドレスと誤ったパスワードは区別しない。
func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	acc, ok := p.accounts[strings.ToLower(email)]
	p.mu.RUnlock()

	if !ok {
		return nil, NewAuthError(CodeInvalidCredentials, nil)
	}
	if err := bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, NewAuthError(CodeInvalidCredentials, nil)
		}
		return nil, fmt.Errorf("failed to compare password: %w", err)
	}
	return acc.identity(), nil
}

// SignOut はプロセス内に状態を持たないため何もしない。
func (p *LocalProvider) SignOut(ctx context.Context, id *Identity) error {
	return ctx.Err()
}

func (a *localAccount) identity() *Identity {
	return &Identity{UID: a.uid, Email: a.email, Provider: ProviderPassword}
}

var _ Provider = (*LocalProvider)(nil)
