// Package identity は外部Identity Serviceとの境界を提供する。
// メールアドレスとパスワードによるアカウント作成、サインイン、サインアウトを抽象化する。
package identity

import (
	"context"
	"errors"
	"fmt"
)

// ProviderPassword はメールアドレスとパスワードで認証したIdentityのプロバイダー名。
const ProviderPassword = "password"

// Identity はIdentity Serviceが発行する認証済みユーザーを表す。読み取り専用。
type Identity struct {
	UID      string
	Email    string
	Provider string // "password" またはそれ以外のサインイン方法
	IDToken  string
}

// IsEmailUser はメールアドレスとパスワードで認証したユーザーの場合にtrueを返す。
func (i *Identity) IsEmailUser() bool {
	return i != nil && i.Provider == ProviderPassword
}

// Provider はIdentity Serviceのインターフェース。
type Provider interface {
	// CreateAccount はアカウントを作成し、作成されたIdentityを返す。
	CreateAccount(ctx context.Context, email, password string) (*Identity, error)
	// SignIn はメールアドレスとパスワードでサインインする。
	SignIn(ctx context.Context, email, password string) (*Identity, error)
	// SignOut はIdentityのセッションを終了する。
	SignOut(ctx context.Context, id *Identity) error
}

// エラーコード
const (
	CodeEmailExists        = "EMAIL_EXISTS"
	CodeInvalidCredentials = "INVALID_LOGIN_CREDENTIALS"
	CodeWeakPassword       = "WEAK_PASSWORD"
	CodeInvalidEmail       = "INVALID_EMAIL"
	CodeTooManyAttempts    = "TOO_MANY_ATTEMPTS_TRY_LATER"
	CodeUserDisabled       = "USER_DISABLED"
	CodeUnavailable        = "UNAVAILABLE"
)

// AuthError はIdentity Serviceの操作失敗を表す。
// Messageは利用者にそのまま表示できる文言。
type AuthError struct {
	Code    string
	Message string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("identity error %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("identity error %s", e.Code)
}

// Unwrap は元のエラーを返す。
func (e *AuthError) Unwrap() error {
	return e.Err
}

var messages = map[string]string{
	CodeEmailExists:        "このメールアドレスは既に使用されています。",
	CodeInvalidCredentials: "メールアドレスまたはパスワードが正しくありません。",
	CodeWeakPassword:       "パスワードは6文字以上で入力してください。",
	CodeInvalidEmail:       "メールアドレスの形式が正しくありません。",
	CodeTooManyAttempts:    "試行回数が多すぎます。しばらく待ってから再度お試しください。",
	CodeUserDisabled:       "このアカウントは無効化されています。",
	CodeUnavailable:        "認証サービスに接続できません。しばらく待ってから再度お試しください。",
}

// NewAuthError はコードに対応する利用者向けメッセージを持つAuthErrorを生成する。
func NewAuthError(code string, err error) *AuthError {
	msg, ok := messages[code]
	if !ok {
		msg = "認証に失敗しました。"
	}
	return &AuthError{Code: code, Message: msg, Err: err}
}

// HumanMessage はerrに含まれるAuthErrorの利用者向けメッセージを返す。
// AuthErrorを含まない場合は汎用のメッセージを返す。
func HumanMessage(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Message
	}
	return "認証に失敗しました。"
}
