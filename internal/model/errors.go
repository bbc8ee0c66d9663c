// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, event, system
	Action   string // ユーザー向け対処方法
	Redirect string // クライアントが遷移すべきパス（サインイン誘導時のみ）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeSignInRequired   = "SIGN_IN_REQUIRED"
	ErrCodeEventNotFound    = "EVENT_NOT_FOUND"
	ErrCodeAuthFailed       = "AUTH_FAILED"
	ErrCodeToggleInProgress = "TOGGLE_IN_PROGRESS"
	ErrCodeStaleRequest     = "STALE_REQUEST"
	ErrCodeRemote           = "REMOTE_ERROR"
)

// SignInPath はサインインが必要な操作で誘導するパス。
const SignInPath = "/signin"

// NewValidationError は入力検証エラーを生成する。
// ネットワーク呼び出しの前に送信をブロックするために使用する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容に誤りがあります: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してから再度送信してください。",
	}
}

// NewForbiddenError は管理者権限が必要な操作を非管理者が実行した場合のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作には管理者権限が必要です。",
		Category: "auth",
		Action:   "管理者アカウントでサインインしてください。",
	}
}

// NewSignInRequiredError は未ログイン状態で参加登録などを行った場合のエラーを生成する。
// クライアントはRedirectのパスへ遷移する。
func NewSignInRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSignInRequired,
		Message:  "サインインが必要です。",
		Category: "auth",
		Action:   "サインインしてから再度お試しください。",
		Redirect: SignInPath,
	}
}

// NewEventNotFoundError はイベントが見つからない場合のエラーを生成する。
func NewEventNotFoundError(eventID string) *APIError {
	return &APIError{
		Code:     ErrCodeEventNotFound,
		Message:  fmt.Sprintf("指定されたイベントが見つかりません: %s", eventID),
		Category: "event",
		Action:   "イベント一覧から選び直してください。",
	}
}

// NewAuthFailedError はIdentity Serviceでの認証失敗エラーを生成する。
// messageにはプロバイダーが返した人間向けのメッセージを渡す。
func NewAuthFailedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  message,
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認してください。",
	}
}

// NewToggleInProgressError は同じイベントへの参加切り替えが処理中の場合のエラーを生成する。
func NewToggleInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeToggleInProgress,
		Message:  "参加登録の処理中です。",
		Category: "event",
		Action:   "処理が完了するまでお待ちください。",
	}
}

// NewStaleRequestError は新しい一覧取得リクエストに追い越された場合のエラーを生成する。
func NewStaleRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeStaleRequest,
		Message:  "より新しい検索条件のリクエストが発行されたため、この結果は破棄されました。",
		Category: "event",
		Action:   "最新の検索結果を表示してください。",
	}
}

// NewRemoteError はRecord StoreやIdentity Serviceの失敗を利用者向けに表すエラーを生成する。
// 詳細はログのみに記録する。
func NewRemoteError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeRemote,
		Message:  message,
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
