// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/eventboard/internal/model"
	"github.com/hitoshi/eventboard/internal/recordstore"
)

// ErrNotFound は単一行取得で該当行が存在しないことを表す。
// errors.Is(err, recordstore.ErrNoRows) でも判定できる。
var ErrNotFound = fmt.Errorf("record not found: %w", recordstore.ErrNoRows)

// ProfileRepository はUsersテーブルの永続化インターフェース。
type ProfileRepository interface {
	// Get はfirebase_uidでプロフィールを取得する。見つからない場合はErrNotFoundを返す。
	Get(ctx context.Context, firebaseUID string) (*model.UserProfile, error)

	// Create はプロフィールを作成する。同じfirebase_uidの行が既にある場合はrecordstore.ErrUniqueViolationと一致するエラーを返す。
	Create(ctx context.Context, p *model.NewProfile) (*model.UserProfile, error)

	// Update はプロフィールを部分更新する。
	Update(ctx context.Context, firebaseUID string, u *model.ProfileUpdate) (*model.UserProfile, error)
}

// EventFilter はイベント一覧の絞り込み条件。空文字列の条件は適用しない。
type EventFilter struct {
	Search string // event_nameの部分一致（大文字小文字を区別しない）
	City   string // event_locationの完全一致
}

// EventRepository はEventsテーブルの永続化インターフェース。
type EventRepository interface {
	// Get は指定IDのイベントを取得する。見つからない場合はErrNotFoundを返す。
	Get(ctx context.Context, eventID string) (*model.Event, error)

	// List は条件に一致するイベントをevent_name昇順で取得する。
	// rngがnilの場合は全件を返す。
	List(ctx context.Context, filter EventFilter, rng *recordstore.Range) ([]*model.Event, error)

	// Count は条件に一致するイベント数を返す。
	Count(ctx context.Context, filter EventFilter) (int, error)

	// ListCities は登録済みイベントの開催都市を重複なしで返す。
	ListCities(ctx context.Context) ([]string, error)

	// Create はイベントを作成する。
	Create(ctx context.Context, event *model.Event) (*model.Event, error)

	// Update はイベントを部分更新する。見つからない場合はErrNotFoundを返す。
	Update(ctx context.Context, eventID string, patch *model.EventPatch) (*model.Event, error)

	// Delete はイベントを削除する。削除対象がない場合はErrNotFoundを返す。
	Delete(ctx context.Context, eventID string) error
}

// SignupRepository はSignupsテーブルの永続化インターフェース。
type SignupRepository interface {
	// Get はsignup_idで参加登録を取得する。見つからない場合はErrNotFoundを返す。
	Get(ctx context.Context, signupID string) (*model.Signup, error)

	// ListByEvent は指定イベントの参加登録を取得する。
	ListByEvent(ctx context.Context, eventID string) ([]*model.Signup, error)

	// Create は参加登録を作成する。
	Create(ctx context.Context, signup *model.Signup) error

	// Delete はsignup_idで参加登録を削除する。
	Delete(ctx context.Context, signupID string) error

	// DeleteByEvent は指定イベントの参加登録を全て削除し、削除件数を返す。
	DeleteByEvent(ctx context.Context, eventID string) (int64, error)

	// DeleteOrphans はイベントが存在しない参加登録を削除し、削除件数を返す。
	DeleteOrphans(ctx context.Context) (int64, error)
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
