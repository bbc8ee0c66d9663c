package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/eventboard/internal/model"
	"github.com/hitoshi/eventboard/internal/recordstore"
)

const signupTable = "Signups"

var signupColumns = []string{"signup_id", "event_id", "user_id", "signup_date"}

// PostgresSignupRepo はRecord Storeを使用した参加登録リポジトリ。
type PostgresSignupRepo struct {
	store *recordstore.Store
}

// NewPostgresSignupRepo はPostgresSignupRepoを生成する。
func NewPostgresSignupRepo(store *recordstore.Store) *PostgresSignupRepo {
	return &PostgresSignupRepo{store: store}
}

var _ SignupRepository = (*PostgresSignupRepo)(nil)

// Get はsignup_idで参加登録を取得する。
func (r *PostgresSignupRepo) Get(ctx context.Context, signupID string) (*model.Signup, error) {
	s := &model.Signup{}
	err := r.store.Single(ctx, recordstore.Query{
		Table:   signupTable,
		Columns: signupColumns,
		Filters: []recordstore.Filter{recordstore.Eq("signup_id", signupID)},
	}, &s.SignupID, &s.EventID, &s.UserID, &s.SignupDate)
	if err != nil {
		if recordstore.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get signup: %w", err)
	}
	return s, nil
}

// ListByEvent は指定イベントの参加登録を取得する。
func (r *PostgresSignupRepo) ListByEvent(ctx context.Context, eventID string) ([]*model.Signup, error) {
	signups := []*model.Signup{}
	err := r.store.Select(ctx, recordstore.Query{
		Table:   signupTable,
		Columns: signupColumns,
		Filters: []recordstore.Filter{recordstore.Eq("event_id", eventID)},
		Order:   &recordstore.Order{Column: "signup_date"},
	}, func(rows *sql.Rows) error {
		s := &model.Signup{}
		if err := rows.Scan(&s.SignupID, &s.EventID, &s.UserID, &s.SignupDate); err != nil {
			return fmt.Errorf("failed to scan signup: %w", err)
		}
		signups = append(signups, s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list signups: %w", err)
	}
	return signups, nil
}

// Create は参加登録を作成する。
func (r *PostgresSignupRepo) Create(ctx context.Context, signup *model.Signup) error {
	err := r.store.Insert(ctx, signupTable, []recordstore.Value{
		recordstore.Set("signup_id", signup.SignupID),
		recordstore.Set("event_id", signup.EventID),
		recordstore.Set("user_id", signup.UserID),
		recordstore.Set("signup_date", signup.SignupDate),
	})
	if err != nil {
		return fmt.Errorf("failed to create signup: %w", err)
	}
	return nil
}

// Delete はsignup_idで参加登録を削除する。対象がなくてもエラーにしない。
func (r *PostgresSignupRepo) Delete(ctx context.Context, signupID string) error {
	if _, err := r.store.Delete(ctx, signupTable, []recordstore.Filter{recordstore.Eq("signup_id", signupID)}); err != nil {
		return fmt.Errorf("failed to delete signup: %w", err)
	}
	return nil
}

// DeleteByEvent は指定イベントの参加登録を全て削除する。
func (r *PostgresSignupRepo) DeleteByEvent(ctx context.Context, eventID string) (int64, error) {
	n, err := r.store.Delete(ctx, signupTable, []recordstore.Filter{recordstore.Eq("event_id", eventID)})
	if err != nil {
		return 0, fmt.Errorf("failed to delete signups by event: %w", err)
	}
	return n, nil
}

// DeleteOrphans はイベントが存在しない参加登録を削除する。
// イベント削除の2段階の間に作成された参加登録を回収する。
func (r *PostgresSignupRepo) DeleteOrphans(ctx context.Context) (int64, error) {
	n, err := r.store.Exec(ctx,
		`DELETE FROM "Signups" s
		 WHERE NOT EXISTS (SELECT 1 FROM "Events" e WHERE e.event_id = s.event_id)`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphan signups: %w", err)
	}
	return n, nil
}
