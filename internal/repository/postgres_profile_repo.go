package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/eventboard/internal/model"
	"github.com/hitoshi/eventboard/internal/recordstore"
)

const profileTable = "Users"

var profileColumns = []string{
	"firebase_uid", "email", "username", "avatar_url", "first_name", "last_name", "admin",
}

// PostgresProfileRepo はRecord Storeを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	store *recordstore.Store
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(store *recordstore.Store) *PostgresProfileRepo {
	return &PostgresProfileRepo{store: store}
}

var _ ProfileRepository = (*PostgresProfileRepo)(nil)

// profileRow はUsersテーブルの1行のスキャン先。
type profileRow struct {
	firebaseUID sql.NullString
	email       sql.NullString
	username    sql.NullString
	avatarURL   sql.NullString
	firstName   sql.NullString
	lastName    sql.NullString
	admin       sql.NullString
}

func (r *profileRow) dest() []any {
	return []any{&r.firebaseUID, &r.email, &r.username, &r.avatarURL, &r.firstName, &r.lastName, &r.admin}
}

// toModel は必須カラムのNULLを検出してモデルに変換する。
func (r *profileRow) toModel() (*model.UserProfile, error) {
	if !r.firebaseUID.Valid || r.firebaseUID.String == "" {
		return nil, fmt.Errorf("profile row has NULL firebase_uid")
	}
	return &model.UserProfile{
		FirebaseUID: r.firebaseUID.String,
		Email:       r.email.String,
		Username:    stringPtr(r.username),
		AvatarURL:   stringPtr(r.avatarURL),
		FirstName:   r.firstName.String,
		LastName:    r.lastName.String,
		Admin:       normalizeAdmin(r.admin),
	}, nil
}

// normalizeAdmin は保存値がboolean trueまたは文字列"true"の場合のみtrueを返す。
// booleanカラムはdatabase/sqlにより"true"/"false"の文字列としてスキャンされる。
// "TRUE"や前後に空白を含む値は管理者として扱わない。
func normalizeAdmin(v sql.NullString) bool {
	return v.Valid && v.String == "true"
}

// Get はfirebase_uidでプロフィールを取得する。見つからない場合はErrNotFoundを返す。
func (r *PostgresProfileRepo) Get(ctx context.Context, firebaseUID string) (*model.UserProfile, error) {
	var row profileRow
	err := r.store.Single(ctx, recordstore.Query{
		Table:   profileTable,
		Columns: profileColumns,
		Filters: []recordstore.Filter{recordstore.Eq("firebase_uid", firebaseUID)},
	}, row.dest()...)
	if err != nil {
		if recordstore.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return row.toModel()
}

// Create はプロフィールを作成する。
func (r *PostgresProfileRepo) Create(ctx context.Context, p *model.NewProfile) (*model.UserProfile, error) {
	values := []recordstore.Value{
		recordstore.Set("firebase_uid", p.FirebaseUID),
		recordstore.Set("email", p.Email),
		recordstore.Set("username", nullableString(p.Username)),
		recordstore.Set("avatar_url", nullableString(p.AvatarURL)),
		recordstore.Set("first_name", p.FirstName),
		recordstore.Set("last_name", p.LastName),
	}
	if p.Admin {
		values = append(values, recordstore.Set("admin", true))
	}

	var row profileRow
	if err := r.store.InsertReturning(ctx, profileTable, values, profileColumns, row.dest()...); err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	return row.toModel()
}

// Update はプロフィールを部分更新する。更新対象がない場合は現在の値を返す。
func (r *PostgresProfileRepo) Update(ctx context.Context, firebaseUID string, u *model.ProfileUpdate) (*model.UserProfile, error) {
	var values []recordstore.Value
	if u.Email != nil {
		values = append(values, recordstore.Set("email", *u.Email))
	}
	if u.Username != nil {
		values = append(values, recordstore.Set("username", *u.Username))
	}
	if u.AvatarURL != nil {
		values = append(values, recordstore.Set("avatar_url", *u.AvatarURL))
	}
	if u.FirstName != nil {
		values = append(values, recordstore.Set("first_name", *u.FirstName))
	}
	if u.LastName != nil {
		values = append(values, recordstore.Set("last_name", *u.LastName))
	}
	if len(values) == 0 {
		return r.Get(ctx, firebaseUID)
	}

	var row profileRow
	err := r.store.UpdateReturning(ctx, profileTable, values,
		[]recordstore.Filter{recordstore.Eq("firebase_uid", firebaseUID)},
		profileColumns, row.dest()...)
	if err != nil {
		if recordstore.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return row.toModel()
}
