// Package model はドメインモデルを定義する。
package model

// UserProfile はUsersテーブルのユーザープロフィールを表す。
// FirebaseUIDはIdentity ServiceのユーザーIDで、1つのIDにつき最大1行のみ存在する。
type UserProfile struct {
	FirebaseUID string
	Email       string
	Username    *string // NULL可
	AvatarURL   *string // NULL可
	FirstName   string
	LastName    string
	Admin       bool // 保存値がboolean trueまたは文字列"true"の場合のみtrue
}

// NewProfile はプロフィール作成時の入力を表す。
type NewProfile struct {
	FirebaseUID string
	Email       string
	Username    *string
	AvatarURL   *string
	FirstName   string
	LastName    string
	Admin       bool
}

// ProfileUpdate はプロフィールの部分更新を表す。nilフィールドは変更しない。
type ProfileUpdate struct {
	Email     *string
	Username  *string
	AvatarURL *string
	FirstName *string
	LastName  *string
}
