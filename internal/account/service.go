// Package account はアカウント登録（一般・管理者）とサインインを提供する。
package account

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/eventboard/internal/identity"
	"github.com/hitoshi/eventboard/internal/model"
	"github.com/hitoshi/eventboard/internal/repository"
	"github.com/hitoshi/eventboard/internal/session"
)

// 入力の最小文字数
const (
	MinPasswordLength = 6
	MinUsernameLength = 3
)

// DefaultAvatarURL は登録時に設定するアバター画像のURL。
const DefaultAvatarURL = "https://img.freepik.com/free-photo/yellow-ticket-top-view_1101-121.jpg?semt=ais_items_boosted&w=740"

// SignUpInput はアカウント登録の入力。
type SignUpInput struct {
	Email     string
	Password  string
	Username  string
	FirstName string
	LastName  string
}

// Authorizer は管理者判定に必要な認証状態のインターフェース。
type Authorizer interface {
	WaitReady(ctx context.Context) error
	IsAdmin() bool
	CurrentIdentity() *identity.Identity
}

// Service はアカウントに関するビジネスロジックを提供する。
type Service struct {
	provider      identity.Provider
	profiles      repository.ProfileRepository
	defaultAvatar string
	logger        *slog.Logger
}

// NewService はServiceを生成する。defaultAvatarが空の場合はDefaultAvatarURLを使用する。
func NewService(provider identity.Provider, profiles repository.ProfileRepository, defaultAvatar string, logger *slog.Logger) *Service {
	if defaultAvatar == "" {
		defaultAvatar = DefaultAvatarURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider:      provider,
		profiles:      profiles,
		defaultAvatar: defaultAvatar,
		logger:        logger,
	}
}

// Validate は登録内容を検証する。ネットワーク呼び出しの前に使用する。
func (in *SignUpInput) Validate() error {
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)

	if in.Email == "" {
		return model.NewValidationError("メールアドレスは必須です")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return model.NewValidationError("メールアドレスの形式が正しくありません")
	}
	if utf8.RuneCountInString(in.Password) < MinPasswordLength {
		return model.NewValidationError(fmt.Sprintf("パスワードは%d文字以上で入力してください", MinPasswordLength))
	}
	if utf8.RuneCountInString(in.Username) < MinUsernameLength {
		return model.NewValidationError(fmt.Sprintf("ユーザー名は%d文字以上で入力してください", MinUsernameLength))
	}
	if in.FirstName == "" || in.LastName == "" {
		return model.NewValidationError("姓と名は必須です")
	}
	return nil
}

// SignUp はアカウントを作成し、プロフィールを登録してからセッションを確立する。
// プロフィール登録に失敗した場合はセッションを確立せずにエラーを返す。
func (s *Service) SignUp(ctx context.Context, store *session.Store, in SignUpInput) (*model.UserProfile, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	id, err := store.CreateAccount(ctx, in.Email, in.Password)
	if err != nil {
		return nil, err
	}

	profile, err := s.createProfile(ctx, id, in, false)
	if err != nil {
		return nil, err
	}

	store.Establish(id)
	s.logger.Info("user signed up", slog.String("firebase_uid", id.UID))
	return profile, nil
}

// RegisterAdmin は管理者アカウントを作成する。呼び出し元のセッションは変更しない。
func (s *Service) RegisterAdmin(ctx context.Context, auth Authorizer, in SignUpInput) (*model.UserProfile, error) {
	if err := auth.WaitReady(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for auth session: %w", err)
	}
	caller := auth.CurrentIdentity()
	if caller == nil || !auth.IsAdmin() {
		return nil, model.NewForbiddenError()
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	id, err := s.provider.CreateAccount(ctx, in.Email, in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin account: %w", err)
	}

	profile, err := s.createProfile(ctx, id, in, true)
	if err != nil {
		return nil, err
	}

	s.logger.Info("admin registered",
		slog.String("firebase_uid", id.UID),
		slog.String("registered_by", caller.UID),
	)
	return profile, nil
}

// SignIn はメールアドレスとパスワードでサインインする。
// 失敗した場合のエラーにはidentity.HumanMessageで表示用の文言を取り出せるAuthErrorが含まれる。
func (s *Service) SignIn(ctx context.Context, store *session.Store, email, password string) (*identity.Identity, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, model.NewValidationError("メールアドレスとパスワードを入力してください")
	}
	return store.SignIn(ctx, email, password)
}

func (s *Service) createProfile(ctx context.Context, id *identity.Identity, in SignUpInput, admin bool) (*model.UserProfile, error) {
	username := in.Username
	avatar := s.defaultAvatar
	profile, err := s.profiles.Create(ctx, &model.NewProfile{
		FirebaseUID: id.UID,
		Email:       in.Email,
		Username:    &username,
		AvatarURL:   &avatar,
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		Admin:       admin,
	})
	if err != nil {
		s.logger.Error("failed to create user profile",
			slog.String("firebase_uid", id.UID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to create user profile: %w", err)
	}
	return profile, nil
}
