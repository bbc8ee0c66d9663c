// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/eventboard/internal/account"
	"github.com/hitoshi/eventboard/internal/authsession"
	"github.com/hitoshi/eventboard/internal/identity"
	"github.com/hitoshi/eventboard/internal/metrics"
	"github.com/hitoshi/eventboard/internal/model"
	"github.com/hitoshi/eventboard/internal/session"
)

// AccountServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	SignUp(ctx context.Context, store *session.Store, in account.SignUpInput) (*model.UserProfile, error)
	RegisterAdmin(ctx context.Context, auth account.Authorizer, in account.SignUpInput) (*model.UserProfile, error)
	SignIn(ctx context.Context, store *session.Store, email, password string) (*identity.Identity, error)
}

// AuthHandler はサインアップ・サインイン・サインアウトとログイン状態のHTTPハンドラー。
type AuthHandler struct {
	service AccountServiceInterface
	metrics metrics.MetricsCollector
}

// NewAuthHandler はAuthHandlerを生成する。collectorがnilの場合は記録しない。
func NewAuthHandler(service AccountServiceInterface, collector metrics.MetricsCollector) *AuthHandler {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &AuthHandler{
		service: service,
		metrics: collector,
	}
}

// signUpRequest はサインアップリクエストのボディ。
type signUpRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (req signUpRequest) input() account.SignUpInput {
	return account.SignUpInput{
		Email:     req.Email,
		Password:  req.Password,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}
}

// signInRequest はサインインリクエストのボディ。
type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// identityResponse はIdentityのAPIレスポンス。IDトークンは返さない。
type identityResponse struct {
	UID      string `json:"uid"`
	Email    string `json:"email"`
	Provider string `json:"provider"`
}

// profileResponse はユーザープロフィールのAPIレスポンス。
type profileResponse struct {
	FirebaseUID string  `json:"firebase_uid"`
	Email       string  `json:"email"`
	Username    *string `json:"username"`
	AvatarURL   *string `json:"avatar_url"`
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	Admin       bool    `json:"admin"`
}

// meResponse は現在の認証状態のAPIレスポンス。
type meResponse struct {
	State     string            `json:"state"`
	Loading   bool              `json:"loading"`
	LoggedIn  bool              `json:"logged_in"`
	Admin     bool              `json:"admin"`
	EmailUser bool              `json:"email_user"`
	Identity  *identityResponse `json:"identity"`
	Profile   *profileResponse  `json:"profile"`
}

// SignUp はアカウントを作成してサインインする。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	s, ok := clientSession(w, r)
	if !ok {
		return
	}

	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if _, err := h.service.SignUp(r.Context(), s.Store, req.input()); err != nil {
		h.metrics.RecordAuthAttempt("signup", false)
		handleServiceError(w, err)
		return
	}
	h.metrics.RecordAuthAttempt("signup", true)

	writeJSON(w, http.StatusCreated, toMeResponse(s.Auth.Snapshot()))
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	s, ok := clientSession(w, r)
	if !ok {
		return
	}

	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if _, err := h.service.SignIn(r.Context(), s.Store, req.Email, req.Password); err != nil {
		h.metrics.RecordAuthAttempt("signin", false)
		handleServiceError(w, err)
		return
	}
	h.metrics.RecordAuthAttempt("signin", true)

	if err := s.Auth.WaitReady(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMeResponse(s.Auth.Snapshot()))
}

// Logout はサインアウトする。失敗した場合はセッションを維持したままエラーを返す。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	s, ok := clientSession(w, r)
	if !ok {
		return
	}

	if err := s.Auth.Logout(r.Context()); err != nil {
		h.metrics.RecordAuthAttempt("logout", false)
		handleServiceError(w, err)
		return
	}
	h.metrics.RecordAuthAttempt("logout", true)

	w.WriteHeader(http.StatusNoContent)
}

// Me は現在の認証状態を返す。初回のセッション通知が処理されるまで待つ。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	s, ok := clientSession(w, r)
	if !ok {
		return
	}

	if err := s.Auth.WaitReady(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMeResponse(s.Auth.Snapshot()))
}

// RefreshProfile はプロフィールを再取得して現在の認証状態を返す。
// POST /auth/profile/refresh
func (h *AuthHandler) RefreshProfile(w http.ResponseWriter, r *http.Request) {
	s, ok := clientSession(w, r)
	if !ok {
		return
	}

	if err := s.Auth.WaitReady(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	s.Auth.RefreshProfile(r.Context())
	writeJSON(w, http.StatusOK, toMeResponse(s.Auth.Snapshot()))
}

// RegisterAdmin は管理者アカウントを作成する。呼び出し元のセッションは変わらない。
// POST /api/admin/users
func (h *AuthHandler) RegisterAdmin(w http.ResponseWriter, r *http.Request) {
	s, ok := clientSession(w, r)
	if !ok {
		return
	}

	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	profile, err := h.service.RegisterAdmin(r.Context(), s.Auth, req.input())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	slog.Info("admin account created via api", slog.String("firebase_uid", profile.FirebaseUID))
	writeJSON(w, http.StatusCreated, toProfileResponse(profile))
}

// --- ヘルパー関数 ---

func toMeResponse(snap authsession.Snapshot) meResponse {
	resp := meResponse{
		State:     snap.State.String(),
		Loading:   snap.Loading,
		LoggedIn:  snap.IsLoggedIn(),
		Admin:     snap.IsAdmin(),
		EmailUser: snap.Identity.IsEmailUser(),
	}
	if snap.Identity != nil {
		resp.Identity = &identityResponse{
			UID:      snap.Identity.UID,
			Email:    snap.Identity.Email,
			Provider: snap.Identity.Provider,
		}
	}
	if snap.Profile != nil {
		p := toProfileResponse(snap.Profile)
		resp.Profile = &p
	}
	return resp
}

func toProfileResponse(p *model.UserProfile) profileResponse {
	return profileResponse{
		FirebaseUID: p.FirebaseUID,
		Email:       p.Email,
		Username:    p.Username,
		AvatarURL:   p.AvatarURL,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		Admin:       p.Admin,
	}
}
