package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com"

// FirebaseConfig はFirebase Authentication（Identity Toolkit REST API）の設定。
type FirebaseConfig struct {
	APIKey string

	// テスト用にオーバーライド可能なURL
	BaseURL string
	Timeout time.Duration
}

// FirebaseProvider はFirebase AuthenticationのREST APIによるIdentity Service。
type FirebaseProvider struct {
	config FirebaseConfig
	client *http.Client
}

// NewFirebaseProvider はFirebaseProviderを生成する。
func NewFirebaseProvider(config FirebaseConfig) *FirebaseProvider {
	if config.BaseURL == "" {
		config.BaseURL = defaultIdentityToolkitURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &FirebaseProvider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// passwordRequest はaccounts:signUp / accounts:signInWithPasswordのリクエスト。
type passwordRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

// passwordResponse はIdentity Toolkitの成功レスポンス。
type passwordResponse struct {
	IDToken      string `json:"idToken"`
	Email        string `json:"email"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
}

// errorResponse はIdentity Toolkitのエラーレスポンス。
type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateAccount はaccounts:signUpでアカウントを作成する。
func (p *FirebaseProvider) CreateAccount(ctx context.Context, email, password string) (*Identity, error) {
	return p.passwordCall(ctx, "accounts:signUp", email, password)
}

// SignIn はaccounts:signInWithPasswordでサインインする。
func (p *FirebaseProvider) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	return p.passwordCall(ctx, "accounts:signInWithPassword", email, password)
}

// SignOut はトークンを破棄する。REST APIにはサインアウトがないため、サーバー側の呼び出しは行わない。
func (p *FirebaseProvider) SignOut(ctx context.Context, id *Identity) error {
	return ctx.Err()
}

func (p *FirebaseProvider) passwordCall(ctx context.Context, method, email, password string) (*Identity, error) {
	body, err := json.Marshal(passwordRequest{Email: email, Password: password, ReturnSecureToken: true})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	endpoint := fmt.Sprintf("%s/v1/%s?key=%s", strings.TrimRight(p.config.BaseURL, "/"), method, url.QueryEscape(p.config.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, NewAuthError(CodeUnavailable, fmt.Errorf("%s request failed: %w", method, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewAuthError(CodeUnavailable, fmt.Errorf("failed to read %s response: %w", method, err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp.StatusCode, respBody)
	}

	var out passwordResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", method, err)
	}
	if out.LocalID == "" {
		return nil, fmt.Errorf("empty localId in %s response", method)
	}

	return &Identity{
		UID:      out.LocalID,
		Email:    out.Email,
		Provider: signInProvider(out.IDToken),
		IDToken:  out.IDToken,
	}, nil
}

// parseErrorResponse はエラーレスポンスのmessage（例: "WEAK_PASSWORD : Password should be ..."）からコードを取り出す。
func parseErrorResponse(status int, body []byte) error {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error.Message == "" {
		return NewAuthError(CodeUnavailable, fmt.Errorf("identity request failed with status %d: %s", status, string(body)))
	}

	code, _, _ := strings.Cut(er.Error.Message, " ")
	switch code {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD":
		code = CodeInvalidCredentials
	}
	return NewAuthError(code, fmt.Errorf("identity request failed with status %d: %s", status, er.Error.Message))
}

// signInProvider はIDトークンのfirebase.sign_in_providerクレームを返す。
// 署名検証はIdentity Serviceから直接受け取ったトークンのため行わない。
// クレームを読めない場合はメールアドレスとパスワードによるサインインとみなす。
func signInProvider(idToken string) string {
	if idToken == "" {
		return ProviderPassword
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return ProviderPassword
	}
	fb, ok := claims["firebase"].(map[string]any)
	if !ok {
		return ProviderPassword
	}
	provider, ok := fb["sign_in_provider"].(string)
	if !ok || provider == "" {
		return ProviderPassword
	}
	return provider
}

// compile-time interface check
var _ Provider = (*FirebaseProvider)(nil)
