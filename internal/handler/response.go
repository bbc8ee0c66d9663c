package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/eventboard/internal/attendance"
	"github.com/hitoshi/eventboard/internal/authsession"
	"github.com/hitoshi/eventboard/internal/clientsession"
	"github.com/hitoshi/eventboard/internal/identity"
	"github.com/hitoshi/eventboard/internal/listing"
	"github.com/hitoshi/eventboard/internal/middleware"
	"github.com/hitoshi/eventboard/internal/model"
	"github.com/hitoshi/eventboard/internal/recordstore"
)

// maxBodyBytes はJSONリクエストボディの上限サイズ。
const maxBodyBytes = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをvにデコードする。
// 失敗した場合はバリデーションエラーのレスポンスを書き込んでfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// clientSession はリクエストのクライアントセッションを返す。
// クライアントセッションミドルウェアを通っていない場合は500を書き込んでfalseを返す。
func clientSession(w http.ResponseWriter, r *http.Request) (*clientsession.Session, bool) {
	s, err := middleware.ClientSessionFromContext(r.Context())
	if err != nil {
		slog.Error("client session missing", slog.String("path", r.URL.Path))
		middleware.WriteInternalServerError(w)
		return nil, false
	}
	return s, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// Record StoreやIdentity Serviceの詳細はログのみに記録する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	apiErr = translateError(err)
	if apiErr == nil {
		slog.Error("internal server error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if apiErr.Code == model.ErrCodeRemote {
		slog.Error("remote service error", slog.String("error", err.Error()))
	}
	middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
}

// translateError はドメインパッケージのエラーをAPIErrorに変換する。対応しない場合はnilを返す。
func translateError(err error) *model.APIError {
	var idErr *identity.AuthError
	var sessErr *authsession.AuthError
	var storeErr *recordstore.Error

	switch {
	case errors.Is(err, attendance.ErrSignInRequired):
		return model.NewSignInRequiredError()
	case errors.Is(err, attendance.ErrToggleInProgress):
		return model.NewToggleInProgressError()
	case errors.Is(err, attendance.ErrInvalidEventID):
		return model.NewValidationError("イベントIDの形式が正しくありません")
	case errors.Is(err, listing.ErrSuperseded):
		return model.NewStaleRequestError()
	case errors.As(err, &sessErr):
		return model.NewRemoteError("サインアウトに失敗しました。")
	case errors.As(err, &idErr):
		switch idErr.Code {
		case identity.CodeUnavailable:
			return model.NewRemoteError(idErr.Message)
		case identity.CodeEmailExists, identity.CodeWeakPassword, identity.CodeInvalidEmail:
			return model.NewValidationError(idErr.Message)
		default:
			return model.NewAuthFailedError(idErr.Message)
		}
	case errors.As(err, &storeErr):
		return model.NewRemoteError("データの読み書きに失敗しました。")
	default:
		return nil
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation:
		return http.StatusBadRequest
	case model.ErrCodeSignInRequired, model.ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeEventNotFound:
		return http.StatusNotFound
	case model.ErrCodeToggleInProgress, model.ErrCodeStaleRequest:
		return http.StatusConflict
	case model.ErrCodeRemote:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
