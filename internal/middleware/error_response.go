package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rovify/rovify/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	WriteJSON(w, statusCode, ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteAuthError は認証操作のエラーを種類に応じたステータスコードで書き込む。
// 原因の詳細はレスポンスに含めない。
func WriteAuthError(w http.ResponseWriter, err error) {
	WriteErrorResponse(w, AuthErrorStatus(err), model.NewAPIErrorFromAuth(err))
}

// AuthErrorStatus は認証エラーの種類に対応するHTTPステータスコードを返す。
func AuthErrorStatus(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrProviderNotEnabled), errors.Is(err, model.ErrRegistration):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrAuthProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "Something went wrong. Please try again.",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	})
}

// WriteJSON はvをJSONとして書き込む。
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
