package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/teebox/internal/model"
)

// ErrorResponseBody はプロキシのエラーレスポンスの統一フォーマット。
// 404の場合のみリクエストパスを含める。
type ErrorResponseBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Path  string `json:"path,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeErrorBody(w, statusCode, ErrorResponseBody{
		Error: apiErr.Message,
		Code:  apiErr.Code,
	})
}

// WriteNotFound は未定義パスに対する404レスポンスを書き込む。
func WriteNotFound(w http.ResponseWriter, path string) {
	apiErr := model.NewNotFoundError()
	writeErrorBody(w, http.StatusNotFound, ErrorResponseBody{
		Error: apiErr.Message,
		Code:  apiErr.Code,
		Path:  path,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、クライアントには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	writeErrorBody(w, http.StatusInternalServerError, ErrorResponseBody{
		Error: "internal server error",
		Code:  model.ErrCodeInternal,
	})
}

func writeErrorBody(w http.ResponseWriter, statusCode int, body ErrorResponseBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
