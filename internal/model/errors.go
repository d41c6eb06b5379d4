// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 呼び出し元がerrors.Isで判定するための番兵エラー。
var (
	// ErrAuthRequired はセッショントークンが存在しないことを示す。
	ErrAuthRequired = errors.New("authentication required")
	// ErrUpstreamMalformed はベンダーAPIの応答が空、非JSON、または想定外の形であることを示す。
	ErrUpstreamMalformed = errors.New("upstream response empty or malformed")
	// ErrTransport はベンダーAPI（またはプロキシ）への通信自体が失敗したことを示す。
	ErrTransport = errors.New("upstream transport failure")
	// ErrVendorRejected はベンダーAPIが success:false で要求を拒否したことを示す。
	ErrVendorRejected = errors.New("vendor rejected the request")
)

// APIError は統一エラーフォーマットを表す。
// プロキシのHTTPレスポンスとクライアント側のエラー表示の両方で使用する。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, not_found, upstream, auth, system
	Err      error  // 原因（errors.Is/Asで辿れる）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeUpstreamMalformed = "UPSTREAM_EMPTY_OR_MALFORMED"
	ErrCodeAuthRequired      = "AUTH_REQUIRED"
	ErrCodeTransport         = "TRANSPORT_FAILURE"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeVendorRejected    = "VENDOR_REJECTED"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// NewValidationError は必須フィールド欠落などの入力エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
	}
}

// NewUpstreamMalformedError はベンダー応答が空または解析不能な場合のエラーを生成する。
func NewUpstreamMalformedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamMalformed,
		Message:  fmt.Sprintf("invalid response from booking service: %s", reason),
		Category: "upstream",
		Err:      ErrUpstreamMalformed,
	}
}

// NewAuthRequiredError はBearerトークンが無い場合のエラーを生成する。
func NewAuthRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthRequired,
		Message:  "authentication required",
		Category: "auth",
		Err:      ErrAuthRequired,
	}
}

// NewTransportError はベンダーへの通信失敗エラーを生成する。
// メッセージには下位エラーの内容をそのまま含める。
func NewTransportError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeTransport,
		Message:  err.Error(),
		Category: "system",
		Err:      errors.Join(ErrTransport, err),
	}
}

// NewNotFoundError は未定義パスへのリクエストに対するエラーを生成する。
func NewNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "Not Found",
		Category: "not_found",
	}
}

// NewVendorRejectedError はベンダーが要求を拒否した場合のエラーを生成する。
// messageが空の場合は汎用メッセージを使う。
func NewVendorRejectedError(message string) *APIError {
	if message == "" {
		message = "the booking service rejected the request"
	}
	return &APIError{
		Code:     ErrCodeVendorRejected,
		Message:  message,
		Category: "upstream",
		Err:      ErrVendorRejected,
	}
}
