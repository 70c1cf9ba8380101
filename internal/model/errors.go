// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError はクライアントに返却してよいエラーを表す。
// MessageはそのままレスポンスJSONのmessageになるため、内部情報を含めないこと。
type APIError struct {
	Code    string // エラーコード
	Message string // エラーメッセージ
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeDuplicateEmail     = "DUPLICATE_EMAIL"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
	ErrCodeAccountNotFound    = "ACCOUNT_NOT_FOUND"
	ErrCodePuzzleUnavailable  = "PUZZLE_UNAVAILABLE"
	ErrCodeInvalidTicket      = "INVALID_TICKET"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewValidationError は入力値不正エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:    ErrCodeValidation,
		Message: message,
	}
}

// NewDuplicateEmailError はメールアドレス重複エラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{
		Code:    ErrCodeDuplicateEmail,
		Message: "Email already registered",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// メールアドレス不明とパスワード不一致で同じメッセージを返す。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:    ErrCodeInvalidCredentials,
		Message: "Invalid email or password",
	}
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError(message string) *APIError {
	return &APIError{
		Code:    ErrCodeUnauthenticated,
		Message: message,
	}
}

// NewAccountNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewAccountNotFoundError() *APIError {
	return &APIError{
		Code:    ErrCodeAccountNotFound,
		Message: "User not found",
	}
}

// NewPuzzleUnavailableError はパズル取得失敗エラーを生成する。
// 上流の障害内容は含めない。
func NewPuzzleUnavailableError() *APIError {
	return &APIError{
		Code:    ErrCodePuzzleUnavailable,
		Message: "Failed to fetch puzzle",
	}
}

// NewInvalidTicketError は解答チケットが不正・期限切れの場合のエラーを生成する。
func NewInvalidTicketError() *APIError {
	return &APIError{
		Code:    ErrCodeInvalidTicket,
		Message: "Puzzle ticket is invalid or expired",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:    ErrCodeInternal,
		Message: "Internal server error",
	}
}
