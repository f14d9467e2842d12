// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, board, queue, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated       = "UNAUTHENTICATED"
	ErrCodeTokenExpired          = "TOKEN_EXPIRED"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	ErrCodeWeakPassword          = "WEAK_PASSWORD"
	ErrCodeBoardNotFound         = "BOARD_NOT_FOUND"
	ErrCodeQueueItemNotFound     = "QUEUE_ITEM_NOT_FOUND"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeEmailAlreadyExists    = "EMAIL_ALREADY_EXISTS"
	ErrCodeSetupAlreadyCompleted = "SETUP_ALREADY_COMPLETED"
	ErrCodeRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal              = "INTERNAL_ERROR"
)

// NewUnauthenticatedError は認証情報が無い、または無効な場合のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewTokenExpiredError はトークンの有効期限切れエラーを生成する。
func NewTokenExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenExpired,
		Message:  "認証トークンの有効期限が切れています。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この操作を行う権限がありません: %s", reason),
		Category: "auth",
		Action:   "所有者または管理者アカウントで操作してください。",
	}
}

// NewInvalidRequestError はリクエスト形式が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// メールアドレスとパスワードのどちらが誤っているかは区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewWeakPasswordError はパスワード強度不足エラーを生成する。
func NewWeakPasswordError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  reason,
		Category: "validation",
		Action:   "8文字以上で、大文字・小文字・数字を含むパスワードを指定してください。",
	}
}

// NewBoardNotFoundError はボード未検出エラーを生成する。
func NewBoardNotFoundError(boardID string) *APIError {
	return &APIError{
		Code:     ErrCodeBoardNotFound,
		Message:  fmt.Sprintf("指定されたボードが見つかりません: %s", boardID),
		Category: "board",
		Action:   "ボードIDを確認してください。",
	}
}

// NewQueueItemNotFoundError はキューアイテム未検出エラーを生成する。
func NewQueueItemNotFoundError(itemID int64) *APIError {
	return &APIError{
		Code:     ErrCodeQueueItemNotFound,
		Message:  fmt.Sprintf("指定されたキューアイテムが見つかりません: %d", itemID),
		Category: "queue",
		Action:   "アイテムIDを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewEmailAlreadyExistsError はメールアドレス重複エラーを生成する。
func NewEmailAlreadyExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailAlreadyExists,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "validation",
		Action:   "別のメールアドレスを指定してください。",
	}
}

// NewSetupAlreadyCompletedError は管理者が既に存在する状態でセットアップが呼ばれた場合のエラーを生成する。
func NewSetupAlreadyCompletedError() *APIError {
	return &APIError{
		Code:     ErrCodeSetupAlreadyCompleted,
		Message:  "初期セットアップは既に完了しています。",
		Category: "auth",
		Action:   "管理者アカウントでログインしてください。",
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録し、レスポンスには含めない。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
