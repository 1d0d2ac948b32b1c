// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, engagement, system
	Action   string // ユーザー向け対処方法

	cause error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *APIError) Unwrap() error {
	return e.cause
}

// Is はエラーコードが一致する場合にtrueを返す。
// errors.Is(err, model.ErrAlreadyVoted) のように番兵値と比較できる。
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// 定義済みエラーコード
const (
	ErrCodeNotAuthenticated          = "NOT_AUTHENTICATED"
	ErrCodeAlreadyVoted              = "ALREADY_VOTED"
	ErrCodeInvalidSignInLink         = "INVALID_SIGN_IN_LINK"
	ErrCodeEmailConfirmationRequired = "EMAIL_CONFIRMATION_REQUIRED"
	ErrCodeStoreUnavailable          = "STORE_UNAVAILABLE"
	ErrCodeInvalidEmail              = "INVALID_EMAIL"
	ErrCodeStartupNotFound           = "STARTUP_NOT_FOUND"
	ErrCodeIdentityNotFound          = "IDENTITY_NOT_FOUND"
	ErrCodeForbidden                 = "FORBIDDEN"
	ErrCodeInvalidRequest            = "INVALID_REQUEST"
	ErrCodeCSRFTokenInvalid          = "CSRF_TOKEN_INVALID"
	ErrCodeRateLimitExceeded         = "RATE_LIMIT_EXCEEDED"
)

// errors.Is 比較用の番兵値。
var (
	ErrNotAuthenticated          = &APIError{Code: ErrCodeNotAuthenticated}
	ErrAlreadyVoted              = &APIError{Code: ErrCodeAlreadyVoted}
	ErrInvalidSignInLink         = &APIError{Code: ErrCodeInvalidSignInLink}
	ErrEmailConfirmationRequired = &APIError{Code: ErrCodeEmailConfirmationRequired}
	ErrStoreUnavailable          = &APIError{Code: ErrCodeStoreUnavailable}
	ErrStartupNotFound           = &APIError{Code: ErrCodeStartupNotFound}
)

// NewNotAuthenticatedError は未認証エラーを生成する。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "メールに届いたサインインリンクからログインしてください。",
	}
}

// NewAlreadyVotedError は投票済みエラーを生成する。
func NewAlreadyVotedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyVoted,
		Message:  "既に投票済みです。投票は1人1回までです。",
		Category: "engagement",
		Action:   "投票の変更はできません。",
	}
}

// NewInvalidSignInLinkError は無効なサインインリンクのエラーを生成する。
func NewInvalidSignInLinkError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSignInLink,
		Message:  "サインインリンクが無効か、有効期限が切れています。",
		Category: "auth",
		Action:   "もう一度サインインリンクを送信してください。",
	}
}

// NewEmailConfirmationRequiredError はメールアドレスの再入力が必要な場合のエラーを生成する。
// 別の端末でリンクを開いた場合に返る。
func NewEmailConfirmationRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailConfirmationRequired,
		Message:  "サインインを完了するにはメールアドレスの確認が必要です。",
		Category: "auth",
		Action:   "リンクを送信したメールアドレスを入力してください。",
	}
}

// NewStoreUnavailableError はドキュメントストアへの到達失敗エラーを生成する。
func NewStoreUnavailableError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "データストアに接続できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		cause:    cause,
	}
}

// NewInvalidEmailError は無効なメールアドレスのエラーを生成する。
func NewInvalidEmailError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  fmt.Sprintf("無効なメールアドレスです: %s", email),
		Category: "validation",
		Action:   "正しいメールアドレスを入力してください。",
	}
}

// NewStartupNotFoundError はスタートアップ未検出エラーを生成する。
func NewStartupNotFoundError(startupID string) *APIError {
	return &APIError{
		Code:     ErrCodeStartupNotFound,
		Message:  fmt.Sprintf("指定されたスタートアップが見つかりません: %s", startupID),
		Category: "engagement",
		Action:   "スタートアップIDを確認してください。",
	}
}

// NewIdentityNotFoundError は投資家未検出エラーを生成する。
func NewIdentityNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeIdentityNotFound,
		Message:  "該当する投資家が見つかりません。",
		Category: "auth",
		Action:   "メールアドレスを確認してください。",
	}
}

// NewForbiddenError は管理者権限がない場合のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者アカウントでログインしてください。",
	}
}

// NewInvalidRequestError はリクエスト形式エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewCSRFTokenInvalidError はCSRFトークン検証失敗のエラーを生成する。
func NewCSRFTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFTokenInvalid,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitExceededError はレート制限超過のエラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
