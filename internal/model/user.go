// Package model はドメインモデルを定義する。
package model

import "time"

// 投資家プロフィールの既定値。
const (
	DefaultInvestorName    = "New Investor"
	DefaultInvestorCompany = "Independent"
)

// Identity はイベントに参加する投資家を表す。
// IDは認証済みであればサインインのsubject ID、事前登録であれば正規化済みメールアドレス。
type Identity struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Company    string    `json:"company"`
	CreatedAt  time.Time `json:"createdAt"`
	LastActive time.Time `json:"lastActive"`
}

// PendingSignIn はサインインリンク送信から完了までの間、クライアント側に保持される値。
type PendingSignIn struct {
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Company string `json:"company,omitempty"`
}

// AuthAccount はメールアドレスとサインインsubject IDの対応を表す。
type AuthAccount struct {
	Email     string
	SubjectID string
	CreatedAt time.Time
}

// LoginLink は発行済みサインインリンクを表す。
// トークンそのものは保存せず、SHA-256ハッシュをキーとして保持する。
type LoginLink struct {
	TokenHash string
	Email     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Session は投資家のログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
