// Package repository はデータ永続化のインターフェースを定義する。
// 実装はdocstore.Store上のコレクションに対応する。
package repository

import (
	"context"

	"github.com/hitoshi/pitchday/internal/docstore"
	"github.com/hitoshi/pitchday/internal/model"
)

// IdentityRepository は投資家データの永続化インターフェース。
type IdentityRepository interface {
	// FindByID は指定IDの投資家を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Identity, error)
	// ListByEmail はemailフィールドが一致する投資家を作成順に返す。
	ListByEmail(ctx context.Context, email string) ([]*model.Identity, error)
	// Create は投資家が存在しない場合のみ作成する。
	// 既に存在する場合はdocstore.ErrAlreadyExistsをラップしたエラーを返す。
	Create(ctx context.Context, identity *model.Identity) error
	// TouchLastActive は最終アクティブ時刻を更新する。
	TouchLastActive(ctx context.Context, id string) error
	// DeleteByID は指定IDの投資家を削除する。存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error
	// ListAll はすべての投資家を返す。
	ListAll(ctx context.Context) ([]*model.Identity, error)
}

// VoteRepository は投票データの永続化インターフェース。
type VoteRepository interface {
	// FindByUserID は投資家の投票を取得する。未投票の場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Vote, error)
	// CreateIfAbsent は投票を作成する。既に投票済みの場合はdocstore.ErrAlreadyExistsをラップしたエラーを返す。
	CreateIfAbsent(ctx context.Context, vote *model.Vote) error
	// ListAll はすべての投票を返す。
	ListAll(ctx context.Context) ([]*model.Vote, error)
	// Watch は投票全体の変更を購読する。
	Watch(ctx context.Context, fn func([]*model.Vote)) (docstore.Subscription, error)
	// DeleteAll はすべての投票を削除し、削除件数を返す。
	DeleteAll(ctx context.Context) (int, error)
}

// MeetingRequestRepository は面談リクエストの永続化インターフェース。
type MeetingRequestRepository interface {
	// ListByUserAndStartup は投資家とスタートアップの組に一致するリクエストを返す。
	ListByUserAndStartup(ctx context.Context, userID, startupID string) ([]*model.MeetingRequest, error)
	// Create はリクエストを作成し、採番されたIDを返す。
	Create(ctx context.Context, req *model.MeetingRequest) (string, error)
	// DeleteByID は指定IDのリクエストを削除する。存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error
	// ListByUserID は投資家のリクエストを作成順に返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.MeetingRequest, error)
	// WatchByUserID は投資家のリクエストの変更を購読する。
	WatchByUserID(ctx context.Context, userID string, fn func([]*model.MeetingRequest)) (docstore.Subscription, error)
	// ListAll はすべてのリクエストを返す。
	ListAll(ctx context.Context) ([]*model.MeetingRequest, error)
	// DeleteAll はすべてのリクエストを削除し、削除件数を返す。
	DeleteAll(ctx context.Context) (int, error)
}

// StartupRepository はスタートアップの永続化インターフェース。
type StartupRepository interface {
	// FindByID は指定IDのスタートアップを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Startup, error)
	// ListByOrder は表示順でスタートアップを返す。
	ListByOrder(ctx context.Context) ([]*model.Startup, error)
	// ListByName は名前順でスタートアップを返す。
	ListByName(ctx context.Context) ([]*model.Startup, error)
	// Upsert はスタートアップを上書き保存する。
	Upsert(ctx context.Context, startup *model.Startup) error
	// WatchByOrder は表示順のスタートアップ一覧の変更を購読する。
	WatchByOrder(ctx context.Context, fn func([]*model.Startup)) (docstore.Subscription, error)
}

// AuthAccountRepository はメールアドレスとサインインsubject IDの対応の永続化インターフェース。
type AuthAccountRepository interface {
	// FindByEmail は正規化済みメールアドレスで対応を取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.AuthAccount, error)
	// CreateIfAbsent は対応が存在しない場合のみ作成する。
	// 既に存在する場合はdocstore.ErrAlreadyExistsをラップしたエラーを返す。
	CreateIfAbsent(ctx context.Context, account *model.AuthAccount) error
}

// LoginLinkRepository はサインインリンクの永続化インターフェース。
type LoginLinkRepository interface {
	// Create はリンクを保存する。
	Create(ctx context.Context, link *model.LoginLink) error
	// FindByTokenHash はトークンハッシュでリンクを取得する。見つからない場合はnilを返す。
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.LoginLink, error)
	// Consume はリンクを削除して使用済みにする。
	// 既に使用済みで削除できなかった場合はfalseを返す。
	Consume(ctx context.Context, tokenHash string) (bool, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}
