package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/pitchday/internal/docstore"
	"github.com/hitoshi/pitchday/internal/model"
)

// DocAuthAccountRepo はauthAccountsコレクションを使用したリポジトリ。
// キーは正規化済みメールアドレス。
type DocAuthAccountRepo struct {
	store docstore.Store
}

// NewDocAuthAccountRepo はDocAuthAccountRepoを生成する。
func NewDocAuthAccountRepo(store docstore.Store) *DocAuthAccountRepo {
	return &DocAuthAccountRepo{store: store}
}

// FindByEmail は正規化済みメールアドレスで対応を取得する。
func (r *DocAuthAccountRepo) FindByEmail(ctx context.Context, email string) (*model.AuthAccount, error) {
	doc, err := getDocument(ctx, r.store, CollectionAuthAccounts, email)
	if err != nil || doc == nil {
		return nil, err
	}
	return &model.AuthAccount{
		Email:     doc.Key,
		SubjectID: doc.Fields.String("subjectId"),
		CreatedAt: doc.Fields.Time("createdAt"),
	}, nil
}

// CreateIfAbsent は対応が存在しない場合のみ作成する。
func (r *DocAuthAccountRepo) CreateIfAbsent(ctx context.Context, account *model.AuthAccount) error {
	err := r.store.Create(ctx, CollectionAuthAccounts, account.Email, docstore.Fields{
		"subjectId": account.SubjectID,
		"createdAt": timestampOrServer(account.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("failed to create auth account: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AuthAccountRepository = (*DocAuthAccountRepo)(nil)

// DocLoginLinkRepo はloginLinksコレクションを使用したサインインリンクリポジトリ。
type DocLoginLinkRepo struct {
	store docstore.Store
}

// NewDocLoginLinkRepo はDocLoginLinkRepoを生成する。
func NewDocLoginLinkRepo(store docstore.Store) *DocLoginLinkRepo {
	return &DocLoginLinkRepo{store: store}
}

// Create はリンクを保存する。
func (r *DocLoginLinkRepo) Create(ctx context.Context, link *model.LoginLink) error {
	err := r.store.Create(ctx, CollectionLoginLinks, link.TokenHash, docstore.Fields{
		"email":     link.Email,
		"expiresAt": link.ExpiresAt,
		"createdAt": timestampOrServer(link.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("failed to create login link: %w", err)
	}
	return nil
}

// FindByTokenHash はトークンハッシュでリンクを取得する。期限切れのリンクもそのまま返す。
func (r *DocLoginLinkRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.LoginLink, error) {
	doc, err := getDocument(ctx, r.store, CollectionLoginLinks, tokenHash)
	if err != nil || doc == nil {
		return nil, err
	}
	return &model.LoginLink{
		TokenHash: doc.Key,
		Email:     doc.Fields.String("email"),
		ExpiresAt: doc.Fields.Time("expiresAt"),
		CreatedAt: doc.Fields.Time("createdAt"),
	}, nil
}

// Consume はリンクを削除して使用済みにする。
// 同時に複数のリクエストが消費しようとした場合、trueを受け取るのは1つだけ。
func (r *DocLoginLinkRepo) Consume(ctx context.Context, tokenHash string) (bool, error) {
	doc, err := getDocument(ctx, r.store, CollectionLoginLinks, tokenHash)
	if err != nil {
		return false, err
	}
	if doc == nil {
		return false, nil
	}
	if err := r.store.Delete(ctx, CollectionLoginLinks, tokenHash); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to consume login link: %w", err)
	}
	return true, nil
}

// compile-time interface check
var _ LoginLinkRepository = (*DocLoginLinkRepo)(nil)

// DocSessionRepo はsessionsコレクションを使用したセッションリポジトリ。
type DocSessionRepo struct {
	store docstore.Store
	now   func() time.Time
}

// NewDocSessionRepo はDocSessionRepoを生成する。
func NewDocSessionRepo(store docstore.Store) *DocSessionRepo {
	return &DocSessionRepo{store: store, now: time.Now}
}

// Create はセッションを作成する。
func (r *DocSessionRepo) Create(ctx context.Context, session *model.Session) error {
	err := r.store.Create(ctx, CollectionSessions, session.ID, docstore.Fields{
		"userId":    session.UserID,
		"expiresAt": session.ExpiresAt,
		"createdAt": timestampOrServer(session.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *DocSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, nil
	}
	doc, err := getDocument(ctx, r.store, CollectionSessions, id)
	if err != nil || doc == nil {
		return nil, err
	}
	session := &model.Session{
		ID:        doc.Key,
		UserID:    doc.Fields.String("userId"),
		ExpiresAt: doc.Fields.Time("expiresAt"),
		CreatedAt: doc.Fields.Time("createdAt"),
	}
	if !session.ExpiresAt.After(r.now()) {
		return nil, nil
	}
	return session, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *DocSessionRepo) DeleteByID(ctx context.Context, id string) error {
	return deleteIgnoringMissing(ctx, r.store, CollectionSessions, id)
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *DocSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: CollectionSessions,
		Filters:    []docstore.Filter{docstore.Eq("userId", userID)},
	})
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	for _, d := range docs {
		if err := deleteIgnoringMissing(ctx, r.store, CollectionSessions, d.Key); err != nil {
			return err
		}
	}
	return nil
}

// compile-time interface check
var _ SessionRepository = (*DocSessionRepo)(nil)
