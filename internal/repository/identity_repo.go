package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/hitoshi/pitchday/internal/docstore"
	"github.com/hitoshi/pitchday/internal/model"
)

// DocIdentityRepo はusersコレクションを使用した投資家リポジトリ。
type DocIdentityRepo struct {
	store docstore.Store
}

// NewDocIdentityRepo はDocIdentityRepoを生成する。
func NewDocIdentityRepo(store docstore.Store) *DocIdentityRepo {
	return &DocIdentityRepo{store: store}
}

// FindByID は指定IDの投資家を取得する。見つからない場合はnilを返す。
func (r *DocIdentityRepo) FindByID(ctx context.Context, id string) (*model.Identity, error) {
	doc, err := getDocument(ctx, r.store, CollectionUsers, id)
	if err != nil || doc == nil {
		return nil, err
	}
	return identityFromDocument(*doc), nil
}

// ListByEmail はemailフィールドが一致する投資家を作成順に返す。
func (r *DocIdentityRepo) ListByEmail(ctx context.Context, email string) ([]*model.Identity, error) {
	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: CollectionUsers,
		Filters:    []docstore.Filter{docstore.Eq("email", email)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list identities by email: %w", err)
	}
	identities := make([]*model.Identity, 0, len(docs))
	for _, doc := range docs {
		identities = append(identities, identityFromDocument(doc))
	}
	return identities, nil
}

// Create は投資家が存在しない場合のみ作成する。
// CreatedAt、LastActiveがゼロ値の場合はストアの時刻で記録する。
func (r *DocIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	err := r.store.Create(ctx, CollectionUsers, identity.ID, docstore.Fields{
		"email":      identity.Email,
		"name":       identity.Name,
		"company":    identity.Company,
		"createdAt":  timestampOrServer(identity.CreatedAt),
		"lastActive": timestampOrServer(identity.LastActive),
	})
	if err != nil {
		return fmt.Errorf("failed to create identity: %w", err)
	}
	return nil
}

// TouchLastActive は最終アクティブ時刻をストアの時刻で更新する。
func (r *DocIdentityRepo) TouchLastActive(ctx context.Context, id string) error {
	err := r.store.Update(ctx, CollectionUsers, id, docstore.Fields{
		"lastActive": docstore.ServerTimestamp,
	})
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("failed to update last active: %w", err)
	}
	return nil
}

// DeleteByID は指定IDの投資家を削除する。
func (r *DocIdentityRepo) DeleteByID(ctx context.Context, id string) error {
	return deleteIgnoringMissing(ctx, r.store, CollectionUsers, id)
}

// ListAll はすべての投資家を返す。
func (r *DocIdentityRepo) ListAll(ctx context.Context) ([]*model.Identity, error) {
	docs, err := r.store.Query(ctx, docstore.Query{Collection: CollectionUsers})
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	out := make([]*model.Identity, 0, len(docs))
	for _, d := range docs {
		out = append(out, identityFromDocument(d))
	}
	return out, nil
}

// compile-time interface check
var _ IdentityRepository = (*DocIdentityRepo)(nil)
