// Package identity はメールアドレスやサインインsubjectから正規の投資家レコードを解決する。
// 事前登録レコードは初回サインイン時に認証済みレコードへ1回だけ統合される。
package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/samber/lo"

	"github.com/hitoshi/pitchday/internal/docstore"
	"github.com/hitoshi/pitchday/internal/model"
	"github.com/hitoshi/pitchday/internal/repository"
)

// NormalizeEmail はメールアドレスを小文字化し前後の空白を除去する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Resolver は投資家レコードの解決と統合を行う。
type Resolver struct {
	identities repository.IdentityRepository
	logger     *slog.Logger
}

// NewResolver はResolverを生成する。
func NewResolver(identities repository.IdentityRepository, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{identities: identities, logger: logger}
}

// ResolveByEmail はメールアドレスから投資家を解決する。見つからない場合はnilを返す。
// 正規化したメールアドレスをキーとして直接引き、なければemailフィールドで検索する。
// emailフィールドで複数見つかった場合はCanonicalizeで1件に絞る。権限エラーは未検出として扱う。
func (r *Resolver) ResolveByEmail(ctx context.Context, email string) (*model.Identity, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return nil, nil
	}

	byKey, err := r.identities.FindByID(ctx, normalized)
	switch {
	case err == nil && byKey != nil:
		return byKey, nil
	case err != nil && !r.swallowPermissionDenied("key", err):
		return nil, model.NewStoreUnavailableError(err)
	}

	byField, err := r.identities.ListByEmail(ctx, normalized)
	if err != nil {
		if r.swallowPermissionDenied("email", err) {
			return nil, nil
		}
		return nil, model.NewStoreUnavailableError(err)
	}
	return Canonicalize(byField), nil
}

func (r *Resolver) swallowPermissionDenied(lookup string, err error) bool {
	if !errors.Is(err, docstore.ErrPermissionDenied) {
		return false
	}
	r.logger.Warn("identity lookup denied; treating as not found",
		slog.String("lookup", lookup),
		slog.String("error", err.Error()),
	)
	return true
}

// MaterializeAuthenticated はサインイン済みsubjectの投資家レコードを返す。存在しなければ作成する。
// 冪等: 既存レコードがあればlastActiveだけを更新して返す。
// 新規作成時はpendingの名前・会社名を優先し、足りない分は事前登録レコードから補う。
// 事前登録レコードを取り込んだ場合は作成後に削除する。削除の失敗はログに残して続行する。
func (r *Resolver) MaterializeAuthenticated(ctx context.Context, subjectID, email string, pending *model.PendingSignIn) (*model.Identity, error) {
	existing, err := r.identities.FindByID(ctx, subjectID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if existing != nil {
		return r.touch(ctx, existing), nil
	}

	email = NormalizeEmail(email)
	var name, company string
	if pending != nil && NormalizeEmail(pending.Email) == email {
		name, company = strings.TrimSpace(pending.Name), strings.TrimSpace(pending.Company)
	}

	var preRegistered *model.Identity
	if name == "" || company == "" {
		found, err := r.ResolveByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if found != nil && found.ID != subjectID {
			name = lo.Ternary(name == "", found.Name, name)
			company = lo.Ternary(company == "", found.Company, company)
			preRegistered = found
		}
	}

	created := &model.Identity{
		ID:      subjectID,
		Email:   email,
		Name:    lo.Ternary(name == "", model.DefaultInvestorName, name),
		Company: lo.Ternary(company == "", model.DefaultInvestorCompany, company),
	}

	if err := r.identities.Create(ctx, created); err != nil {
		if !errors.Is(err, docstore.ErrAlreadyExists) {
			return nil, model.NewStoreUnavailableError(err)
		}
		// 同じsubjectの完了処理が先に作成した。統合もそちらが行う。
		winner, err := r.identities.FindByID(ctx, subjectID)
		if err != nil || winner == nil {
			return nil, model.NewStoreUnavailableError(err)
		}
		return winner, nil
	}

	r.logger.Info("identity created",
		slog.String("user_id", subjectID),
		slog.Bool("merged_pre_registration", preRegistered != nil),
	)

	if preRegistered != nil && preRegistered.ID == email {
		if err := r.identities.DeleteByID(ctx, preRegistered.ID); err != nil {
			r.logger.Warn("failed to delete merged pre-registration",
				slog.String("pre_registration_id", preRegistered.ID),
				slog.String("user_id", subjectID),
				slog.String("error", err.Error()),
			)
		}
	}

	stored, err := r.identities.FindByID(ctx, subjectID)
	if err != nil || stored == nil {
		return created, nil
	}
	return stored, nil
}

func (r *Resolver) touch(ctx context.Context, existing *model.Identity) *model.Identity {
	if err := r.identities.TouchLastActive(ctx, existing.ID); err != nil {
		r.logger.Warn("failed to refresh last active",
			slog.String("user_id", existing.ID),
			slog.String("error", err.Error()),
		)
		return existing
	}
	refreshed, err := r.identities.FindByID(ctx, existing.ID)
	if err != nil || refreshed == nil {
		return existing
	}
	return refreshed
}
