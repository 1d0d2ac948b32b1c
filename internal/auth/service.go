// Package auth はメールリンクによるサインイン、セッション管理を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/pitchday/internal/docstore"
	"github.com/hitoshi/pitchday/internal/identity"
	"github.com/hitoshi/pitchday/internal/metrics"
	"github.com/hitoshi/pitchday/internal/model"
	"github.com/hitoshi/pitchday/internal/repository"
	"github.com/hitoshi/pitchday/internal/security"
)

// completePath はサインインリンクの遷移先パス。
const completePath = "/complete-signin"

// IdentityMaterializer はサインイン済みsubjectの投資家レコードを確定させるインターフェース。
// identity.Resolverが実装する。
type IdentityMaterializer interface {
	MaterializeAuthenticated(ctx context.Context, subjectID, email string, pending *model.PendingSignIn) (*model.Identity, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	BaseURL       string        // リンクの生成に使う公開URL
	LinkTTL       time.Duration // サインインリンクの有効期間
	SessionMaxAge int           // セッション有効期間（秒）
}

// ServiceDeps は認証サービスの依存関係。
type ServiceDeps struct {
	Resolver   IdentityMaterializer
	Identities repository.IdentityRepository
	Accounts   repository.AuthAccountRepository
	Links      repository.LoginLinkRepository
	Sessions   repository.SessionRepository
	Mail       MailSender
	Sanitizer  security.ProfileSanitizer
	Metrics    metrics.MetricsCollector
	Logger     *slog.Logger
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	resolver   IdentityMaterializer
	identities repository.IdentityRepository
	accounts   repository.AuthAccountRepository
	links      repository.LoginLinkRepository
	sessions   repository.SessionRepository
	mail       MailSender
	sanitizer  security.ProfileSanitizer
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	config     ServiceConfig
	now        func() time.Time
}

// NewService はServiceを生成する。
func NewService(deps ServiceDeps, config ServiceConfig) *Service {
	s := &Service{
		resolver:   deps.Resolver,
		identities: deps.Identities,
		accounts:   deps.Accounts,
		links:      deps.Links,
		sessions:   deps.Sessions,
		mail:       deps.Mail,
		sanitizer:  deps.Sanitizer,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		config:     config,
		now:        time.Now,
	}
	if s.sanitizer == nil {
		s.sanitizer = security.NewProfileSanitizer()
	}
	if s.metrics == nil {
		s.metrics = metrics.NopCollector{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.mail == nil {
		s.mail = &LogMailSender{Logger: s.logger}
	}
	return s
}

// IssueLinkRequest はサインインリンク発行の入力。
type IssueLinkRequest struct {
	Email   string
	Name    string
	Company string
	// Pending はクライアントが保持している直前の保留プロフィール。
	Pending *model.PendingSignIn
}

// IssueLink はサインインリンクを発行して送信し、クライアントが保持すべき保留プロフィールを返す。
// 名前・会社名は空でない場合だけ上書きし、空なら直前の値を引き継ぐ。
func (s *Service) IssueLink(ctx context.Context, req IssueLinkRequest) (*model.PendingSignIn, error) {
	email, err := parseEmail(req.Email)
	if err != nil {
		return nil, err
	}

	pending := &model.PendingSignIn{
		Email:   email,
		Name:    s.sanitizer.SanitizeText(req.Name),
		Company: s.sanitizer.SanitizeText(req.Company),
	}
	if req.Pending != nil {
		if pending.Name == "" {
			pending.Name = req.Pending.Name
		}
		if pending.Company == "" {
			pending.Company = req.Pending.Company
		}
	}

	raw, hash, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate sign-in token: %w", err)
	}

	now := s.now()
	link := &model.LoginLink{
		TokenHash: hash,
		Email:     email,
		ExpiresAt: now.Add(s.config.LinkTTL),
		CreatedAt: now,
	}
	if err := s.links.Create(ctx, link); err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}

	if err := s.mail.SendSignInLink(ctx, email, s.linkURL(raw), s.config.LinkTTL); err != nil {
		return nil, fmt.Errorf("failed to deliver sign-in link: %w", err)
	}

	s.metrics.RecordSignInLinkIssued()
	s.logger.Info("sign-in link sent", slog.String("email", email))

	return pending, nil
}

// CompleteLinkRequest はサインインリンク完了の入力。
type CompleteLinkRequest struct {
	Token string
	// Email はユーザーが確認のために入力したメールアドレス。空なら保留プロフィールの値を使う。
	Email     string
	Pending   *model.PendingSignIn
	SessionID string
}

// CompleteLinkResult はサインインリンク完了の結果。
type CompleteLinkResult struct {
	Identity *model.Identity
	Session  *model.Session
	// ClearPending がtrueの場合、クライアントは保留プロフィールを破棄する。
	ClearPending bool
}

// CompleteLink はサインインリンクを検証してセッションを発行する。
// 有効なセッションがあり、リンクが消費済みかセッションと同じメールアドレス宛てであれば、何もせずその投資家を返す。
// 別のメールアドレス宛てのリンクであれば通常どおり完了し、新しいセッションに置き換える。
// メールアドレスが確定できない場合はリンクを消費せずEmailConfirmationRequiredを返す。
func (s *Service) CompleteLink(ctx context.Context, req CompleteLinkRequest) (result *CompleteLinkResult, err error) {
	defer func() { s.recordSignIn(err) }()

	hash, hashErr := hashToken(req.Token)
	var link *model.LoginLink
	if hashErr == nil {
		link, err = s.links.FindByTokenHash(ctx, hash)
		if err != nil {
			return nil, model.NewStoreUnavailableError(err)
		}
	}

	current, session := s.activeSession(ctx, req.SessionID)
	if current != nil {
		switch {
		case link == nil:
			return &CompleteLinkResult{Identity: current, Session: session}, nil
		case identity.NormalizeEmail(current.Email) == link.Email:
			// 同じ投資家宛てのリンクは使い切っておく
			if _, err := s.links.Consume(ctx, hash); err != nil {
				s.logger.Warn("failed to consume link for signed-in investor",
					slog.String("user_id", current.ID),
					slog.String("error", err.Error()),
				)
			}
			return &CompleteLinkResult{Identity: current, Session: session, ClearPending: true}, nil
		}
	}

	if hashErr != nil || link == nil || !s.now().Before(link.ExpiresAt) {
		return nil, model.NewInvalidSignInLinkError()
	}

	email := identity.NormalizeEmail(req.Email)
	if email == "" && req.Pending != nil {
		email = identity.NormalizeEmail(req.Pending.Email)
	}
	if email == "" {
		return nil, model.NewEmailConfirmationRequiredError()
	}
	if email != link.Email {
		return nil, model.NewInvalidSignInLinkError()
	}

	consumed, err := s.links.Consume(ctx, hash)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if !consumed {
		return nil, model.NewInvalidSignInLinkError()
	}

	subjectID, err := s.subjectFor(ctx, email)
	if err != nil {
		return nil, err
	}

	ident, err := s.resolver.MaterializeAuthenticated(ctx, subjectID, email, req.Pending)
	if err != nil {
		return nil, err
	}

	newSession, err := s.createSession(ctx, ident.ID)
	if err != nil {
		return nil, err
	}

	if session != nil {
		if err := s.sessions.DeleteByID(ctx, session.ID); err != nil {
			s.logger.Warn("failed to delete replaced session",
				slog.String("user_id", session.UserID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("sign-in completed",
		slog.String("user_id", ident.ID),
		slog.String("email", email),
	)

	return &CompleteLinkResult{Identity: ident, Session: newSession, ClearPending: true}, nil
}

// activeSession は有効なセッションとその投資家を返す。どちらかが無ければnilを返す。
func (s *Service) activeSession(ctx context.Context, sessionID string) (*model.Identity, *model.Session) {
	if sessionID == "" {
		return nil, nil
	}
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil || session == nil {
		return nil, nil
	}
	current, err := s.identities.FindByID(ctx, session.UserID)
	if err != nil || current == nil {
		return nil, nil
	}
	return current, session
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return model.NewNotAuthenticatedError()
	}

	if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.logger.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// CurrentIdentity はセッションから現在の投資家を取得する。
// セッションが無い、期限切れ、または投資家レコードが無い場合はNotAuthenticatedを返す。
func (s *Service) CurrentIdentity(ctx context.Context, sessionID string) (*model.Identity, error) {
	if sessionID == "" {
		return nil, model.NewNotAuthenticatedError()
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if session == nil {
		return nil, model.NewNotAuthenticatedError()
	}

	ident, err := s.identities.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if ident == nil {
		return nil, model.NewNotAuthenticatedError()
	}
	return ident, nil
}

// subjectFor はメールアドレスに対応するsubject IDを返す。初回は採番して保存する。
func (s *Service) subjectFor(ctx context.Context, email string) (string, error) {
	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return "", model.NewStoreUnavailableError(err)
	}
	if account != nil {
		return account.SubjectID, nil
	}

	account = &model.AuthAccount{
		Email:     email,
		SubjectID: uuid.New().String(),
		CreatedAt: s.now(),
	}
	err = s.accounts.CreateIfAbsent(ctx, account)
	if err == nil {
		return account.SubjectID, nil
	}
	if !errors.Is(err, docstore.ErrAlreadyExists) {
		return "", model.NewStoreUnavailableError(err)
	}

	// 同じメールアドレスの完了処理が先に採番した。
	winner, err := s.accounts.FindByEmail(ctx, email)
	if err != nil || winner == nil {
		return "", model.NewStoreUnavailableError(err)
	}
	return winner.SubjectID, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}

	return session, nil
}

func (s *Service) linkURL(token string) string {
	return strings.TrimRight(s.config.BaseURL, "/") + completePath + "?token=" + url.QueryEscape(token)
}

func (s *Service) recordSignIn(err error) {
	switch {
	case err == nil:
		s.metrics.RecordSignIn(metrics.SignInSuccess)
	case errors.Is(err, model.ErrInvalidSignInLink):
		s.metrics.RecordSignIn(metrics.SignInInvalidLink)
	case errors.Is(err, model.ErrEmailConfirmationRequired):
		s.metrics.RecordSignIn(metrics.SignInConfirmationRequired)
	default:
		s.metrics.RecordSignIn(metrics.SignInError)
	}
}

// parseEmail はメールアドレスを検証して正規化する。表示名付きの形式は受け付けない。
func parseEmail(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", model.NewInvalidEmailError(raw)
	}
	return identity.NormalizeEmail(addr.Address), nil
}
