// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/pitchday/internal/auth"
	"github.com/hitoshi/pitchday/internal/middleware"
	"github.com/hitoshi/pitchday/internal/model"
)

// pendingCookieName はサインイン完了までの保留プロフィールを保持するCookieの名前。
const pendingCookieName = "pending_sign_in"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	IssueLink(ctx context.Context, req auth.IssueLinkRequest) (*model.PendingSignIn, error)
	CompleteLink(ctx context.Context, req auth.CompleteLinkRequest) (*auth.CompleteLinkResult, error)
	Logout(ctx context.Context, sessionID string) error
	CurrentIdentity(ctx context.Context, sessionID string) (*model.Identity, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
	PendingMaxAge int // 保留プロフィールCookieの有効期間（秒）
}

// AuthHandler はサインインリンク認証のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	if config.PendingMaxAge == 0 {
		config.PendingMaxAge = 3600
	}
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type sendLinkRequest struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Company string `json:"company"`
}

type completeLinkRequest struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

// SendLink はサインインリンクを発行してメールで送る。
// POST /auth/link
func (h *AuthHandler) SendLink(w http.ResponseWriter, r *http.Request) {
	var req sendLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	pending, err := h.service.IssueLink(r.Context(), auth.IssueLinkRequest{
		Email:   req.Email,
		Name:    req.Name,
		Company: req.Company,
		Pending: readPending(r),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.setPending(w, pending); err != nil {
		slog.Error("failed to store pending sign-in", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"email": pending.Email})
}

// CompleteLink はサインインリンクを検証してセッションCookieを発行する。
// 同じブラウザで保留プロフィールが無い場合は428でメールアドレスの確認を求める。
// POST /auth/complete
func (h *AuthHandler) CompleteLink(w http.ResponseWriter, r *http.Request) {
	var req completeLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if req.Token == "" {
		req.Token = r.URL.Query().Get("token")
	}

	var sessionID string
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
		sessionID = cookie.Value
	}

	result, err := h.service.CompleteLink(r.Context(), auth.CompleteLinkRequest{
		Token:     req.Token,
		Email:     req.Email,
		Pending:   readPending(r),
		SessionID: sessionID,
	})
	if err != nil {
		if !errors.Is(err, model.ErrEmailConfirmationRequired) {
			slog.Warn("sign-in completion failed", slog.String("error", err.Error()))
		}
		handleServiceError(w, err)
		return
	}

	if result.ClearPending {
		h.setSession(w, result.Session.ID, h.config.SessionMaxAge)
		h.clearPending(w)
	}

	writeJSON(w, http.StatusOK, result.Identity)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	h.setSession(w, "", -1)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在サインインしている投資家を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	var sessionID string
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
		sessionID = cookie.Value
	}

	ident, err := h.service.CurrentIdentity(r.Context(), sessionID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ident)
}

func (h *AuthHandler) setSession(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) setPending(w http.ResponseWriter, pending *model.PendingSignIn) error {
	raw, err := json.Marshal(pending)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     pendingCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(raw),
		Path:     "/auth",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.PendingMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (h *AuthHandler) clearPending(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     pendingCookieName,
		Value:    "",
		Path:     "/auth",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// readPending は保留プロフィールCookieを読む。壊れた値は無いものとして扱う。
func readPending(r *http.Request) *model.PendingSignIn {
	cookie, err := r.Cookie(pendingCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return nil
	}
	var pending model.PendingSignIn
	if err := json.Unmarshal(raw, &pending); err != nil || pending.Email == "" {
		return nil
	}
	return &pending
}
