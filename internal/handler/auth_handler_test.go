package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/pitchday/internal/auth"
	"github.com/hitoshi/pitchday/internal/middleware"
	"github.com/hitoshi/pitchday/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	issueLinkFn       func(ctx context.Context, req auth.IssueLinkRequest) (*model.PendingSignIn, error)
	completeLinkFn    func(ctx context.Context, req auth.CompleteLinkRequest) (*auth.CompleteLinkResult, error)
	logoutFn          func(ctx context.Context, sessionID string) error
	currentIdentityFn func(ctx context.Context, sessionID string) (*model.Identity, error)
}

func (m *mockAuthService) IssueLink(ctx context.Context, req auth.IssueLinkRequest) (*model.PendingSignIn, error) {
	if m.issueLinkFn != nil {
		return m.issueLinkFn(ctx, req)
	}
	return &model.PendingSignIn{Email: req.Email}, nil
}

func (m *mockAuthService) CompleteLink(ctx context.Context, req auth.CompleteLinkRequest) (*auth.CompleteLinkResult, error) {
	if m.completeLinkFn != nil {
		return m.completeLinkFn(ctx, req)
	}
	return nil, model.NewInvalidSignInLinkError()
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) CurrentIdentity(ctx context.Context, sessionID string) (*model.Identity, error) {
	if m.currentIdentityFn != nil {
		return m.currentIdentityFn(ctx, sessionID)
	}
	return nil, model.NewNotAuthenticatedError()
}

var _ AuthServiceInterface = (*auth.Service)(nil)

func testAuthHandler(svc AuthServiceInterface) *AuthHandler {
	return NewAuthHandler(svc, AuthHandlerConfig{SessionMaxAge: 86400})
}

func responseCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func pendingCookie(t *testing.T, pending model.PendingSignIn) *http.Cookie {
	t.Helper()
	raw, err := json.Marshal(pending)
	if err != nil {
		t.Fatalf("marshal pending: %v", err)
	}
	return &http.Cookie{Name: pendingCookieName, Value: base64.RawURLEncoding.EncodeToString(raw)}
}

// --- テスト ---

func TestAuthHandler_SendLink_SetsPendingCookie(t *testing.T) {
	var got auth.IssueLinkRequest
	svc := &mockAuthService{
		issueLinkFn: func(ctx context.Context, req auth.IssueLinkRequest) (*model.PendingSignIn, error) {
			got = req
			return &model.PendingSignIn{Email: "ana@fund.vc", Name: "Ana", Company: "Fund"}, nil
		},
	}

	body := strings.NewReader(`{"email":"Ana@Fund.vc","name":"Ana","company":"Fund"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/link", body)
	w := httptest.NewRecorder()
	testAuthHandler(svc).SendLink(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if got.Email != "Ana@Fund.vc" || got.Name != "Ana" || got.Company != "Fund" {
		t.Errorf("unexpected request: %+v", got)
	}
	if got.Pending != nil {
		t.Errorf("Pending = %+v, want nil without cookie", got.Pending)
	}

	cookie := responseCookie(w.Result(), pendingCookieName)
	if cookie == nil {
		t.Fatal("expected pending cookie")
	}
	if !cookie.HttpOnly {
		t.Error("pending cookie should be HttpOnly")
	}

	r2 := httptest.NewRequest(http.MethodPost, "/auth/complete", nil)
	r2.AddCookie(cookie)
	pending := readPending(r2)
	if pending == nil || pending.Name != "Ana" || pending.Company != "Fund" {
		t.Errorf("readPending = %+v", pending)
	}
}

func TestAuthHandler_SendLink_PassesExistingPending(t *testing.T) {
	var got auth.IssueLinkRequest
	svc := &mockAuthService{
		issueLinkFn: func(ctx context.Context, req auth.IssueLinkRequest) (*model.PendingSignIn, error) {
			got = req
			return &model.PendingSignIn{Email: "ana@fund.vc"}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/link", strings.NewReader(`{"email":"ana@fund.vc"}`))
	req.AddCookie(pendingCookie(t, model.PendingSignIn{Email: "ana@fund.vc", Name: "Ana"}))
	testAuthHandler(svc).SendLink(httptest.NewRecorder(), req)

	if got.Pending == nil || got.Pending.Name != "Ana" {
		t.Errorf("Pending = %+v, want name carried over", got.Pending)
	}
}

func TestAuthHandler_SendLink_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"malformed body", `{"email":`, nil, http.StatusBadRequest},
		{"invalid email", `{"email":"nope"}`, model.NewInvalidEmailError("nope"), http.StatusBadRequest},
		{"store down", `{"email":"a@b.co"}`, model.NewStoreUnavailableError(context.DeadlineExceeded), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				issueLinkFn: func(ctx context.Context, req auth.IssueLinkRequest) (*model.PendingSignIn, error) {
					return nil, tt.err
				},
			}
			req := httptest.NewRequest(http.MethodPost, "/auth/link", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			testAuthHandler(svc).SendLink(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if responseCookie(w.Result(), pendingCookieName) != nil {
				t.Error("pending cookie should not be set on error")
			}
		})
	}
}

func TestAuthHandler_CompleteLink_RequiresEmailConfirmation(t *testing.T) {
	svc := &mockAuthService{
		completeLinkFn: func(ctx context.Context, req auth.CompleteLinkRequest) (*auth.CompleteLinkResult, error) {
			if req.Pending != nil {
				t.Errorf("Pending = %+v, want nil", req.Pending)
			}
			return nil, model.NewEmailConfirmationRequiredError()
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/complete", strings.NewReader(`{"token":"abc"}`))
	w := httptest.NewRecorder()
	testAuthHandler(svc).CompleteLink(w, req)

	if w.Code != http.StatusPreconditionRequired {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusPreconditionRequired)
	}
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != model.ErrCodeEmailConfirmationRequired {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeEmailConfirmationRequired)
	}
}

func TestAuthHandler_CompleteLink_SetsSessionAndClearsPending(t *testing.T) {
	var got auth.CompleteLinkRequest
	svc := &mockAuthService{
		completeLinkFn: func(ctx context.Context, req auth.CompleteLinkRequest) (*auth.CompleteLinkResult, error) {
			got = req
			return &auth.CompleteLinkResult{
				Identity:     &model.Identity{ID: "subject-1", Email: "ana@fund.vc"},
				Session:      &model.Session{ID: "session-1", UserID: "subject-1", ExpiresAt: time.Now().Add(time.Hour)},
				ClearPending: true,
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/complete?token=from-query", strings.NewReader(`{"email":"ana@fund.vc"}`))
	req.AddCookie(pendingCookie(t, model.PendingSignIn{Email: "ana@fund.vc", Name: "Ana"}))
	w := httptest.NewRecorder()
	testAuthHandler(svc).CompleteLink(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got.Token != "from-query" {
		t.Errorf("Token = %q, want %q", got.Token, "from-query")
	}
	if got.Email != "ana@fund.vc" {
		t.Errorf("Email = %q", got.Email)
	}
	if got.Pending == nil || got.Pending.Name != "Ana" {
		t.Errorf("Pending = %+v", got.Pending)
	}

	resp := w.Result()
	session := responseCookie(resp, middleware.SessionCookieName)
	if session == nil || session.Value != "session-1" || !session.HttpOnly {
		t.Errorf("session cookie = %+v", session)
	}
	pending := responseCookie(resp, pendingCookieName)
	if pending == nil || pending.MaxAge >= 0 {
		t.Errorf("pending cookie should be cleared, got %+v", pending)
	}

	var ident model.Identity
	if err := json.NewDecoder(w.Body).Decode(&ident); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ident.ID != "subject-1" {
		t.Errorf("identity id = %q", ident.ID)
	}
}

func TestAuthHandler_CompleteLink_ExistingSessionLeavesCookies(t *testing.T) {
	svc := &mockAuthService{
		completeLinkFn: func(ctx context.Context, req auth.CompleteLinkRequest) (*auth.CompleteLinkResult, error) {
			if req.SessionID != "session-live" {
				t.Errorf("SessionID = %q", req.SessionID)
			}
			return &auth.CompleteLinkResult{
				Identity: &model.Identity{ID: "subject-1"},
				Session:  &model.Session{ID: "session-live", UserID: "subject-1"},
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/complete", strings.NewReader(`{"token":"t"}`))
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "session-live"})
	w := httptest.NewRecorder()
	testAuthHandler(svc).CompleteLink(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Errorf("no cookies should be written, got %v", w.Result().Cookies())
	}
}

func TestAuthHandler_CompleteLink_InvalidLinkReturns410(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/auth/complete", strings.NewReader(`{"token":"used"}`))
	w := httptest.NewRecorder()
	testAuthHandler(&mockAuthService{}).CompleteLink(w, req)

	if w.Code != http.StatusGone {
		t.Errorf("status = %d, want %d", w.Code, http.StatusGone)
	}
}

func TestAuthHandler_Logout_ClearsCookie(t *testing.T) {
	var loggedOut string
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			loggedOut = sessionID
			return nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "session-1"})
	w := httptest.NewRecorder()
	testAuthHandler(svc).Logout(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if loggedOut != "session-1" {
		t.Errorf("logged out session = %q", loggedOut)
	}
	cookie := responseCookie(w.Result(), middleware.SessionCookieName)
	if cookie == nil || cookie.MaxAge >= 0 {
		t.Errorf("session cookie should be cleared, got %+v", cookie)
	}
}

func TestAuthHandler_Me(t *testing.T) {
	svc := &mockAuthService{
		currentIdentityFn: func(ctx context.Context, sessionID string) (*model.Identity, error) {
			if sessionID == "session-1" {
				return &model.Identity{ID: "subject-1", Name: "Ana"}, nil
			}
			return nil, model.NewNotAuthenticatedError()
		},
	}
	h := testAuthHandler(svc)

	w := httptest.NewRecorder()
	h.Me(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status without cookie = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "session-1"})
	w = httptest.NewRecorder()
	h.Me(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestReadPending_IgnoresBrokenCookie(t *testing.T) {
	for _, value := range []string{"!!!", base64.RawURLEncoding.EncodeToString([]byte("{")), base64.RawURLEncoding.EncodeToString([]byte(`{"name":"x"}`))} {
		req := httptest.NewRequest(http.MethodPost, "/auth/complete", nil)
		req.AddCookie(&http.Cookie{Name: pendingCookieName, Value: value})
		if got := readPending(req); got != nil {
			t.Errorf("readPending(%q) = %+v, want nil", value, got)
		}
	}
}
