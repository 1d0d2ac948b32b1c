package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pitchday/internal/docstore"
	"github.com/hitoshi/pitchday/internal/engagement"
	"github.com/hitoshi/pitchday/internal/middleware"
	"github.com/hitoshi/pitchday/internal/model"
)

// --- モック定義 ---

type mockEngagementService struct {
	castVoteFn    func(ctx context.Context, identityID, startupID string) (*model.Vote, error)
	currentVoteFn func(ctx context.Context, identityID string) (*model.Vote, error)
	toggleFn      func(ctx context.Context, identityID, startupID string) (bool, error)
	listFn        func(ctx context.Context, identityID string) ([]*model.MeetingRequestWithStartup, error)
	watchFn       func(ctx context.Context, identityID string, fn func([]*model.MeetingRequestWithStartup)) (docstore.Subscription, error)
}

func (m *mockEngagementService) CastVote(ctx context.Context, identityID, startupID string) (*model.Vote, error) {
	if m.castVoteFn != nil {
		return m.castVoteFn(ctx, identityID, startupID)
	}
	return &model.Vote{UserID: identityID, StartupID: startupID}, nil
}

func (m *mockEngagementService) CurrentVote(ctx context.Context, identityID string) (*model.Vote, error) {
	if m.currentVoteFn != nil {
		return m.currentVoteFn(ctx, identityID)
	}
	return nil, nil
}

func (m *mockEngagementService) ToggleMeetingRequest(ctx context.Context, identityID, startupID string) (bool, error) {
	if m.toggleFn != nil {
		return m.toggleFn(ctx, identityID, startupID)
	}
	return true, nil
}

func (m *mockEngagementService) ListMeetingRequests(ctx context.Context, identityID string) ([]*model.MeetingRequestWithStartup, error) {
	if m.listFn != nil {
		return m.listFn(ctx, identityID)
	}
	return []*model.MeetingRequestWithStartup{}, nil
}

func (m *mockEngagementService) WatchMeetingRequests(ctx context.Context, identityID string, fn func([]*model.MeetingRequestWithStartup)) (docstore.Subscription, error) {
	if m.watchFn != nil {
		return m.watchFn(ctx, identityID, fn)
	}
	return nil, errors.New("not implemented")
}

type mockStartupLister struct {
	listFn func(ctx context.Context) ([]*model.Startup, error)
}

func (m *mockStartupLister) ListByOrder(ctx context.Context) ([]*model.Startup, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

var _ EngagementServiceInterface = (*engagement.Service)(nil)

func authedRequest(method, target, body, userID string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
}

// --- テスト ---

func TestEngagementHandler_ListStartups(t *testing.T) {
	t.Run("empty list is an array", func(t *testing.T) {
		h := NewEngagementHandler(&mockEngagementService{}, &mockStartupLister{})
		w := httptest.NewRecorder()
		h.ListStartups(w, httptest.NewRequest(http.MethodGet, "/api/startups", nil))

		if strings.TrimSpace(w.Body.String()) != "[]" {
			t.Errorf("body = %q, want []", w.Body.String())
		}
	})

	t.Run("store error", func(t *testing.T) {
		lister := &mockStartupLister{
			listFn: func(ctx context.Context) ([]*model.Startup, error) {
				return nil, errors.New("unavailable")
			},
		}
		h := NewEngagementHandler(&mockEngagementService{}, lister)
		w := httptest.NewRecorder()
		h.ListStartups(w, httptest.NewRequest(http.MethodGet, "/api/startups", nil))

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
		}
	})
}

func TestEngagementHandler_CastVote(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		userID string
		err    error
		want   int
	}{
		{"created", `{"startupId":"s1"}`, "subject-1", nil, http.StatusCreated},
		{"already voted", `{"startupId":"s1"}`, "subject-1", model.NewAlreadyVotedError(), http.StatusConflict},
		{"unknown startup", `{"startupId":"nope"}`, "subject-1", model.NewStartupNotFoundError("nope"), http.StatusNotFound},
		{"missing startup id", `{}`, "subject-1", nil, http.StatusBadRequest},
		{"not signed in", `{"startupId":"s1"}`, "", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockEngagementService{
				castVoteFn: func(ctx context.Context, identityID, startupID string) (*model.Vote, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return &model.Vote{UserID: identityID, StartupID: startupID, CreatedAt: time.Now()}, nil
				},
			}
			h := NewEngagementHandler(svc, &mockStartupLister{})

			req := httptest.NewRequest(http.MethodPost, "/api/votes", strings.NewReader(tt.body))
			if tt.userID != "" {
				req = authedRequest(http.MethodPost, "/api/votes", tt.body, tt.userID)
			}
			w := httptest.NewRecorder()
			h.CastVote(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestEngagementHandler_CurrentVote_NullWhenNone(t *testing.T) {
	h := NewEngagementHandler(&mockEngagementService{}, &mockStartupLister{})
	w := httptest.NewRecorder()
	h.CurrentVote(w, authedRequest(http.MethodGet, "/api/votes/me", "", "subject-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if strings.TrimSpace(w.Body.String()) != `{"vote":null}` {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestEngagementHandler_ToggleMeetingRequest(t *testing.T) {
	var gotStartup string
	svc := &mockEngagementService{
		toggleFn: func(ctx context.Context, identityID, startupID string) (bool, error) {
			gotStartup = startupID
			return false, nil
		},
	}
	h := NewEngagementHandler(svc, &mockStartupLister{})

	r := chi.NewRouter()
	r.Post("/api/meeting-requests/{startupId}/toggle", h.ToggleMeetingRequest)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, authedRequest(http.MethodPost, "/api/meeting-requests/s2/toggle", "", "subject-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotStartup != "s2" {
		t.Errorf("startupID = %q, want s2", gotStartup)
	}
	var resp toggleMeetingResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Requested || resp.StartupID != "s2" {
		t.Errorf("response = %+v", resp)
	}
}

func TestEngagementHandler_ListMeetingRequests(t *testing.T) {
	svc := &mockEngagementService{
		listFn: func(ctx context.Context, identityID string) ([]*model.MeetingRequestWithStartup, error) {
			return []*model.MeetingRequestWithStartup{{
				MeetingRequest: model.MeetingRequest{ID: "m1", UserID: identityID, StartupID: "s1"},
				Startup:        model.Startup{ID: "s1", Name: "Acme"},
			}}, nil
		},
	}
	h := NewEngagementHandler(svc, &mockStartupLister{})
	w := httptest.NewRecorder()
	h.ListMeetingRequests(w, authedRequest(http.MethodGet, "/api/meeting-requests", "", "subject-1"))

	var got []model.MeetingRequestWithStartup
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Startup.Name != "Acme" || got[0].UserID != "subject-1" {
		t.Errorf("got %+v", got)
	}
}

func TestEngagementHandler_StreamMeetingRequests_SubscribeError(t *testing.T) {
	svc := &mockEngagementService{
		watchFn: func(ctx context.Context, identityID string, fn func([]*model.MeetingRequestWithStartup)) (docstore.Subscription, error) {
			return nil, model.NewStoreUnavailableError(errors.New("listen failed"))
		},
	}
	h := NewEngagementHandler(svc, &mockStartupLister{})
	w := httptest.NewRecorder()
	h.StreamMeetingRequests(w, authedRequest(http.MethodGet, "/api/meeting-requests/stream", "", "subject-1"))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

type mockResolver struct {
	resolveFn func(ctx context.Context, email string) (*model.Identity, error)
}

func (m *mockResolver) ResolveByEmail(ctx context.Context, email string) (*model.Identity, error) {
	return m.resolveFn(ctx, email)
}

func TestIdentityHandler_GetByEmail(t *testing.T) {
	h := NewIdentityHandler(&mockResolver{
		resolveFn: func(ctx context.Context, email string) (*model.Identity, error) {
			if email == "ana@fund.vc" {
				return &model.Identity{ID: "ana@fund.vc", Email: email}, nil
			}
			return nil, nil
		},
	})

	tests := []struct {
		query string
		want  int
	}{
		{"?email=ana@fund.vc", http.StatusOK},
		{"?email=ghost@fund.vc", http.StatusNotFound},
		{"", http.StatusBadRequest},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		h.GetByEmail(w, httptest.NewRequest(http.MethodGet, "/api/identities"+tt.query, nil))
		if w.Code != tt.want {
			t.Errorf("GET %q status = %d, want %d", tt.query, w.Code, tt.want)
		}
	}
}
