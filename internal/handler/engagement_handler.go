package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pitchday/internal/docstore"
	"github.com/hitoshi/pitchday/internal/model"
)

// EngagementServiceInterface は投票・面談リクエストハンドラーが必要とするサービスインターフェース。
type EngagementServiceInterface interface {
	CastVote(ctx context.Context, identityID, startupID string) (*model.Vote, error)
	CurrentVote(ctx context.Context, identityID string) (*model.Vote, error)
	ToggleMeetingRequest(ctx context.Context, identityID, startupID string) (bool, error)
	ListMeetingRequests(ctx context.Context, identityID string) ([]*model.MeetingRequestWithStartup, error)
	WatchMeetingRequests(ctx context.Context, identityID string, fn func([]*model.MeetingRequestWithStartup)) (docstore.Subscription, error)
}

// StartupLister はスタートアップ一覧の取得に必要なインターフェース。
type StartupLister interface {
	ListByOrder(ctx context.Context) ([]*model.Startup, error)
}

// EngagementHandler はスタートアップ一覧・投票・面談リクエストのHTTPハンドラー。
type EngagementHandler struct {
	service  EngagementServiceInterface
	startups StartupLister
}

// NewEngagementHandler はEngagementHandlerを生成する。
func NewEngagementHandler(service EngagementServiceInterface, startups StartupLister) *EngagementHandler {
	return &EngagementHandler{service: service, startups: startups}
}

type castVoteRequest struct {
	StartupID string `json:"startupId"`
}

type currentVoteResponse struct {
	Vote *model.Vote `json:"vote"`
}

type toggleMeetingResponse struct {
	StartupID string `json:"startupId"`
	Requested bool   `json:"requested"`
}

// ListStartups は表示順のスタートアップ一覧を返す。
// GET /api/startups
func (h *EngagementHandler) ListStartups(w http.ResponseWriter, r *http.Request) {
	startups, err := h.startups.ListByOrder(r.Context())
	if err != nil {
		handleServiceError(w, model.NewStoreUnavailableError(err))
		return
	}
	if startups == nil {
		startups = []*model.Startup{}
	}
	writeJSON(w, http.StatusOK, startups)
}

// CastVote は投票を記録する。1人1票で、2回目以降は409を返す。
// POST /api/votes
func (h *EngagementHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req castVoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if req.StartupID == "" {
		handleServiceError(w, model.NewInvalidRequestError("startupIdを指定してください。"))
		return
	}

	vote, err := h.service.CastVote(r.Context(), userID, req.StartupID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, vote)
}

// CurrentVote は投資家の投票を返す。未投票の場合voteはnull。
// GET /api/votes/me
func (h *EngagementHandler) CurrentVote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	vote, err := h.service.CurrentVote(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, currentVoteResponse{Vote: vote})
}

// ToggleMeetingRequest は面談リクエストを切り替える。
// POST /api/meeting-requests/{startupId}/toggle
func (h *EngagementHandler) ToggleMeetingRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	startupID := chi.URLParam(r, "startupId")
	requested, err := h.service.ToggleMeetingRequest(r.Context(), userID, startupID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toggleMeetingResponse{StartupID: startupID, Requested: requested})
}

// ListMeetingRequests は投資家の面談リクエストをスタートアップ情報付きで返す。
// GET /api/meeting-requests
func (h *EngagementHandler) ListMeetingRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	requests, err := h.service.ListMeetingRequests(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, requests)
}

// StreamMeetingRequests は面談リクエストの変更をSSEで送り続ける。
// GET /api/meeting-requests/stream
func (h *EngagementHandler) StreamMeetingRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	serveStream(w, r, "meeting-requests", func(ctx context.Context, send func([]*model.MeetingRequestWithStartup)) (docstore.Subscription, error) {
		return h.service.WatchMeetingRequests(ctx, userID, send)
	})
}
