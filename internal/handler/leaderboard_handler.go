package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/pitchday/internal/docstore"
	"github.com/hitoshi/pitchday/internal/model"
)

// AggregationServiceInterface はリーダーボードと管理集計のハンドラーが必要とするサービスインターフェース。
type AggregationServiceInterface interface {
	Leaderboard(ctx context.Context) ([]model.LeaderboardEntry, error)
	WatchBoard(ctx context.Context, fn func([]model.LeaderboardEntry)) (docstore.Subscription, error)
	AdminRollup(ctx context.Context) (*model.Rollup, error)
}

// AggregationHandler はリーダーボードと管理集計のHTTPハンドラー。
type AggregationHandler struct {
	service AggregationServiceInterface
}

// NewAggregationHandler はAggregationHandlerを生成する。
func NewAggregationHandler(service AggregationServiceInterface) *AggregationHandler {
	return &AggregationHandler{service: service}
}

// Leaderboard は現時点のリーダーボードを返す。
// GET /api/leaderboard
func (h *AggregationHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.Leaderboard(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// StreamLeaderboard はリーダーボードの変化をSSEで送り続ける。
// GET /api/leaderboard/stream
func (h *AggregationHandler) StreamLeaderboard(w http.ResponseWriter, r *http.Request) {
	serveStream(w, r, "leaderboard", h.service.WatchBoard)
}

// AdminRollup は管理画面用の集計を返す。
// GET /api/admin/rollup
func (h *AggregationHandler) AdminRollup(w http.ResponseWriter, r *http.Request) {
	rollup, err := h.service.AdminRollup(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rollup)
}
