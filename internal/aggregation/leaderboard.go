// Package aggregation はリーダーボードと管理画面の集計を提供する。
package aggregation

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/hitoshi/pitchday/internal/docstore"
	"github.com/hitoshi/pitchday/internal/model"
)

// BuildLeaderboard はスタートアップごとの得票数を数え、得票数の降順に順位を付ける。
// 得票のないスタートアップも0票で含める。一覧にないスタートアップへの票は無視する。
// 同数の場合は渡された順序を保つ。
func BuildLeaderboard(startups []*model.Startup, votes []*model.Vote) []model.LeaderboardEntry {
	counts := lo.CountValuesBy(votes, func(v *model.Vote) string {
		return v.StartupID
	})

	entries := make([]model.LeaderboardEntry, 0, len(startups))
	for _, s := range startups {
		if s == nil {
			continue
		}
		entries = append(entries, model.LeaderboardEntry{Startup: *s, VoteCount: counts[s.ID]})
	}

	slices.SortStableFunc(entries, func(a, b model.LeaderboardEntry) int {
		return cmp.Compare(b.VoteCount, a.VoteCount)
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// Leaderboard は現時点のリーダーボードを返す。
func (v *View) Leaderboard(ctx context.Context) ([]model.LeaderboardEntry, error) {
	startups, err := v.startups.ListByOrder(ctx)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	votes, err := v.votes.ListAll(ctx)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	return BuildLeaderboard(startups, votes), nil
}

// WatchLeaderboard は投票全体を購読し、変更のたびに指定スタートアップのリーダーボードを再計算してfnへ渡す。
func (v *View) WatchLeaderboard(ctx context.Context, startups []*model.Startup, fn func([]model.LeaderboardEntry)) (docstore.Subscription, error) {
	fixed := slices.Clone(startups)
	sub, err := v.votes.Watch(ctx, func(votes []*model.Vote) {
		fn(BuildLeaderboard(fixed, votes))
	})
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	return sub, nil
}

// Board はスタートアップ一覧と投票の両方を購読するライブリーダーボード。
// スタートアップ一覧が変わるたびに、古い投票購読を閉じてから新しい一覧で購読し直す。
type Board struct {
	view   *View
	ctx    context.Context
	fn     func([]model.LeaderboardEntry)
	logger *slog.Logger

	mu          sync.Mutex
	closed      bool
	startupsSub docstore.Subscription
	votesSub    docstore.Subscription
}

// NewBoard はBoardを生成して購読を開始する。
func (v *View) NewBoard(ctx context.Context, fn func([]model.LeaderboardEntry)) (*Board, error) {
	b := &Board{view: v, ctx: ctx, fn: fn, logger: v.logger}

	sub, err := v.startups.WatchByOrder(ctx, b.onStartups)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}

	b.mu.Lock()
	b.startupsSub = sub
	b.mu.Unlock()
	return b, nil
}

// WatchBoard はNewBoardと同じ購読を開始し、docstore.Subscriptionとして返す。
func (v *View) WatchBoard(ctx context.Context, fn func([]model.LeaderboardEntry)) (docstore.Subscription, error) {
	b, err := v.NewBoard(ctx, fn)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// onStartups はスタートアップ一覧の購読goroutineから順番に呼ばれる。
func (b *Board) onStartups(startups []*model.Startup) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	old := b.votesSub
	b.votesSub = nil
	b.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	sub, err := b.view.WatchLeaderboard(b.ctx, startups, b.fn)
	if err != nil {
		b.logger.Warn("failed to resubscribe leaderboard votes",
			slog.Int("startups", len(startups)),
			slog.String("error", err.Error()),
		)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		_ = sub.Close()
		return
	}
	b.votesSub = sub
}

// Close はすべての購読を停止する。以後fnは呼ばれない。
func (b *Board) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	startupsSub, votesSub := b.startupsSub, b.votesSub
	b.votesSub = nil
	b.mu.Unlock()

	if startupsSub != nil {
		_ = startupsSub.Close()
	}
	if votesSub != nil {
		_ = votesSub.Close()
	}
	return nil
}
