package aggregation

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/pitchday/internal/identity"
	"github.com/hitoshi/pitchday/internal/metrics"
	"github.com/hitoshi/pitchday/internal/model"
	"github.com/hitoshi/pitchday/internal/repository"
)

// View は集計処理のサービス層。
type View struct {
	identities repository.IdentityRepository
	votes      repository.VoteRepository
	meetings   repository.MeetingRequestRepository
	startups   repository.StartupRepository
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	now        func() time.Time
}

// NewView はViewの新しいインスタンスを生成する。
func NewView(
	identities repository.IdentityRepository,
	votes repository.VoteRepository,
	meetings repository.MeetingRequestRepository,
	startups repository.StartupRepository,
	collector metrics.MetricsCollector,
) *View {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &View{
		identities: identities,
		votes:      votes,
		meetings:   meetings,
		startups:   startups,
		metrics:    collector,
		logger:     slog.Default(),
		now:        time.Now,
	}
}

// AdminRollup は投資家とスタートアップの集計を返す。
// 4つのコレクションを並行して読み、1つでも失敗した場合は部分的な結果を返さずStoreUnavailableを返す。
// 同じメールアドレスの投資家は1行にまとめ、面談数と投票有無はまとめたすべてのIDで数える。
func (v *View) AdminRollup(ctx context.Context) (*model.Rollup, error) {
	started := v.now()

	var (
		identities []*model.Identity
		votes      []*model.Vote
		meetings   []*model.MeetingRequest
		startups   []*model.Startup
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		identities, err = v.identities.ListAll(gctx)
		return err
	})
	g.Go(func() (err error) {
		votes, err = v.votes.ListAll(gctx)
		return err
	})
	g.Go(func() (err error) {
		meetings, err = v.meetings.ListAll(gctx)
		return err
	})
	g.Go(func() (err error) {
		startups, err = v.startups.ListByName(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		v.logger.Error("admin rollup failed", slog.String("error", err.Error()))
		return nil, model.NewStoreUnavailableError(err)
	}

	rollup := &model.Rollup{
		Investors:            summarizeInvestors(identities, votes, meetings),
		Startups:             summarizeStartups(startups, votes, meetings),
		TotalVotes:           len(votes),
		TotalMeetingRequests: len(meetings),
		GeneratedAt:          v.now(),
	}

	v.metrics.RecordRollupLatency(v.now().Sub(started))
	return rollup, nil
}

// summarizeInvestors はメールアドレスごとに代表レコードを選び、最終アクティブの新しい順に並べる。
func summarizeInvestors(identities []*model.Identity, votes []*model.Vote, meetings []*model.MeetingRequest) []model.InvestorSummary {
	voted := lo.SliceToMap(votes, func(v *model.Vote) (string, bool) {
		return v.UserID, true
	})
	meetingsByUser := lo.CountValuesBy(meetings, func(m *model.MeetingRequest) string {
		return m.UserID
	})

	groups := identity.GroupByEmail(identities)
	investors := make([]model.InvestorSummary, 0, len(groups))
	for _, group := range groups {
		canonical := identity.Canonicalize(group)
		if canonical == nil {
			continue
		}
		summary := model.InvestorSummary{
			Identity:       *canonical,
			DuplicateCount: len(group) - 1,
		}
		for _, member := range group {
			summary.MeetingRequestCount += meetingsByUser[member.ID]
			summary.HasVoted = summary.HasVoted || voted[member.ID]
		}
		investors = append(investors, summary)
	}

	slices.SortFunc(investors, func(a, b model.InvestorSummary) int {
		if c := b.LastActive.Compare(a.LastActive); c != 0 {
			return c
		}
		if c := cmp.Compare(identity.NormalizeEmail(a.Email), identity.NormalizeEmail(b.Email)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return investors
}

// summarizeStartups は名前のあるスタートアップの得票数と面談数を数え、面談数の降順に並べる。
// 同数の場合は名前順を保つ。
func summarizeStartups(startups []*model.Startup, votes []*model.Vote, meetings []*model.MeetingRequest) []model.StartupStats {
	votesByStartup := lo.CountValuesBy(votes, func(v *model.Vote) string {
		return v.StartupID
	})
	meetingsByStartup := lo.CountValuesBy(meetings, func(m *model.MeetingRequest) string {
		return m.StartupID
	})

	named := lo.Filter(startups, func(s *model.Startup, _ int) bool {
		return s != nil && strings.TrimSpace(s.Name) != ""
	})
	stats := lo.Map(named, func(s *model.Startup, _ int) model.StartupStats {
		return model.StartupStats{
			Startup:             *s,
			VoteCount:           votesByStartup[s.ID],
			MeetingRequestCount: meetingsByStartup[s.ID],
		}
	})

	slices.SortStableFunc(stats, func(a, b model.StartupStats) int {
		return cmp.Compare(b.MeetingRequestCount, a.MeetingRequestCount)
	})
	return stats
}
