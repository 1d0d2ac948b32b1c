// Package engagement は投票と面談リクエストのドメインロジックを提供する。
package engagement

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"github.com/hitoshi/pitchday/internal/docstore"
	"github.com/hitoshi/pitchday/internal/metrics"
	"github.com/hitoshi/pitchday/internal/model"
	"github.com/hitoshi/pitchday/internal/repository"
)

// EventPublisher は投票・面談リクエストのイベントを外部へ通知するインターフェース。
// 通知の失敗は操作の結果に影響しない。
type EventPublisher interface {
	PublishVoteCast(ctx context.Context, vote *model.Vote) error
	PublishMeetingToggled(ctx context.Context, userID, startupID string, requested bool) error
}

// Service は投票と面談リクエストのサービス層。
type Service struct {
	votes     repository.VoteRepository
	meetings  repository.MeetingRequestRepository
	startups  repository.StartupRepository
	publisher EventPublisher
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// publisherとcollectorはnilでもよい。
func NewService(
	votes repository.VoteRepository,
	meetings repository.MeetingRequestRepository,
	startups repository.StartupRepository,
	publisher EventPublisher,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		votes:     votes,
		meetings:  meetings,
		startups:  startups,
		publisher: publisher,
		metrics:   collector,
		logger:    slog.Default(),
	}
}

// CastVote は投資家の投票を記録する。
// 既に投票済みの場合はAlreadyVotedを返す。同時に投票された場合も成功するのは1件だけ。
func (s *Service) CastVote(ctx context.Context, identityID, startupID string) (*model.Vote, error) {
	if identityID == "" {
		return nil, model.NewNotAuthenticatedError()
	}

	startup, err := s.startups.FindByID(ctx, startupID)
	if err != nil {
		s.metrics.RecordVote(metrics.VoteError)
		return nil, model.NewStoreUnavailableError(err)
	}
	if startup == nil {
		return nil, model.NewStartupNotFoundError(startupID)
	}

	existing, err := s.votes.FindByUserID(ctx, identityID)
	if err != nil {
		s.metrics.RecordVote(metrics.VoteError)
		return nil, model.NewStoreUnavailableError(err)
	}
	if existing != nil {
		s.metrics.RecordVote(metrics.VoteAlreadyVoted)
		return nil, model.NewAlreadyVotedError()
	}

	vote := &model.Vote{UserID: identityID, StartupID: startupID}
	if err := s.votes.CreateIfAbsent(ctx, vote); err != nil {
		if errors.Is(err, docstore.ErrAlreadyExists) {
			s.metrics.RecordVote(metrics.VoteAlreadyVoted)
			return nil, model.NewAlreadyVotedError()
		}
		s.metrics.RecordVote(metrics.VoteError)
		return nil, model.NewStoreUnavailableError(err)
	}
	s.metrics.RecordVote(metrics.VoteAccepted)

	if stored, err := s.votes.FindByUserID(ctx, identityID); err == nil && stored != nil {
		vote = stored
	}

	s.logger.Info("vote cast",
		slog.String("user_id", identityID),
		slog.String("startup_id", startupID),
	)
	if s.publisher != nil {
		if err := s.publisher.PublishVoteCast(ctx, vote); err != nil {
			s.logger.Warn("failed to publish vote event",
				slog.String("user_id", identityID),
				slog.String("error", err.Error()),
			)
		}
	}

	return vote, nil
}

// CurrentVote は投資家の投票を返す。未投票の場合はnilを返す。
func (s *Service) CurrentVote(ctx context.Context, identityID string) (*model.Vote, error) {
	if identityID == "" {
		return nil, model.NewNotAuthenticatedError()
	}
	vote, err := s.votes.FindByUserID(ctx, identityID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	return vote, nil
}

// ToggleMeetingRequest は面談リクエストを切り替え、リクエスト中になった場合はtrueを返す。
// 操作の直前に現在の状態を読み直す。重複したリクエストがあればすべて削除する。
func (s *Service) ToggleMeetingRequest(ctx context.Context, identityID, startupID string) (bool, error) {
	if identityID == "" {
		return false, model.NewNotAuthenticatedError()
	}
	if startupID == "" {
		return false, model.NewInvalidRequestError("startupId is required")
	}

	existing, err := s.meetings.ListByUserAndStartup(ctx, identityID, startupID)
	if err != nil {
		return false, model.NewStoreUnavailableError(err)
	}

	requested := len(existing) == 0
	if requested {
		if _, err := s.meetings.Create(ctx, &model.MeetingRequest{UserID: identityID, StartupID: startupID}); err != nil {
			return false, model.NewStoreUnavailableError(err)
		}
	} else {
		for _, req := range existing {
			if err := s.meetings.DeleteByID(ctx, req.ID); err != nil {
				return false, model.NewStoreUnavailableError(err)
			}
		}
	}

	s.metrics.RecordMeetingToggle(requested)
	s.logger.Info("meeting request toggled",
		slog.String("user_id", identityID),
		slog.String("startup_id", startupID),
		slog.Bool("requested", requested),
	)
	if s.publisher != nil {
		if err := s.publisher.PublishMeetingToggled(ctx, identityID, startupID, requested); err != nil {
			s.logger.Warn("failed to publish meeting event",
				slog.String("user_id", identityID),
				slog.String("error", err.Error()),
			)
		}
	}

	return requested, nil
}

// ListMeetingRequests は投資家の面談リクエストをスタートアップ情報付きで返す。
func (s *Service) ListMeetingRequests(ctx context.Context, identityID string) ([]*model.MeetingRequestWithStartup, error) {
	if identityID == "" {
		return nil, model.NewNotAuthenticatedError()
	}

	requests, err := s.meetings.ListByUserID(ctx, identityID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	startups, err := s.startups.ListByOrder(ctx)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	return JoinStartups(requests, startups), nil
}

// WatchMeetingRequests は投資家の面談リクエストとスタートアップ一覧の両方を購読する。
// どちらかが変わるたびに結合し直した結果をfnへ渡す。両方の初回結果が揃うまでは配信しない。
func (s *Service) WatchMeetingRequests(
	ctx context.Context,
	identityID string,
	fn func([]*model.MeetingRequestWithStartup),
) (docstore.Subscription, error) {
	if identityID == "" {
		return nil, model.NewNotAuthenticatedError()
	}

	feed := &meetingFeed{fn: fn}

	startupsSub, err := s.startups.WatchByOrder(ctx, feed.setStartups)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	requestsSub, err := s.meetings.WatchByUserID(ctx, identityID, feed.setRequests)
	if err != nil {
		_ = startupsSub.Close()
		return nil, model.NewStoreUnavailableError(err)
	}

	feed.subs = []docstore.Subscription{requestsSub, startupsSub}
	return feed, nil
}

// meetingFeed は面談リクエストとスタートアップ一覧の最新値を保持し、変更のたびに結合して配信する。
type meetingFeed struct {
	fn   func([]*model.MeetingRequestWithStartup)
	subs []docstore.Subscription

	mu          sync.Mutex
	closed      bool
	requests    []*model.MeetingRequest
	startups    []*model.Startup
	hasRequests bool
	hasStartups bool
}

func (f *meetingFeed) setRequests(requests []*model.MeetingRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests, f.hasRequests = requests, true
	f.publishLocked()
}

func (f *meetingFeed) setStartups(startups []*model.Startup) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startups, f.hasStartups = startups, true
	f.publishLocked()
}

// publishLocked はf.muを保持した状態で呼ぶ。配信順を2つの購読の間で直列化する。
func (f *meetingFeed) publishLocked() {
	if f.closed || !f.hasRequests || !f.hasStartups {
		return
	}
	f.fn(JoinStartups(f.requests, f.startups))
}

// Close は両方の購読を停止する。以後fnは呼ばれない。
func (f *meetingFeed) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()

	var errs []error
	for _, sub := range f.subs {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// JoinStartups は面談リクエストにスタートアップ情報を結合する。
// 参照先のスタートアップが見つからないリクエストは除外する。
func JoinStartups(requests []*model.MeetingRequest, startups []*model.Startup) []*model.MeetingRequestWithStartup {
	byID := lo.SliceToMap(startups, func(s *model.Startup) (string, *model.Startup) {
		return s.ID, s
	})

	joined := make([]*model.MeetingRequestWithStartup, 0, len(requests))
	for _, req := range requests {
		startup, ok := byID[req.StartupID]
		if !ok {
			continue
		}
		joined = append(joined, &model.MeetingRequestWithStartup{
			MeetingRequest: *req,
			Startup:        *startup,
		})
	}
	return joined
}
