package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/pitchday/internal/docstore"
	"github.com/hitoshi/pitchday/internal/model"
)

// DocVoteRepo はvotesコレクションを使用した投票リポジトリ。
// ドキュメントキーは投資家IDで、1人1件を保証する。
type DocVoteRepo struct {
	store docstore.Store
}

// NewDocVoteRepo はDocVoteRepoを生成する。
func NewDocVoteRepo(store docstore.Store) *DocVoteRepo {
	return &DocVoteRepo{store: store}
}

// FindByUserID は投資家の投票を取得する。未投票の場合はnilを返す。
func (r *DocVoteRepo) FindByUserID(ctx context.Context, userID string) (*model.Vote, error) {
	doc, err := getDocument(ctx, r.store, CollectionVotes, userID)
	if err != nil || doc == nil {
		return nil, err
	}
	return voteFromDocument(*doc), nil
}

// CreateIfAbsent は投票を作成する。
func (r *DocVoteRepo) CreateIfAbsent(ctx context.Context, vote *model.Vote) error {
	err := r.store.Create(ctx, CollectionVotes, vote.UserID, docstore.Fields{
		"userId":    vote.UserID,
		"startupId": vote.StartupID,
		"createdAt": timestampOrServer(vote.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("failed to create vote: %w", err)
	}
	return nil
}

// ListAll はすべての投票を返す。
func (r *DocVoteRepo) ListAll(ctx context.Context) ([]*model.Vote, error) {
	docs, err := r.store.Query(ctx, docstore.Query{Collection: CollectionVotes})
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	return votesFromDocuments(docs), nil
}

// Watch は投票全体の変更を購読する。
func (r *DocVoteRepo) Watch(ctx context.Context, fn func([]*model.Vote)) (docstore.Subscription, error) {
	sub, err := r.store.Subscribe(ctx, docstore.Query{Collection: CollectionVotes}, func(docs []docstore.Document) {
		fn(votesFromDocuments(docs))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to watch votes: %w", err)
	}
	return sub, nil
}

// DeleteAll はすべての投票を削除する。
func (r *DocVoteRepo) DeleteAll(ctx context.Context) (int, error) {
	return deleteAll(ctx, r.store, CollectionVotes)
}

// compile-time interface check
var _ VoteRepository = (*DocVoteRepo)(nil)

// DocMeetingRequestRepo はmeetingRequestsコレクションを使用した面談リクエストリポジトリ。
type DocMeetingRequestRepo struct {
	store docstore.Store
}

// NewDocMeetingRequestRepo はDocMeetingRequestRepoを生成する。
func NewDocMeetingRequestRepo(store docstore.Store) *DocMeetingRequestRepo {
	return &DocMeetingRequestRepo{store: store}
}

// ListByUserAndStartup は投資家とスタートアップの組に一致するリクエストを返す。
func (r *DocMeetingRequestRepo) ListByUserAndStartup(ctx context.Context, userID, startupID string) ([]*model.MeetingRequest, error) {
	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: CollectionMeetingRequests,
		Filters: []docstore.Filter{
			docstore.Eq("userId", userID),
			docstore.Eq("startupId", startupID),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find meeting requests: %w", err)
	}
	return meetingRequestsFromDocuments(docs), nil
}

// Create はリクエストを作成し、採番されたIDを返す。
func (r *DocMeetingRequestRepo) Create(ctx context.Context, req *model.MeetingRequest) (string, error) {
	id, err := r.store.Add(ctx, CollectionMeetingRequests, docstore.Fields{
		"userId":    req.UserID,
		"startupId": req.StartupID,
		"createdAt": timestampOrServer(req.CreatedAt),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create meeting request: %w", err)
	}
	return id, nil
}

// DeleteByID は指定IDのリクエストを削除する。
func (r *DocMeetingRequestRepo) DeleteByID(ctx context.Context, id string) error {
	return deleteIgnoringMissing(ctx, r.store, CollectionMeetingRequests, id)
}

// ListByUserID は投資家のリクエストを作成順に返す。
func (r *DocMeetingRequestRepo) ListByUserID(ctx context.Context, userID string) ([]*model.MeetingRequest, error) {
	docs, err := r.store.Query(ctx, userRequestsQuery(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list meeting requests: %w", err)
	}
	return meetingRequestsFromDocuments(docs), nil
}

// WatchByUserID は投資家のリクエストの変更を購読する。
func (r *DocMeetingRequestRepo) WatchByUserID(ctx context.Context, userID string, fn func([]*model.MeetingRequest)) (docstore.Subscription, error) {
	sub, err := r.store.Subscribe(ctx, userRequestsQuery(userID), func(docs []docstore.Document) {
		fn(meetingRequestsFromDocuments(docs))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to watch meeting requests: %w", err)
	}
	return sub, nil
}

// ListAll はすべてのリクエストを返す。
func (r *DocMeetingRequestRepo) ListAll(ctx context.Context) ([]*model.MeetingRequest, error) {
	docs, err := r.store.Query(ctx, docstore.Query{Collection: CollectionMeetingRequests})
	if err != nil {
		return nil, fmt.Errorf("failed to list meeting requests: %w", err)
	}
	return meetingRequestsFromDocuments(docs), nil
}

// DeleteAll はすべてのリクエストを削除する。
func (r *DocMeetingRequestRepo) DeleteAll(ctx context.Context) (int, error) {
	return deleteAll(ctx, r.store, CollectionMeetingRequests)
}

func userRequestsQuery(userID string) docstore.Query {
	return docstore.Query{
		Collection: CollectionMeetingRequests,
		Filters:    []docstore.Filter{docstore.Eq("userId", userID)},
	}
}

// compile-time interface check
var _ MeetingRequestRepository = (*DocMeetingRequestRepo)(nil)

// DocStartupRepo はstartupsコレクションを使用したスタートアップリポジトリ。
type DocStartupRepo struct {
	store docstore.Store
}

// NewDocStartupRepo はDocStartupRepoを生成する。
func NewDocStartupRepo(store docstore.Store) *DocStartupRepo {
	return &DocStartupRepo{store: store}
}

// FindByID は指定IDのスタートアップを取得する。見つからない場合はnilを返す。
func (r *DocStartupRepo) FindByID(ctx context.Context, id string) (*model.Startup, error) {
	doc, err := getDocument(ctx, r.store, CollectionStartups, id)
	if err != nil || doc == nil {
		return nil, err
	}
	return startupFromDocument(*doc), nil
}

// ListByOrder は表示順でスタートアップを返す。
func (r *DocStartupRepo) ListByOrder(ctx context.Context) ([]*model.Startup, error) {
	return r.list(ctx, "order")
}

// ListByName は名前順でスタートアップを返す。
func (r *DocStartupRepo) ListByName(ctx context.Context) ([]*model.Startup, error) {
	return r.list(ctx, "name")
}

func (r *DocStartupRepo) list(ctx context.Context, orderBy string) ([]*model.Startup, error) {
	docs, err := r.store.Query(ctx, docstore.Query{Collection: CollectionStartups, OrderBy: orderBy})
	if err != nil {
		return nil, fmt.Errorf("failed to list startups: %w", err)
	}
	return startupsFromDocuments(docs), nil
}

// Upsert はスタートアップを上書き保存する。
func (r *DocStartupRepo) Upsert(ctx context.Context, s *model.Startup) error {
	err := r.store.Set(ctx, CollectionStartups, s.ID, docstore.Fields{
		"name":            s.Name,
		"logo":            s.Logo,
		"description":     s.Description,
		"fullDescription": s.FullDescription,
		"website":         s.Website,
		"linkedin":        s.LinkedIn,
		"industry":        s.Industry,
		"stage":           s.Stage,
		"order":           s.Order,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert startup: %w", err)
	}
	return nil
}

// WatchByOrder は表示順のスタートアップ一覧の変更を購読する。
func (r *DocStartupRepo) WatchByOrder(ctx context.Context, fn func([]*model.Startup)) (docstore.Subscription, error) {
	q := docstore.Query{Collection: CollectionStartups, OrderBy: "order"}
	sub, err := r.store.Subscribe(ctx, q, func(docs []docstore.Document) {
		fn(startupsFromDocuments(docs))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to watch startups: %w", err)
	}
	return sub, nil
}

// compile-time interface check
var _ StartupRepository = (*DocStartupRepo)(nil)
