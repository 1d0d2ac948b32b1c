package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/pitchday/internal/docstore"
	"github.com/hitoshi/pitchday/internal/model"
)

// コレクション名
const (
	CollectionUsers           = "users"
	CollectionVotes           = "votes"
	CollectionMeetingRequests = "meetingRequests"
	CollectionStartups        = "startups"
	CollectionAuthAccounts    = "authAccounts"
	CollectionLoginLinks      = "loginLinks"
	CollectionSessions        = "sessions"
)

// timestampOrServer はゼロ値の時刻をServerTimestampに置き換える。
func timestampOrServer(t time.Time) any {
	if t.IsZero() {
		return docstore.ServerTimestamp
	}
	return t
}

// getDocument はキーでドキュメントを取得する。見つからない場合はnilを返す。
func getDocument(ctx context.Context, store docstore.Store, collection, key string) (*docstore.Document, error) {
	doc, err := store.Get(ctx, collection, key)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", collection, err)
	}
	return doc, nil
}

// deleteIgnoringMissing はドキュメントを削除する。既に存在しない場合はエラーにしない。
func deleteIgnoringMissing(ctx context.Context, store docstore.Store, collection, key string) error {
	err := store.Delete(ctx, collection, key)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("failed to delete %s: %w", collection, err)
	}
	return nil
}

// deleteAll はコレクションのドキュメントをすべて削除し、削除件数を返す。
func deleteAll(ctx context.Context, store docstore.Store, collection string) (int, error) {
	docs, err := store.Query(ctx, docstore.Query{Collection: collection})
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	deleted := 0
	for _, doc := range docs {
		err := store.Delete(ctx, collection, doc.Key)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return deleted, fmt.Errorf("failed to delete %s: %w", collection, err)
		}
		deleted++
	}
	return deleted, nil
}

func identityFromDocument(doc docstore.Document) *model.Identity {
	return &model.Identity{
		ID:         doc.Key,
		Email:      doc.Fields.String("email"),
		Name:       doc.Fields.String("name"),
		Company:    doc.Fields.String("company"),
		CreatedAt:  doc.Fields.Time("createdAt"),
		LastActive: doc.Fields.Time("lastActive"),
	}
}

func voteFromDocument(doc docstore.Document) *model.Vote {
	userID := doc.Fields.String("userId")
	if userID == "" {
		userID = doc.Key
	}
	return &model.Vote{
		UserID:    userID,
		StartupID: doc.Fields.String("startupId"),
		CreatedAt: doc.Fields.Time("createdAt"),
	}
}

func meetingRequestFromDocument(doc docstore.Document) *model.MeetingRequest {
	return &model.MeetingRequest{
		ID:        doc.Key,
		UserID:    doc.Fields.String("userId"),
		StartupID: doc.Fields.String("startupId"),
		CreatedAt: doc.Fields.Time("createdAt"),
	}
}

func startupFromDocument(doc docstore.Document) *model.Startup {
	return &model.Startup{
		ID:              doc.Key,
		Name:            doc.Fields.String("name"),
		Logo:            doc.Fields.String("logo"),
		Description:     doc.Fields.String("description"),
		FullDescription: doc.Fields.String("fullDescription"),
		Website:         doc.Fields.String("website"),
		LinkedIn:        doc.Fields.String("linkedin"),
		Industry:        doc.Fields.String("industry"),
		Stage:           doc.Fields.String("stage"),
		Order:           doc.Fields.Int("order"),
	}
}

func startupsFromDocuments(docs []docstore.Document) []*model.Startup {
	out := make([]*model.Startup, 0, len(docs))
	for _, d := range docs {
		out = append(out, startupFromDocument(d))
	}
	return out
}

func votesFromDocuments(docs []docstore.Document) []*model.Vote {
	out := make([]*model.Vote, 0, len(docs))
	for _, d := range docs {
		out = append(out, voteFromDocument(d))
	}
	return out
}

func meetingRequestsFromDocuments(docs []docstore.Document) []*model.MeetingRequest {
	out := make([]*model.MeetingRequest, 0, len(docs))
	for _, d := range docs {
		out = append(out, meetingRequestFromDocument(d))
	}
	return out
}

func isNotFound(err error) bool {
	return errors.Is(err, docstore.ErrNotFound)
}
