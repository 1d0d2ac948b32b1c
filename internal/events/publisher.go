// Package events は投票・面談リクエストのイベントをNATSへ配信する。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hitoshi/pitchday/internal/model"
)

// サブジェクトの末尾。先頭にはプレフィックスが付く。
const (
	SubjectVoteCast       = "votes.cast"
	SubjectMeetingToggled = "meetings.toggled"
)

// VoteCastEvent は投票イベントのペイロード。
type VoteCastEvent struct {
	UserID    string    `json:"userId"`
	StartupID string    `json:"startupId"`
	CastAt    time.Time `json:"castAt"`
}

// MeetingToggledEvent は面談リクエスト切り替えイベントのペイロード。
type MeetingToggledEvent struct {
	UserID    string    `json:"userId"`
	StartupID string    `json:"startupId"`
	Requested bool      `json:"requested"`
	ToggledAt time.Time `json:"toggledAt"`
}

// NATSPublisher はNATSのコア配信でイベントを送る。
type NATSPublisher struct {
	conn    *nats.Conn
	prefix  string
	publish func(subject string, data []byte) error
	now     func() time.Time
}

// NewNATSPublisher はNATSへ接続してNATSPublisherを生成する。
func NewNATSPublisher(url, prefix string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NATSPublisher{
		conn:    nc,
		prefix:  prefix,
		publish: nc.Publish,
		now:     time.Now,
	}, nil
}

// Close は未送信のメッセージを送り切ってから接続を閉じる。
func (p *NATSPublisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// PublishVoteCast は投票イベントを送る。
func (p *NATSPublisher) PublishVoteCast(ctx context.Context, vote *model.Vote) error {
	castAt := vote.CreatedAt
	if castAt.IsZero() {
		castAt = p.now()
	}
	return p.send(ctx, SubjectVoteCast, VoteCastEvent{
		UserID:    vote.UserID,
		StartupID: vote.StartupID,
		CastAt:    castAt.UTC(),
	})
}

// PublishMeetingToggled は面談リクエスト切り替えイベントを送る。
func (p *NATSPublisher) PublishMeetingToggled(ctx context.Context, userID, startupID string, requested bool) error {
	return p.send(ctx, SubjectMeetingToggled, MeetingToggledEvent{
		UserID:    userID,
		StartupID: startupID,
		Requested: requested,
		ToggledAt: p.now().UTC(),
	})
}

// Subject はプレフィックス付きのサブジェクト名を返す。
func (p *NATSPublisher) Subject(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + "." + name
}

func (p *NATSPublisher) send(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := p.publish(p.Subject(name), data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", name, err)
	}
	return nil
}
