package model

import "time"

// Startup はピッチに登壇するスタートアップを表す。
type Startup struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Logo            string `json:"logo,omitempty"`
	Description     string `json:"description,omitempty"`
	FullDescription string `json:"fullDescription,omitempty"`
	Website         string `json:"website,omitempty"`
	LinkedIn        string `json:"linkedin,omitempty"`
	Industry        string `json:"industry,omitempty"`
	Stage           string `json:"stage,omitempty"`
	Order           int    `json:"order"`
}

// Vote は投資家1人につき1件の投票を表す。IDは投資家IDと同じ。
type Vote struct {
	UserID    string    `json:"userId"`
	StartupID string    `json:"startupId"`
	CreatedAt time.Time `json:"createdAt"`
}

// MeetingRequest は投資家からスタートアップへの面談リクエストを表す。
type MeetingRequest struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	StartupID string    `json:"startupId"`
	CreatedAt time.Time `json:"createdAt"`
}

// MeetingRequestWithStartup は面談リクエストと対象スタートアップの組。
type MeetingRequestWithStartup struct {
	MeetingRequest
	Startup Startup `json:"startup"`
}

// LeaderboardEntry はリーダーボードの1行を表す。
type LeaderboardEntry struct {
	Startup   Startup `json:"startup"`
	VoteCount int     `json:"voteCount"`
	Rank      int     `json:"rank"`
}

// InvestorSummary は管理画面の投資家行を表す。
// 同一メールアドレスの複数レコードを1行にまとめたもの。
type InvestorSummary struct {
	Identity
	MeetingRequestCount int  `json:"meetingRequestCount"`
	HasVoted            bool `json:"hasVoted"`
	DuplicateCount      int  `json:"duplicateCount"`
}

// StartupStats は管理画面のスタートアップ行を表す。
type StartupStats struct {
	Startup             Startup `json:"startup"`
	VoteCount           int     `json:"voteCount"`
	MeetingRequestCount int     `json:"meetingRequestCount"`
}

// Rollup は管理画面の集計結果を表す。
type Rollup struct {
	Investors            []InvestorSummary `json:"investors"`
	Startups             []StartupStats    `json:"startups"`
	TotalVotes           int               `json:"totalVotes"`
	TotalMeetingRequests int               `json:"totalMeetingRequests"`
	GeneratedAt          time.Time         `json:"generatedAt"`
}
