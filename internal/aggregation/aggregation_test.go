package aggregation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/pitchday/internal/docstore"
	"github.com/hitoshi/pitchday/internal/model"
	"github.com/hitoshi/pitchday/internal/repository"
)

// --- モック定義 ---

type mockMeetingRepo struct {
	repository.MeetingRequestRepository
	listAllFn func(ctx context.Context) ([]*model.MeetingRequest, error)
}

func (m *mockMeetingRepo) ListAll(ctx context.Context) ([]*model.MeetingRequest, error) {
	if m.listAllFn != nil {
		return m.listAllFn(ctx)
	}
	return nil, nil
}

var _ repository.MeetingRequestRepository = (*mockMeetingRepo)(nil)

// --- テストヘルパー ---

type testEnv struct {
	view       *View
	store      *docstore.MemoryStore
	identities *repository.DocIdentityRepo
	votes      *repository.DocVoteRepo
	meetings   *repository.DocMeetingRequestRepo
	startups   *repository.DocStartupRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := docstore.NewMemoryStore()
	env := &testEnv{
		store:      store,
		identities: repository.NewDocIdentityRepo(store),
		votes:      repository.NewDocVoteRepo(store),
		meetings:   repository.NewDocMeetingRequestRepo(store),
		startups:   repository.NewDocStartupRepo(store),
	}
	env.view = NewView(env.identities, env.votes, env.meetings, env.startups, nil)
	return env
}

func (e *testEnv) seedStartups(t *testing.T, startups ...*model.Startup) {
	t.Helper()
	for _, s := range startups {
		if err := e.startups.Upsert(context.Background(), s); err != nil {
			t.Fatalf("failed to seed startup: %v", err)
		}
	}
}

func (e *testEnv) vote(t *testing.T, userID, startupID string) {
	t.Helper()
	if err := e.votes.CreateIfAbsent(context.Background(), &model.Vote{UserID: userID, StartupID: startupID}); err != nil {
		t.Fatalf("failed to seed vote: %v", err)
	}
}

func (e *testEnv) meeting(t *testing.T, userID, startupID string) {
	t.Helper()
	if _, err := e.meetings.Create(context.Background(), &model.MeetingRequest{UserID: userID, StartupID: startupID}); err != nil {
		t.Fatalf("failed to seed meeting request: %v", err)
	}
}

func startupList(ids ...string) []*model.Startup {
	startups := make([]*model.Startup, len(ids))
	for i, id := range ids {
		startups[i] = &model.Startup{ID: id, Name: "Startup " + id, Order: i + 1}
	}
	return startups
}

// --- BuildLeaderboard ---

func TestBuildLeaderboard_CountsAndRanks(t *testing.T) {
	startups := startupList("s1", "s2", "s3")
	votes := []*model.Vote{
		{UserID: "u1", StartupID: "s2"},
		{UserID: "u2", StartupID: "s2"},
		{UserID: "u3", StartupID: "s3"},
		{UserID: "u4", StartupID: "unknown"},
	}

	got := BuildLeaderboard(startups, votes)

	want := []struct {
		id    string
		count int
		rank  int
	}{
		{"s2", 2, 1},
		{"s3", 1, 2},
		{"s1", 0, 3},
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Startup.ID != w.id || got[i].VoteCount != w.count || got[i].Rank != w.rank {
			t.Errorf("entry[%d] = {%s %d %d}, want %+v", i, got[i].Startup.ID, got[i].VoteCount, got[i].Rank, w)
		}
	}
}

func TestBuildLeaderboard_TiesKeepInputOrder(t *testing.T) {
	startups := startupList("c", "a", "b")
	votes := []*model.Vote{
		{UserID: "u1", StartupID: "b"},
		{UserID: "u2", StartupID: "a"},
	}

	got := BuildLeaderboard(startups, votes)

	order := []string{got[0].Startup.ID, got[1].Startup.ID, got[2].Startup.ID}
	if fmt.Sprint(order) != "[a b c]" {
		t.Errorf("order = %v, want [a b c]", order)
	}
}

// 票の合計、順位の連続性、全スタートアップの出現を検証する
func TestBuildLeaderboard_Invariants(t *testing.T) {
	startups := startupList("s1", "s2", "s3", "s4", "s5")
	for n := 0; n < 30; n += 7 {
		var votes []*model.Vote
		for i := range n {
			votes = append(votes, &model.Vote{
				UserID:    fmt.Sprintf("u%d", i),
				StartupID: startups[(i*i)%len(startups)].ID,
			})
		}

		got := BuildLeaderboard(startups, votes)

		total := 0
		seen := map[string]int{}
		for i, e := range got {
			total += e.VoteCount
			seen[e.Startup.ID]++
			if e.Rank != i+1 {
				t.Errorf("n=%d: rank[%d] = %d", n, i, e.Rank)
			}
		}
		if total != n {
			t.Errorf("n=%d: total = %d", n, total)
		}
		for _, s := range startups {
			if seen[s.ID] != 1 {
				t.Errorf("n=%d: startup %s appears %d times", n, s.ID, seen[s.ID])
			}
		}
	}
}

func TestBuildLeaderboard_Empty(t *testing.T) {
	if got := BuildLeaderboard(nil, nil); len(got) != 0 {
		t.Errorf("got %+v", got)
	}
}

// --- Leaderboard / WatchLeaderboard ---

func TestLeaderboard_Snapshot(t *testing.T) {
	env := newTestEnv(t)
	env.seedStartups(t, startupList("s1", "s2")...)
	env.vote(t, "u1", "s1")

	got, err := env.view.Leaderboard(context.Background())
	if err != nil {
		t.Fatalf("Leaderboard returned error: %v", err)
	}
	if got[0].Startup.ID != "s1" || got[0].VoteCount != 1 || got[1].VoteCount != 0 {
		t.Errorf("got %+v", got)
	}
}

func waitForTotal(t *testing.T, updates <-chan []model.LeaderboardEntry, want int) []model.LeaderboardEntry {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case entries := <-updates:
			total := 0
			for _, e := range entries {
				total += e.VoteCount
			}
			if total == want {
				return entries
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %d votes", want)
			return nil
		}
	}
}

func TestWatchLeaderboard_RecomputesOnVote(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	updates := make(chan []model.LeaderboardEntry, 10)
	sub, err := env.view.WatchLeaderboard(ctx, startupList("s1", "s2"), func(entries []model.LeaderboardEntry) {
		updates <- entries
	})
	if err != nil {
		t.Fatalf("WatchLeaderboard returned error: %v", err)
	}
	defer sub.Close()

	waitForTotal(t, updates, 0)
	env.vote(t, "u1", "s2")

	entries := waitForTotal(t, updates, 1)
	if entries[0].Startup.ID != "s2" {
		t.Errorf("leader = %s, want s2", entries[0].Startup.ID)
	}
}

func TestBoard_ResubscribesOnStartupChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedStartups(t, startupList("s1")...)

	updates := make(chan []model.LeaderboardEntry, 20)
	board, err := env.view.NewBoard(ctx, func(entries []model.LeaderboardEntry) {
		updates <- entries
	})
	if err != nil {
		t.Fatalf("NewBoard returned error: %v", err)
	}

	waitForLen(t, updates, 1)
	env.seedStartups(t, &model.Startup{ID: "s2", Name: "Startup s2", Order: 2})
	waitForLen(t, updates, 2)

	// startups(1) + votes(1)
	if n := env.store.ActiveSubscriptions(); n != 2 {
		t.Errorf("active subscriptions = %d, want 2", n)
	}

	if err := board.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	env.vote(t, "u1", "s1")
	select {
	case entries := <-drainThen(updates):
		t.Errorf("delivery after Close: %+v", entries)
	case <-time.After(100 * time.Millisecond):
	}

	waitNoSubscriptions(t, env.store)
}

func waitForLen(t *testing.T, updates <-chan []model.LeaderboardEntry, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case entries := <-updates:
			if len(entries) == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %d entries", want)
		}
	}
}

// drainThen はバッファに残った配信を捨て、以後の配信だけを受け取るチャネルを返す。
func drainThen(updates chan []model.LeaderboardEntry) <-chan []model.LeaderboardEntry {
	for {
		select {
		case <-updates:
		default:
			return updates
		}
	}
}

func waitNoSubscriptions(t *testing.T, store *docstore.MemoryStore) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for store.ActiveSubscriptions() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("active subscriptions = %d, want 0", store.ActiveSubscriptions())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// --- AdminRollup ---

func TestAdminRollup_MergesDuplicateIdentities(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedStartups(t,
		&model.Startup{ID: "s1", Name: "Alpha", Order: 1},
		&model.Startup{ID: "s2", Name: "Beta", Order: 2},
		&model.Startup{ID: "blank", Name: "  ", Order: 3},
	)

	older := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	for _, ident := range []*model.Identity{
		{ID: "alice@x.co", Email: "alice@x.co", Name: "Alice (pre)", Company: "X", LastActive: older, CreatedAt: older},
		{ID: "subject-alice", Email: "Alice@X.co", Name: "Alice", Company: "X", LastActive: newer, CreatedAt: newer},
		{ID: "subject-bob", Email: "bob@y.co", Name: "Bob", Company: "Y", LastActive: older, CreatedAt: older},
	} {
		if err := env.identities.Create(ctx, ident); err != nil {
			t.Fatalf("failed to seed identity: %v", err)
		}
	}

	// 統合前のIDで投票・面談リクエストしたケース
	env.vote(t, "alice@x.co", "s2")
	env.meeting(t, "alice@x.co", "s1")
	env.meeting(t, "subject-alice", "s2")
	env.meeting(t, "subject-bob", "s2")

	rollup, err := env.view.AdminRollup(ctx)
	if err != nil {
		t.Fatalf("AdminRollup returned error: %v", err)
	}

	if len(rollup.Investors) != 2 {
		t.Fatalf("investors = %d, want 2", len(rollup.Investors))
	}
	alice := rollup.Investors[0]
	if alice.ID != "subject-alice" || alice.Name != "Alice" {
		t.Errorf("canonical = %+v, want latest lastActive record first", alice.Identity)
	}
	if alice.MeetingRequestCount != 2 || !alice.HasVoted || alice.DuplicateCount != 1 {
		t.Errorf("alice summary = %+v", alice)
	}
	bob := rollup.Investors[1]
	if bob.MeetingRequestCount != 1 || bob.HasVoted {
		t.Errorf("bob summary = %+v", bob)
	}

	if len(rollup.Startups) != 2 {
		t.Fatalf("startups = %d, want blank name filtered out", len(rollup.Startups))
	}
	if rollup.Startups[0].Startup.ID != "s2" || rollup.Startups[0].MeetingRequestCount != 2 || rollup.Startups[0].VoteCount != 1 {
		t.Errorf("startups[0] = %+v", rollup.Startups[0])
	}
	if rollup.TotalVotes != 1 || rollup.TotalMeetingRequests != 3 {
		t.Errorf("totals = %d/%d", rollup.TotalVotes, rollup.TotalMeetingRequests)
	}
}

func TestAdminRollup_StartupTiesKeepNameOrder(t *testing.T) {
	env := newTestEnv(t)
	env.seedStartups(t,
		&model.Startup{ID: "z", Name: "Zeta", Order: 1},
		&model.Startup{ID: "a", Name: "Alpha", Order: 2},
		&model.Startup{ID: "m", Name: "Mu", Order: 3},
	)
	env.meeting(t, "u1", "m")

	rollup, err := env.view.AdminRollup(context.Background())
	if err != nil {
		t.Fatalf("AdminRollup returned error: %v", err)
	}

	var names []string
	for _, s := range rollup.Startups {
		names = append(names, s.Startup.Name)
	}
	if fmt.Sprint(names) != "[Mu Alpha Zeta]" {
		t.Errorf("order = %v, want [Mu Alpha Zeta]", names)
	}
}

func TestAdminRollup_AnyReadFailureAborts(t *testing.T) {
	env := newTestEnv(t)
	env.seedStartups(t, startupList("s1")...)
	env.view.meetings = &mockMeetingRepo{
		listAllFn: func(context.Context) ([]*model.MeetingRequest, error) {
			return nil, errors.New("permission denied")
		},
	}

	rollup, err := env.view.AdminRollup(context.Background())
	if rollup != nil {
		t.Errorf("partial rollup returned: %+v", rollup)
	}
	if !errors.Is(err, model.ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestAdminRollup_ConcurrentCallsAreIndependent(t *testing.T) {
	env := newTestEnv(t)
	env.seedStartups(t, startupList("s1", "s2")...)
	env.vote(t, "u1", "s1")

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rollup, err := env.view.AdminRollup(context.Background())
			if err != nil || rollup.TotalVotes != 1 {
				t.Errorf("AdminRollup = %+v, %v", rollup, err)
			}
		}()
	}
	wg.Wait()
}
