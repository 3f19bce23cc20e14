package redisstate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
	"github.com/lsiswin/RecyclingApi-sub001/internal/dto"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStateRepository_PresenceWindow(t *testing.T) {
	ctx := context.Background()
	repo := NewRedisStateRepository(newTestClient(t), "test:")
	now := time.Unix(1_700_000_000, 0)
	since := now.Add(-90 * time.Second)

	require.NoError(t, repo.MarkOnline(ctx, domain.StaffPeer("stale"), now.Add(-100*time.Second)))
	require.NoError(t, repo.MarkOnline(ctx, domain.StaffPeer("edge"), since))
	require.NoError(t, repo.MarkOnline(ctx, domain.StaffPeer("fresh"), now.Add(-10*time.Second)))
	require.NoError(t, repo.MarkOnline(ctx, domain.VisitorPeer("v1"), now))

	ids, err := repo.ListOnline(ctx, domain.RoleStaff, since)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"edge", "fresh"}, ids, "心跳恰好等于下限仍算在线")

	count, err := repo.CountOnline(ctx, domain.RoleStaff, since)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	online, err := repo.IsOnline(ctx, domain.StaffPeer("stale"), since)
	require.NoError(t, err)
	assert.False(t, online)
	online, err = repo.IsOnline(ctx, domain.StaffPeer("edge"), since)
	require.NoError(t, err)
	assert.True(t, online)
	online, err = repo.IsOnline(ctx, domain.StaffPeer("unknown"), since)
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, repo.MarkOffline(ctx, domain.StaffPeer("fresh")))
	ids, err = repo.ListOnline(ctx, domain.RoleStaff, since)
	require.NoError(t, err)
	assert.Equal(t, []string{"edge"}, ids)
}

func TestRedisStateRepository_PurgeStale_KeepsBoundary(t *testing.T) {
	ctx := context.Background()
	repo := NewRedisStateRepository(newTestClient(t), "test:")
	before := time.Unix(1_700_000_000, 0)

	require.NoError(t, repo.MarkOnline(ctx, domain.StaffPeer("old"), before.Add(-time.Second)))
	require.NoError(t, repo.MarkOnline(ctx, domain.StaffPeer("edge"), before))
	require.NoError(t, repo.MarkOnline(ctx, domain.StaffPeer("new"), before.Add(time.Second)))

	removed, err := repo.PurgeStale(ctx, domain.RoleStaff, before)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	ids, err := repo.ListOnline(ctx, domain.RoleStaff, time.Unix(0, 0))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"edge", "new"}, ids)
}

func TestRedisStateRepository_RecentMessages(t *testing.T) {
	ctx := context.Background()
	repo := NewRedisStateRepository(newTestClient(t), "test:")

	for i := 0; i < recentMessagesLimit+5; i++ {
		require.NoError(t, repo.PushRecentMessage(ctx, domain.ChatMessage{
			ID:        fmt.Sprintf("m%d", i),
			SessionID: "sess-1",
			Content:   "hi",
		}))
	}

	all, err := repo.GetRecentMessages(ctx, "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, all, recentMessagesLimit, "只保留最近的消息")
	assert.Equal(t, "m5", all[0].ID)
	assert.Equal(t, fmt.Sprintf("m%d", recentMessagesLimit+4), all[len(all)-1].ID)

	last, err := repo.GetRecentMessages(ctx, "sess-1", 3)
	require.NoError(t, err)
	require.Len(t, last, 3)
	assert.Equal(t, fmt.Sprintf("m%d", recentMessagesLimit+2), last[0].ID)

	require.NoError(t, repo.DropRecentMessages(ctx, "sess-1"))
	all, err = repo.GetRecentMessages(ctx, "sess-1", 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRedisStateRepository_Counters(t *testing.T) {
	ctx := context.Background()
	repo := NewRedisStateRepository(newTestClient(t), "test:")

	require.NoError(t, repo.IncrementCounter(ctx, "2026-10-17", domain.CounterSessions))
	require.NoError(t, repo.IncrementCounter(ctx, "2026-10-17", domain.CounterSessions))
	require.NoError(t, repo.IncrementCounter(ctx, "2026-10-16", domain.CounterSessions))

	counters, err := repo.GetCounters(ctx, "2026-10-17")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{domain.CounterSessions: 2}, counters)

	empty, err := repo.GetCounters(ctx, "2026-10-15")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRedisRelay_IgnoresOwnFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := newTestClient(t)
	local := NewRedisRelay(client, "test:")
	remote := NewRedisRelay(client, "test:")

	received := make(chan dto.Outbound, 4)
	require.NoError(t, local.Subscribe(ctx, "node-a", func(out dto.Outbound) { received <- out }))
	t.Cleanup(func() { _ = local.Close() })

	own := dto.To(dto.Frame{Type: dto.OutTyping, SessionID: "own"}, domain.StaffPeer("s1"))
	other := dto.To(dto.Frame{Type: dto.OutMessage, SessionID: "other"}, domain.StaffPeer("s1"))
	require.NoError(t, local.Publish(ctx, "node-a", own))
	require.NoError(t, remote.Publish(ctx, "node-b", other))

	select {
	case out := <-received:
		assert.Equal(t, "other", out.Frame.SessionID)
		assert.Equal(t, []domain.Peer{domain.StaffPeer("s1")}, out.To)
	case <-time.After(time.Second):
		t.Fatal("frame from another node was not delivered")
	}
	select {
	case out := <-received:
		t.Fatalf("unexpected frame from own node: %+v", out)
	case <-time.After(50 * time.Millisecond):
	}
}
