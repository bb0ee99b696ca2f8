package redisstate_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"impostor-game/internal/domain"
	redisstate "impostor-game/internal/infra/state/redis"
	"impostor-game/internal/repository"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRoomStore_CreateRoom(t *testing.T) {
	_, client := newTestClient(t)
	store := redisstate.NewRedisRoomStore(client, "")
	ctx := context.Background()

	require.NoError(t, store.CreateRoom(ctx, "ABC123"))
	exists, err := store.RoomExists(ctx, "ABC123")
	require.NoError(t, err)
	assert.True(t, exists)

	// 重复创建
	assert.ErrorIs(t, store.CreateRoom(ctx, "ABC123"), repository.ErrDuplicateEntry)

	exists, err = store.RoomExists(ctx, "NOPE00")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRoomStore_SettingsRoundTrip(t *testing.T) {
	_, client := newTestClient(t)
	store := redisstate.NewRedisRoomStore(client, "t:")
	ctx := context.Background()
	started := time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

	_, err := store.GetSettings(ctx, "R1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	settings := domain.GameSettings{
		GameID:       "g-1",
		MaxRounds:    3,
		PerTurn:      45 * time.Second,
		FirstPlayer:  "bob",
		ImpostorName: "cid",
		SecretWord:   "lighthouse",
		StartedAt:    started,
	}
	require.NoError(t, store.SetMembers(ctx, "R1", []string{"cid", "ana", "bob"}))
	require.NoError(t, store.SetStartingSettings(ctx, "R1", settings))

	got, err := store.GetSettings(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, settings, *got)

	members, err := store.GetMembers(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ana", "bob", "cid"}, members)

	first, err := store.GetFirstPlayer(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "bob", first)
	maxRounds, err := store.GetMaxRounds(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, 3, maxRounds)
	perTurn, err := store.GetPerTurnSeconds(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, 45, perTurn)
	impostor, err := store.GetImpostorName(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "cid", impostor)

	round, err := store.GetRoundNumber(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, 1, round)
	round, err = store.IncrementRound(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, 2, round)
}

func TestRoomStore_Phase(t *testing.T) {
	_, client := newTestClient(t)
	now := time.Date(2025, 3, 1, 18, 0, 0, 123456789, time.UTC)
	store := redisstate.NewRedisRoomStore(client, "").WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, err := store.GetPhase(ctx, "R1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	set, err := store.SetPhase(ctx, "R1", domain.PhaseVoting, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, now.Truncate(time.Microsecond), set.StartedAt)

	got, err := store.GetPhase(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, *set, *got)
	assert.Equal(t, now.Truncate(time.Microsecond).Add(30*time.Second), got.EndsAt())
}

func TestRoomStore_TurnAndEjected(t *testing.T) {
	_, client := newTestClient(t)
	store := redisstate.NewRedisRoomStore(client, "")
	ctx := context.Background()

	_, err := store.GetCurrentTurnPlayer(ctx, "R1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	require.NoError(t, store.SetCurrentTurnPlayer(ctx, "R1", "ana"))
	turn, err := store.GetCurrentTurnPlayer(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "ana", turn)

	ejected, err := store.GetEjectedPlayer(ctx, "R1")
	require.NoError(t, err)
	assert.Empty(t, ejected)
	require.NoError(t, store.SetEjectedPlayer(ctx, "R1", "bob"))
	ejected, err = store.GetEjectedPlayer(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "bob", ejected)
	require.NoError(t, store.SetEjectedPlayer(ctx, "R1", ""))
	ejected, err = store.GetEjectedPlayer(ctx, "R1")
	require.NoError(t, err)
	assert.Empty(t, ejected)
}

func voteEvent(voter, target string, round int) domain.GameHistoryEvent {
	return domain.GameHistoryEvent{
		Type: domain.EventVote, Username: voter, Voter: voter, Target: target, Round: round,
		Timestamp: time.Date(2025, 3, 1, 18, 0, round, 0, time.UTC),
	}
}

func TestRoomStore_VotesAreWriteOnce(t *testing.T) {
	_, client := newTestClient(t)
	store := redisstate.NewRedisRoomStore(client, "")
	ctx := context.Background()

	ok, err := store.RecordVote(ctx, "R1", 1, "ana", "bob", voteEvent("ana", "bob", 1))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.RecordVote(ctx, "R1", 1, "ana", "cid", voteEvent("ana", "cid", 1))
	require.NoError(t, err)
	assert.False(t, ok, "第二票不应覆盖第一票")

	// 不同回合互不影响
	ok, err = store.RecordVote(ctx, "R1", 2, "ana", "cid", voteEvent("ana", "cid", 2))
	require.NoError(t, err)
	assert.True(t, ok)

	votes, err := store.GetVotes(ctx, "R1", 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"ana": "bob"}, votes)

	// 被拒绝的重复票不进入历史
	history, err := store.GetHistory(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, []domain.GameHistoryEvent{voteEvent("ana", "bob", 1), voteEvent("ana", "cid", 2)}, history)

	require.NoError(t, store.ClearVotes(ctx, "R1", 1))
	votes, err = store.GetVotes(ctx, "R1", 1)
	require.NoError(t, err)
	assert.Empty(t, votes)
}

func TestRoomStore_RecordVoteWritesNothingOnFailure(t *testing.T) {
	mr, client := newTestClient(t)
	store := redisstate.NewRedisRoomStore(client, "")
	keys := redisstate.NewKeys("")
	ctx := context.Background()

	// 历史缓冲被占用为错误的类型
	require.NoError(t, mr.Set(keys.History("R1"), "corrupt"))

	ok, err := store.RecordVote(ctx, "R1", 1, "ana", "bob", voteEvent("ana", "bob", 1))
	require.Error(t, err)
	assert.False(t, ok)
	votes, err := store.GetVotes(ctx, "R1", 1)
	require.NoError(t, err)
	assert.Empty(t, votes, "历史写入失败时不应计票")

	// 修复后重试成功
	mr.Del(keys.History("R1"))
	ok, err = store.RecordVote(ctx, "R1", 1, "ana", "bob", voteEvent("ana", "bob", 1))
	require.NoError(t, err)
	assert.True(t, ok)
	history, err := store.GetHistory(ctx, "R1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRoomStore_RecordClue(t *testing.T) {
	_, client := newTestClient(t)
	now := time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)
	store := redisstate.NewRedisRoomStore(client, "").WithClock(func() time.Time { return now })
	ctx := context.Background()
	clue := domain.GameHistoryEvent{Type: domain.EventClue, Username: "ana", Content: "wave", Round: 1, Timestamp: now}

	require.NoError(t, store.SetCurrentTurnPlayer(ctx, "R1", "ana"))
	state, err := store.RecordClue(ctx, "R1", clue, "bob", domain.PhaseInProgress, 20*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseInProgress, state.Phase)

	turn, err := store.GetCurrentTurnPlayer(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "bob", turn)
	got, err := store.GetPhase(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, *state, *got)

	// nextTurn 为空时发言人不变
	state, err = store.RecordClue(ctx, "R1", clue, "", domain.PhaseVoting, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseVoting, state.Phase)
	turn, err = store.GetCurrentTurnPlayer(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "bob", turn)

	history, err := store.GetHistory(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, []domain.GameHistoryEvent{clue, clue}, history)
}

func TestRoomStore_RecordClueWritesNothingOnFailure(t *testing.T) {
	mr, client := newTestClient(t)
	store := redisstate.NewRedisRoomStore(client, "")
	keys := redisstate.NewKeys("")
	ctx := context.Background()
	clue := domain.GameHistoryEvent{Type: domain.EventClue, Username: "ana", Content: "wave", Round: 1}

	_, err := store.SetPhase(ctx, "R1", domain.PhaseInProgress, 20*time.Second)
	require.NoError(t, err)
	require.NoError(t, store.SetCurrentTurnPlayer(ctx, "R1", "ana"))
	// 阶段之后的键类型错误：前面的写入也不能发生
	mr.Del(keys.Phase("R1"))
	_, err = mr.Lpush(keys.Phase("R1"), "corrupt")
	require.NoError(t, err)

	_, err = store.RecordClue(ctx, "R1", clue, "bob", domain.PhaseInProgress, 20*time.Second)
	require.Error(t, err)

	turn, err := store.GetCurrentTurnPlayer(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "ana", turn)
	history, err := store.GetHistory(ctx, "R1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRoomStore_StartingSettingsClearPreviousGame(t *testing.T) {
	_, client := newTestClient(t)
	store := redisstate.NewRedisRoomStore(client, "")
	ctx := context.Background()

	_, err := store.RecordVote(ctx, "R1", 2, "ana", "bob", voteEvent("ana", "bob", 2))
	require.NoError(t, err)
	require.NoError(t, store.SetEjectedPlayer(ctx, "R1", "bob"))

	require.NoError(t, store.SetStartingSettings(ctx, "R1", domain.GameSettings{
		GameID: "g-2", MaxRounds: 2, PerTurn: 10 * time.Second, FirstPlayer: "ana", ImpostorName: "cid",
		SecretWord: "moon", StartedAt: time.Date(2025, 3, 1, 19, 0, 0, 0, time.UTC),
	}))

	history, err := store.GetHistory(ctx, "R1")
	require.NoError(t, err)
	assert.Empty(t, history)
	votes, err := store.GetVotes(ctx, "R1", 2)
	require.NoError(t, err)
	assert.Empty(t, votes)
	ejected, err := store.GetEjectedPlayer(ctx, "R1")
	require.NoError(t, err)
	assert.Empty(t, ejected)
}

func TestRoomStore_HistoryPreservesOrder(t *testing.T) {
	_, client := newTestClient(t)
	store := redisstate.NewRedisRoomStore(client, "")
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

	events := []domain.GameHistoryEvent{
		{Type: domain.EventMessage, Username: "ana", Content: "hi", Timestamp: base},
		{Type: domain.EventClue, Username: "bob", Content: "wave", Round: 1, Timestamp: base.Add(time.Second)},
		{Type: domain.EventVote, Username: "cid", Voter: "cid", Target: "bob", Round: 1, Timestamp: base.Add(2 * time.Second)},
	}
	for _, e := range events {
		require.NoError(t, store.AppendHistoryEvent(ctx, "R1", e))
	}

	got, err := store.GetHistory(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, events, got)
}

func TestRoomStore_DeleteAndExpiry(t *testing.T) {
	mr, client := newTestClient(t)
	store := redisstate.NewRedisRoomStore(client, "")
	keys := redisstate.NewKeys("")
	ctx := context.Background()

	require.NoError(t, store.CreateRoom(ctx, "R1"))
	require.NoError(t, store.SetCurrentTurnPlayer(ctx, "R1", "ana"))
	_, err := store.RecordVote(ctx, "R1", 1, "ana", "bob", voteEvent("ana", "bob", 1))
	require.NoError(t, err)

	require.NoError(t, store.ExpireAfter(ctx, "R1", 30*time.Minute))
	assert.Equal(t, 30*time.Minute, mr.TTL(keys.Meta("R1")))
	assert.Equal(t, 30*time.Minute, mr.TTL(keys.Votes("R1", 1)))

	require.NoError(t, store.CancelExpiry(ctx, "R1"))
	assert.Zero(t, mr.TTL(keys.Meta("R1")))

	require.NoError(t, store.ExpireAfter(ctx, "R1", time.Minute))
	mr.FastForward(2 * time.Minute)
	exists, err := store.RoomExists(ctx, "R1")
	require.NoError(t, err)
	assert.False(t, exists, "TTL 到期后房间应消失")

	require.NoError(t, store.CreateRoom(ctx, "R2"))
	require.NoError(t, store.Delete(ctx, "R2"))
	exists, err = store.RoomExists(ctx, "R2")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRoomStore_StateSequenceIsMonotonic(t *testing.T) {
	_, client := newTestClient(t)
	store := redisstate.NewRedisRoomStore(client, "")
	ctx := context.Background()

	var last int64
	for i := 0; i < 3; i++ {
		seq, err := store.NextStateSequence(ctx, "R1")
		require.NoError(t, err)
		assert.Greater(t, seq, last)
		last = seq
	}
}

func TestRoomStore_ListGameRooms(t *testing.T) {
	_, client := newTestClient(t)
	store := redisstate.NewRedisRoomStore(client, "ig:")
	ctx := context.Background()

	rooms, err := store.ListGameRooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)

	// 只有已开局的房间有阶段 key
	require.NoError(t, store.CreateRoom(ctx, "LOBBY1"))
	_, err = store.SetPhase(ctx, "ZZZ999", domain.PhaseVoting, 30*time.Second)
	require.NoError(t, err)
	_, err = store.SetPhase(ctx, "AAA111", domain.PhaseInProgress, 30*time.Second)
	require.NoError(t, err)
	require.NoError(t, client.Set(ctx, "other:room:X:phase", "1", 0).Err())

	rooms, err = store.ListGameRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA111", "ZZZ999"}, rooms)
}

func TestKeys_RoomIDFromPhaseKey(t *testing.T) {
	keys := redisstate.NewKeys("ig:")

	roomID, ok := keys.RoomIDFromPhaseKey(keys.Phase("ABC123"))
	assert.True(t, ok)
	assert.Equal(t, "ABC123", roomID)

	for _, key := range []string{keys.Turn("ABC123"), "room:ABC123:phase", "ig:room::phase"} {
		_, ok := keys.RoomIDFromPhaseKey(key)
		assert.False(t, ok, key)
	}
}
