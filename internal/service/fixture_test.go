package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"impostor-game/internal/domain"
	redisstate "impostor-game/internal/infra/state/redis"
	"impostor-game/internal/repository"
	"impostor-game/internal/repository/mocks"
	"impostor-game/internal/service"
)

// fakeClock 手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// picks 按顺序返回预设的随机数
func picks(values ...int) func(int) int {
	var mu sync.Mutex
	i := 0
	return func(n int) int {
		mu.Lock()
		defer mu.Unlock()
		v := values[i%len(values)]
		i++
		return v % n
	}
}

type fixture struct {
	ctx      context.Context
	mr       *miniredis.Miniredis
	keys     redisstate.Keys
	clock    *fakeClock
	rooms    repository.RoomStateRepository
	players  repository.PresenceRepository
	locker   repository.RoomLocker
	history  *mocks.HistoryRepository
	words    *mocks.WordRepository
	bc       *mocks.RecordingBroadcaster
	game     *service.GameService
	presence *service.PresenceService
}

// newFixture 用 miniredis 上的真实 Redis 存储，历史和词库使用 mock。
func newFixture(t *testing.T, history repository.HistoryRepository) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := newFakeClock()
	rooms := redisstate.NewRedisRoomStore(client, "").WithClock(clock.Now)
	presenceStore := redisstate.NewRedisPresenceStore(client, "")
	locker := redisstate.NewRedisRoomLocker(client, "", time.Second)
	bc := mocks.NewRecordingBroadcaster()

	f := &fixture{
		ctx:     context.Background(),
		mr:      mr,
		keys:    redisstate.NewKeys(""),
		clock:   clock,
		rooms:   rooms,
		players: presenceStore,
		locker:  locker,
		history: new(mocks.HistoryRepository),
		words:   new(mocks.WordRepository),
		bc:      bc,
	}
	f.words.On("RandomWord", mock.Anything).Return("lighthouse", nil).Maybe()
	if history == nil {
		history = f.history
	}

	f.game = service.NewGameService(rooms, presenceStore, history, f.words, locker, bc, service.DefaultGameConfig()).
		WithClock(clock.Now).
		WithRandom(picks(0)).
		WithIDGenerator(func() string { return "game-1" })
	f.presence = service.NewPresenceService(rooms, presenceStore, locker, bc, service.DefaultPresenceConfig()).
		WithClock(clock.Now)
	return f
}

// roomWith 创建房间并按顺序加入玩家，第一个加入的是房主。
// userID 为 "u-<name>"，connID 为 "c-<name>"。
func (f *fixture) roomWith(t *testing.T, names ...string) string {
	t.Helper()
	roomID, err := f.presence.CreateRoom(f.ctx)
	require.NoError(t, err)
	for _, name := range names {
		f.clock.Advance(time.Second)
		_, err := f.presence.Join(f.ctx, roomID, "u-"+name, name, "c-"+name)
		require.NoError(t, err)
	}
	return roomID
}

func (f *fixture) phase(t *testing.T, roomID string) *domain.PhaseState {
	t.Helper()
	ps, err := f.rooms.GetPhase(f.ctx, roomID)
	require.NoError(t, err)
	return ps
}

func (f *fixture) round(t *testing.T, roomID string) int {
	t.Helper()
	round, err := f.rooms.GetRoundNumber(f.ctx, roomID)
	require.NoError(t, err)
	return round
}

// expire 推进时钟到当前阶段结束并强制推进。
func (f *fixture) expire(t *testing.T, roomID string) {
	t.Helper()
	ps := f.phase(t, roomID)
	token := domain.PhaseToken{Phase: ps.Phase, Round: f.round(t, roomID)}
	f.clock.Advance(ps.Duration)
	require.NoError(t, f.game.ForceAdvance(f.ctx, roomID, token))
}

func (f *fixture) lastState(t *testing.T) *domain.GameState {
	t.Helper()
	b, ok := f.bc.Last(service.EventGameState)
	require.True(t, ok, "应已推送 GameState")
	state, ok := b.Payload.(*domain.GameState)
	require.True(t, ok)
	return state
}
