package gormpersistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"impostor-game/internal/domain"
	gormpersistence "impostor-game/internal/infra/persistence/gorm"
	"impostor-game/internal/infra/setup"
	"impostor-game/internal/repository"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 内存库每个连接独立，只保留一个连接
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, setup.MigrateDB(db))
	return db
}

var base = time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

func finishedGame(id string, ended time.Time) *domain.FinishedGame {
	members := []string{"ana", "bob", "cid"}
	_, results := domain.ScoreGame(members, "cid", "cid")
	return &domain.FinishedGame{
		Record: domain.GameRecord{ID: id, RoomID: "ROOM01", Players: members, EndedAt: ended},
		Events: []domain.GameHistoryEvent{
			{Type: domain.EventMessage, Username: "ana", Content: "hello", Timestamp: base},
			{Type: domain.EventClue, Username: "ana", Content: "sand", Round: 1, Timestamp: base.Add(time.Second)},
			// 与上一条同一时刻
			{Type: domain.EventClue, Username: "bob", Content: "sun", Round: 1, Timestamp: base.Add(time.Second)},
			{Type: domain.EventClue, Username: "cid", Content: "", Round: 1, Timestamp: base.Add(2 * time.Second)},
			{Type: domain.EventVote, Username: "ana", Voter: "ana", Target: "cid", Round: 1, Timestamp: base.Add(3 * time.Second)},
			{Type: domain.EventVote, Username: "bob", Voter: "bob", Target: "cid", Round: 1, Timestamp: base.Add(4 * time.Second)},
		},
		Results: results,
	}
}

func TestHistoryRepository_SaveGameAndRead(t *testing.T) {
	db := newTestDB(t)
	repo := gormpersistence.NewGormHistoryRepository(db)
	ctx := context.Background()
	ended := base.Add(time.Minute)

	require.NoError(t, repo.SaveGame(ctx, finishedGame("g-1", ended)))

	record, err := repo.FindGame(ctx, "g-1")
	require.NoError(t, err)
	assert.Equal(t, "ROOM01", record.RoomID)
	assert.Equal(t, []string{"ana", "bob", "cid"}, record.Players)
	assert.True(t, record.EndedAt.Equal(ended))

	events, err := repo.ListEvents(ctx, "g-1")
	require.NoError(t, err)
	require.Len(t, events, 6)
	assert.Equal(t, domain.EventMessage, events[0].Type)
	for i := 1; i < len(events); i++ {
		assert.True(t, events[i].Timestamp.After(events[i-1].Timestamp), "时间戳必须严格递增")
	}
	assert.Equal(t, "sand", events[1].Content)
	assert.Equal(t, "sun", events[2].Content)

	significant, err := repo.ListSignificantEvents(ctx, "g-1")
	require.NoError(t, err)
	require.Len(t, significant, 5)
	for _, e := range significant {
		assert.True(t, e.Type.IsSignificant())
		assert.Equal(t, "g-1", e.GameID)
	}
}

func TestHistoryRepository_SaveGameIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := gormpersistence.NewGormHistoryRepository(db)
	stats := gormpersistence.NewGormUserStatsRepository(db)
	ctx := context.Background()
	game := finishedGame("g-1", base.Add(time.Minute))

	require.NoError(t, repo.SaveGame(ctx, game))
	require.NoError(t, repo.SaveGame(ctx, game))

	events, err := repo.ListEvents(ctx, "g-1")
	require.NoError(t, err)
	assert.Len(t, events, 6)

	ana, err := stats.FindByUsername(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ana.GamesPlayed, "重试不应重复计分")
}

func TestHistoryRepository_StatsAccumulate(t *testing.T) {
	db := newTestDB(t)
	repo := gormpersistence.NewGormHistoryRepository(db)
	stats := gormpersistence.NewGormUserStatsRepository(db)
	ctx := context.Background()

	// 第一局船员获胜，第二局内鬼获胜
	require.NoError(t, repo.SaveGame(ctx, finishedGame("g-1", base.Add(time.Minute))))
	second := finishedGame("g-2", base.Add(time.Hour))
	_, second.Results = domain.ScoreGame(second.Record.Players, "cid", domain.SkipVote)
	require.NoError(t, repo.SaveGame(ctx, second))

	ana, err := stats.FindByUsername(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, int64(2), ana.GamesPlayed)
	assert.Equal(t, int64(1), ana.WinsAsCrewmate)
	assert.Equal(t, int64(0), ana.WinsAsImpostor)
	assert.Equal(t, int64(domain.CrewmateWinPoints), ana.TotalScore)

	cid, err := stats.FindByUsername(ctx, "cid")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cid.GamesPlayed)
	assert.Equal(t, int64(1), cid.WinsAsImpostor)
	assert.Equal(t, int64(domain.ImpostorWinPoints), cid.TotalScore)

	_, err = stats.FindByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestHistoryRepository_GamesForUserNewestFirst(t *testing.T) {
	db := newTestDB(t)
	repo := gormpersistence.NewGormHistoryRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.SaveGame(ctx, finishedGame("g-old", base.Add(time.Minute))))
	require.NoError(t, repo.SaveGame(ctx, finishedGame("g-new", base.Add(time.Hour))))

	rows, err := repo.ListGamesForUser(ctx, "bob", 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "g-new", rows[0].GameID)
	assert.Equal(t, "g-old", rows[1].GameID)

	rows, err = repo.ListGamesForUser(ctx, "bob", 1, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "g-old", rows[0].GameID)

	rows, err = repo.ListGamesForUser(ctx, "nobody", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestHistoryRepository_FindGameNotFound(t *testing.T) {
	repo := gormpersistence.NewGormHistoryRepository(newTestDB(t))

	_, err := repo.FindGame(context.Background(), "missing")

	assert.ErrorIs(t, err, repository.ErrGameNotFound)
}

func TestHistoryRepository_ListEventsInRange(t *testing.T) {
	repo := gormpersistence.NewGormHistoryRepository(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.SaveGame(ctx, finishedGame("g-1", base.Add(time.Minute))))
	require.NoError(t, repo.SaveGame(ctx, finishedGame("g-2", base.Add(time.Hour))))
	// 同一时刻的第二条线索被顺延 1µs
	bobClue := base.Add(time.Second + time.Microsecond)
	firstVote := base.Add(3 * time.Second)

	all, err := repo.ListEventsInRange(ctx, "g-1", repository.EventRange{})
	require.NoError(t, err)
	assert.Len(t, all, 6)

	from, err := repo.ListEventsInRange(ctx, "g-1", repository.EventRange{From: &bobClue, Limit: 2})
	require.NoError(t, err)
	require.Len(t, from, 2)
	assert.Equal(t, "sun", from[0].Content)
	assert.True(t, from[0].Timestamp.Equal(bobClue))
	assert.Equal(t, domain.EventClue, from[1].Type)
	assert.Equal(t, "cid", from[1].Username)

	between, err := repo.ListEventsInRange(ctx, "g-1", repository.EventRange{From: &bobClue, To: &firstVote})
	require.NoError(t, err)
	require.Len(t, between, 3)
	assert.Equal(t, domain.EventVote, between[2].Type)

	after, err := repo.ListEventsInRange(ctx, "g-1", repository.EventRange{After: &firstVote})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "bob", after[0].Voter)
	assert.Equal(t, "g-1", after[0].GameID)
}

func TestHistoryRepository_FindSignificantFrom(t *testing.T) {
	repo := gormpersistence.NewGormHistoryRepository(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.SaveGame(ctx, finishedGame("g-1", base.Add(time.Minute))))

	first, err := repo.FindSignificantFrom(ctx, "g-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "sand", first.Content, "开头的聊天消息不是检查点")

	cursor := base.Add(2*time.Second + time.Millisecond)
	vote, err := repo.FindSignificantFrom(ctx, "g-1", &cursor)
	require.NoError(t, err)
	assert.Equal(t, domain.EventVote, vote.Type)
	assert.Equal(t, "ana", vote.Voter)

	// 游标正好落在检查点上时包含它
	exact := base.Add(4 * time.Second)
	last, err := repo.FindSignificantFrom(ctx, "g-1", &exact)
	require.NoError(t, err)
	assert.Equal(t, "bob", last.Voter)

	end := base.Add(5 * time.Second)
	_, err = repo.FindSignificantFrom(ctx, "g-1", &end)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.FindSignificantFrom(ctx, "missing", nil)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
