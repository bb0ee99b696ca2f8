package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"impostor-game/internal/domain"
	handlerhttp "impostor-game/internal/handler/http"
	redisstate "impostor-game/internal/infra/state/redis"
	"impostor-game/internal/repository"
	"impostor-game/internal/repository/mocks"
	"impostor-game/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var t0 = time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

func historyRouter(history *mocks.HistoryRepository, stats *mocks.UserStatsRepository) *gin.Engine {
	h := handlerhttp.NewHistoryHandler(service.NewReplayService(history, stats))
	r := gin.New()
	r.GET("/api/users/:username/history", h.ListUserGames)
	r.GET("/api/users/:username/stats", h.UserStats)
	r.GET("/api/games/:gameId", h.FullGame)
	r.GET("/api/games/:gameId/next", h.NextAny)
	r.GET("/api/games/:gameId/next-significant", h.NextSignificant)
	r.GET("/api/games/:gameId/checkpoints", h.Checkpoints)
	return r
}

func get(r *gin.Engine, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func gameEvents() []domain.GameHistoryEvent {
	return []domain.GameHistoryEvent{
		{GameID: "g1", Type: domain.EventMessage, Username: "ana", Content: "hi", Round: 1, Timestamp: t0},
		{GameID: "g1", Type: domain.EventClue, Username: "bob", Content: "hot", Round: 1, Timestamp: t0.Add(time.Second)},
		{GameID: "g1", Type: domain.EventVote, Username: "ana", Voter: "ana", Target: "bob", Round: 1, Timestamp: t0.Add(2 * time.Second)},
	}
}

func TestHistoryHandler_NextSignificantWalksCursor(t *testing.T) {
	// Arrange
	history := new(mocks.HistoryRepository)
	events := gameEvents()
	clueAt, voteAt := events[1].Timestamp, events[2].Timestamp
	history.On("FindGame", mock.Anything, "g1").Return(&domain.GameRecord{ID: "g1", RoomID: "ROOM01", EndedAt: t0}, nil)
	// 第一段: 开头到线索
	history.On("FindSignificantFrom", mock.Anything, "g1", (*time.Time)(nil)).Return(&events[1], nil).Once()
	history.On("ListEventsInRange", mock.Anything, "g1", repository.EventRange{To: &clueAt}).Return(events[:2], nil).Once()
	history.On("ListEventsInRange", mock.Anything, "g1", repository.EventRange{After: &clueAt, Limit: 1}).Return(events[2:3], nil).Once()
	// 第二段: 投票，之后没有事件
	history.On("FindSignificantFrom", mock.Anything, "g1", &voteAt).Return(&events[2], nil).Once()
	history.On("ListEventsInRange", mock.Anything, "g1", repository.EventRange{From: &voteAt, To: &voteAt}).Return(events[2:3], nil).Once()
	history.On("ListEventsInRange", mock.Anything, "g1", repository.EventRange{After: &voteAt, Limit: 1}).
		Return([]domain.GameHistoryEvent{}, nil).Once()
	r := historyRouter(history, new(mocks.UserStatsRepository))

	// Act
	w := get(r, "/api/games/g1/next-significant")

	// Assert
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		View   domain.GameView `json:"view"`
		Cursor *time.Time      `json:"cursor"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.View.Messages, 1)
	assert.Equal(t, "hot", page.View.CluesByRound[1]["bob"])
	require.NotNil(t, page.Cursor)
	assert.True(t, page.Cursor.Equal(t0.Add(2*time.Second)))

	w = get(r, "/api/games/g1/next-significant?cursor="+url.QueryEscape(page.Cursor.Format(time.RFC3339Nano)))
	require.Equal(t, http.StatusOK, w.Code)
	page.Cursor = nil
	page.View = domain.GameView{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, "bob", page.View.VotesByRound[1]["ana"])
	assert.Nil(t, page.Cursor)

	// Verify
	history.AssertExpectations(t)
}

func TestHistoryHandler_Errors(t *testing.T) {
	history := new(mocks.HistoryRepository)
	history.On("FindGame", mock.Anything, "missing").Return(nil, repository.ErrGameNotFound)
	history.On("FindGame", mock.Anything, "broken").Return(nil, errors.New("dial tcp: refused"))
	r := historyRouter(history, new(mocks.UserStatsRepository))

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"unknown game", "/api/games/missing", http.StatusNotFound},
		{"unknown game checkpoints", "/api/games/missing/checkpoints", http.StatusNotFound},
		{"bad cursor", "/api/games/missing/next?cursor=yesterday", http.StatusBadRequest},
		{"store down", "/api/games/broken/next", http.StatusServiceUnavailable},
		{"bad count", "/api/users/ana/history?count=ten", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, get(r, tt.target).Code)
		})
	}
}

func TestHistoryHandler_UserHistoryAndStats(t *testing.T) {
	history := new(mocks.HistoryRepository)
	stats := new(mocks.UserStatsRepository)
	history.On("ListGamesForUser", mock.Anything, "ana", 5, 10).
		Return([]domain.UserGameIndex{{Username: "ana", GameID: "g1", RoomID: "ROOM01", EndedAt: t0}}, nil).Once()
	history.On("FindGame", mock.Anything, "g1").
		Return(&domain.GameRecord{ID: "g1", RoomID: "ROOM01", Players: []string{"ana", "bob"}, EndedAt: t0}, nil).Once()
	history.On("ListEvents", mock.Anything, "g1").Return(gameEvents(), nil).Once()
	stats.On("FindByUsername", mock.Anything, "ana").Return(&domain.UserStats{Username: "ana", GamesPlayed: 2, TotalScore: 8}, nil).Once()
	r := historyRouter(history, stats)

	w := get(r, "/api/users/ana/history?count=5&offset=10")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Games []domain.GameView `json:"games"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Games, 1)
	assert.Equal(t, "g1", body.Games[0].GameID)
	assert.Equal(t, 1, body.Games[0].Rounds)
	assert.Equal(t, []string{"ana", "bob"}, body.Games[0].Players)
	assert.Equal(t, "bob", body.Games[0].VotesByRound[1]["ana"])

	w = get(r, "/api/users/ana/stats")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"gamesPlayed":2`)

	history.AssertExpectations(t)
	stats.AssertExpectations(t)
}

func TestRoomHandler_CreateAndList(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	presence := service.NewPresenceService(
		redisstate.NewRedisRoomStore(client, ""),
		redisstate.NewRedisPresenceStore(client, ""),
		redisstate.NewRedisRoomLocker(client, "", time.Second),
		mocks.NewRecordingBroadcaster(),
		service.DefaultPresenceConfig(),
	)
	h := handlerhttp.NewRoomHandler(presence)
	r := gin.New()
	r.POST("/api/rooms", h.CreateRoom)
	r.GET("/api/rooms/:roomId/players", h.ListPlayers)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/rooms", nil))
	require.Equal(t, http.StatusCreated, w.Code)
	var created handlerhttp.CreateRoomResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Len(t, created.RoomID, domain.RoomCodeLength)

	_, err := presence.Join(testContext(t), created.RoomID, "u-ana", "ana", "c-ana")
	require.NoError(t, err)

	w = get(r, "/api/rooms/"+created.RoomID+"/players")
	require.Equal(t, http.StatusOK, w.Code)
	var players handlerhttp.PlayersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &players))
	require.Len(t, players.Players, 1)
	assert.True(t, players.Players[0].IsHost)

	assert.Equal(t, http.StatusNotFound, get(r, "/api/rooms/NOPE00/players").Code)
}

// testContext stands in for testing.T.Context (Go 1.24+): the context is
// cancelled when the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
