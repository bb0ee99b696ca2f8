package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"impostor-game/internal/service"
)

// HistoryHandler 提供历史列表、战绩和回放接口
type HistoryHandler struct {
	replay *service.ReplayService
}

// NewHistoryHandler 创建 HistoryHandler 实例
func NewHistoryHandler(replay *service.ReplayService) *HistoryHandler {
	if replay == nil {
		panic("ReplayService cannot be nil for HistoryHandler")
	}
	return &HistoryHandler{replay: replay}
}

// ListUserGames 处理 GET /api/users/:username/history?count=&offset=
// 每一项都是完整回放视图 (回合数、玩家、线索、投票、消息)。
func (h *HistoryHandler) ListUserGames(c *gin.Context) {
	count, err := intQuery(c, "count")
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "count must be an integer")
		return
	}
	offset, err := intQuery(c, "offset")
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "offset must be an integer")
		return
	}
	games, err := h.replay.HistoryPage(c.Request.Context(), c.Param("username"), count, offset)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"games": games})
}

// UserStats 处理 GET /api/users/:username/stats
func (h *HistoryHandler) UserStats(c *gin.Context) {
	stats, err := h.replay.Stats(c.Request.Context(), c.Param("username"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, stats)
}

// FullGame 处理 GET /api/games/:gameId
func (h *HistoryHandler) FullGame(c *gin.Context) {
	view, err := h.replay.FullGame(c.Request.Context(), c.Param("gameId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, view)
}

// NextAny 处理 GET /api/games/:gameId/next?cursor=
func (h *HistoryHandler) NextAny(c *gin.Context) {
	cursor, err := cursorQuery(c)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	page, err := h.replay.NextAny(c.Request.Context(), c.Param("gameId"), cursor)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, page)
}

// NextSignificant 处理 GET /api/games/:gameId/next-significant?cursor=
func (h *HistoryHandler) NextSignificant(c *gin.Context) {
	cursor, err := cursorQuery(c)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	page, err := h.replay.NextSignificant(c.Request.Context(), c.Param("gameId"), cursor)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, page)
}

// Checkpoints 处理 GET /api/games/:gameId/checkpoints
func (h *HistoryHandler) Checkpoints(c *gin.Context) {
	events, err := h.replay.Checkpoints(c.Request.Context(), c.Param("gameId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"checkpoints": events})
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// cursorQuery 解析 RFC 3339 游标，缺省表示从头开始
func cursorQuery(c *gin.Context) (*time.Time, error) {
	raw := c.Query("cursor")
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, service.ErrInvalidCursor
	}
	return &t, nil
}
