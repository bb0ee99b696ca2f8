package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"impostor-game/internal/service"
)

// RoomHandler 封装了与房间管理相关的 HTTP 处理逻辑
type RoomHandler struct {
	presence *service.PresenceService
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(presence *service.PresenceService) *RoomHandler {
	if presence == nil {
		panic("PresenceService cannot be nil for RoomHandler")
	}
	return &RoomHandler{presence: presence}
}

// CreateRoomResponse 定义创建房间成功的响应结构体
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}

// CreateRoom 处理 POST /api/rooms
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	roomID, err := h.presence.CreateRoom(c.Request.Context())
	if err != nil {
		logrus.WithError(err).Error("Handler.CreateRoom: Failed to create room via service")
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, CreateRoomResponse{RoomID: roomID})
}

// PlayersResponse 是房间名册
type PlayersResponse struct {
	RoomID  string                  `json:"roomId"`
	Players []service.PlayerSummary `json:"players"`
}

// ListPlayers 处理 GET /api/rooms/:roomId/players
func (h *RoomHandler) ListPlayers(c *gin.Context) {
	roomID := c.Param("roomId")
	players, err := h.presence.Players(c.Request.Context(), roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	resp := PlayersResponse{RoomID: roomID, Players: make([]service.PlayerSummary, 0, len(players))}
	for _, p := range players {
		resp.Players = append(resp.Players, service.PlayerSummary{UserID: p.UserID, Username: p.Username, IsHost: p.IsHost})
	}
	SuccessResponse(c, http.StatusOK, resp)
}
