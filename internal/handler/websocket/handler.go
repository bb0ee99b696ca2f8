package websocket

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"impostor-game/internal/hub"
	"impostor-game/internal/middleware"
	"impostor-game/internal/service"
)

// WebSocketHandler 负责处理 WebSocket 升级请求和客户端注册
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
	presence *service.PresenceService
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。allowedOrigin 为空或 "*" 时允许所有来源。
func NewWebSocketHandler(h *hub.Hub, presence *service.PresenceService, allowedOrigin string) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if presence == nil {
		panic("PresenceService cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" || allowedOrigin == "*" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
	}
	return &WebSocketHandler{upgrader: upgrader, hub: h, presence: presence}
}

// HandleConnection 处理 WebSocket 连接请求
// URL 预期格式: /ws/room/:roomId?userId=&username=
// 经过 Auth 中间件时，以 token 中的用户 ID 为准。
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	// 1. 身份
	roomID := strings.ToUpper(strings.TrimSpace(c.Param("roomId")))
	userID := c.Query("userId")
	if id, ok := middleware.UserID(c); ok {
		userID = id
	}
	username := strings.TrimSpace(c.Query("username"))
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID, "username": username})

	if roomID == "" || userID == "" || username == "" {
		logCtx.Warn("WS Handler: missing room, user id or username")
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId, userId and username are required"})
		return
	}

	// 2. 升级前确认房间存在，便于返回 HTTP 错误
	if _, err := h.presence.Players(c.Request.Context(), roomID); err != nil {
		if errors.Is(err, service.ErrRoomNotFound) {
			logCtx.Warn("WS Handler: Room not found")
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		} else {
			logCtx.WithError(err).Error("WS Handler: Error checking room existence")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to validate room"})
		}
		return
	}

	// 3. 升级 HTTP 连接到 WebSocket
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了 HTTP 错误
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}

	// 4. 登记到 Hub，加入房间由 Hub 异步完成
	client := hub.NewClient(h.hub, conn, roomID, userID, username)
	if !h.hub.QueueMessage(hub.HubMessage{Type: "register", Client: client}) {
		logCtx.Error("WS Handler: Hub message channel full, failed to register client")
		client.CloseConn()
		return
	}
	logCtx.WithField("conn_id", client.ConnID()).Info("WS Handler: Connection upgraded, client registration queued")

	client.Run()
}
