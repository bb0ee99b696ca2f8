package hub

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Client 代表一个连接到 Hub 的 WebSocket 客户端。
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	connID   string
	userID   string
	username string
	roomID   string // 连接时请求加入的房间
	group    string // 当前所在的分组，由 hub.roomsMu 保护
	send     chan []byte
	kick     chan struct{}
}

// NewClient 创建一个新的 Client 实例，连接 ID 随机生成
func NewClient(hub *Hub, conn *websocket.Conn, roomID, userID, username string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		connID:   uuid.NewString(),
		userID:   userID,
		username: username,
		roomID:   roomID,
		send:     make(chan []byte, 256),
		kick:     make(chan struct{}, 1),
	}
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

func (c *Client) logCtx() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"conn_id": c.connID, "user_id": c.userID, "room_id": c.roomID})
}

// ReadPump 读取入站消息并按顺序处理，同一连接的消息不会并发执行。
func (c *Client) ReadPump() {
	defer func() {
		// 清理操作：请求 Hub 注销此客户端
		select {
		case c.hub.messageChan <- HubMessage{Type: "unregister", Client: c}:
		case <-time.After(1 * time.Second):
			c.logCtx().Warn("Timeout sending unregister message to Hub channel")
		}
		c.conn.Close()
		c.logCtx().Info("readPump exited, unregistered client")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logCtx().WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				c.logCtx().Debug("WebSocket connection closed normally or read error")
			}
			break
		}
		if messageType != websocket.TextMessage {
			c.logCtx().Debugf("Received non-text message type: %d", messageType)
			continue
		}
		c.hub.handleClientMessage(c, message)
	}
}

// WritePump 将 send 通道中的消息写入连接，并定期发送 Ping。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logCtx().Debug("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 关闭了通道
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logCtx().WithError(err).Warn("Failed to write message to websocket")
				return
			}

		case <-c.kick:
			// 先写完已排队的消息 (通常是错误通知) 再关闭
		drain:
			for {
				select {
				case message, ok := <-c.send:
					if !ok {
						return
					}
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.conn.WriteMessage(websocket.TextMessage, message)
				default:
					break drain
				}
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "join rejected"))
			return

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logCtx().WithError(err).Warn("Failed to send ping message")
				return
			}
		}
	}
}

// kickAfterFlush 请求写协程在发出已排队的消息后关闭连接
func (c *Client) kickAfterFlush() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Client) ConnID() string   { return c.connID }
func (c *Client) UserID() string   { return c.userID }
func (c *Client) Username() string { return c.username }
func (c *Client) RoomID() string   { return c.roomID }
func (c *Client) CloseConn()       { c.conn.Close() }
