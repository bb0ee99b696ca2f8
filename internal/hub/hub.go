package hub

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	redisstate "impostor-game/internal/infra/state/redis"
	"impostor-game/internal/service"
)

// 包级别的 WebSocket 常量，供 hub 和 client 包内使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// 断开事件的处理超时
	disconnectTimeout = 5 * time.Second
)

// HubMessage 定义了在 Hub 内部通道传递的消息类型
type HubMessage struct {
	Type   string // "register", "unregister"
	Client *Client
}

// Envelope 是出站消息的外层结构
type Envelope struct {
	Type    string      `json:"type"`
	RoomID  string      `json:"roomId,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// Hub 维护本实例的连接和房间分组，实现 service.Broadcaster。
// 配置了 Redis 时，房间推送经 Pub/Sub 发布，每个实例只投递给自己的本地连接；
// 否则只在本实例内投递。
type Hub struct {
	messageChan chan HubMessage
	done        chan struct{}
	stopOnce    sync.Once

	// conns: connID -> client；groups: roomID -> clients
	conns    map[string]*Client
	groups   map[string]map[*Client]bool
	roomsMu  sync.RWMutex
	channels map[string]string // pub/sub channel -> roomID

	rdb    *redis.Client
	keys   redisstate.Keys
	pubsub *redis.PubSub

	presence *service.PresenceService
	game     *service.GameService
}

// NewHub 创建 Hub。rdb 为 nil 时只做本地投递。
func NewHub(rdb *redis.Client, keyPrefix string) *Hub {
	h := &Hub{
		messageChan: make(chan HubMessage, 512),
		done:        make(chan struct{}),
		conns:       make(map[string]*Client),
		groups:      make(map[string]map[*Client]bool),
		channels:    make(map[string]string),
		rdb:         rdb,
		keys:        redisstate.NewKeys(keyPrefix),
	}
	if rdb != nil {
		h.pubsub = rdb.Subscribe(context.Background())
	}
	return h
}

// SetServices 注入处理入站消息的服务。服务本身依赖 Hub 作为 Broadcaster，所以不能在构造时传入。
func (h *Hub) SetServices(presence *service.PresenceService, game *service.GameService) {
	if presence == nil || game == nil {
		panic("Hub services cannot be nil")
	}
	h.presence = presence
	h.game = game
}

// Run 启动 Hub 的主事件处理循环。
// 它应该在一个单独的 goroutine 中运行。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")

	var remote <-chan *redis.Message
	if h.pubsub != nil {
		remote = h.pubsub.Channel()
	}

	for {
		select {
		case msg := <-h.messageChan:
			switch msg.Type {
			case "register":
				h.registerClient(msg.Client)
				go h.joinRoom(msg.Client)
			case "unregister":
				if h.unregisterClient(msg.Client) {
					go h.disconnect(msg.Client)
				}
			default:
				log.Warnf("Hub: Received unknown message type: %s", msg.Type)
			}
		case m, ok := <-remote:
			if !ok {
				remote = nil
				continue
			}
			h.deliverRemote(m)
		case <-h.done:
			log.Info("Hub is shutting down...")
			return
		}
	}
}

// Stop 停止主循环并关闭 Pub/Sub 订阅。
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		if h.pubsub != nil {
			if err := h.pubsub.Close(); err != nil {
				logrus.WithError(err).Warn("Hub: Failed to close pubsub")
			}
		}
	})
}

// QueueMessage 将消息放入 Hub 的处理队列 (非阻塞)。队列满时返回 false。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		fields := logrus.Fields{"message_type": msg.Type}
		if msg.Client != nil {
			fields["conn_id"] = msg.Client.ConnID()
		}
		logrus.WithFields(fields).Warn("Hub message channel full, dropping message")
		return false
	}
}

// registerClient 登记连接。房间分组由 PresenceService 加入成功后通过 AddConnectionToRoom 完成。
func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return
	}
	h.roomsMu.Lock()
	h.conns[client.connID] = client
	h.roomsMu.Unlock()
	client.logCtx().Info("Client registered to Hub")
}

// unregisterClient 移除连接和它所在的分组，关闭发送通道。连接未登记时返回 false。
func (h *Hub) unregisterClient(client *Client) bool {
	if client == nil {
		logrus.Error("Hub: Attempted to unregister a nil client")
		return false
	}
	h.roomsMu.Lock()
	if _, ok := h.conns[client.connID]; !ok {
		h.roomsMu.Unlock()
		return false
	}
	delete(h.conns, client.connID)
	emptied := h.removeFromGroupLocked(client)
	close(client.send)
	h.roomsMu.Unlock()

	if emptied != "" {
		h.unsubscribe(emptied)
	}
	client.logCtx().Info("Client unregistered from Hub")
	return true
}

// joinRoom 处理连接建立后的加入请求，失败时通知客户端并断开。
func (h *Hub) joinRoom(client *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	players, err := h.presence.Join(ctx, client.roomID, client.userID, client.username, client.connID)
	if err != nil {
		client.logCtx().WithError(err).Warn("Join failed, closing connection")
		h.sendError(client, err)
		client.kickAfterFlush()
		return
	}
	if h.pubsub == nil {
		return
	}
	// 频道订阅异步生效，加入时的名单推送可能赶不上，直接发给加入者
	data, err := json.Marshal(Envelope{
		Type:    service.EventPlayerListUpdated,
		RoomID:  client.roomID,
		Payload: service.NewPlayerListBroadcast(client.roomID, players),
	})
	if err != nil {
		client.logCtx().WithError(err).Error("Failed to marshal player list")
		return
	}
	h.sendDirect(client, data)
}

func (h *Hub) disconnect(client *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := h.presence.Disconnect(ctx, client.connID); err != nil {
		client.logCtx().WithError(err).Error("Failed to process disconnect")
	}
}

// --- service.Broadcaster ---

// BroadcastToRoom 向房间内所有连接推送事件。
func (h *Hub) BroadcastToRoom(ctx context.Context, roomID, event string, payload interface{}) error {
	data, err := json.Marshal(Envelope{Type: event, RoomID: roomID, Payload: payload})
	if err != nil {
		return err
	}
	if h.rdb == nil {
		h.deliverLocal(roomID, data)
		return nil
	}
	return h.rdb.Publish(ctx, h.keys.Channel(roomID), data).Err()
}

// AddConnectionToRoom 把本实例的连接加入房间分组。不是本实例的连接时忽略。
func (h *Hub) AddConnectionToRoom(ctx context.Context, connID, roomID string) error {
	h.roomsMu.Lock()
	client, ok := h.conns[connID]
	if !ok {
		h.roomsMu.Unlock()
		return nil
	}
	emptied := ""
	if client.group != roomID {
		emptied = h.removeFromGroupLocked(client)
	}
	members, exists := h.groups[roomID]
	if !exists {
		members = make(map[*Client]bool)
		h.groups[roomID] = members
	}
	members[client] = true
	client.group = roomID
	h.channels[h.keys.Channel(roomID)] = roomID
	h.roomsMu.Unlock()

	if emptied != "" {
		h.unsubscribe(emptied)
	}
	if !exists && h.pubsub != nil {
		if err := h.pubsub.Subscribe(ctx, h.keys.Channel(roomID)); err != nil {
			return err
		}
		logrus.WithField("room_id", roomID).Debug("Subscribed to room channel")
	}
	return nil
}

// RemoveConnectionFromRoom 把连接移出房间分组，分组变空时取消订阅。
func (h *Hub) RemoveConnectionFromRoom(ctx context.Context, connID, roomID string) error {
	h.roomsMu.Lock()
	client, ok := h.conns[connID]
	emptied := ""
	if ok && client.group == roomID {
		emptied = h.removeFromGroupLocked(client)
	}
	h.roomsMu.Unlock()

	if emptied != "" {
		h.unsubscribe(emptied)
	}
	return nil
}

// removeFromGroupLocked 调用方持有 roomsMu。分组因此变空时返回房间 ID。
func (h *Hub) removeFromGroupLocked(client *Client) string {
	roomID := client.group
	if roomID == "" {
		return ""
	}
	client.group = ""
	members := h.groups[roomID]
	delete(members, client)
	if len(members) > 0 {
		return ""
	}
	delete(h.groups, roomID)
	delete(h.channels, h.keys.Channel(roomID))
	return roomID
}

func (h *Hub) unsubscribe(roomID string) {
	if h.pubsub == nil {
		return
	}
	if err := h.pubsub.Unsubscribe(context.Background(), h.keys.Channel(roomID)); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Warn("Failed to unsubscribe room channel")
	}
}

func (h *Hub) deliverRemote(m *redis.Message) {
	h.roomsMu.RLock()
	roomID, ok := h.channels[m.Channel]
	h.roomsMu.RUnlock()
	if !ok {
		return
	}
	h.deliverLocal(roomID, []byte(m.Payload))
}

// deliverLocal 将消息发送给本实例上该房间的所有连接
func (h *Hub) deliverLocal(roomID string, message []byte) {
	h.roomsMu.RLock()
	members := h.groups[roomID]
	clientsToSend := make([]*Client, 0, len(members))
	for client := range members {
		clientsToSend = append(clientsToSend, client)
	}
	// 在锁内发送，避免与 unregisterClient 关闭通道竞争；发送本身不阻塞
	for _, client := range clientsToSend {
		select {
		case client.send <- message:
		default:
			client.logCtx().Warn("Client send channel full during broadcast, skipping this client")
		}
	}
	h.roomsMu.RUnlock()
}

// sendDirect 只发给一个连接。连接已注销时丢弃。
func (h *Hub) sendDirect(client *Client, message []byte) {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	if h.conns[client.connID] != client {
		return
	}
	select {
	case client.send <- message:
	default:
		client.logCtx().Warn("Client send channel full, message dropped")
	}
}

// LocalRooms 返回本实例上有连接的房间，按房间 ID 排序。
func (h *Hub) LocalRooms() []string {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	rooms := make([]string, 0, len(h.groups))
	for roomID := range h.groups {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return rooms
}
