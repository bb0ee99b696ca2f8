package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"impostor-game/internal/domain"
	"impostor-game/internal/repository"
)

const maxRoomCodeAttempts = 10

// PresenceConfig 在线状态相关的配置
type PresenceConfig struct {
	// EmptyRoomGrace 房间变空后保留的时间，期间重新加入会取消过期
	EmptyRoomGrace time.Duration
	// LockWait 获取房间锁的最长等待时间
	LockWait time.Duration
}

// DefaultPresenceConfig 返回默认配置
func DefaultPresenceConfig() PresenceConfig {
	return PresenceConfig{EmptyRoomGrace: 30 * time.Minute, LockWait: 2 * time.Second}
}

// PresenceService 维护名册以及连接、用户、房间之间的映射，负责加入、离开、断线和房主移交。
// 所有状态都在共享存储中，任何实例都可以处理任意连接的断开。
type PresenceService struct {
	rooms       repository.RoomStateRepository
	presence    repository.PresenceRepository
	locker      repository.RoomLocker
	broadcaster Broadcaster
	cfg         PresenceConfig
	now         func() time.Time
}

// NewPresenceService 创建 PresenceService 实例。
func NewPresenceService(rooms repository.RoomStateRepository, presence repository.PresenceRepository,
	locker repository.RoomLocker, broadcaster Broadcaster, cfg PresenceConfig) *PresenceService {
	if rooms == nil || presence == nil || locker == nil || broadcaster == nil {
		panic("PresenceService dependencies cannot be nil")
	}
	return &PresenceService{
		rooms:       rooms,
		presence:    presence,
		locker:      locker,
		broadcaster: broadcaster,
		cfg:         cfg,
		now:         time.Now,
	}
}

// WithClock 替换时钟，测试用。
func (s *PresenceService) WithClock(now func() time.Time) *PresenceService {
	s.now = now
	return s
}

// CreateRoom 创建一个空房间并返回房间码 (随机 UUID 的前 6 位，大写)。
// 没人加入的房间和变空的房间一样在宽限期后过期。
func (s *PresenceService) CreateRoom(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxRoomCodeAttempts; attempt++ {
		code := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:domain.RoomCodeLength]

		err := s.rooms.CreateRoom(ctx, code)
		if errors.Is(err, repository.ErrDuplicateEntry) {
			logrus.WithField("room_id", code).Warnf("Room code already exists, retrying (attempt %d)...", attempt+1)
			continue
		}
		if err != nil {
			logrus.WithError(err).WithField("room_id", code).Error("Failed to create room")
			return "", mapRepoError(err, ErrRoomNotFound)
		}
		if err := s.rooms.ExpireAfter(ctx, code, s.cfg.EmptyRoomGrace); err != nil {
			logrus.WithError(err).WithField("room_id", code).Warn("Failed to mark new room for expiry")
		}
		logrus.WithField("room_id", code).Info("Room created")
		return code, nil
	}
	return "", fmt.Errorf("%w: no unique room code after %d attempts", ErrStoreUnavailable, maxRoomCodeAttempts)
}

// Join 把连接加入房间。同一 userID 再次加入时只替换连接 ID (刷新页面或重连)。
// 用户仍在另一个房间时先离开那个房间。
func (s *PresenceService) Join(ctx context.Context, roomID, userID, username, connID string) ([]domain.Player, error) {
	roomID = strings.TrimSpace(roomID)
	username = strings.TrimSpace(username)
	if roomID == "" || userID == "" || username == "" || connID == "" || domain.IsSkip(username) {
		return nil, ErrInvalidPlayer
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID, "username": username, "conn_id": connID})

	// 1. 离开之前所在的其它房间
	if prevRoom, err := s.presence.RoomForUser(ctx, userID); err == nil && prevRoom != roomID {
		logCtx.WithField("previous_room", prevRoom).Info("User switching rooms, leaving previous room")
		if err := s.removeFromRoom(ctx, prevRoom, userID, ""); err != nil {
			logCtx.WithError(err).Warn("Failed to leave previous room")
		}
	}

	// 2. 房间内操作串行化
	unlock, err := s.locker.Lock(ctx, roomID, s.cfg.LockWait)
	if err != nil {
		return nil, mapRepoError(err, ErrRoomNotFound)
	}
	defer unlock()

	exists, err := s.rooms.RoomExists(ctx, roomID)
	if err != nil {
		return nil, mapRepoError(err, ErrRoomNotFound)
	}
	if !exists {
		logCtx.Warn("Join rejected: room not found")
		return nil, ErrRoomNotFound
	}

	players, err := s.presence.GetPlayers(ctx, roomID)
	if err != nil {
		return nil, mapRepoError(err, ErrRoomNotFound)
	}

	// 3. 重连或新加入
	var player domain.Player
	if idx := domain.FindPlayer(players, userID); idx >= 0 {
		player = players[idx]
		oldConn := player.ConnectionID
		player.ConnectionID = connID
		players[idx] = player
		if oldConn != connID {
			logCtx.WithField("old_conn_id", oldConn).Info("Player reattached with new connection")
		}
	} else {
		for _, p := range players {
			if p.Username == username {
				logCtx.Warn("Join rejected: username taken")
				return nil, ErrUsernameTaken
			}
		}
		player = domain.Player{
			UserID:       userID,
			Username:     username,
			ConnectionID: connID,
			IsHost:       len(players) == 0,
			JoinedAt:     s.now().UTC(),
		}
		players = append(players, player)
		logCtx.WithField("is_host", player.IsHost).Info("Player joined room")
	}

	if err := s.presence.SavePlayer(ctx, roomID, player); err != nil {
		return nil, mapRepoError(err, ErrRoomNotFound)
	}
	if err := s.presence.BindConnection(ctx, connID, userID, roomID); err != nil {
		return nil, mapRepoError(err, ErrRoomNotFound)
	}
	if err := s.rooms.CancelExpiry(ctx, roomID); err != nil {
		return nil, mapRepoError(err, ErrRoomNotFound)
	}

	// 4. 推送
	if err := s.broadcaster.AddConnectionToRoom(ctx, connID, roomID); err != nil {
		logCtx.WithError(err).Warn("Failed to add connection to room group")
	}
	domain.SortPlayers(players)
	s.broadcastRoster(ctx, roomID, players)
	return players, nil
}

// Leave 处理玩家主动离开。userID 为空时通过 connID 解析。用户不在任何房间时为无操作。
func (s *PresenceService) Leave(ctx context.Context, userID, connID string) error {
	if userID == "" {
		if connID == "" {
			return ErrInvalidPlayer
		}
		uid, err := s.presence.UserForConnection(ctx, connID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return mapRepoError(err, ErrRoomNotFound)
		}
		userID = uid
	}

	roomID, err := s.presence.RoomForUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		if connID != "" {
			return mapRepoError(s.presence.UnbindConnection(ctx, connID, userID), ErrRoomNotFound)
		}
		return nil
	}
	if err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	return s.removeFromRoom(ctx, roomID, userID, connID)
}

// Disconnect 处理连接断开。断开的是用户的旧连接 (已被新连接取代) 时只清理该连接。
func (s *PresenceService) Disconnect(ctx context.Context, connID string) error {
	logCtx := logrus.WithField("conn_id", connID)
	userID, err := s.presence.UserForConnection(ctx, connID)
	if errors.Is(err, repository.ErrNotFound) {
		logCtx.Debug("Disconnect: connection has no user mapping")
		return nil
	}
	if err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}

	current, err := s.presence.ConnectionForUser(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return mapRepoError(err, ErrRoomNotFound)
	}
	if current != connID {
		logCtx.WithField("user_id", userID).Info("Disconnect of superseded connection, keeping player")
		if roomID, err := s.presence.RoomForUser(ctx, userID); err == nil {
			_ = s.broadcaster.RemoveConnectionFromRoom(ctx, connID, roomID)
		}
		return mapRepoError(s.presence.UnbindConnection(ctx, connID, userID), ErrRoomNotFound)
	}
	return s.Leave(ctx, userID, connID)
}

// Players 返回房间名册。
func (s *PresenceService) Players(ctx context.Context, roomID string) ([]domain.Player, error) {
	exists, err := s.rooms.RoomExists(ctx, roomID)
	if err != nil {
		return nil, mapRepoError(err, ErrRoomNotFound)
	}
	if !exists {
		return nil, ErrRoomNotFound
	}
	players, err := s.presence.GetPlayers(ctx, roomID)
	return players, mapRepoError(err, ErrRoomNotFound)
}

// removeFromRoom 从名册移除玩家，必要时移交房主；房间变空时标记过期。
// connID 为空时清理用户当前的连接。
func (s *PresenceService) removeFromRoom(ctx context.Context, roomID, userID, connID string) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID})

	unlock, err := s.locker.Lock(ctx, roomID, s.cfg.LockWait)
	if err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	defer unlock()

	players, err := s.presence.GetPlayers(ctx, roomID)
	if err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}

	if connID == "" {
		if current, err := s.presence.ConnectionForUser(ctx, userID); err == nil {
			connID = current
		}
	}

	idx := domain.FindPlayer(players, userID)
	if idx >= 0 {
		departing := players[idx]
		remaining := append(players[:idx:idx], players[idx+1:]...)

		if err := s.presence.RemovePlayer(ctx, roomID, userID); err != nil {
			return mapRepoError(err, ErrRoomNotFound)
		}
		// 房主离开且还有人：按稳定顺序提升第一个人，与移除在同一次操作中完成
		if departing.IsHost && len(remaining) > 0 {
			remaining[0].IsHost = true
			if err := s.presence.SavePlayer(ctx, roomID, remaining[0]); err != nil {
				return mapRepoError(err, ErrRoomNotFound)
			}
			logCtx.WithField("new_host", remaining[0].UserID).Info("Host transferred")
		}
		players = remaining
		logCtx.Info("Player left room")
	}

	if connID != "" {
		if err := s.presence.UnbindConnection(ctx, connID, userID); err != nil {
			return mapRepoError(err, ErrRoomNotFound)
		}
		if err := s.broadcaster.RemoveConnectionFromRoom(ctx, connID, roomID); err != nil {
			logCtx.WithError(err).Warn("Failed to remove connection from room group")
		}
	}

	if idx < 0 {
		return nil
	}
	if len(players) == 0 {
		exists, err := s.rooms.RoomExists(ctx, roomID)
		if err != nil {
			return mapRepoError(err, ErrRoomNotFound)
		}
		if exists {
			logCtx.Infof("Room empty, expiring in %s", s.cfg.EmptyRoomGrace)
			return mapRepoError(s.rooms.ExpireAfter(ctx, roomID, s.cfg.EmptyRoomGrace), ErrRoomNotFound)
		}
		return nil
	}
	s.broadcastRoster(ctx, roomID, players)
	return nil
}

// NewPlayerListBroadcast 把玩家列表转换为 PlayerListUpdated 的负载。
func NewPlayerListBroadcast(roomID string, players []domain.Player) PlayerListBroadcast {
	summary := PlayerListBroadcast{RoomID: roomID, Players: make([]PlayerSummary, 0, len(players))}
	for _, p := range players {
		summary.Players = append(summary.Players, PlayerSummary{UserID: p.UserID, Username: p.Username, IsHost: p.IsHost})
	}
	return summary
}

func (s *PresenceService) broadcastRoster(ctx context.Context, roomID string, players []domain.Player) {
	summary := NewPlayerListBroadcast(roomID, players)
	if err := s.broadcaster.BroadcastToRoom(ctx, roomID, EventPlayerListUpdated, summary); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Warn("Failed to broadcast player list")
	}
}
