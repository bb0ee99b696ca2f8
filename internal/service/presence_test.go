package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"impostor-game/internal/domain"
	"impostor-game/internal/service"
)

func TestPresenceService_CreateRoom(t *testing.T) {
	f := newFixture(t, nil)

	roomID, err := f.presence.CreateRoom(f.ctx)

	require.NoError(t, err)
	assert.Len(t, roomID, domain.RoomCodeLength)
	exists, err := f.rooms.RoomExists(f.ctx, roomID)
	require.NoError(t, err)
	assert.True(t, exists)
	// 没人加入的房间按空房间处理
	assert.Equal(t, 30*time.Minute, f.mr.TTL(f.keys.Meta(roomID)))
}

func TestPresenceService_Join(t *testing.T) {
	t.Run("first player becomes host", func(t *testing.T) {
		f := newFixture(t, nil)
		roomID, err := f.presence.CreateRoom(f.ctx)
		require.NoError(t, err)

		players, err := f.presence.Join(f.ctx, roomID, "u-ana", "ana", "c-ana")
		require.NoError(t, err)
		require.Len(t, players, 1)
		assert.True(t, players[0].IsHost)
		assert.Equal(t, time.Duration(0), f.mr.TTL(f.keys.Meta(roomID)), "加入后应取消过期")

		players, err = f.presence.Join(f.ctx, roomID, "u-bob", "bob", "c-bob")
		require.NoError(t, err)
		require.Len(t, players, 2)
		assert.False(t, players[1].IsHost)
		assert.True(t, f.bc.InGroup(roomID, "c-bob"))

		last, ok := f.bc.Last(service.EventPlayerListUpdated)
		require.True(t, ok)
		assert.Equal(t, service.PlayerListBroadcast{RoomID: roomID, Players: []service.PlayerSummary{
			{UserID: "u-ana", Username: "ana", IsHost: true},
			{UserID: "u-bob", Username: "bob"},
		}}, last.Payload)
	})

	t.Run("room not found", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.presence.Join(f.ctx, "NOPE00", "u-ana", "ana", "c-ana")
		assert.ErrorIs(t, err, service.ErrRoomNotFound)
	})

	t.Run("invalid identity", func(t *testing.T) {
		f := newFixture(t, nil)
		roomID := f.roomWith(t)
		_, err := f.presence.Join(f.ctx, roomID, "u-x", "  ", "c-x")
		assert.ErrorIs(t, err, service.ErrInvalidPlayer)
		_, err = f.presence.Join(f.ctx, roomID, "u-x", domain.SkipVote, "c-x")
		assert.ErrorIs(t, err, service.ErrInvalidPlayer)
	})

	t.Run("username taken", func(t *testing.T) {
		f := newFixture(t, nil)
		roomID := f.roomWith(t, "ana")
		_, err := f.presence.Join(f.ctx, roomID, "u-other", "ana", "c-other")
		assert.ErrorIs(t, err, service.ErrUsernameTaken)
	})

	t.Run("reconnect replaces connection", func(t *testing.T) {
		f := newFixture(t, nil)
		roomID := f.roomWith(t, "ana", "bob")

		players, err := f.presence.Join(f.ctx, roomID, "u-ana", "ana", "c-ana2")

		require.NoError(t, err)
		require.Len(t, players, 2, "重连不应产生重复玩家")
		assert.Equal(t, "c-ana2", players[0].ConnectionID)
		assert.True(t, players[0].IsHost)
		conn, err := f.players.ConnectionForUser(f.ctx, "u-ana")
		require.NoError(t, err)
		assert.Equal(t, "c-ana2", conn)
	})

	t.Run("switching rooms leaves previous room", func(t *testing.T) {
		f := newFixture(t, nil)
		first := f.roomWith(t, "ana", "bob")
		second := f.roomWith(t)

		_, err := f.presence.Join(f.ctx, second, "u-ana", "ana", "c-ana")
		require.NoError(t, err)

		players, err := f.presence.Players(f.ctx, first)
		require.NoError(t, err)
		require.Len(t, players, 1)
		assert.Equal(t, "bob", players[0].Username)
		assert.True(t, players[0].IsHost)
		room, err := f.players.RoomForUser(f.ctx, "u-ana")
		require.NoError(t, err)
		assert.Equal(t, second, room)
	})
}

// Scenario C: 房主断线，房主身份移交给下一位，房间保留。
func TestPresenceService_HostDisconnectTransfersHost(t *testing.T) {
	// Arrange
	f := newFixture(t, nil)
	roomID := f.roomWith(t, "ana", "bob", "cid")

	// Act
	err := f.presence.Disconnect(f.ctx, "c-ana")

	// Assert
	require.NoError(t, err)
	players, err := f.presence.Players(f.ctx, roomID)
	require.NoError(t, err)
	require.Len(t, players, 2)
	assert.Equal(t, "bob", players[0].Username)
	assert.True(t, players[0].IsHost)
	assert.False(t, players[1].IsHost)
	assert.False(t, f.bc.InGroup(roomID, "c-ana"))
	assert.Equal(t, time.Duration(0), f.mr.TTL(f.keys.Meta(roomID)))

	_, err = f.players.UserForConnection(f.ctx, "c-ana")
	assert.Error(t, err, "断开的连接映射应被清除")

	// 新房主开局时人数不足
	require.NoError(t, f.presence.Disconnect(f.ctx, "c-unknown"))
	assert.ErrorIs(t, f.game.StartGame(f.ctx, roomID, "u-bob", 1, 10), service.ErrNotEnoughPlayers)
}

func TestPresenceService_SupersededConnectionDisconnect(t *testing.T) {
	f := newFixture(t, nil)
	roomID := f.roomWith(t, "ana", "bob")
	_, err := f.presence.Join(f.ctx, roomID, "u-ana", "ana", "c-ana2")
	require.NoError(t, err)

	// 旧连接的断开事件晚于重连到达
	require.NoError(t, f.presence.Disconnect(f.ctx, "c-ana"))

	players, err := f.presence.Players(f.ctx, roomID)
	require.NoError(t, err)
	assert.Len(t, players, 2)
	assert.False(t, f.bc.InGroup(roomID, "c-ana"))
	assert.True(t, f.bc.InGroup(roomID, "c-ana2"))
	conn, err := f.players.ConnectionForUser(f.ctx, "u-ana")
	require.NoError(t, err)
	assert.Equal(t, "c-ana2", conn)
}

func TestPresenceService_LastLeaveExpiresRoom(t *testing.T) {
	f := newFixture(t, nil)
	roomID := f.roomWith(t, "ana")

	require.NoError(t, f.presence.Leave(f.ctx, "u-ana", ""))

	assert.Equal(t, 30*time.Minute, f.mr.TTL(f.keys.Meta(roomID)))
	exists, err := f.rooms.RoomExists(f.ctx, roomID)
	require.NoError(t, err)
	assert.True(t, exists, "宽限期内房间仍然存在")

	// 宽限期内重新加入取消过期
	_, err = f.presence.Join(f.ctx, roomID, "u-bob", "bob", "c-bob")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), f.mr.TTL(f.keys.Meta(roomID)))

	require.NoError(t, f.presence.Leave(f.ctx, "", "c-bob"))
	f.mr.FastForward(31 * time.Minute)
	_, err = f.presence.Players(f.ctx, roomID)
	assert.ErrorIs(t, err, service.ErrRoomNotFound)
}

func TestPresenceService_LeaveWhenNotInRoom(t *testing.T) {
	f := newFixture(t, nil)

	assert.NoError(t, f.presence.Leave(f.ctx, "u-nobody", ""))
	assert.NoError(t, f.presence.Leave(f.ctx, "", "c-nobody"))
	assert.ErrorIs(t, f.presence.Leave(f.ctx, "", ""), service.ErrInvalidPlayer)
	assert.Empty(t, f.bc.Events(""))
}
