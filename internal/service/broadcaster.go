package service

import "context"

// 推送给房间的事件名
const (
	EventPlayerListUpdated = "PlayerListUpdated"
	EventGameStarted       = "GameStarted"
	EventGameState         = "GameState"
	EventReceiveMessage    = "ReceiveMessage"
	EventReceiveClue       = "ReceiveClue"
	EventUserVoted         = "UserVoted"
	EventError             = "Error"
)

// Broadcaster 是实时推送的边界，由 hub 实现。
// 投递语义为至少一次，同一房间内保持顺序。
type Broadcaster interface {
	BroadcastToRoom(ctx context.Context, roomID, event string, payload interface{}) error
	AddConnectionToRoom(ctx context.Context, connID, roomID string) error
	RemoveConnectionFromRoom(ctx context.Context, connID, roomID string) error
}

// ClueBroadcast 是 ReceiveClue 事件内容。
type ClueBroadcast struct {
	Username string `json:"username"`
	Clue     string `json:"clue"`
	Round    int    `json:"round"`
}

// VoteBroadcast 是 UserVoted 事件内容，不公开投票目标。
type VoteBroadcast struct {
	Username  string `json:"username"`
	Round     int    `json:"round"`
	VotesCast int    `json:"votesCast"`
}

// PlayerListBroadcast 是 PlayerListUpdated 事件内容。
type PlayerListBroadcast struct {
	RoomID  string          `json:"roomId"`
	Players []PlayerSummary `json:"players"`
}

// PlayerSummary 是对外展示的玩家信息，不包含连接 ID。
type PlayerSummary struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsHost   bool   `json:"isHost"`
}
