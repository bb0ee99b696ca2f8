package domain

import (
	"sort"
	"time"
)

// Player 表示房间名册中的一名玩家。
// UserID 是持久身份，ConnectionID 是当前的网络连接 (重连后会变化)。
type Player struct {
	UserID       string    `json:"userId"`
	Username     string    `json:"username"`
	ConnectionID string    `json:"connectionId"`
	IsHost       bool      `json:"isHost"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// SortPlayers 按稳定顺序 (加入时间，其次 UserID) 排序名册。房主移交依赖这个顺序。
func SortPlayers(players []Player) {
	sort.SliceStable(players, func(i, j int) bool {
		if !players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].JoinedAt.Before(players[j].JoinedAt)
		}
		return players[i].UserID < players[j].UserID
	})
}

// FindPlayer 按 UserID 查找玩家，返回下标，未找到返回 -1。
func FindPlayer(players []Player, userID string) int {
	for i := range players {
		if players[i].UserID == userID {
			return i
		}
	}
	return -1
}

// Usernames 返回名册中的用户名 (按字典序)。
func Usernames(players []Player) []string {
	names := make([]string, 0, len(players))
	for _, p := range players {
		names = append(names, p.Username)
	}
	sort.Strings(names)
	return names
}

// GameSettings 是开局时一次性写入的设置，直到房间被删除都不会改变。
type GameSettings struct {
	GameID       string        `json:"gameId"`
	MaxRounds    int           `json:"maxRounds"`
	PerTurn      time.Duration `json:"-"`
	FirstPlayer  string        `json:"firstPlayer"`
	ImpostorName string        `json:"impostorName"`
	SecretWord   string        `json:"secretWord"`
	StartedAt    time.Time     `json:"startedAt"`
}

// PerTurnSeconds 以秒返回每回合时长。
func (s GameSettings) PerTurnSeconds() int { return int(s.PerTurn / time.Second) }

const (
	// MinPlayers 开局所需的最少玩家数。
	MinPlayers = 3
	// MaxRoundsLimit 单局最多回合数。
	MaxRoundsLimit = 10
	// MaxSecondsPerTurn 单回合最长秒数。
	MaxSecondsPerTurn = 300
	// RoomCodeLength 房间码长度。
	RoomCodeLength = 6
)
