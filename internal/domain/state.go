package domain

import (
	"encoding/json"
	"time"
)

// PhasePayload 是按阶段区分的状态载荷 (tagged union)。
// 每个实现只携带本阶段相关的字段，消费方用 type switch 穷举处理。
type PhasePayload interface {
	Phase() Phase
	isPhasePayload()
}

// ShowSecretPayload 展示秘密词阶段。客户端负责对内鬼隐藏 SecretWord。
type ShowSecretPayload struct {
	SecretWord string   `json:"secretWord"`
	Impostor   string   `json:"impostor"`
	Players    []string `json:"players"`
}

// InProgressPayload 轮流给出线索阶段。
type InProgressPayload struct {
	CurrentPlayer string `json:"currentPlayer"`
	Round         int    `json:"round"`
	MaxRounds     int    `json:"maxRounds"`
}

// VotingPayload 投票阶段。
type VotingPayload struct {
	Round     int `json:"round"`
	VotesCast int `json:"votesCast"`
	Eligible  int `json:"eligible"`
}

// VoteResultPayload 投票结果展示阶段。Ejected 为 SkipVote 表示无人出局。
type VoteResultPayload struct {
	Round       int    `json:"round"`
	Ejected     string `json:"ejected"`
	WasImpostor bool   `json:"wasImpostor"`
}

// GameFinishedPayload 游戏结束。
type GameFinishedPayload struct {
	GameID      string `json:"gameId"`
	Impostor    string `json:"impostor"`
	Ejected     string `json:"ejected"`
	ImpostorWon bool   `json:"impostorWon"`
}

func (ShowSecretPayload) Phase() Phase   { return PhaseShowSecret }
func (InProgressPayload) Phase() Phase   { return PhaseInProgress }
func (VotingPayload) Phase() Phase       { return PhaseVoting }
func (VoteResultPayload) Phase() Phase   { return PhaseVoteResult }
func (GameFinishedPayload) Phase() Phase { return PhaseGameFinished }

func (ShowSecretPayload) isPhasePayload()   {}
func (InProgressPayload) isPhasePayload()   {}
func (VotingPayload) isPhasePayload()       {}
func (VoteResultPayload) isPhasePayload()   {}
func (GameFinishedPayload) isPhasePayload() {}

// GameState 是广播给房间的 GameState 事件内容。
// Sequence 在每个房间内单调递增，客户端据此丢弃乱序或重复的状态。
type GameState struct {
	RoomID   string
	Sequence int64
	EndsAt   time.Time
	Duration time.Duration
	Payload  PhasePayload
}

// Phase 返回载荷对应的阶段。
func (s GameState) Phase() Phase {
	if s.Payload == nil {
		return ""
	}
	return s.Payload.Phase()
}

// MarshalJSON 输出 {"phase": ..., "payload": {...}} 形式，phase 即 union 的 tag。
func (s GameState) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		RoomID          string       `json:"roomId"`
		Sequence        int64        `json:"sequence"`
		Phase           Phase        `json:"phase"`
		EndsAt          time.Time    `json:"endsAt"`
		DurationSeconds int          `json:"durationSeconds"`
		Payload         PhasePayload `json:"payload"`
	}{
		RoomID:          s.RoomID,
		Sequence:        s.Sequence,
		Phase:           s.Phase(),
		EndsAt:          s.EndsAt,
		DurationSeconds: int(s.Duration / time.Second),
		Payload:         s.Payload,
	})
}

// GameStarted 是开始游戏时广播的事件内容。
type GameStarted struct {
	RoomID            string   `json:"roomId"`
	GameID            string   `json:"gameId"`
	CurrentRound      int      `json:"currentRound"`
	CurrentTurnPlayer string   `json:"currentTurnPlayer"`
	SecretWord        string   `json:"secretWord"`
	Impostor          string   `json:"impostor"`
	State             Phase    `json:"state"`
	MaxRounds         int      `json:"maxRounds"`
	SecondsPerTurn    int      `json:"secondsPerTurn"`
	Players           []string `json:"players"`
}
