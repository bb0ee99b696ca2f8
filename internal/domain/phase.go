package domain

import (
	"fmt"
	"time"
)

// Phase 表示房间状态机所处的阶段。
type Phase string

const (
	PhaseShowSecret   Phase = "ShowSecret"
	PhaseInProgress   Phase = "InProgress"
	PhaseVoting       Phase = "Voting"
	PhaseVoteResult   Phase = "VoteResult"
	PhaseGameFinished Phase = "GameFinished"
)

// ParsePhase 将字符串解析为已知阶段，未知值返回错误。
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(s); p {
	case PhaseShowSecret, PhaseInProgress, PhaseVoting, PhaseVoteResult, PhaseGameFinished:
		return p, nil
	default:
		return "", fmt.Errorf("domain: unknown phase %q", s)
	}
}

// IsTerminal 报告该阶段是否为终态。
func (p Phase) IsTerminal() bool { return p == PhaseGameFinished }

// PhaseState 是 Live Room Store 中记录的阶段信息。
// EndsAt 由服务端计算 (开始时间 + 持续时间)，客户端倒计时和强制推进都以它为准。
type PhaseState struct {
	Phase     Phase         `json:"phase"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"-"`
}

// EndsAt 返回阶段的绝对结束时间。
func (s PhaseState) EndsAt() time.Time { return s.StartedAt.Add(s.Duration) }

// Elapsed 报告在 now 时刻阶段计时是否已结束，tolerance 允许客户端略早请求。
func (s PhaseState) Elapsed(now time.Time, tolerance time.Duration) bool {
	return !now.Before(s.EndsAt().Add(-tolerance))
}

// PhaseToken 标识一次强制推进请求针对的 (阶段, 回合)。
// 同一个 token 最多只能推进一次，过期的 token 被静默忽略。
// InProgress 阶段同一回合内有多个发言轮次，Turn 非空时还必须等于当前发言玩家。
type PhaseToken struct {
	Phase Phase  `json:"phase"`
	Round int    `json:"round"`
	Turn  string `json:"turn,omitempty"`
}
