package domain

// SkipVote 是弃权票以及 "无人出局" 的哨兵值。
const SkipVote = "skip"

// Vote 表示某回合中一名玩家的投票。每个 (房间, 回合, 投票人) 最多一票。
type Vote struct {
	RoomID string `json:"roomId"`
	Round  int    `json:"round"`
	Voter  string `json:"voter"`
	Target string `json:"target"`
}

// IsSkip 报告目标是否为弃权 (空值也视为弃权)。
func IsSkip(target string) bool { return target == "" || target == SkipVote }

// MajorityThreshold 返回出局所需的最少票数 ⌈n/2⌉。
func MajorityThreshold(totalPlayers int) int {
	return (totalPlayers + 1) / 2
}

// TallyVotes 统计投票并返回出局者，无人出局时返回 SkipVote。
// votes 为 投票人 -> 目标。只有当得票最多的目标唯一，且票数 >= ⌈totalPlayers/2⌉ 时才出局。
func TallyVotes(votes map[string]string, totalPlayers int) string {
	counts := make(map[string]int)
	for _, target := range votes {
		if IsSkip(target) {
			continue
		}
		counts[target]++
	}

	maxVotes := 0
	var top []string
	for target, n := range counts {
		switch {
		case n > maxVotes:
			maxVotes = n
			top = []string{target}
		case n == maxVotes:
			top = append(top, target)
		}
	}

	if len(top) != 1 || maxVotes < MajorityThreshold(totalPlayers) {
		return SkipVote
	}
	return top[0]
}
