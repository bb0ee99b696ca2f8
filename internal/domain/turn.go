package domain

import "sort"

// SortedRoster 返回按字典序排序的名册副本。轮转顺序在整局游戏中保持不变。
func SortedRoster(members []string) []string {
	roster := append([]string(nil), members...)
	sort.Strings(roster)
	return roster
}

// NextTurn 计算 current 之后轮到的玩家 (按 roster 顺序循环)。
// 当下一个玩家回到本回合的起始玩家 anchor 时，lapComplete 为 true，表示应进入投票。
// current 不在名册中时视为本圈结束，返回 anchor。
func NextTurn(roster []string, current, anchor string) (next string, lapComplete bool) {
	idx := indexOf(roster, current)
	if idx < 0 {
		return anchor, true
	}
	next = roster[(idx+1)%len(roster)]
	return next, next == anchor
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

// Contains 报告 list 中是否包含 v。
func Contains(list []string, v string) bool { return indexOf(list, v) >= 0 }
