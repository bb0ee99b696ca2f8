package domain

import (
	"sort"
	"time"
)

// GameView 是一局游戏 (或其中一段) 的重建视图。
// 增量回放时，客户端把每段部分视图 Merge 进累加器。
type GameView struct {
	GameID       string                    `json:"id"`
	RoomID       string                    `json:"roomId"`
	Rounds       int                       `json:"rounds"`
	Players      []string                  `json:"players,omitempty"`
	CluesByRound map[int]map[string]string `json:"cluesByRound"`
	VotesByRound map[int]map[string]string `json:"votesByRound"`
	Messages     []Message                 `json:"messages"`
	EndedAt      *time.Time                `json:"endedAt,omitempty"`
}

// NewGameView 创建空视图。
func NewGameView(gameID, roomID string) GameView {
	return GameView{
		GameID:       gameID,
		RoomID:       roomID,
		CluesByRound: make(map[int]map[string]string),
		VotesByRound: make(map[int]map[string]string),
		Messages:     []Message{},
	}
}

// Reconstruct 从有序事件序列重建视图，与存储无关。
// Rounds 取所有事件中出现过的最大回合。
func Reconstruct(events []GameHistoryEvent) GameView {
	v := NewGameView("", "")
	for _, e := range events {
		v.Apply(e)
	}
	return v
}

// Apply 把单个事件归入视图。
func (v *GameView) Apply(e GameHistoryEvent) {
	v.ensureMaps()
	round := e.EffectiveRound()
	if round > v.Rounds {
		v.Rounds = round
	}
	switch e.Type {
	case EventMessage:
		v.Messages = append(v.Messages, Message{Username: e.Username, Content: e.Content, Timestamp: e.Timestamp})
	case EventClue:
		setRoundEntry(v.CluesByRound, round, e.Username, e.Content)
	case EventVote:
		voter := e.Voter
		if voter == "" {
			voter = e.Username
		}
		setRoundEntry(v.VotesByRound, round, voter, e.Target)
	}
}

// Merge 把部分视图 part 合并进 v：
// 消息取并集 (按时间排序)，线索/投票按 回合 -> 用户名 深度合并，Rounds 取最大值。
func (v *GameView) Merge(part GameView) {
	v.ensureMaps()
	if v.GameID == "" {
		v.GameID = part.GameID
	}
	if v.RoomID == "" {
		v.RoomID = part.RoomID
	}
	if len(v.Players) == 0 && len(part.Players) > 0 {
		v.Players = append([]string(nil), part.Players...)
	}
	if v.EndedAt == nil && part.EndedAt != nil {
		t := *part.EndedAt
		v.EndedAt = &t
	}
	if part.Rounds > v.Rounds {
		v.Rounds = part.Rounds
	}
	mergeRounds(v.CluesByRound, part.CluesByRound)
	mergeRounds(v.VotesByRound, part.VotesByRound)

	seen := make(map[Message]struct{}, len(v.Messages))
	for _, m := range v.Messages {
		seen[messageKey(m)] = struct{}{}
	}
	for _, m := range part.Messages {
		if _, dup := seen[messageKey(m)]; dup {
			continue
		}
		seen[messageKey(m)] = struct{}{}
		v.Messages = append(v.Messages, m)
	}
	sort.SliceStable(v.Messages, func(i, j int) bool { return v.Messages[i].Timestamp.Before(v.Messages[j].Timestamp) })
}

func (v *GameView) ensureMaps() {
	if v.CluesByRound == nil {
		v.CluesByRound = make(map[int]map[string]string)
	}
	if v.VotesByRound == nil {
		v.VotesByRound = make(map[int]map[string]string)
	}
	if v.Messages == nil {
		v.Messages = []Message{}
	}
}

// messageKey 把时间戳规范化，使不同 Location 的同一时刻比较相等。
func messageKey(m Message) Message {
	m.Timestamp = m.Timestamp.UTC()
	return m
}

func setRoundEntry(dst map[int]map[string]string, round int, username, value string) {
	byUser, ok := dst[round]
	if !ok {
		byUser = make(map[string]string)
		dst[round] = byUser
	}
	byUser[username] = value
}

func mergeRounds(dst, src map[int]map[string]string) {
	for round, byUser := range src {
		for username, value := range byUser {
			if cur, ok := dst[round][username]; ok && cur == value {
				continue
			}
			setRoundEntry(dst, round, username, value)
		}
	}
}

// SliceNextAny 返回游标处 (含) 的下一个事件，以及其后一个事件的时间戳作为新游标。
// cursor 为 nil 表示从头开始；返回的 next 为 nil 表示历史已结束。
// events 必须按时间升序。
func SliceNextAny(events []GameHistoryEvent, cursor *time.Time) (slice []GameHistoryEvent, next *time.Time) {
	start := firstAtOrAfter(events, cursor)
	if start >= len(events) {
		return nil, nil
	}
	return events[start : start+1], timestampAt(events, start+1)
}

// SliceNextSignificant 找到游标处 (含) 之后的第一个线索/投票事件，
// 返回从游标到该检查点 (含) 的全部事件，以及检查点之后下一个事件的时间戳。
// 游标之后已没有检查点时，返回剩余的全部事件并以 nil 游标结束。
func SliceNextSignificant(events []GameHistoryEvent, cursor *time.Time) (slice []GameHistoryEvent, next *time.Time) {
	start := firstAtOrAfter(events, cursor)
	if start >= len(events) {
		return nil, nil
	}
	for k := start; k < len(events); k++ {
		if events[k].Type.IsSignificant() {
			return events[start : k+1], timestampAt(events, k+1)
		}
	}
	return events[start:], nil
}

func firstAtOrAfter(events []GameHistoryEvent, cursor *time.Time) int {
	if cursor == nil {
		return 0
	}
	return sort.Search(len(events), func(i int) bool { return !events[i].Timestamp.Before(*cursor) })
}

func timestampAt(events []GameHistoryEvent, i int) *time.Time {
	if i >= len(events) {
		return nil
	}
	t := events[i].Timestamp
	return &t
}
