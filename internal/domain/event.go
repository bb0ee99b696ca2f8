package domain

import (
	"sort"
	"time"
)

// EventType 是历史事件的类型。
type EventType string

const (
	EventMessage EventType = "message"
	EventClue    EventType = "clue"
	EventVote    EventType = "vote"
)

// IsSignificant 报告事件是否为关键事件 (线索或投票)，用作粗粒度回放的检查点。
func (t EventType) IsSignificant() bool { return t == EventClue || t == EventVote }

// GameHistoryEvent 是一局游戏中的一个事件。
// 进行中的游戏把事件缓存在 Redis，结束时写入 game_events (全部) 和
// game_significant_events (仅线索/投票) 两张表，两张表共用本结构。
type GameHistoryEvent struct {
	GameID    string    `gorm:"primaryKey;size:36" json:"gameId,omitempty"`
	Timestamp time.Time `gorm:"primaryKey;column:event_time;precision:6" json:"timestamp"`
	Type      EventType `gorm:"column:event_type;size:16;not null" json:"type"`
	Round     int       `gorm:"column:event_round;not null" json:"round"`
	Username  string    `gorm:"size:64" json:"username,omitempty"`
	Voter     string    `gorm:"size:64" json:"voter,omitempty"`
	Target    string    `gorm:"size:64" json:"target,omitempty"`
	Content   string    `gorm:"type:text" json:"content,omitempty"`
}

// TableName 全量事件表。显著事件表通过 db.Table(SignificantEventsTable) 复用同一结构。
func (GameHistoryEvent) TableName() string { return "game_events" }

// SignificantEventsTable 只保存线索和投票事件的表名。
const SignificantEventsTable = "game_significant_events"

// EffectiveRound 返回事件所属回合，<= 0 时归入第 1 回合。
func (e GameHistoryEvent) EffectiveRound() int {
	if e.Round <= 0 {
		return 1
	}
	return e.Round
}

// Message 是聊天消息在游戏视图中的表示。
type Message struct {
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NormalizeTimeline 按时间排序事件，并把时间戳截断到微秒后调整为严格递增。
// 持久化表以 (game_id, event_time) 为主键，回放游标也是时间戳，所以同一局内时间戳必须唯一。
func NormalizeTimeline(events []GameHistoryEvent) []GameHistoryEvent {
	out := make([]GameHistoryEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	var prev time.Time
	for i := range out {
		ts := out[i].Timestamp.UTC().Truncate(time.Microsecond)
		if i > 0 && !ts.After(prev) {
			ts = prev.Add(time.Microsecond)
		}
		out[i].Timestamp = ts
		prev = ts
	}
	return out
}
