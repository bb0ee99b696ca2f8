package domain

import "time"

// GameRecord 是一局已结束游戏的摘要，写入后不再修改。
type GameRecord struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	RoomID    string    `gorm:"size:16;index;not null" json:"roomId"`
	Players   []string  `gorm:"serializer:json;type:text" json:"players"`
	EndedAt   time.Time `gorm:"precision:6;not null" json:"endedAt"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (GameRecord) TableName() string { return "game_history" }

// UserGameIndex 是按用户名查询历史的二级索引，每个参与者一行。
type UserGameIndex struct {
	Username string    `gorm:"primaryKey;size:64" json:"username"`
	EndedAt  time.Time `gorm:"primaryKey;precision:6" json:"endedAt"`
	GameID   string    `gorm:"primaryKey;size:36" json:"gameId"`
	RoomID   string    `gorm:"size:16" json:"roomId"`
}

func (UserGameIndex) TableName() string { return "game_history_by_user" }

// UserStats 是玩家的累计战绩。
type UserStats struct {
	Username       string    `gorm:"primaryKey;size:64" json:"username"`
	GamesPlayed    int64     `gorm:"not null;default:0" json:"gamesPlayed"`
	WinsAsCrewmate int64     `gorm:"not null;default:0" json:"winsAsCrewmate"`
	WinsAsImpostor int64     `gorm:"not null;default:0" json:"winsAsImpostor"`
	TotalScore     int64     `gorm:"not null;default:0" json:"totalScore"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// SecretWord 是开局时可抽取的秘密词。
type SecretWord struct {
	ID   uint   `gorm:"primaryKey"`
	Word string `gorm:"uniqueIndex;size:64;not null"`
}

// DefaultSecretWords 词库为空时使用的内置词表，也用于初始化 secret_words 表。
var DefaultSecretWords = []string{
	"lighthouse", "volcano", "library", "submarine", "carnival",
	"glacier", "orchestra", "pyramid", "hospital", "airport",
	"bakery", "castle", "desert", "jungle", "museum",
	"stadium", "subway", "telescope", "vineyard", "waterfall",
}

const (
	// ImpostorWinPoints 内鬼获胜得分。
	ImpostorWinPoints = 5
	// CrewmateWinPoints 船员获胜时每人得分。
	CrewmateWinPoints = 3
)

// PlayerResult 是一名玩家在一局中的结果。
type PlayerResult struct {
	Username   string
	IsImpostor bool
	Won        bool
	Points     int
}

// ScoreGame 根据出局者判定胜负并计算每名玩家得分。
// 当且仅当出局者是内鬼时船员获胜；无人出局且回合用尽也算内鬼获胜。
func ScoreGame(members []string, impostor, ejected string) (impostorWon bool, results []PlayerResult) {
	impostorWon = IsSkip(ejected) || ejected != impostor
	results = make([]PlayerResult, 0, len(members))
	for _, name := range members {
		r := PlayerResult{Username: name, IsImpostor: name == impostor}
		if r.IsImpostor {
			r.Won = impostorWon
			if r.Won {
				r.Points = ImpostorWinPoints
			}
		} else {
			r.Won = !impostorWon
			if r.Won {
				r.Points = CrewmateWinPoints
			}
		}
		results = append(results, r)
	}
	return impostorWon, results
}

// FinishedGame 是结束时一次性写入持久层的全部内容。
type FinishedGame struct {
	Record  GameRecord
	Events  []GameHistoryEvent
	Results []PlayerResult
}
