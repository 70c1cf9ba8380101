// Package model はドメインモデルを定義する。
package model

import "time"

// Level はパズルの難易度を表す。
type Level string

const (
	// LevelEasy は初級。スコア送信時にlevelが省略された場合の既定値。
	LevelEasy Level = "easy"
	// LevelMedium は中級。
	LevelMedium Level = "medium"
	// LevelHard は上級。
	LevelHard Level = "hard"
)

// ParseLevel は文字列をLevelに変換する。空文字列はLevelEasyとして扱う。
func ParseLevel(s string) (Level, bool) {
	switch Level(s) {
	case "", LevelEasy:
		return LevelEasy, true
	case LevelMedium:
		return LevelMedium, true
	case LevelHard:
		return LevelHard, true
	default:
		return "", false
	}
}

// ScoreRecord はユーザー・難易度ごとのハイスコアを表す。
// (AccountID, Level) の組で一意であり、Highscoreは減少しない。
type ScoreRecord struct {
	AccountID  string
	Level      Level
	Highscore  int
	LastPlayed time.Time
}

// LeaderboardEntry はリーダーボードの1行を表す。
// TotalScoreは全難易度のハイスコア合計。未プレイのユーザーは0でLastPlayedはnil。
type LeaderboardEntry struct {
	Email      string     `json:"email"`
	TotalScore int        `json:"total_score"`
	LastPlayed *time.Time `json:"last_played"`
}
