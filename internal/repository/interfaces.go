// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/bananaquiz/internal/model"
)

var (
	// ErrDuplicateEmail はemailのユニーク制約違反を表す。
	ErrDuplicateEmail = errors.New("email already exists")
	// ErrAccountNotFound は参照先のユーザーが存在しないことを表す。
	ErrAccountNotFound = errors.New("account not found")
)

// AccountRepository はユーザーアカウントの永続化インターフェース。
type AccountRepository interface {
	// Create はアカウントを作成する。
	// emailが既に存在する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, account *model.Account) error

	// FindByEmail はemailでアカウントを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Account, error)

	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)
}

// ScoreRepository はハイスコアの永続化インターフェース。
type ScoreRepository interface {
	// Upsert は(accountID, level)のハイスコアを単一のINSERT ON CONFLICT文で更新する。
	// highscoreは既存値との大きい方、last_playedはplayedAtに進める。
	// アカウントが存在しない場合はErrAccountNotFoundを返す。
	Upsert(ctx context.Context, accountID string, level model.Level, score int, playedAt time.Time) (*model.ScoreRecord, error)

	// Leaderboard は全難易度のハイスコア合計の降順でlimit件を返す。
	// 同点はアカウント作成順。
	Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)
}
