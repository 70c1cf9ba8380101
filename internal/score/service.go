// Package score はハイスコアの記録とリーダーボードのビジネスロジックを提供する。
package score

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hitoshi/bananaquiz/internal/model"
	"github.com/hitoshi/bananaquiz/internal/repository"
)

const (
	// DefaultLeaderboardLimit はlimit未指定時の件数。
	DefaultLeaderboardLimit = 10
	// MaxLeaderboardLimit はリーダーボードで返す最大件数。
	MaxLeaderboardLimit = 100

	// maxScore はscores.highscore(INTEGER)に格納できる上限。
	maxScore = math.MaxInt32
)

// Service はスコア送信とリーダーボード取得を提供する。
type Service struct {
	scores       repository.ScoreRepository
	defaultLimit int
	now          func() time.Time
}

// NewService はServiceを生成する。
// defaultLimitが範囲外の場合はDefaultLeaderboardLimitを使う。
func NewService(scores repository.ScoreRepository, defaultLimit int) *Service {
	if defaultLimit < 1 || defaultLimit > MaxLeaderboardLimit {
		defaultLimit = DefaultLeaderboardLimit
	}
	return &Service{
		scores:       scores,
		defaultLimit: defaultLimit,
		now:          time.Now,
	}
}

// SubmitScore は難易度ごとのハイスコアを更新する。
// 既存のハイスコアより低いスコアでも最終プレイ日時は更新される。
func (s *Service) SubmitScore(ctx context.Context, accountID string, levelName string, score int) (*model.ScoreRecord, error) {
	level, ok := model.ParseLevel(levelName)
	if !ok {
		return nil, model.NewValidationError("level must be one of easy, medium, hard")
	}
	if score < 0 || score > maxScore {
		return nil, model.NewValidationError("score must be a non-negative integer")
	}

	record, err := s.scores.Upsert(ctx, accountID, level, score, s.now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, model.NewAccountNotFoundError()
		}
		return nil, fmt.Errorf("failed to upsert score: %w", err)
	}

	slog.Info("score submitted",
		slog.String("account_id", accountID),
		slog.String("level", string(level)),
		slog.Int("score", score),
		slog.Int("highscore", record.Highscore),
	)
	return record, nil
}

// Leaderboard は全難易度の合計スコアの上位を返す。
// limitが0以下の場合は既定値、上限を超える場合はMaxLeaderboardLimitに丸める。
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > MaxLeaderboardLimit {
		limit = MaxLeaderboardLimit
	}

	entries, err := s.scores.Leaderboard(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}
	return entries, nil
}
