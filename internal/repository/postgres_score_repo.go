package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/bananaquiz/internal/model"
)

// PostgresScoreRepo はPostgreSQLを使用したハイスコアリポジトリ。
type PostgresScoreRepo struct {
	db *sql.DB
}

// NewPostgresScoreRepo はPostgresScoreRepoを生成する。
func NewPostgresScoreRepo(db *sql.DB) *PostgresScoreRepo {
	return &PostgresScoreRepo{db: db}
}

// Upsert は(accountID, level)のハイスコアを原子的に更新する。
// PRIMARY KEY(user_id, level)を利用したINSERT ON CONFLICTの1文で実行するため、
// 同一ユーザーからの同時送信でも更新が失われない。
func (r *PostgresScoreRepo) Upsert(
	ctx context.Context,
	accountID string,
	level model.Level,
	score int,
	playedAt time.Time,
) (*model.ScoreRecord, error) {
	record := &model.ScoreRecord{}
	var lvl string

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO scores (user_id, level, highscore, last_played)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, level) DO UPDATE SET
		   highscore   = GREATEST(scores.highscore, EXCLUDED.highscore),
		   last_played = GREATEST(scores.last_played, EXCLUDED.last_played)
		 RETURNING user_id, level, highscore, last_played`,
		accountID, string(level), score, playedAt,
	).Scan(&record.AccountID, &lvl, &record.Highscore, &record.LastPlayed)

	if isForeignKeyViolation(err) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert score: %w", err)
	}

	record.Level = model.Level(lvl)
	return record, nil
}

// Leaderboard は全難易度のハイスコア合計の降順でlimit件を返す。
// スコア未登録のユーザーも合計0として含める。
func (r *PostgresScoreRepo) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.email,
		        COALESCE(SUM(s.highscore), 0) AS total_score,
		        MAX(s.last_played) AS last_played
		 FROM users u
		 LEFT JOIN scores s ON s.user_id = u.id
		 GROUP BY u.id, u.email, u.created_at
		 ORDER BY total_score DESC, u.created_at ASC, u.id ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	entries := make([]model.LeaderboardEntry, 0, limit)
	for rows.Next() {
		var entry model.LeaderboardEntry
		var lastPlayed sql.NullTime
		if err := rows.Scan(&entry.Email, &entry.TotalScore, &lastPlayed); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		if lastPlayed.Valid {
			t := lastPlayed.Time
			entry.LastPlayed = &t
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate leaderboard rows: %w", err)
	}

	return entries, nil
}

// compile-time interface check
var _ ScoreRepository = (*PostgresScoreRepo)(nil)
