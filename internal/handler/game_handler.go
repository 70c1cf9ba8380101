package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/bananaquiz/internal/metrics"
	"github.com/hitoshi/bananaquiz/internal/middleware"
	"github.com/hitoshi/bananaquiz/internal/model"
	"github.com/hitoshi/bananaquiz/internal/puzzle"
)

// PuzzleServiceInterface はゲームハンドラーが必要とするパズルサービスインターフェース。
type PuzzleServiceInterface interface {
	NewQuestion(ctx context.Context) (*puzzle.Question, error)
	CheckAnswer(ticket string, answer int) (*puzzle.AnswerResult, error)
}

// ScoreServiceInterface はゲームハンドラーが必要とするスコアサービスインターフェース。
type ScoreServiceInterface interface {
	SubmitScore(ctx context.Context, accountID string, level string, score int) (*model.ScoreRecord, error)
	Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)
}

// GameHandlerConfig はゲームハンドラーの設定。
type GameHandlerConfig struct {
	// ExposeSolution が有効な場合、旧クライアント向けに解答をレスポンスに含める。
	ExposeSolution bool
}

// GameHandler はパズル出題・解答・スコア関連のHTTPハンドラー。
type GameHandler struct {
	puzzles PuzzleServiceInterface
	scores  ScoreServiceInterface
	config  GameHandlerConfig
	metrics metrics.MetricsCollector
}

// NewGameHandler はGameHandlerを生成する。
func NewGameHandler(puzzles PuzzleServiceInterface, scores ScoreServiceInterface, config GameHandlerConfig, mc metrics.MetricsCollector) *GameHandler {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &GameHandler{
		puzzles: puzzles,
		scores:  scores,
		config:  config,
		metrics: mc,
	}
}

type questionResponse struct {
	Question  string    `json:"question"`
	Ticket    string    `json:"ticket"`
	ExpiresAt time.Time `json:"expires_at"`
	Solution  *int      `json:"solution,omitempty"`
}

type newGameRequest struct {
	Level string `json:"level"`
}

type newGameResponse struct {
	Message string `json:"message"`
	questionResponse
	Level model.Level `json:"level"`
}

type answerRequest struct {
	Ticket string          `json:"ticket"`
	Answer json.RawMessage `json:"answer"`
}

type answerResponse struct {
	Correct  bool `json:"correct"`
	Solution int  `json:"solution"`
}

type scoreRequest struct {
	Level string          `json:"level"`
	Score json.RawMessage `json:"score"`
}

type leaderboardResponse struct {
	Success     bool                     `json:"success"`
	Leaderboard []model.LeaderboardEntry `json:"leaderboard"`
}

// Question は新しいパズルを返す。認証不要。
// GET /api/game/question
func (h *GameHandler) Question(w http.ResponseWriter, r *http.Request) {
	q, err := h.puzzles.NewQuestion(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, h.toQuestionResponse(q))
}

// NewGame はゲームを開始し、最初のパズルを返す。
// POST /api/game/new
func (h *GameHandler) NewGame(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		handleServiceError(w, r, model.NewUnauthenticatedError("No authentication cookie found"))
		return
	}

	var req newGameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	level, valid := model.ParseLevel(req.Level)
	if !valid {
		handleServiceError(w, r, model.NewValidationError("level must be one of easy, medium, hard"))
		return
	}

	q, err := h.puzzles.NewQuestion(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	slog.Info("new game started",
		slog.String("account_id", identity.ID),
		slog.String("email", identity.Email),
		slog.String("level", string(level)),
	)
	writeJSON(w, http.StatusOK, newGameResponse{
		Message:          "New game started",
		questionResponse: h.toQuestionResponse(q),
		Level:            level,
	})
}

// Answer はチケットに封印された解答と照合する。認証不要。
// POST /api/game/answer
func (h *GameHandler) Answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	answer, err := parseNonNegativeInt(req.Answer, "answer")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.puzzles.CheckAnswer(req.Ticket, answer)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, answerResponse{
		Correct:  result.Correct,
		Solution: result.Solution,
	})
}

// SubmitScore はログイン中のユーザーのスコアを記録する。
// POST /api/game/score
func (h *GameHandler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		handleServiceError(w, r, model.NewUnauthenticatedError("No authentication cookie found"))
		return
	}

	var req scoreRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	score, err := parseNonNegativeInt(req.Score, "score")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	record, err := h.scores.SubmitScore(r.Context(), identity.ID, req.Level, score)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.metrics.RecordScoreSubmission(string(record.Level))
	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "Score saved successfully!",
	})
}

// Leaderboard は合計スコアの上位ユーザーを返す。認証不要。
// GET /api/game/leaderboard?limit=10
func (h *GameHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			handleServiceError(w, r, model.NewValidationError("limit must be a positive integer"))
			return
		}
		limit = n
	}

	entries, err := h.scores.Leaderboard(r.Context(), limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}

	writeJSON(w, http.StatusOK, leaderboardResponse{
		Success:     true,
		Leaderboard: entries,
	})
}

func (h *GameHandler) toQuestionResponse(q *puzzle.Question) questionResponse {
	resp := questionResponse{
		Question:  q.ImageURL,
		Ticket:    q.Ticket,
		ExpiresAt: q.TicketExpiresAt,
	}
	if h.config.ExposeSolution {
		solution := q.Solution
		resp.Solution = &solution
	}
	return resp
}

// parseNonNegativeInt はJSONの数値リテラルを0以上の整数として解釈する。
// 文字列・小数・欠落はバリデーションエラーにする。
func parseNonNegativeInt(raw json.RawMessage, field string) (int, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return 0, model.NewValidationError(field + " is required")
	}
	n, err := strconv.Atoi(text)
	if err != nil || n < 0 {
		return 0, model.NewValidationError(field + " must be a non-negative integer")
	}
	return n, nil
}
