package puzzle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/bananaquiz/internal/model"
)

// Fetcher は検証済みのパズルを取得するインターフェース。
type Fetcher interface {
	Fetch(ctx context.Context) (*model.Challenge, error)
}

// Question はクライアントへ出題するパズル。
// Solutionは互換モードの場合のみレスポンスに含める。
type Question struct {
	ImageURL        string
	Ticket          string
	TicketExpiresAt time.Time
	Solution        int
}

// AnswerResult は解答の判定結果。
type AnswerResult struct {
	Correct  bool
	Solution int
}

// Service はパズルの出題と解答判定を提供する。
type Service struct {
	fetcher Fetcher
	sealer  *TicketSealer
}

// NewService はServiceを生成する。
func NewService(fetcher Fetcher, sealer *TicketSealer) *Service {
	return &Service{
		fetcher: fetcher,
		sealer:  sealer,
	}
}

// NewQuestion はパズルを1件取得し、解答を封印したチケットとともに返す。
// 上流の障害はクライアントに詳細を見せず、PUZZLE_UNAVAILABLEとして返す。
func (s *Service) NewQuestion(ctx context.Context) (*Question, error) {
	challenge, err := s.fetcher.Fetch(ctx)
	if err != nil {
		slog.Error("failed to fetch puzzle", slog.String("error", err.Error()))
		return nil, model.NewPuzzleUnavailableError()
	}

	ticket, expiresAt, err := s.sealer.Seal(challenge.Solution)
	if err != nil {
		return nil, fmt.Errorf("failed to seal puzzle ticket: %w", err)
	}

	return &Question{
		ImageURL:        challenge.ImageURL,
		Ticket:          ticket,
		TicketExpiresAt: expiresAt,
		Solution:        challenge.Solution,
	}, nil
}

// CheckAnswer はチケットを開封し、解答の正誤を判定する。
func (s *Service) CheckAnswer(ticket string, answer int) (*AnswerResult, error) {
	if ticket == "" {
		return nil, model.NewValidationError("ticket is required")
	}

	solution, err := s.sealer.Open(ticket)
	if err != nil {
		if errors.Is(err, ErrInvalidTicket) {
			return nil, model.NewInvalidTicketError()
		}
		return nil, fmt.Errorf("failed to open puzzle ticket: %w", err)
	}

	return &AnswerResult{
		Correct:  answer == solution,
		Solution: solution,
	}, nil
}
