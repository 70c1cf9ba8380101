// Package puzzle は外部バナナパズルAPIからの問題取得と、解答チケットの発行・検証を提供する。
package puzzle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/bananaquiz/internal/metrics"
	"github.com/hitoshi/bananaquiz/internal/model"
	"github.com/sethvargo/go-retry"
)

const (
	// maxResponseSize は上流レスポンスとして読み込む最大バイト数。
	maxResponseSize = 64 * 1024

	minSolution = 1
	maxSolution = 9
)

var (
	// ErrUpstreamUnavailable は通信エラーや非200応答で上流に到達できないことを表す。
	// リトライせず即座に返す。
	ErrUpstreamUnavailable = errors.New("puzzle upstream unavailable")
	// ErrInvalidShape は上流の応答が期待する形式でないことを表す。
	// 試行回数の上限まで再取得した後に返す。
	ErrInvalidShape = errors.New("puzzle upstream returned invalid shape")
)

// URLValidator は上流から受け取った画像URLの検証インターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// ClientConfig はパズルAPIクライアントの設定。
type ClientConfig struct {
	Endpoint    string
	MaxAttempts int
	RetryDelay  time.Duration
}

// Client は外部パズルAPIのクライアント。
type Client struct {
	endpoint    string
	httpClient  *http.Client
	validator   URLValidator
	metrics     metrics.MetricsCollector
	maxAttempts int
	retryDelay  time.Duration
}

// NewClient はClientを生成する。
// httpClientにはタイムアウト付きのクライアントを渡すこと。
func NewClient(cfg ClientConfig, httpClient *http.Client, validator URLValidator, mc metrics.MetricsCollector) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Millisecond
	}
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Client{
		endpoint:    cfg.Endpoint,
		httpClient:  httpClient,
		validator:   validator,
		metrics:     mc,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
	}
}

// Fetch は上流から問題を1件取得し、検証済みのChallengeを返す。
// 形式不正の応答は最大MaxAttempts回まで再取得する。通信エラーは再試行しない。
func (c *Client) Fetch(ctx context.Context) (*model.Challenge, error) {
	start := time.Now()
	attempts := 0

	var challenge *model.Challenge
	backoff := retry.WithMaxRetries(uint64(c.maxAttempts-1), retry.NewConstant(c.retryDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++

		body, err := c.get(ctx)
		if errors.Is(err, ErrInvalidShape) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}

		ch, err := parseChallenge(body, c.validator)
		if err != nil {
			slog.Warn("puzzle upstream returned invalid shape",
				slog.Int("attempt", attempts),
				slog.String("error", err.Error()),
			)
			return retry.RetryableError(err)
		}

		challenge = ch
		return nil
	})

	elapsed := time.Since(start)
	switch {
	case err == nil:
		c.metrics.RecordPuzzleFetch(metrics.OutcomeSuccess, attempts, elapsed)
		return challenge, nil
	case errors.Is(err, ErrInvalidShape):
		c.metrics.RecordPuzzleFetch(metrics.OutcomeInvalidShape, attempts, elapsed)
		return nil, err
	case errors.Is(err, ErrUpstreamUnavailable):
		c.metrics.RecordPuzzleFetch(metrics.OutcomeUnavailable, attempts, elapsed)
		return nil, err
	default:
		// リトライ待機中のコンテキストキャンセル
		c.metrics.RecordPuzzleFetch(metrics.OutcomeUnavailable, attempts, elapsed)
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
}

// get は上流にGETリクエストを送り、レスポンスボディを返す。
func (c *Client) get(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if len(body) > maxResponseSize {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrInvalidShape, maxResponseSize)
	}
	return body, nil
}

// upstreamPayload は上流APIの生の応答。検証前の値は信用しない。
type upstreamPayload struct {
	Question *string         `json:"question"`
	Solution json.RawMessage `json:"solution"`
}

// parseChallenge は上流の応答を検証し、Challengeを生成する。
// 画像URLが存在し安全であること、解答が1〜9の整数であることを確認する。
func parseChallenge(body []byte, validator URLValidator) (*model.Challenge, error) {
	var payload upstreamPayload
	if err := json.Unmarshal(bytes.TrimSpace(body), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}

	if payload.Question == nil || strings.TrimSpace(*payload.Question) == "" {
		return nil, fmt.Errorf("%w: missing question", ErrInvalidShape)
	}
	imageURL := strings.TrimSpace(*payload.Question)
	if validator != nil {
		if err := validator.ValidateURL(imageURL); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
		}
	}

	solution, err := parseSolution(payload.Solution)
	if err != nil {
		return nil, err
	}

	return &model.Challenge{
		ImageURL: imageURL,
		Solution: solution,
	}, nil
}

// parseSolution は数値または数値文字列の解答を整数に変換する。
func parseSolution(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("%w: missing solution", ErrInvalidShape)
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		text = string(raw)
	}

	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, fmt.Errorf("%w: solution %s is not an integer", ErrInvalidShape, raw)
	}
	if n < minSolution || n > maxSolution {
		return 0, fmt.Errorf("%w: solution %d out of range", ErrInvalidShape, n)
	}
	return n, nil
}
