// Package app はサブコマンドの解析と、設定・ログ・DB・各サービスのワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/bananaquiz/internal/auth"
	"github.com/hitoshi/bananaquiz/internal/config"
	"github.com/hitoshi/bananaquiz/internal/database"
	"github.com/hitoshi/bananaquiz/internal/handler"
	"github.com/hitoshi/bananaquiz/internal/logger"
	"github.com/hitoshi/bananaquiz/internal/metrics"
	"github.com/hitoshi/bananaquiz/internal/middleware"
	"github.com/hitoshi/bananaquiz/internal/puzzle"
	"github.com/hitoshi/bananaquiz/internal/repository"
	"github.com/hitoshi/bananaquiz/internal/score"
	"github.com/hitoshi/bananaquiz/internal/security"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでログを再構成する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "5000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開いてマイグレーションを適用し、全依存関係をワイヤリングしてHTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	// 2. マイグレーション
	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	slog.Info("database schema is up to date", slog.Uint64("version", uint64(version)))

	// 3. 依存関係のワイヤリング
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	server, cleanup, err := newServer(cfg, db, reg)
	if err != nil {
		return err
	}
	defer cleanup()

	// 4. HTTPサーバーの起動
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newServer はリポジトリ・サービス・ルーターを組み立て、起動前のhttp.Serverを返す。
// 返却するcleanupでレートリミッターのバックグラウンド処理を停止する。
func newServer(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) (*http.Server, func(), error) {
	// リポジトリの初期化
	accountRepo := repository.NewPostgresAccountRepo(db)
	scoreRepo := repository.NewPostgresScoreRepo(db)

	// 監視
	collector := metrics.NewCollector(reg)

	// 認証
	tokens := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL)
	authService := auth.NewService(accountRepo, auth.NewBcryptHasher(cfg.BcryptCost), tokens)

	// パズル
	guard := security.NewUpstreamGuard()
	puzzleClient := puzzle.NewClient(puzzle.ClientConfig{
		Endpoint:    cfg.PuzzleAPIURL,
		MaxAttempts: cfg.PuzzleMaxAttempts,
		RetryDelay:  cfg.PuzzleRetryDelay,
	}, guard.NewSafeClient(cfg.PuzzleTimeout), guard, collector)

	sealer, err := puzzle.NewTicketSealer([]byte(cfg.JWTSecret), cfg.PuzzleTicketTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create puzzle ticket sealer: %w", err)
	}
	puzzleService := puzzle.NewService(puzzleClient, sealer)

	// スコア
	scoreService := score.NewService(scoreRepo, cfg.LeaderboardLimit)

	// レート制限（req/min -> req/sec に変換）
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitAuth),
		collector,
	)

	router := handler.NewRouter(&handler.RouterDeps{
		TokenVerifier:     tokens,
		AccountFinder:     accountRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		Metrics:         collector,
		MetricsGatherer: reg,
		HealthChecker:   db,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
			TokenTTL:     tokens.TTL(),
		},

		PuzzleService: puzzleService,
		ScoreService:  scoreService,
		GameConfig: handler.GameHandlerConfig{
			ExposeSolution: cfg.PuzzleExposeSolution,
		},
	})

	if cfg.PuzzleExposeSolution {
		slog.Warn("puzzle solutions are exposed in question responses")
	}

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// パズル取得のリトライを含めても収まる長さにする
		WriteTimeout: cfg.PuzzleTimeout*time.Duration(cfg.PuzzleMaxAttempts) + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server, rateLimiter.Stop, nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
