package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/bananaquiz/internal/metrics"
	"github.com/hitoshi/bananaquiz/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	AccountFinder     middleware.AccountFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 監視
	Metrics         metrics.MetricsCollector
	MetricsGatherer prometheus.Gatherer
	HealthChecker   HealthChecker

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ゲーム
	PuzzleService PuzzleServiceInterface
	ScoreService  ScoreServiceInterface
	GameConfig    GameHandlerConfig
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → Metrics → SecurityHeaders → CORS
//
// 認証が必要なルートには Session → RateLimit(General) を追加し、
// 登録・ログインには IP単位の RateLimit(Auth) を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.NopCollector{}
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewMetricsMiddleware(mc))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig, mc)
	gameHandler := NewGameHandler(deps.PuzzleService, deps.ScoreService, deps.GameConfig, mc)

	sessionMW := middleware.NewSessionMiddleware(deps.TokenVerifier, deps.AccountFinder)

	// --- 監視 ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- 認証 ---
	r.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(sessionMW)
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})
	})

	// --- ゲーム ---
	r.Route("/api/game", func(r chi.Router) {
		r.Get("/question", gameHandler.Question)
		r.Post("/answer", gameHandler.Answer)
		r.Get("/leaderboard", gameHandler.Leaderboard)

		r.Group(func(r chi.Router) {
			r.Use(sessionMW)
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Post("/new", gameHandler.NewGame)
			r.Post("/score", gameHandler.SubmitScore)
		})
	})

	return r
}
