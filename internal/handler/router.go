package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/chairside/internal/metrics"
	"github.com/hitoshi/chairside/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	HSTS              bool // HTTPSで公開する場合にStrict-Transport-Securityを付与する
	RateLimiter       *middleware.RateLimiter

	// 監視
	HealthChecker   Pinger
	Metrics         middleware.HTTPStatusRecorder
	MetricsGatherer prometheus.Gatherer

	// 認証
	AuthService AuthServiceInterface

	// 会話
	Conversation ConversationServiceInterface
	Transcripts  TranscriptServiceInterface

	// 予約
	Ledger LedgerServiceInterface
	Users  UserResolver
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Metrics → Recovery → SecurityHeaders → CORS → Auth → RateLimit(General)
//
// Recoveryをログとメトリクスの内側に置き、panicによる500もアクセスログとカウンタに残す。
// /health、/metrics、POST /auth/tokenは認証チェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService)
	chatHandler := NewChatHandler(deps.Conversation, deps.Transcripts)
	bookingHandler := NewBookingHandler(deps.Ledger, deps.Users)

	// --- 認証不要のルート ---

	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// トークン発行
	r.Post("/auth/token", authHandler.IssueToken)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/auth/me", authHandler.Me)

		// 会話
		r.Route("/api/chat", func(r chi.Router) {
			// POST /api/chat/messages - メッセージ投稿（投稿専用レート制限を追加）
			r.With(deps.RateLimiter.MessageMiddleware()).Post("/messages", chatHandler.PostMessage)

			r.Route("/sessions/{token}", func(r chi.Router) {
				r.Get("/", chatHandler.GetSession)
				r.Get("/messages", chatHandler.ListMessages)
				r.Delete("/messages", chatHandler.PurgeMessages)
			})
		})

		// 予約
		r.Route("/api/appointments", func(r chi.Router) {
			r.Get("/", bookingHandler.ListAppointments)
			r.With(deps.RateLimiter.MessageMiddleware()).Post("/confirm", bookingHandler.Confirm)
		})
	})

	return r
}
