package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/jobhub/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	// StrictTransport が真の場合はHSTSヘッダーを付与する。
	StrictTransport   bool
	RateLimiter       *middleware.RateLimiter
	TokenVerifier     middleware.TokenVerifier
	Multiuser         bool
	// OnAuthFailure は認証失敗の理由を受け取る。nil可。
	OnAuthFailure func(reason string)
	// OnResponse は全レスポンスのステータスコードを受け取る。nil可。
	OnResponse func(statusCode int)

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
	WSHandler      http.Handler

	// サービス
	AuthService  AuthServiceInterface
	SetupService SetupServiceInterface
	UserService  UserServiceInterface
	BoardService BoardServiceInterface
	QueueService QueueServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → (Auth → RateLimit(General))
//
// ログインと初期セットアップは認証不要で、IP単位のレート制限のみを適用する。
// /ws は接続時に自前でトークンを解決するため、認証ミドルウェアの外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var observers []func(int)
	if deps.OnResponse != nil {
		observers = append(observers, deps.OnResponse)
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, observers...))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.StrictTransport))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.SetupService)
	userHandler := NewUserHandler(deps.UserService)
	boardHandler := NewBoardHandler(deps.BoardService)
	queueHandler := NewQueueHandler(deps.QueueService)

	// --- 認証不要のルート ---
	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	if deps.WSHandler != nil {
		r.Method(http.MethodGet, "/ws", deps.WSHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.LoginMiddleware())
		r.Post("/api/v1/auth/login", authHandler.Login)
		r.Post("/api/v1/auth/setup", authHandler.Setup)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(middleware.AuthConfig{
			Verifier:  deps.TokenVerifier,
			Multiuser: deps.Multiuser,
			OnFailure: deps.OnAuthFailure,
		}))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/v1/auth/me", authHandler.Me)
		r.Post("/api/v1/auth/logout", authHandler.Logout)

		// ユーザー管理（管理者のみ）
		r.With(middleware.RequireAdmin).Post("/api/v1/users", userHandler.Create)

		// ボード管理
		r.Route("/api/v1/boards", func(r chi.Router) {
			r.Post("/", boardHandler.Create)
			r.Get("/", boardHandler.List)

			r.Route("/{board_id}", func(r chi.Router) {
				r.Get("/", boardHandler.Get)
				r.Patch("/", boardHandler.Update)
				r.Delete("/", boardHandler.Delete)
			})
		})

		// セッションキュー
		r.Route("/api/v1/queue/{queue_id}", func(r chi.Router) {
			r.Post("/enqueue_batch", queueHandler.Enqueue)
			r.Get("/list", queueHandler.List)
			r.Put("/clear", queueHandler.Clear)
			r.Get("/status", queueHandler.Status)

			r.Route("/i/{item_id}", func(r chi.Router) {
				r.Get("/", queueHandler.Get)
				r.Put("/cancel", queueHandler.Cancel)
				r.Delete("/", queueHandler.Delete)
			})
		})
	})

	return r
}
