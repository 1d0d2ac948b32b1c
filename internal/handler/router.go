package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/pitchday/internal/middleware"
	"github.com/hitoshi/pitchday/internal/model"
)

// HealthChecker はバックエンドストアの疎通確認を行う。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	AdminIdentities   middleware.IdentityFinder
	AdminEmails       []string
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Metrics           middleware.StatusObserver
	MetricsHandler    http.Handler
	HealthChecker     HealthChecker

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 投資家検索
	IdentityResolver IdentityResolver

	// 投票・面談リクエスト
	EngagementService EngagementServiceInterface
	Startups          StartupLister

	// 集計
	AggregationService AggregationServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RealIP → Logging → Metrics → SecurityHeaders → CORS → CSRF
//	  → (/api) SessionMiddleware → RateLimitMiddleware(GeneralMiddleware)
//	  → (/api/admin) AdminMiddleware
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	identityHandler := NewIdentityHandler(deps.IdentityResolver)
	engagementHandler := NewEngagementHandler(deps.EngagementService, deps.Startups)
	aggregationHandler := NewAggregationHandler(deps.AggregationService)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
		r.With(deps.RateLimiter.SignInMiddleware()).Post("/link", authHandler.SendLink)
		r.Post("/complete", authHandler.CompleteLink)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- 認証必須のルート ---

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/identities", identityHandler.GetByEmail)
		r.Get("/api/startups", engagementHandler.ListStartups)

		r.Route("/api/votes", func(r chi.Router) {
			r.Post("/", engagementHandler.CastVote)
			r.Get("/me", engagementHandler.CurrentVote)
		})

		r.Route("/api/meeting-requests", func(r chi.Router) {
			r.Get("/", engagementHandler.ListMeetingRequests)
			r.Get("/stream", engagementHandler.StreamMeetingRequests)
			r.Post("/{startupId}/toggle", engagementHandler.ToggleMeetingRequest)
		})

		r.Get("/api/leaderboard", aggregationHandler.Leaderboard)
		r.Get("/api/leaderboard/stream", aggregationHandler.StreamLeaderboard)

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.NewAdminMiddleware(deps.AdminIdentities, deps.AdminEmails))
			r.Get("/rollup", aggregationHandler.AdminRollup)
		})
	})

	return r
}

// healthHandler はストアに到達できれば200、できなければ503を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				handleServiceError(w, model.NewStoreUnavailableError(err))
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
