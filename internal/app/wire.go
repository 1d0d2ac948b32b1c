package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/pitchday/internal/aggregation"
	"github.com/hitoshi/pitchday/internal/auth"
	"github.com/hitoshi/pitchday/internal/config"
	"github.com/hitoshi/pitchday/internal/database"
	"github.com/hitoshi/pitchday/internal/docstore"
	"github.com/hitoshi/pitchday/internal/engagement"
	"github.com/hitoshi/pitchday/internal/events"
	"github.com/hitoshi/pitchday/internal/handler"
	"github.com/hitoshi/pitchday/internal/identity"
	"github.com/hitoshi/pitchday/internal/metrics"
	"github.com/hitoshi/pitchday/internal/middleware"
	"github.com/hitoshi/pitchday/internal/repository"
	"github.com/hitoshi/pitchday/internal/seed"
)

// subscriptionCounter は稼働中の購読数を返すストア。
type subscriptionCounter interface {
	ActiveSubscriptions() int
}

// backend は選択されたストアとその後始末をまとめる。
type backend struct {
	store docstore.Store
	db    *sql.DB // postgresバックエンドのときのみ非nil
	close func()
}

// openBackend は設定に応じてドキュメントストアを開く。
// postgresの場合はLISTENのgoroutineも起動し、ctxのキャンセルで停止する。
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	if cfg.StoreBackend == config.StoreBackendMemory {
		slog.Warn("using in-memory store; data is lost on restart")
		return &backend{store: docstore.NewMemoryStore(), close: func() {}}, nil
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	slog.Info("database connection established")

	store := docstore.NewPostgresStore(db)
	listenCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := store.Listen(listenCtx, cfg.DatabaseURL); err != nil {
			slog.Error("docstore listener stopped", slog.String("error", err.Error()))
		}
	}()

	return &backend{
		store: store,
		db:    db,
		close: func() {
			cancel()
			<-done
			db.Close()
		},
	}, nil
}

// repositories はストア上のリポジトリ一式。
type repositories struct {
	identities *repository.DocIdentityRepo
	accounts   *repository.DocAuthAccountRepo
	links      *repository.DocLoginLinkRepo
	sessions   *repository.DocSessionRepo
	votes      *repository.DocVoteRepo
	meetings   *repository.DocMeetingRequestRepo
	startups   *repository.DocStartupRepo
}

func newRepositories(store docstore.Store) *repositories {
	return &repositories{
		identities: repository.NewDocIdentityRepo(store),
		accounts:   repository.NewDocAuthAccountRepo(store),
		links:      repository.NewDocLoginLinkRepo(store),
		sessions:   repository.NewDocSessionRepo(store),
		votes:      repository.NewDocVoteRepo(store),
		meetings:   repository.NewDocMeetingRequestRepo(store),
		startups:   repository.NewDocStartupRepo(store),
	}
}

func (r *repositories) seeder() *seed.Seeder {
	return seed.NewSeeder(r.identities, r.startups, r.votes, r.meetings, slog.Default())
}

// server はHTTPハンドラーとその後始末をまとめる。
type server struct {
	handler http.Handler
	close   func()
}

// newServer は全依存関係をワイヤリングしてルーターを構築する。
func newServer(cfg *config.Config, be *backend) *server {
	repos := newRepositories(be.store)

	// メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	if counter, ok := be.store.(subscriptionCounter); ok {
		metrics.RegisterSubscriptionGauge(registry, counter.ActiveSubscriptions)
	}

	// イベント通知（任意）
	var publisher engagement.EventPublisher
	closePublisher := func() {}
	if cfg.NATSURL != "" {
		nc, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix)
		if err != nil {
			slog.Warn("event publishing disabled",
				slog.String("nats_url", cfg.NATSURL),
				slog.String("error", err.Error()),
			)
		} else {
			publisher = nc
			closePublisher = nc.Close
		}
	}

	// ドメインサービス
	resolver := identity.NewResolver(repos.identities, slog.Default())
	authService := auth.NewService(auth.ServiceDeps{
		Resolver:   resolver,
		Identities: repos.identities,
		Accounts:   repos.accounts,
		Links:      repos.links,
		Sessions:   repos.sessions,
		Mail:       newMailSender(cfg),
		Metrics:    collector,
		Logger:     slog.Default(),
	}, auth.ServiceConfig{
		BaseURL:       cfg.BaseURL,
		LinkTTL:       cfg.SignInLinkTTL,
		SessionMaxAge: cfg.SessionMaxAge,
	})
	engagementService := engagement.NewService(repos.votes, repos.meetings, repos.startups, publisher, collector)
	view := aggregation.NewView(repos.identities, repos.votes, repos.meetings, repos.startups, collector)

	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))

	deps := &handler.RouterDeps{
		SessionFinder:     repos.sessions,
		AdminIdentities:   repos.identities,
		AdminEmails:       cfg.AdminEmails,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:    rateLimiter,
		Metrics:        collector,
		MetricsHandler: metrics.Handler(registry),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		IdentityResolver:   resolver,
		EngagementService:  engagementService,
		Startups:           repos.startups,
		AggregationService: view,
	}
	if be.db != nil {
		deps.HealthChecker = be.db
	}

	return &server{
		handler: handler.NewRouter(deps),
		close: func() {
			rateLimiter.Stop()
			closePublisher()
		},
	}
}

// newMailSender はSMTP_HOSTが設定されていればSMTP配送、なければログ出力のMailSenderを返す。
func newMailSender(cfg *config.Config) auth.MailSender {
	if cfg.SMTPHost == "" {
		slog.Warn("SMTP_HOST is not set; sign-in links are written to the log")
		return &auth.LogMailSender{Logger: slog.Default()}
	}
	return auth.NewSMTPMailSender(auth.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})
}

// rateLimiterConfig はreq/min単位の設定値をreq/secのレートに変換する。
// バーストは1分あたりの上限と同じにする。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitSignIn > 0 {
		rl.SignInRate = rate.Limit(float64(cfg.RateLimitSignIn) / 60.0)
		rl.SignInBurst = cfg.RateLimitSignIn
	}
	return rl
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

func requirePostgres(cfg *config.Config, cmd Command) error {
	if cfg.StoreBackend != config.StoreBackendPostgres {
		return fmt.Errorf("%s requires STORE_BACKEND=%s", cmd, config.StoreBackendPostgres)
	}
	return nil
}
