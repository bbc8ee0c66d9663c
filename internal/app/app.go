package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/eventboard/internal/account"
	"github.com/hitoshi/eventboard/internal/authsession"
	"github.com/hitoshi/eventboard/internal/clientsession"
	"github.com/hitoshi/eventboard/internal/config"
	"github.com/hitoshi/eventboard/internal/database"
	"github.com/hitoshi/eventboard/internal/eventadmin"
	"github.com/hitoshi/eventboard/internal/handler"
	"github.com/hitoshi/eventboard/internal/identity"
	"github.com/hitoshi/eventboard/internal/logger"
	"github.com/hitoshi/eventboard/internal/metrics"
	"github.com/hitoshi/eventboard/internal/middleware"
	"github.com/hitoshi/eventboard/internal/recordstore"
	"github.com/hitoshi/eventboard/internal/repository"
	"github.com/hitoshi/eventboard/internal/security"
	"github.com/hitoshi/eventboard/internal/worker/cleanup"
)

const dbPingTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		PrintUsage(w)
		return err
	}
	if cmd == CommandHelp {
		PrintUsage(w)
		return nil
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
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
		slog.String("identity_provider", cfg.IdentityProvider),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// newIdentityProvider は設定に応じたIdentity Serviceを生成する。
func newIdentityProvider(cfg *config.Config) identity.Provider {
	if cfg.IdentityProvider == config.IdentityProviderLocal {
		slog.Warn("using in-memory identity provider; accounts are lost on restart")
		return identity.NewLocalProvider(0)
	}
	return identity.NewFirebaseProvider(identity.FirebaseConfig{
		APIKey:  cfg.FirebaseAPIKey,
		BaseURL: cfg.IdentityBaseURL,
		Timeout: cfg.IdentityTimeout,
	})
}

// server はserveモードで組み立てた依存関係を保持する。
type server struct {
	handler  http.Handler
	registry *clientsession.Registry
	limiter  *middleware.RateLimiter
}

// close はバックグラウンドゴルーチンを停止する。
func (s *server) close() {
	s.registry.Stop()
	s.limiter.Stop()
}

// newServer はリポジトリからルーターまでの依存関係をワイヤリングする。
func newServer(cfg *config.Config, db *sql.DB, reg *prometheus.Registry, log *slog.Logger) *server {
	// 1. リポジトリの初期化
	store := recordstore.New(db)
	profileRepo := repository.NewPostgresProfileRepo(store)
	eventRepo := repository.NewPostgresEventRepo(store)
	signupRepo := repository.NewPostgresSignupRepo(store)

	// 2. ドメインサービスの初期化
	provider := newIdentityProvider(cfg)
	defaultAvatar := cfg.DefaultAvatarURL
	if defaultAvatar == "" {
		defaultAvatar = account.DefaultAvatarURL
	}
	accountService := account.NewService(provider, profileRepo, defaultAvatar, log)
	adminService := eventadmin.NewService(eventRepo, signupRepo, security.NewDescriptionSanitizer(), log)

	// 3. メトリクスとクライアントセッション
	collector := metrics.NewCollector(reg)
	registry := clientsession.NewRegistry(
		clientsession.Deps{
			Provider: provider,
			Profiles: profileRepo,
			Events:   eventRepo,
			Signups:  signupRepo,
		},
		clientsession.Config{
			IdleTimeout:     cfg.ClientSessionIdleTimeout,
			CleanupInterval: time.Minute,
			PageSize:        cfg.DefaultPageSize,
			Auth: authsession.Config{
				DefaultAvatarURL: defaultAvatar,
				FetchTimeout:     cfg.ProfileFetchTimeout,
			},
		},
		collector,
		log,
	)

	// 4. ルーターの構築
	limiter := middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth))
	router := handler.NewRouter(&handler.RouterDeps{
		Sessions: registry,
		ClientSessionConfig: middleware.ClientSessionConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
			MaxAge:       cfg.ClientSessionMaxAge,
		},
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		Logger:            log,

		HealthChecker: db,
		Metrics:       collector,
		Gatherer:      reg,

		AccountService:    accountService,
		Events:            eventRepo,
		EventAdminService: adminService,
		CalendarLocation:  cfg.EventTimezone,
	})

	return &server{handler: router, registry: registry, limiter: limiter}
}

// newMetricsRegistry はGoランタイムとプロセスのコレクタを登録したレジストリを返す。
func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	srv := newServer(cfg, db, newMetricsRegistry(), slog.Default())
	defer srv.close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、孤立した参加登録のクリーンアップを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	reg := newMetricsRegistry()
	signupRepo := repository.NewPostgresSignupRepo(recordstore.New(db))
	job := cleanup.NewCleanupJob(signupRepo, metrics.NewCollector(reg), slog.Default())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// コンテナのHEALTHCHECKとスクレイプはAPIと同じポートに来る
	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      newWorkerHandler(db, reg),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker metrics server failed", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.String("addr", httpServer.Addr),
	)

	// ctxがキャンセルされるまでブロックする
	job.Schedule(ctx, cfg.CleanupInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("worker server shutdown failed: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// newWorkerHandler はworkerプロセスが公開する/healthと/metricsを返す。
func newWorkerHandler(db handler.HealthChecker, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /health", handler.NewHealthHandler(db))
	mux.Handle("GET /metrics", metrics.Handler(gatherer))
	return mux
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	return checkHealth(fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
