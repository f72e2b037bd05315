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
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/alumniportal/internal/config"
	"github.com/hitoshi/alumniportal/internal/database"
	"github.com/hitoshi/alumniportal/internal/handler"
	"github.com/hitoshi/alumniportal/internal/logger"
	"github.com/hitoshi/alumniportal/internal/metrics"
	"github.com/hitoshi/alumniportal/internal/middleware"
	"github.com/hitoshi/alumniportal/internal/provider"
	"github.com/hitoshi/alumniportal/internal/provider/memory"
	"github.com/hitoshi/alumniportal/internal/provider/supabase"
	"github.com/hitoshi/alumniportal/internal/repository"
	"github.com/hitoshi/alumniportal/internal/security"
	"github.com/hitoshi/alumniportal/internal/session"
	"github.com/hitoshi/alumniportal/internal/worker/cleanup"
)

// compile-time interface check
var (
	_ session.Recorder        = (*metrics.Collector)(nil)
	_ middleware.HTTPRecorder = (*metrics.Collector)(nil)
)

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

	// 3. 設定されたログレベルで再セットアップ
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	inv := ParseInvocation(args)
	cmd := inv.Command

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
		slog.String("provider", cfg.Provider),
		slog.String("token_store", cfg.TokenStore),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, inv.Down)
	default:
		return runServe(cfg)
	}
}

// tokenStore はトークン保存先とその後始末をまとめる。
type tokenStore struct {
	repo   repository.TokenRepository
	health handler.HealthChecker
	close  func()
}

// openTokenStore はTOKEN_STOREに応じたトークンリポジトリを開き、接続を確認する。
func openTokenStore(ctx context.Context, cfg *config.Config) (*tokenStore, error) {
	switch cfg.TokenStore {
	case config.TokenStorePostgres:
		db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultPoolConfig())
		if err != nil {
			return nil, err
		}
		slog.Info("database connection established")
		return &tokenStore{
			repo:   repository.NewPostgresTokenRepo(db),
			health: db,
			close:  func() { closeDB(db) },
		}, nil

	case config.TokenStoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connection established", slog.String("addr", cfg.RedisAddr))
		return &tokenStore{
			repo: repository.NewRedisTokenRepo(rdb),
			health: handler.HealthCheckFunc(func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			}),
			close: func() {
				if err := rdb.Close(); err != nil {
					slog.Warn("failed to close redis client", slog.String("error", err.Error()))
				}
			},
		}, nil

	default:
		return &tokenStore{
			repo:  repository.NewMemoryTokenRepo(),
			close: func() {},
		}, nil
	}
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		slog.Warn("failed to close database", slog.String("error", err.Error()))
	}
}

// newProviderFactory はPROVIDERに応じたブラウザ単位のプロバイダー生成関数を返す。
func newProviderFactory(cfg *config.Config, tokens repository.TokenRepository, log *slog.Logger) (session.ProviderFactory, error) {
	switch cfg.Provider {
	case config.ProviderMemory:
		slog.Warn("using in-memory auth provider; accounts are lost on restart")
		backend := memory.NewBackend(memory.BackendConfig{
			Secret:              []byte(cfg.LocalAuthSecret),
			RequireConfirmation: cfg.LocalRequireConfirmation,
		})
		return func(browserID string) provider.Provider {
			return backend.ClientFor(browserID)
		}, nil

	default:
		if err := security.ValidateProviderURL(cfg.SupabaseURL, cfg.ProviderSafeHTTP); err != nil {
			return nil, fmt.Errorf("invalid SUPABASE_URL: %w", err)
		}
		var secret []byte
		if cfg.SupabaseJWTSecret != "" {
			secret = []byte(cfg.SupabaseJWTSecret)
		}
		factory, err := supabase.NewFactory(supabase.Config{
			URL:        cfg.SupabaseURL,
			AnonKey:    cfg.SupabaseAnonKey,
			JWTSecret:  secret,
			HTTPClient: security.NewProviderClient(cfg.ProviderTimeout, cfg.ProviderSafeHTTP),
			Storage:    tokens,
			PersistTTL: time.Duration(cfg.SessionMaxAge) * time.Second,
			Logger:     log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create supabase client: %w", err)
		}
		return func(browserID string) provider.Provider {
			return factory.NewClient(browserID)
		}, nil
	}
}

// portal はHTTPサーバーが提供するハンドラーと、停止時に解放する資源をまとめる。
type portal struct {
	handler  http.Handler
	registry *session.Registry
	limiter  *middleware.RateLimiter
	tokens   *tokenStore
}

// newPortal は設定から全依存関係をワイヤリングする。
func newPortal(ctx context.Context, cfg *config.Config) (*portal, error) {
	log := slog.Default()

	// 1. トークン保存先
	tokens, err := openTokenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// 2. 認証プロバイダー
	factory, err := newProviderFactory(cfg, tokens.repo, log)
	if err != nil {
		tokens.close()
		return nil, err
	}

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 4. セッションストアのレジストリ
	registry := session.NewRegistry(factory, session.RegistryConfig{
		IdleTimeout:     cfg.SessionIdleTimeout,
		CleanupInterval: time.Minute,
		Store: session.Options{
			Logger:         log,
			Recorder:       collector,
			Sanitizer:      security.NewProfileSanitizer(),
			RedirectTo:     cfg.RedirectURL(),
			ResolveTimeout: cfg.ProviderTimeout,
		},
	})
	metrics.RegisterActiveStores(reg, registry.Count)

	// 5. 画面テンプレート
	renderer, err := handler.NewRenderer()
	if err != nil {
		registry.Close()
		tokens.close()
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	// 6. ルーターの構築
	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth))

	deps := &handler.RouterDeps{
		Stores:        handler.NewRegistryAdapter(registry),
		SettleTimeout: cfg.ProviderTimeout,
		Renderer:      renderer,

		Logger:       log,
		HTTPRecorder: collector,
		RateLimiter:  limiter,
		BrowserSession: middleware.BrowserSessionConfig{
			MaxAge:       cfg.SessionMaxAge,
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		SecureHeaders:     cfg.CookieSecure,
		TrustProxy:        cfg.TrustProxy,

		HealthChecker:  tokens.health,
		MetricsHandler: metrics.Handler(reg),
	}

	return &portal{
		handler:  handler.NewRouter(deps),
		registry: registry,
		limiter:  limiter,
		tokens:   tokens,
	}, nil
}

// Close はセッションストアを停止し、保存先への接続を閉じる。
func (p *portal) Close() {
	p.registry.Close()
	p.limiter.Stop()
	p.tokens.close()
}

// runServe はWebサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 10*time.Second)
	p, err := newPortal(connectCtx, cfg)
	cancelConnect()
	if err != nil {
		return err
	}
	defer p.Close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      p.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("web server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down web server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// SSEストリームはストア停止で閉じるため、先にレジストリを止める
	p.registry.Close()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("web server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れトークンのクリーンアップを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if cfg.TokenStore != config.TokenStorePostgres {
		slog.Info("worker has nothing to do for this token store",
			slog.String("token_store", cfg.TokenStore),
		)
		return nil
	}

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 10*time.Second)
	tokens, err := openTokenStore(connectCtx, cfg)
	cancelConnect()
	if err != nil {
		return err
	}
	defer tokens.close()

	cleanupJob := cleanup.NewCleanupJob(tokens.repo, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	go func() {
		select {
		case <-stop:
			slog.Info("shutting down worker...")
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
	)

	cleanupJob.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はトークン保存テーブルのマイグレーションを実行する。
// downがtrueの場合は1段だけ巻き戻す。
func runMigrate(cfg *config.Config, down bool) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("migration failed: DATABASE_URL is not set")
	}

	direction := "up"
	if down {
		direction = "down"
	}
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.String("direction", direction),
	)

	version, err := database.Migrate(cfg.DatabaseURL, down)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
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
