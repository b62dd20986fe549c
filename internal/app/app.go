package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hitoshi/tenantdesk/internal/auth"
	"github.com/hitoshi/tenantdesk/internal/cipher"
	"github.com/hitoshi/tenantdesk/internal/config"
	"github.com/hitoshi/tenantdesk/internal/database"
	"github.com/hitoshi/tenantdesk/internal/guard"
	"github.com/hitoshi/tenantdesk/internal/handler"
	"github.com/hitoshi/tenantdesk/internal/logger"
	"github.com/hitoshi/tenantdesk/internal/metrics"
	"github.com/hitoshi/tenantdesk/internal/middleware"
	"github.com/hitoshi/tenantdesk/internal/navcache"
	"github.com/hitoshi/tenantdesk/internal/navigation"
	"github.com/hitoshi/tenantdesk/internal/repository"
	"github.com/hitoshi/tenantdesk/internal/role"
	"github.com/hitoshi/tenantdesk/internal/security"
	"github.com/hitoshi/tenantdesk/internal/session"
	"github.com/hitoshi/tenantdesk/internal/telemetry"
	"github.com/hitoshi/tenantdesk/internal/token"
	"github.com/hitoshi/tenantdesk/internal/user"
	"github.com/hitoshi/tenantdesk/internal/worker/cleanup"
)

// serviceName はトレースとログに付与するサービス名。
const serviceName = "tenantdesk"

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
	cmd := ParseCommand(args)

	if cmd == CommandHelp {
		Usage(w)
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
		slog.String("env", cfg.AppEnv),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	shutdownTracing := telemetry.Setup(serviceName)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", slog.String("error", err.Error()))
		}
	}()

	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	branchRepo := repository.NewPostgresBranchRepo(db)
	roleRepo := repository.NewPostgresRoleRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. トークン・セッション
	codec := token.NewCodec(cfg.TokenSecret)
	validator := session.NewValidator(codec, sessionRepo, session.Config{
		TTL:             cfg.SessionTTL(),
		ExtendThreshold: cfg.SessionExtendThreshold,
		StoreTimeout:    cfg.StoreTimeout,
	}, slog.Default())

	payloadCipher, err := cipher.New(cfg.PayloadSecret)
	if err != nil {
		return fmt.Errorf("failed to initialize payload cipher: %w", err)
	}

	// 5. ナビゲーションキャッシュ
	cache, closeCache, err := newNavigationCache(cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	// 6. ドメインサービスの初期化
	navService := navigation.NewService(roleRepo, cache, cfg.NavigationCacheTTL, slog.Default())
	navService.StoreTimeout = cfg.StoreTimeout
	authService := auth.NewService(userRepo, branchRepo, validator, navService)
	authService.StoreTimeout = cfg.StoreTimeout

	sanitizer := security.NewTextSanitizer()
	ssrfGuard := security.NewSSRFGuard(cfg.ProfileImageProbeTimeout)
	var prober security.ImageProber
	if cfg.ProfileImageProbe {
		prober = ssrfGuard
	}
	userService := user.NewService(userRepo, roleRepo, sanitizer, ssrfGuard, prober)
	roleService := role.NewService(roleRepo, branchRepo, navService, sanitizer)

	// 7. ルートガード
	routeGuard := guard.New(guard.DefaultConfig())
	routeGuard.OnTransition(guardDecisionRecorder(collector))

	cookieCfg := middleware.CookieConfig{
		Secure: cfg.CookieSecure,
		Domain: cfg.CookieDomain,
	}
	sessionGuard := middleware.NewSessionGuard(validator, authService, routeGuard, cookieCfg, collector)

	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin),
	)
	defer rateLimiter.Stop()

	// 8. ルーターの構築
	deps := &handler.RouterDeps{
		SessionGuard:      sessionGuard,
		RateLimiter:       rateLimiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		HSTS:              cfg.IsProduction(),
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		Logger:            slog.Default(),
		StatusRecorder:    collector,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		Guard:  routeGuard,
		Cipher: payloadCipher,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			Cookie:     cookieCfg,
			SessionTTL: cfg.SessionTTL(),
		},
		LoginRecorder: collector,

		RoleService: roleService,
		UserService: userService,

		StaticDir: staticDir(cfg.StaticDir),
	}

	router := handler.NewRouter(deps)

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      otelhttp.NewHandler(router, serviceName),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、セッションのクリーンアップジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())
	cleanupJob.RetentionDays = cfg.SessionRetentionDays

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("retention_days", cfg.SessionRetentionDays),
	)

	// コンテキストがキャンセルされるまでブロックする
	cleanupJob.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
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

// guardDecisionRecorder は終端状態への遷移だけをガード判定として記録するフックを返す。
func guardDecisionRecorder(rec interface{ RecordGuardDecision(state string) }) func(from, to guard.State) {
	return func(_, to guard.State) {
		if to.Terminal() {
			rec.RecordGuardDecision(to.String())
		}
	}
}

// openDatabase はDB接続を開き、STORE_TIMEOUT以内に疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Connect(context.Background(), cfg.DatabaseURL, cfg.StoreTimeout)
	if err != nil {
		return nil, err
	}

	slog.Info("database connection established")
	return db, nil
}

// newNavigationCache はREDIS_URLが設定されていればRedis、なければプロセス内メモリのキャッシュを返す。
// 返り値の関数でRedisクライアントを閉じる。
func newNavigationCache(cfg *config.Config) (navcache.Cache, func(), error) {
	if cfg.RedisURL == "" {
		slog.Info("navigation cache: in-memory")
		return navcache.NewMemoryCache(), func() {}, nil
	}

	client, err := navcache.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize navigation cache: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("navigation cache: redis")
	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Error("failed to close redis client", slog.String("error", err.Error()))
		}
	}
	return navcache.NewRedisCache(client, ""), closeFn, nil
}

// staticDir はディレクトリが存在する場合のみパスを返す。
// APIだけを起動する構成では画面の配信を行わない。
func staticDir(dir string) string {
	if dir == "" {
		return ""
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		slog.Warn("static directory not found; dashboard pages are not served",
			slog.String("dir", dir),
		)
		return ""
	}
	return dir
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
