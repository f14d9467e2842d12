package app

import (
	"context"
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

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/jobhub/internal/auth"
	"github.com/hitoshi/jobhub/internal/authz"
	"github.com/hitoshi/jobhub/internal/board"
	"github.com/hitoshi/jobhub/internal/config"
	"github.com/hitoshi/jobhub/internal/database"
	"github.com/hitoshi/jobhub/internal/eventbus"
	"github.com/hitoshi/jobhub/internal/handler"
	"github.com/hitoshi/jobhub/internal/idgen"
	"github.com/hitoshi/jobhub/internal/logger"
	"github.com/hitoshi/jobhub/internal/metrics"
	"github.com/hitoshi/jobhub/internal/middleware"
	"github.com/hitoshi/jobhub/internal/queue"
	"github.com/hitoshi/jobhub/internal/realtime"
	"github.com/hitoshi/jobhub/internal/repository"
	"github.com/hitoshi/jobhub/internal/security"
	"github.com/hitoshi/jobhub/internal/user"
	"github.com/hitoshi/jobhub/internal/worker/cleanup"
)

// テキスト入力の最大長（ルーン数）
const (
	displayNameMaxLen = 100
	boardNameMaxLen   = 300
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、設定に従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
// 返すio.Closerはログファイルを閉じるために使う。
func Init(w io.Writer) (*config.Config, io.Closer, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に従ってロガーを再構成する
	_, closer, err := logger.New(w, logger.Options{
		Level:         cfg.LogLevel,
		File:          cfg.LogFile,
		RetentionDays: cfg.LogRetentionDays,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	if cfg.JWTSecretGenerated {
		slog.Warn("JWT_SECRET is not set; using an ephemeral secret. Issued tokens are invalidated on restart")
	}

	return cfg, closer, nil
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
			port = "8080"
		}
		return runHealthcheck(port)
	}

	var rest []string
	if len(args) > 0 && Command(args[0]) == cmd {
		rest = args[1:]
	}

	cfg, closer, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer closer.Close()

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("env", cfg.AppEnv),
		slog.Bool("multiuser", cfg.Multiuser),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, rest)
	case CommandCreateAdmin:
		return runCreateAdmin(cfg, rest)
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sqlx.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// waitForSignal はSIGINTまたはSIGTERMでキャンセルされるcontextを返す。
func waitForSignal() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(stop)
		select {
		case sig := <-stop:
			slog.Info("received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// eventBus はイベントの発行と購読ループを持つバス。
type eventBus interface {
	eventbus.Publisher
	Run(ctx context.Context) error
}

// newEventBus はREDIS_URLが設定されていればRedisBusを、なければLocalBusを返す。
// 返す関数でバスが保持する接続を閉じる。
func newEventBus(ctx context.Context, cfg *config.Config, router eventbus.Router) (eventBus, func(), error) {
	if cfg.RedisURL == "" {
		slog.Info("using in-process event bus")
		return eventbus.NewLocalBus(router), func() {}, nil
	}

	client, err := eventbus.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("using Redis event bus", slog.String("channel", cfg.EventChannel))

	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Warn("failed to close Redis client", slog.String("error", err.Error()))
		}
	}
	return eventbus.NewRedisBus(client, cfg.EventChannel, router, slog.Default()), closeFn, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := waitForSignal()
	defer cancel()

	// 2. 認証・認可
	authority, err := auth.NewTokenAuthority(cfg.JWTSecret, auth.WithDefaultTTL(cfg.TokenTTL))
	if err != nil {
		return fmt.Errorf("failed to create token authority: %w", err)
	}
	policy := authz.NewPolicy(cfg.Multiuser)

	itemIDs, err := idgen.NewItemIDs(cfg.SnowflakeNode)
	if err != nil {
		return err
	}

	// 3. メトリクス
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	// 4. リアルタイム配信
	registry := realtime.NewRegistry(authority, realtime.RegistryConfig{
		SendBuffer: cfg.WSSendBuffer,
		Logger:     slog.Default(),
		Recorder:   collector,
	})
	eventRouter := realtime.NewRouter(registry, policy, slog.Default(), collector)

	bus, closeBus, err := newEventBus(ctx, cfg, eventRouter)
	if err != nil {
		return err
	}
	defer closeBus()

	busDone := make(chan struct{})
	go func() {
		defer close(busDone)
		if err := bus.Run(ctx); err != nil {
			slog.Error("event bus stopped", slog.String("error", err.Error()))
		}
	}()

	wsHandler := realtime.NewWSHandler(registry, realtime.WSConfig{
		WriteTimeout:   cfg.WSWriteTimeout,
		OriginPatterns: cfg.WSAllowedOrigins,
		Logger:         slog.Default(),
	})

	// 5. リポジトリとドメインサービス
	userRepo := repository.NewPostgresUserRepo(db)
	boardRepo := repository.NewPostgresBoardRepo(db)
	queueRepo := repository.NewPostgresQueueRepo(db)

	authService := auth.NewService(userRepo, authority, auth.ServiceConfig{
		TokenTTL:      cfg.TokenTTL,
		RememberMeTTL: cfg.RememberMeTTL,
	})
	userService := user.NewService(userRepo, security.NewTextSanitizer(displayNameMaxLen))
	boardService := board.NewService(boardRepo, policy, security.NewTextSanitizer(boardNameMaxLen))
	queueService := queue.NewService(queueRepo, policy, bus, itemIDs)

	// 6. ルーターの構築（RATE_LIMIT_* はreq/min単位）
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		StrictTransport:   cfg.IsProduction(),
		RateLimiter:       rateLimiter,
		TokenVerifier:     authority,
		Multiuser:         cfg.Multiuser,
		OnAuthFailure:     collector.AuthFailed,
		OnResponse:        collector.RecordHTTPStatus,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(prometheus.DefaultGatherer),
		WSHandler:      wsHandler,

		AuthService:  authService,
		SetupService: userService,
		UserService:  userService,
		BoardService: boardService,
		QueueService: queueService,
	})

	// 7. HTTPサーバーの起動
	// WebSocketはハイジャック後も接続単位のデッドラインが残るため、Read/WriteTimeoutは設定しない。
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		cancel()
		<-busDone
		return fmt.Errorf("server listen error: %w", err)
	}

	slog.Info("shutting down API server...")

	// ハイジャック済みのWebSocket接続はShutdownの対象外のため先に閉じる
	registry.CloseAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	<-busDone

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 終了済みキューアイテムのクリーンアップを定期実行し、/metrics と /health を公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := waitForSignal()
	defer cancel()

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	cleanupJob := cleanup.NewCleanupJob(db, slog.Default(), collector)
	if cfg.QueueRetentionDays > 0 {
		cleanupJob.RetentionDays = cfg.QueueRetentionDays
	}

	// 運用エンドポイント
	mux := chi.NewRouter()
	mux.Get("/health", handler.NewHealthHandler(db))
	mux.Mount("/", metrics.SetupMetricsRoute(prometheus.DefaultGatherer))

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("retention_days", cleanupJob.RetentionDays),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.CleanupInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("worker metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, args []string) error {
	margs, err := ParseMigrateArgs(args)
	if err != nil {
		return err
	}

	slog.Info("running database migrations",
		slog.String("direction", string(margs.Direction)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch margs.Direction {
	case MigrateDown:
		if err := database.RollbackMigrations(cfg.DatabaseURL, margs.Steps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		slog.Info("database migrations rolled back", slog.Int("steps", margs.Steps))
	case MigrateVersion:
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		slog.Info("database migration version",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations completed successfully")
	}
	return nil
}

// runCreateAdmin はCLIから管理者ユーザーを作成する。
func runCreateAdmin(cfg *config.Config, args []string) error {
	in, err := ParseCreateAdminArgs(args)
	if err != nil {
		return err
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := user.NewService(repository.NewPostgresUserRepo(db), security.NewTextSanitizer(displayNameMaxLen))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	created, err := svc.CreateAdmin(ctx, in)
	if err != nil {
		return fmt.Errorf("failed to create administrator: %w", err)
	}

	slog.Info("administrator created",
		slog.String("user_id", created.ID),
		slog.String("email", created.Email),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
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
