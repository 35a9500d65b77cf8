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
	"strings"
	"syscall"
	"time"

	"github.com/hitoshi/chairside/internal/auth"
	"github.com/hitoshi/chairside/internal/booking"
	"github.com/hitoshi/chairside/internal/config"
	"github.com/hitoshi/chairside/internal/conversation"
	"github.com/hitoshi/chairside/internal/database"
	"github.com/hitoshi/chairside/internal/handler"
	"github.com/hitoshi/chairside/internal/interpreter"
	"github.com/hitoshi/chairside/internal/logger"
	"github.com/hitoshi/chairside/internal/metrics"
	"github.com/hitoshi/chairside/internal/middleware"
	"github.com/hitoshi/chairside/internal/repository"
	"github.com/hitoshi/chairside/internal/security"
	"github.com/hitoshi/chairside/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。引数が不正な場合は使い方をwに書いてエラーを返す。
func Run(w io.Writer, args []string) error {
	inv, err := ParseArgs(args)
	if err != nil {
		fmt.Fprint(w, Usage)
		return err
	}

	switch inv.Command {
	case CommandHelp:
		fmt.Fprint(w, Usage)
		return nil
	case CommandHealthcheck:
		// フル初期化をスキップする
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

	if inv.Command == CommandMigrate {
		return runMigrate(w, cfg, inv.Migrate)
	}

	slog.Info("starting application",
		slog.String("command", string(inv.Command)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("interpreter_mode", cfg.InterpreterMode),
	)
	return runServe(cfg)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
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

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 3. 解釈器
	interp, err := buildInterpreter(context.Background(), cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to build interpreter: %w", err)
	}

	// 4. ルーターの構築
	rl := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitGeneral, cfg.RateLimitMessage))
	defer rl.Stop()

	router, err := buildRouter(cfg, db, interp, rl, collector, reg)
	if err != nil {
		return err
	}

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.InterpreterTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
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

// buildRouter はリポジトリ、サービス、ハンドラーをワイヤリングしたルーターを返す。
func buildRouter(
	cfg *config.Config,
	db *sql.DB,
	interp interpreter.Interpreter,
	rl *middleware.RateLimiter,
	collector *metrics.Collector,
	gatherer prometheus.Gatherer,
) (http.Handler, error) {
	// リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	messageRepo := repository.NewPostgresMessageRepo(db)
	apptRepo := repository.NewPostgresAppointmentRepo(db)

	// ドメインサービスの初期化
	sessions := session.NewService(userRepo, identRepo, sessionRepo, messageRepo)

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}
	authService := auth.NewService(tokens, sessions)

	orchestrator := conversation.NewOrchestrator(sessions, interp, security.NewContentSanitizer(), collector, conversation.Config{
		InterpreterTimeout: cfg.InterpreterTimeout,
		Location:           cfg.ClinicLocation,
	})
	ledger := booking.NewLedger(apptRepo, sessions, collector, cfg.ClinicLocation)

	return handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		TokenVerifier:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		HSTS:              strings.HasPrefix(cfg.BaseURL, "https://"),
		RateLimiter:       rl,
		HealthChecker:     db,
		Metrics:           collector,
		MetricsGatherer:   gatherer,
		AuthService:       authService,
		Conversation:      orchestrator,
		Transcripts:       sessions,
		Ledger:            ledger,
		Users:             sessions,
	}), nil
}

// buildInterpreter は設定に応じた解釈器を構築する。
// 外部の解釈器はリトライでラップし、フォールバックが有効な場合はルールベースに切り替える。
func buildInterpreter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (interpreter.Interpreter, error) {
	rules := interpreter.NewRules(cfg.ClinicLocation)

	var primary interpreter.Interpreter
	switch cfg.InterpreterMode {
	case config.InterpreterModeGemini:
		gemini, err := interpreter.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
		if err != nil {
			return nil, err
		}
		primary = gemini
	case config.InterpreterModeRemote:
		// 1回の呼び出しはオーケストレーターのタイムアウトより長くならない
		httpClient := &http.Client{Timeout: cfg.InterpreterTimeout}
		primary = interpreter.NewRemote(httpClient, cfg.InterpreterURL, logger)
	default:
		return interpreter.NewChain(nil, rules, logger), nil
	}

	primary = interpreter.NewRetrying(primary, cfg.InterpreterRetries, logger)
	if !cfg.InterpreterFallback {
		return primary, nil
	}
	return interpreter.NewChain(primary, rules, logger), nil
}

// runMigrate はactionに応じてマイグレーションの適用、1段階の巻き戻し、バージョン表示を行う。
func runMigrate(w io.Writer, cfg *config.Config, action MigrateAction) error {
	slog.Info("running database migrations",
		slog.String("action", string(action)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action {
	case MigrateDown:
		version, err := database.RollbackOne(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
		slog.Info("rolled back one migration", slog.Uint64("version", uint64(version)))
		return nil
	case MigrateVersion:
		version, dirty, err := database.SchemaVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		fmt.Fprintf(w, "schema version %d (dirty=%t)\n", version, dirty)
		return nil
	default:
		version, err := database.RunMigrationsWithVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations completed successfully",
			slog.Uint64("version", uint64(version)),
		)
		return nil
	}
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
