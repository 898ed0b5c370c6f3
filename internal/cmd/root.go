package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/taoyao-code/pgha-monitor/internal/app"
	"github.com/taoyao-code/pgha-monitor/internal/app/bootstrap"
	cfgpkg "github.com/taoyao-code/pgha-monitor/internal/config"
	"github.com/taoyao-code/pgha-monitor/internal/logging"
	"github.com/taoyao-code/pgha-monitor/internal/migrate"
)

var (
	cfgFile string
	envFile string

	// Version 构建时通过 ldflags 注入
	Version = "dev"
)

// ExitError 携带进程退出码
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// rootCmd 默认行为：建表后持续探测
var rootCmd = &cobra.Command{
	Use:   "pgha-monitor",
	Short: "Liveness monitor for a PostgreSQL HA cluster behind PgBouncer/HAProxy",
	Long: `pgha-monitor continuously writes and reads a probe row through the
connection pooling / failover layer and reports every outcome with a
timestamp. Consecutive failures are counted; reaching the threshold logs a
degraded-health warning and the first successful iteration afterwards logs
a restoration notice.

Database settings honour the libpq variables PGHOST, PGPORT, PGUSER,
PGPASSWORD and PGDATABASE.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd.Context(), func(ctx context.Context, cfg *cfgpkg.Config, log *zap.Logger) error {
			return bootstrap.Run(ctx, cfg, log)
		})
	},
}

var initSchemaCmd = &cobra.Command{
	Use:   "init-schema",
	Short: "Create the probe table if absent and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd.Context(), runInitSchema)
	},
}

// runInitSchema 中断视为正常退出，与根命令一致
func runInitSchema(ctx context.Context, cfg *cfgpkg.Config, log *zap.Logger) error {
	if err := app.EnsureSchema(ctx, cfg, nil, log); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("Schema initialization stopped by user")
			return nil
		}
		return err
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "pgha-monitor", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./configs/monitor.yaml, or $MONITOR_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration, ignored when missing")

	rootCmd.AddCommand(initSchemaCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute 运行根命令并返回进程退出码
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if errors.Is(exitErr.Err, migrate.ErrSchemaUnavailable) {
			fmt.Fprintln(os.Stderr, "Failed to connect to database after multiple attempts")
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.Err)
		return exitErr.Code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

// withRuntime 加载 .env 与配置、初始化日志后执行 fn
func withRuntime(ctx context.Context, fn func(ctx context.Context, cfg *cfgpkg.Config, log *zap.Logger) error) error {
	if err := loadEnvFile(envFile); err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	cfg, err := cfgpkg.Load(cfgFile)
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		return &ExitError{Code: 1, Err: fmt.Errorf("init logger: %w", err)}
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := fn(ctx, cfg, logger); err != nil {
		return &ExitError{Code: 1, Err: err}
	}
	return nil
}

// loadEnvFile 文件不存在时忽略
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
