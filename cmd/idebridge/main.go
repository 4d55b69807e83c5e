package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/coderelay/idebridge"
	"github.com/coderelay/idebridge/tools"
)

const version = "0.3.0"

var (
	flagConfig    string
	flagHTTPPort  int
	flagIDEName   string
	flagWorkspace []string
	flagLogLevel  string
)

var rootCmd = &cobra.Command{
	Use:     "idebridge",
	Short:   "Bridge server connecting AI agent clients to a host application",
	Version: version,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "config file (default <config-dir>/config.yaml)")
	rootCmd.Flags().IntVar(&flagHTTPPort, "http-port", 0, "streaming-HTTP port (0 picks one)")
	rootCmd.Flags().StringVar(&flagIDEName, "ide-name", "", "host identifier written to the discovery record")
	rootCmd.Flags().StringSliceVarP(&flagWorkspace, "workspace", "w", nil, "workspace root folder (repeatable)")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// .env is optional; real env always wins.
	_ = godotenv.Load()

	cfgPath := flagConfig
	explicit := cfgPath != ""
	if !explicit {
		cfgPath = defaultConfigPath()
	}
	cfg, err := loadConfig(cfgPath, explicit)
	if err != nil {
		return err
	}

	if flagHTTPPort != 0 {
		cfg.HTTPPort = flagHTTPPort
	}
	if flagIDEName != "" {
		cfg.IDEName = flagIDEName
	}
	if len(flagWorkspace) > 0 {
		cfg.WorkspaceFolders = flagWorkspace
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if len(cfg.WorkspaceFolders) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to determine working directory: %w", err)
		}
		cfg.WorkspaceFolders = []string{cwd}
	}

	logger := newLogger(cfg.LogLevel)

	host, err := newLocalHost(cfg.WorkspaceFolders)
	if err != nil {
		return err
	}
	collab := host.collaborators()

	srv, err := idebridge.NewServer(
		idebridge.Info{Name: cfg.IDEName, Version: version},
		collab,
		idebridge.WithServerLogger(logger),
		idebridge.WithHTTPPort(cfg.HTTPPort),
		idebridge.WithHeartbeatInterval(cfg.heartbeat()),
		idebridge.WithIDEName(cfg.IDEName),
		idebridge.WithWorkspaceFolders(host.Folders(ctx)),
	)
	if err != nil {
		return err
	}

	if err := srv.RegisterSharedTools(tools.Shared(collab)...); err != nil {
		return err
	}
	if err := srv.RegisterIntegrationTools(tools.Integration(collab)...); err != nil {
		return err
	}

	result, err := srv.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	if result.WSErr == nil {
		logger.Info("socket transport ready", slog.Int("port", result.WSPort))
	} else {
		logger.Warn("socket transport unavailable", slog.String("err", result.WSErr.Error()))
	}
	if result.HTTPErr == nil {
		logger.Info("http transport ready", slog.Int("port", result.HTTPPort))
	} else {
		logger.Warn("http transport unavailable", slog.String("err", result.HTTPErr.Error()))
	}

	<-ctx.Done()
	logger.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Stop(stopCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
