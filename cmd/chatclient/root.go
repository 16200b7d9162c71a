package main

import (
	"fmt"
	"log/slog"

	"github.com/ashureev/tbchat-client/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags.
var version = "dev"

type rootFlags struct {
	url        string
	nick       string
	join       []string
	statusAddr string
	healthAddr string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	rootCmd := &cobra.Command{
		Use:           "chatclient",
		Short:         "Terminal client for the throwback chat server",
		Long:          "chatclient connects to a throwback chat server over WebSocket, resumes a stored session when one exists, and reads chat commands from stdin.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg.LogLevel)
			return run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cfg, flags, logger)
		},
	}

	rootCmd.Flags().StringVar(&flags.url, "url", "", "chat server WebSocket URL (overrides CHAT_URL)")
	rootCmd.Flags().StringVar(&flags.nick, "nick", "", "log in with this nickname when no session is restored")
	rootCmd.Flags().StringSliceVar(&flags.join, "join", nil, "channels to join after login")
	rootCmd.Flags().StringVar(&flags.statusAddr, "status-addr", "", "serve the HTTP status API on this address (overrides CHAT_STATUS_ADDR)")
	rootCmd.Flags().StringVar(&flags.healthAddr, "health-addr", "", "serve gRPC health on this address (overrides CHAT_HEALTH_ADDR)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newStatusCmd(),
		newConfigCmd(),
	)

	return rootCmd
}

func loadConfig(flags rootFlags) (*config.Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if flags.url != "" {
		cfg.URL = flags.url
	}
	if flags.statusAddr != "" {
		cfg.StatusAddr = flags.statusAddr
	}
	if flags.healthAddr != "" {
		cfg.HealthAddr = flags.healthAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger writes JSON logs to stderr so stdout stays readable as a chat
// transcript.
func newLogger(cmd *cobra.Command, level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(rootFlags{})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			rows := [][2]string{
				{"url", cfg.URL},
				{"log_level", cfg.LogLevel.String()},
				{"session_backend", cfg.Session.Backend},
				{"session_db_path", cfg.Session.DBPath},
				{"session_ttl", cfg.Session.TTL.String()},
				{"request_timeout", cfg.Connection.RequestTimeout.String()},
				{"keepalive_interval", cfg.Connection.KeepaliveInterval.String()},
				{"reconnect_base_delay", cfg.Connection.ReconnectBase.String()},
				{"reconnect_max_attempts", fmt.Sprint(cfg.Connection.ReconnectAttempts)},
				{"message_cap", fmt.Sprint(cfg.Mirror.MessageCap)},
				{"history_limit", fmt.Sprint(cfg.Mirror.HistoryLimit)},
				{"status_addr", cfg.StatusAddr},
				{"health_addr", cfg.HealthAddr},
			}
			for _, row := range rows {
				if _, err := fmt.Fprintf(out, "%-24s %s\n", row[0], row[1]); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
