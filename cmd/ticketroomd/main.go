package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ticketroom/internal/app"
	"ticketroom/internal/config"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "ticketroomd",
		Short: "Real-time ticket-room broadcast server",
		Long: `ticketroomd fans out ticket events (messages, typing indicators,
read receipts, status changes) to the clients currently watching each
ticket. It holds no persistent state: the records application owns the
data and calls the internal notify endpoint after every write.`,
	}
	root.AddCommand(serveCommand(), versionCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	var (
		configPath string
		listenAddr string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the broadcast server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := newLogger(logLevel)

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				host, port, err := config.SplitListenAddr(listenAddr)
				if err != nil {
					return err
				}
				cfg.HTTP.Host = host
				cfg.HTTP.Port = port
			}

			application, err := app.New(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return application.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to JSON config file (defaults to environment)")
	cmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "listen address, host:port (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(*cobra.Command, []string) {
			fmt.Println("ticketroomd", version)
		},
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
