package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kehao95/hook-pulse/internal/client"
	"github.com/kehao95/hook-pulse/internal/config"
	"github.com/kehao95/hook-pulse/internal/log"
	"github.com/kehao95/hook-pulse/internal/server"
	"github.com/kehao95/hook-pulse/internal/signature"
)

type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit with code %d", e.code)
}

func (e exitError) ExitCode() int {
	return e.code
}

func runWithSignals(run func(context.Context) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx)
	}()

	select {
	case sig := <-sigCh:
		cancel()
		_ = <-errCh
		if sig == os.Interrupt {
			return exitError{code: 130}
		}
		return exitError{code: 143}
	case err := <-errCh:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

func newRootCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "hook-pulse",
		Short:         "Receive signed webhooks and stream verified events over WebSocket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configPath string
	var port int
	var path string
	var logLevel string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Listen.Port = port
			}
			if cmd.Flags().Changed("path") {
				cfg.Webhook.Path = path
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := log.Setup(cfg.Log.Level)
			return runWithSignals(func(ctx context.Context) error {
				err := server.Run(ctx, cfg, logger)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	serveCmd.Flags().IntVar(&port, "port", config.DefaultPort, "Port to listen on")
	serveCmd.Flags().StringVar(&path, "path", config.DefaultPath, "Webhook endpoint path")
	serveCmd.Flags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "DEBUG, INFO, WARN or ERROR")

	var serverURL string
	var events []string
	var timeout time.Duration
	var count int
	var streamLogLevel string
	streamCmd := &cobra.Command{
		Use:   "stream",
		Short: "Print verified events from a running receiver as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.Setup(streamLogLevel)
			return runWithSignals(func(ctx context.Context) error {
				err := client.Run(ctx, client.Config{
					ServerURL: serverURL,
					Events:    events,
					Timeout:   timeout,
					MaxEvents: count,
					Out:       stdout,
					Logger:    logger.With("component", "stream"),
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	streamCmd.Flags().StringVar(&serverURL, "server", fmt.Sprintf("ws://localhost:%d/ws", config.DefaultPort), "WebSocket server URL")
	streamCmd.Flags().StringArrayVar(&events, "event", nil, "Subscribe to an event type (repeatable)")
	streamCmd.Flags().DurationVar(&timeout, "timeout", 0, "Exit with code 124 after this long")
	streamCmd.Flags().IntVar(&count, "count", 0, "Exit after this many events")
	streamCmd.Flags().StringVar(&streamLogLevel, "log-level", config.DefaultLogLevel, "DEBUG, INFO, WARN or ERROR")

	var secretEnv string
	var timestamp string
	var file string
	signCmd := &cobra.Command{
		Use:   "sign",
		Short: "Print signature headers for a request body read from --file or stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv(secretEnv)
			if secret == "" {
				return fmt.Errorf("%w: $%s is empty", config.ErrMissingSecret, secretEnv)
			}

			var body []byte
			var err error
			if file == "" || file == "-" {
				body, err = io.ReadAll(stdin)
			} else {
				body, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}

			if timestamp == "" {
				timestamp = strconv.FormatInt(time.Now().Unix(), 10)
			}
			sig := signature.NewVerifier([]byte(secret)).Sign(body, timestamp)
			_, err = fmt.Fprintf(stdout, "%s: %s\n%s: %s\n",
				config.DefaultTimestampHeader, timestamp,
				config.DefaultSignatureHeader, sig)
			return err
		},
	}
	signCmd.Flags().StringVar(&secretEnv, "secret-env", config.DefaultSecretEnv, "Environment variable holding the signing secret")
	signCmd.Flags().StringVar(&timestamp, "timestamp", "", "Unix seconds to sign with (default now)")
	signCmd.Flags().StringVar(&file, "file", "", "Body file (default stdin)")

	rootCmd.AddCommand(serveCmd, streamCmd, signCmd)
	return rootCmd
}

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout).Execute(); err != nil {
		var exitErr interface{ ExitCode() int }
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
