package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kehao95/hook-pulse/internal/message"
)

type Config struct {
	ServerURL string
	Events    []string
	// Timeout ends the stream with exit code 124 once elapsed. Zero means
	// stream until cancelled.
	Timeout time.Duration
	// MaxEvents ends the stream with exit code 0 after that many events.
	MaxEvents int

	Out    io.Writer
	Logger *slog.Logger
}

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
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

// Run connects to the server's /ws endpoint and writes each event as one
// JSON line to cfg.Out, reconnecting with exponential backoff.
func Run(ctx context.Context, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	stdout := bufio.NewWriter(out)
	backoff := initialBackoff

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, cfg.Timeout, exitError{code: 124})
		defer cancel()
	}

	received := 0
	for {
		if ctx.Err() != nil {
			return stopCause(ctx)
		}

		logger.Info("connecting", "url", cfg.ServerURL)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.ServerURL, nil)
		if err != nil {
			logger.Warn("connect failed", "error", err)
			wait(ctx, backoff)
			backoff = nextBackoff(backoff)
			continue
		}

		logger.Info("connected", "url", cfg.ServerURL)
		backoff = initialBackoff

		if err := sendSubscribe(conn, cfg.Events); err != nil {
			logger.Warn("subscribe failed", "error", err)
			_ = conn.Close()
			wait(ctx, backoff)
			backoff = nextBackoff(backoff)
			continue
		}

		err = readLoop(ctx, conn, stdout, logger, cfg.MaxEvents, &received)
		_ = conn.Close()

		var exitErr interface{ ExitCode() int }
		if errors.As(err, &exitErr) {
			return err
		}
		if ctx.Err() != nil {
			return stopCause(ctx)
		}
		logger.Warn("disconnected", "error", err)
	}
}

func stopCause(ctx context.Context) error {
	var exitErr exitError
	if errors.As(context.Cause(ctx), &exitErr) {
		return exitErr
	}
	return ctx.Err()
}

func readLoop(ctx context.Context, conn *websocket.Conn, stdout *bufio.Writer, logger *slog.Logger, maxEvents int, received *int) error {
	done := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				done <- err
				return
			}
			if !json.Valid(data) {
				logger.Warn("invalid json from server", "bytes", len(data))
				continue
			}
			if _, err := stdout.Write(data); err != nil {
				done <- err
				return
			}
			if err := stdout.WriteByte('\n'); err != nil {
				done <- err
				return
			}
			if err := stdout.Flush(); err != nil {
				done <- err
				return
			}

			*received++
			if maxEvents > 0 && *received >= maxEvents {
				done <- exitError{code: 0}
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		_ = conn.Close()
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func sendSubscribe(conn *websocket.Conn, events []string) error {
	if events == nil {
		events = []string{}
	}
	encoded, err := json.Marshal(message.SubscribeMessage{
		Type:   message.TypeSubscribe,
		Events: events,
	})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, encoded)
}

func wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
