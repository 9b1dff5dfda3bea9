package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kehao95/hook-pulse/internal/log"
	"github.com/kehao95/hook-pulse/internal/message"
)

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeServer records the subscribe message and then sends msgs.
func fakeServer(t *testing.T, msgs ...string) (*httptest.Server, <-chan message.SubscribeMessage) {
	t.Helper()
	subs := make(chan message.SubscribeMessage, 4)
	upgrader := websocket.Upgrader{}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub message.SubscribeMessage
		if json.Unmarshal(data, &sub) == nil {
			subs <- sub
		}

		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts, subs
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestRunWritesEventsAsJSONLines(t *testing.T) {
	ts, subs := fakeServer(t,
		`{"type":"event","event":"ROOM_CREATED"}`,
		`not json`,
		`{"type":"event","event":"ROOM_CLOSED"}`,
	)
	out := &safeBuffer{}

	err := Run(context.Background(), Config{
		ServerURL: wsURL(ts),
		Events:    []string{"ROOM_CREATED", "ROOM_CLOSED"},
		MaxEvents: 2,
		Out:       out,
		Logger:    log.Discard(),
	})

	var exitErr interface{ ExitCode() int }
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 0, exitErr.ExitCode())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "ROOM_CREATED")
	assert.Contains(t, lines[1], "ROOM_CLOSED")

	sub := <-subs
	assert.Equal(t, message.TypeSubscribe, sub.Type)
	assert.Equal(t, []string{"ROOM_CREATED", "ROOM_CLOSED"}, sub.Events)
}

func TestRunSubscribesToAllByDefault(t *testing.T) {
	ts, subs := fakeServer(t, `{"type":"event"}`)

	_ = Run(context.Background(), Config{
		ServerURL: wsURL(ts),
		MaxEvents: 1,
		Out:       &safeBuffer{},
		Logger:    log.Discard(),
	})

	sub := <-subs
	assert.NotNil(t, sub.Events)
	assert.Empty(t, sub.Events)
}

func TestRunTimeout(t *testing.T) {
	ts, _ := fakeServer(t)

	start := time.Now()
	err := Run(context.Background(), Config{
		ServerURL: wsURL(ts),
		Timeout:   200 * time.Millisecond,
		Out:       &safeBuffer{},
		Logger:    log.Discard(),
	})

	var exitErr interface{ ExitCode() int }
	require.True(t, errors.As(err, &exitErr), "got %v", err)
	assert.Equal(t, 124, exitErr.ExitCode())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Run(ctx, Config{ServerURL: "ws://127.0.0.1:1/ws", Out: &safeBuffer{}, Logger: log.Discard()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second))
	assert.Equal(t, 16*time.Second, nextBackoff(8*time.Second))
	assert.Equal(t, 30*time.Second, nextBackoff(20*time.Second))
	assert.Equal(t, 30*time.Second, nextBackoff(30*time.Second))
}
