package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kehao95/hook-pulse/internal/config"
	"github.com/kehao95/hook-pulse/internal/signature"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(strings.NewReader(stdin), &out)
	cmd.SetArgs(args)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	return out.String(), err
}

func TestSignFromStdin(t *testing.T) {
	t.Setenv(config.DefaultSecretEnv, "shh")
	body := `{"type":"ROOM_CREATED"}`

	out, err := execute(t, body, "sign", "--timestamp", "1760000000")
	require.NoError(t, err)

	want := signature.NewVerifier([]byte("shh")).Sign([]byte(body), "1760000000")
	assert.Equal(t,
		"X-SkyWay-Request-Timestamp: 1760000000\nX-SkyWay-Signature: "+want+"\n",
		out)
}

func TestSignFromFile(t *testing.T) {
	t.Setenv("OTHER_SECRET", "k")
	path := filepath.Join(t.TempDir(), "body.json")
	body := "{\"type\":\"X\"}\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	out, err := execute(t, "", "sign", "--secret-env", "OTHER_SECRET", "--file", path, "--timestamp", "42")
	require.NoError(t, err)
	assert.Contains(t, out, signature.NewVerifier([]byte("k")).Sign([]byte(body), "42"))
}

func TestSignRequiresSecret(t *testing.T) {
	t.Setenv(config.DefaultSecretEnv, "")

	_, err := execute(t, "{}", "sign")
	assert.ErrorIs(t, err, config.ErrMissingSecret)
}

func TestServeRequiresSecret(t *testing.T) {
	t.Setenv(config.DefaultSecretEnv, "")

	_, err := execute(t, "", "serve", "--port", "0")
	require.Error(t, err)
}

func TestServeRejectsBadPath(t *testing.T) {
	t.Setenv(config.DefaultSecretEnv, "shh")

	_, err := execute(t, "", "serve", "--path", "hooks")
	assert.ErrorContains(t, err, "webhook.path")
}

func TestRunWithSignalsPassesThroughErrors(t *testing.T) {
	boom := errors.New("boom")
	assert.ErrorIs(t, runWithSignals(func(context.Context) error { return boom }), boom)
	assert.NoError(t, runWithSignals(func(context.Context) error { return context.Canceled }))
}

func TestExitError(t *testing.T) {
	err := exitError{code: 130}
	assert.Equal(t, 130, err.ExitCode())
	assert.Equal(t, "exit with code 130", err.Error())
}
