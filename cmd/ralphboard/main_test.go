package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/egv/super-ralph-lite/internal/version"
	"github.com/stretchr/testify/require"
)

func TestRunMainSupportsVersionFlag(t *testing.T) {
	original := version.Version
	version.Version = "ralphboard-version-test"
	t.Cleanup(func() { version.Version = original })

	out := &bytes.Buffer{}
	code := RunMain([]string{"--version"}, nil, out, io.Discard)
	require.Equal(t, 0, code)
	require.Equal(t, "ralphboard ralphboard-version-test", strings.TrimSpace(out.String()))
}

func TestRunMainRequiresRunID(t *testing.T) {
	errBuf := &bytes.Buffer{}
	code := RunMain(nil, nil, io.Discard, errBuf)
	require.Equal(t, 2, code)
	require.Contains(t, errBuf.String(), "--run-id")
}

func TestRunMainExitsTwoOnBadFlags(t *testing.T) {
	errBuf := &bytes.Buffer{}
	code := RunMain([]string{"--unknown-flag"}, nil, io.Discard, errBuf)
	require.Equal(t, 2, code)
}

func TestRunMainExitsOneOnUnopenableStore(t *testing.T) {
	errBuf := &bytes.Buffer{}
	code := RunMain([]string{"--run-id", "run-1", "--data-dir", "/nonexistent/deeply/nested/dir"}, nil, io.Discard, errBuf)
	require.Equal(t, 1, code)
	require.NotEmpty(t, errBuf.String())
}

func TestDialBusDefaultsToNilWithoutFlag(t *testing.T) {
	bus, err := dialBus("", "")
	require.NoError(t, err)
	require.Nil(t, bus)
}

func TestDialBusRequiresAddrForRedis(t *testing.T) {
	_, err := dialBus("redis", "")
	require.ErrorContains(t, err, "--bus-addr")
}

func TestDialBusRejectsUnknownBackend(t *testing.T) {
	_, err := dialBus("carrier-pigeon", "localhost")
	require.ErrorContains(t, err, "unknown --bus backend")
}
