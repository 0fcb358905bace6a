package hashutil

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

func requireIPTool(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ip"); err != nil {
		t.Skip("ip tool not available")
	}
}

func TestGetRouteLoopback(t *testing.T) {
	requireIPTool(t)
	route, err := GetRoute(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	require.NotEmpty(t, route.Dev)
}

func TestGetRouteUnroutable(t *testing.T) {
	requireIPTool(t)
	_, err := GetRoute(context.Background(), "not-an-address")
	require.Error(t, err)
}

func TestGuessLocalIPWithLiteralPeer(t *testing.T) {
	requireIPTool(t)
	ip, err := GuessLocalIP(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	require.NotEmpty(t, ip)
}
