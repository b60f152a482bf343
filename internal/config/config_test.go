package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()

	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, 20*time.Second, cfg.RoundTimeout)
	require.Equal(t, 20*time.Second, cfg.ReconnectGrace)
	require.Equal(t, 5, cfg.WinThreshold)
	require.Equal(t, 5, cfg.MinRoomCodeLen)
	require.Equal(t, 6, cfg.RoomCodeLen)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("ROUND_TIMEOUT_MS", "1500")
	t.Setenv("WIN_THRESHOLD", "3")
	t.Setenv("LISTEN_ADDR", ":9999")

	cfg := FromEnv()
	require.Equal(t, 1500*time.Millisecond, cfg.RoundTimeout)
	require.Equal(t, 3, cfg.WinThreshold)
	require.Equal(t, ":9999", cfg.ListenAddr)
}

func TestFromEnv_MalformedIntFallsBack(t *testing.T) {
	t.Setenv("WIN_THRESHOLD", "five")

	cfg := FromEnv()
	require.Equal(t, 5, cfg.WinThreshold)
}
