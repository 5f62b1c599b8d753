package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, 10*time.Minute, cfg.RoomIdleTimeout)
	require.Equal(t, time.Minute, cfg.SweepInterval)
	require.Equal(t, 15, cfg.DefaultBoard)
	require.Empty(t, cfg.DatabaseURL)
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("ADDR", ":9090")
	t.Setenv("ROOM_IDLE_TIMEOUT", "30s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Parse()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Addr)
	require.Equal(t, 30*time.Second, cfg.RoomIdleTimeout)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestParse_RejectsTinyBoard(t *testing.T) {
	t.Setenv("DEFAULT_BOARD_SIZE", "2")
	_, err := Parse()
	require.Error(t, err)
}
