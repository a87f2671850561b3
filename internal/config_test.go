package internal_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/puzzle-race/internal"
)

// clearEnv 清空會覆蓋配置的環境變數
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PORT", "PUBLIC_URL", "DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD", "LOG_LEVEL", "GAME_DURATION"} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestLoadConfig 測試配置載入
func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		env      map[string]string
		wantErr  bool
		validate func(t *testing.T, cfg *internal.Config)
	}{
		{
			name: "defaults without file",
			validate: func(t *testing.T, cfg *internal.Config) {
				assert.Equal(t, 5001, cfg.Server.Port)
				assert.Equal(t, 1800*time.Second, cfg.Game.Duration)
				assert.Equal(t, 2*time.Second, cfg.Game.GraceDelay)
				assert.Equal(t, "default", cfg.Game.DefaultRoom)
				assert.Equal(t, 54*time.Second, cfg.WebSocket.PingInterval)
				assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)
				assert.Empty(t, cfg.Postgres.DSN)
				assert.Empty(t, cfg.Redis.Addr)
				assert.Equal(t, "info", cfg.Log.Level)
			},
		},
		{
			name: "yaml overrides defaults",
			yaml: `
server:
  port: 6000
  public_url: https://puzzle.example.com
game:
  duration: 10m
  grace_delay: 500ms
  default_room: main
websocket:
  allowed_origins:
    - https://puzzle.example.com
postgres:
  dsn: postgres://u:p@localhost:5432/puzzle?sslmode=disable
redis:
  addr: localhost:6379
log:
  level: debug
  format: json
`,
			validate: func(t *testing.T, cfg *internal.Config) {
				assert.Equal(t, 6000, cfg.Server.Port)
				assert.Equal(t, "https://puzzle.example.com", cfg.Server.PublicURL)
				assert.Equal(t, 10*time.Minute, cfg.Game.Duration)
				assert.Equal(t, 500*time.Millisecond, cfg.Game.GraceDelay)
				assert.Equal(t, "main", cfg.Game.DefaultRoom)
				assert.Equal(t, []string{"https://puzzle.example.com"}, cfg.WebSocket.AllowedOrigins)
				assert.Equal(t, 54*time.Second, cfg.WebSocket.PingInterval, "unset keys keep defaults")
				assert.Equal(t, "postgres://u:p@localhost:5432/puzzle?sslmode=disable", cfg.Postgres.DSN)
				assert.Equal(t, int32(10), cfg.Postgres.MaxConns)
				assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
				assert.Equal(t, "puzzle:leaderboard:wins", cfg.Redis.LeaderboardKey)
				assert.Equal(t, "debug", cfg.Log.Level)
				assert.Equal(t, "json", cfg.Log.Format)
			},
		},
		{
			name: "environment overrides yaml",
			yaml: `
server:
  port: 6000
game:
  duration: 10m
`,
			env: map[string]string{
				"PORT":          "7000",
				"GAME_DURATION": "90s",
				"DATABASE_URL":  "postgres://env",
				"REDIS_ADDR":    "redis:6379",
				"LOG_LEVEL":     "warn",
			},
			validate: func(t *testing.T, cfg *internal.Config) {
				assert.Equal(t, 7000, cfg.Server.Port)
				assert.Equal(t, 90*time.Second, cfg.Game.Duration)
				assert.Equal(t, "postgres://env", cfg.Postgres.DSN)
				assert.Equal(t, "redis:6379", cfg.Redis.Addr)
				assert.Equal(t, "warn", cfg.Log.Level)
			},
		},
		{
			name:    "invalid yaml",
			yaml:    "server: [",
			wantErr: true,
		},
		{
			name:    "invalid port env",
			env:     map[string]string{"PORT": "abc"},
			wantErr: true,
		},
		{
			name:    "invalid duration env",
			env:     map[string]string{"GAME_DURATION": "forever"},
			wantErr: true,
		},
		{
			name:    "port out of range",
			yaml:    "server:\n  port: 70000\n",
			wantErr: true,
		},
		{
			name:    "non positive duration",
			yaml:    "game:\n  duration: 0s\n",
			wantErr: true,
		},
		{
			name:    "zero grace delay",
			yaml:    "game:\n  grace_delay: 0s\n",
			wantErr: true,
		},
		{
			name:    "empty default room",
			yaml:    "game:\n  default_room: \"\"\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := filepath.Join(t.TempDir(), "missing.yaml")
			if tt.yaml != "" {
				path = writeConfig(t, tt.yaml)
			}

			cfg, err := internal.LoadConfig(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			tt.validate(t, cfg)
		})
	}
}
