package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("STAGING_CHAT_ID", "-1001234")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, uint64(4294967296), cfg.Transfer.MaxFileSize)
	assert.Equal(t, []string{".mp4", ".mkv", ".Mkv", ".webm"}, cfg.Transfer.AllowedExtensions)
	assert.Equal(t, 30*time.Second, cfg.Quota.PremiumWindow)
	assert.Equal(t, 60*time.Second, cfg.Quota.FreeWindow)
	assert.Equal(t, 2*time.Hour, cfg.Quota.UsageWindow)
	assert.Equal(t, 5, cfg.Quota.RequestLimit)
	assert.False(t, cfg.Quota.Enforce)
	assert.Equal(t, 5*time.Second, cfg.Transfer.ProgressInterval)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, int64(-1001234), cfg.Telegram.StagingChatID)
	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.Resolver.CookieExpiresAt.IsZero())
	assert.Empty(t, cfg.Matcher.ExtraDomains)
	assert.Equal(t, 2048, cfg.Matcher.MaxURLLength)
}

func TestLoad_FromEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("ADMIN_IDS", "111, 222")
	t.Setenv("REQUIRED_CHANNELS", "@news,@chat")
	t.Setenv("TERABOX_COOKIE", "ndus=secret")
	t.Setenv("TERABOX_COOKIE_EXPIRES_AT", "2030-01-02T15:04:05Z")
	t.Setenv("ENFORCE_REQUEST_LIMIT", "true")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("MATCHER_DOMAINS", "terabox.club, mirror.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []int64{111, 222}, cfg.Telegram.AdminIDs)
	assert.Equal(t, []string{"@news", "@chat"}, cfg.Telegram.RequiredChannels)
	assert.Equal(t, "ndus=secret", cfg.Resolver.Cookie)
	assert.Equal(t, 2030, cfg.Resolver.CookieExpiresAt.Year())
	assert.True(t, cfg.Quota.Enforce)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "production", cfg.Log.Environment)
	assert.Equal(t, []string{"terabox.club", "mirror.example"}, cfg.Matcher.ExtraDomains)
}

func TestLoad_ConfigFile(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "bot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 9\nlog_level: debug\n"), 0o644))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Worker.Count)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing token", map[string]string{"TELEGRAM_BOT_TOKEN": "", "STAGING_CHAT_ID": "1"}},
		{"missing staging chat", map[string]string{"TELEGRAM_BOT_TOKEN": "x", "STAGING_CHAT_ID": ""}},
		{"bad admin list", map[string]string{"ADMIN_IDS": "abc"}},
		{"bad driver", map[string]string{"DB_DRIVER": "mysql"}},
		{"bad level", map[string]string{"LOG_LEVEL": "loud"}},
		{"bad env", map[string]string{"ENVIRONMENT": "staging"}},
		{"bad expiry", map[string]string{"TERABOX_COOKIE_EXPIRES_AT": "tomorrow"}},
		{"zero workers", map[string]string{"WORKERS": "0"}},
		{"zero url length", map[string]string{"MATCHER_MAX_URL_LENGTH": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
