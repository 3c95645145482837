package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Should load default configuration when no environment set", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 5*time.Second, cfg.HandlerTimeout)
		assert.Equal(t, 30*time.Second, cfg.IoCommandTimeout)
		assert.Equal(t, 64, cfg.MailboxCapacity)
		assert.True(t, cfg.BlacklistHitEnabled)
		assert.True(t, cfg.BlacklistBucketEnabled)
	})

	t.Run("Should overlay environment variables over defaults", func(t *testing.T) {
		t.Setenv(EnvPrefix+"HANDLER_TIMEOUT", "10s")
		t.Setenv(EnvPrefix+"BLACKLIST_BUCKET_ENABLED", "false")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 10*time.Second, cfg.HandlerTimeout)
		assert.False(t, cfg.BlacklistBucketEnabled)
		assert.True(t, cfg.BlacklistHitEnabled)
	})

	t.Run("Should reject a non-positive mailbox capacity", func(t *testing.T) {
		t.Setenv(EnvPrefix+"MAILBOX_CAPACITY", "0")

		_, err := Load()
		require.Error(t, err)
	})
}
