package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("USER_ID", "alice")
	t.Setenv("STUN_URLS", "")
	t.Setenv("SIGNAL_BACKEND", "")
	t.Setenv("MEDIA_SOURCE", "")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("REDIS_KEY_PREFIX", "")
	t.Setenv("CALL_RING_TIMEOUT", "")
	t.Setenv("CALL_CONNECT_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, BackendMemory, cfg.SignalBackend)
	assert.Equal(t, MediaDevices, cfg.MediaSource)
	assert.Equal(t, DefaultSTUNURLs, cfg.STUNURLs)
	assert.Equal(t, 45*time.Second, cfg.RingTimeout)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "call:", cfg.RedisKeyPrefix)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("USER_ID", "bob")
	t.Setenv("SIGNAL_BACKEND", "Redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("STUN_URLS", " stun:a.example:3478, ,stun:b.example:3478 ")
	t.Setenv("CALL_RING_TIMEOUT", "10s")
	t.Setenv("MEDIA_SOURCE", "synthetic")
	t.Setenv("CONTACTS", "alice=Alice Liddell, carol = Carol,=nobody")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.SignalBackend)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, []string{"stun:a.example:3478", "stun:b.example:3478"}, cfg.STUNURLs)
	assert.Equal(t, 10*time.Second, cfg.RingTimeout)
	assert.Equal(t, MediaSynthetic, cfg.MediaSource)
	assert.Equal(t, map[string]string{"alice": "Alice Liddell", "carol": "Carol"}, cfg.Contacts)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("USER_ID", "alice")
	t.Setenv("CALL_CONNECT_TIMEOUT", "soon")
	_, err := Load()
	assert.ErrorContains(t, err, "CALL_CONNECT_TIMEOUT")
}

func TestValidate(t *testing.T) {
	base := Config{
		UserID:         "alice",
		SignalBackend:  BackendMemory,
		MediaSource:    MediaSynthetic,
		STUNURLs:       DefaultSTUNURLs,
		RingTimeout:    time.Second,
		ConnectTimeout: time.Second,
	}
	require.NoError(t, base.Validate())

	noUser := base
	noUser.UserID = ""
	assert.ErrorContains(t, noUser.Validate(), "USER_ID")

	fs := base
	fs.SignalBackend = BackendFirestore
	assert.ErrorContains(t, fs.Validate(), "FIREBASE_PROJECT_ID")
	fs.FirebaseProjectID = "demo"
	assert.NoError(t, fs.Validate())

	badBackend := base
	badBackend.SignalBackend = "kafka"
	assert.Error(t, badBackend.Validate())

	badStun := base
	badStun.STUNURLs = []string{"turn:relay.example"}
	assert.ErrorContains(t, badStun.Validate(), "turn:relay.example")
}
