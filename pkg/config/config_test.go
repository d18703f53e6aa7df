package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
symbols: [BTCUSDT]
storage:
  driver: memory
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT"}, c.Symbols)
	assert.Equal(t, "development", c.Environment)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 0.60, c.Scorer.Threshold)
	assert.Equal(t, 300*time.Second, c.Scorer.Cooldown)
	assert.Equal(t, time.Second, c.Detector.ReadTimeout)
	assert.Equal(t, 2*time.Second, c.Scorer.ReadTimeout)
	assert.Equal(t, 2.0, c.Scorer.TPMultiplier)
	assert.Equal(t, 1.0, c.Scorer.SLMultiplier)
	assert.True(t, c.Scorer.MTF.Enabled)
	assert.Equal(t, 2, c.Scorer.MTF.MinAligned)
	assert.Equal(t, []string{"1m", "5m", "15m", "1h"}, c.Scorer.MTF.Timeframes)
	assert.Equal(t, time.Hour, c.Tracker.TTL)
	assert.Equal(t, 5, c.Notifier.MaxAttempts)
	assert.Equal(t, 2*time.Second, c.Notifier.BackoffBase)
	assert.Equal(t, 60*time.Second, c.Notifier.BackoffMax)
	assert.Equal(t, 10000, c.Notifier.QueueCapacity)
	assert.Equal(t, "memory", c.EventLog.Backend)
	assert.Equal(t, "signalflow.events", c.Kafka.Topics.Events)
	assert.Equal(t, 5*time.Second, c.Price.Stream.MaxAge)
	assert.False(t, c.Price.Stream.Enabled)
}

func TestParseOverrides(t *testing.T) {
	c, err := Parse([]byte(`
symbols: [ETHUSDT, SOLUSDT]
storage:
  driver: memory
scorer:
  threshold: 0.55
  cooldown: 120s
  mtf:
    min_aligned: 3
    timeframes: [5m, 15m, 1h]
tracker:
  ttl: 30m
`))
	require.NoError(t, err)
	assert.Equal(t, 0.55, c.Scorer.Threshold)
	assert.Equal(t, 2*time.Minute, c.Scorer.Cooldown)
	assert.Equal(t, 3, c.Scorer.MTF.MinAligned)
	assert.Equal(t, []string{"5m", "15m", "1h"}, c.Scorer.MTF.Timeframes)
	assert.Equal(t, 30*time.Minute, c.Tracker.TTL)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"no symbols":           "storage:\n  driver: memory\n",
		"postgres without dsn": "symbols: [BTCUSDT]\n",
		"threshold above one":  minimal + "scorer:\n  threshold: 1.5\n",
		"too many aligned":     minimal + "scorer:\n  mtf:\n    min_aligned: 5\n",
		"bad timeframe":        minimal + "scorer:\n  mtf:\n    timeframes: [2m]\n",
		"kafka log backend":    minimal + "event_log:\n  backend: kafka\n",
		"telegram half set":    minimal + "telegram:\n  bot_token: abc\n",
		"backoff inverted":     minimal + "notifier:\n  backoff_base: 90s\n",
		"unknown driver":       "symbols: [BTCUSDT]\nstorage:\n  driver: sqlite\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadSampleConfig(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, c.Symbols)
	assert.Equal(t, "postgres", c.Storage.Driver)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	t.Setenv("SYMBOLS", " btcusdt, ethusdt ,")
	t.Setenv("SCORE_THRESHOLD", "0.7")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, c.Symbols)
	assert.Equal(t, 0.7, c.Scorer.Threshold)
	assert.Equal(t, "token", c.Telegram.BotToken)
	assert.Equal(t, "42", c.Telegram.ChatID)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)

	t.Setenv("SCORE_THRESHOLD", "high")
	_, err = LoadWithEnv(path)
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, "postgres", c.Storage.Driver)
	assert.Equal(t, 10000, c.Detector.QueueCapacity)
	assert.Equal(t, -1, c.Kafka.RequiredAcks)
}
