package logger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func (p *capturePublisher) all() [][]AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]AggregatedLogEntry(nil), p.batches...)
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	l.With(String("component", "tracker")).Info("signal closed",
		String("signal_id", "s1"),
		Float64("return_pct", 0.82),
		Duration("duration_ms", 90*time.Second),
	)
	l.Debug("hidden")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(b)
	assert.Contains(t, out, `"message":"signal closed"`)
	assert.Contains(t, out, `"component":"tracker"`)
	assert.Contains(t, out, `"signal_id":"s1"`)
	assert.Contains(t, out, `"duration_ms":90000`)
	assert.NotContains(t, out, "hidden")
}

func TestCollectorAggregatesErrors(t *testing.T) {
	pub := &capturePublisher{}
	l := NewNop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "signalflow.logs", Publisher: pub})

	for i := 0; i < 3; i++ {
		l.Error("outcome write failed", String("signal_id", "s1"), Error(errors.New("timeout")))
	}
	l.Error("dead letter write failed", String("key", "k"))
	l.Warn("not collected")
	l.RemoveCollector()

	batches := pub.all()
	require.Len(t, batches, 1)
	assert.Equal(t, "signalflow.logs", pub.topic)
	require.Len(t, batches[0], 2)
	assert.Equal(t, 3, batches[0][0].Count)
	assert.Equal(t, "outcome write failed", batches[0][0].Message)
	assert.Equal(t, "error", batches[0][0].Level)
	assert.True(t, strings.Contains(batches[0][0].Caller, "logger_test.go"))
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Publisher: pub})
	defer c.Close()

	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")
	require.Eventually(t, func() bool { return len(pub.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, pub.all()[0], 2)
}

func TestFieldKeyValues(t *testing.T) {
	k, v := Strings("symbols", []string{"BTCUSDT", "ETHUSDT"}).GetKeyValue()
	assert.Equal(t, "symbols", k)
	assert.Equal(t, "BTCUSDT, ETHUSDT", v)

	_, v = Error(errors.New("boom")).GetKeyValue()
	assert.Equal(t, "boom", v)

	k, v = Error(nil).GetKeyValue()
	assert.Equal(t, "error", k)
	assert.Nil(t, v)
}
