package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalFlow/internal/domain/models"
)

func TestParseFeatureHash(t *testing.T) {
	h := map[string]string{
		"timeframe":       "5m",
		"structure_state": "uptrend",
		"breakout":        "bullish",
		"breakout_level":  "50123.5",
		"atr":             "200",
		"range_expansion": "1.8",
		"ema_slope":       "0.004",
		"vwap_distance":   "-0.01",
		"oi_delta":        "0.025",
		"funding_zscore":  "2.7",
		"liq_ratio":       "1.4",
		"liq_total_usd":   "1250000",
		"ob_imbalance":    "-0.3",
		"ts":              "1700000000.5",
	}
	snap, err := ParseFeatureHash("BTCUSDT", "5m", h)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.Equal(t, models.StructureUptrend, snap.Structure)
	assert.Equal(t, models.BiasBullish, snap.Breakout)
	assert.Equal(t, 200.0, snap.ATR)
	assert.Equal(t, 0.025, snap.OIDelta)
	assert.Equal(t, -0.3, snap.OBImbalance)
	assert.True(t, snap.HasFundingZ)
	assert.True(t, snap.HasOBImbalance)
	assert.True(t, snap.HasLiquidations)
	assert.Equal(t, time.Unix(1700000000, 500_000_000).UTC(), snap.Timestamp)
}

func TestParseFeatureHashMissingFields(t *testing.T) {
	snap, err := ParseFeatureHash("ETHUSDT", "1h", map[string]string{"breakout": "none", "atr": "12"})
	require.NoError(t, err)
	assert.Equal(t, models.BiasNone, snap.Breakout)
	assert.False(t, snap.HasFundingZ)
	assert.False(t, snap.HasOBImbalance)
	assert.Equal(t, "1h", snap.Timeframe)
	assert.True(t, snap.Timestamp.IsZero())
}

func TestParseFeatureHashRejectsGarbage(t *testing.T) {
	_, err := ParseFeatureHash("BTCUSDT", "5m", map[string]string{"atr": "abc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "atr")

	_, err = ParseFeatureHash("BTCUSDT", "5m", map[string]string{"ema_slope": "NaN"})
	assert.Error(t, err)
}
