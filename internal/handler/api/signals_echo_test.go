package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/internal/repository"
	"SignalFlow/internal/usecase"
	"SignalFlow/pkg/cache"
	"SignalFlow/pkg/logger"
)

type fakeTracker struct {
	store  domrepo.SignalStore
	closed map[string]bool
}

func (f *fakeTracker) OpenSignals() []models.OpenSignalView {
	return []models.OpenSignalView{{Signal: &models.Signal{ID: "open-1", Symbol: "BTCUSDT"}, CurrentPrice: 50100, UnrealizedPct: 0.2}}
}

func (f *fakeTracker) CloseManual(ctx context.Context, id string, price float64) (*models.Signal, error) {
	sig, err := f.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sig.IsOpen() {
		return sig, usecase.ErrAlreadyClosed
	}
	u := models.OutcomeUpdate{Outcome: models.OutcomeManual, ClosedAt: sig.CreatedAt.Add(time.Minute), ClosePrice: price}
	if _, err := f.store.UpdateOutcome(ctx, id, u); err != nil {
		return nil, err
	}
	sig.Apply(u)
	return sig, nil
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type listData struct {
	Rows  json.RawMessage `json:"rows"`
	Total int64           `json:"total"`
}

func newTestAPI(t *testing.T, checks ...HealthCheck) (*echo.Echo, *repository.MemorySignalStore) {
	t.Helper()
	_, e, store := newTestHandler(t, checks...)
	return e, store
}

func newTestHandler(t *testing.T, checks ...HealthCheck) (*SignalsEchoHandler, *echo.Echo, *repository.MemorySignalStore) {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemorySignalStore()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i, sym := range []string{"BTCUSDT", "BTCUSDT", "ETHUSDT"} {
		tp, sl := models.Levels(models.Long, 100, 1, 2, 1)
		_, err := store.Record(ctx, &models.Signal{
			ID: []string{"a", "b", "c"}[i], Symbol: sym, Direction: models.Long, Score: 0.7,
			EntryPrice: 100, TargetPrice: tp, StopPrice: sl, ATR: 1,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err := store.UpdateOutcome(ctx, "a", models.OutcomeUpdate{Outcome: models.OutcomeTPHit, ClosedAt: base.Add(time.Hour), ClosePrice: 102, ReturnPct: 2})
	require.NoError(t, err)

	events := repository.NewMemoryEventLog(100)
	require.NoError(t, events.StoreBatch(ctx, []models.EventRecord{
		{ID: "e1", Timestamp: base, Symbol: "BTCUSDT", EventType: string(models.EventOIExpansion), Strength: 0.5},
		{ID: "e2", Timestamp: base.Add(time.Second), Symbol: "ETHUSDT", EventType: string(models.EventLiquidationSpike), Strength: 0.9},
	}))

	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })

	h := NewSignalsEchoHandler(logger.NewNop(), store, &fakeTracker{store: store}, events, mc, nil, checks,
		Options{CacheTTL: time.Minute, Version: "test"})
	e := echo.New()
	h.RegisterRoutes(e)
	return h, e, store
}

func do(t *testing.T, e *echo.Echo, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestListSignalsFilters(t *testing.T) {
	e, _ := newTestAPI(t)

	rec, env := do(t, e, http.MethodGet, "/api/signals?symbol=btcusdt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list listData
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.EqualValues(t, 2, list.Total)

	_, env = do(t, e, http.MethodGet, "/api/signals?outcome=open", "")
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.EqualValues(t, 2, list.Total)

	_, env = do(t, e, http.MethodGet, "/api/signals?outcome=tp_hit", "")
	require.NoError(t, json.Unmarshal(env.Data, &list))
	var rows []models.Signal
	require.NoError(t, json.Unmarshal(list.Rows, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].ID)
}

func TestListSignalsValidation(t *testing.T) {
	e, _ := newTestAPI(t)
	rec, _ := do(t, e, http.MethodGet, "/api/signals?outcome=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, e, http.MethodGet, "/api/signals?limit=100000", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, e, http.MethodGet, "/api/signals?symbol=BTC-USD", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, e, http.MethodGet, "/api/stats?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, e, http.MethodGet, "/api/stats?since=24h", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetSignal(t *testing.T) {
	e, _ := newTestAPI(t)

	rec, env := do(t, e, http.MethodGet, "/api/signals/b", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sig models.Signal
	require.NoError(t, json.Unmarshal(env.Data, &sig))
	assert.Equal(t, "b", sig.ID)

	rec, _ = do(t, e, http.MethodGet, "/api/signals/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCloseSignal(t *testing.T) {
	e, store := newTestAPI(t)

	rec, env := do(t, e, http.MethodPost, "/api/signals/b/close", `{"price":101.5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sig models.Signal
	require.NoError(t, json.Unmarshal(env.Data, &sig))
	require.NotNil(t, sig.Outcome)
	assert.Equal(t, models.OutcomeManual, *sig.Outcome)

	stored, err := store.Get(context.Background(), "b")
	require.NoError(t, err)
	assert.False(t, stored.IsOpen())

	rec, _ = do(t, e, http.MethodPost, "/api/signals/b/close", `{"price":101.5}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, e, http.MethodPost, "/api/signals/nope/close", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsAreCached(t *testing.T) {
	e, store := newTestAPI(t)

	_, env := do(t, e, http.MethodGet, "/api/stats", "")
	var st models.SignalStats
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.Wins)

	// a new record is invisible until the cache entry expires
	_, err := store.Record(context.Background(), &models.Signal{
		ID: "d", Symbol: "SOLUSDT", Direction: models.Short, Score: 0.8,
		EntryPrice: 10, TargetPrice: 9, StopPrice: 10.5, ATR: 0.5, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	_, env = do(t, e, http.MethodGet, "/api/stats", "")
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, 3, st.Total)

	_, env = do(t, e, http.MethodGet, "/api/stats/symbols", "")
	var list listData
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.EqualValues(t, 3, list.Total)
}

func TestOpenSignalsAndEvents(t *testing.T) {
	e, _ := newTestAPI(t)

	_, env := do(t, e, http.MethodGet, "/api/signals/open", "")
	var list listData
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.EqualValues(t, 1, list.Total)

	_, env = do(t, e, http.MethodGet, "/api/events?type=liquidation_spike", "")
	require.NoError(t, json.Unmarshal(env.Data, &list))
	var rows []models.EventRecord
	require.NoError(t, json.Unmarshal(list.Rows, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "e2", rows[0].ID)
}

func TestHealth(t *testing.T) {
	e, _ := newTestAPI(t, HealthCheck{Name: "store", Check: func(context.Context) error { return nil }})
	rec, _ := do(t, e, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	e, _ = newTestAPI(t, HealthCheck{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }})
	rec, env := do(t, e, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, string(env.Data), "connection refused")
}

func TestOutcomeElsewhereRefreshesStats(t *testing.T) {
	h, e, store := newTestHandler(t)

	_, env := do(t, e, http.MethodGet, "/api/stats", "")
	var st models.SignalStats
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, 1, st.Wins)

	closed := time.Date(2026, 2, 1, 2, 0, 0, 0, time.UTC)
	_, err := store.UpdateOutcome(context.Background(), "b", models.OutcomeUpdate{Outcome: models.OutcomeTPHit, ClosedAt: closed, ClosePrice: 102, ReturnPct: 2})
	require.NoError(t, err)
	sig, err := store.Get(context.Background(), "b")
	require.NoError(t, err)
	h.OnOutcome(sig)

	_, env = do(t, e, http.MethodGet, "/api/stats", "")
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, 2, st.Wins)
}
