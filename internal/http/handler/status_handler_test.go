package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/adx-trend-bot/internal/datastore"
	"github.com/your-org/adx-trend-bot/internal/ledger"
	"github.com/your-org/adx-trend-bot/internal/strategy"
)

func newRouter(t *testing.T) (http.Handler, *datastore.InMemRepository) {
	t.Helper()
	store := datastore.NewInMemRepository()
	ctx := context.Background()
	require.NoError(t, store.SetEngineRunning(ctx, true))
	require.NoError(t, store.SetHealth(ctx, "ok"))
	store.SeedStrategies(strategy.Strategy{
		Symbol: "AAPL", Active: true, RunID: "run-1",
		Params: strategy.Parameters{ADXEntryThreshold: 25, RSIEntryThreshold: 55, TakeProfitPct: 0.1, StopLossPct: 0.05},
	})
	base := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	for i, sym := range []string{"AAPL", "MSFT", "AAPL"} {
		_, err := store.InsertExecution(ctx, ledger.Execution{
			OrderID: "o-" + string(rune('1'+i)), DedupeKey: "k-" + string(rune('1'+i)),
			Symbol: sym, Side: ledger.SideBuy, Qty: 1, SubmittedAt: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	r := chi.NewRouter()
	NewStatusHandler(store).RegisterRoutes(r)
	return r, store
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	h, _ := newRouter(t)
	rec := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestGetStatus(t *testing.T) {
	h, _ := newRouter(t)
	rec := get(t, h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var st datastore.SystemStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.EngineRunning)
	assert.Equal(t, "ok", st.Health)
}

func TestGetExecutions(t *testing.T) {
	h, _ := newRouter(t)

	var rows []ledger.Execution
	rec := get(t, h, "/executions?symbol=AAPL")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "o-3", rows[0].OrderID, "newest first")

	rec = get(t, h, "/executions?limit=1")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.Len(t, rows, 1)

	rec = get(t, h, "/executions?symbol=TSLA")
	assert.JSONEq(t, "[]", rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/executions?limit=abc").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/executions?since=yesterday").Code)
}

func TestGetStrategies(t *testing.T) {
	h, _ := newRouter(t)
	rec := get(t, h, "/strategies")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"symbol":"AAPL","active":true,"run_id":"run-1",
		"params":{"adx_entry_threshold":25,"rsi_entry_threshold":55,"take_profit_pct":0.1,"stop_loss_pct":0.05}}]`,
		rec.Body.String())
}

type brokenStore struct{ Store }

func (brokenStore) SystemStatus(context.Context) (datastore.SystemStatus, error) {
	return datastore.SystemStatus{}, errors.New("connection refused")
}

func TestHealth_StoreDown(t *testing.T) {
	r := chi.NewRouter()
	NewStatusHandler(brokenStore{}).RegisterRoutes(r)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, r, "/health").Code)
	assert.Equal(t, http.StatusInternalServerError, get(t, r, "/status").Code)
}
