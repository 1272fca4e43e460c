package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	nativecommon "github.com/D2dProtocol/d2d-program/native/common"
	"github.com/D2dProtocol/d2d-program/native/treasury"
	"github.com/D2dProtocol/d2d-program/services/treasuryd/journal"
	"github.com/D2dProtocol/d2d-program/storage"
)

type requestLog struct {
	mu        sync.Mutex
	statuses  map[string][]int
	throttled int
}

func (l *requestLog) Observe(route string, status int, _ time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.statuses == nil {
		l.statuses = make(map[string][]int)
	}
	l.statuses[route] = append(l.statuses[route], status)
}

func (l *requestLog) RecordThrottle(string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.throttled++
}

type stubJournal struct{ records []journal.OperationRecord }

func (s stubJournal) Recent(_ context.Context, limit int) ([]journal.OperationRecord, error) {
	if limit < len(s.records) {
		return s.records[:limit], nil
	}
	return s.records, nil
}

var admin = nativecommon.NewCapability("ops", nativecommon.RoleAdmin)

func newEngine(t *testing.T) *treasury.Engine {
	engine, _ := newEngineWithStore(t)
	return engine
}

func newEngineWithStore(t *testing.T) (*treasury.Engine, *treasury.Store) {
	t.Helper()
	store := treasury.NewStore(storage.NewMemDB())
	engine := treasury.NewEngine(store)
	now := time.Unix(1_700_000_000, 0)
	engine.SetClock(func() time.Time { return now })
	return engine, store
}

// seed funds the pool, lends half of it and queues a withdrawal larger than
// the direct liquidity.
func seed(t *testing.T, engine *treasury.Engine) {
	t.Helper()
	params := treasury.DefaultParams()
	params.RewardFeeBps = 0
	params.PlatformFeeBps = 0
	require.NoError(t, engine.Initialize(admin, params))
	alice := nativecommon.NewCapability("alice", nativecommon.RoleStaker)
	_, err := engine.Deposit(alice, 1_000)
	require.NoError(t, err)
	_, err = engine.OpenDeployment(admin, "dep-1", 500, treasury.DeploymentOptions{SubscriptionMonths: 1})
	require.NoError(t, err)
	_, err = engine.Enqueue(alice, 400)
	require.NoError(t, err)
}

func newTestServer(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	srv, err := New(cfg)
	require.NoError(t, err)
	return srv.Handler()
}

func get(t *testing.T, h http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestNewRequiresTreasury(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestHealthAndUninitialisedLedger(t *testing.T) {
	h := newTestServer(t, Config{Treasury: newEngine(t)})

	rec := get(t, h, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	rec = get(t, h, "/v1/ledger", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, treasury.ErrNotInitialized.Error(), decode(t, rec)["error"])
}

func TestLedgerAndLiquidityViews(t *testing.T) {
	engine := newEngine(t)
	seed(t, engine)
	metrics := &requestLog{}
	h := newTestServer(t, Config{Treasury: engine, Metrics: metrics})

	rec := get(t, h, "/v1/ledger", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.EqualValues(t, 500, body["liquid_balance"])
	require.EqualValues(t, 500, body["total_borrowed"])
	require.EqualValues(t, 400, body["queued_withdrawals"])
	require.Equal(t, "0", body["reward_per_share"])
	params := body["params"].(map[string]any)
	require.EqualValues(t, 8000, params["max_utilization_bps"])

	rec = get(t, h, "/v1/liquidity", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	require.EqualValues(t, 375, body["withdrawable"])
	require.EqualValues(t, 0, body["direct"])
	require.EqualValues(t, 100, body["disbursable"])
	require.EqualValues(t, 5000, body["utilization_bps"])

	rec = get(t, h, "/v1/apy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	require.EqualValues(t, 14166, body["multiplier_bps"])
	require.EqualValues(t, 708, body["apy_bps"])

	rec = get(t, h, "/v1/invariants", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decode(t, rec)["ok"])

	require.Equal(t, []int{http.StatusOK}, metrics.statuses["ledger"])
	require.Equal(t, []int{http.StatusOK}, metrics.statuses["apy"])
}

func TestRecordViews(t *testing.T) {
	engine := newEngine(t)
	seed(t, engine)
	h := newTestServer(t, Config{Treasury: engine})

	rec := get(t, h, "/v1/stakers/alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.EqualValues(t, 1_000, body["deposited"])
	require.EqualValues(t, 400, body["queued_amount"])
	require.Contains(t, body, "claimable")

	require.Equal(t, http.StatusNotFound, get(t, h, "/v1/stakers/mallory", nil).Code)

	rec = get(t, h, "/v1/queue/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	require.Equal(t, "alice", body["staker_id"])
	require.EqualValues(t, 400, body["remaining"])
	require.Equal(t, "pending", body["status"])

	require.Equal(t, http.StatusNotFound, get(t, h, "/v1/queue/9", nil).Code)
	require.Equal(t, http.StatusBadRequest, get(t, h, "/v1/queue/first", nil).Code)

	rec = get(t, h, "/v1/deployments/dep-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	require.Equal(t, "active", body["status"])
	require.EqualValues(t, 500, body["debt_outstanding"])
	require.NotContains(t, body, "terminal_cause")

	require.Equal(t, http.StatusNotFound, get(t, h, "/v1/deployments/dep-2", nil).Code)
}

func TestRequestIDHeader(t *testing.T) {
	h := newTestServer(t, Config{Treasury: newEngine(t)})

	rec := get(t, h, "/healthz", nil)
	_, err := uuid.Parse(rec.Header().Get(requestIDHeader))
	require.NoError(t, err)

	supplied := uuid.NewString()
	rec = get(t, h, "/healthz", map[string]string{requestIDHeader: supplied})
	require.Equal(t, supplied, rec.Header().Get(requestIDHeader))

	rec = get(t, h, "/healthz", map[string]string{requestIDHeader: "not-a-uuid"})
	require.NotEqual(t, "not-a-uuid", rec.Header().Get(requestIDHeader))
}

func TestRateLimitPerClient(t *testing.T) {
	engine := newEngine(t)
	seed(t, engine)
	metrics := &requestLog{}
	h := newTestServer(t, Config{Treasury: engine, Metrics: metrics, RateLimit: RateLimit{RequestsPerMinute: 1, Burst: 1}})

	first := map[string]string{"X-Real-IP": "10.0.0.1"}
	require.Equal(t, http.StatusOK, get(t, h, "/v1/ledger", first).Code)
	require.Equal(t, http.StatusTooManyRequests, get(t, h, "/v1/ledger", first).Code)

	other := map[string]string{"X-Forwarded-For": "10.0.0.2, 10.0.0.9"}
	require.Equal(t, http.StatusOK, get(t, h, "/v1/ledger", other).Code)
	require.Equal(t, 1, metrics.throttled)

	// Health checks bypass the limiter.
	require.Equal(t, http.StatusOK, get(t, h, "/healthz", first).Code)
}

func TestJournalRoute(t *testing.T) {
	engine := newEngine(t)
	reader := stubJournal{records: []journal.OperationRecord{
		{ID: uuid.New(), Operation: "deposit", Outcome: "committed"},
		{ID: uuid.New(), Operation: "enqueue", Outcome: "committed"},
	}}
	h := newTestServer(t, Config{Treasury: engine, Journal: reader})

	rec := get(t, h, "/v1/journal?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ops := decode(t, rec)["operations"].([]any)
	require.Len(t, ops, 1)
	require.Equal(t, "deposit", ops[0].(map[string]any)["operation"])

	require.Equal(t, http.StatusBadRequest, get(t, h, "/v1/journal?limit=0", nil).Code)

	withoutJournal := newTestServer(t, Config{Treasury: engine})
	require.Equal(t, http.StatusNotFound, get(t, withoutJournal, "/v1/journal", nil).Code)
}

func TestStateRootRoute(t *testing.T) {
	engine, store := newEngineWithStore(t)
	seed(t, engine)
	h := newTestServer(t, Config{Treasury: engine, State: store})

	rec := get(t, h, "/v1/root", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	// ledger, one staker, one queue entry and one debt record
	require.EqualValues(t, 4, body["records"])
	root := body["root"].(string)
	require.Len(t, root, 66)

	_, err := engine.Deposit(nativecommon.NewCapability("bob", nativecommon.RoleStaker), 10)
	require.NoError(t, err)
	after := decode(t, get(t, h, "/v1/root", nil))
	require.NotEqual(t, root, after["root"])
	require.EqualValues(t, 5, after["records"])
}

func TestClientID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5000"
	require.Equal(t, "192.0.2.7", clientID(req))
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
	require.Equal(t, "198.51.100.1", clientID(req))
	req.Header.Set("X-Real-IP", "203.0.113.5")
	require.Equal(t, "203.0.113.5", clientID(req))
}

func TestTracerWrapsRequestsInSpans(t *testing.T) {
	engine := newEngine(t)
	seed(t, engine)
	spans := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	srv, err := New(Config{Treasury: engine, Tracer: provider})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ledger", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	ended := spans.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "treasuryd", ended[0].Name())
}
