package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paxtone-io/openkodo/internal/config"
	"github.com/paxtone-io/openkodo/internal/contextgen"
	"github.com/paxtone-io/openkodo/internal/extract"
	"github.com/paxtone-io/openkodo/internal/index"
	"github.com/paxtone-io/openkodo/internal/store"
)

type env struct {
	srv     *Server
	records *store.Store
	now     time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()

	dir := t.TempDir()
	_, err := store.Init(dir)
	require.NoError(t, err)

	now := time.Date(2026, 8, 25, 15, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	records, err := store.Open(filepath.Join(dir, store.DirName), store.WithClock(clock))
	require.NoError(t, err)

	ix, err := index.New(index.Options{
		Records:      records,
		SnapshotPath: records.Layout().SnapshotFile(),
		Clock:        clock,
	})
	require.NoError(t, err)

	gen, err := contextgen.New(contextgen.Options{
		Index:  ix,
		Tagger: extract.NewTagger(nil),
		Clock:  clock,
	})
	require.NoError(t, err)

	srv, err := New(Options{
		Records:   records,
		Index:     ix,
		Generator: gen,
		Config:    config.ServerConfig{Addr: "127.0.0.1:0"},
	})
	require.NoError(t, err)

	return &env{srv: srv, records: records, now: now}
}

func (e *env) addLearning(t *testing.T, statement string, conf store.Confidence) *store.Learning {
	t.Helper()
	l, err := store.NewLearning(store.CategoryRule, statement, conf, e.now)
	require.NoError(t, err)
	l.Status = store.StatusActive
	require.NoError(t, e.records.SaveLearning(context.Background(), l))
	return l
}

func (e *env) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.srv.echo.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	e := newEnv(t)

	rec := e.get(t, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
}

func TestQueryReturnsRankedResults(t *testing.T) {
	e := newEnv(t)
	e.addLearning(t, "Wrap repository errors with operation context before returning", store.ConfidenceHigh)
	e.addLearning(t, "Schema migrations run before the app boots", store.ConfidenceLow)

	rec := e.get(t, "/api/v1/query?q=repository+errors&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[QueryResponse](t, rec)
	assert.Equal(t, "repository errors", resp.Query)
	require.Equal(t, 1, resp.Count)
	assert.Contains(t, resp.Results[0].Title, "repository errors")
	assert.Equal(t, store.ConfidenceHigh, resp.Results[0].Confidence)
}

func TestQueryEmptyResultIsArrayNotNull(t *testing.T) {
	e := newEnv(t)

	rec := e.get(t, "/api/v1/query?q=nothing+matches+this")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"results":[]`)
}

func TestQueryCaches(t *testing.T) {
	e := newEnv(t)
	e.addLearning(t, "Cache invalidation happens on write", store.ConfidenceMedium)

	first := e.get(t, "/api/v1/query?q=cache&limit=3")
	require.Equal(t, http.StatusOK, first.Code)
	second := e.get(t, "/api/v1/query?q=cache&limit=3")
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, float64(1), testutil.ToFloat64(e.srv.metrics.cacheHits))
	assert.Equal(t, float64(1), testutil.ToFloat64(e.srv.metrics.cacheMisses))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	// A different limit is a different cache key.
	e.get(t, "/api/v1/query?q=cache&limit=5")
	assert.Equal(t, float64(2), testutil.ToFloat64(e.srv.metrics.cacheMisses))
}

func TestQueryRejectsBadParams(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, http.StatusBadRequest, e.get(t, "/api/v1/query?limit=abc").Code)
	assert.Equal(t, http.StatusBadRequest, e.get(t, "/api/v1/query?limit=-1").Code)
	assert.Equal(t, http.StatusBadRequest, e.get(t, "/api/v1/query?min_score=potato").Code)
}

func TestLearningsListAndGet(t *testing.T) {
	e := newEnv(t)
	saved := e.addLearning(t, "Feature flags default to off in production", store.ConfidenceHigh)

	list := e.get(t, "/api/v1/learnings?status=active")
	require.Equal(t, http.StatusOK, list.Code)
	resp := decodeJSON[LearningsResponse](t, list)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, saved.ID, resp.Learnings[0].ID)

	got := e.get(t, "/api/v1/learnings/"+saved.ID)
	require.Equal(t, http.StatusOK, got.Code)
	one := decodeJSON[store.Learning](t, got)
	assert.Equal(t, saved.Statement, one.Statement)

	missing := e.get(t, "/api/v1/learnings/0e8dd312-21a1-4ab7-ba75-59cbf44f406a")
	assert.Equal(t, http.StatusNotFound, missing.Code)

	badFilter := e.get(t, "/api/v1/learnings?category=banana")
	assert.Equal(t, http.StatusBadRequest, badFilter.Code)
}

func TestEntriesList(t *testing.T) {
	e := newEnv(t)
	entry, err := store.NewContextEntry("payments", "retries", "Retry budget", store.ConfidenceHigh, e.now)
	require.NoError(t, err)
	require.NoError(t, e.records.SaveEntry(context.Background(), entry))

	rec := e.get(t, "/api/v1/entries")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON[EntriesResponse](t, rec)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "Retry budget", resp.Entries[0].Title)
}

func TestContextEndpoint(t *testing.T) {
	e := newEnv(t)
	e.addLearning(t, "Deploys always run the smoke suite first", store.ConfidenceHigh)

	rec := e.get(t, "/api/v1/context?prompt=deploy+smoke&detail=compact&max_items=3")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[ContextResponse](t, rec)
	require.NotNil(t, resp.Bundle)
	require.Len(t, resp.Items, 1)
	assert.Contains(t, resp.Markdown, "smoke suite")
	assert.Contains(t, resp.Markdown, "[high/rule]")
}

func TestContextRejectsUnknownDetail(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusBadRequest, e.get(t, "/api/v1/context?detail=verbose").Code)
}

func TestStatusEndpoint(t *testing.T) {
	e := newEnv(t)
	e.addLearning(t, "Index rebuilds are cheap", store.ConfidenceMedium)

	rec := e.get(t, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[StatusResponse](t, rec)
	require.NotNil(t, resp.Index)
	require.NotNil(t, resp.Store)
	assert.Equal(t, 1, resp.Index.Documents)
	assert.Equal(t, 1, resp.Store.LearningsByStatus[store.StatusActive])
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)
	e.get(t, "/health")

	rec := e.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kodo_http_requests_total")
}

func TestRequiredOptions(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Nil(t, splitList(" , ,"))
	assert.Equal(t, []string{"a.go", "b.go"}, splitList("a.go, b.go"))
}
