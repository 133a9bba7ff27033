package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dialogd/internal/conversation"
	"github.com/fyrsmithlabs/dialogd/internal/index"
	"github.com/fyrsmithlabs/dialogd/internal/retry"
)

var upperExtractor = conversation.ExtractorFunc(func(_ context.Context, _ []conversation.Message, text string) (string, error) {
	return strings.ToUpper(text), nil
})

type testServer struct {
	*Server
	mem    *index.Memory
	reader *sdkmetric.ManualReader
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := index.NewMemory()
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	factory := func(id string) *conversation.IndexingLog {
		return conversation.NewIndexingLog("Hello world", upperExtractor, mem, zap.NewNop(), conversation.IndexingConfig{
			SessionID: id,
			Retry:     retry.Config{MaxAttempts: 1},
		})
	}
	s, err := NewServer(mem, factory, zap.NewNop(), &Config{Host: "localhost", Port: 0, Meter: meter})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return &testServer{Server: s, mem: mem, reader: reader}
}

func (ts *testServer) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) event(t *testing.T, id, typ, text string) EventResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/events", EventRequest{Type: typ, Text: text})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp EventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestNewServer(t *testing.T) {
	mem := index.NewMemory()
	factory := func(string) *conversation.IndexingLog { return nil }

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		s, err := NewServer(mem, factory, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", s.config.Host)
		assert.Equal(t, 9090, s.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(mem, factory, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when searcher is nil", func(t *testing.T) {
		_, err := NewServer(nil, factory, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "searcher cannot be nil")
	})

	t.Run("returns error when factory is nil", func(t *testing.T) {
		_, err := NewServer(mem, nil, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "session factory cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	ts := setupTestServer(t)
	ts.event(t, "s1", EventUser, "hello")

	rec := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Sessions)
}

func TestSessionLifecycle(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.event(t, "s1", EventUser, "User message")
	require.NotNil(t, resp.Turn)
	assert.Equal(t, "User message", resp.Turn.User.Content)

	ts.event(t, "s1", EventAssistant, "Assistant message will be ignored")
	resp = ts.event(t, "s1", EventUser, "User message plus something else")
	assert.Nil(t, resp.Turn.Assistant, "continuation replaces the answered turn")

	resp = ts.event(t, "s1", EventFinalize, "")
	assert.True(t, resp.Finalized)
	assert.True(t, resp.Turn.Finalized)

	resp = ts.event(t, "s1", EventFinalize, "")
	assert.False(t, resp.Finalized, "second finalize is a no-op")

	ts.event(t, "s1", EventAssistant, "New assistant message will not be ignored")

	rec := ts.do(t, http.MethodPost, "/api/v1/sessions/s1/flush", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{
		"USER MESSAGE PLUS SOMETHING ELSE",
		"New assistant message will not be ignored",
	}, ts.mem.Contents())

	rec = ts.do(t, http.MethodGet, "/api/v1/sessions/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tr TranscriptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tr))
	assert.Equal(t, "s1", tr.SessionID)
	require.Len(t, tr.Messages, 3)
	require.Len(t, tr.Turns, 1)
	assert.True(t, tr.Turns[0].Indexed)

	rec = ts.do(t, http.MethodDelete, "/api/v1/sessions/s1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/sessions/s1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/api/v1/sessions/s1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionsAreIndependent(t *testing.T) {
	ts := setupTestServer(t)

	ts.event(t, "a", EventUser, "first")
	ts.event(t, "b", EventUser, "second")
	ts.event(t, "a", EventFinalize, "")
	ts.event(t, "b", EventFinalize, "")

	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost, "/api/v1/sessions/a/flush", nil).Code)
	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost, "/api/v1/sessions/b/flush", nil).Code)

	sessions := map[string]string{}
	for _, r := range ts.mem.Records() {
		sessions[r.SessionID] = r.Content
	}
	assert.Equal(t, map[string]string{"a": "FIRST", "b": "SECOND"}, sessions)
}

func TestHandleEvent_Errors(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/sessions/s1/events", EventRequest{Type: "shout"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/sessions/bad%20id/events", EventRequest{Type: EventUser, Text: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/sessions/s1/events", EventRequest{Type: EventAssistant, Text: "hi"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/events", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	r := httptest.NewRecorder()
	ts.Handler().ServeHTTP(r, req)
	assert.Equal(t, http.StatusBadRequest, r.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/sessions/missing/flush", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSearch(t *testing.T) {
	ts := setupTestServer(t)
	require.NoError(t, ts.mem.IndexText(context.Background(), "weather in Lisbon"))
	require.NoError(t, ts.mem.IndexText(context.Background(), "table for two"))

	rec := ts.do(t, http.MethodGet, "/api/v1/search?q=lisbon&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "weather in Lisbon", resp.Hits[0].Record.Content)

	rec = ts.do(t, http.MethodGet, "/api/v1/search?q=paris", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"hits":[]}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/v1/search", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/v1/search?q=x&limit=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/v1/search?q=x&limit=ten", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	ts.event(t, "s1", EventUser, "hello")
	ts.event(t, "s1", EventFinalize, "")
	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost, "/api/v1/sessions/s1/flush", nil).Code)

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dialogd_indexing_items_enqueued_total")
	assert.Contains(t, rec.Body.String(), "dialogd_indexing_write_duration_seconds")
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	ts := setupTestServer(t)
	ts.event(t, "s1", EventUser, "hello")
	ts.event(t, "s2", EventUser, "hello")

	var rm metricdata.ResourceMetrics
	require.NoError(t, ts.reader.Collect(context.Background(), &rm))

	var routes []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "dialogd.http.requests_total" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				v, _ := dp.Attributes.Value("route")
				routes = append(routes, v.AsString())
				assert.Equal(t, int64(2), dp.Value)
			}
		}
	}
	assert.Equal(t, []string{"/api/v1/sessions/:id/events"}, routes)
}

// collect returns the metric named name from the test reader.
func (ts *testServer) collect(t *testing.T, name string) metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, ts.reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("metric %q not recorded", name)
	return metricdata.Metrics{}
}

func TestMetrics_SessionEventsAndOpenSessions(t *testing.T) {
	ts := setupTestServer(t)
	ts.event(t, "s1", EventUser, "hello")
	ts.event(t, "s1", EventFinalize, "")
	ts.event(t, "s2", EventUser, "hi")
	ts.do(t, http.MethodPost, "/api/v1/sessions/s3/events", EventRequest{Type: EventAssistant, Text: "early"})
	ts.do(t, http.MethodPost, "/api/v1/sessions/s1/events", EventRequest{Type: "shout"})

	events := map[string]int64{}
	for _, dp := range ts.collect(t, "dialogd.session.events_total").Data.(metricdata.Sum[int64]).DataPoints {
		typ, _ := dp.Attributes.Value("type")
		outcome, _ := dp.Attributes.Value("outcome")
		events[typ.AsString()+"/"+outcome.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{
		"user/applied":       2,
		"finalize/applied":   1,
		"assistant/conflict": 1,
		"unknown/rejected":   1,
	}, events)

	open := ts.collect(t, "dialogd.session.open").Data.(metricdata.Sum[int64]).DataPoints
	require.Len(t, open, 1)
	assert.Equal(t, int64(3), open[0].Value)

	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/api/v1/sessions/s2", nil).Code)
	open = ts.collect(t, "dialogd.session.open").Data.(metricdata.Sum[int64]).DataPoints
	assert.Equal(t, int64(2), open[0].Value)
}

func TestMetrics_ErrorStatusRecorded(t *testing.T) {
	ts := setupTestServer(t)
	ts.do(t, http.MethodGet, "/api/v1/search", nil)

	var statuses []int64
	for _, dp := range ts.collect(t, "dialogd.http.requests_total").Data.(metricdata.Sum[int64]).DataPoints {
		v, _ := dp.Attributes.Value("status")
		statuses = append(statuses, v.AsInt64())
	}
	assert.Equal(t, []int64{http.StatusBadRequest}, statuses)
}

func TestShutdown_DrainsSessions(t *testing.T) {
	ts := setupTestServer(t)
	ts.event(t, "s1", EventUser, "hello")
	ts.event(t, "s1", EventFinalize, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.Shutdown(ctx))
	assert.Equal(t, []string{"HELLO"}, ts.mem.Contents())

	rec := ts.do(t, http.MethodPost, "/api/v1/sessions/s2/events", EventRequest{Type: EventUser, Text: "late"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
