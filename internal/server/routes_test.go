package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-labs/mnemo/internal/cadence"
	"github.com/mnemo-labs/mnemo/internal/engine"
	"github.com/mnemo-labs/mnemo/internal/queue"
	"github.com/mnemo-labs/mnemo/internal/recall"
	"github.com/mnemo-labs/mnemo/internal/store"
	"github.com/mnemo-labs/mnemo/internal/store/sqlite"
	"github.com/mnemo-labs/mnemo/internal/topics"
)

func testServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	db, err := sqlite.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q := queue.New(16, 1)
	cad := cadence.New(cadence.DefaultConfig())
	top := topics.New()
	eng := engine.New(db, q, cad, top, engine.Config{})

	srv := New(Options{
		Store:   db,
		Engine:  eng,
		Queue:   q,
		Recall:  recall.New(db),
		Cadence: cad,
		Topics:  top,
		Version: "test",
	})
	return srv, db
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, true, body["db"])
}

func TestIngestAccepted(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/messages",
		`{"userId":"u1","threadId":"t1","role":"user","content":"hello there friend"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestIngestValidation(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/messages", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/messages", `{"role":"user","content":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "userId and threadId are required")
}

func TestIngestRateLimited(t *testing.T) {
	db, err := sqlite.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q := queue.New(16, 1)
	eng := engine.New(db, q, cadence.New(cadence.DefaultConfig()), topics.New(), engine.Config{})
	srv := New(Options{
		Store: db, Engine: eng, Queue: q, Recall: recall.New(db),
		Version: "test", RatePerSec: 1, RateBurst: 2,
	})

	body := `{"userId":"u1","threadId":"t1","role":"user","content":"hi"}`
	assert.Equal(t, http.StatusAccepted, doJSON(t, srv, http.MethodPost, "/api/messages", body).Code)
	assert.Equal(t, http.StatusAccepted, doJSON(t, srv, http.MethodPost, "/api/messages", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, doJSON(t, srv, http.MethodPost, "/api/messages", body).Code)
}

func TestRecallRequiresUserID(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/recall", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecallReturnsRanked(t *testing.T) {
	srv, st := testServer(t)
	ctx := context.Background()

	for _, m := range []store.Memory{
		{UserID: "u1", ThreadID: "t1", Content: "durable preference", Priority: 0.7, Tier: store.Tier2},
		{UserID: "u1", ThreadID: "t1", Content: "passing remark", Priority: 0.4, Tier: store.Tier3},
	} {
		mm := m
		require.NoError(t, st.CreateMemory(ctx, &mm))
	}

	w := doJSON(t, srv, http.MethodGet, "/api/recall?userId=u1&threadId=t1&maxItems=10", "")
	require.Equal(t, http.StatusOK, w.Code)

	var res recall.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, 2, res.Count)
	assert.Equal(t, "durable preference", res.Memories[0].Content)
	assert.False(t, res.TimedOut)
}

func TestListMemories(t *testing.T) {
	srv, st := testServer(t)
	m := store.Memory{UserID: "u1", ThreadID: "t1", Content: "x", Priority: 0.5, Tier: store.Tier3}
	require.NoError(t, st.CreateMemory(context.Background(), &m))

	w := doJSON(t, srv, http.MethodGet, "/api/memories?userId=u1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)

	w = doJSON(t, srv, http.MethodGet, "/api/memories", "")
	assert.Equal(t, http.StatusBadRequest, w.Code, "userId is required")
}

func TestGetMemory(t *testing.T) {
	srv, st := testServer(t)
	m := store.Memory{UserID: "u1", ThreadID: "t1", Content: "x", Priority: 0.5, Tier: store.Tier3}
	require.NoError(t, st.CreateMemory(context.Background(), &m))

	w := doJSON(t, srv, http.MethodGet, "/api/memories/"+itoa(m.ID), "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/memories/999999", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/memories/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAuditsRequiresUserID(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/audits", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/audits?userId=u1", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTriggerJobs(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/jobs/audit", `{"userId":"u1","threadId":"t1"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/jobs/audit", `{"userId":"u1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/jobs/retention", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestMetrics(t *testing.T) {
	srv, _ := testServer(t)

	// Two queued jobs show up in depth (workers are not started here).
	doJSON(t, srv, http.MethodPost, "/api/jobs/audit", `{"userId":"u1","threadId":"t1"}`)
	doJSON(t, srv, http.MethodPost, "/api/jobs/retention", "")

	w := doJSON(t, srv, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["queueDepth"])
	assert.Contains(t, body, "memories")
	assert.Contains(t, body, "pendingWindows")
	assert.Equal(t, float64(0), body["activeCadenceThreads"])
}

func TestMetricsCountsCadenceThreads(t *testing.T) {
	srv, _ := testServer(t)

	for _, thread := range []string{"t1", "t2"} {
		doJSON(t, srv, http.MethodPost, "/api/messages",
			`{"userId":"u1","threadId":"`+thread+`","role":"user","content":"hello"}`)
	}

	w := doJSON(t, srv, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["activeCadenceThreads"])
}

func TestTopicsRequiresThreadID(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/topics", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/topics?threadId=t1", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
