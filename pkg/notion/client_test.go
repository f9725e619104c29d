package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type recordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

type stubServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func newStubServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, n int)) *stubServer {
	t.Helper()
	s := &stubServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Body: body})
		n := len(s.requests)
		s.mu.Unlock()
		handler(w, r, n)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *stubServer) calls() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRequest(nil), s.requests...)
}

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		APIVersion:     "2022-06-28",
		MaxRetries:     3,
		RetryDelay:     time.Millisecond,
		RateLimitDelay: 3 * time.Millisecond,
		RetryAfterUnit: time.Millisecond,
	}
}

func TestQueryDatabase(t *testing.T) {
	srv := newStubServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		_, _ = io.WriteString(w, `{
			"object": "list",
			"results": [
				{"id": "p1", "properties": {"Name": {"title": []}, "Count": {"number": 2}}},
				{"id": "p2", "properties": {}, "children": [{"type": "paragraph"}]}
			],
			"has_more": true,
			"next_cursor": "cursor-2"
		}`)
	})
	client := NewClient("secret_token", testConfig(srv.URL), zerolog.Nop())

	res, err := client.QueryDatabase(context.Background(), "db1", "")
	require.NoError(t, err)

	require.Len(t, res.Records, 2)
	assert.Equal(t, "p1", res.Records[0].ID)
	assert.Equal(t, `{"Name": {"title": []}, "Count": {"number": 2}}`, string(res.Records[0].Properties))
	assert.Empty(t, res.Records[0].Children)
	assert.True(t, res.Records[1].HasChildren())
	assert.True(t, res.HasMore)
	assert.Equal(t, "cursor-2", res.NextCursor)

	calls := srv.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "/databases/db1/query", calls[0].Path)
	assert.Equal(t, "Bearer secret_token", calls[0].Header.Get("Authorization"))
	assert.Equal(t, "2022-06-28", calls[0].Header.Get("Notion-Version"))
	assert.Equal(t, "application/json", calls[0].Header.Get("Content-Type"))
	assert.JSONEq(t, `{}`, string(calls[0].Body))
}

func TestQueryDatabaseWithCursor(t *testing.T) {
	srv := newStubServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		_, _ = io.WriteString(w, `{"results": [], "has_more": false, "next_cursor": null}`)
	})
	client := NewClient("t", testConfig(srv.URL), zerolog.Nop())

	res, err := client.QueryDatabase(context.Background(), "db1", "cursor-7")
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.False(t, res.HasMore)
	assert.Equal(t, "", res.NextCursor)

	assert.JSONEq(t, `{"start_cursor": "cursor-7"}`, string(srv.calls()[0].Body))
}

func TestCreatePageCopiesPropertiesVerbatim(t *testing.T) {
	srv := newStubServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		_, _ = io.WriteString(w, `{"object": "page", "id": "new-1"}`)
	})
	client := NewClient("t", testConfig(srv.URL), zerolog.Nop())

	props := json.RawMessage(`{"Zeta":{"rich_text":[]},"Alpha":{"number":1}}`)
	id, err := client.CreatePage(context.Background(), "dest-db", props, nil)
	require.NoError(t, err)
	assert.Equal(t, "new-1", id)

	call := srv.calls()[0]
	assert.Equal(t, "/pages", call.Path)
	assert.Equal(t, "dest-db", gjson.GetBytes(call.Body, "parent.database_id").String())
	assert.Equal(t, string(props), gjson.GetBytes(call.Body, "properties").Raw)
	assert.False(t, gjson.GetBytes(call.Body, "children").Exists())
}

func TestCreatePageForwardsChildren(t *testing.T) {
	srv := newStubServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		_, _ = io.WriteString(w, `{"id": "new-1"}`)
	})
	client := NewClient("t", testConfig(srv.URL), zerolog.Nop())

	children := json.RawMessage(`[{"type":"paragraph"}]`)
	_, err := client.CreatePage(context.Background(), "dest-db", nil, children)
	require.NoError(t, err)

	body := srv.calls()[0].Body
	assert.Equal(t, `{}`, gjson.GetBytes(body, "properties").Raw)
	assert.Equal(t, string(children), gjson.GetBytes(body, "children").Raw)
}

func TestRateLimitRecovery(t *testing.T) {
	srv := newStubServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		if n == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"object":"error","status":429,"code":"rate_limited","message":"slow down"}`)
			return
		}
		_, _ = io.WriteString(w, `{"id": "new-1"}`)
	})
	client := NewClient("t", testConfig(srv.URL), zerolog.Nop())

	id, err := client.CreatePage(context.Background(), "dest-db", json.RawMessage(`{}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "new-1", id)

	stats := client.Stats()
	assert.Equal(t, 2*time.Millisecond, stats.Waited)
	assert.EqualValues(t, 1, stats.RateLimited)
	assert.EqualValues(t, 1, stats.Retries)
	assert.EqualValues(t, 2, stats.Requests)
	assert.Len(t, srv.calls(), 2)
}

func TestRateLimitWithoutRetryAfterUsesDefault(t *testing.T) {
	srv := newStubServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"id": "new-1"}`)
	})
	client := NewClient("t", testConfig(srv.URL), zerolog.Nop())

	_, err := client.CreatePage(context.Background(), "dest-db", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Millisecond, client.Stats().Waited)
}

// Waits between attempts are flat, with no exponential growth and no jitter.
// Exponential backoff with jitter is the obvious next step if throttling
// storms show up in the logs.
func TestRetryExhaustion(t *testing.T) {
	srv := newStubServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `{"object":"error","status":502,"code":"bad_gateway","message":"upstream down"}`)
	})
	client := NewClient("t", testConfig(srv.URL), zerolog.Nop())

	_, err := client.CreatePage(context.Background(), "dest-db", nil, nil)
	require.Error(t, err)

	var tf *TransportFailure
	require.ErrorAs(t, err, &tf)
	assert.Equal(t, http.MethodPost, tf.Method)
	assert.Equal(t, "pages", tf.Endpoint)
	assert.Equal(t, http.StatusBadGateway, tf.Status)
	assert.Equal(t, 3, tf.Attempts)
	assert.Equal(t, CodeUnavailable, tf.Code)
	assert.Equal(t, "bad_gateway: upstream down", tf.Message)
	assert.False(t, errors.Is(err, ErrRateLimited))

	assert.Len(t, srv.calls(), 3)
	stats := client.Stats()
	assert.EqualValues(t, 2, stats.Retries)
	assert.Equal(t, 2*time.Millisecond, stats.Waited)
}

func TestRetryLogsEndpointStatusAndWait(t *testing.T) {
	srv := newStubServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, `{"object":"error","status":502,"code":"bad_gateway","message":"upstream down"}`)
			return
		}
		_, _ = io.WriteString(w, `{"object":"page","id":"new-page"}`)
	})
	var logs bytes.Buffer
	client := NewClient("t", testConfig(srv.URL), zerolog.New(&logs))

	id, err := client.CreatePage(context.Background(), "dest-db", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "new-page", id)

	var retryLine gjson.Result
	for _, line := range bytes.Split(logs.Bytes(), []byte("\n")) {
		entry := gjson.ParseBytes(line)
		if entry.Get("message").String() == "request failed, waiting before retry" {
			retryLine = entry
		}
	}
	require.True(t, retryLine.Exists(), "retry log line written")
	assert.Equal(t, "/pages", retryLine.Get("endpoint").String())
	assert.EqualValues(t, http.StatusBadGateway, retryLine.Get("status").Int())
	assert.InDelta(t, 1, retryLine.Get("wait").Float(), 0.001, "wait in milliseconds")
}

func TestRateLimitExhaustion(t *testing.T) {
	srv := newStubServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	client := NewClient("t", testConfig(srv.URL), zerolog.Nop())

	_, err := client.QueryDatabase(context.Background(), "db1", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.True(t, IsCode(err, CodeRateLimit))
	assert.Len(t, srv.calls(), 3)
}

func TestTransportErrorIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	cfg := testConfig(baseURL)
	cfg.MaxRetries = 2
	client := NewClient("t", cfg, zerolog.Nop())

	_, err := client.QueryDatabase(context.Background(), "db1", "")
	var tf *TransportFailure
	require.ErrorAs(t, err, &tf)
	assert.Equal(t, 0, tf.Status)
	assert.Equal(t, CodeNetwork, tf.Code)
	assert.Equal(t, 2, tf.Attempts)
	assert.EqualValues(t, 2, client.Stats().Requests)
}

func TestErrorObjectInSuccessfulResponse(t *testing.T) {
	srv := newStubServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		_, _ = io.WriteString(w, `{"object":"error","status":400,"message":"bad property"}`)
	})
	client := NewClient("t", testConfig(srv.URL), zerolog.Nop())

	_, err := client.CreatePage(context.Background(), "dest-db", nil, nil)
	var tf *TransportFailure
	require.ErrorAs(t, err, &tf)
	assert.Equal(t, "bad property", tf.Message)
	assert.Len(t, srv.calls(), 1)
}

func TestRetrieveDatabase(t *testing.T) {
	srv := newStubServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		_, _ = io.WriteString(w, `{"object":"database","id":"db1","title":[{"plain_text":"Reading "},{"plain_text":"list"}]}`)
	})
	client := NewClient("t", testConfig(srv.URL+"/"), zerolog.Nop())

	info, err := client.RetrieveDatabase(context.Background(), "db1")
	require.NoError(t, err)
	assert.Equal(t, DatabaseInfo{ID: "db1", Title: "Reading list"}, info)

	call := srv.calls()[0]
	assert.Equal(t, http.MethodGet, call.Method)
	assert.Equal(t, "/databases/db1", call.Path)
}

func TestCancelledContext(t *testing.T) {
	srv := newStubServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		_, _ = io.WriteString(w, `{"id": "x"}`)
	})
	client := NewClient("t", testConfig(srv.URL), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.CreatePage(ctx, "dest-db", nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
