package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/mit-registry-export/pkg/cache"
	"github.com/Sternrassler/mit-registry-export/pkg/ratelimit"
	"github.com/jarcoal/httpmock"
	"github.com/rs/zerolog"
)

const testBase = "http://registry.test/mit"

func newTestClient(t *testing.T, transport http.RoundTripper, mutate func(*Config)) *Client {
	t.Helper()

	logger := zerolog.Nop()
	cfg := DefaultConfig("mit-export-test/1.0")
	cfg.Transport = transport
	cfg.Logger = &logger
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "valid config", config: DefaultConfig("mit-export/1.0")},
		{name: "empty user agent", config: Config{Timeout: time.Second}, wantErr: true},
		{name: "zero timeout", config: Config{UserAgent: "mit-export/1.0"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("mit-export/1.0")
	if cfg.UserAgent != "mit-export/1.0" {
		t.Errorf("UserAgent = %q", cfg.UserAgent)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.Throttle != nil || cfg.Cache != nil {
		t.Error("throttle and cache should be disabled by default")
	}
}

func TestFetch_Success(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponderWithQuery("GET", testBase,
		map[string]string{"start": "0", "rows": "0", "sort": "number asc"},
		httpmock.NewStringResponder(200, `{"result":{"count":3}}`))

	c := newTestClient(t, transport, nil)
	body, err := c.Fetch(context.Background(), Request{
		URL:   testBase,
		Kind:  KindCount,
		Query: url.Values{"start": {"0"}, "rows": {"0"}, "sort": {"number asc"}},
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(body) != `{"result":{"count":3}}` {
		t.Errorf("body = %s", body)
	}
	if n := transport.GetTotalCallCount(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestFetch_Headers(t *testing.T) {
	var gotUA, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, nil, nil)
	if _, err := c.Fetch(context.Background(), Request{URL: server.URL}); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if gotUA != "mit-export-test/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q", gotAccept)
	}
}

func TestFetch_Failures(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
		wantClass ErrorClass
		wantCode  int
	}{
		{name: "server error", responder: httpmock.NewStringResponder(500, ""), wantClass: ErrorClassServer, wantCode: 500},
		{name: "not found", responder: httpmock.NewStringResponder(404, `{"error":"nope"}`), wantClass: ErrorClassClient, wantCode: 404},
		{name: "rate limited", responder: httpmock.NewStringResponder(429, ""), wantClass: ErrorClassRateLimit, wantCode: 429},
		{name: "non-200 success", responder: httpmock.NewStringResponder(204, ""), wantClass: ErrorClassClient, wantCode: 204},
		{name: "invalid json", responder: httpmock.NewStringResponder(200, `<html>oops</html>`), wantClass: ErrorClassDecode, wantCode: 200},
		{name: "empty body", responder: httpmock.NewStringResponder(200, ""), wantClass: ErrorClassDecode, wantCode: 200},
		{name: "transport error", responder: httpmock.NewErrorResponder(errors.New("connection refused")), wantClass: ErrorClassNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder("GET", testBase+"/42", tt.responder)

			c := newTestClient(t, transport, nil)
			body, err := c.Fetch(context.Background(), Request{URL: testBase + "/42", Kind: KindDetail})
			if body != nil {
				t.Errorf("body = %s, want nil", body)
			}

			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("error = %v, want *FetchError", err)
			}
			if fe.ErrorClass != tt.wantClass {
				t.Errorf("ErrorClass = %q, want %q", fe.ErrorClass, tt.wantClass)
			}
			if fe.StatusCode != tt.wantCode {
				t.Errorf("StatusCode = %d, want %d", fe.StatusCode, tt.wantCode)
			}
		})
	}
}

func TestFetch_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	c := newTestClient(t, nil, func(cfg *Config) { cfg.Timeout = 50 * time.Millisecond })
	_, err := c.Fetch(context.Background(), Request{URL: server.URL})
	if got := ClassOf(err); got != ErrorClassNetwork {
		t.Errorf("ClassOf(err) = %q, want network (err = %v)", got, err)
	}
}

func TestFetch_ContextCancelled(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBase, httpmock.NewStringResponder(200, `{}`))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(t, transport, nil)
	_, err := c.Fetch(ctx, Request{URL: testBase})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if ClassOf(err) != "" {
		t.Error("cancellation must not be reported as a fetch failure")
	}
}

func TestFetch_Throttle(t *testing.T) {
	const delay = 20 * time.Millisecond

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBase, httpmock.NewStringResponder(200, `{}`))

	c := newTestClient(t, transport, func(cfg *Config) {
		cfg.Throttle = ratelimit.NewThrottle(delay, zerolog.Nop())
	})

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.Fetch(context.Background(), Request{URL: testBase}); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 3*delay {
		t.Errorf("3 fetches took %v, want at least %v", elapsed, 3*delay)
	}
}

func TestFetch_CacheHit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"general":{"number":"1"}}`))
	}))
	defer server.Close()

	manager, err := cache.NewManager(cache.Config{MemorySize: 16, TTL: time.Hour})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	c := newTestClient(t, nil, func(cfg *Config) { cfg.Cache = manager })

	for i := 0; i < 3; i++ {
		body, err := c.Fetch(context.Background(), Request{URL: server.URL + "/1", Kind: KindDetail, Cache: true})
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if string(body) != `{"general":{"number":"1"}}` {
			t.Errorf("body = %s", body)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server calls = %d, want 1", n)
	}
	if c.Cache() != manager {
		t.Error("Cache() should return the configured manager")
	}
}

func TestFetch_CacheSkippedWhenNotRequested(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"result":{"count":1,"items":[]}}`))
	}))
	defer server.Close()

	manager, err := cache.NewManager(cache.Config{MemorySize: 16})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	c := newTestClient(t, nil, func(cfg *Config) { cfg.Cache = manager })

	for i := 0; i < 2; i++ {
		if _, err := c.Fetch(context.Background(), Request{URL: server.URL, Kind: KindPage}); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("server calls = %d, want 2", n)
	}
	if manager.Len() != 0 {
		t.Errorf("cache Len() = %d, want 0", manager.Len())
	}
}

func TestFetch_FailureNotCached(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBase+"/9", httpmock.NewStringResponder(500, ""))

	manager, err := cache.NewManager(cache.Config{MemorySize: 16})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	c := newTestClient(t, transport, func(cfg *Config) { cfg.Cache = manager })

	if _, err := c.Fetch(context.Background(), Request{URL: testBase + "/9", Cache: true}); err == nil {
		t.Fatal("expected error")
	}
	if manager.Len() != 0 {
		t.Errorf("failed response should not be cached, Len() = %d", manager.Len())
	}
}

func TestFetch_WithRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := newTestClient(t, nil, nil)

	var body []byte
	err := Retry(context.Background(), Unbounded(nil), func(ctx context.Context) error {
		var err error
		body, err = c.Fetch(ctx, Request{URL: server.URL})
		return err
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %s", body)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server calls = %d, want 3", n)
	}
}

func TestSetHTTPClient(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBase, httpmock.NewStringResponder(200, `[]`))

	c := newTestClient(t, nil, nil)
	c.SetHTTPClient(&http.Client{Transport: transport, Timeout: time.Second})

	if _, err := c.Fetch(context.Background(), Request{URL: testBase}); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if transport.GetTotalCallCount() != 1 {
		t.Error("custom HTTP client was not used")
	}
}

func TestBuildURL(t *testing.T) {
	got, err := buildURL(testBase, url.Values{"rows": {"100"}, "start": {"200"}, "sort": {"number asc"}})
	if err != nil {
		t.Fatalf("buildURL() error = %v", err)
	}
	want := testBase + "?rows=100&sort=number+asc&start=200"
	if got != want {
		t.Errorf("buildURL() = %q, want %q", got, want)
	}

	if _, err := buildURL("://bad", nil); err == nil {
		t.Error("expected parse error")
	}
}
