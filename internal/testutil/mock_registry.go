// Package testutil provides testing utilities for the MIT registry exporter.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ListingPath is the path of the mock listing endpoint.
const ListingPath = "/mit"

// Item is one registry entry served by MockRegistry.
type Item struct {
	ID           string
	Manufacturer string

	// Detail is the raw detail record. Empty means DetailJSON(ID).
	Detail string

	// Summary replaces the generated listing entry when set.
	Summary json.RawMessage
}

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockRegistry is a configurable mock registry server for testing.
type MockRegistry struct {
	server   *httptest.Server
	mu       sync.RWMutex
	items    []Item
	byID     map[string]Item
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	failures map[string]*failure

	// Tracking
	RequestCount      int
	CountRequests     int
	PageStarts        []int
	DetailIDs         []string
	LastRequestHeader http.Header
}

type failure struct {
	remaining int
	resp      MockResponse
}

// NewMockRegistry starts a mock registry serving items in order.
func NewMockRegistry(items []Item) *MockRegistry {
	mock := &MockRegistry{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		failures: make(map[string]*failure),
	}
	mock.SetItems(items)

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		switch {
		case r.URL.Path == ListingPath:
			mock.listingHandler(w, r)
		case strings.HasPrefix(r.URL.Path, ListingPath+"/"):
			mock.detailHandler(w, r)
		default:
			writeResponse(w, MockResponse{StatusCode: http.StatusNotFound, Body: `{"error":"not found"}`})
		}
	}))

	return mock
}

// URL returns the listing endpoint URL (the mit.url setting).
func (m *MockRegistry) URL() string {
	return m.server.URL + ListingPath
}

// Close shuts down the mock server.
func (m *MockRegistry) Close() {
	m.server.Close()
}

// SetItems replaces the served items.
func (m *MockRegistry) SetItems(items []Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = items
	m.byID = make(map[string]Item, len(items))
	for _, item := range items {
		m.byID[item.ID] = item
	}
}

// Reset clears all tracking counters.
func (m *MockRegistry) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.CountRequests = 0
	m.PageStarts = nil
	m.DetailIDs = nil
	m.LastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockRegistry) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockRegistry) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// FailCount makes the next n count queries answer with resp.
func (m *MockRegistry) FailCount(n int, resp MockResponse) {
	m.setFailure("count", n, resp)
}

// FailPage makes the next n requests for the page at start answer with resp.
func (m *MockRegistry) FailPage(start, n int, resp MockResponse) {
	m.setFailure("page:"+strconv.Itoa(start), n, resp)
}

// FailDetail makes the next n detail requests for id answer with resp.
func (m *MockRegistry) FailDetail(id string, n int, resp MockResponse) {
	m.setFailure("detail:"+id, n, resp)
}

func (m *MockRegistry) setFailure(key string, n int, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[key] = &failure{remaining: n, resp: resp}
}

// takeFailure consumes one injected failure for key.
func (m *MockRegistry) takeFailure(key string) (MockResponse, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.failures[key]
	if !ok || f.remaining <= 0 {
		return MockResponse{}, false
	}
	f.remaining--
	return f.resp, true
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockRegistry) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetCountRequests returns the number of count queries (rows=0).
func (m *MockRegistry) GetCountRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CountRequests
}

// GetPageStarts returns the start offsets of all page requests in order.
func (m *MockRegistry) GetPageStarts() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int(nil), m.PageStarts...)
}

// GetDetailIDs returns the ids of all detail requests in order.
func (m *MockRegistry) GetDetailIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.DetailIDs...)
}

// listingHandler serves both the count query and listing pages.
func (m *MockRegistry) listingHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, errStart := strconv.Atoi(q.Get("start"))
	rows, errRows := strconv.Atoi(q.Get("rows"))
	if errStart != nil || errRows != nil || start < 0 || rows < 0 {
		writeResponse(w, MockResponse{StatusCode: http.StatusBadRequest, Body: `{"error":"bad paging"}`})
		return
	}

	if rows == 0 {
		m.mu.Lock()
		m.CountRequests++
		m.mu.Unlock()

		if resp, ok := m.takeFailure("count"); ok {
			writeResponse(w, resp)
			return
		}

		m.mu.RLock()
		count := len(m.items)
		m.mu.RUnlock()
		writeJSON(w, map[string]any{"result": map[string]any{"count": count}})
		return
	}

	m.mu.Lock()
	m.PageStarts = append(m.PageStarts, start)
	m.mu.Unlock()

	if resp, ok := m.takeFailure("page:" + strconv.Itoa(start)); ok {
		writeResponse(w, resp)
		return
	}

	m.mu.RLock()
	var page []Item
	if start < len(m.items) {
		end := start + rows
		if end > len(m.items) {
			end = len(m.items)
		}
		page = m.items[start:end]
	}
	count := len(m.items)
	m.mu.RUnlock()

	items := make([]json.RawMessage, 0, len(page))
	for _, item := range page {
		if item.Summary != nil {
			items = append(items, item.Summary)
			continue
		}
		raw, _ := json.Marshal(map[string]string{
			"mit_id":       item.ID,
			"manufactorer": item.Manufacturer,
		})
		items = append(items, raw)
	}
	writeJSON(w, map[string]any{"result": map[string]any{"count": count, "items": items}})
}

// detailHandler serves {base}/{id}.
func (m *MockRegistry) detailHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, ListingPath+"/")

	m.mu.Lock()
	m.DetailIDs = append(m.DetailIDs, id)
	m.mu.Unlock()

	if resp, ok := m.takeFailure("detail:" + id); ok {
		writeResponse(w, resp)
		return
	}

	m.mu.RLock()
	item, ok := m.byID[id]
	m.mu.RUnlock()

	body := DetailJSON(id)
	if ok && item.Detail != "" {
		body = item.Detail
	}
	writeResponse(w, NewHealthyResponse(body))
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		writeResponse(w, NewServerErrorResponse())
		return
	}
	writeResponse(w, NewHealthyResponse(string(body)))
}

// GenerateItems returns n items with ids mit-000, mit-001, ...
func GenerateItems(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{
			ID:           fmt.Sprintf("mit-%03d", i),
			Manufacturer: fmt.Sprintf("Manufacturer %d", i),
		}
	}
	return items
}

// DetailJSON returns a complete detail record for id.
func DetailJSON(id string) string {
	return fmt.Sprintf(`{
  "general": {"number": "%[1]s-N", "title": "Instrument %[1]s", "notation": ["%[1]s-A", "%[1]s-B"]},
  "mit": {"part": "part-%[1]s", "factory_num": "F-%[1]s", "valid_for": "2030-01-01", "procedure": "MP %[1]s", "interval": 12, "period": true},
  "status": "active"
}`, id)
}

// NewHealthyResponse creates a standard 200 OK JSON response.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewInvalidJSONResponse creates a 200 response whose body is not JSON.
func NewInvalidJSONResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `<html>maintenance</html>`,
		Headers: map[string]string{
			"Content-Type": "text/html",
		},
	}
}
