// Package testutil provides an in-process ItemSense server for tests.
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

	"github.com/Sternrassler/itemsense-client/pkg/model"
)

// BasePath is the prefix the mock serves the API under, matching a stock
// ItemSense install.
const BasePath = "/itemsense"

// API paths relative to BasePath.
const (
	PathStartJob            = "/control/v1/jobs/start"
	PathShowItems           = "/data/v1/items/show"
	PathCreateReader        = "/configuration/v1/readerDefinitions/create"
	PathZoneTransitionQueue = "/data/v1/messageQueues/zoneTransition/configure"
)

// MockResponse defines a canned response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

type failure struct {
	remaining int
	response  MockResponse
}

// MockItemSense is a mock ItemSense server.
//
// Item listings are scripted per walk: every request without a pageMarker
// starts the next walk and is served from the next scripted poll. Once the
// script runs out the last poll is repeated.
type MockItemSense struct {
	server *httptest.Server
	mu     sync.RWMutex

	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	failures map[string]*failure

	username string
	password string

	job     model.JobResponse
	queue   model.QueueDetails
	polls   [][][]model.Item
	walks   int
	jobs    []model.Job
	readers []model.ReaderDefinition

	// Request tracking
	RequestCount      int
	Requests          []string
	LastRequestHeader http.Header
}

// NewMockItemSense creates and starts a mock server.
func NewMockItemSense() *MockItemSense {
	m := &MockItemSense{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		failures: make(map[string]*failure),
		job: model.JobResponse{
			ID:           "job-1",
			Status:       "WAITING",
			CreationTime: "2024-01-01T00:00:00Z[Etc/UTC]",
		},
		queue: model.QueueDetails{
			ServerURL: "amqp://localhost:5672/%2F",
			Queue:     "zone-transitions",
		},
	}

	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// URL returns the API base URL, including BasePath.
func (m *MockItemSense) URL() string {
	return m.server.URL + BasePath
}

// Close stops the server.
func (m *MockItemSense) Close() {
	m.server.Close()
}

// Reset clears recorded requests, custom handlers and the walk position.
// Scripted polls and canned job and queue responses are kept.
func (m *MockItemSense) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = make(map[string]func(w http.ResponseWriter, r *http.Request))
	m.failures = make(map[string]*failure)
	m.walks = 0
	m.jobs = nil
	m.readers = nil
	m.RequestCount = 0
	m.Requests = nil
	m.LastRequestHeader = nil
}

// SetCredentials makes the server require HTTP basic auth.
func (m *MockItemSense) SetCredentials(username, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.username = username
	m.password = password
}

// SetHandler replaces the handler for a path relative to BasePath.
func (m *MockItemSense) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse serves resp for every request to path.
func (m *MockItemSense) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, resp.write)
}

// FailTimes serves resp for the next n requests to path, then falls back to
// the normal behavior.
func (m *MockItemSense) FailTimes(path string, n int, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = &failure{remaining: n, response: resp}
}

// SetJobResponse sets the job start response.
func (m *MockItemSense) SetJobResponse(resp model.JobResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.job = resp
}

// SetQueueDetails sets the zone transition configure response.
func (m *MockItemSense) SetQueueDetails(details model.QueueDetails) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = details
}

// SetPolls scripts the item listings. Each poll is a list of pages.
func (m *MockItemSense) SetPolls(polls ...[][]model.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls = polls
	m.walks = 0
}

// Walks returns the number of listings started.
func (m *MockItemSense) Walks() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.walks
}

// Jobs returns the jobs received by the job start endpoint.
func (m *MockItemSense) Jobs() []model.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Job(nil), m.jobs...)
}

// Readers returns the reader definitions received.
func (m *MockItemSense) Readers() []model.ReaderDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.ReaderDefinition(nil), m.readers...)
}

// GetRequestCount returns the total number of requests received.
func (m *MockItemSense) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

func (m *MockItemSense) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.RequestCount++
	m.Requests = append(m.Requests, r.Method+" "+r.URL.RequestURI())
	m.LastRequestHeader = r.Header.Clone()
	path := strings.TrimPrefix(r.URL.Path, BasePath)
	handler := m.handlers[path]
	var forced *MockResponse
	if f := m.failures[path]; f != nil && f.remaining > 0 {
		f.remaining--
		resp := f.response
		forced = &resp
	}
	username, password := m.username, m.password
	m.mu.Unlock()

	if username != "" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != username || pass != password {
			NewUnauthorizedResponse().write(w, r)
			return
		}
	}
	if forced != nil {
		forced.write(w, r)
		return
	}
	if handler != nil {
		handler(w, r)
		return
	}

	switch path {
	case PathStartJob:
		m.startJob(w, r)
	case PathShowItems:
		m.showItems(w, r)
	case PathCreateReader:
		m.createReader(w, r)
	case PathZoneTransitionQueue:
		m.configureQueue(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (m *MockItemSense) startJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var job model.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil || job.RecipeName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "recipeName is required"})
		return
	}

	m.mu.Lock()
	m.jobs = append(m.jobs, job)
	resp := m.job
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (m *MockItemSense) showItems(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	walk, pageIdx := 0, 0
	m.mu.Lock()
	if marker := query.Get("pageMarker"); marker == "" {
		walk = min(m.walks, max(len(m.polls)-1, 0))
		m.walks++
	} else if _, err := fmt.Sscanf(marker, "w%d-p%d", &walk, &pageIdx); err != nil {
		m.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid pageMarker"})
		return
	}
	var pages [][]model.Item
	if walk < len(m.polls) {
		pages = m.polls[walk]
	}
	m.mu.Unlock()

	page := model.ItemPage{Items: []model.Item{}}
	if pageIdx < len(pages) {
		page.Items = matchItems(pages[pageIdx], query.Get("epcPrefix"), query.Get("zoneNames"))
	}
	if pageIdx+1 < len(pages) {
		next := "w" + strconv.Itoa(walk) + "-p" + strconv.Itoa(pageIdx+1)
		page.NextPageMarker = &next
	}
	writeJSON(w, http.StatusOK, page)
}

func matchItems(items []model.Item, epcPrefix, zoneNames string) []model.Item {
	var zones []string
	if zoneNames != "" {
		zones = strings.Split(zoneNames, ",")
	}
	out := make([]model.Item, 0, len(items))
	for _, item := range items {
		if !strings.HasPrefix(item.EPC, epcPrefix) {
			continue
		}
		if zones != nil && !contains(zones, item.Zone) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func (m *MockItemSense) createReader(w http.ResponseWriter, r *http.Request) {
	var def model.ReaderDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil || def.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "name is required"})
		return
	}
	m.mu.Lock()
	m.readers = append(m.readers, def)
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, def)
}

func (m *MockItemSense) configureQueue(w http.ResponseWriter, r *http.Request) {
	var cfg model.ZoneTransitionQueueConfig
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
			return
		}
	}
	m.mu.RLock()
	details := m.queue
	m.mu.RUnlock()
	writeJSON(w, http.StatusOK, details)
}

func (resp MockResponse) write(w http.ResponseWriter, _ *http.Request) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NewJSONResponse creates a 200 OK response carrying body.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message": "rate limit exceeded"}`,
		Headers: map[string]string{
			"Retry-After":  strconv.Itoa(retryAfter),
			"Content-Type": "application/json",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message": "internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewUnauthorizedResponse creates a 401 Unauthorized response.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"message": "bad credentials"}`,
		Headers: map[string]string{
			"WWW-Authenticate": `Basic realm="itemsense"`,
			"Content-Type":     "application/json",
		},
	}
}
