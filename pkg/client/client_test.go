package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/itemsense-client/pkg/filter"
	"github.com/Sternrassler/itemsense-client/pkg/model"
	"github.com/Sternrassler/itemsense-client/pkg/pagination"
	"github.com/Sternrassler/itemsense-client/pkg/ratelimit"
)

// newTestClient creates a client against server with fast retries and no pacing.
func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()

	cfg := DefaultConfig(server.URL+"/itemsense", "admin", "secret")
	cfg.RateLimit = ratelimit.Config{}
	cfg.Retry = RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{
			name:   "valid config",
			config: DefaultConfig("http://localhost/itemsense", "admin", "admindefault"),
		},
		{
			name:        "missing base url",
			config:      DefaultConfig("", "admin", "admindefault"),
			expectError: true,
		},
		{
			name:        "unsupported scheme",
			config:      DefaultConfig("ftp://localhost", "admin", "admindefault"),
			expectError: true,
		},
		{
			name:   "defaults filled in",
			config: Config{BaseURL: "https://itemsense.example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if c.config.UserAgent == "" {
				t.Error("UserAgent should default")
			}
			if c.httpClient.Timeout <= 0 {
				t.Error("Timeout should default")
			}
		})
	}
}

func TestStartJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/itemsense"+EndpointStartJob {
			t.Errorf("Path = %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			t.Errorf("BasicAuth = %q/%q/%v", user, pass, ok)
		}
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["recipeName"] != "IMPINJ_BasicLocation" {
			t.Errorf("recipeName = %v", body["recipeName"])
		}
		if body["durationSeconds"] != float64(60) {
			t.Errorf("durationSeconds = %v", body["durationSeconds"])
		}
		if body["startDelay"] != "PT5S" {
			t.Errorf("startDelay = %v", body["startDelay"])
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"job-1","status":"WAITING","creationTime":"2024-01-01T00:00:00Z[Etc/UTC]"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server)
	resp, err := c.StartJob(context.Background(), model.Job{
		RecipeName: "IMPINJ_BasicLocation",
		Duration:   60 * time.Second,
		StartDelay: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("StartJob() error = %v", err)
	}
	if resp.ID != "job-1" {
		t.Errorf("ID = %q, want job-1", resp.ID)
	}

	created, err := resp.CreatedAt()
	if err != nil {
		t.Fatalf("CreatedAt() error = %v", err)
	}
	if !created.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt() = %v", created)
	}
}

func TestListItems_EscapesFilterValues(t *testing.T) {
	var query url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		w.Write([]byte(`{"items":[]}`))
	}))
	defer server.Close()

	f, err := filter.FromFields(map[string]string{
		filter.FieldZoneNames: "Loading Dock",
		filter.FieldEPCPrefix: "30&x=1",
		filter.FieldFacility:  "HQ:North",
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := newTestClient(t, server).ListItems(context.Background(), f); err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	want := map[string]string{"zoneNames": "Loading Dock", "epcPrefix": "30&x=1", "facility": "HQ:North", "pageSize": "1000"}
	for key, value := range want {
		if got := query.Get(key); got != value {
			t.Errorf("%s = %q, want %q", key, got, value)
		}
	}
	if len(query) != len(want) {
		t.Errorf("query = %v, want only %v", query, want)
	}
}

func TestListItems_SendsRenderedFilter(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"items":[{"epc":"E1","zone":"DOCK","lastModifiedTime":"2024-01-01T00:00:01Z"}],"nextPageMarker":"abc"}`))
	}))
	defer server.Close()

	f := filter.New()
	if err := f.Set(filter.FieldZoneNames, "DOCK"); err != nil {
		t.Fatal(err)
	}

	page, err := newTestClient(t, server).ListItems(context.Background(), f)
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if gotQuery != f.Render() {
		t.Errorf("query = %q, want %q", gotQuery, f.Render())
	}
	if len(page.Items) != 1 || page.Items[0].EPC != "E1" {
		t.Errorf("Items = %+v", page.Items)
	}
	if !page.HasNext() || *page.NextPageMarker != "abc" {
		t.Errorf("NextPageMarker = %v", page.NextPageMarker)
	}
}

func TestFetchPage_DrivesWalker(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Query().Get("pageMarker") {
		case "":
			w.Write([]byte(`{"items":[{"epc":"A"}],"nextPageMarker":"m/1"}`))
		case "m/1":
			w.Write([]byte(`{"items":[{"epc":"B"}],"nextPageMarker":"m2"}`))
		case "m2":
			w.Write([]byte(`{"items":[{"epc":"C"}],"nextPageMarker":null}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer server.Close()

	walker := pagination.NewWalker(newTestClient(t, server), pagination.DefaultConfig())
	items, err := walker.FetchAll(context.Background(), filter.New())
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(items) != 3 || items[0].EPC != "A" || items[2].EPC != "C" {
		t.Errorf("items = %+v", items)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestClientError_NotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("bad credentials"))
	}))
	defer server.Close()

	_, err := newTestClient(t, server).ListItems(context.Background(), filter.New())
	if err == nil {
		t.Fatal("Expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if !errors.Is(err, ErrRemoteCallFailed) {
		t.Errorf("error %v should match ErrRemoteCallFailed", err)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("client errors must not report retry exhaustion")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %v is not *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.ErrorClass != ErrorClassClient {
		t.Errorf("APIError = %+v", apiErr)
	}
	if !strings.Contains(apiErr.Message, "bad credentials") {
		t.Errorf("Message = %q, want body text", apiErr.Message)
	}
	if apiErr.Endpoint != EndpointShowItems {
		t.Errorf("Endpoint = %q", apiErr.Endpoint)
	}
}

func TestServerError_RetriedThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"items":[{"epc":"E2","lastModifiedTime":"2024-01-01T00:00:01Z"}]}`))
	}))
	defer server.Close()

	page, err := newTestClient(t, server).ListItems(context.Background(), filter.New())
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].EPC != "E2" {
		t.Errorf("Items = %+v", page.Items)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestStartJob_NotRetried(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"server error", http.StatusInternalServerError},
		{"unavailable", http.StatusServiceUnavailable},
		{"rate limited", http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := newTestClient(t, server).StartJob(context.Background(), model.Job{RecipeName: "R", Duration: time.Second})
			if !errors.Is(err, ErrRemoteCallFailed) {
				t.Errorf("error %v should match ErrRemoteCallFailed", err)
			}
			if errors.Is(err, ErrRetryExhausted) {
				t.Errorf("error %v should not report retries", err)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.StatusCode != tt.status {
				t.Errorf("error %v should carry status %d", err, tt.status)
			}
			if calls.Load() != 1 {
				t.Errorf("calls = %d, want 1", calls.Load())
			}
		})
	}
}

func TestServerError_RetryExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(t, server).ListItems(context.Background(), filter.New())
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("error %v should match ErrRetryExhausted", err)
	}
	if !errors.Is(err, ErrRemoteCallFailed) {
		t.Errorf("error %v should match ErrRemoteCallFailed", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestTooManyRequests_Retried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"items":[]}`))
	}))
	defer server.Close()

	page, err := newTestClient(t, server).ListItems(context.Background(), filter.New())
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if page.HasNext() {
		t.Error("empty page should not have a next marker")
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newTestClient(t, server)
	server.Close()

	_, err := c.ListItems(context.Background(), filter.New())
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("error %v should match ErrRetryExhausted", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorClass != ErrorClassNetwork {
		t.Errorf("expected network APIError, got %v", err)
	}
}

func TestDecodeFailed(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"items": [`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server).ListItems(context.Background(), filter.New())
	if !errors.Is(err, ErrDecodeFailed) {
		t.Errorf("error %v should match ErrDecodeFailed", err)
	}
	if calls.Load() != 1 {
		t.Errorf("decode failures must not be retried, calls = %d", calls.Load())
	}
}

func TestContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(t, server).ListItems(ctx, filter.New())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error %v should match context.Canceled", err)
	}
}

func TestCreateReaderDefinition(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/itemsense"+EndpointCreateReader {
			t.Errorf("Path = %s", r.URL.Path)
		}
		var def model.ReaderDefinition
		if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if def.Type != model.ReaderTypeXArray || def.Placement.X != 4.1 {
			t.Errorf("definition = %+v", def)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	def := model.ReaderDefinition{
		Name:      "xarray-1",
		Address:   "xarray-11-30-0D.local",
		Type:      model.ReaderTypeXArray,
		Placement: model.Placement{X: 4.1, Y: 2.2, Z: 3.3, Yaw: 90},
		Facility:  "HOME",
	}
	created, err := newTestClient(t, server).CreateReaderDefinition(context.Background(), def)
	if err != nil {
		t.Fatalf("CreateReaderDefinition() error = %v", err)
	}
	if created.Name != "xarray-1" {
		t.Errorf("Name = %q", created.Name)
	}
}

func TestConfigureZoneTransitionQueue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cfg model.ZoneTransitionQueueConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if cfg.FromZone != "ABSENT" || cfg.ToZone != "FACILITY" {
			t.Errorf("config = %+v", cfg)
		}
		w.Write([]byte(`{"serverUrl":"amqp://localhost:5672/%2F","queue":"q-1"}`))
	}))
	defer server.Close()

	details, err := newTestClient(t, server).ConfigureZoneTransitionQueue(context.Background(),
		model.ZoneTransitionQueueConfig{FromZone: "ABSENT", ToZone: "FACILITY"})
	if err != nil {
		t.Fatalf("ConfigureZoneTransitionQueue() error = %v", err)
	}
	if details.Queue != "q-1" {
		t.Errorf("Queue = %q", details.Queue)
	}
}

func TestConfigureZoneTransitionQueue_IncompleteResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"queue":"q-1"}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server).ConfigureZoneTransitionQueue(context.Background(), model.ZoneTransitionQueueConfig{})
	if !errors.Is(err, ErrDecodeFailed) {
		t.Errorf("error %v should match ErrDecodeFailed", err)
	}
}

func TestNoCredentials_NoAuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("Authorization header should be absent")
		}
		w.Write([]byte(`{"items":[]}`))
	}))
	defer server.Close()

	c, err := New(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.ListItems(context.Background(), filter.New()); err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
}
