// Package client provides the ItemSense HTTP client with rate limiting,
// retries and error classification.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/itemsense-client/pkg/filter"
	"github.com/Sternrassler/itemsense-client/pkg/logging"
	"github.com/Sternrassler/itemsense-client/pkg/model"
	"github.com/Sternrassler/itemsense-client/pkg/ratelimit"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for API calls.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "itemsense_requests_total",
		Help: "Total ItemSense requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "itemsense_request_duration_seconds",
		Help:    "ItemSense request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "itemsense_errors_total",
		Help: "Total ItemSense errors by class",
	}, []string{"class"})
)

// API endpoints.
const (
	EndpointStartJob            = "/control/v1/jobs/start"
	EndpointShowItems           = "/data/v1/items/show"
	EndpointCreateReader        = "/configuration/v1/readerDefinitions/create"
	EndpointZoneTransitionQueue = "/data/v1/messageQueues/zoneTransition/configure"
)

// maxErrorBody bounds how much of an error response is kept as the message.
const maxErrorBody = 4096

// Config holds the client configuration.
type Config struct {
	// BaseURL of the ItemSense instance, e.g. "http://itemsense.local/itemsense".
	BaseURL string

	// Basic auth credentials; sent only when Username is set.
	Username string
	Password string

	// UserAgent header value.
	UserAgent string

	// Timeout per HTTP attempt.
	Timeout time.Duration

	// RateLimit paces outgoing requests.
	RateLimit ratelimit.Config

	// Retry controls retries of server, rate limit and network failures.
	Retry RetryConfig
}

// DefaultConfig returns a configuration with safe defaults.
func DefaultConfig(baseURL, username, password string) Config {
	return Config{
		BaseURL:   baseURL,
		Username:  username,
		Password:  password,
		UserAgent: "itemsense-client/1.0",
		Timeout:   30 * time.Second,
		RateLimit: ratelimit.DefaultConfig(),
		Retry:     DefaultRetryConfig(),
	}
}

// Client is the ItemSense API client. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *ratelimit.Limiter
	config     Config
	logger     zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "itemsense-client/1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := logging.NewLogger(logging.ComponentClient)

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		limiter: ratelimit.New(cfg.RateLimit, logger),
		config:  cfg,
		logger:  logger,
	}, nil
}

// StartJob submits a job and returns the server's echo. It makes a single
// attempt: a POST the server may already have accepted could start a second
// job if repeated.
func (c *Client) StartJob(ctx context.Context, job model.Job) (*model.JobResponse, error) {
	var resp model.JobResponse
	if err := c.call(ctx, false, http.MethodPost, EndpointStartJob, "", job, &resp); err != nil {
		return nil, errors.Wrap(err, "start job")
	}
	c.logger.Info().
		Str("job_id", resp.ID).
		Str("recipe", job.RecipeName).
		Str("creation_time", resp.CreationTime).
		Msg("Job started")
	return &resp, nil
}

// ListItems fetches one page of the item listing for f.
func (c *Client) ListItems(ctx context.Context, f *filter.Filter) (*model.ItemPage, error) {
	var page model.ItemPage
	if err := c.do(ctx, http.MethodGet, EndpointShowItems, f.Render(), nil, &page); err != nil {
		return nil, errors.Wrap(err, "list items")
	}
	return &page, nil
}

// FetchPage implements pagination.PageFetcher.
func (c *Client) FetchPage(ctx context.Context, f *filter.Filter) (*model.ItemPage, error) {
	return c.ListItems(ctx, f)
}

// CreateReaderDefinition registers a reader and returns the stored definition.
func (c *Client) CreateReaderDefinition(ctx context.Context, def model.ReaderDefinition) (*model.ReaderDefinition, error) {
	var created model.ReaderDefinition
	if err := c.do(ctx, http.MethodPost, EndpointCreateReader, "", def, &created); err != nil {
		return nil, errors.Wrapf(err, "create reader definition %q", def.Name)
	}
	if created.Name == "" {
		// 204 or empty body
		created = def
	}
	return &created, nil
}

// ConfigureZoneTransitionQueue asks the platform to publish matching zone
// transitions and returns where to consume them.
func (c *Client) ConfigureZoneTransitionQueue(ctx context.Context, cfg model.ZoneTransitionQueueConfig) (*model.QueueDetails, error) {
	var details model.QueueDetails
	if err := c.do(ctx, http.MethodPost, EndpointZoneTransitionQueue, "", cfg, &details); err != nil {
		return nil, errors.Wrap(err, "configure zone transition queue")
	}
	if details.ServerURL == "" || details.Queue == "" {
		return nil, errors.Wrapf(ErrDecodeFailed, "%s: missing serverUrl or queue", EndpointZoneTransitionQueue)
	}
	c.logger.Info().
		Str("server_url", details.ServerURL).
		Str("queue", details.Queue).
		Msg("Zone transition queue configured")
	return &details, nil
}

// do performs one logical call: encode body, pace, send with retries and
// decode a 2xx response into out. Bodies of 204 responses are not decoded.
func (c *Client) do(ctx context.Context, method, endpoint, rawQuery string, body, out any) error {
	return c.call(ctx, true, method, endpoint, rawQuery, body, out)
}

// call is do with retries optional.
func (c *Client) call(ctx context.Context, retry bool, method, endpoint, rawQuery string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
	}

	target := c.baseURL + endpoint
	if rawQuery != "" {
		target += "?" + rawQuery
	}

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", method).
		Str("query", rawQuery).
		Msg("Executing ItemSense request")

	var respBody []byte
	var status int

	attempt := func() (ErrorClass, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		req, err := c.newRequest(ctx, method, target, payload)
		if err != nil {
			return "", err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
			return ErrorClassNetwork, &APIError{
				ErrorClass: ErrorClassNetwork,
				Endpoint:   endpoint,
				Message:    "transport failure",
				Err:        err,
			}
		}
		defer resp.Body.Close()

		c.limiter.UpdateFromHeaders(resp.StatusCode, resp.Header)
		requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			errClass := classifyStatus(resp.StatusCode)
			errorsTotal.WithLabelValues(string(errClass)).Inc()
			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Str("error_class", string(errClass)).
				Msg("ItemSense request error")
			return errClass, &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: errClass,
				Endpoint:   endpoint,
				Message:    errorMessage(resp.Status, msg),
			}
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return ErrorClassNetwork, &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: ErrorClassNetwork,
				Endpoint:   endpoint,
				Message:    "read body",
				Err:        err,
			}
		}
		respBody, status = data, resp.StatusCode
		return "", nil
	}

	var err error
	if retry {
		err = retryWithBackoff(ctx, c.config.Retry, c.logger, attempt)
	} else {
		_, err = attempt()
	}
	if err != nil {
		return err
	}

	if out == nil || status == http.StatusNoContent || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.Wrapf(ErrDecodeFailed, "%s: %v", endpoint, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, target string, payload []byte) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Username != "" {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}
	return req, nil
}

func errorMessage(status string, body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return status
	}
	return status + ": " + text
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
