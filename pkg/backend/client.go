package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/psantana5/ffqueue/pkg/logging"
	"github.com/psantana5/ffqueue/pkg/models"
	"github.com/psantana5/ffqueue/pkg/retry"
	"github.com/psantana5/ffqueue/pkg/tracing"
)

// StatusError is a non-2xx response
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Client talks to the master over HTTP
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      retry.Config
	logger     *logging.Logger
	tracer     *tracing.Provider

	reconnectDelay time.Duration
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRetry sets the retry policy of snapshot loading
func WithRetry(cfg retry.Config) ClientOption {
	return func(c *Client) { c.retry = cfg }
}

// WithClientLogger sets the logger
func WithClientLogger(l *logging.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithTracer sets the tracing provider
func WithTracer(p *tracing.Provider) ClientOption {
	return func(c *Client) { c.tracer = p }
}

// WithReconnectDelay sets the pause between push channel reconnects
func WithReconnectDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.reconnectDelay = d }
}

// NewClient creates a client for the master at baseURL
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry:          retry.DefaultConfig(),
		logger:         logging.Discard(),
		reconnectDelay: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Backend = (*Client)(nil)
var _ Subscriber = (*Client)(nil)

// addAuthHeader adds authentication header to request
func (c *Client) addAuthHeader(h http.Header) {
	if c.apiKey != "" {
		h.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	ctx, span := c.tracer.StartSpan(ctx, "backend "+method+" "+path,
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	)
	defer span.End()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	c.addAuthHeader(req.Header)
	tracing.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		tracing.SetError(ctx, err)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		serr := &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		tracing.SetError(ctx, serr)
		return serr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// command posts a state transition. 409 Conflict counts as a rejection.
func (c *Client) command(ctx context.Context, path string, in interface{}) (bool, error) {
	var resp models.CommandResponse
	err := c.do(ctx, http.MethodPost, path, in, &resp)
	if serr, ok := err.(*StatusError); ok && serr.StatusCode == http.StatusConflict {
		c.logger.Warn("backend rejected command", map[string]interface{}{"path": path, "body": serr.Body})
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !resp.OK {
		c.logger.Warn("backend rejected command", map[string]interface{}{"path": path, "message": resp.Message})
	}
	return resp.OK, nil
}

// LoadQueueSnapshot fetches the full queue, retrying transient failures
func (c *Client) LoadQueueSnapshot(ctx context.Context) (*models.QueueSnapshot, error) {
	var snap models.QueueSnapshot
	err := retry.Do(ctx, c.retry, func() error {
		snap = models.QueueSnapshot{}
		err := c.do(ctx, http.MethodGet, "/queue", nil, &snap)
		if serr, ok := err.(*StatusError); ok && serr.StatusCode < 500 {
			return &retry.Permanent{Err: err}
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load queue snapshot: %w", err)
	}
	return &snap, nil
}

// EnqueueJob adds one job
func (c *Client) EnqueueJob(ctx context.Context, req models.EnqueueRequest) (*models.Job, error) {
	if req.ClientToken == "" {
		req.ClientToken = uuid.NewString()
	}
	var job models.Job
	if err := c.do(ctx, http.MethodPost, "/jobs", req, &job); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return &job, nil
}

// EnqueueJobs adds many jobs in one request
func (c *Client) EnqueueJobs(ctx context.Context, reqs []models.EnqueueRequest) ([]*models.Job, error) {
	batch := models.BatchEnqueueRequest{Jobs: make([]models.EnqueueRequest, len(reqs))}
	for i, r := range reqs {
		if r.ClientToken == "" {
			r.ClientToken = uuid.NewString()
		}
		batch.Jobs[i] = r
	}
	var resp models.BatchEnqueueResponse
	if err := c.do(ctx, http.MethodPost, "/jobs/batch", batch, &resp); err != nil {
		return nil, fmt.Errorf("enqueue jobs: %w", err)
	}
	return resp.Jobs, nil
}

func (c *Client) single(ctx context.Context, id string, action Action) (bool, error) {
	return c.command(ctx, "/jobs/"+url.PathEscape(id)+"/"+string(action), nil)
}

func (c *Client) bulk(ctx context.Context, ids []string, action Action) (bool, error) {
	return c.command(ctx, "/jobs/bulk/"+string(action), models.BulkRequest{IDs: ids})
}

// CancelJob cancels one job
func (c *Client) CancelJob(ctx context.Context, id string) (bool, error) {
	return c.single(ctx, id, ActionCancel)
}

// WaitJob asks one job to pause
func (c *Client) WaitJob(ctx context.Context, id string) (bool, error) {
	return c.single(ctx, id, ActionWait)
}

// ResumeJob resumes one paused job
func (c *Client) ResumeJob(ctx context.Context, id string) (bool, error) {
	return c.single(ctx, id, ActionResume)
}

// RestartJob requeues one job from scratch
func (c *Client) RestartJob(ctx context.Context, id string) (bool, error) {
	return c.single(ctx, id, ActionRestart)
}

// CancelJobsBulk cancels ids in one request
func (c *Client) CancelJobsBulk(ctx context.Context, ids []string) (bool, error) {
	return c.bulk(ctx, ids, ActionCancel)
}

// WaitJobsBulk pauses ids in one request
func (c *Client) WaitJobsBulk(ctx context.Context, ids []string) (bool, error) {
	return c.bulk(ctx, ids, ActionWait)
}

// ResumeJobsBulk resumes ids in one request
func (c *Client) ResumeJobsBulk(ctx context.Context, ids []string) (bool, error) {
	return c.bulk(ctx, ids, ActionResume)
}

// RestartJobsBulk restarts ids in one request
func (c *Client) RestartJobsBulk(ctx context.Context, ids []string) (bool, error) {
	return c.bulk(ctx, ids, ActionRestart)
}

// DeleteJob removes one finished job
func (c *Client) DeleteJob(ctx context.Context, id string) (bool, error) {
	return c.single(ctx, id, ActionDelete)
}

// DeleteJobsBulk removes finished jobs; unfinished ones are ignored by the master
func (c *Client) DeleteJobsBulk(ctx context.Context, ids []string) (bool, error) {
	return c.bulk(ctx, ids, ActionDelete)
}

// DeleteBatch removes every job of a batch scan
func (c *Client) DeleteBatch(ctx context.Context, batchID string) (bool, error) {
	return c.command(ctx, "/batches/"+url.PathEscape(batchID)+"/delete", nil)
}

// ReorderQueue sets the waiting queue order
func (c *Client) ReorderQueue(ctx context.Context, orderedIDs []string) (bool, error) {
	return c.command(ctx, "/queue/reorder", models.ReorderRequest{OrderedIDs: orderedIDs})
}
