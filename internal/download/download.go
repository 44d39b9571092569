// Package download implements the DownloadManager contract FetchCoordinator
// drives: begin a download, await its result, or cancel it. The default
// Manager fetches over HTTP with a per-host token-bucket throttle
// (golang.org/x/time/rate) and retries transient failures through the
// teacher's internal/resilience.WithRetry, grounded on the teacher's
// outbound-HTTP-client call sites using that same retry policy.
package download

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ipiton/depsolve/internal/obs/metrics"
	"github.com/ipiton/depsolve/internal/resilience"
)

// Result is the outcome of a completed download: a readable stream of the
// fetched bytes plus its final size. Body must be closed by the caller.
type Result struct {
	Body io.ReadCloser
	Size int64
}

// Manager is the contract FetchCoordinator uses to fetch bytes from a URL,
// independent of what the bytes mean (feed document or archive).
type Manager interface {
	// Begin starts (or joins, if already in flight) a download of url and
	// returns a job ID immediately; it never blocks on the network.
	Begin(ctx context.Context, url string) (jobID string, err error)
	// Await blocks until jobID's download completes and returns its result.
	Await(ctx context.Context, jobID string) (Result, error)
	// Cancel aborts jobID's download if still in flight; a no-op if it
	// already completed.
	Cancel(jobID string)
}

type job struct {
	id     string
	url    string
	done   chan struct{}
	result Result
	err    error
	cancel context.CancelFunc
}

// HTTPManager is the default Manager: plain net/http GETs, deduplicated by
// URL (a second Begin for an in-flight URL attaches to the same job rather
// than issuing a second request), throttled per host.
type HTTPManager struct {
	client   *http.Client
	logger   *slog.Logger
	metrics  *metrics.DownloadMetrics
	retry    *resilience.RetryPolicy
	limiters sync.Map // host -> *rate.Limiter
	rps      float64
	burst    int

	mu    sync.Mutex
	byURL map[string]*job
	byID  map[string]*job
}

// Options configures an HTTPManager.
type Options struct {
	Client            *http.Client
	Logger            *slog.Logger
	Metrics           *metrics.DownloadMetrics
	Retry             *resilience.RetryPolicy
	RequestsPerSecond float64 // per-host rate limit; 0 selects a sane default
	Burst             int
}

// NewHTTPManager builds an HTTPManager.
func NewHTTPManager(opts Options) *HTTPManager {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.DefaultRegistry().Download()
	}
	retryPolicy := opts.Retry
	if retryPolicy == nil {
		retryPolicy = resilience.DefaultRetryPolicy()
		retryPolicy.OperationName = "archive_download"
		retryPolicy.Metrics = metrics.NewRetryMetrics()
		// fetchOnce reports responses with status >= 400 as a plain
		// "unexpected status NNN" error (no typed HTTP error in the corpus),
		// so classify by the status code embedded in the message: retry
		// 5xx/429/408, fall back to DefaultErrorChecker for
		// everything else (including transport-level errors, which never
		// carry a status code at all).
		retryPolicy.ErrorChecker = resilience.NewHTTPErrorChecker()
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 4
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 4
	}

	return &HTTPManager{
		client:  client,
		logger:  logger,
		metrics: m,
		retry:   retryPolicy,
		rps:     rps,
		burst:   burst,
		byURL:   make(map[string]*job),
		byID:    make(map[string]*job),
	}
}

func (m *HTTPManager) limiterFor(rawURL string) *rate.Limiter {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	v, _ := m.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(m.rps), m.burst))
	return v.(*rate.Limiter)
}

// Begin starts (or joins) a download of url. Deduplication mirrors
// spec.md §4.6: "if a download is already in flight for this URL, attach
// no new handler".
func (m *HTTPManager) Begin(ctx context.Context, rawURL string) (string, error) {
	m.mu.Lock()
	if existing, ok := m.byURL[rawURL]; ok {
		m.mu.Unlock()
		return existing.id, nil
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	j := &job{
		id:     uuid.NewString(),
		url:    rawURL,
		done:   make(chan struct{}),
		cancel: cancel,
	}
	m.byURL[rawURL] = j
	m.byID[j.id] = j
	m.mu.Unlock()

	m.metrics.InFlight.Inc()
	go m.run(jobCtx, j)
	return j.id, nil
}

func (m *HTTPManager) run(ctx context.Context, j *job) {
	defer close(j.done)
	defer m.metrics.InFlight.Dec()

	start := time.Now()
	var body []byte
	err := resilience.WithRetry(ctx, m.retry, func() error {
		if err := m.limiterFor(j.url).Wait(ctx); err != nil {
			return err
		}
		b, fetchErr := m.fetchOnce(ctx, j.url)
		if fetchErr != nil {
			return fetchErr
		}
		body = b
		return nil
	})
	duration := time.Since(start).Seconds()

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.metrics.AttemptsTotal.WithLabelValues(outcome).Inc()
	m.metrics.DurationSeconds.WithLabelValues(outcome).Observe(duration)

	m.mu.Lock()
	delete(m.byURL, j.url)
	m.mu.Unlock()

	if err != nil {
		j.err = fmt.Errorf("download %s: %w", j.url, err)
		return
	}
	m.metrics.BytesTotal.Add(float64(len(body)))
	j.result = Result{Body: io.NopCloser(bytes.NewReader(body)), Size: int64(len(body))}
}

func (m *HTTPManager) fetchOnce(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("download %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (m *HTTPManager) Await(ctx context.Context, jobID string) (Result, error) {
	m.mu.Lock()
	j, ok := m.byID[jobID]
	m.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("download: unknown job %q", jobID)
	}

	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (m *HTTPManager) Cancel(jobID string) {
	m.mu.Lock()
	j, ok := m.byID[jobID]
	m.mu.Unlock()
	if !ok {
		return
	}
	j.cancel()
}
