// Package jira is a resilient client for the tracker's REST API (v2). All
// calls share one pooled connection, are rate limited, retried on transient
// failure and guarded by a circuit breaker. Responses are checked for a JSON
// content type before decoding.
package jira

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/datemover/internal/resilience"
)

const (
	apiPrefix     = "/rest/api/2"
	maxBodyBytes  = 32 << 20
	searchPageMax = 100
)

// Client is the tracker API used by history reconciliation and the
// status endpoints.
type Client interface {
	ServerInfo(ctx context.Context) (*ServerInfo, error)
	Myself(ctx context.Context) (*User, error)
	TestConnection(ctx context.Context) ConnectionResult
	Search(ctx context.Context, jql string, fields []string, startAt, maxResults int) (*SearchResult, error)
	SearchAll(ctx context.Context, jql string, fields []string) ([]Issue, error)
	Issue(ctx context.Context, key string, fields []string) (*Issue, error)
	Changelog(ctx context.Context, key string) ([]History, error)
	Fields(ctx context.Context) ([]Field, error)
	FieldIndex(ctx context.Context) (*FieldIndex, error)
	Health() HealthSnapshot
	Close()
}

// Observer receives per-attempt measurements. internal/monitoring.Metrics
// implements it.
type Observer interface {
	ObserveRequest(operation string, status int, kind string, elapsed time.Duration)
	ObserveRetry(operation, kind string)
	ObserveRecycle()
	ObserveCircuitState(state int)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, int, string, time.Duration) {}
func (nopObserver) ObserveRetry(string, string)                       {}
func (nopObserver) ObserveRecycle()                                   {}
func (nopObserver) ObserveCircuitState(int)                           {}

// Option configures the client.
type Option func(*httpClient)

// WithTimeouts overrides the connect/read/request timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(c *httpClient) {
		c.timeouts = t
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithCircuitBreaker overrides the breaker settings.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *httpClient) {
		c.breakerCfg = cfg
	}
}

// WithRateLimit sets requests per second and burst. A non-positive rate
// disables limiting.
func WithRateLimit(r float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = NewAdaptiveLimiter(rate.Limit(r), burst)
	}
}

// WithFieldCacheTTL sets how long field metadata is reused.
func WithFieldCacheTTL(ttl time.Duration) Option {
	return func(c *httpClient) {
		c.fieldTTL = ttl
	}
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(c *httpClient) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

type httpClient struct {
	baseURL   string
	token     string
	userAgent string

	timeouts   Timeouts
	retry      resilience.RetryConfig
	breakerCfg resilience.CircuitBreakerConfig
	fieldTTL   time.Duration

	sess     *session
	limiter  *AdaptiveLimiter
	breaker  *resilience.CircuitBreaker
	fields   *FieldCache
	health   *healthTracker
	observer Observer
}

// NewClient creates a tracker client for baseURL authenticating with a
// personal access token.
func NewClient(baseURL, token string, opts ...Option) Client {
	c := &httpClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		userAgent:  "datemover/1.0",
		timeouts:   DefaultTimeouts(),
		retry:      resilience.DefaultRetryConfig(),
		breakerCfg: resilience.DefaultCircuitBreakerConfig(),
		fieldTTL:   time.Hour,
		health:     newHealthTracker(),
		observer:   nopObserver{},
	}
	for _, o := range opts {
		o(c)
	}

	c.timeouts = c.timeouts.withDefaults()
	c.sess = newSession(c.timeouts)
	if c.limiter == nil {
		c.limiter = NewAdaptiveLimiter(10, 10)
	}
	c.breaker = resilience.NewCircuitBreaker(c.withStateLog(c.breakerCfg))
	c.fields = NewFieldCache(c.loadFields, c.fieldTTL)
	return c
}

// withStateLog reports breaker transitions to the log and the observer, then
// to any callback already set on cfg.
func (c *httpClient) withStateLog(cfg resilience.CircuitBreakerConfig) resilience.CircuitBreakerConfig {
	next := cfg.OnStateChange
	cfg.OnStateChange = func(from, to resilience.CircuitState) {
		log := zap.L().Info
		if to == resilience.CircuitOpen {
			log = zap.L().Warn
		}
		log("jira: circuit state changed",
			zap.String("base_url", c.baseURL),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		c.observer.ObserveCircuitState(int(to))
		if next != nil {
			next(from, to)
		}
	}
	return cfg
}

func (c *httpClient) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	var info ServerInfo
	if err := c.get(ctx, "server_info", "/serverInfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *httpClient) Myself(ctx context.Context) (*User, error) {
	var u User
	if err := c.get(ctx, "myself", "/myself", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *httpClient) Search(ctx context.Context, jql string, fields []string, startAt, maxResults int) (*SearchResult, error) {
	if strings.TrimSpace(jql) == "" {
		return nil, eris.New("jira: search: empty JQL")
	}
	if maxResults <= 0 || maxResults > searchPageMax {
		maxResults = searchPageMax
	}
	q := url.Values{
		"jql":        {jql},
		"startAt":    {strconv.Itoa(startAt)},
		"maxResults": {strconv.Itoa(maxResults)},
	}
	if len(fields) > 0 {
		q.Set("fields", strings.Join(fields, ","))
	}

	var res SearchResult
	if err := c.get(ctx, "search", "/search", q, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *httpClient) SearchAll(ctx context.Context, jql string, fields []string) ([]Issue, error) {
	var all []Issue
	startAt := 0
	for {
		page, err := c.Search(ctx, jql, fields, startAt, searchPageMax)
		if err != nil {
			return nil, eris.Wrapf(err, "jira: search page at %d", startAt)
		}
		all = append(all, page.Issues...)
		startAt += len(page.Issues)
		if len(page.Issues) == 0 || startAt >= page.Total {
			return all, nil
		}
	}
}

// Issue fetches one work item with its changelog expanded. When the embedded
// changelog is truncated, the full history is read from the paginated
// changelog endpoint instead.
func (c *httpClient) Issue(ctx context.Context, key string, fields []string) (*Issue, error) {
	if strings.TrimSpace(key) == "" {
		return nil, eris.New("jira: get issue: empty key")
	}
	q := url.Values{"expand": {"changelog"}}
	if len(fields) > 0 {
		q.Set("fields", strings.Join(fields, ","))
	}

	var issue Issue
	if err := c.get(ctx, "get_issue", "/issue/"+url.PathEscape(key), q, &issue); err != nil {
		return nil, err
	}

	if issue.Changelog.Truncated() {
		zap.L().Debug("jira: embedded changelog truncated, paginating",
			zap.String("issue", key),
			zap.Int("embedded", len(issue.Changelog.Histories)),
			zap.Int("total", issue.Changelog.Total),
		)
		histories, err := c.Changelog(ctx, key)
		if err != nil {
			return nil, err
		}
		issue.Changelog = &Changelog{
			MaxResults: len(histories),
			Total:      len(histories),
			Histories:  histories,
		}
	}
	return &issue, nil
}

func (c *httpClient) Changelog(ctx context.Context, key string) ([]History, error) {
	var all []History
	path := "/issue/" + url.PathEscape(key) + "/changelog"
	startAt := 0
	for {
		q := url.Values{
			"startAt":    {strconv.Itoa(startAt)},
			"maxResults": {strconv.Itoa(searchPageMax)},
		}
		var page ChangelogPage
		if err := c.get(ctx, "get_changelog", path, q, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Values...)
		startAt += len(page.Values)
		if page.IsLast || len(page.Values) == 0 || (page.Total > 0 && startAt >= page.Total) {
			return all, nil
		}
	}
}

func (c *httpClient) Fields(ctx context.Context) ([]Field, error) {
	idx, err := c.fields.Index(ctx)
	if err != nil {
		return nil, err
	}
	return idx.Fields(), nil
}

func (c *httpClient) FieldIndex(ctx context.Context) (*FieldIndex, error) {
	return c.fields.Index(ctx)
}

func (c *httpClient) loadFields(ctx context.Context) ([]Field, error) {
	var fields []Field
	if err := c.get(ctx, "list_fields", "/field", nil, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func (c *httpClient) Health() HealthSnapshot {
	snap := c.health.snapshot()
	snap.ConnectionRecycles = c.sess.recycles.Load()
	snap.Circuit = c.breaker.Snapshot()
	return snap
}

func (c *httpClient) Close() {
	c.sess.close()
	zap.L().Debug("jira: client closed", zap.String("base_url", c.baseURL))
}

// get performs one logical GET: rate limited, retried on transient failure,
// guarded by the breaker, with at most one connection recycle.
func (c *httpClient) get(ctx context.Context, op, path string, q url.Values, out any) error {
	c.health.begin()

	var retrying, recycled bool
	cfg := c.retry
	cfg.OnRetry = func(ev resilience.RetryEvent) {
		kind := resilience.Classify(ev.Err)
		c.health.retry(!retrying)
		retrying = true
		c.observer.ObserveRetry(op, string(kind))
		zap.L().Warn("jira: retrying request",
			zap.String("op", op),
			zap.String("path", path),
			zap.Int("retry", ev.Retry),
			zap.Duration("backoff", ev.Delay),
			zap.String("kind", string(kind)),
			zap.Error(ev.Err),
		)
		if !recycled && resilience.IsConnectionLevel(ev.Err) {
			recycled = true
			c.sess.recycle()
			c.observer.ObserveRecycle()
			zap.L().Info("jira: recycled connection pool", zap.String("op", op))
		}
	}

	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.attempt(ctx, op, path, q, out)
		})
	})

	c.health.end(retrying, err)
	c.observer.ObserveCircuitState(int(c.breaker.State()))

	if err != nil {
		kind := resilience.Classify(err)
		fields := []zap.Field{
			zap.String("op", op),
			zap.String("path", path),
			zap.String("kind", string(kind)),
			zap.Error(err),
		}
		switch kind {
		case resilience.KindCanceled, resilience.KindNotFound:
			zap.L().Debug("jira: request ended", fields...)
		default:
			if p := resilience.PreviewOf(err); p != "" {
				fields = append(fields, zap.String("preview", p))
			}
			zap.L().Error("jira: request failed", fields...)
		}
		return err
	}
	return nil
}

// attempt performs a single HTTP exchange and classifies the outcome.
func (c *httpClient) attempt(ctx context.Context, op, path string, q url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return eris.Wrapf(resilience.ErrNotAttempted, "jira: %s: rate limiter wait: %v", op, err)
	}

	actx, cancel := context.WithTimeout(ctx, c.timeouts.Request)
	defer cancel()

	u := c.baseURL + apiPrefix + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(actx, http.MethodGet, u, nil)
	if err != nil {
		return resilience.NewPermanentError(eris.Wrap(err, "jira: create request"), 0, nil)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.sess.do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		terr := transportError(op, err)
		c.observe(op, 0, terr, start)
		return terr
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		terr := resilience.NewTransientError(eris.Wrapf(err, "jira: %s: read body", op), 0)
		c.observe(op, resp.StatusCode, terr, start)
		return terr
	}

	err = c.decode(op, resp, body, out)
	c.observe(op, resp.StatusCode, err, start)
	return err
}

func (c *httpClient) decode(op string, resp *http.Response, body []byte, out any) error {
	status := resp.StatusCode
	contentType := resp.Header.Get("Content-Type")

	switch {
	case resilience.IsTransientHTTPStatus(status):
		if status == http.StatusTooManyRequests {
			c.limiter.OnRateLimit()
		}
		return resilience.NewTransientError(eris.Errorf("jira: %s: HTTP %d", op, status), status)
	case status >= 400:
		return resilience.NewPermanentError(
			eris.Errorf("jira: %s: HTTP %d%s", op, status, errorDetail(body, contentType)), status, body)
	}

	if !isStructured(contentType) {
		return &resilience.NonStructuredResponseError{
			StatusCode:  status,
			ContentType: contentType,
			Preview:     resilience.Preview(body),
		}
	}

	c.limiter.OnSuccess()
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &resilience.MalformedPayloadError{
			Err:         eris.Wrapf(err, "jira: %s: decode", op),
			ContentType: contentType,
			Preview:     resilience.Preview(body),
		}
	}
	return nil
}

func (c *httpClient) observe(op string, status int, err error, start time.Time) {
	c.observer.ObserveRequest(op, status, string(resilience.Classify(err)), time.Since(start))
	zap.L().Debug("jira: attempt",
		zap.String("op", op),
		zap.Int("status", status),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err),
	)
}

// transportError classifies a failure that produced no HTTP response. A
// dropped keep-alive connection surfaces as a bare EOF.
func transportError(op string, err error) error {
	wrapped := eris.Wrapf(err, "jira: %s", op)
	if resilience.IsTransient(err) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return resilience.NewTransientError(wrapped, 0)
	}
	return resilience.NewPermanentError(wrapped, 0, nil)
}

// isStructured reports whether contentType declares a JSON body.
func isStructured(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// errorDetail extracts the tracker's error messages from a JSON error body.
func errorDetail(body []byte, contentType string) string {
	if !isStructured(contentType) {
		return ""
	}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}
	msgs := append([]string(nil), eb.ErrorMessages...)
	for field, msg := range eb.Errors {
		msgs = append(msgs, field+": "+msg)
	}
	if eb.Message != "" {
		msgs = append(msgs, eb.Message)
	}
	if len(msgs) == 0 {
		return ""
	}
	return ": " + strings.Join(msgs, "; ")
}
