// Package client implements the request pipeline: the public entry points
// (Get/Post/Put/Patch/Delete/Download/URL/SSE) that orchestrate URL
// construction, validation, caching, cancellation composition, the retry
// loop, and response decoding for one endpoint catalog. A Client tracks its
// in-flight call count behind an RWMutex-protected config block and a
// closeOnce-guarded Dispose.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/cexll/schemafetch-go/pkg/cache"
	"github.com/cexll/schemafetch-go/pkg/cancel"
	"github.com/cexll/schemafetch-go/pkg/decode"
	"github.com/cexll/schemafetch-go/pkg/errs"
	"github.com/cexll/schemafetch-go/pkg/retry"
	"github.com/cexll/schemafetch-go/pkg/schema"
	"github.com/cexll/schemafetch-go/pkg/sse"
	"github.com/cexll/schemafetch-go/pkg/telemetry"
	"github.com/cexll/schemafetch-go/pkg/transport"
	"github.com/cexll/schemafetch-go/pkg/urlbuild"
	"github.com/cexll/schemafetch-go/pkg/validate"
)

// ErrClosed is returned by any operation invoked after Dispose.
var ErrClosed = errors.New("error client is disposed")

const defaultTimeout = 60 * time.Second

var defaultRetryStatusCodes = []int{408, 429, 500, 501, 502, 503, 504}

// RetryPolicy configures the bounded retry loop a call runs through.
type RetryPolicy struct {
	MaxAttempts       int
	Delay             time.Duration
	StatusCodes       []int
	IgnoreStatusCodes []int
}

func defaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		Delay:       time.Second,
		StatusCodes: defaultRetryStatusCodes,
	}
}

// CacheOpts configures the client-wide response cache.
type CacheOpts struct {
	TTL             time.Duration
	CleanupInterval time.Duration
}

// Options configures a Client at construction time.
type Options struct {
	BaseURL  string
	Hostname string
	Catalog  schema.Catalog

	DefaultValidation *bool
	DefaultTimeout    *time.Duration
	DefaultRetry      *RetryPolicy
	DefaultHeaders    map[string]string
	CredentialsMode   string
	Mode              string
	CacheOpts         CacheOpts

	HTTPClient *http.Client
	Logger     logr.Logger
	// Tracer records one span per dispatch call when set; a nil Tracer
	// costs nothing (Tracer.Start on a nil receiver returns the incoming
	// context unchanged).
	Tracer *telemetry.Tracer
}

// Option mutates Options before defaults are applied.
type Option func(*Options)

// WithDefaultHeader sets one default header, merging with any already
// configured via Options.DefaultHeaders.
func WithDefaultHeader(key, value string) Option {
	return func(o *Options) {
		if o.DefaultHeaders == nil {
			o.DefaultHeaders = map[string]string{}
		}
		o.DefaultHeaders[key] = value
	}
}

// WithLogger overrides the client's logr.Logger sink.
func WithLogger(l logr.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func (o Options) applyDefaults() Options {
	if o.DefaultValidation == nil {
		t := true
		o.DefaultValidation = &t
	}
	if o.DefaultTimeout == nil {
		d := defaultTimeout
		o.DefaultTimeout = &d
	}
	if o.DefaultRetry == nil {
		p := defaultRetryPolicy()
		o.DefaultRetry = &p
	}
	if o.Logger.GetSink() == nil {
		o.Logger = logr.Discard()
	}
	return o
}

// Params carries one call's substitution inputs: Path/Search feed the URL
// builder (after optional schema validation), Body feeds request
// serialization for post/put/patch.
type Params struct {
	Path   map[string]any
	Search map[string]any
	Body   any
}

// CallOptions carries per-call overrides of the client's defaults.
type CallOptions struct {
	Validate         *bool
	Timeout          *time.Duration
	Headers          map[string]string
	Retry            *RetryPolicy
	CacheRequest     *bool
	CacheTTL         time.Duration
	ErrorUnknownType bool
}

// Client is the compiled, ready-to-use request pipeline for one endpoint
// catalog.
type Client struct {
	opts      Options
	transport *transport.Transport
	cache     *cache.Cache[any]
	logger    logr.Logger
	tracer    *telemetry.Tracer

	clientToken *cancel.Token
	ownCancel   context.CancelFunc

	mu     sync.RWMutex
	closed bool

	closeOnce sync.Once
	runWG     sync.WaitGroup
}

// New compiles a Client from Options. The catalog is expected to already
// be validated via schema.Compile; New does not re-validate it.
func New(opts Options, optFns ...Option) (*Client, error) {
	for _, fn := range optFns {
		fn(&opts)
	}
	opts = opts.applyDefaults()

	tr, err := transport.New(transport.Options{
		BaseURL:         opts.BaseURL,
		HTTPClient:      opts.HTTPClient,
		DefaultHeaders:  opts.DefaultHeaders,
		CredentialsMode: opts.CredentialsMode,
	})
	if err != nil {
		return nil, fmt.Errorf("error constructing client: %w", err)
	}

	ctx, cancelFn := context.WithCancel(context.Background())

	c := &Client{
		opts:        opts,
		transport:   tr,
		cache:       cache.New[any](cache.Config{TTL: opts.CacheOpts.TTL, SweepInterval: opts.CacheOpts.CleanupInterval}),
		logger:      opts.Logger,
		tracer:      opts.Tracer,
		clientToken: cancel.NewToken(ctx),
		ownCancel:   cancelFn,
	}
	return c, nil
}

// ConfigPatch describes a runtime reconfiguration applied via Configure.
type ConfigPatch struct {
	MergeHeaders       map[string]string
	DefaultTimeout     *time.Duration
	DefaultRetry       *RetryPolicy
	CacheTTL           time.Duration
	CacheSweepInterval time.Duration
}

// Configure applies a runtime reconfiguration. Header changes merge into
// the existing default-header set; timeout/retry changes replace the
// client-wide default outright; cache changes delegate to pkg/cache's own
// invalidate-on-ttl-change semantics.
func (c *Client) Configure(patch ConfigPatch) {
	c.mu.Lock()
	if patch.MergeHeaders != nil {
		if c.opts.DefaultHeaders == nil {
			c.opts.DefaultHeaders = map[string]string{}
		}
		for k, v := range patch.MergeHeaders {
			c.opts.DefaultHeaders[k] = v
		}
	}
	if patch.DefaultTimeout != nil {
		c.opts.DefaultTimeout = patch.DefaultTimeout
	}
	if patch.DefaultRetry != nil {
		c.opts.DefaultRetry = patch.DefaultRetry
	}
	c.mu.Unlock()

	if patch.CacheTTL > 0 || patch.CacheSweepInterval > 0 {
		c.cache.Configure(patch.CacheTTL, patch.CacheSweepInterval)
	}
}

// Dispose rejects new calls, waits for in-flight calls to finish, then
// fires the client-wide cancel source (ending open SSE streams) and stops
// the cache sweep. It is safe to call more than once.
func (c *Client) Dispose() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.runWG.Wait()
		c.ownCancel()
		c.cache.Dispose()
	})
}

func (c *Client) beginCall() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	c.runWG.Add(1)
	return nil
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, template string, params Params, opts CallOptions) (any, error) {
	return c.call(ctx, schema.Get, template, params, opts)
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, template string, params Params, opts CallOptions) (any, error) {
	return c.call(ctx, schema.Post, template, params, opts)
}

// Put issues a PUT request.
func (c *Client) Put(ctx context.Context, template string, params Params, opts CallOptions) (any, error) {
	return c.call(ctx, schema.Put, template, params, opts)
}

// Patch issues a PATCH request.
func (c *Client) Patch(ctx context.Context, template string, params Params, opts CallOptions) (any, error) {
	return c.call(ctx, schema.Patch, template, params, opts)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, template string, params Params, opts CallOptions) (any, error) {
	return c.call(ctx, schema.Delete, template, params, opts)
}

// Download issues a GET request whose body is returned as an opaque blob,
// bypassing decoding and response validation entirely.
func (c *Client) Download(ctx context.Context, template string, params Params, opts CallOptions) ([]byte, error) {
	value, err := c.call(ctx, schema.Download, template, params, opts)
	if err != nil {
		return nil, err
	}
	raw, _ := value.([]byte)
	return raw, nil
}

// URL builds the endpoint's URL without sending a request, resolving it
// to an absolute URL against BaseURL/Hostname when the result isn't
// already absolute.
func (c *Client) URL(template string, params Params) (string, error) {
	descriptor, ok := c.opts.Catalog.Lookup(template, schema.URL)
	if !ok {
		descriptor, ok = c.opts.Catalog.Lookup(template, schema.Get)
	}
	if !ok {
		descriptor = schema.Descriptor{}
	}

	validateEnabled := c.effectiveValidate(CallOptions{})
	built, err := c.buildURL(context.Background(), schema.URL, descriptor, template, params, validateEnabled)
	if err != nil {
		return "", err
	}
	return urlbuild.ResolveAbsolute(c.opts.BaseURL, c.opts.Hostname, built), nil
}

// SSE opens a server-sent-events subscription and returns a close
// function on successful open.
func (c *Client) SSE(ctx context.Context, template string, params Params, handler sse.Handler, opts CallOptions) (func(), error) {
	if err := c.beginCall(); err != nil {
		return nil, err
	}
	defer c.runWG.Done()

	descriptor, ok := c.opts.Catalog.Lookup(template, schema.SSE)
	if !ok {
		return nil, fmt.Errorf("error no schemas found for %s", template)
	}

	validateEnabled := c.effectiveValidate(opts)
	builtURL, err := c.buildURL(ctx, schema.SSE, descriptor, template, params, validateEnabled)
	if err != nil {
		return nil, fmt.Errorf("error opening SSE: %w", err)
	}
	fullURL := urlbuild.ResolveAbsolute(c.opts.BaseURL, c.opts.Hostname, builtURL)

	timeout := c.effectiveTimeout(opts)

	closeFn, err := sse.Open(ctx, c.transport.HTTPClient(), fullURL, descriptor.Events, handler, sse.Options{
		Timeout:          timeout,
		ErrorUnknownType: opts.ErrorUnknownType,
		Validate:         validateEnabled,
		Headers:          c.mergeHeaders(opts.Headers),
		Credentials:      c.opts.CredentialsMode,
	}, c.clientToken)
	if err != nil {
		return nil, err
	}
	return closeFn, nil
}

// call runs the full dispatch pipeline and applies a uniform outer error
// wrap naming the operation that failed.
func (c *Client) call(ctx context.Context, op schema.Operation, template string, params Params, opts CallOptions) (any, error) {
	if err := c.beginCall(); err != nil {
		return nil, err
	}
	defer c.runWG.Done()

	dispatchID := uuid.NewString()
	ctx, span := c.tracer.Start(ctx, string(op))
	defer span.End()

	value, err := c.dispatch(ctx, op, template, params, opts, true)
	if err != nil {
		wrapped := fmt.Errorf("error doing request in %s: %w", op, err)
		span.RecordError(wrapped)
		c.logger.Error(wrapped, "request failed", "op", op, "template", template, "dispatchId", dispatchID)
		return nil, wrapped
	}
	c.logger.V(1).Info("request ok", "op", op, "template", template, "dispatchId", dispatchID)
	return value, nil
}

func (c *Client) dispatch(ctx context.Context, op schema.Operation, template string, params Params, opts CallOptions, allowCache bool) (any, error) {
	descriptor, ok := c.opts.Catalog.Lookup(template, op)
	if !ok {
		return nil, fmt.Errorf("error no schemas found for %s", template)
	}

	validateEnabled := c.effectiveValidate(opts)

	builtURL, err := c.buildURL(ctx, op, descriptor, template, params, validateEnabled)
	if err != nil {
		return nil, err
	}

	headers := c.mergeHeaders(opts.Headers)
	var bodyBytes []byte
	if op == schema.Post || op == schema.Put || op == schema.Patch {
		bodyBytes, headers, err = c.serializeBody(ctx, descriptor, params.Body, headers, validateEnabled)
		if err != nil {
			return nil, err
		}
	}

	if op == schema.Get && allowCache {
		cacheRequest := descriptor.DefaultCacheRequest
		if opts.CacheRequest != nil {
			cacheRequest = *opts.CacheRequest
		}
		if cacheRequest {
			return c.dispatchCached(ctx, op, template, params, opts, descriptor, builtURL, headers)
		}
	}

	result, err := c.invoke(ctx, op, builtURL, headers, bodyBytes, opts)
	if err != nil {
		return nil, err
	}

	if op == schema.Download {
		return result, nil
	}
	if descriptor.Response != nil && validateEnabled {
		validated, verr := validate.Run(ctx, descriptor.Response, result)
		if verr != nil {
			return nil, verr
		}
		return validated, nil
	}
	return result, nil
}

func (c *Client) dispatchCached(ctx context.Context, op schema.Operation, template string, params Params, opts CallOptions, descriptor schema.Descriptor, builtURL string, headers map[string]string) (any, error) {
	key := cache.Key(builtURL, headers)
	ttl := opts.CacheTTL
	if ttl <= 0 && descriptor.DefaultCacheTTLMs > 0 {
		ttl = time.Duration(descriptor.DefaultCacheTTLMs) * time.Millisecond
	}

	loaderOpts := opts
	disabled := false
	loaderOpts.CacheRequest = &disabled

	value, err := c.cache.Get(ctx, key, func(ctx context.Context) (any, error) {
		return c.dispatch(ctx, op, template, params, loaderOpts, false)
	}, ttl)
	if err != nil {
		return nil, fmt.Errorf("error getting cached response in %s: %w", op, err)
	}
	return value, nil
}

func (c *Client) invoke(ctx context.Context, op schema.Operation, url string, headers map[string]string, body []byte, opts CallOptions) (any, error) {
	timeout := c.effectiveTimeout(opts)
	policy := c.effectiveRetryPolicy(opts)
	classify := defaultClassifier(policy)

	result, err := retry.Do(ctx, retry.Policy{MaxAttempts: policy.MaxAttempts, Delay: policy.Delay, Classify: classify}, func(attemptCtx context.Context) (any, error) {
		timeoutToken := cancel.NewTimeoutToken(attemptCtx, timeout)
		merged := cancel.Merge(timeoutToken, cancel.NewToken(attemptCtx), c.clientToken)
		callCtx := attemptCtx
		if merged != nil {
			callCtx = merged.Context()
		}
		value, callErr := c.transportCall(callCtx, op, url, headers, body)
		if callErr != nil && timeoutToken != nil && timeoutToken.Aborted() {
			if timeoutErr, ok := timeoutToken.Reason().(*errs.TimeoutError); ok {
				return nil, timeoutErr.WithCause(callErr)
			}
		}
		return value, callErr
	})
	return result, err
}

func (c *Client) transportCall(ctx context.Context, op schema.Operation, url string, headers map[string]string, body []byte) (any, error) {
	req := transport.Request{Headers: headers, Body: body, Credentials: c.opts.CredentialsMode, Mode: c.opts.Mode}

	var resp *transport.Response
	var err error
	switch op {
	case schema.Get, schema.Download:
		resp, err = c.transport.Get(ctx, url, req)
	case schema.Post:
		resp, err = c.transport.Post(ctx, url, req)
	case schema.Put:
		resp, err = c.transport.Put(ctx, url, req)
	case schema.Patch:
		resp, err = c.transport.Patch(ctx, url, req)
	case schema.Delete:
		resp, err = c.transport.Delete(ctx, url, req)
	default:
		return nil, fmt.Errorf("error unsupported operation %s", op)
	}
	if err != nil {
		return nil, err
	}
	if op == schema.Download {
		return resp.RawBody(), nil
	}
	return decode.Decode(resp)
}

func (c *Client) serializeBody(ctx context.Context, descriptor schema.Descriptor, body any, headers map[string]string, validateEnabled bool) ([]byte, map[string]string, error) {
	if descriptor.Request != nil && validateEnabled {
		validated, err := validate.Run(ctx, descriptor.Request, body)
		if err != nil {
			return nil, headers, err
		}
		body = validated
	}
	if body == nil {
		return nil, headers, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, headers, fmt.Errorf("error serializing request body: %w", err)
	}
	if _, exists := headers["Content-Type"]; !exists {
		headers["Content-Type"] = "application/json"
	}
	return raw, headers, nil
}

func (c *Client) buildURL(ctx context.Context, op schema.Operation, descriptor schema.Descriptor, template string, params Params, validateEnabled bool) (string, error) {
	pathParams := params.Path
	if descriptor.Path != nil && descriptor.Path.Schema != nil && validateEnabled {
		validated, err := validate.Run(ctx, descriptor.Path.Schema, params.Path)
		if err != nil {
			return "", err
		}
		if m, ok := validated.(map[string]any); ok {
			pathParams = m
		}
	}

	searchParams := params.Search
	if descriptor.Search != nil && validateEnabled {
		validated, err := validate.Run(ctx, descriptor.Search, params.Search)
		if err != nil {
			return "", err
		}
		if m, ok := validated.(map[string]any); ok {
			searchParams = m
		}
	}

	pathStrings := make(map[string]string, len(pathParams))
	for k, v := range pathParams {
		if s, ok := urlbuild.CoerceScalar(v); ok {
			pathStrings[k] = s
		}
	}

	search := make(map[string]urlbuild.QueryValue, len(searchParams))
	for k, v := range searchParams {
		if v == nil {
			search[k] = urlbuild.Omit
			continue
		}
		if list, ok := v.([]string); ok {
			search[k] = urlbuild.Repeated(list...)
			continue
		}
		if s, ok := urlbuild.CoerceScalar(v); ok {
			search[k] = urlbuild.Scalar(s)
		}
	}

	built, err := urlbuild.Build(template, urlbuild.Params{Path: pathStrings, Search: search})
	if err != nil {
		return "", fmt.Errorf("error constructing URL in %s: %w", op, err)
	}
	return built, nil
}

func (c *Client) effectiveValidate(opts CallOptions) bool {
	if opts.Validate != nil {
		return *opts.Validate
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.opts.DefaultValidation
}

func (c *Client) effectiveTimeout(opts CallOptions) time.Duration {
	if opts.Timeout != nil {
		return *opts.Timeout
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.opts.DefaultTimeout
}

func (c *Client) effectiveRetryPolicy(opts CallOptions) RetryPolicy {
	if opts.Retry != nil {
		return *opts.Retry
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.opts.DefaultRetry
}

func (c *Client) mergeHeaders(callHeaders map[string]string) map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	merged := make(map[string]string, len(c.opts.DefaultHeaders)+len(callHeaders))
	for k, v := range c.opts.DefaultHeaders {
		merged[k] = v
	}
	for k, v := range callHeaders {
		merged[k] = v
	}
	return merged
}

// defaultClassifier builds the default retry classifier, applied in order
// with first match winning.
func defaultClassifier(policy RetryPolicy) func(error) retry.Decision {
	return func(err error) retry.Decision {
		if errs.Is[*errs.TimeoutError](err) {
			return retry.Retry
		}
		if errs.Is[*errs.AbortError](err) {
			return retry.Stop
		}
		if errors.Is(err, transport.ErrHostCall) {
			return retry.Retry
		}
		if httpErr := errs.Unwrap[*errs.HTTPError](err); httpErr != nil {
			if containsStatus(policy.IgnoreStatusCodes, httpErr.StatusCode) {
				return retry.Stop
			}
			if containsStatus(policy.StatusCodes, httpErr.StatusCode) {
				return retry.Retry
			}
			return retry.Stop
		}
		return retry.Stop
	}
}

func containsStatus(set []int, status int) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}
