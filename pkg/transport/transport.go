// Package transport implements a thin HTTP verb adapter: it joins baseUrl
// to a request path, delegates to the host's HTTP primitive, and classifies
// the outcome into a wrapped transport error, an *errs.HTTPError for
// non-2xx, or a successful response. It never retries or times out on its
// own; that's pkg/retry's and pkg/cancel's job.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/cexll/schemafetch-go/pkg/errs"
)

// ErrHostCall marks a failure in the underlying HTTP primitive itself
// (request construction, round-trip, or body read) rather than an HTTP
// status-level rejection. pkg/client's default retry classifier treats
// errors.Is(err, ErrHostCall) as the network-shaped-failure case.
var ErrHostCall = errors.New("error wrap host-call")

// Request is the host-agnostic request description a Transport verb
// method accepts.
type Request struct {
	Headers     map[string]string
	Body        []byte
	Credentials string // "", "same-origin", "include", "omit"
	Mode        string
}

// Response adapts *http.Response to pkg/decode.Response and exposes the
// raw body for download operations that bypass decoding entirely.
type Response struct {
	status int
	header http.Header
	body   []byte
}

func (r *Response) StatusCode() int           { return r.status }
func (r *Response) Status() string            { return http.StatusText(r.status) }
func (r *Response) Header(name string) string { return r.header.Get(name) }
func (r *Response) Body() io.Reader           { return bytes.NewReader(r.body) }
func (r *Response) RawBody() []byte           { return r.body }
func (r *Response) OK() bool                  { return r.status >= 200 && r.status < 300 }

// Transport exposes the full HTTP verb set a Client needs.
type Transport struct {
	baseURL    string
	httpClient *http.Client
	defaults   map[string]string
}

// Options configures a Transport.
type Options struct {
	BaseURL         string
	HTTPClient      *http.Client
	DefaultHeaders  map[string]string
	CredentialsMode string
}

// New builds a Transport. When CredentialsMode is "include" it attaches a
// cookie jar backed by golang.org/x/net/publicsuffix, mirroring fetch's
// `credentials: 'include'`.
func New(opts Options) (*Transport, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if opts.CredentialsMode == "include" && client.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("error constructing cookie jar: %w", err)
		}
		client.Jar = jar
	}
	return &Transport{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		httpClient: client,
		defaults:   opts.DefaultHeaders,
	}, nil
}

// HTTPClient exposes the underlying *http.Client for pkg/sse, which needs
// raw streaming access the verb methods don't provide.
func (t *Transport) HTTPClient() *http.Client { return t.httpClient }

// BaseURL returns the transport's configured base URL.
func (t *Transport) BaseURL() string { return t.baseURL }

func (t *Transport) Get(ctx context.Context, path string, req Request) (*Response, error) {
	return t.do(ctx, http.MethodGet, path, req)
}
func (t *Transport) Post(ctx context.Context, path string, req Request) (*Response, error) {
	return t.do(ctx, http.MethodPost, path, req)
}
func (t *Transport) Put(ctx context.Context, path string, req Request) (*Response, error) {
	return t.do(ctx, http.MethodPut, path, req)
}
func (t *Transport) Patch(ctx context.Context, path string, req Request) (*Response, error) {
	return t.do(ctx, http.MethodPatch, path, req)
}
func (t *Transport) Delete(ctx context.Context, path string, req Request) (*Response, error) {
	return t.do(ctx, http.MethodDelete, path, req)
}

func (t *Transport) do(ctx context.Context, method, path string, req Request) (*Response, error) {
	url := joinPath(t.baseURL, path)

	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHostCall, err)
	}
	for k, v := range t.defaults {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHostCall, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHostCall, err)
	}

	out := &Response{status: resp.StatusCode, header: resp.Header, body: raw}
	if !out.OK() {
		return nil, errs.NewHTTPError(out.status, resp.Status, raw)
	}
	return out, nil
}

func joinPath(base, path string) string {
	path = strings.TrimPrefix(path, "/")
	if base == "" {
		return "/" + path
	}
	if path == "" {
		return base
	}
	return base + "/" + path
}
