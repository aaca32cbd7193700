// Package sse implements an SSE stream reader: line-oriented
// text/event-stream parsing, auto-reconnect that honors a server-sent
// `retry:` field, and typed event dispatch keyed by a declared
// event-name-to-schema map.
package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/cexll/schemafetch-go/pkg/cancel"
	"github.com/cexll/schemafetch-go/pkg/validate"
)

// Event is the discriminated envelope delivered to a Handler: Type is one
// of the declared event names, Data is the (optionally validated) payload
// bound to that name.
type Event struct {
	Type string
	Data any
}

// Handler receives stream events in arrival order. The reader awaits the
// handler before parsing the next block, so a handler that blocks applies
// backpressure to the whole stream.
type Handler func(err error, event *Event)

// Options configures a single Open call.
type Options struct {
	// Timeout bounds the initial connection attempt only; once opened, a
	// stream reads indefinitely until closed or cancelled.
	Timeout time.Duration
	Signal  context.Context
	// ErrorUnknownType delivers (err, nil) to Handler for event names not
	// present in the events schema map. Otherwise such events are dropped
	// silently.
	ErrorUnknownType bool
	// Validate enables per-event schema validation of decoded payloads.
	Validate bool
	// Headers are merged on top of Accept/Connection/Last-Event-ID.
	Headers map[string]string
	// Credentials mirrors fetch's credentials mode. The reader does not
	// consult it: whether cookies are sent depends only on httpClient's
	// cookie jar.
	Credentials string
}

const defaultReconnectDelay = time.Second

// Reader holds the reconnect state (lastEventId, reconnectDelay,
// closedByUser) for one SSE subscription.
type Reader struct {
	httpClient *http.Client
	url        string
	opts       Options
	events     map[string]validate.Schema
	handler    Handler

	lastEventID    atomic.Value // string
	reconnectDelay atomic.Int64 // time.Duration
	closedByUser   atomic.Bool

	lifeToken *cancel.Token
	ownCancel context.CancelFunc

	wg sync.WaitGroup
}

// Open starts an SSE subscription and returns a close function once the
// first connection attempt succeeds. It returns an error if the connection
// could not be established before opts.Timeout (or any cancellation
// source) fires first.
func Open(parent context.Context, httpClient *http.Client, url string, events map[string]validate.Schema, handler Handler, opts Options, clientToken *cancel.Token) (func(), error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if parent == nil {
		parent = context.Background()
	}

	ownCtx, ownCancel := context.WithCancel(parent)
	ownToken := cancel.NewToken(ownCtx)

	var signalToken *cancel.Token
	if opts.Signal != nil {
		signalToken = cancel.NewToken(opts.Signal)
	}
	lifeToken := cancel.Merge(ownToken, signalToken, clientToken)
	if lifeToken == nil {
		lifeToken = ownToken
	}

	r := &Reader{
		httpClient: httpClient,
		url:        url,
		opts:       opts,
		events:     events,
		handler:    handler,
		lifeToken:  lifeToken,
		ownCancel:  ownCancel,
	}
	r.lastEventID.Store("")
	delay := defaultReconnectDelay
	if opts.Timeout < 0 {
		delay = defaultReconnectDelay
	}
	r.reconnectDelay.Store(int64(delay))

	// The first body is read under connCtx after Open returns, so the
	// timeout may cancel it only while the connection is being opened.
	connCtx, connCancel := context.WithCancel(lifeToken.Context())
	var openTimer *time.Timer
	if opts.Timeout > 0 {
		openTimer = time.AfterFunc(opts.Timeout, connCancel)
	}

	resp, err := r.connect(connCtx)
	if err == nil && openTimer != nil && !openTimer.Stop() {
		resp.Body.Close()
		err = context.DeadlineExceeded
	}
	if err != nil {
		connCancel()
		ownCancel()
		return nil, fmt.Errorf("error opening SSE: %w", err)
	}

	r.wg.Add(1)
	go func() {
		r.readLoop(resp)
		connCancel()
	}()

	return r.Close, nil
}

// Close terminates the subscription; the reconnect loop observes
// closedByUser and does not reopen after the current read ends.
func (r *Reader) Close() {
	r.closedByUser.Store(true)
	r.ownCancel()
	r.wg.Wait()
}

func (r *Reader) connect(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Connection", "keep-alive")
	if id, _ := r.lastEventID.Load().(string); id != "" {
		req.Header.Set("Last-Event-ID", id)
	}
	for k, v := range r.opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("sse status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// readLoop owns the reconnect cycle: consume one connection to
// completion, then (unless closed or cancelled) sleep reconnectDelay and
// reopen, sending Last-Event-ID on the next attempt.
func (r *Reader) readLoop(first *http.Response) {
	defer r.wg.Done()
	resp := first
	for {
		r.consume(resp)

		if r.closedByUser.Load() || r.lifeToken.Aborted() {
			return
		}

		delay := time.Duration(r.reconnectDelay.Load())
		select {
		case <-time.After(delay):
		case <-r.lifeToken.Done():
			return
		}

		next, err := r.connect(r.lifeToken.Context())
		if err != nil {
			if r.closedByUser.Load() || r.lifeToken.Aborted() {
				return
			}
			continue
		}
		resp = next
	}
}

// consume reads one connection's body to EOF or error, dispatching events
// as complete blocks arrive.
func (r *Reader) consume(resp *http.Response) {
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	eventName := "message"
	var dataLines []string

	flush := func() {
		if len(dataLines) == 0 {
			eventName = "message"
			return
		}
		r.dispatch(eventName, strings.Join(dataLines, "\n"))
		eventName = "message"
		dataLines = nil
	}

	for {
		if r.closedByUser.Load() || r.lifeToken.Aborted() {
			return
		}
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		if line == "" && err == nil {
			flush()
			continue
		}
		if line != "" {
			r.parseLine(line, &eventName, &dataLines)
		}
		if err != nil {
			flush()
			return
		}
	}
}

func (r *Reader) parseLine(line string, eventName *string, dataLines *[]string) {
	switch {
	case strings.HasPrefix(line, ":"):
		// comment line, ignored
	case strings.HasPrefix(line, "event:"):
		*eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
	case strings.HasPrefix(line, "id:"):
		r.lastEventID.Store(strings.TrimSpace(strings.TrimPrefix(line, "id:")))
	case strings.HasPrefix(line, "retry:"):
		if n, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "retry:")), 10, 64); err == nil && n > 0 {
			r.reconnectDelay.Store(int64(time.Duration(n) * time.Millisecond))
		}
	case strings.HasPrefix(line, "data:"):
		*dataLines = append(*dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
	default:
		// unrecognized field name, ignored
	}
}

func (r *Reader) dispatch(eventName, data string) {
	schema, known := r.events[eventName]
	if !known {
		if r.opts.ErrorUnknownType {
			r.handler(errors.New("unknown event-type"), nil)
		}
		return
	}

	if !gjson.Valid(data) {
		r.handler(fmt.Errorf("error parsing SSE: %w", errors.New("invalid JSON payload")), nil)
		return
	}
	var payload any
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		r.handler(fmt.Errorf("error parsing SSE: %w", err), nil)
		return
	}

	if r.opts.Validate && schema != nil {
		value, err := validate.Run(r.lifeToken.Context(), schema, payload)
		if err != nil {
			r.handler(err, nil)
			return
		}
		payload = value
	}

	r.handler(nil, &Event{Type: eventName, Data: payload})
}
