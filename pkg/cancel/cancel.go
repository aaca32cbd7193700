// Package cancel composes cancellation sources on top of context.Context: a
// Token is a thin pairing of a context with the reason that triggered its
// cancellation, something context.Context itself doesn't retain beyond
// ctx.Err().
package cancel

import (
	"context"
	"sync"
	"time"

	"github.com/cexll/schemafetch-go/pkg/errs"
)

// Token is a one-shot cancellation source with a capturable reason.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	reason error
}

// NewToken wraps an existing context as a Token. The Token owns no cancel
// function: Done() and Aborted() follow ctx, and Cancel only records a
// reason.
func NewToken(ctx context.Context) *Token {
	return &Token{ctx: ctx}
}

// Done returns the channel that closes when the token is aborted.
func (t *Token) Done() <-chan struct{} {
	if t.ctx == nil {
		return nil
	}
	return t.ctx.Done()
}

// Context returns the underlying context, for passing to transport calls.
func (t *Token) Context() context.Context {
	if t.ctx == nil {
		return context.Background()
	}
	return t.ctx
}

// Aborted reports whether the token has already fired.
func (t *Token) Aborted() bool {
	if t.ctx == nil {
		return false
	}
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

// Reason returns the error that triggered cancellation, if known.
func (t *Token) Reason() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reason != nil {
		return t.reason
	}
	if t.ctx != nil {
		return context.Cause(t.ctx)
	}
	return nil
}

func (t *Token) setReason(err error) {
	t.mu.Lock()
	if t.reason == nil {
		t.reason = err
	}
	t.mu.Unlock()
}

// NewTimeoutToken returns nil when ms is zero or negative. Otherwise it
// builds a Token that fires a *errs.TimeoutError as its Reason once the
// duration elapses, and cancels its underlying timer as soon as the token
// fires for any reason (context.WithTimeoutCause already guarantees this).
func NewTimeoutToken(parent context.Context, ms time.Duration) *Token {
	if ms <= 0 {
		return nil
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancelFn := context.WithTimeoutCause(parent, ms,
		errs.NewTimeoutError("error request timed out after "+ms.String()))
	return &Token{ctx: ctx, cancel: cancelFn}
}

// NewAbortToken wraps a caller-supplied context whose cancellation should
// surface as *errs.AbortError when no more specific reason is known.
func NewAbortToken(parent context.Context) *Token {
	if parent == nil {
		return nil
	}
	ctx, cancelFn := context.WithCancel(parent)
	tok := &Token{ctx: ctx, cancel: cancelFn}
	go func() {
		<-ctx.Done()
		tok.setReason(errs.NewAbortError("error signal triggered with unknown reason"))
	}()
	return tok
}

// Cancel fires the token, if it owns a cancel function, recording reason.
func (t *Token) Cancel(reason error) {
	if t == nil {
		return
	}
	t.setReason(reason)
	if t.cancel != nil {
		t.cancel()
	}
}

// Merge drops nil inputs and returns nil if none remain, the sole input if
// exactly one remains, or a new Token that aborts with the first input's
// reason to reach aborted state. Subscriber goroutines are detached as soon
// as the merge resolves so they don't leak past the first trigger.
func Merge(tokens ...*Token) *Token {
	live := make([]*Token, 0, len(tokens))
	for _, tok := range tokens {
		if tok != nil {
			live = append(live, tok)
		}
	}
	if len(live) == 0 {
		return nil
	}
	if len(live) == 1 {
		return live[0]
	}

	ctx, cancelFn := context.WithCancel(context.Background())
	merged := &Token{ctx: ctx, cancel: cancelFn}

	done := make(chan *Token, len(live))
	stop := make(chan struct{})
	var once sync.Once

	for _, tok := range live {
		go func(tok *Token) {
			select {
			case <-tok.Done():
				select {
				case done <- tok:
				case <-stop:
				}
			case <-stop:
			}
		}(tok)
	}

	go func() {
		winner := <-done
		once.Do(func() {
			close(stop)
			reason := winner.Reason()
			if reason == nil {
				reason = errs.NewAbortError("error signal triggered with unknown reason")
			}
			merged.setReason(reason)
			cancelFn()
		})
	}()

	return merged
}
