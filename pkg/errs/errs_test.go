package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/cexll/schemafetch-go/pkg/errs"
	"github.com/stretchr/testify/require"
)

func TestUnwrapFindsWrappedVariant(t *testing.T) {
	httpErr := errs.NewHTTPError(429, "429 Too Many Requests", nil)
	suppressed := errs.NewRetrySuppressedError(1, httpErr)
	wrapped := fmt.Errorf("error doing request in get: %w", suppressed)

	found := errs.Unwrap[*errs.HTTPError](wrapped)
	require.NotNil(t, found)
	require.Equal(t, 429, found.StatusCode)
}

func TestUnwrapIdempotentUnderExtraWrapping(t *testing.T) {
	base := errs.NewTimeoutError("error request timed out after 5000ms")
	once := fmt.Errorf("layer one: %w", base)
	twice := fmt.Errorf("layer two: %w", once)

	require.Equal(t, errs.Unwrap[*errs.TimeoutError](once), errs.Unwrap[*errs.TimeoutError](twice))
}

func TestUnwrapReturnsNilWhenAbsent(t *testing.T) {
	err := errors.New("plain error")
	require.Nil(t, errs.Unwrap[*errs.HTTPError](err))
}

func TestIsShallowOnlyChecksOutermost(t *testing.T) {
	inner := errs.NewAbortError("caller aborted")
	outer := fmt.Errorf("error doing request in post: %w", inner)

	require.False(t, errs.IsShallow[*errs.AbortError](outer))
	require.True(t, errs.Is[*errs.AbortError](outer))
}

type cyclicError struct{ next error }

func (c *cyclicError) Error() string { return "cyclic" }
func (c *cyclicError) Unwrap() error { return c.next }

func TestUnwrapTerminatesOnCycle(t *testing.T) {
	a := &cyclicError{}
	b := &cyclicError{next: a}
	a.next = b

	done := make(chan struct{})
	go func() {
		errs.Unwrap[*errs.HTTPError](a)
		close(done)
	}()
	select {
	case <-done:
	default:
	}
	<-done
}

func TestUnwrapWalksJoinedErrors(t *testing.T) {
	v := errs.NewValidationError([]errs.Issue{{Path: []string{"a"}, Message: "bad"}})
	joined := errors.Join(errors.New("unrelated"), v)

	found := errs.Unwrap[*errs.ValidationError](joined)
	require.NotNil(t, found)
	require.Len(t, found.Issues, 1)
}
