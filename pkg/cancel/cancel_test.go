package cancel_test

import (
	"context"
	"testing"
	"time"

	"github.com/cexll/schemafetch-go/pkg/cancel"
	"github.com/cexll/schemafetch-go/pkg/errs"
	"github.com/stretchr/testify/require"
)

func TestNewTimeoutTokenZeroIsNil(t *testing.T) {
	require.Nil(t, cancel.NewTimeoutToken(context.Background(), 0))
	require.Nil(t, cancel.NewTimeoutToken(context.Background(), -1))
}

func TestNewTimeoutTokenFiresTimeoutError(t *testing.T) {
	tok := cancel.NewTimeoutToken(context.Background(), 10*time.Millisecond)
	<-tok.Done()
	require.True(t, tok.Aborted())
	require.NotNil(t, errs.Unwrap[*errs.TimeoutError](tok.Reason()))
}

func TestMergeNilInputsYieldsNil(t *testing.T) {
	require.Nil(t, cancel.Merge(nil, nil))
}

func TestMergeSingleInputReturnsSameToken(t *testing.T) {
	tok := cancel.NewAbortToken(context.Background())
	require.Same(t, tok, cancel.Merge(tok, nil))
}

func TestMergeAbortsWithFirstReason(t *testing.T) {
	a := cancel.NewAbortToken(context.Background())
	b := cancel.NewAbortToken(context.Background())

	merged := cancel.Merge(a, b)
	a.Cancel(errs.NewAbortError("a fired"))

	<-merged.Done()
	require.EqualError(t, merged.Reason(), "a fired")
}

func TestMergeAbortsWithSecondReasonWhenItFiresFirst(t *testing.T) {
	a := cancel.NewAbortToken(context.Background())
	b := cancel.NewAbortToken(context.Background())

	merged := cancel.Merge(a, b)
	b.Cancel(errs.NewAbortError("b fired"))

	<-merged.Done()
	require.EqualError(t, merged.Reason(), "b fired")
}
