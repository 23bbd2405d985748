package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	err := NewError(CodeCommitUnknownResult)
	assert.Equal(t, "commit_unknown_result (1021)", err.Error())
	assert.Equal(t, "not_committed (1020): conflict on k", (&Error{Code: CodeNotCommitted, Msg: "conflict on k"}).Error())
	assert.Equal(t, "unknown_error", CodeName(9999))

	wrapped := pkgerrors.Wrap(err, "commit")
	assert.Equal(t, CodeCommitUnknownResult, Code(wrapped))
	assert.True(t, IsCommitUnknown(wrapped))
	assert.True(t, errors.Is(wrapped, NewError(CodeCommitUnknownResult)))
	assert.False(t, errors.Is(wrapped, NewError(CodeNotCommitted)))
	assert.Equal(t, 0, Code(errors.New("plain")))
}

func TestIsRetryable(t *testing.T) {
	for _, code := range []int{1007, 1009, 1020, 1021, 1037} {
		assert.True(t, IsRetryable(NewError(code)), "code %d", code)
	}
	for _, code := range []int{1031, 1101, 4100} {
		assert.False(t, IsRetryable(NewError(code)), "code %d", code)
	}
	assert.False(t, IsRetryable(errors.New("io")))
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		max     time.Duration
	}{
		{0, 10 * time.Millisecond},
		{1, 20 * time.Millisecond},
		{3, 80 * time.Millisecond},
		{6, 640 * time.Millisecond},
		{7, time.Second},
		{50, time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.attempt), func(t *testing.T) {
			for range 20 {
				d := Backoff(tt.attempt)
				assert.GreaterOrEqual(t, d, tt.max/2)
				assert.LessOrEqual(t, d, tt.max)
			}
		})
	}
}

func TestPromise(t *testing.T) {
	p := NewPromise()
	select {
	case <-p.Done():
		t.Fatal("promise resolved early")
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)

	boom := errors.New("boom")
	p.Resolve(boom)
	p.Resolve(nil)
	assert.Equal(t, boom, p.Wait(context.Background()), "first resolution wins")
	assert.NoError(t, Resolved(nil).Wait(context.Background()))
}

func TestBuffer(t *testing.T) {
	var b Buffer
	b.Get([]byte("a"))
	b.GetRange([]byte("a"), []byte("b"), 50)
	b.Set([]byte("a"), []byte("v"))
	b.Clear([]byte("a"))
	b.ClearRange([]byte("a"), []byte("b"))

	ops := b.Snapshot()
	require.Len(t, ops, 5)
	kinds := make([]string, len(ops))
	for i, op := range ops {
		kinds[i] = op.Kind.String()
	}
	assert.Equal(t, []string{"get", "get_range", "set", "clear", "clear_range"}, kinds)
	assert.Equal(t, 50, ops[1].Limit)
	assert.False(t, OpGetRange.IsWrite())
	assert.True(t, OpClearRange.IsWrite())

	b.Reset()
	assert.Empty(t, b.Ops)
	assert.Len(t, ops, 5, "snapshot is independent")
}

func TestHandleError(t *testing.T) {
	var resets atomic.Int32
	reset := func() { resets.Add(1) }

	err := HandleError(NewError(CodeNotCommitted), 0, reset).Wait(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int32(1), resets.Load())

	fatal := NewError(CodeInternalError)
	err = HandleError(fatal, 0, reset).Wait(context.Background())
	assert.Equal(t, fatal, err)
	assert.Equal(t, int32(1), resets.Load(), "non-retryable errors do not reset")
}

func TestRegistry(t *testing.T) {
	Register("test-registry", func(context.Context, AdapterConfig) (Client, error) {
		return nil, errors.New("opened")
	})
	assert.Contains(t, Adapters(), "test-registry")

	_, err := Open(context.Background(), AdapterConfig{Name: "test-registry"})
	assert.EqualError(t, err, "opened")

	_, err = Open(context.Background(), AdapterConfig{Name: "nope"})
	assert.ErrorContains(t, err, `unknown store adapter "nope"`)

	assert.Panics(t, func() {
		Register("test-registry", func(context.Context, AdapterConfig) (Client, error) { return nil, nil })
	})
}
