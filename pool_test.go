package gemini

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

func TestPoolRoundRobin(t *testing.T) {
	p := newPool(3, logr.Discard())
	defer p.close()

	var got []int
	for i := 0; i < 7; i++ {
		got = append(got, p.nextIndex())
	}
	require.Equal(t, []int{0, 1, 2, 0, 1, 2, 0}, got)
}

func TestPoolIndexWraps(t *testing.T) {
	p := newPool(4, logr.Discard())
	defer p.close()

	p.index.Store(maxWorkerIndex)
	require.Equal(t, maxWorkerIndex%4, p.nextIndex())
	require.EqualValues(t, 0, p.index.Load())
	require.Equal(t, 0, p.nextIndex())
}

func TestPoolDispatch(t *testing.T) {
	p := newPool(2, logr.Discard())
	defer p.close()

	h := HandlerFunc(func(ctx context.Context, r *Request) *Response {
		return Success("text/plain", []byte(r.Path()))
	})
	resp, ok := p.dispatch(context.Background(), h, newRequest(t, "gemini://example.com/a"))
	require.True(t, ok)
	require.Equal(t, "/a", string(resp.Body))
}

func TestPoolNilResponse(t *testing.T) {
	p := newPool(1, logr.Discard())
	defer p.close()

	resp, ok := p.dispatch(context.Background(), &nopHandler{}, newRequest(t, "gemini://example.com/"))
	require.True(t, ok)
	status, meta := statusLine(resp)
	require.Equal(t, StatusNotFound, status)
	require.Equal(t, "Not found", meta)
}

func TestPoolPanic(t *testing.T) {
	p := newPool(1, logr.Discard())
	defer p.close()

	h := HandlerFunc(func(context.Context, *Request) *Response {
		panic("boom")
	})
	resp, ok := p.dispatch(context.Background(), h, newRequest(t, "gemini://example.com/"))
	require.True(t, ok)
	status, _ := statusLine(resp)
	require.Equal(t, StatusTemporaryFailure, status)

	// The worker survives.
	resp, ok = p.dispatch(context.Background(), StatusHandler(StatusGone, "Gone"), newRequest(t, "gemini://example.com/"))
	require.True(t, ok)
	status, _ = statusLine(resp)
	require.Equal(t, StatusGone, status)
}

func TestPoolCanceled(t *testing.T) {
	p := newPool(1, logr.Discard())
	defer p.close()

	block := make(chan struct{})
	defer close(block)
	h := HandlerFunc(func(context.Context, *Request) *Response {
		<-block
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := p.dispatch(ctx, h, newRequest(t, "gemini://example.com/"))
	require.False(t, ok)
}

func TestPoolClosed(t *testing.T) {
	p := newPool(2, logr.Discard())
	p.close()
	p.close()

	_, ok := p.dispatch(context.Background(), &nopHandler{}, newRequest(t, "gemini://example.com/"))
	require.False(t, ok)
}
