package gemini

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
)

// The round robin counter starts over once it passes this value.
const maxWorkerIndex = 0x7ffff

const workerQueueSize = 16

// A job is a parsed request waiting for a worker.
type job struct {
	ctx     context.Context
	req     *Request
	handler Handler
	done    chan *Response
}

// pool runs handlers on a fixed set of worker goroutines. Jobs are spread
// over the workers in round robin order.
type pool struct {
	queues []chan job
	index  atomic.Int64
	logger logr.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func newPool(workers int, logger logr.Logger) *pool {
	if workers < 1 {
		workers = 1
	}
	p := &pool{
		queues: make([]chan job, workers),
		logger: logger,
	}
	for i := range p.queues {
		p.queues[i] = make(chan job, workerQueueSize)
		p.wg.Add(1)
		go p.work(i, p.queues[i])
	}
	return p
}

// nextIndex returns the worker for the next job.
func (p *pool) nextIndex() int {
	for {
		index := p.index.Load()
		next := index + 1
		if next > maxWorkerIndex {
			next = 0
		}
		if p.index.CompareAndSwap(index, next) {
			return int(index % int64(len(p.queues)))
		}
	}
}

// dispatch queues the request on the next worker and waits for the
// handler's response. It returns false if the pool is closed or ctx is
// done first.
func (p *pool) dispatch(ctx context.Context, h Handler, req *Request) (*Response, bool) {
	j := job{ctx: ctx, req: req, handler: h, done: make(chan *Response, 1)}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, false
	}
	select {
	case p.queues[p.nextIndex()] <- j:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return nil, false
	}

	select {
	case resp := <-j.done:
		return resp, true
	case <-ctx.Done():
		return nil, false
	}
}

func (p *pool) work(id int, queue <-chan job) {
	defer p.wg.Done()
	for j := range queue {
		j.done <- p.run(id, j)
	}
}

// run calls the handler, turning a panic into a temporary failure.
func (p *pool) run(id int, j job) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(nil, "handler panic", "worker", id, "panic", r, "path", j.req.Path(), "stack", string(debug.Stack()))
			resp = StatusResponse(StatusTemporaryFailure, "Internal server error")
		}
	}()
	if j.ctx.Err() != nil {
		return nil
	}
	resp = j.handler.ServeGemini(j.ctx, j.req)
	if resp == nil {
		resp = StatusResponse(StatusNotFound, "Not found")
	}
	return resp
}

// close stops accepting jobs and waits for the workers to drain their
// queues.
func (p *pool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
