package service

import (
	"context"
	"sync"
	"time"
)

// call is one in-progress load shared by every caller of the same key.
type call struct {
	done   chan struct{}
	result []byte
	err    error
}

// requestCoalescer collapses concurrent loads of the same key into one store scan.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*call
	timeout  time.Duration
}

// newRequestCoalescer creates a requestCoalescer. timeout bounds both the shared
// load and each caller's wait.
func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*call),
		timeout:  timeout,
	}
}

// Do runs fn once per key among concurrent callers and hands every caller the same
// result. shared is true when the caller joined a load started by another request.
// The load runs detached from the first caller's cancellation so one client
// disconnecting does not fail the others; each caller still stops waiting when its
// own ctx ends.
func (rc *requestCoalescer) Do(ctx context.Context, key string, fn func(context.Context) ([]byte, error)) (result []byte, shared bool, err error) {
	rc.mu.Lock()
	c, exists := rc.inFlight[key]
	if !exists {
		c = &call{done: make(chan struct{})}
		rc.inFlight[key] = c
		rc.mu.Unlock()

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
		go func() {
			defer cancel()
			c.result, c.err = fn(loadCtx)
			rc.cleanup(key)
			close(c.done)
		}()
	} else {
		rc.mu.Unlock()
	}

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-c.done:
		return c.result, exists, c.err
	case <-waitCtx.Done():
		return nil, exists, waitCtx.Err()
	}
}

// cleanup removes the in-flight entry for key so later callers start a fresh load.
func (rc *requestCoalescer) cleanup(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.inFlight, key)
}

// inFlightCount reports the number of keys currently loading.
func (rc *requestCoalescer) inFlightCount() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.inFlight)
}
