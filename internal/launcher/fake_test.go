package launcher_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CZERTAINLY/nessus-launcher/internal/model"
)

var (
	errUnavailable = errors.New("status 503")
	errNotFound    = errors.New("status 404")
)

// fakeClient replays scripted outcomes per scan id, the last outcome of a
// script repeats forever. It records calls and the peak of concurrent calls.
type fakeClient struct {
	mx      sync.Mutex
	scripts map[model.ScanID][]model.Outcome
	latency map[model.ScanID]time.Duration
	calls   map[model.ScanID]int

	active atomic.Int32
	peak   atomic.Int32
	total  atomic.Int32
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		scripts: make(map[model.ScanID][]model.Outcome),
		latency: make(map[model.ScanID]time.Duration),
		calls:   make(map[model.ScanID]int),
	}
}

func (c *fakeClient) script(id model.ScanID, outcomes ...model.Outcome) *fakeClient {
	c.scripts[id] = outcomes
	return c
}

func (c *fakeClient) slow(id model.ScanID, d time.Duration) *fakeClient {
	c.latency[id] = d
	return c
}

func (c *fakeClient) Launch(ctx context.Context, id model.ScanID) model.Outcome {
	n := c.active.Add(1)
	defer c.active.Add(-1)
	c.total.Add(1)
	for {
		old := c.peak.Load()
		if n <= old || c.peak.CompareAndSwap(old, n) {
			break
		}
	}

	c.mx.Lock()
	call := c.calls[id]
	c.calls[id]++
	script := c.scripts[id]
	latency := c.latency[id]
	c.mx.Unlock()

	if latency > 0 {
		select {
		case <-ctx.Done():
			return model.Retryable(ctx.Err())
		case <-time.After(latency):
		}
	}

	if len(script) == 0 {
		return model.Success("uuid-" + id.String())
	}
	if call >= len(script) {
		call = len(script) - 1
	}
	return script[call]
}

func (c *fakeClient) callsOf(id model.ScanID) int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.calls[id]
}
