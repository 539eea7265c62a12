package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/errors"
)

// sinkGate forwards tokens of one synthesis attempt to the caller's sink.
// Sends of one attempt are serialised and the gate rejects tokens once
// closed, so an attempt that outlives its deadline cannot stream into the
// next one. Closing never waits for a send in progress; the caller's sink
// must tolerate that one late write.
type sinkGate struct {
	mu     sync.Mutex
	sink   core.TokenSink
	closed atomic.Bool
}

func newSinkGate(sink core.TokenSink) *sinkGate {
	return &sinkGate{sink: sink}
}

func (g *sinkGate) send(ctx context.Context, token string) error {
	if g.closed.Load() {
		return errSinkClosed()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed.Load() {
		return errSinkClosed()
	}
	if err := ctx.Err(); err != nil {
		return errors.New(errors.CodeTimeout, "stream attempt ended", err)
	}
	return g.sink(ctx, token)
}

func (g *sinkGate) close() {
	g.closed.Store(true)
}

func errSinkClosed() error {
	return errors.New(errors.CodeInternal, "stream sink closed", nil)
}
