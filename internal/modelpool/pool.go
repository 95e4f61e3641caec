// Package modelpool owns the process-wide handle to the active LLM backend
// and enforces at-most-one-concurrent-inference per logical device, mirroring
// how a local ONNX runtime session guards a single global API pointer behind
// a device semaphore.
//
// Callers never construct a [Pool] directly; [Init] installs the
// process-global instance once and [Get] returns it. This keeps the
// singleton confined to one package instead of scattering global state
// across the module.
package modelpool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/sauropod-io/sauropod-sub000/pkg/provider/llm"
)

// Pool serializes access to a [llm.Provider] behind a per-device weighted
// semaphore. A device is an opaque string key (e.g. "gpu:0", "cpu"); callers
// with no notion of physical devices should use [DefaultDevice].
type Pool struct {
	provider llm.Provider

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// DefaultDevice is the device key used when a caller has no specific
// physical device to target.
const DefaultDevice = "default"

var (
	once sync.Once
	inst *Pool
)

// Init installs the process-global Pool wrapping provider. Subsequent calls
// are no-ops; the first call wins. Use in cmd/sauropod-serve's startup path
// only — everything else should call [Get].
func Init(provider llm.Provider) *Pool {
	once.Do(func() {
		inst = &Pool{
			provider: provider,
			sems:     make(map[string]*semaphore.Weighted),
		}
	})
	return inst
}

// Get returns the process-global Pool installed by [Init]. It panics if
// called before Init — a programmer error, not a runtime condition callers
// should handle.
func Get() *Pool {
	if inst == nil {
		panic("modelpool: Get called before Init")
	}
	return inst
}

func (p *Pool) semFor(device string) *semaphore.Weighted {
	p.mu.Lock()
	defer p.mu.Unlock()
	sem, ok := p.sems[device]
	if !ok {
		sem = semaphore.NewWeighted(1)
		p.sems[device] = sem
	}
	return sem
}

// StreamCompletion acquires the named device's semaphore, submits req to the
// wrapped provider, and releases the semaphore once the returned channel is
// fully drained or ctx is cancelled — whichever comes first. It never holds
// the semaphore across more than a single in-flight request per device.
func (p *Pool) StreamCompletion(ctx context.Context, device string, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	sem := p.semFor(device)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("modelpool: acquire %s: %w", device, err)
	}

	upstream, err := p.provider.StreamCompletion(ctx, req)
	if err != nil {
		sem.Release(1)
		return nil, err
	}

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		defer sem.Release(1)
		for chunk := range upstream {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Provider returns the wrapped provider directly, for callers (like
// [internal/conversation]'s summariser) that need non-streaming access
// without going through the per-device semaphore.
func (p *Pool) Provider() llm.Provider {
	return p.provider
}
