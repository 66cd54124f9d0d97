package completion

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"chatcore/internal/domain"
)

// MaxInflightAutoInvokes caps the number of nested auto-invoked functions in
// one call chain. A completion started from inside a function when the cap is
// reached still runs, but returns tool calls to its caller unexecuted.
const MaxInflightAutoInvokes = 128

// callChain is the state shared by every completion started from one
// top-level call, including completions started by functions it invokes.
type callChain struct {
	id       string
	inflight atomic.Int32
}

type chainCtxKey struct{}

func chainFromContext(ctx context.Context) *callChain {
	c, _ := ctx.Value(chainCtxKey{}).(*callChain)
	return c
}

// withCallChain returns ctx carrying a call chain. A chain already on ctx is
// reused so nested completions count against the same ceiling; otherwise a new
// chain is started.
func withCallChain(ctx context.Context) (context.Context, *callChain) {
	if c := chainFromContext(ctx); c != nil {
		return ctx, c
	}
	c := &callChain{id: newChainID()}
	ctx = context.WithValue(ctx, chainCtxKey{}, c)
	return domain.ContextWithChainID(ctx, c.id), c
}

// enter marks one function invocation in flight. The returned func must be
// called exactly once when the invocation ends.
func (c *callChain) enter() func() {
	c.inflight.Add(1)
	var done atomic.Bool
	return func() {
		if done.CompareAndSwap(false, true) {
			c.inflight.Add(-1)
		}
	}
}

func (c *callChain) canAutoInvoke() bool {
	return c.inflight.Load() < MaxInflightAutoInvokes
}

// InflightAutoInvokes returns the number of auto-invoked functions currently
// running in the call chain carried by ctx.
func InflightAutoInvokes(ctx context.Context) int {
	if c := chainFromContext(ctx); c != nil {
		return int(c.inflight.Load())
	}
	return 0
}

func newChainID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
