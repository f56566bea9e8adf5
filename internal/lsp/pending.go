package lsp

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Call is the future-style handle for an in-flight request. It resolves
// exactly once: with the server's result, a server RPC error, or a
// SessionError when the session crashes or the call is cancelled.
type Call struct {
	id      int64
	method  string
	created time.Time

	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    error
}

func newCall(id int64, method string) *Call {
	return &Call{
		id:      id,
		method:  method,
		created: time.Now(),
		done:    make(chan struct{}),
	}
}

// ID returns the request id, unique and monotonically increasing per session.
func (c *Call) ID() int64 { return c.id }

// Method returns the request method name.
func (c *Call) Method() string { return c.method }

// Done is closed when the call resolves.
func (c *Call) Done() <-chan struct{} { return c.done }

// resolve settles the call. Later resolutions are ignored, which guarantees
// a crash drain and a racing response cannot both reach the caller.
func (c *Call) resolve(result json.RawMessage, err error) {
	c.once.Do(func() {
		c.result = result
		c.err = err
		close(c.done)
	})
}

// Await blocks until the call resolves or ctx expires, unmarshalling the
// result into out when out is non-nil. The inbound reading path is never
// blocked by a waiting caller.
func (c *Call) Await(ctx context.Context, out any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
	}
	if c.err != nil {
		return c.err
	}
	if out != nil && len(c.result) > 0 {
		return json.Unmarshal(c.result, out)
	}
	return nil
}

// pendingTable maps request ids to unresolved calls. It survives across
// asynchronous suspension points and is drained atomically on teardown.
type pendingTable struct {
	mu    sync.Mutex
	calls map[int64]*Call
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[int64]*Call)}
}

func (p *pendingTable) add(c *Call) {
	p.mu.Lock()
	p.calls[c.id] = c
	p.mu.Unlock()
}

// remove takes the call out of the table, returning it if it was present.
// Every request id sent has at most one matching response consumed because
// the first consumer removes the entry.
func (p *pendingTable) remove(id int64) (*Call, bool) {
	p.mu.Lock()
	c, ok := p.calls[id]
	if ok {
		delete(p.calls, id)
	}
	p.mu.Unlock()
	return c, ok
}

// drain removes every pending call and resolves each with err.
func (p *pendingTable) drain(err error) {
	p.mu.Lock()
	calls := p.calls
	p.calls = make(map[int64]*Call)
	p.mu.Unlock()

	for _, c := range calls {
		c.resolve(nil, err)
	}
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
