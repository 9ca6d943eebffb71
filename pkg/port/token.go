package port

import "github.com/flowmeshio/flowmesh/pkg/buffer"

// TokenManager metes out K bounded tokens guarding an output port's async
// message channel. It is, per spec.md §4.4, literally a second
// BufferManager — a slab of K one-byte slots — reused here as a counting
// resource pool rather than a byte pool: acquiring a token is a Front+Pop
// pair, releasing a token is letting the borrowed ManagedBuffer's last
// reference drop, which funnels back through the ordinary external-return
// path.
type TokenManager struct {
	mgr buffer.Manager
}

// NewTokenManager seeds a token manager with k tokens.
func NewTokenManager(k int) (*TokenManager, error) {
	if k <= 0 {
		k = 1
	}
	mgr := buffer.NewSlabManager()
	if err := mgr.Init(buffer.ManagerArgs{NumBuffers: k, BufferSize: 1}); err != nil {
		return nil, err
	}
	return &TokenManager{mgr: mgr}, nil
}

// TryAcquire claims one token without blocking, false if none are
// available.
func (t *TokenManager) TryAcquire() (buffer.ManagedBuffer, bool) {
	if t.mgr.Empty() {
		return buffer.ManagedBuffer{}, false
	}
	tok := t.mgr.Front()
	t.mgr.Pop(1)
	return tok, true
}

// Release returns tok to the pool. Calling it more than once per
// TryAcquire is a caller error (mirrored by ManagedBuffer's own
// release-once guard, which makes the second call a silent no-op).
func (t *TokenManager) Release(tok buffer.ManagedBuffer) {
	tok.Release()
}

// Available reports whether at least one token is currently free.
func (t *TokenManager) Available() bool {
	return !t.mgr.Empty()
}
