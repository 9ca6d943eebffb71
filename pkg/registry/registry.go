package registry

import (
	"fmt"

	"github.com/flowmeshio/flowmesh/pkg/xerrors"
)

// Hooks bundles the runtime operations the registry looks up for a given
// opaque type tag: compare, hash, and serialize/deserialize (spec.md §6).
// The source keyed this by a platform type-info hash; per spec.md §9 this
// rewrite uses a stable string key populated at module init instead, to
// avoid the source's cross-library-identity problems.
type Hooks struct {
	Compare     func(a, b any) (int, error)
	Hash        func(v any) (uint64, error)
	Serialize   func(v any) ([]byte, error)
	Deserialize func(data []byte) (any, error)
	ToString    func(v any) string
}

// Table is the process-wide, string-keyed hook table. Readers (opaque-value
// operations at runtime) vastly outnumber writers (plugin load/unload), so
// lookups and registration are guarded by an RWSpinLock rather than a
// regular mutex.
type Table struct {
	lock  RWSpinLock
	hooks map[string]Hooks
}

// NewTable constructs an empty registry table.
func NewTable() *Table {
	return &Table{hooks: make(map[string]Hooks)}
}

// Register installs (or replaces) the hooks for a type tag. Called from
// module-initialization contexts (writers, infrequent).
func (t *Table) Register(typeTag string, h Hooks) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.hooks[typeTag] = h
}

// Unregister removes the hooks for a type tag, called from plugin-unload
// contexts.
func (t *Table) Unregister(typeTag string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.hooks, typeTag)
}

// Lookup fetches the hooks registered for a type tag. Called from runtime
// opaque-value operations (readers, frequent).
func (t *Table) Lookup(typeTag string) (Hooks, error) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	h, ok := t.hooks[typeTag]
	if !ok {
		return Hooks{}, fmt.Errorf("%w: no hooks registered for type tag %q", xerrors.ErrPluginRegistry, typeTag)
	}
	return h, nil
}

// Len returns the number of registered type tags, for diagnostics and tests.
func (t *Table) Len() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return len(t.hooks)
}
