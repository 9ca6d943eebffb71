//go:build !linux

package buffer

import (
	"fmt"
	"os"
)

// mmapFile on non-Linux platforms falls back to a read/write copy: the
// physical-aliasing and zero-copy guarantees spec.md §4.1 describes for
// circular buffers are Linux-specific (memfd_create + MAP_FIXED), so this
// path only supports the plain file-backed SharedBuffer case.
func mmapFile(f *os.File, size int, writable, shared bool) (SharedBuffer, error) {
	mem := make([]byte, size)
	if _, err := f.ReadAt(mem, 0); err != nil && size > 0 {
		return SharedBuffer{}, fmt.Errorf("buffer: read %s: %w", f.Name(), err)
	}
	owner := &sharedOwner{
		mem: mem,
		releaseFn: func() {
			if writable && shared {
				_, _ = f.WriteAt(mem, 0)
			}
		},
	}
	owner.refs.Store(1)
	return SharedBuffer{owner: owner, mem: mem}, nil
}

// makeCircMem has no non-Linux implementation: this platform cannot provide
// the physical-aliasing guarantee MakeCirc requires.
func makeCircMem(size int) (mem []byte, release func(), err error) {
	return nil, nil, fmt.Errorf("buffer: circular allocator requires linux")
}
