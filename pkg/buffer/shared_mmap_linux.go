//go:build linux

package buffer

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// pageSize caches the system page size used to round circular-buffer
// requests up, per spec.md §4.1 ("actual length may be rounded up to a
// system constraint").
var pageSize = unix.Getpagesize()

func roundUpPage(n int) int {
	if n <= 0 {
		return pageSize
	}
	return (n + pageSize - 1) / pageSize * pageSize
}

// mmapFile maps the entire file into memory using mmap(2).
func mmapFile(f *os.File, size int, writable, shared bool) (SharedBuffer, error) {
	if size == 0 {
		owner := &sharedOwner{mem: []byte{}}
		owner.refs.Store(1)
		return SharedBuffer{owner: owner, mem: []byte{}}, nil
	}

	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	flags := unix.MAP_PRIVATE
	if shared {
		flags = unix.MAP_SHARED
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, size, prot, flags)
	if err != nil {
		return SharedBuffer{}, fmt.Errorf("buffer: mmap %s: %w", f.Name(), err)
	}

	owner := &sharedOwner{
		mem: mem,
		releaseFn: func() {
			_ = unix.Munmap(mem)
		},
	}
	owner.refs.Store(1)
	return SharedBuffer{owner: owner, mem: mem}, nil
}

// makeCircMem builds a physically-aliased circular region of at least size
// bytes: a single anonymous file is mapped twice at consecutive virtual
// addresses, so index k and index k+length address the same physical page
// and a caller may read linearly past the logical end.
//
// This is the classic "magic ring buffer" construction: reserve 2*length of
// address space, then map the same memfd twice with MAP_FIXED into the
// first and second half.
func makeCircMem(size int) (mem []byte, release func(), err error) {
	length := roundUpPage(size)
	if length == 0 {
		length = pageSize
	}

	fd, err := unix.MemfdCreate("flowmesh-circ", 0)
	if err != nil {
		return nil, nil, fmt.Errorf("buffer: memfd_create: %w", err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(length)); err != nil {
		return nil, nil, fmt.Errorf("buffer: ftruncate: %w", err)
	}

	// Reserve 2*length of address space with an anonymous mapping so we
	// have a stable base to fix the two real mappings into.
	reservation, err := unix.Mmap(-1, 0, 2*length, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, nil, fmt.Errorf("buffer: reserve mmap: %w", err)
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(reservation)))

	mapAt := func(addr uintptr) error {
		_, _, errno := unix.Syscall6(
			unix.SYS_MMAP,
			addr,
			uintptr(length),
			unix.PROT_READ|unix.PROT_WRITE,
			unix.MAP_SHARED|unix.MAP_FIXED,
			uintptr(fd),
			0,
		)
		if errno != 0 {
			return errno
		}
		return nil
	}

	if err := mapAt(base); err != nil {
		_ = unix.Munmap(reservation)
		return nil, nil, fmt.Errorf("buffer: fixed mmap (first half): %w", err)
	}
	if err := mapAt(base + uintptr(length)); err != nil {
		_ = unix.Munmap(reservation)
		return nil, nil, fmt.Errorf("buffer: fixed mmap (second half): %w", err)
	}

	mem = unsafe.Slice((*byte)(unsafe.Pointer(base)), length)
	release = func() {
		_ = unix.Munmap(unsafe.Slice((*byte)(unsafe.Pointer(base)), 2*length))
	}
	return mem, release, nil
}
