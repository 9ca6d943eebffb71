/*
Package buffer implements the core's reference-counted buffer memory
management: SharedBuffer (raw allocation), ManagedBuffer (a pool-returnable
slice of a SharedBuffer), BufferChunk (the cheap value handle blocks pass
around), and the BufferManager variants (slab, circular) that hand out and
reclaim ManagedBuffers.

	SharedBuffer  ──►  ManagedBuffer  ──►  BufferChunk  ──►  (ports)
	     ▲                                                      │
	     │                                                      ▼
	BufferManager ◄──────────── external return path ───── owning actor

A SharedBuffer owns raw memory via one of three allocators: generic
page-aligned heap, physically-aliased circular (mapped twice consecutively
so callers can read past the logical end and land back at the start), or
memory-mapped file. A ManagedBuffer couples a slice of a SharedBuffer with a
slab index and a back-reference to the BufferManager that minted it; when
its last copy is released the manager is notified, possibly from a foreign
thread, through a lock-free external-return path. A BufferChunk is the value
type ports and blocks actually hold: an address, a length, an element size,
and an optional inner ManagedBuffer/SharedBuffer reference.
*/
package buffer
