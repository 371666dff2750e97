package mem

import (
	"sync"

	"github.com/DragonMinded/libdragon-sub001/debug"
	"github.com/DragonMinded/libdragon-sub001/rcp/cpu"
)

// Arena hands out regions of a [RAM] to the queue engine.  Freed regions are
// kept on per-size freelists and reused by later allocations of the same
// size.  There is no compaction.
//
// An Arena is safe for concurrent use.
type Arena struct {
	ram *RAM

	mu   sync.Mutex
	next cpu.Addr
	free map[int][]cpu.Addr
	live map[cpu.Addr]int
}

// NewArena returns an allocator managing all of ram.  The first 16 bytes are
// reserved so that address zero is never handed out.
func NewArena(ram *RAM) *Arena {
	return &Arena{
		ram:  ram,
		next: 16,
		free: make(map[int][]cpu.Addr),
		live: make(map[cpu.Addr]int),
	}
}

// Alloc returns the address of an unused 16 byte aligned region of n bytes.
// The region's contents are undefined.  Alloc panics if the arena is
// exhausted.
func (v *Arena) Alloc(n int) cpu.Addr {
	debug.Assert(n > 0, "mem: zero alloc")
	n = (n + 15) &^ 15

	v.mu.Lock()
	defer v.mu.Unlock()

	if addrs := v.free[n]; len(addrs) > 0 {
		addr := addrs[len(addrs)-1]
		v.free[n] = addrs[:len(addrs)-1]
		v.live[addr] = n
		return addr
	}

	addr := v.next
	if int(addr)+n > v.ram.Size() {
		panic("mem: arena exhausted")
	}
	v.next += cpu.Addr(n)
	v.live[addr] = n
	return addr
}

// Free returns a region previously obtained from [Arena.Alloc].
func (v *Arena) Free(addr cpu.Addr) {
	v.mu.Lock()
	defer v.mu.Unlock()

	n, ok := v.live[addr]
	debug.Assert(ok, "mem: free of unallocated address")
	if !ok {
		return
	}
	delete(v.live, addr)
	v.free[n] = append(v.free[n], addr)
}

// LiveAllocs returns the number of regions currently allocated.
func (v *Arena) LiveAllocs() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.live)
}

// LiveBytes returns the total size of all currently allocated regions.
func (v *Arena) LiveBytes() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	bytes := 0
	for _, n := range v.live {
		bytes += n
	}
	return bytes
}
