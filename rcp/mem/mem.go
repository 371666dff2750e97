// Package mem models RDRAM and the RSP's IMEM/DMEM as arrays of 32-bit word
// cells.  All access happens via atomic loads and stores of whole words,
// which mirrors how the SysAd bus moves data and gives defined behaviour
// when the CPU and the RSP touch the same words concurrently.
package mem

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/DragonMinded/libdragon-sub001/debug"
	"github.com/DragonMinded/libdragon-sub001/rcp/cpu"
)

// RAM is a fixed size memory of big-endian 32-bit words.
//
// Word sized access via [RAM.LoadWord] and [RAM.StoreWord] is atomic.  Byte
// sized access via [RAM.ReadAt] and [RAM.WriteAt] uses masked word
// read-modify-write at unaligned edges, so concurrent writers must not share
// a word unless both write it whole.
type RAM struct {
	words []atomic.Uint32
}

// NewRAM returns a zeroed memory of the given size in bytes.
func NewRAM(size int) *RAM {
	debug.Assert(size > 0 && size&0x3 == 0, "mem: size not word aligned")
	return &RAM{words: make([]atomic.Uint32, size>>2)}
}

// Size returns the memory's size in bytes.
func (r *RAM) Size() int { return len(r.words) << 2 }

// LoadWord returns the word at the word aligned address addr.
func (r *RAM) LoadWord(addr cpu.Addr) uint32 {
	debug.Assert(addr&0x3 == 0, "mem: unaligned load")
	return r.words[addr>>2].Load()
}

// StoreWord stores v at the word aligned address addr.
func (r *RAM) StoreWord(addr cpu.Addr, v uint32) {
	debug.Assert(addr&0x3 == 0, "mem: unaligned store")
	r.words[addr>>2].Store(v)
}

// ReadAt copies bytes beginning at address off into p.  Reads past the end
// of the memory are clipped and return [io.EOF].
func (r *RAM) ReadAt(p []byte, off int64) (n int, err error) {
	size := int64(r.Size())
	if off < 0 || off > size {
		return 0, errors.New("mem: offset out of bounds")
	}
	if len(p) == 0 {
		return
	}
	n = len(p)
	if n > int(size-off) {
		n = int(size - off)
		p = p[:n]
		err = io.EOF
	}

	i, pi := int(off), 0
	end := i + n
	for pos := i &^ 0x3; pos < end; pos += 4 {
		data := r.words[pos>>2].Load()
		for ; i < min(pos+4, end); i++ {
			p[pi] = byte(data >> ((3 - (i - pos)) << 3))
			pi++
		}
	}
	return
}

// WriteAt copies p into the memory beginning at address off.  If p's start
// or end aren't word aligned the edge words are read back and merged, which
// isn't atomic with respect to other writers of those words.  Writes past
// the end of the memory are clipped and return [io.EOF].
func (r *RAM) WriteAt(p []byte, off int64) (n int, err error) {
	size := int64(r.Size())
	if off < 0 || off > size {
		return 0, errors.New("mem: offset out of bounds")
	}
	if len(p) == 0 {
		return
	}
	n = len(p)
	if n > int(size-off) {
		n = int(size - off)
		p = p[:n]
		err = io.EOF
	}

	i, pi := int(off), 0
	end := i + n
	for pos := i &^ 0x3; pos < end; pos += 4 {
		data, mask := uint32(0), uint32(0xffff_ffff)
		if first := i - pos; first != 0 {
			mask >>= first << 3
		}
		if last := pos + 4 - end; last > 0 {
			mask &= 0xffff_ffff << (last << 3)
		}
		for ; i < min(pos+4, end); i++ {
			data |= uint32(p[pi]) << ((3 - (i - pos)) << 3)
			pi++
		}
		w := &r.words[pos>>2]
		if mask != 0xffff_ffff { // merge with edge word
			data |= w.Load() &^ mask
		}
		w.Store(data)
	}
	return
}

// Copy moves n bytes from src to dst, word by word.  Offsets and n must be
// word aligned.  Source and destination may be the same memory as long as
// the regions don't overlap.
func Copy(dst *RAM, dstOff cpu.Addr, src *RAM, srcOff cpu.Addr, n int) {
	debug.Assert(dstOff&0x3 == 0 && srcOff&0x3 == 0 && n&0x3 == 0,
		"mem: unaligned copy")
	for i := cpu.Addr(0); i < cpu.Addr(n); i += 4 {
		dst.words[(dstOff+i)>>2].Store(src.words[(srcOff+i)>>2].Load())
	}
}
