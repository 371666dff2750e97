package rspq

import (
	"github.com/DragonMinded/libdragon-sub001/debug"
	"github.com/DragonMinded/libdragon-sub001/rcp/cpu"
)

// Block is a prerecorded command sequence that can be replayed any number
// of times with [Queue.BlockRun].  The commands live in a chain of RDRAM
// chunks, each terminated by a jump to the next one and the last by a ret.
//
// A block's nesting level must stay above the level of every block it runs,
// it selects the device's call stack slot on replay.
type Block struct {
	nestingLevel int
	chunkSize    int        // size of the last allocated chunk, in words
	chunks       []cpu.Addr // chunk chain in allocation order
	terms        []cpu.Addr // terminator addresses, one per chunk once ended
}

// BlockBegin redirects all subsequent writes into a new block until
// [Queue.BlockEnd].  Writes while recording are not submissions: flushes
// are ignored and the device is never woken.
func (q *Queue) BlockBegin() {
	debug.Assert(q.block == nil, "a block was already being created")
	debug.Assert(q.ctx != &q.highpri, "cannot create a block in highpri mode")

	b := &Block{chunkSize: blockMinSize}
	buf := q.arena.Alloc(4 * b.chunkSize)
	b.chunks = append(b.chunks, buf)
	q.block = b

	q.switchContext(nil)
	q.switchBuffer(buf, b.chunkSize, true)
}

// BlockEnd terminates the recording and restores the lowpri queue as the
// write target.  The caller owns the returned block until
// [Queue.BlockFree].
func (q *Queue) BlockEnd() *Block {
	debug.Assert(q.block != nil, "a block was not being created")

	b := q.block
	// The ret pops the device's call stack at the block's own slot.
	term := q.cur
	q.append(CmdRet, []uint32{uint32(b.nestingLevel) << 2})
	b.terms = append(b.terms, term)

	q.block = nil
	q.switchContext(&q.lowpri)
	return b
}

// BlockRun enqueues a call to a recorded block.  When called while
// recording another block, the recording block's nesting level is raised
// above the callee's.
func (q *Queue) BlockRun(b *Block) {
	debug.Assert(q.ctx != &q.highpri, "block run is not supported in highpri mode")
	debug.Assert(len(b.terms) == len(b.chunks), "block was not ended")

	// The second word is the call stack slot that keeps the resume
	// address while the block runs.
	q.Write(CmdCall, uint32(b.chunks[0]), uint32(b.nestingLevel)<<2)

	if q.block != nil && q.block.nestingLevel <= b.nestingLevel {
		q.block.nestingLevel = b.nestingLevel + 1
		debug.Assert(q.block.nestingLevel < maxBlockNesting,
			"reached maximum number of nested block runs")
	}
}

// BlockFree returns the block's chunks to the arena.  The block must not
// be in flight on the device and no other block may still call it.
func (q *Queue) BlockFree(b *Block) {
	debug.Assert(len(b.terms) == len(b.chunks), "block was not ended")

	for _, term := range b.terms {
		cmd := q.ram.LoadWord(term)
		debug.Assertf(cmd>>24 == uint32(CmdJump) || cmd>>24 == uint32(CmdRet),
			"invalid terminator command in block: %08x", cmd)
	}
	for _, buf := range b.chunks {
		q.arena.Free(buf)
	}
	b.chunks, b.terms = nil, nil
}
