package rspq

import (
	"github.com/DragonMinded/libdragon-sub001/debug"
	"github.com/DragonMinded/libdragon-sub001/rcp/rsp"
)

// HighpriBegin opens the high priority queue.  The device preempts the
// lowpri queue at its next command boundary and runs highpri commands
// until the matching [Queue.HighpriEnd].
func (q *Queue) HighpriBegin() {
	debug.Assert(q.ctx != &q.highpri, "already in highpri mode")
	debug.Assert(q.block == nil, "cannot switch to highpri mode while creating a block")

	q.switchContext(&q.highpri)

	// If the buffer still ends in a previous highpri epilog, overwrite it
	// with jumps to the new commands.  The device sees either the old
	// epilog or a whole jump word: if it exits through the epilog anyway,
	// the requested signal below makes it come right back.
	if q.cur != q.ctx.buffers[q.ctx.bufIdx] &&
		q.ram.LoadWord(q.cur-12)>>24 == uint32(CmdSwapBuffers) {
		q.ram.StoreWord(q.cur-16, uint32(CmdJump)<<24|uint32(q.cur))
		q.ram.StoreWord(q.cur-12, uint32(CmdJump)<<24|uint32(q.cur))
	}

	// The device clears requested and raises running on entry itself, but
	// when the epilog skip above took effect there is no new entry.  The
	// queued write keeps the signals right in both cases.
	q.append(CmdWriteStatus, []uint32{
		uint32(rsp.ClrSignal(sigHighpriRequested) | rsp.SetSignal(sigHighpriRunning))})
	q.dev.WriteStatus(rsp.SetSignal(sigHighpriRequested))
	q.flushInternal()
}

// HighpriEnd closes the high priority queue and returns to lowpri
// submission.  The device resumes the preempted lowpri queue once it
// executes the epilog.
func (q *Queue) HighpriEnd() {
	debug.Assert(q.ctx == &q.highpri, "not in highpri mode")

	// The epilog starts with a jump to the next word: on the device side
	// it forces a refetch, in case a later HighpriBegin overwrote the
	// swap while the device already held it.
	q.append(CmdJump, []uint32{uint32(q.cur) + 4})
	q.append(CmdSwapBuffers, []uint32{
		lowpriCallSlot << 2, highpriCallSlot << 2,
		uint32(rsp.ClrSignal(sigHighpriRunning))})
	q.flushInternal()
	q.switchContext(&q.lowpri)
}

// HighpriSync waits until the device has fully drained and exited the
// high priority queue.
func (q *Queue) HighpriSync() {
	debug.Assert(q.ctx != &q.highpri, "this function can only be called outside of highpri mode")

	q.flushInternal()
	busy := rsp.SignalFlag(sigHighpriRequested) | rsp.SignalFlag(sigHighpriRunning)
	q.waitLoop("highpri queue", func() bool {
		q.pollDeferred()
		return q.dev.Status()&busy == 0
	})
}
