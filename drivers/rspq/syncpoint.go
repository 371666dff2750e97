package rspq

import (
	"github.com/DragonMinded/libdragon-sub001/debug"
	"github.com/DragonMinded/libdragon-sub001/rcp"
	"github.com/DragonMinded/libdragon-sub001/rcp/rsp"
)

// Syncpoint marks a position in the command stream.  It can be checked or
// waited on to learn whether the device has executed everything up to it.
//
// Syncpoints are plain values ordered by creation, they need no cleanup.
type Syncpoint uint32

// SyncpointNew writes a syncpoint at the current position of the queue.
//
// On reaching it, the device blocks until the previous syncpoint interrupt
// was acknowledged, then raises a new one.  One interrupt per syncpoint is
// what keeps the done counter in lockstep with the stream.
func (q *Queue) SyncpointNew() Syncpoint {
	debug.Assert(q.ctx != &q.highpri, "cannot create syncpoint in highpri mode")
	debug.Assert(q.block == nil, "cannot create syncpoint in a block")

	q.Write(CmdTestWriteStatus,
		uint32(rsp.SetIntr|rsp.SetSignal(sigSyncpoint)),
		uint32(rsp.SignalFlag(sigSyncpoint)))
	q.syncGen++
	return Syncpoint(q.syncGen)
}

// SyncpointCheck reports whether the device has reached s.  Once true it
// stays true.
func (q *Queue) SyncpointCheck(s Syncpoint) bool {
	return syncpointReached(uint32(s), q.syncDone.Load())
}

// The ids are compared through their signed distance, so the genid may
// wrap around.
func syncpointReached(id, done uint32) bool {
	return int32(id-done) <= 0
}

// SyncpointWait blocks until the device has reached s.
func (q *Queue) SyncpointWait(s Syncpoint) {
	if q.SyncpointCheck(s) {
		return
	}
	debug.Assert(q.lines.Enabled(rcp.SignalProcessor), "deadlock: interrupts are disabled")

	// Make sure the device is running, the syncpoint may not have been
	// flushed yet.
	q.flushInternal()
	q.waitLoop("syncpoint", func() bool {
		q.pollDeferred()
		return q.SyncpointCheck(s)
	})
}

type deferredCall struct {
	fn   func()
	sync Syncpoint
}

// SyncpointNewCB writes a syncpoint and schedules fn to run on the CPU
// once the device reaches it.  Deferred calls run in creation order during
// the queue's wait loops, at most one per poll, see [Queue.Wait].
func (q *Queue) SyncpointNewCB(fn func()) Syncpoint {
	debug.Assert(q.ctx != &q.highpri, "cannot defer in highpri mode")
	debug.Assert(q.block == nil, "cannot defer in a block")

	s := q.SyncpointNew()
	q.deferreds = append(q.deferreds, deferredCall{fn, s})
	return s
}

// CallDeferred schedules fn to run on the CPU once the device has executed
// all commands written so far.
func (q *Queue) CallDeferred(fn func()) {
	q.SyncpointNewCB(fn)
}

// pollDeferred runs the oldest due deferred call, if any.  At most one
// call runs per poll.  It reports whether calls are still pending.
func (q *Queue) pollDeferred() bool {
	if len(q.deferreds) > 0 {
		head := q.deferreds[0]
		if q.SyncpointCheck(head.sync) {
			q.deferreds = q.deferreds[1:]
			head.fn()
		}
	}
	return len(q.deferreds) > 0
}
