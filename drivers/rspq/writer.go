package rspq

import (
	"github.com/DragonMinded/libdragon-sub001/debug"
	"github.com/DragonMinded/libdragon-sub001/rcp/cpu"
)

// Writer assembles a command longer than MaxShortCommandSize directly in
// the queue's buffer.  Between [Queue.WriteBegin] and [Writer.End] no
// other submission to the queue is allowed.
type Writer struct {
	q         *Queue
	first     cpu.Addr
	ptr       cpu.Addr
	firstWord uint32
	isFirst   bool
}

// WriteBegin reserves size words for a single command.  Fill them with
// [Writer.Arg] and publish the command with [Writer.End].
func (q *Queue) WriteBegin(c Command, size int) Writer {
	debug.Assert(size >= 1 && size <= MaxCommandSize, "command too long")
	if q.cur+cpu.Addr(4*size) > q.sentinel {
		q.nextBuffer()
	}

	first := q.cur
	q.cur += cpu.Addr(4 * size)
	return Writer{
		q:         q,
		first:     first,
		ptr:       first + 4,
		firstWord: uint32(c) << 24,
		isFirst:   true,
	}
}

// Arg appends the command's next argument word.
func (w *Writer) Arg(v uint32) {
	if w.isFirst {
		debug.Assert(v&0xff000000 == 0, "invalid command")
		w.firstWord |= v
		w.isFirst = false
		return
	}
	debug.Assert(w.ptr < w.q.cur, "too many args")
	w.q.ram.StoreWord(w.ptr, v)
	w.ptr += 4
}

// End publishes the command.  The first word is written last, it makes the
// already visible argument words reachable for the device.
func (w *Writer) End() {
	w.q.ram.StoreWord(w.first, w.firstWord)
}
