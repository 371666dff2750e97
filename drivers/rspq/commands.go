package rspq

import (
	"github.com/DragonMinded/libdragon-sub001/debug"
	"github.com/DragonMinded/libdragon-sub001/rcp/cpu"
	"github.com/DragonMinded/libdragon-sub001/rcp/rsp"
)

// Command selects the handler for a command word.  The upper nibble is the
// overlay id, the lower nibble the command index within the overlay.
// Overlay 0 is the firmware itself, which provides the commands below.
type Command byte

const (
	CmdWaitNewInput    Command = 0x00
	CmdNoop            Command = 0x01
	CmdJump            Command = 0x02
	CmdCall            Command = 0x03
	CmdRet             Command = 0x04
	CmdDma             Command = 0x05
	CmdWriteStatus     Command = 0x06
	CmdSwapBuffers     Command = 0x07
	CmdTestWriteStatus Command = 0x08
	CmdRdpWaitIdle     Command = 0x09
	CmdRdpSetBuffer    Command = 0x0A
	CmdRdpAppendBuffer Command = 0x0B
)

const dmaBusyOrFull = uint32(rsp.DMABusy | rsp.DMAFull)

// Noop enqueues a command that does nothing.  Mostly useful for testing.
func (q *Queue) Noop() {
	q.Write(CmdNoop)
}

func (q *Queue) dma(rdram cpu.Addr, dmem cpu.Addr, n int, flags uint32, async bool) {
	debug.Assert(rdram&0x7 == 0 && dmem&0x7 == 0 && n&0x7 == 0, "unaligned dma")
	q.Write(CmdDma, uint32(rdram), uint32(dmem), uint32(n-1), flags)
	if !async {
		// stall the queue until the transfer engine is idle again
		q.Write(CmdTestWriteStatus, 0, dmaBusyOrFull)
	}
}

// DMAWrite enqueues a DMA write command (dmem to rdram).  If async is
// false, the queue stalls until the transfer has finished before executing
// the next command.
func (q *Queue) DMAWrite(rdram cpu.Addr, dmem cpu.Addr, n int, async bool) {
	q.dma(rdram, dmem, n, 0xffff_8000, async)
}

// DMARead enqueues a DMA read command (rdram to dmem).
func (q *Queue) DMARead(rdram cpu.Addr, dmem cpu.Addr, n int, async bool) {
	q.dma(rdram, dmem, n, 0, async)
}

// Signal sets or clears signal 0, the only signal available to user
// commands.  All other signals are owned by the queue engine.
func (q *Queue) Signal(w rsp.WStatus) {
	const allowed = rsp.ClrSig0 | rsp.SetSig0
	debug.Assert(w&^allowed == 0, "signal reserved for engine use")
	q.Write(CmdWriteStatus, uint32(w))
}
