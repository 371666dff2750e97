// Package rspq implements the command queue protocol of the RSP firmware.
//
// The queue is a lockless single-producer protocol: the CPU appends command
// words to a ring buffer in RDRAM, the signal processor fetches and executes
// them on its own.  The two sides coordinate only through the status
// register's signal bits and the write ordering of the buffer itself.  All
// submission methods must be called from a single goroutine.
//
// Overlays extend the firmware's command set, see [Queue.OverlayRegister].
// Command sequences can be recorded once and replayed cheaply, see
// [Queue.BlockBegin].  The highpri queue preempts already queued commands,
// see [Queue.HighpriBegin].
package rspq

import (
	"encoding/binary"
	"io"
	"log"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/DragonMinded/libdragon-sub001/debug"
	"github.com/DragonMinded/libdragon-sub001/rcp"
	"github.com/DragonMinded/libdragon-sub001/rcp/cpu"
	"github.com/DragonMinded/libdragon-sub001/rcp/mem"
	"github.com/DragonMinded/libdragon-sub001/rcp/rsp"
	"github.com/DragonMinded/libdragon-sub001/rcp/rsp/ucode"
)

type Config struct {
	Lines    *rcp.Lines   // interrupt routing, required
	Firmware *ucode.UCode // queue kernel microcode, required

	// Arena provides the RDRAM allocations for buffers, blocks and
	// overlays.  Defaults to a new arena over the device's RAM.
	Arena *mem.Arena

	LowpriSize  int // lowpri buffer size in words, defaults to 0x200
	HighpriSize int // highpri buffer size in words, defaults to 0x80

	// BlockMaxSize caps the growth of block chunks, in words.  Defaults
	// to 4096.
	BlockMaxSize int

	// WaitTimeout bounds all blocking waits on the device.  A device not
	// responding within the timeout is considered crashed.  Defaults to
	// 500ms.
	WaitTimeout time.Duration

	// Logger receives the state dump when the engine detects a crashed
	// device.  Defaults to [log.Default].
	Logger *log.Logger
}

// Queue submits commands to the signal processor.
type Queue struct {
	dev   rsp.Device
	lines *rcp.Lines
	ram   *mem.RAM
	arena *mem.Arena
	cfg   Config

	fw         *ucode.UCode
	fwTextSize int
	fwDataSize int

	data       rspQueue // CPU side copy of the DMEM state
	dummyState cpu.Addr
	stage      cpu.Addr // staging area for overlay table pushes

	lowpri, highpri context
	ctx             *context // nil while recording a block
	cur             cpu.Addr
	sentinel        cpu.Addr

	block     *Block
	overlays  [overlayIdCount]*ucode.UCode
	placed    map[*ucode.UCode]*placement
	syncGen   uint32
	deferreds []deferredCall

	syncDone atomic.Uint32

	closed bool
}

// New loads the queue firmware onto the halted device and starts it.
//
// The returned queue owns the device's signal processor interrupt until
// [Queue.Close].
func New(dev rsp.Device, cfg Config) *Queue {
	debug.Assert(cfg.Lines != nil && cfg.Firmware != nil, "rspq: missing Lines or Firmware")
	if cfg.Arena == nil {
		cfg.Arena = mem.NewArena(dev.RAM())
	}
	if cfg.LowpriSize == 0 {
		cfg.LowpriSize = 0x200
	}
	if cfg.HighpriSize == 0 {
		cfg.HighpriSize = 0x80
	}
	if cfg.BlockMaxSize == 0 {
		cfg.BlockMaxSize = 4096
	}
	if cfg.WaitTimeout == 0 {
		cfg.WaitTimeout = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	fw := cfg.Firmware
	debug.Assert(len(fw.Data) >= rspqDataAddress+binary.Size(rspQueue{}),
		"rspq: firmware data too small")
	debug.Assert(string(fw.Data[:len(queueBanner)]) == queueBanner,
		"rspq: firmware DMEM layout mismatch")

	q := &Queue{
		dev:        dev,
		lines:      cfg.Lines,
		ram:        dev.RAM(),
		arena:      cfg.Arena,
		cfg:        cfg,
		fw:         fw,
		fwTextSize: len(fw.Text),
		fwDataSize: len(fw.Data),
		placed:     make(map[*ucode.UCode]*placement),
	}

	rsp.Load(dev, fw)

	q.lowpri = newContext(q.arena, cfg.LowpriSize, sigBufdoneLow)
	q.highpri = newContext(q.arena, cfg.HighpriSize, sigBufdoneHigh)
	q.clearBuffers(&q.lowpri)
	q.clearBuffers(&q.highpri)
	q.dummyState = q.arena.Alloc(8)
	q.stage = q.arena.Alloc(tablesSize)

	q.data = rspQueue{}
	q.data.DramLowpriAddr = q.lowpri.buffers[0]
	q.data.DramHighpriAddr = q.highpri.buffers[0]
	q.data.DramAddr = q.data.DramLowpriAddr
	q.data.Tables.OverlayDescriptor[0].State = q.dummyState
	q.data.Tables.OverlayDescriptor[0].DataSize = 8 - 1

	debug.AssertErrNil(binary.Write(
		io.NewOffsetWriter(dev.DMEM(), rspqDataAddress), binary.BigEndian, &q.data))

	// Descriptor 0 starts out resident with an empty command set.  Its
	// header only has to describe a state that is safe to save.
	ovlhdr := overlayHeader{StateStart: 0, StateSize: 8 - 1, CommandBase: 0}
	debug.AssertErrNil(binary.Write(
		io.NewOffsetWriter(dev.DMEM(), int64(q.fwDataSize)), binary.BigEndian, &ovlhdr))

	var w rsp.WStatus
	for n := range 8 {
		if n == sigBufdoneLow || n == sigBufdoneHigh {
			w |= rsp.SetSignal(n)
		} else {
			w |= rsp.ClrSignal(n)
		}
	}
	dev.WriteStatus(w)

	q.lines.SetHandler(rcp.SignalProcessor, q.spInterrupt)
	q.lines.Enable(rcp.SignalProcessor)

	q.ctx = &q.lowpri
	q.cur, q.sentinel = q.ctx.cur, q.ctx.sentinel

	dev.WriteStatus(rsp.ClrHalt | rsp.ClrBroke)
	q.Flush()
	return q
}

// Close halts the device and releases all engine owned memory.  Recorded
// blocks are owned by the caller and must be freed with [Queue.BlockFree]
// before closing.  Close is idempotent.
func (q *Queue) Close() error {
	if q.closed {
		return nil
	}
	q.closed = true

	q.dev.WriteStatus(rsp.SetHalt)
	q.lines.Disable(rcp.SignalProcessor)
	q.lines.SetHandler(rcp.SignalProcessor, nil)

	for uc, pl := range q.placed {
		q.arena.Free(pl.textAddr)
		q.arena.Free(pl.dataAddr)
		delete(q.placed, uc)
	}
	q.lowpri.free(q.arena)
	q.highpri.free(q.arena)
	q.arena.Free(q.dummyState)
	q.arena.Free(q.stage)
	return nil
}

// spInterrupt acknowledges device raised interrupts.  The only source
// while the queue firmware runs are syncpoints.
func (q *Queue) spInterrupt() {
	status := q.dev.Status()
	w := rsp.ClrIntr
	if status&rsp.SignalFlag(sigSyncpoint) != 0 {
		w |= rsp.ClrSignal(sigSyncpoint)
	}
	q.dev.WriteStatus(w)
	if status&rsp.SignalFlag(sigSyncpoint) != 0 {
		q.syncDone.Add(1)
	}
}

// append writes a single command at the cursor.  The caller must have
// checked the sentinel.
func (q *Queue) append(c Command, args []uint32) {
	debug.Assert(len(args) <= MaxShortCommandSize, "command too long")
	if len(args) == 0 {
		q.ram.StoreWord(q.cur, uint32(c)<<24)
		q.cur += 4
		return
	}
	debug.Assert(args[0]&0xff000000 == 0, "invalid command")

	// cmd byte must be written last
	for i, arg := range args[1:] {
		q.ram.StoreWord(q.cur+cpu.Addr(4*(i+1)), arg)
	}
	q.ram.StoreWord(q.cur, args[0]|uint32(c)<<24)
	q.cur += cpu.Addr(4 * len(args))
}

// Write appends a short command to the queue.  It returns without waiting
// for the device except when the current buffer runs full.  The command
// becomes visible to the device with the next [Queue.Flush].
func (q *Queue) Write(c Command, args ...uint32) {
	q.append(c, args)
	if q.cur > q.sentinel {
		q.nextBuffer()
	}
}

// Flush wakes the device to consume all commands written so far.  While
// recording a block it is a no-op, recorded commands only run via
// [Queue.BlockRun].
func (q *Queue) Flush() {
	if q.block != nil {
		return
	}
	q.flushInternal()
}

func (q *Queue) flushInternal() {
	// The wakeup races the device's own halt decision: it may sample the
	// more signal as clear right before we set it and still halt.  The
	// second write lands after such a halt and undoes it.
	w := rsp.SetSignal(sigMore) | rsp.ClrHalt | rsp.ClrBroke
	q.dev.WriteStatus(w)
	runtime.Gosched()
	q.dev.WriteStatus(w)
}

// switchContext saves the current write position and resumes ctx's.  A nil
// ctx detaches the queue from both priority contexts, used while recording
// blocks.
func (q *Queue) switchContext(ctx *context) {
	if q.ctx != nil {
		q.ctx.cur, q.ctx.sentinel = q.cur, q.sentinel
	}
	q.ctx = ctx
	if ctx != nil {
		q.cur, q.sentinel = ctx.cur, ctx.sentinel
	}
}

// switchBuffer redirects subsequent writes to a fresh buffer.  The sentinel
// leaves room for a short command plus the buffer terminator.
func (q *Queue) switchBuffer(buf cpu.Addr, size int, clear bool) {
	q.cur = buf
	q.sentinel = buf + cpu.Addr(4*(size-MaxShortCommandSize))
	if clear {
		q.clearBuffer(buf, size)
	}
}

func (q *Queue) clearBuffer(buf cpu.Addr, size int) {
	for i := range size {
		q.ram.StoreWord(buf+cpu.Addr(4*i), 0)
	}
}

func (q *Queue) clearBuffers(ctx *context) {
	for _, buf := range ctx.buffers {
		q.clearBuffer(buf, ctx.bufSize)
	}
}

// nextBuffer makes room when the cursor crosses the sentinel.  While
// recording it grows the block by a chunk, otherwise it swaps the context's
// ping-pong buffers.
func (q *Queue) nextBuffer() {
	if q.block != nil {
		b := q.block
		b.chunkSize = min(b.chunkSize*2, q.cfg.BlockMaxSize)
		buf := q.arena.Alloc(4 * b.chunkSize)

		term := q.cur
		q.append(CmdJump, []uint32{uint32(buf)})
		b.chunks = append(b.chunks, buf)
		b.terms = append(b.terms, term)

		q.switchBuffer(buf, b.chunkSize, true)
		return
	}

	// Wait until the device has fully consumed the other buffer.  Flush
	// in case it halted with the current buffer's end unseen.
	ctx := q.ctx
	done := rsp.SignalFlag(ctx.bufdoneSig)
	q.pollDeferred()
	if q.dev.Status()&done == 0 {
		q.flushInternal()
		q.waitLoop("buffer done", func() bool {
			q.pollDeferred()
			return q.dev.Status()&done != 0
		})
	}
	q.dev.WriteStatus(rsp.ClrSignal(ctx.bufdoneSig))

	ctx.bufIdx = 1 - ctx.bufIdx
	buf := ctx.buffers[ctx.bufIdx]
	prev := q.cur
	q.switchBuffer(buf, ctx.bufSize, true)

	// Terminate the old buffer: raise buffer done for it, then follow to
	// the new one.  The jump is written last so the device cannot pass by
	// before the status write is in place.
	old := ctx.buffers[1-ctx.bufIdx]
	debug.Assert(prev+8 <= old+cpu.Addr(4*ctx.bufSize), "terminator out of bounds")
	q.ram.StoreWord(prev, uint32(CmdWriteStatus)<<24|uint32(rsp.SetSignal(ctx.bufdoneSig)))
	q.ram.StoreWord(prev+4, uint32(CmdJump)<<24|uint32(buf))
	q.flushInternal()
}

// waitLoop polls cond until it reports true.  All waiting on the device is
// bounded: a device not responding within the configured timeout is
// reported as crashed.
func (q *Queue) waitLoop(what string, cond func() bool) {
	deadline := time.Now().Add(q.cfg.WaitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			q.crash("timeout waiting for " + what)
		}
		runtime.Gosched()
	}
}

// Wait blocks until the device has executed all commands written so far
// and all deferred calls have run.
func (q *Queue) Wait() {
	q.SyncpointWait(q.SyncpointNew())
	q.waitLoop("deferred calls", func() bool {
		return !q.pollDeferred()
	})
	q.waitLoop("dma idle", func() bool {
		return q.dev.Status()&rsp.StatusFlags(dmaBusyOrFull) == 0
	})
}
