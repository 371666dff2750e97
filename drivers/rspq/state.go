package rspq

import (
	"github.com/DragonMinded/libdragon-sub001/debug"
	"github.com/DragonMinded/libdragon-sub001/rcp/cpu"
	"github.com/DragonMinded/libdragon-sub001/rcp/mem"
)

const (
	// MaxCommandSize is the maximum size of a command in words, see
	// [Queue.WriteBegin].
	MaxCommandSize = 63
	// MaxShortCommandSize is the maximum size in words of a command
	// written with [Queue.Write].
	MaxShortCommandSize = 16
)

const (
	maxOverlayCount = 8
	overlayIdCount  = 16

	maxBlockNesting = 8
	blockMinSize    = 64 // words

	lowpriCallSlot  = 8
	highpriCallSlot = 9
)

// Signal allocation of the queue engine, by signal number.  Kept in sync
// with the firmware, see the banner check in [New].
const (
	sigUser             = iota // free for use by overlays, see Queue.Signal
	sigRdpsyncfull             // an RDP SYNC_FULL interrupt is pending
	sigSyncpoint               // the device reached a syncpoint
	sigHighpriRunning          // the device is executing the highpri queue
	sigHighpriRequested        // the CPU has requested a switch to the highpri queue
	sigBufdoneHigh             // the device is done with one of the two highpri buffers
	sigBufdoneLow              // the device is done with one of the two lowpri buffers
	sigMore                    // the CPU has written more data to the current queue
)

// DMEM layout of the queue state.  The firmware mirrors these, which is
// checked via the banner at load time.
const (
	rspqDataAddress = 32
	queueBanner     = "RSPQueue DMEM v1"

	tablesSize      = overlayIdCount + maxOverlayCount*16
	pointerStackOff = rspqDataAddress + tablesSize
	dramAddrOff     = pointerStackOff + 4*(highpriCallSlot+1)
	currentOvlOff   = rspqDataAddress + 252 // CurrentOvl field of rspQueue
)

// context is one of the two priority levels of the queue.  Each context
// double-buffers its command ring.
//
// This struct isn't known by the firmware.
type context struct {
	buffers    [2]cpu.Addr
	bufSize    int // words
	bufIdx     int
	bufdoneSig int
	cur        cpu.Addr
	sentinel   cpu.Addr
}

func newContext(arena *mem.Arena, bufSize int, signal int) context {
	debug.Assert(bufSize >= MaxCommandSize, "rspq: buffer size too small")
	ctx := context{bufSize: bufSize, bufdoneSig: signal}
	for i := range ctx.buffers {
		ctx.buffers[i] = arena.Alloc(4 * bufSize)
	}
	ctx.cur = ctx.buffers[0]
	ctx.sentinel = ctx.cur + cpu.Addr(4*(bufSize-MaxCommandSize))
	return ctx
}

func (p *context) free(arena *mem.Arena) {
	for _, buf := range p.buffers {
		arena.Free(buf)
	}
}

// overlayDescriptor describes where an overlay's segments live in RDRAM.
type overlayDescriptor struct {
	Code, Data, State  cpu.Addr
	CodeSize, DataSize uint16 // stored as size - 1
}

// overlayTables maps the 16 overlay ids to up to 8 descriptors.  A table
// entry is the byte offset of the descriptor, 0 means unregistered.
type overlayTables struct {
	OverlayTable      [overlayIdCount]uint8
	OverlayDescriptor [maxOverlayCount]overlayDescriptor
}

// Struct layout is known by the firmware and copied to DMEM at
// rspqDataAddress.
type rspQueue struct {
	Tables             overlayTables
	PointerStack       [maxBlockNesting]uint32
	DramLowpriAddr     cpu.Addr
	DramHighpriAddr    cpu.Addr
	DramAddr           cpu.Addr
	RdpSentinel        uint32
	RdpMode            rdpMode
	RdpScissorRect     uint64
	RdpBuffers         [2]cpu.Addr
	RdpCurrent         uint32
	RdpFillColor       uint32
	RdpTargetBitdepth  uint8
	RdpSyncfullOngoing uint8
	RdpqDebug          uint8
	_                  uint8
	CurrentOvl         uint16
}

// rdpMode is carried in the DMEM state for the RDP passthrough commands but
// not interpreted by the queue engine.
type rdpMode struct {
	Combiner               uint64
	CombinerMipMapMask     uint64
	BlendStep0, BlendStep1 uint32
	OtherModes             uint64
}

// overlayHeader sits at the start of an overlay's data segment, after the
// common prefix shared with the firmware.  A zero terminated table of
// command sizes in words follows it.
type overlayHeader struct {
	StateStart  uint16 // offset of the overlay's state within its data segment
	StateSize   uint16 // size of the state, stored as size - 1
	CommandBase uint16 // primary overlay id << 5, assigned at registration
	_           uint16
}
