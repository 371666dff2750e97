package rspq

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/DragonMinded/libdragon-sub001/rcp/cpu"
	"github.com/DragonMinded/libdragon-sub001/rcp/rsp"
)

var signalNames = [8]string{
	"sig_user", "sig_rdpsyncfull", "sig_syncpoint", "sig_highpri_running",
	"sig_highpri_requested", "sig_bufdone_high", "sig_bufdone_low", "sig_more",
}

// DumpState writes a human readable dump of the queue's device side state
// to w: status register, read pointers and a window of the command stream
// around the device's current position.  Reads are best effort while the
// device runs, a stuck or halted device gives a consistent snapshot.
func (q *Queue) DumpState(w io.Writer) {
	status := q.dev.Status()
	fmt.Fprintf(w, "status: %08x pc: %03x flags:%s\n",
		uint32(status), uint32(q.dev.PC()), statusString(status))

	var data rspQueue
	r := io.NewSectionReader(q.dev.DMEM(), rspqDataAddress, int64(binary.Size(&data)))
	if err := binary.Read(r, binary.BigEndian, &data); err != nil {
		fmt.Fprintf(w, "dmem state unreadable: %v\n", err)
		return
	}

	fmt.Fprintf(w, "lowpri  dram address: %08x\n", uint32(data.DramLowpriAddr))
	fmt.Fprintf(w, "highpri dram address: %08x\n", uint32(data.DramHighpriAddr))
	fmt.Fprintf(w, "current dram address: %08x\n", uint32(data.DramAddr))
	fmt.Fprintf(w, "current overlay: %s (%02x)\n", q.overlayName(data.CurrentOvl), data.CurrentOvl)

	q.dumpStream(w, data.DramAddr)
}

func statusString(status rsp.StatusFlags) string {
	flags := []struct {
		flag rsp.StatusFlags
		name string
	}{
		{rsp.Halted, "halted"},
		{rsp.Broke, "broke"},
		{rsp.DMABusy, "dma_busy"},
		{rsp.DMAFull, "dma_full"},
	}
	var sb strings.Builder
	for _, f := range flags {
		if status&f.flag != 0 {
			sb.WriteString(" " + f.name)
		}
	}
	for sig, name := range signalNames {
		if status&rsp.SignalFlag(sig) != 0 {
			sb.WriteString(" " + name)
		}
	}
	return sb.String()
}

// overlayName resolves a descriptor offset as stored in the CurrentOvl
// field back to a registered overlay.
func (q *Queue) overlayName(ovl uint16) string {
	if ovl == 0 {
		return "builtin"
	}
	for id, uc := range q.overlays {
		if uc != nil && q.data.Tables.OverlayTable[id] == uint8(ovl) {
			return uc.Name
		}
	}
	return "?"
}

// dumpStream prints the 64 words of command stream surrounding cur, with
// the device's current position marked.
func (q *Queue) dumpStream(w io.Writer, cur cpu.Addr) {
	const window = 64 // words

	start := int64(cur) - 4*window/2
	start = max(min(start, int64(q.ram.Size())-4*window), 0)
	for row := 0; row < window/16; row++ {
		for i := 0; i < 16; i++ {
			addr := cpu.Addr(start) + cpu.Addr(4*(row*16+i))
			sep := byte(' ')
			if addr == cur {
				sep = '*'
			}
			fmt.Fprintf(w, "%08x%c", q.ram.LoadWord(addr), sep)
		}
		fmt.Fprintln(w)
	}
}

// crash dumps the queue state and terminates.  The queue protocol has no
// recoverable errors: a stuck device means the command stream or an
// overlay corrupted shared state.
func (q *Queue) crash(reason string) {
	var sb strings.Builder
	q.DumpState(&sb)
	q.cfg.Logger.Printf("rspq: %s\n%s", reason, &sb)
	panic("rspq: " + reason)
}
