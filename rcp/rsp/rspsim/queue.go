package rspsim

import (
	"runtime"

	"github.com/DragonMinded/libdragon-sub001/rcp"
	"github.com/DragonMinded/libdragon-sub001/rcp/cpu"
	"github.com/DragonMinded/libdragon-sub001/rcp/mem"
	"github.com/DragonMinded/libdragon-sub001/rcp/rsp"
)

// DMEM layout of the queue kernel's state and the internal command set.
// Both are mirrored from drivers/rspq, which verifies the banner at load
// time to catch the two definitions drifting apart.
const (
	queueBanner = "RSPQueue DMEM v1"

	dataAddress = 32

	ovlTableOff     = dataAddress       // 16 overlay ids
	ovlDescOff      = dataAddress + 16  // 8 descriptors, 16 bytes each
	pointerStackOff = dataAddress + 144 // call slots 0..7, then lowpri/highpri resume slots
	dramAddrOff     = pointerStackOff + 40
	currentOvlOff   = dataAddress + 252

	commonTextSize = 8   // overlay text loads here
	commonDataSize = 288 // overlay data loads here
)

const (
	cmdWaitNewInput = iota
	cmdNoop
	cmdJump
	cmdCall
	cmdRet
	cmdDma
	cmdWriteStatus
	cmdSwapBuffers
	cmdTestWriteStatus
	cmdRdpWaitIdle
	cmdRdpSetBuffer
	cmdRdpAppendBuffer
)

// Signal allocation, mirrored from drivers/rspq.
const (
	sigHighpriRunning   = 3
	sigHighpriRequested = 4
	sigMore             = 7
)

func (s *Simulator) stepQueue() {
	// Preemption point: between commands, switch to the high priority
	// queue if requested.
	st := s.Status()
	if st&rsp.SignalFlag(sigHighpriRequested) != 0 &&
		st&rsp.SignalFlag(sigHighpriRunning) == 0 {
		s.WriteStatus(rsp.ClrSignal(sigHighpriRequested) |
			rsp.SetSignal(sigHighpriRunning))
		cur := s.dmem.LoadWord(dramAddrOff)
		s.dmem.StoreWord(pointerStackOff+4*8, cur)
		s.dmem.StoreWord(dramAddrOff, s.dmem.LoadWord(pointerStackOff+4*9))
		return
	}

	cur := cpu.Addr(s.dmem.LoadWord(dramAddrOff))
	w := s.ram.LoadWord(cur)
	cmd := w >> 24

	if cmd>>4 != 0 {
		s.execOverlay(cur, w)
		return
	}

	switch cmd {
	case cmdWaitNewInput:
		s.waitNewInput()
		return
	case cmdNoop:
		cur += 4
	case cmdJump:
		cur = cpu.Addr(w & 0xff_ffff)
	case cmdCall:
		slot := cpu.Addr(s.ram.LoadWord(cur + 4))
		s.dmem.StoreWord(pointerStackOff+slot, uint32(cur)+8)
		cur = cpu.Addr(w & 0xff_ffff)
	case cmdRet:
		slot := cpu.Addr(w & 0xff_ffff)
		cur = cpu.Addr(s.dmem.LoadWord(pointerStackOff + slot))
	case cmdDma:
		s.execDMA(cur)
		cur += 16
	case cmdWriteStatus:
		s.WriteStatus(rsp.WStatus(w & 0xff_ffff))
		cur += 4
	case cmdSwapBuffers:
		load := cpu.Addr(w & 0xff_ffff)
		save := cpu.Addr(s.ram.LoadWord(cur + 4))
		wstatus := rsp.WStatus(s.ram.LoadWord(cur + 8))
		s.dmem.StoreWord(pointerStackOff+save, uint32(cur)+12)
		s.WriteStatus(wstatus)
		cur = cpu.Addr(s.dmem.LoadWord(pointerStackOff + load))
	case cmdTestWriteStatus:
		mask := rsp.StatusFlags(s.ram.LoadWord(cur + 4))
		for s.Status()&mask != 0 && !s.stop.Load() {
			runtime.Gosched()
		}
		s.WriteStatus(rsp.WStatus(w & 0xff_ffff))
		cur += 8
	case cmdRdpWaitIdle, cmdRdpAppendBuffer:
		cur += 4 // RDP passthrough, accepted without effect
	case cmdRdpSetBuffer:
		cur += 12
	default:
		s.crash("invalid command %#08x at %#x", w, cur)
		return
	}
	s.dmem.StoreWord(dramAddrOff, uint32(cur))
}

// waitNewInput halts when the queue runs dry.  The CPU wakes the device
// with a flush, a single status write of CLEAR_HALT|SET_SIG_MORE.  The
// compare and swap closes the race with a flush landing between examining
// the status and halting: the status changed, so retry instead of sleeping
// through the wakeup.
func (s *Simulator) waitNewInput() {
	for {
		old := s.status.Load()
		if rsp.StatusFlags(old)&rsp.SignalFlag(sigMore) != 0 {
			s.WriteStatus(rsp.ClrSignal(sigMore))
			return
		}
		if s.status.CompareAndSwap(old, old|uint32(rsp.Halted|rsp.Broke)) {
			if rsp.StatusFlags(old)&rsp.IntrOnBreak != 0 {
				s.lines.Raise(rcp.SignalProcessor)
			}
			return
		}
	}
}

func (s *Simulator) execDMA(cur cpu.Addr) {
	rdram := cpu.Addr(s.ram.LoadWord(cur) & 0xff_ffff)
	spAddr := s.ram.LoadWord(cur + 4)
	n := int(s.ram.LoadWord(cur+8)) + 1
	flags := s.ram.LoadWord(cur + 12)

	target := s.dmem
	if spAddr&0x1000 != 0 {
		target = s.imem
	}
	off := cpu.Addr(spAddr & 0xfff)

	if rdram&0x7 != 0 || off&0x7 != 0 || n&0x7 != 0 {
		s.crash("unaligned dma: rdram=%#x sp=%#x n=%d", rdram, spAddr, n)
		return
	}

	s.status.Or(uint32(rsp.DMABusy))
	if flags>>31 != 0 { // write to RDRAM
		mem.Copy(s.ram, rdram, target, off, n)
	} else {
		mem.Copy(target, off, s.ram, rdram, n)
	}
	s.status.And(^uint32(rsp.DMABusy))
}

func (s *Simulator) execOverlay(cur cpu.Addr, w uint32) {
	cmd := w >> 24
	ovlID := cmd >> 4

	descOff := loadU8(s.dmem, ovlTableOff+cpu.Addr(ovlID))
	if descOff == 0 {
		s.crash("invalid overlay %d: command %#08x at %#x", ovlID, w, cur)
		return
	}
	if loadU16(s.dmem, currentOvlOff) != uint16(descOff) {
		s.switchOverlay(cpu.Addr(descOff))
	}

	stateStart := cpu.Addr(loadU16(s.dmem, commonDataSize))
	stateSize := int(loadU16(s.dmem, commonDataSize+2)) + 1
	commandBase := loadU16(s.dmem, commonDataSize+4)

	local := int(cmd) - int(commandBase>>1)
	maxCmds := (int(stateStart) - commonDataSize - 8) / 2
	size := 0
	if local >= 0 && local < maxCmds {
		size = int(loadU16(s.dmem, commonDataSize+8+cpu.Addr(2*local)))
	}
	if size == 0 || size > len(s.cmdBuf) {
		s.crash("invalid overlay command %#08x at %#x", w, cur)
		return
	}

	if s.imem.LoadWord(commonTextSize) != progMagic {
		s.crash("bad overlay text at %#x", commonTextSize)
		return
	}
	prog := s.program(int(s.imem.LoadWord(commonTextSize + 4)))
	if prog == nil || local >= len(prog.cmds) {
		s.crash("unknown handler for command %#08x", w)
		return
	}

	words := s.cmdBuf[:size]
	for i := range words {
		words[i] = s.ram.LoadWord(cur + cpu.Addr(4*i))
	}
	m := &Machine{sim: s, stateOff: stateStart, stateLen: stateSize}
	prog.cmds[local].Fn(m, words)

	s.dmem.StoreWord(dramAddrOff, uint32(cur)+uint32(4*size))
}

// switchOverlay makes another overlay resident.  The current overlay's
// state is saved back to RDRAM first, then the new overlay's data and text
// segments are loaded over the previous ones.
func (s *Simulator) switchOverlay(descOff cpu.Addr) {
	oldDesc := ovlDescOff + cpu.Addr(loadU16(s.dmem, currentOvlOff))
	stateAddr := cpu.Addr(s.dmem.LoadWord(oldDesc + 8))
	stateStart := cpu.Addr(loadU16(s.dmem, commonDataSize))
	stateSize := int(loadU16(s.dmem, commonDataSize+2)) + 1
	mem.Copy(s.ram, stateAddr, s.dmem, stateStart, stateSize)

	desc := ovlDescOff + descOff
	code := cpu.Addr(s.dmem.LoadWord(desc))
	data := cpu.Addr(s.dmem.LoadWord(desc + 4))
	codeSize := int(loadU16(s.dmem, desc+12)) + 1
	dataSize := int(loadU16(s.dmem, desc+14)) + 1
	mem.Copy(s.dmem, commonDataSize, s.ram, data, dataSize)
	mem.Copy(s.imem, commonTextSize, s.ram, code, codeSize)
	storeU16(s.dmem, currentOvlOff, uint16(descOff))
}

func loadU8(r *mem.RAM, off cpu.Addr) uint8 {
	w := r.LoadWord(off &^ 0x3)
	return uint8(w >> ((3 - off&0x3) << 3))
}

func loadU16(r *mem.RAM, off cpu.Addr) uint16 {
	w := r.LoadWord(off &^ 0x3)
	if off&0x2 != 0 {
		return uint16(w)
	}
	return uint16(w >> 16)
}

func storeU16(r *mem.RAM, off cpu.Addr, v uint16) {
	aligned := off &^ 0x3
	w := r.LoadWord(aligned)
	if off&0x2 != 0 {
		w = w&0xffff_0000 | uint32(v)
	} else {
		w = w&0x0000_ffff | uint32(v)<<16
	}
	r.StoreWord(aligned, w)
}
