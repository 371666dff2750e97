package rsp

import (
	"github.com/DragonMinded/libdragon-sub001/debug"
	"github.com/DragonMinded/libdragon-sub001/rcp/cpu"
	"github.com/DragonMinded/libdragon-sub001/rcp/mem"
	"github.com/DragonMinded/libdragon-sub001/rcp/rsp/ucode"
)

// IMEM and DMEM are 4 KiB each.
const MemSize = 0x1000

// Device is the CPU's view of a signal processor.  Implementations run
// microcode concurrently with the CPU, so Status and WriteStatus must be
// safe to call at any time.
type Device interface {
	// Status returns the current value of the SP status register.
	Status() StatusFlags

	// WriteStatus applies all modifications requested by w in one atomic
	// register write.
	WriteStatus(w WStatus)

	// IMEM and DMEM return the signal processor's instruction and data
	// memory.  Direct access is only safe while the device is halted,
	// use DMA commands otherwise.
	IMEM() *mem.RAM
	DMEM() *mem.RAM

	// RAM returns the RDRAM shared between CPU and signal processor.
	RAM() *mem.RAM

	// PC returns the program counter.  SetPC sets it, which is only
	// allowed while the device is halted.
	PC() cpu.Addr
	SetPC(pc cpu.Addr)
}

// Load copies a microcode's text and data segments into the device's
// memories and sets the entry point.  The device must be halted.
func Load(dev Device, uc *ucode.UCode) {
	debug.Assert(dev.Status()&Halted != 0, "rsp: load during run")
	debug.Assert(len(uc.Text) <= MemSize && len(uc.Data) <= MemSize,
		"rsp: ucode exceeds memory")

	_, err := dev.IMEM().WriteAt(uc.Text, 0)
	debug.AssertErrNil(err)
	_, err = dev.DMEM().WriteAt(uc.Data, 0)
	debug.AssertErrNil(err)

	dev.SetPC(uc.Entry)
}
