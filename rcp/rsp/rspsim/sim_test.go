package rspsim

import (
	"bytes"
	"encoding/binary"
	"io"
	"log"
	"testing"
	"time"

	"github.com/DragonMinded/libdragon-sub001/rcp"
	"github.com/DragonMinded/libdragon-sub001/rcp/cpu"
	"github.com/DragonMinded/libdragon-sub001/rcp/mem"
	"github.com/DragonMinded/libdragon-sub001/rcp/rsp"
	"github.com/DragonMinded/libdragon-sub001/rcp/rsp/ucode"
	qtesting "github.com/DragonMinded/libdragon-sub001/testing"
)

func testSim(t *testing.T) (*Simulator, *mem.RAM) {
	t.Helper()
	ram := mem.NewRAM(0x40000)
	s := New(Config{
		RAM:    ram,
		Lines:  rcp.NewLines(),
		Logger: log.New(io.Discard, "", 0),
	})
	t.Cleanup(func() { s.Close() })
	return s, ram
}

// startQueue boots the queue kernel with the fetch pointer at start.
func startQueue(t *testing.T, s *Simulator, start cpu.Addr) {
	t.Helper()
	rsp.Load(s, s.QueueFirmware())

	// dummy overlay 0 header and save area, normally set up by the queue
	// engine
	storeU16(s.dmem, commonDataSize, 0)
	storeU16(s.dmem, commonDataSize+2, 7)
	s.dmem.StoreWord(ovlDescOff+8, 0x40)

	s.dmem.StoreWord(dramAddrOff, uint32(start))
	s.WriteStatus(rsp.ClrHalt)
}

func TestInternalCommands(t *testing.T) {
	s, ram := testSim(t)

	ram.StoreWord(0x100, cmdNoop<<24)
	ram.StoreWord(0x104, cmdWriteStatus<<24|uint32(rsp.SetSig0))
	ram.StoreWord(0x108, cmdJump<<24|0x200)
	ram.StoreWord(0x200, cmdWriteStatus<<24|uint32(rsp.SetSig1))

	startQueue(t, s, 0x100)

	qtesting.Poll(t, time.Second, "signals", func() bool {
		return s.Status()&(rsp.Sig0|rsp.Sig1) == rsp.Sig0|rsp.Sig1
	})
	qtesting.Poll(t, time.Second, "halt", func() bool {
		return s.Status()&(rsp.Halted|rsp.Broke) == rsp.Halted|rsp.Broke
	})
	if s.Crashed() {
		t.Fatal(s.CrashMessage())
	}
}

func TestCallRet(t *testing.T) {
	s, ram := testSim(t)

	ram.StoreWord(0x100, cmdCall<<24|0x300)
	ram.StoreWord(0x104, 0) // call slot 0
	ram.StoreWord(0x108, cmdWriteStatus<<24|uint32(rsp.SetSig1))

	ram.StoreWord(0x300, cmdWriteStatus<<24|uint32(rsp.SetSig0))
	ram.StoreWord(0x304, cmdRet<<24|0)

	startQueue(t, s, 0x100)

	qtesting.Poll(t, time.Second, "return from call", func() bool {
		return s.Status()&(rsp.Sig0|rsp.Sig1) == rsp.Sig0|rsp.Sig1
	})
	if s.Crashed() {
		t.Fatal(s.CrashMessage())
	}
}

func TestDMACommand(t *testing.T) {
	s, ram := testSim(t)

	src := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	if _, err := ram.WriteAt(src, 0x800); err != nil {
		t.Fatal(err)
	}

	// load 16 bytes into DMEM, then store them back to another address
	ram.StoreWord(0x100, cmdDma<<24|0x800)
	ram.StoreWord(0x104, 0x400)
	ram.StoreWord(0x108, 15)
	ram.StoreWord(0x10c, 0)
	ram.StoreWord(0x110, cmdDma<<24|0x900)
	ram.StoreWord(0x114, 0x400)
	ram.StoreWord(0x118, 15)
	ram.StoreWord(0x11c, 0xffff_8000)
	ram.StoreWord(0x120, cmdWriteStatus<<24|uint32(rsp.SetSig0))

	startQueue(t, s, 0x100)

	qtesting.Poll(t, time.Second, "dma roundtrip", func() bool {
		return s.Status()&rsp.Sig0 != 0
	})

	got := make([]byte, len(src))
	if _, err := ram.ReadAt(got, 0x900); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(src, got) {
		t.Errorf("dma result:\n%x\n%x", src, got)
	}
}

func TestTestWriteStatus(t *testing.T) {
	s, ram := testSim(t)

	ram.StoreWord(0x100, cmdTestWriteStatus<<24|uint32(rsp.SetSig1))
	ram.StoreWord(0x104, uint32(rsp.Sig0)) // spin while SIG0 is set

	s.WriteStatus(rsp.SetSig0)
	startQueue(t, s, 0x100)

	if !qtesting.Settled(func() bool { return s.Status()&rsp.Sig1 == 0 }) {
		t.Fatal("write happened while condition held")
	}
	s.WriteStatus(rsp.ClrSig0)
	qtesting.Poll(t, time.Second, "conditional write", func() bool {
		return s.Status()&rsp.Sig1 != 0
	})
}

func TestWaitNewInputWake(t *testing.T) {
	s, ram := testSim(t)

	ram.StoreWord(0x100, cmdWriteStatus<<24|uint32(rsp.SetSig0))

	startQueue(t, s, 0x100)

	qtesting.Poll(t, time.Second, "queue drained", func() bool {
		return s.Status()&(rsp.Sig0|rsp.Halted|rsp.Broke) ==
			rsp.Sig0|rsp.Halted|rsp.Broke
	})

	// append more work and wake the device like a flush does
	ram.StoreWord(0x104, cmdWriteStatus<<24|uint32(rsp.SetSig1))
	wake := rsp.ClrHalt | rsp.ClrBroke | rsp.SetSignal(sigMore)
	s.WriteStatus(wake)
	s.WriteStatus(wake)

	qtesting.Poll(t, time.Second, "wakeup", func() bool {
		return s.Status()&rsp.Sig1 != 0
	})
	qtesting.Poll(t, time.Second, "second halt", func() bool {
		return s.Status()&rsp.Halted != 0
	})
}

// placeOverlay wires an overlay image into RAM and the DMEM tables by hand,
// the way the queue engine does it.
func placeOverlay(t *testing.T, s *Simulator, ram *mem.RAM, uc *ucode.UCode, id, descIdx int, at cpu.Addr) {
	t.Helper()
	textAddr, dataAddr := at, at+0x100
	if _, err := ram.WriteAt(uc.Text, int64(textAddr)); err != nil {
		t.Fatal(err)
	}
	if _, err := ram.WriteAt(uc.Data, int64(dataAddr)); err != nil {
		t.Fatal(err)
	}
	stateStart := binary.BigEndian.Uint16(uc.Data[commonDataSize:])

	cb := []byte{0, 0}
	binary.BigEndian.PutUint16(cb, uint16(id)<<5)
	if _, err := ram.WriteAt(cb, int64(dataAddr)+commonDataSize+4); err != nil {
		t.Fatal(err)
	}

	desc := ovlDescOff + cpu.Addr(descIdx*16)
	s.dmem.StoreWord(desc, uint32(textAddr)+commonTextSize)
	s.dmem.StoreWord(desc+4, uint32(dataAddr)+commonDataSize)
	s.dmem.StoreWord(desc+8, uint32(dataAddr)+uint32(stateStart))
	storeU16(s.dmem, desc+12, uint16(len(uc.Text)-commonTextSize-1))
	storeU16(s.dmem, desc+14, uint16(len(uc.Data)-commonDataSize-1))

	if _, err := s.dmem.WriteAt([]byte{byte(descIdx * 16)}, int64(ovlTableOff)+int64(id)); err != nil {
		t.Fatal(err)
	}
}

func incOverlay(s *Simulator, name string) *ucode.UCode {
	return s.Overlay(OverlaySpec{
		Name: name,
		Commands: []Command{{
			Words: 1,
			Fn: func(m *Machine, cmd []uint32) {
				m.SetState(0, m.State(0)+cmd[0]&0xff_ffff)
			},
		}},
		StateSize: 8,
	})
}

// Dispatching commands of two overlays forces overlay switches, which must
// save and restore the per overlay state.
func TestOverlayStateSwitching(t *testing.T) {
	s, ram := testSim(t)

	ucA := incOverlay(s, "incA")
	ucB := incOverlay(s, "incB")
	placeOverlay(t, s, ram, ucA, 1, 1, 0x4000)
	placeOverlay(t, s, ram, ucB, 2, 2, 0x5000)

	ram.StoreWord(0x100, 0x10<<24|5) // overlay 1, command 0
	ram.StoreWord(0x104, 0x20<<24|7) // overlay 2, command 0
	ram.StoreWord(0x108, 0x10<<24|3)
	ram.StoreWord(0x10c, cmdWriteStatus<<24|uint32(rsp.SetSig0))

	startQueue(t, s, 0x100)

	qtesting.Poll(t, time.Second, "overlay commands", func() bool {
		return s.Status()&rsp.Sig0 != 0
	})
	if s.Crashed() {
		t.Fatal(s.CrashMessage())
	}

	// overlay 1 is resident, its state lives in DMEM
	stateStart := cpu.Addr(binary.BigEndian.Uint16(ucA.Data[commonDataSize:]))
	if got := s.dmem.LoadWord(stateStart); got != 8 {
		t.Errorf("resident state: %d", got)
	}
	// overlay 2 was switched out, its state was saved back to RAM
	savedB := cpu.Addr(0x5100) + cpu.Addr(binary.BigEndian.Uint16(ucB.Data[commonDataSize:]))
	if got := ram.LoadWord(savedB); got != 7 {
		t.Errorf("saved state: %d", got)
	}
}

func TestInvalidCommandCrash(t *testing.T) {
	s, ram := testSim(t)

	ram.StoreWord(0x100, 0x0c00_0000)
	startQueue(t, s, 0x100)

	qtesting.Poll(t, time.Second, "crash", s.Crashed)
	if s.Status()&(rsp.Halted|rsp.Broke) != rsp.Halted|rsp.Broke {
		t.Error("crashed device not halted")
	}
}

func TestInvalidOverlayCrash(t *testing.T) {
	s, ram := testSim(t)

	ram.StoreWord(0x100, 0xd000_0000)
	startQueue(t, s, 0x100)

	qtesting.Poll(t, time.Second, "crash", s.Crashed)
	if msg := s.CrashMessage(); msg == "" {
		t.Error("missing crash message")
	}
}
