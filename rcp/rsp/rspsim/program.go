package rspsim

import (
	"encoding/binary"

	"github.com/DragonMinded/libdragon-sub001/debug"
	"github.com/DragonMinded/libdragon-sub001/rcp/cpu"
	"github.com/DragonMinded/libdragon-sub001/rcp/mem"
	"github.com/DragonMinded/libdragon-sub001/rcp/rsp/ucode"
)

type program struct {
	name string
	run  func(m *Machine) // standalone programs
	cmds []Command        // queue overlays
}

// Machine is the execution environment passed to microcode handlers.  It
// gives access to the memories visible to the signal processor.
type Machine struct {
	sim      *Simulator
	stateOff cpu.Addr
	stateLen int
}

// RAM returns the shared RDRAM.
func (m *Machine) RAM() *mem.RAM { return m.sim.ram }

// DMEM returns the signal processor's data memory.
func (m *Machine) DMEM() *mem.RAM { return m.sim.dmem }

// State returns word i of the overlay's persistent state.
func (m *Machine) State(i int) uint32 {
	debug.Assertf(i >= 0 && 4*i < m.stateLen, "state word out of bounds: %d", i)
	return m.sim.dmem.LoadWord(m.stateOff + cpu.Addr(4*i))
}

// SetState sets word i of the overlay's persistent state.
func (m *Machine) SetState(i int, v uint32) {
	debug.Assertf(i >= 0 && 4*i < m.stateLen, "state word out of bounds: %d", i)
	m.sim.dmem.StoreWord(m.stateOff+cpu.Addr(4*i), v)
}

// HandlerFunc executes a single overlay command.  cmd holds the command's
// words as fetched from the queue, including the command byte in cmd[0].
// The slice is reused between commands and must not be retained.
type HandlerFunc func(m *Machine, cmd []uint32)

// Command describes one command of an overlay.
type Command struct {
	Words int // fixed size in words, 1..63
	Fn    HandlerFunc
}

// OverlaySpec describes an overlay to generate with [Simulator.Overlay].
type OverlaySpec struct {
	Name     string
	Commands []Command

	// StateSize is the size in bytes of the overlay's persistent state.
	// It is rounded up to a multiple of 8, with a minimum of 8.
	StateSize int
}

// QueueFirmware generates the command queue kernel.  Feed it to the queue
// engine, which loads it into the device.
func (s *Simulator) QueueFirmware() *ucode.UCode {
	text := make([]byte, commonTextSize)
	binary.BigEndian.PutUint32(text, progMagic)
	// program index 0 in the second word: the kernel itself

	data := make([]byte, commonDataSize)
	copy(data, queueBanner)

	return &ucode.UCode{Name: "rspq", Entry: 0, Text: text, Data: data}
}

// Program registers fn and returns a standalone microcode that runs it once
// and breaks.  Load it with [rsp.Load] onto a halted device.
func (s *Simulator) Program(name string, fn func(m *Machine)) *ucode.UCode {
	idx := s.register(&program{name: name, run: fn})

	text := make([]byte, 8)
	binary.BigEndian.PutUint32(text, progMagic)
	binary.BigEndian.PutUint32(text[4:], uint32(idx))

	return &ucode.UCode{Name: name, Entry: 0, Text: text}
}

// Overlay registers the spec's handlers and generates a loadable overlay
// microcode.  The image starts with the kernel's common prefix, followed by
// the overlay's text stub, the overlay header with the command length table
// and the zeroed initial state.
func (s *Simulator) Overlay(spec OverlaySpec) *ucode.UCode {
	debug.Assert(len(spec.Commands) > 0, "overlay without commands")
	debug.Assert(len(spec.Commands) <= 0xf0, "too many overlay commands")
	for _, c := range spec.Commands {
		debug.Assertf(c.Words >= 1 && c.Words <= 63 && c.Fn != nil,
			"bad overlay command: %d words", c.Words)
	}

	idx := s.register(&program{name: spec.Name, cmds: spec.Commands})

	text := make([]byte, commonTextSize+8)
	binary.BigEndian.PutUint32(text, progMagic)
	binary.BigEndian.PutUint32(text[commonTextSize:], progMagic)
	binary.BigEndian.PutUint32(text[commonTextSize+4:], uint32(idx))

	tableBytes := 2 * (len(spec.Commands) + 1) // zero terminated
	stateStart := (commonDataSize + 8 + tableBytes + 7) &^ 7
	stateSize := max((spec.StateSize+7)&^7, 8)

	data := make([]byte, stateStart+stateSize)
	copy(data, queueBanner)
	hdr := data[commonDataSize:]
	binary.BigEndian.PutUint16(hdr[0:], uint16(stateStart))
	binary.BigEndian.PutUint16(hdr[2:], uint16(stateSize-1))
	// command base in hdr[4:6] is assigned by the queue engine
	for i, c := range spec.Commands {
		binary.BigEndian.PutUint16(hdr[8+2*i:], uint16(c.Words))
	}

	return &ucode.UCode{Name: spec.Name, Entry: 0, Text: text, Data: data}
}

func (s *Simulator) register(p *program) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progs = append(s.progs, p)
	return len(s.progs) - 1
}
