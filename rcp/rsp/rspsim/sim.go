// Package rspsim provides a software model of the signal processor for
// running command queues without hardware.
//
// The simulator owns a goroutine that takes the place of the RSP: it runs
// the loaded microcode against the same RDRAM the CPU side writes to and
// communicates only through the status register, exactly like the real
// device.  Microcode is registered as Go handlers and referenced from the
// generated ucode images, see [Simulator.Program] and [Simulator.Overlay].
package rspsim

import (
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/DragonMinded/libdragon-sub001/rcp"
	"github.com/DragonMinded/libdragon-sub001/rcp/cpu"
	"github.com/DragonMinded/libdragon-sub001/rcp/mem"
	"github.com/DragonMinded/libdragon-sub001/rcp/rsp"
)

// Ucode images generated by this package mark their text segments with this
// word, followed by the index of the registered program.
const progMagic = 0x52535051 // "RSPQ"

type Config struct {
	RAM   *mem.RAM   // shared RDRAM, required
	Lines *rcp.Lines // interrupt routing, required

	// Logger receives crash reports.  Defaults to [log.Default].
	Logger *log.Logger
}

// Simulator models the signal processor.  It implements [rsp.Device].
//
// The device starts halted.  Clearing the halt flag via
// [Simulator.WriteStatus] starts execution of the loaded microcode on the
// simulator's goroutine.
type Simulator struct {
	cfg   Config
	ram   *mem.RAM
	imem  *mem.RAM
	dmem  *mem.RAM
	lines *rcp.Lines

	status atomic.Uint32
	pc     atomic.Uint32

	mu    sync.Mutex
	progs []*program

	dead     atomic.Bool
	crashMsg atomic.Pointer[string]
	stop     atomic.Bool
	done     chan struct{}

	cmdBuf [64]uint32
}

func New(cfg Config) *Simulator {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	s := &Simulator{
		cfg:   cfg,
		ram:   cfg.RAM,
		imem:  mem.NewRAM(rsp.MemSize),
		dmem:  mem.NewRAM(rsp.MemSize),
		lines: cfg.Lines,
		progs: make([]*program, 1), // index 0 is the queue kernel
		done:  make(chan struct{}),
	}
	s.status.Store(uint32(rsp.Halted))
	go s.run()
	return s
}

// Close stops the simulator's goroutine.  It is safe to call multiple times.
func (s *Simulator) Close() error {
	if s.stop.Swap(true) {
		return nil
	}
	<-s.done
	return nil
}

// Status implements [rsp.Device].
func (s *Simulator) Status() rsp.StatusFlags {
	return rsp.StatusFlags(s.status.Load())
}

// WriteStatus implements [rsp.Device].  All modifications requested by w
// take effect in a single atomic transition.
func (s *Simulator) WriteStatus(w rsp.WStatus) {
	for {
		old := s.status.Load()
		next := uint32(applyWStatus(rsp.StatusFlags(old), w))
		if s.status.CompareAndSwap(old, next) {
			break
		}
	}
	if w&rsp.SetIntr != 0 {
		s.lines.Raise(rcp.SignalProcessor)
	}
}

func applyWStatus(st rsp.StatusFlags, w rsp.WStatus) rsp.StatusFlags {
	clr, set := rsp.StatusFlags(0), rsp.StatusFlags(0)
	if w&rsp.ClrHalt != 0 {
		clr |= rsp.Halted
	}
	if w&rsp.SetHalt != 0 {
		set |= rsp.Halted
	}
	if w&rsp.ClrBroke != 0 {
		clr |= rsp.Broke
	}
	if w&rsp.ClrSingleStep != 0 {
		clr |= rsp.SingleStep
	}
	if w&rsp.SetSingleStep != 0 {
		set |= rsp.SingleStep
	}
	if w&rsp.ClrIntrOnBreak != 0 {
		clr |= rsp.IntrOnBreak
	}
	if w&rsp.SetIntrOnBreak != 0 {
		set |= rsp.IntrOnBreak
	}
	for n := 0; n < 8; n++ {
		if w&rsp.ClrSignal(n) != 0 {
			clr |= rsp.SignalFlag(n)
		}
		if w&rsp.SetSignal(n) != 0 {
			set |= rsp.SignalFlag(n)
		}
	}
	return st&^clr | set
}

// IMEM implements [rsp.Device].
func (s *Simulator) IMEM() *mem.RAM { return s.imem }

// DMEM implements [rsp.Device].
func (s *Simulator) DMEM() *mem.RAM { return s.dmem }

// RAM implements [rsp.Device].
func (s *Simulator) RAM() *mem.RAM { return s.ram }

// PC implements [rsp.Device].
func (s *Simulator) PC() cpu.Addr { return cpu.Addr(s.pc.Load()) }

// SetPC implements [rsp.Device].
func (s *Simulator) SetPC(pc cpu.Addr) { s.pc.Store(uint32(pc)) }

// Crashed reports whether the microcode hit a fatal condition.  A crashed
// device stays halted until closed.
func (s *Simulator) Crashed() bool { return s.dead.Load() }

// CrashMessage returns the reason of the crash, if any.
func (s *Simulator) CrashMessage() string {
	if msg := s.crashMsg.Load(); msg != nil {
		return *msg
	}
	return ""
}

func (s *Simulator) crash(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.crashMsg.CompareAndSwap(nil, &msg)
	s.dead.Store(true)
	s.status.Or(uint32(rsp.Halted | rsp.Broke))
	s.cfg.Logger.Printf("rsp crash: %s", msg)
}

func (s *Simulator) run() {
	defer close(s.done)
	for !s.stop.Load() {
		if s.dead.Load() || s.Status()&rsp.Halted != 0 {
			runtime.Gosched()
			continue
		}
		s.step()
	}
}

func (s *Simulator) step() {
	if s.imem.LoadWord(0) != progMagic {
		s.crash("no firmware loaded")
		return
	}
	idx := int(s.imem.LoadWord(4))
	if idx == 0 {
		s.stepQueue()
		return
	}

	prog := s.program(idx)
	if prog == nil || prog.run == nil {
		s.crash("invalid program %d", idx)
		return
	}
	prog.run(&Machine{sim: s})
	s.breakHalt()
}

// breakHalt models the break instruction: the device halts and raises an
// interrupt if enabled.
func (s *Simulator) breakHalt() {
	s.status.Or(uint32(rsp.Halted | rsp.Broke))
	if s.Status()&rsp.IntrOnBreak != 0 {
		s.lines.Raise(rcp.SignalProcessor)
	}
}

func (s *Simulator) program(idx int) *program {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.progs) {
		return nil
	}
	return s.progs[idx]
}
