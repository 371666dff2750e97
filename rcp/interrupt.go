package rcp

import (
	"sync"
)

// The RCP has multiple interrupts, which are all routed to the same external
// interrupt line on the CPU.  So all of these are dispatched by the same
// [Lines] instance.
type InterruptFlag uint32

const (
	SignalProcessor     InterruptFlag = 1 << iota // RSP breakpoint or software interrupt
	SerialInterface                               // SI DMA to/from PIF RAM finished
	AudioInterface                                // playback of audio buffer started
	VideoInterface                                // VBlank
	PeripheralInterface                           // PI bus DMA transfer finished
	DisplayProcessor                              // RDP full sync (see FULL_SYNC command)

	InterruptFlagLast
)

// Lines dispatches interrupts raised by peripherals to registered handlers.
//
// A handler runs on the goroutine that raised the interrupt, so it must not
// block and must only share state with the rest of the program through
// atomic or otherwise synchronized access.  Interrupts raised while masked
// stay pending and are delivered when the line is enabled.
type Lines struct {
	mu       sync.Mutex
	mask     InterruptFlag
	pending  InterruptFlag
	handlers [6]func()
}

func NewLines() *Lines {
	return &Lines{}
}

// SetHandler registers handler for the given interrupt.  A nil handler
// removes the registration.  Raising an enabled interrupt without a handler
// is fatal.
func (l *Lines) SetHandler(intr InterruptFlag, handler func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	irq := 0
	for flag := InterruptFlag(1); flag != InterruptFlagLast; flag = flag << 1 {
		if flag&intr != 0 {
			l.handlers[irq] = handler
			break
		}
		irq += 1
	}
}

// Handler returns the currently registered handler for the given interrupt.
func (l *Lines) Handler(intr InterruptFlag) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	irq := 0
	for flag := InterruptFlag(1); flag != InterruptFlagLast; flag = flag << 1 {
		if flag&intr != 0 {
			return l.handlers[irq]
		}
		irq += 1
	}
	return nil
}

// Enable unmasks the given interrupts.  Interrupts that were raised while
// masked are delivered now.
func (l *Lines) Enable(mask InterruptFlag) {
	l.mu.Lock()
	l.mask |= mask
	l.mu.Unlock()
	l.dispatch()
}

// Disable masks the given interrupts.
func (l *Lines) Disable(mask InterruptFlag) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mask &^= mask
}

// Enabled reports whether all interrupts in mask are unmasked.
func (l *Lines) Enabled(mask InterruptFlag) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mask&mask == mask
}

// Raise flags an interrupt from a peripheral.  If the interrupt is enabled
// its handler runs on the calling goroutine before Raise returns, otherwise
// it stays pending.
func (l *Lines) Raise(intr InterruptFlag) {
	l.mu.Lock()
	l.pending |= intr
	l.mu.Unlock()
	l.dispatch()
}

func (l *Lines) dispatch() {
	for {
		l.mu.Lock()
		active := l.pending & l.mask
		if active == 0 {
			l.mu.Unlock()
			return
		}
		irq := 0
		flag := InterruptFlag(1)
		for flag&active == 0 {
			flag, irq = flag<<1, irq+1
		}
		l.pending &^= flag
		handler := l.handlers[irq]
		l.mu.Unlock()

		if handler == nil {
			panic("unhandled interrupt")
		}
		handler()
	}
}
