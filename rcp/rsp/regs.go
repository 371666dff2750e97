// The signal processor provides fast vector instructions.  It's usually used
// for vertex transformations and audio mixing.  There are several
// precompiled microcodes which can be loaded to provide different
// functionalities.
//
// This package defines the CPU's contract with a signal processor: the
// status register bits, the write masks that modify them and the [Device]
// interface that gives access to registers and memories.
package rsp

// StatusFlags is the value of the SP status register.
type StatusFlags uint32

const (
	Halted StatusFlags = 1 << iota
	Broke
	DMABusy
	DMAFull
	IOBusy
	SingleStep
	IntrOnBreak
	Sig0
	Sig1
	Sig2
	Sig3
	Sig4
	Sig5
	Sig6
	Sig7
)

// SignalFlag returns the status flag of signal n.
func SignalFlag(n int) StatusFlags { return Sig0 << n }

// WStatus is a write to the SP status register.  Each bit requests a single
// modification of the status register.  All requested modifications are
// applied in one atomic register write.
type WStatus uint32

const (
	ClrHalt WStatus = 1 << iota
	SetHalt
	ClrBroke
	ClrIntr
	SetIntr
	ClrSingleStep
	SetSingleStep
	ClrIntrOnBreak
	SetIntrOnBreak
	ClrSig0
	SetSig0
	ClrSig1
	SetSig1
	ClrSig2
	SetSig2
	ClrSig3
	SetSig3
	ClrSig4
	SetSig4
	ClrSig5
	SetSig5
	ClrSig6
	SetSig6
	ClrSig7
	SetSig7
)

// ClrSignal returns the write mask that clears signal n.
func ClrSignal(n int) WStatus { return ClrSig0 << (2 * n) }

// SetSignal returns the write mask that sets signal n.
func SetSignal(n int) WStatus { return SetSig0 << (2 * n) }
