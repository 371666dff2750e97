// Package cpu provides the address vocabulary shared by the memory and
// coprocessor packages.
package cpu

// The CPU's clock speed
const ClockSpeed = 93.75e6

// Addr represents a physical memory address as seen by the RCP, i.e. the
// offset of a byte in RDRAM.  The zero Addr is never handed out by an
// allocator and can be used as a null value.
type Addr uint32
