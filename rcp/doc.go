// Package rcp models the interrupt routing of the Reality Coprocessor.
//
// All of the RCP's peripherals share a single interrupt line to the CPU.  The
// [Lines] type multiplexes them the way the MI registers do in hardware:
// peripherals raise flags, the CPU masks them and registers handlers.
package rcp

// Reality Coprocessor
// https://ultra64.ca/files/documentation/online-manuals/man/pro-man/pro08/index8.1.html
