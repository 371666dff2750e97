package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/DragonMinded/libdragon-sub001/tools/mon"
	"github.com/DragonMinded/libdragon-sub001/tools/ucode"
)

const usageString = `rspqtool is a development tool for the rspq command queue.

Usage:

	%s <command> [arguments]

The commands are:

	mon      interactive queue monitor on the simulated device
	ucode    convert elf microcode to the ucode container format
`

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), usageString, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	log.Default().SetFlags(0)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	switch flag.Arg(0) {
	case "mon":
		mon.Main(flag.Args())
	case "ucode":
		ucode.Main(flag.Args())
	default:
		fmt.Fprintf(flag.CommandLine.Output(), "unknown command: %s\n", flag.Arg(0))
		flag.Usage()
		os.Exit(1)
	}
}
