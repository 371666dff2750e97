// Command ucode converts RSP microcode from ELF into the serialized ucode
// container consumed by [rspucode.Load].
package ucode

import (
	"debug/elf"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/DragonMinded/libdragon-sub001/rcp/cpu"
	"github.com/DragonMinded/libdragon-sub001/rcp/rsp"
	rspucode "github.com/DragonMinded/libdragon-sub001/rcp/rsp/ucode"
)

const usageString = `RSP microcode converter.

Extracts the text and data segments of an ELF microcode and stores them as
a checksummed ucode container.

Usage: %s [flags] <elffile>

`

var (
	flags = flag.NewFlagSet("ucode", flag.ExitOnError)

	infile string
	name   = flags.String("name", "", "microcode name, defaults to the file name")
)

func usage() {
	fmt.Fprintf(flags.Output(), usageString, "ucode")
	flags.PrintDefaults()
}

func Main(args []string) {
	flags.Usage = usage
	flags.Parse(args[1:])

	if flags.NArg() == 1 {
		infile = flags.Arg(0)
	} else {
		flags.Usage()
		os.Exit(1)
	}

	outfile, _ := strings.CutSuffix(infile, ".elf")
	if *name == "" {
		*name = filepath.Base(outfile)
	}

	elffile, err := elf.Open(infile)
	if err != nil {
		log.Fatalln(err)
	}
	defer elffile.Close()

	var text, data []byte
	for _, s := range elffile.Sections {
		if s.Type != elf.SHT_PROGBITS || s.Flags&elf.SHF_ALLOC == 0 {
			continue
		}
		segment, err := s.Data()
		if err != nil {
			log.Fatalln(err)
		}
		if len(segment) > rsp.MemSize {
			log.Fatalf("section %s exceeds %d bytes", s.Name, rsp.MemSize)
		}
		if s.Flags&elf.SHF_EXECINSTR != 0 {
			text = append(text, segment...)
		} else {
			data = append(data, segment...)
		}
	}
	if len(text) == 0 {
		log.Fatalln("no text section found")
	}

	uc := rspucode.UCode{
		Name:  *name,
		Entry: cpu.Addr(elffile.Entry),
		Text:  text,
		Data:  data,
	}

	f, err := os.Create(outfile + ".ucode")
	if err != nil {
		log.Fatalln(err)
	}
	defer f.Close()
	if err := uc.Store(f); err != nil {
		log.Fatalln(err)
	}
}
