// Command mon runs the queue engine against the simulated signal processor
// and takes queue operations interactively from stdin.  It's meant for
// poking at the wire protocol and inspecting device state without writing a
// test first.
package mon

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/buildkite/shellwords"

	"github.com/DragonMinded/libdragon-sub001/drivers/rspq"
	"github.com/DragonMinded/libdragon-sub001/rcp"
	"github.com/DragonMinded/libdragon-sub001/rcp/cpu"
	"github.com/DragonMinded/libdragon-sub001/rcp/mem"
	"github.com/DragonMinded/libdragon-sub001/rcp/rsp"
	"github.com/DragonMinded/libdragon-sub001/rcp/rsp/rspsim"
)

const usageString = `Interactive monitor for the rspq command queue.

Usage: %s [flags]

`

const helpString = `commands:
  write <cmd> [arg ...]             append a command, numbers are Go literals
  flush                             wake the device
  wait                              drain the queue and all transfers
  sync                              create a syncpoint and wait for it
  signal <set|clr>                  set or clear signal 0
  dma <read|write> <rdram> <sp> <n> queue a synchronous transfer
  highpri <begin|end|sync>
  block <begin|end|run N|free N>
  dump                              dump device state
  mem <addr> [words]                hex dump RDRAM
  quit
`

var (
	flags = flag.NewFlagSet("mon", flag.ExitOnError)

	ramSize     = flags.Int("ram", 0x100000, "RDRAM size in bytes")
	lowpriSize  = flags.Int("lowpri", 0, "lowpri buffer size in words")
	highpriSize = flags.Int("highpri", 0, "highpri buffer size in words")
)

func usage() {
	fmt.Fprintf(flags.Output(), usageString, "mon")
	flags.PrintDefaults()
}

type monitor struct {
	q      *rspq.Queue
	sim    *rspsim.Simulator
	blocks map[int]*rspq.Block
	nextID int
}

func Main(args []string) {
	flags.Usage = usage
	flags.Parse(args[1:])
	if flags.NArg() != 0 {
		flags.Usage()
		os.Exit(1)
	}

	lines := rcp.NewLines()
	sim := rspsim.New(rspsim.Config{RAM: mem.NewRAM(*ramSize), Lines: lines})
	defer sim.Close()

	q := rspq.New(sim, rspq.Config{
		Lines:       lines,
		Firmware:    sim.QueueFirmware(),
		LowpriSize:  *lowpriSize,
		HighpriSize: *highpriSize,
		WaitTimeout: 2 * time.Second,
	})
	defer q.Close()

	m := &monitor{q: q, sim: sim, blocks: make(map[int]*rspq.Block)}
	fmt.Print(helpString + "\n")

	scanner := bufio.NewScanner(os.Stdin)
	for fmt.Print("rspq> "); scanner.Scan(); fmt.Print("rspq> ") {
		words, err := shellwords.Split(scanner.Text())
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		if len(words) == 0 {
			continue
		}
		if !m.dispatch(words) {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalln(err)
	}
}

// dispatch runs one command line.  The queue engine reports misuse through
// panics, which are caught here so a typo doesn't kill the session.  State
// after a recovered panic is suspect, a restart is in order.
func (m *monitor) dispatch(words []string) (cont bool) {
	cont = true
	defer func() {
		if p := recover(); p != nil {
			fmt.Println("error:", p)
		}
	}()

	switch cmd, args := words[0], words[1:]; cmd {
	case "write":
		if len(args) < 1 {
			fmt.Println("usage: write <cmd> [arg ...]")
			return
		}
		c, err := parseWord(args[0])
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		cmdArgs := make([]uint32, 0, len(args)-1)
		for _, a := range args[1:] {
			w, err := parseWord(a)
			if err != nil {
				fmt.Println("error:", err)
				return
			}
			cmdArgs = append(cmdArgs, w)
		}
		m.q.Write(rspq.Command(c), cmdArgs...)
	case "flush":
		m.q.Flush()
	case "wait":
		m.q.Wait()
	case "sync":
		s := m.q.SyncpointNew()
		m.q.SyncpointWait(s)
		fmt.Println("reached syncpoint", s)
	case "signal":
		m.signal(args)
	case "dma":
		m.dma(args)
	case "highpri":
		m.highpri(args)
	case "block":
		m.block(args)
	case "dump":
		m.q.DumpState(os.Stdout)
	case "mem":
		m.mem(args)
	case "help":
		fmt.Print(helpString + "\n")
	case "quit", "exit":
		return false
	default:
		fmt.Printf("unknown command %q, try help\n", cmd)
	}
	return
}

func (m *monitor) signal(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: signal <set|clr>")
		return
	}
	switch args[0] {
	case "set":
		m.q.Signal(rsp.SetSig0)
	case "clr":
		m.q.Signal(rsp.ClrSig0)
	default:
		fmt.Println("usage: signal <set|clr>")
	}
}

func (m *monitor) dma(args []string) {
	if len(args) != 4 {
		fmt.Println("usage: dma <read|write> <rdram> <sp> <n>")
		return
	}
	rdram, err1 := parseWord(args[1])
	sp, err2 := parseWord(args[2])
	n, err3 := parseWord(args[3])
	for _, err := range []error{err1, err2, err3} {
		if err != nil {
			fmt.Println("error:", err)
			return
		}
	}
	switch args[0] {
	case "read":
		m.q.DMARead(cpu.Addr(rdram), cpu.Addr(sp), int(n), false)
	case "write":
		m.q.DMAWrite(cpu.Addr(rdram), cpu.Addr(sp), int(n), false)
	default:
		fmt.Println("usage: dma <read|write> <rdram> <sp> <n>")
	}
}

func (m *monitor) highpri(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: highpri <begin|end|sync>")
		return
	}
	switch args[0] {
	case "begin":
		m.q.HighpriBegin()
	case "end":
		m.q.HighpriEnd()
	case "sync":
		m.q.HighpriSync()
	default:
		fmt.Println("usage: highpri <begin|end|sync>")
	}
}

func (m *monitor) block(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: block <begin|end|run N|free N>")
		return
	}
	switch args[0] {
	case "begin":
		m.q.BlockBegin()
		fmt.Println("recording")
	case "end":
		b := m.q.BlockEnd()
		m.blocks[m.nextID] = b
		fmt.Println("recorded block", m.nextID)
		m.nextID++
	case "run", "free":
		if len(args) != 2 {
			fmt.Println("usage: block", args[0], "N")
			return
		}
		id, err := strconv.Atoi(args[1])
		b := m.blocks[id]
		if err != nil || b == nil {
			fmt.Println("no such block:", args[1])
			return
		}
		if args[0] == "run" {
			m.q.BlockRun(b)
		} else {
			m.q.BlockFree(b)
			delete(m.blocks, id)
		}
	default:
		fmt.Println("usage: block <begin|end|run N|free N>")
	}
}

func (m *monitor) mem(args []string) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Println("usage: mem <addr> [words]")
		return
	}
	addr, err := parseWord(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	words := uint32(16)
	if len(args) == 2 {
		if words, err = parseWord(args[1]); err != nil {
			fmt.Println("error:", err)
			return
		}
	}
	ram := m.sim.RAM()
	addr &^= 0x3
	for i := uint32(0); i < words && int(addr+4*i) < ram.Size(); i++ {
		if i%8 == 0 {
			if i != 0 {
				fmt.Println()
			}
			fmt.Printf("%08x:", addr+4*i)
		}
		fmt.Printf(" %08x", ram.LoadWord(cpu.Addr(addr+4*i)))
	}
	fmt.Println()
}

func parseWord(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	return uint32(v), err
}
