package rspq_test

import (
	"testing"
	"time"

	"github.com/DragonMinded/libdragon-sub001/drivers/rspq"
	"github.com/DragonMinded/libdragon-sub001/rcp"
	"github.com/DragonMinded/libdragon-sub001/rcp/mem"
	"github.com/DragonMinded/libdragon-sub001/rcp/rsp/rspsim"
)

func TestBlockRun(t *testing.T) {
	q, sim := testQueue(t, rspq.Config{})
	ovl := counterOverlay(sim, "counter")
	id := q.OverlayRegister(ovl)

	q.BlockBegin()
	var once uint32
	for i := uint32(1); i <= 100; i++ {
		q.Write(ovlCmd(id, cmdAdd), i)
		once += i
	}
	b := q.BlockEnd()

	// Replays interleave with directly written commands.
	q.BlockRun(b)
	q.Write(ovlCmd(id, cmdAdd), 1)
	q.BlockRun(b)
	q.Flush()
	q.Wait()

	state := q.OverlayGetState(ovl)
	if got := sim.RAM().LoadWord(state); got != 2*once+1 {
		t.Fatalf("expected %d, got %d", 2*once+1, got)
	}
	q.BlockFree(b)
}

// A recording only becomes visible through its replays: ending a block must
// not execute it, running it twice executes it twice.
func TestBlockDoesNotAutorun(t *testing.T) {
	q, sim := testQueue(t, rspq.Config{})
	ovl := counterOverlay(sim, "counter")
	id := q.OverlayRegister(ovl)

	q.BlockBegin()
	q.Write(ovlCmd(id, cmdAdd), 1)
	q.Flush() // no-op while recording
	b := q.BlockEnd()
	q.Wait()

	state := q.OverlayGetState(ovl)
	if got := sim.RAM().LoadWord(state); got != 0 {
		t.Fatalf("block ran without BlockRun: state %d", got)
	}
	q.BlockFree(b)
}

// Blocks larger than the maximum chunk size span a chain of chunks linked
// by jumps.
func TestBlockChunks(t *testing.T) {
	q, sim := testQueue(t, rspq.Config{BlockMaxSize: 256})
	ovl := counterOverlay(sim, "counter")
	id := q.OverlayRegister(ovl)

	q.BlockBegin()
	var want uint32
	for i := uint32(1); i <= 3000; i++ {
		q.Write(ovlCmd(id, cmdAdd), i)
		want += i
	}
	b := q.BlockEnd()

	q.BlockRun(b)
	q.Flush()
	q.Wait()

	state := q.OverlayGetState(ovl)
	if got := sim.RAM().LoadWord(state); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
	q.BlockFree(b)
}

func TestBlockNesting(t *testing.T) {
	q, sim := testQueue(t, rspq.Config{})
	ovl := counterOverlay(sim, "counter")
	id := q.OverlayRegister(ovl)

	q.BlockBegin()
	for range 10 {
		q.Write(ovlCmd(id, cmdAdd), 1)
	}
	inner := q.BlockEnd()

	q.BlockBegin()
	q.Write(ovlCmd(id, cmdAdd), 100)
	q.BlockRun(inner)
	q.Write(ovlCmd(id, cmdAdd), 100)
	outer := q.BlockEnd()

	q.BlockBegin()
	q.BlockRun(outer)
	q.BlockRun(inner)
	top := q.BlockEnd()

	q.BlockRun(top)
	q.BlockRun(inner)
	q.Flush()
	q.Wait()

	// top = outer + inner = (210 + 10), plus the direct inner
	state := q.OverlayGetState(ovl)
	if got := sim.RAM().LoadWord(state); got != 230 {
		t.Fatalf("expected 230, got %d", got)
	}
	q.BlockFree(top)
	q.BlockFree(outer)
	q.BlockFree(inner)
}

func TestBlockFree(t *testing.T) {
	lines := rcp.NewLines()
	sim := rspsim.New(rspsim.Config{RAM: mem.NewRAM(testRAMSize), Lines: lines})
	defer sim.Close()
	arena := mem.NewArena(sim.RAM())
	q := rspq.New(sim, rspq.Config{
		Lines:       lines,
		Firmware:    sim.QueueFirmware(),
		Arena:       arena,
		WaitTimeout: time.Second,
	})
	defer q.Close()

	base := arena.LiveAllocs()
	q.BlockBegin()
	for range 500 {
		q.Noop()
	}
	b := q.BlockEnd()
	if arena.LiveAllocs() <= base {
		t.Fatal("block chunks were not allocated from the arena")
	}

	q.BlockRun(b)
	q.Flush()
	q.Wait()

	q.BlockFree(b)
	if n := arena.LiveAllocs(); n != base {
		t.Fatalf("%d chunks leaked", n-base)
	}
}
