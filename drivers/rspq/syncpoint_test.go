package rspq_test

import (
	"slices"
	"testing"

	"github.com/DragonMinded/libdragon-sub001/drivers/rspq"
)

func TestSyncpoint(t *testing.T) {
	q, sim := testQueue(t, rspq.Config{})
	ovl := counterOverlay(sim, "counter")
	id := q.OverlayRegister(ovl)

	// Park the device so the syncpoints provably lie ahead of it.
	q.Write(ovlCmd(id, cmdGate), 0, uint32(gateAddr))
	var points []rspq.Syncpoint
	for range 5 {
		points = append(points, q.SyncpointNew())
	}
	q.Flush()

	for _, s := range points {
		if q.SyncpointCheck(s) {
			t.Fatal("syncpoint reached before the device got there")
		}
	}

	openGate(sim)
	q.SyncpointWait(points[len(points)-1])

	// Reaching the last one implies all earlier ones.
	for _, s := range points {
		if !q.SyncpointCheck(s) {
			t.Fatal("earlier syncpoint not reached")
		}
	}
}

func TestSyncpointChurn(t *testing.T) {
	q, sim := testQueue(t, rspq.Config{})

	for range 100 {
		q.Noop()
		q.SyncpointWait(q.SyncpointNew())
	}
	if sim.Crashed() {
		t.Fatal("device crashed:", sim.CrashMessage())
	}
}

func TestCallDeferred(t *testing.T) {
	q, sim := testQueue(t, rspq.Config{})
	ovl := counterOverlay(sim, "counter")
	id := q.OverlayRegister(ovl)

	q.Write(ovlCmd(id, cmdGate), 0, uint32(gateAddr))

	var got []int
	q.CallDeferred(func() { got = append(got, 1) })
	q.CallDeferred(func() { got = append(got, 2) })
	q.Flush()

	if len(got) != 0 {
		t.Fatal("deferred call ran before its syncpoint")
	}

	openGate(sim)
	q.Wait()

	if !slices.Equal(got, []int{1, 2}) {
		t.Fatalf("deferred calls ran as %v", got)
	}
}

// A deferred call keeps later deferred calls queued until its own
// syncpoint has passed, even across several waits.
func TestSyncpointNewCB(t *testing.T) {
	q, sim := testQueue(t, rspq.Config{})

	var ran int
	s := q.SyncpointNewCB(func() { ran++ })
	q.SyncpointWait(s)
	q.Wait()

	if ran != 1 {
		t.Fatalf("deferred call ran %d times", ran)
	}
	if sim.Crashed() {
		t.Fatal("device crashed:", sim.CrashMessage())
	}
}
