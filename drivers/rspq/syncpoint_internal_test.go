package rspq

import "testing"

func TestSyncpointReachedWraps(t *testing.T) {
	cases := []struct {
		id, done uint32
		want     bool
	}{
		{0, 0, true},
		{1, 0, false},
		{1, 1, true},
		{1, 2, true},
		// around the wrap of the generation counter
		{0xffff_ffff, 0xffff_fffe, false},
		{0xffff_ffff, 0xffff_ffff, true},
		{0, 0xffff_ffff, false},
		{2, 0xffff_fffe, false},
		{2, 2, true},
		{2, 10, true},
	}
	for _, c := range cases {
		if got := syncpointReached(c.id, c.done); got != c.want {
			t.Errorf("syncpointReached(%#x, %#x) = %v, want %v", c.id, c.done, got, c.want)
		}
	}
}
