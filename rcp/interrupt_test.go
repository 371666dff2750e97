package rcp_test

import (
	"testing"

	"github.com/DragonMinded/libdragon-sub001/rcp"
)

func TestRaiseDispatches(t *testing.T) {
	lines := rcp.NewLines()

	calls := 0
	lines.SetHandler(rcp.SignalProcessor, func() { calls++ })
	lines.Enable(rcp.SignalProcessor)

	lines.Raise(rcp.SignalProcessor)
	lines.Raise(rcp.SignalProcessor)
	if calls != 2 {
		t.Errorf("handler calls: %d", calls)
	}
}

func TestPendingDeliveredOnEnable(t *testing.T) {
	lines := rcp.NewLines()

	calls := 0
	lines.SetHandler(rcp.SignalProcessor, func() { calls++ })

	lines.Raise(rcp.SignalProcessor)
	if calls != 0 {
		t.Fatal("masked interrupt dispatched")
	}
	lines.Enable(rcp.SignalProcessor)
	if calls != 1 {
		t.Errorf("pending interrupt not delivered: calls=%d", calls)
	}
}

func TestDisable(t *testing.T) {
	lines := rcp.NewLines()

	calls := 0
	lines.SetHandler(rcp.DisplayProcessor, func() { calls++ })
	lines.Enable(rcp.DisplayProcessor)
	lines.Disable(rcp.DisplayProcessor)

	if lines.Enabled(rcp.DisplayProcessor) {
		t.Error("line still enabled after disable")
	}
	lines.Raise(rcp.DisplayProcessor)
	if calls != 0 {
		t.Error("masked interrupt dispatched")
	}
}

func TestHandlerLookup(t *testing.T) {
	lines := rcp.NewLines()

	if lines.Handler(rcp.SerialInterface) != nil {
		t.Error("unexpected handler registered")
	}
	lines.SetHandler(rcp.SerialInterface, func() {})
	if lines.Handler(rcp.SerialInterface) == nil {
		t.Error("handler not registered")
	}
	lines.SetHandler(rcp.SerialInterface, nil)
	if lines.Handler(rcp.SerialInterface) != nil {
		t.Error("handler not removed")
	}
}

func TestUnhandledPanics(t *testing.T) {
	lines := rcp.NewLines()
	lines.Enable(rcp.AudioInterface)

	defer func() {
		if recover() == nil {
			t.Error("unhandled interrupt did not panic")
		}
	}()
	lines.Raise(rcp.AudioInterface)
}
