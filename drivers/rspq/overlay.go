package rspq

import (
	"bytes"
	"encoding/binary"
	"io"
	"slices"

	"github.com/DragonMinded/libdragon-sub001/debug"
	"github.com/DragonMinded/libdragon-sub001/rcp/cpu"
	"github.com/DragonMinded/libdragon-sub001/rcp/mem"
	"github.com/DragonMinded/libdragon-sub001/rcp/rsp"
	"github.com/DragonMinded/libdragon-sub001/rcp/rsp/ucode"
)

const maxOverlayCommandCount = (maxOverlayCount - 1) * 16

// placement is an overlay's resident copy in RDRAM.
type placement struct {
	textAddr, dataAddr cpu.Addr
}

// OverlayRegister registers an overlay and assigns it a free id range.
// The returned id is preshifted (id << 28), writers OR it into the first
// word of their commands.  An overlay with more than 16 commands occupies
// multiple consecutive ids, all pointing at the same descriptor.
//
// Overlays must be linked against the queue's own firmware: text and data
// start with the firmware image, followed by the overlay header and its
// initial state.  Registering the same microcode twice is an error, its
// resident header holds a single command base.
func (q *Queue) OverlayRegister(uc *ucode.UCode) uint32 {
	return q.overlayRegister(uc, 0)
}

// OverlayRegisterStatic registers an overlay under a fixed preshifted id.
func (q *Queue) OverlayRegisterStatic(uc *ucode.UCode, overlayID uint32) {
	if overlayID&0x0fff_ffff != 0 || overlayID == 0 {
		panic("rspq: static overlay id must have the form id << 28")
	}
	q.overlayRegister(uc, overlayID)
}

func (q *Queue) overlayRegister(uc *ucode.UCode, staticID uint32) uint32 {
	debug.Assert(!q.closed, "rspq: queue is closed")

	if q.placed[uc] != nil {
		panic("rspq: overlay " + uc.Name + " is already registered")
	}
	if !bytes.Equal(uc.Text[:min(len(uc.Text), q.fwTextSize)], q.fw.Text) {
		panic("rspq: common text of overlay " + uc.Name + " does not match")
	}
	if !bytes.Equal(uc.Data[:min(len(uc.Data), q.fwDataSize)], q.fw.Data) {
		panic("rspq: common data of overlay " + uc.Name + " does not match")
	}

	hdr, count := q.overlayHeaderOf(uc)
	slotCount := (count + 15) >> 4

	codeSize := len(uc.Text) - q.fwTextSize
	dataSize := len(uc.Data) - q.fwDataSize
	debug.Assert(codeSize > 0 && codeSize&0x7 == 0 && codeSize <= rsp.MemSize-q.fwTextSize,
		"rspq: overlay text size")
	debug.Assert(dataSize > 0 && dataSize&0x7 == 0 && dataSize <= rsp.MemSize-q.fwDataSize,
		"rspq: overlay data size")

	descs := q.data.Tables.OverlayDescriptor[1:]
	idx := slices.IndexFunc(descs, func(o overlayDescriptor) bool {
		return o.Code == 0
	})
	if idx == -1 {
		panic("rspq: max overlay count")
	}
	idx++

	id := int(staticID >> 28)
	if id != 0 {
		if id+slotCount > overlayIdCount {
			panic("rspq: static overlay id does not fit: " + uc.Name)
		}
		for i := range slotCount {
			if q.data.Tables.OverlayTable[id+i] != 0 {
				panic("rspq: overlay id already in use: " + uc.Name)
			}
		}
	} else {
		id = bytes.Index(q.data.Tables.OverlayTable[1:], make([]byte, slotCount))
		if id == -1 {
			panic("rspq: not enough consecutive free ids for overlay " + uc.Name)
		}
		id++
	}

	pl := &placement{
		textAddr: q.arena.Alloc(len(uc.Text)),
		dataAddr: q.arena.Alloc(len(uc.Data)),
	}
	_, err := q.ram.WriteAt(uc.Text, int64(pl.textAddr))
	debug.AssertErrNil(err)
	_, err = q.ram.WriteAt(uc.Data, int64(pl.dataAddr))
	debug.AssertErrNil(err)
	q.placed[uc] = pl

	q.data.Tables.OverlayDescriptor[idx] = overlayDescriptor{
		Code:     pl.textAddr + cpu.Addr(q.fwTextSize),
		Data:     pl.dataAddr + cpu.Addr(q.fwDataSize),
		State:    pl.dataAddr + cpu.Addr(hdr.StateStart),
		CodeSize: uint16(codeSize - 1),
		DataSize: uint16(dataSize - 1),
	}

	// Let the assigned ids point at the descriptor
	for i := range slotCount {
		q.data.Tables.OverlayTable[id+i] = uint8(idx * 16)
	}

	// The command base tells the overlay's handlers their first command
	// byte.  It lives in the overlay's resident header in RDRAM.
	hdr.CommandBase = uint16(id << 5)
	debug.AssertErrNil(binary.Write(
		io.NewOffsetWriter(q.ram, int64(pl.dataAddr)+int64(q.fwDataSize)),
		binary.BigEndian, &hdr))

	q.overlays[id] = uc

	q.updateTables(true)
	return uint32(id) << 28
}

// OverlayUnregister releases the overlay's ids.  Commands using them must
// have been executed, the ids are free for reuse as soon as the device
// picks up the table update.
func (q *Queue) OverlayUnregister(overlayID uint32) {
	if overlayID>>28 == 0 {
		panic("rspq: overlay 0 cannot be unregistered")
	}
	id := int(overlayID >> 28)
	uc := q.overlays[id]
	debug.Assert(uc != nil, "rspq: overlay not registered")

	hdr, count := q.overlayHeaderOf(uc)
	slotCount := (count + 15) >> 4
	descByte := q.data.Tables.OverlayTable[id]

	for i := range slotCount {
		q.data.Tables.OverlayTable[id+i] = 0
	}
	q.overlays[id] = nil
	q.data.Tables.OverlayDescriptor[descByte/16] = overlayDescriptor{}

	pl := q.placed[uc]
	hdr.CommandBase = 0
	debug.AssertErrNil(binary.Write(
		io.NewOffsetWriter(q.ram, int64(pl.dataAddr)+int64(q.fwDataSize)),
		binary.BigEndian, &hdr))

	q.arena.Free(pl.textAddr)
	q.arena.Free(pl.dataAddr)
	delete(q.placed, uc)

	q.updateTables(false)
}

// OverlayGetState returns the RDRAM address of the overlay's persistent
// state.  The queue is drained first and, if the overlay is resident, its
// live state written back, so the memory holds the state as left by the
// last executed command.
func (q *Queue) OverlayGetState(uc *ucode.UCode) cpu.Addr {
	pl := q.placed[uc]
	debug.Assert(pl != nil, "rspq: overlay not registered")

	hdr, _ := q.overlayHeaderOf(uc)
	stateAddr := pl.dataAddr + cpu.Addr(hdr.StateStart)

	q.Wait()

	current := uint16(q.dev.DMEM().LoadWord(currentOvlOff) >> 16)
	codeAddr := pl.textAddr + cpu.Addr(q.fwTextSize)
	descs := &q.data.Tables.OverlayDescriptor
	if current != 0 && descs[current/16].Code == codeAddr {
		mem.Copy(q.ram, stateAddr, q.dev.DMEM(),
			cpu.Addr(hdr.StateStart), int(hdr.StateSize)+1)
	}
	return stateAddr
}

// overlayHeaderOf decodes the overlay header and counts the zero
// terminated command size table following it.
func (q *Queue) overlayHeaderOf(uc *ucode.UCode) (hdr overlayHeader, count int) {
	r := bytes.NewReader(uc.Data[q.fwDataSize:])
	debug.AssertErrNil(binary.Read(r, binary.BigEndian, &hdr))

	for {
		var size uint16
		debug.AssertErrNil(binary.Read(r, binary.BigEndian, &size))
		if size == 0 {
			break
		}
		count++
		if count > maxOverlayCommandCount {
			panic("rspq: too many commands in overlay " + uc.Name)
		}
	}
	debug.Assert(count > 0, "rspq: overlay without commands")

	stateSize := int(hdr.StateSize) + 1
	if int(hdr.StateStart) < q.fwDataSize+8 {
		panic("rspq: overlay state must start after the overlay header")
	}
	if int(hdr.StateStart)+stateSize > len(uc.Data) {
		panic("rspq: overlay state must be within the data segment")
	}
	debug.Assert(hdr.StateStart&0x7 == 0 && stateSize&0x7 == 0 && stateSize <= rsp.MemSize,
		"rspq: misaligned overlay state")
	return hdr, count
}

// updateTables pushes the overlay tables to the device through the queue
// itself: commands already queued before the update still run with the
// old tables, commands written after it see the new ones.  Wrapping the
// push in a highpri pair bounds how long a full lowpri queue can delay it.
func (q *Queue) updateTables(highpri bool) {
	debug.AssertErrNil(binary.Write(
		io.NewOffsetWriter(q.ram, int64(q.stage)), binary.BigEndian, &q.data.Tables))

	if highpri {
		q.HighpriBegin()
	}
	q.DMARead(q.stage, rspqDataAddress, tablesSize, false)
	if highpri {
		q.HighpriEnd()
	}
}
