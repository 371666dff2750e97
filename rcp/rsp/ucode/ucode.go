// Package ucode provides a container format for signal processor microcode.
//
// The serialized format is a sequence of big-endian fields: name length and
// name, entry point, text length and text, data length and data, followed by
// a CRC-8 checksum over everything before it.
package ucode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/sigurn/crc8"

	"github.com/DragonMinded/libdragon-sub001/rcp/cpu"
)

var crcTable = crc8.MakeTable(crc8.Params{
	Poly: 0x31, Init: 0x00, RefIn: false, RefOut: false,
	XorOut: 0x00, Check: 0xf7, Name: "CRC-8 UCode",
})

type UCode struct {
	Name string

	Entry cpu.Addr // initial value of RSP PC register
	Text  []byte   // instructions copied to IMEM
	Data  []byte   // data copied to DMEM
}

func NewUCode(name string, entry cpu.Addr, text []byte, data []byte) *UCode {
	return &UCode{
		Name:  name,
		Entry: entry,
		Text:  bytes.Clone(text),
		Data:  bytes.Clone(data),
	}
}

type crcReader struct {
	r   io.Reader
	crc uint8
}

func (c *crcReader) Read(p []byte) (n int, err error) {
	n, err = c.r.Read(p)
	c.crc = crc8.Update(c.crc, p[:n], crcTable)
	return
}

type crcWriter struct {
	w   io.Writer
	crc uint8
}

func (c *crcWriter) Write(p []byte) (n int, err error) {
	c.crc = crc8.Update(c.crc, p, crcTable)
	return c.w.Write(p)
}

// Load deserializes a microcode and verifies its checksum.
func Load(r io.Reader) (ucode *UCode, err error) {
	cr := &crcReader{r: r, crc: crc8.Init(crcTable)}
	ucode = &UCode{}
	load := func(data any) {
		if err != nil {
			return
		}
		err = binary.Read(cr, binary.BigEndian, data)
	}
	var size uint32
	load(&size)
	name := make([]byte, size)
	load(&name)
	ucode.Name = string(name)
	load(&ucode.Entry)

	load(&size)
	ucode.Text = make([]byte, size)
	load(&ucode.Text)

	load(&size)
	ucode.Data = make([]byte, size)
	load(&ucode.Data)

	sum := crc8.Complete(cr.crc, crcTable)
	var stored uint8
	load(&stored)
	if err != nil {
		return nil, err
	}
	if stored != sum {
		return nil, errors.New("ucode: checksum mismatch")
	}
	return
}

// Store serializes the microcode, appending a checksum.
func (ucode *UCode) Store(w io.Writer) (err error) {
	cw := &crcWriter{w: w, crc: crc8.Init(crcTable)}
	store := func(data any) {
		if err != nil {
			return
		}
		err = binary.Write(cw, binary.BigEndian, data)
	}
	store(uint32(len(ucode.Name)))
	store([]byte(ucode.Name))
	store(ucode.Entry)
	store(uint32(len(ucode.Text)))
	store(ucode.Text)
	store(uint32(len(ucode.Data)))
	store(ucode.Data)

	sum := crc8.Complete(cw.crc, crcTable)
	store(sum)
	return
}
