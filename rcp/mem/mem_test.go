package mem_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/DragonMinded/libdragon-sub001/rcp/mem"
)

func TestReadWriteAligned(t *testing.T) {
	ram := mem.NewRAM(256)

	src := make([]byte, 64)
	for i := range src {
		src[i] = byte(i + 1)
	}
	n, err := ram.WriteAt(src, 32)
	if n != len(src) || err != nil {
		t.Fatalf("write: n=%d err=%v", n, err)
	}

	dst := make([]byte, 64)
	n, err = ram.ReadAt(dst, 32)
	if n != len(dst) || err != nil {
		t.Fatalf("read: n=%d err=%v", n, err)
	}
	if !bytes.Equal(src, dst) {
		t.Errorf("roundtrip mismatch:\n%x\n%x", src, dst)
	}
}

// Byte access at every offset and length must agree, including word edges.
func TestReadWriteUnaligned(t *testing.T) {
	ram := mem.NewRAM(64)
	for off := int64(0); off < 8; off++ {
		for size := 0; size < 16; size++ {
			src := make([]byte, size)
			for i := range src {
				src[i] = byte(0xa0 + i)
			}
			if _, err := ram.WriteAt(src, off); err != nil {
				t.Fatal(err)
			}
			dst := make([]byte, size)
			if _, err := ram.ReadAt(dst, off); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(src, dst) {
				t.Fatalf("off=%d size=%d:\n%x\n%x", off, size, src, dst)
			}
		}
	}
}

// A partial write must leave the other bytes of the edge words intact.
func TestWriteMerges(t *testing.T) {
	ram := mem.NewRAM(16)
	ram.StoreWord(0, 0x11223344)
	ram.StoreWord(4, 0x55667788)

	if _, err := ram.WriteAt([]byte{0xaa, 0xbb}, 3); err != nil {
		t.Fatal(err)
	}
	if got := ram.LoadWord(0); got != 0x112233aa {
		t.Errorf("first word: %#08x", got)
	}
	if got := ram.LoadWord(4); got != 0xbb667788 {
		t.Errorf("second word: %#08x", got)
	}
}

func TestWordEndianness(t *testing.T) {
	ram := mem.NewRAM(16)
	ram.StoreWord(8, 0xdeadbeef)

	p := make([]byte, 4)
	if _, err := ram.ReadAt(p, 8); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(p, []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Errorf("bytes: %x", p)
	}
}

func TestClipAtEnd(t *testing.T) {
	ram := mem.NewRAM(32)

	n, err := ram.WriteAt(make([]byte, 16), 24)
	if n != 8 || err != io.EOF {
		t.Errorf("write: n=%d err=%v", n, err)
	}
	n, err = ram.ReadAt(make([]byte, 16), 24)
	if n != 8 || err != io.EOF {
		t.Errorf("read: n=%d err=%v", n, err)
	}
	if _, err = ram.ReadAt(make([]byte, 4), -1); err == nil {
		t.Error("negative offset accepted")
	}
}

func TestCopy(t *testing.T) {
	a, b := mem.NewRAM(64), mem.NewRAM(64)
	src := make([]byte, 32)
	for i := range src {
		src[i] = byte(i ^ 0x5a)
	}
	if _, err := a.WriteAt(src, 16); err != nil {
		t.Fatal(err)
	}

	mem.Copy(b, 8, a, 16, 32)

	dst := make([]byte, 32)
	if _, err := b.ReadAt(dst, 8); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(src, dst) {
		t.Errorf("copy mismatch:\n%x\n%x", src, dst)
	}
}
