/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri Mar  2 09:14:55 2018 mstenber
 * Last modified: Sun Mar  4 18:05:12 2018 mstenber
 * Edit time:     44 min
 *
 */

package kern

import (
	"testing"

	"github.com/fingon/go-minik/mkfs"
	"github.com/stvp/assert"
)

func TestSkipelem(t *testing.T) {
	t.Parallel()
	cases := []struct{ path, name, rest string }{
		{"a/bb/c", "a", "bb/c"},
		{"///a//bb", "a", "bb"},
		{"a", "a", ""},
		{"", "", ""},
		{"////", "", ""},
		{"a/", "a", ""},
	}
	for _, c := range cases {
		name, rest := skipelem(c.path)
		assert.Equal(t, name, c.name, c.path)
		assert.Equal(t, rest, c.rest, c.path)
	}
	// Over-long components truncate to DIRSIZ
	name, rest := skipelem("abcdefghijklmnopqrs/x")
	assert.Equal(t, name, "abcdefghijklmn")
	assert.Equal(t, rest, "x")
}

func TestDirentCodec(t *testing.T) {
	t.Parallel()
	var b [direntSize]byte
	encodeDirent(b[:], 42, "hello")
	inum, name := decodeDirent(b[:])
	assert.Equal(t, inum, uint32(42))
	assert.Equal(t, name, "hello")

	// Full-width name, no NUL terminator on disk
	encodeDirent(b[:], 7, "abcdefghijklmn")
	inum, name = decodeDirent(b[:])
	assert.Equal(t, inum, uint32(7))
	assert.Equal(t, name, "abcdefghijklmn")

	// inum 0 marks a free slot but still decodes
	encodeDirent(b[:], 0, "")
	inum, name = decodeDirent(b[:])
	assert.Equal(t, inum, uint32(0))
	assert.Equal(t, name, "")
}

func TestStatCodec(t *testing.T) {
	t.Parallel()
	st := Stat{Type: T_DEV, Dev: 1, Ino: 17, Nlink: 2, Size: 12345}
	var st2 Stat
	decodeStat(encodeStat(&st), &st2)
	assert.Equal(t, st, st2)
}

func TestMmuMacros(t *testing.T) {
	t.Parallel()
	va := uint32(0x80123456)
	assert.Equal(t, PDX(va), va>>22)
	assert.Equal(t, PTX(va), (va>>12)&0x3FF)
	assert.Equal(t, PGROUNDDOWN(va), uint32(0x80123000))
	assert.Equal(t, PGROUNDUP(va), uint32(0x80124000))
	assert.Equal(t, PGROUNDUP(uint32(0x80123000)), uint32(0x80123000))
	pte := uint32(0x12345000) | PTE_P | PTE_W | PTE_U
	assert.Equal(t, PTE_ADDR(pte), uint32(0x12345000))
	assert.Equal(t, PTE_FLAGS(pte), uint32(PTE_P|PTE_W|PTE_U))
}

func TestPhysVirtMapping(t *testing.T) {
	t.Parallel()
	pa := uint32(0x100000)
	assert.Equal(t, V2P(P2V(pa)), pa)
	assert.Equal(t, P2V(pa), KERNBASE+pa)
}

func TestElfDecode(t *testing.T) {
	t.Parallel()
	img := mkfs.ELFImage([]byte{0xcd, 0x40, 0x90})
	h := decodeElfHeader(img)
	assert.Equal(t, h.magic, uint32(ELF_MAGIC))
	assert.Equal(t, h.entry, uint32(0))
	assert.Equal(t, h.phnum, uint16(1))
	ph := decodeProgHeader(img[h.phoff:])
	assert.Equal(t, ph.typ, uint32(ELF_PROG_LOAD))
	assert.Equal(t, ph.vaddr, uint32(0))
	assert.Equal(t, ph.filesz, uint32(3))
	assert.Equal(t, ph.memsz, uint32(3))
	assert.Equal(t, img[ph.off], byte(0xcd))
}
