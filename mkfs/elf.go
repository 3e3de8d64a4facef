/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Feb 28 12:10:33 2018 mstenber
 * Last modified: Sun Mar  4 16:40:28 2018 mstenber
 * Edit time:     31 min
 *
 */

package mkfs

import "encoding/binary"

const (
	elfMagic       = 0x464C457F
	elfHeaderSize  = 52
	progHeaderSize = 32
	ptLoad         = 1
)

// ELFImage wraps text into a minimal valid ELF32 executable with one
// PT_LOAD segment at virtual address 0 and entry 0. This is what the
// kernel's loader parses; the bytes of text are the program's image
// in user memory.
func ELFImage(text []byte) []byte {
	total := elfHeaderSize + progHeaderSize + len(text)
	b := make([]byte, total)
	le := binary.LittleEndian

	le.PutUint32(b[0:], elfMagic)
	b[4] = 1                // ELFCLASS32
	b[5] = 1                // little endian
	b[6] = 1                // EV_CURRENT
	le.PutUint16(b[16:], 2) // ET_EXEC
	le.PutUint16(b[18:], 3) // EM_386
	le.PutUint32(b[20:], 1) // version
	le.PutUint32(b[24:], 0) // entry
	le.PutUint32(b[28:], elfHeaderSize)
	le.PutUint16(b[40:], elfHeaderSize)
	le.PutUint16(b[42:], progHeaderSize)
	le.PutUint16(b[44:], 1) // phnum

	ph := b[elfHeaderSize:]
	le.PutUint32(ph[0:], ptLoad)
	le.PutUint32(ph[4:], elfHeaderSize+progHeaderSize) // file offset
	le.PutUint32(ph[8:], 0)                            // vaddr
	le.PutUint32(ph[12:], 0)                           // paddr
	le.PutUint32(ph[16:], uint32(len(text)))           // filesz
	le.PutUint32(ph[20:], uint32(len(text)))           // memsz
	le.PutUint32(ph[24:], 5)                           // R+X
	le.PutUint32(ph[28:], BSIZE)                       // align

	copy(b[elfHeaderSize+progHeaderSize:], text)
	return b
}

// TrapText is a program image that just traps back into the kernel
// (int $0x40), the image behind every registered Go program body.
var TrapText = []byte{0xcd, 0x40}
