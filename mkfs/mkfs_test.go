/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sat Mar  3 12:20:40 2018 mstenber
 * Last modified: Sun Mar  4 20:02:19 2018 mstenber
 * Edit time:     39 min
 *
 */

package mkfs

import (
	"encoding/binary"
	"testing"

	"github.com/fingon/go-minik/disk/inmemory"
	"github.com/stvp/assert"
)

func TestBuildLayout(t *testing.T) {
	t.Parallel()
	d := inmemory.NewInMemoryBackend(FSSIZE)
	err := Build(d, map[string][]byte{"hello": []byte("hi there\n")})
	assert.Nil(t, err)

	sb := make([]byte, BSIZE)
	assert.Nil(t, d.ReadSector(1, sb))
	le := binary.LittleEndian
	assert.Equal(t, le.Uint32(sb[0:]), uint32(FSSIZE))
	assert.Equal(t, le.Uint32(sb[8:]), uint32(NINODES))
	assert.Equal(t, le.Uint32(sb[12:]), uint32(LOGSIZE))
	assert.Equal(t, le.Uint32(sb[16:]), uint32(2))

	logstart := le.Uint32(sb[16:])
	inodestart := le.Uint32(sb[20:])
	bmapstart := le.Uint32(sb[24:])
	assert.Equal(t, inodestart, logstart+LOGSIZE)
	assert.True(t, bmapstart > inodestart)

	// The log header must be empty on a fresh image
	lh := make([]byte, BSIZE)
	assert.Nil(t, d.ReadSector(logstart, lh))
	assert.Equal(t, le.Uint32(lh[0:]), uint32(0))

	// Root inode is a directory with ".", ".." and the file
	ib := make([]byte, BSIZE)
	assert.Nil(t, d.ReadSector(inodestart+ROOTINO/IPB, ib))
	off := (ROOTINO % IPB) * dinodeSize
	assert.Equal(t, int16(le.Uint16(ib[off:])), int16(T_DIR))
	size := le.Uint32(ib[off+8:])
	assert.Equal(t, size, uint32(3*direntSize))

	dirsec := le.Uint32(ib[off+12:])
	db := make([]byte, BSIZE)
	assert.Nil(t, d.ReadSector(dirsec, db))
	names := []string{}
	for i := uint32(0); i < size; i += direntSize {
		inum := le.Uint16(db[i:])
		assert.True(t, inum != 0)
		n := db[i+2 : i+2+DIRSIZ]
		end := 0
		for end < DIRSIZ && n[end] != 0 {
			end++
		}
		names = append(names, string(n[:end]))
	}
	assert.Equal(t, names, []string{".", "..", "hello"})
}

func TestIndirectAppend(t *testing.T) {
	t.Parallel()
	d := inmemory.NewInMemoryBackend(FSSIZE)
	b, err := Builder{}.Init(d)
	assert.Nil(t, err)

	// Past the direct blocks, into the indirect range
	data := make([]byte, (NDIRECT+3)*BSIZE+17)
	for i := range data {
		data[i] = byte(i)
	}
	assert.Nil(t, b.AddFile("big", data))
	assert.Nil(t, b.Close())

	din, err := b.rinode(ROOTINO + 1)
	assert.Nil(t, err)
	assert.Equal(t, din.size, uint32(len(data)))
	assert.True(t, din.addrs[NDIRECT] != 0)

	// Last byte lands where the indirect block says it does
	ind, err := b.rsect(din.addrs[NDIRECT])
	assert.Nil(t, err)
	fbn := (uint32(len(data)) - 1) / BSIZE
	sec := binary.LittleEndian.Uint32(ind[(fbn-NDIRECT)*4:])
	blk, err := b.rsect(sec)
	assert.Nil(t, err)
	assert.Equal(t, blk[(len(data)-1)%BSIZE], byte(len(data)-1))
}

func TestFileTooBig(t *testing.T) {
	t.Parallel()
	d := inmemory.NewInMemoryBackend(FSSIZE)
	b, err := Builder{}.Init(d)
	assert.Nil(t, err)
	data := make([]byte, (MAXFILE+1)*BSIZE)
	err = b.AddFile("toobig", data)
	assert.Equal(t, err, ErrFileTooBig)
}

func TestELFImage(t *testing.T) {
	t.Parallel()
	img := ELFImage(TrapText)
	le := binary.LittleEndian
	assert.Equal(t, le.Uint32(img[0:]), uint32(elfMagic))
	assert.Equal(t, le.Uint16(img[44:]), uint16(1))
	phoff := le.Uint32(img[28:])
	assert.Equal(t, le.Uint32(img[phoff:]), uint32(ptLoad))
	off := le.Uint32(img[phoff+4:])
	filesz := le.Uint32(img[phoff+16:])
	assert.Equal(t, int(filesz), len(TrapText))
	assert.Equal(t, img[off:off+filesz], []byte(TrapText))
}
