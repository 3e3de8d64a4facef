/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Feb 28 09:34:40 2018 mstenber
 * Last modified: Sun Mar  4 16:31:09 2018 mstenber
 * Edit time:     102 min
 *
 */

// mkfs builds an empty-log file system image directly onto a disk
// backend, the way the offline mkfs tool would before first boot. It
// duplicates the on-disk layout constants rather than importing the
// kernel; the two being independent encoders is half the point of
// having a formatter at all.
package mkfs

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/fingon/go-minik/disk"
	"github.com/fingon/go-minik/mlog"
)

const (
	BSIZE   = disk.SectorSize
	FSSIZE  = 1000
	NINODES = 200
	LOGSIZE = 30
	ROOTINO = 1

	NDIRECT    = 12
	NINDIRECT  = BSIZE / 4
	MAXFILE    = NDIRECT + NINDIRECT
	dinodeSize = 64
	IPB        = BSIZE / dinodeSize
	BPB        = BSIZE * 8
	DIRSIZ     = 14
	direntSize = 16

	T_DIR  = 1
	T_FILE = 2
	T_DEV  = 3
)

var ErrNoSpace = errors.New("mkfs: out of blocks")
var ErrNoInodes = errors.New("mkfs: out of inodes")
var ErrFileTooBig = errors.New("mkfs: file too big")
var ErrNameTooLong = errors.New("mkfs: name too long")

type dinode struct {
	typ   int16
	major int16
	minor int16
	nlink int16
	size  uint32
	addrs [NDIRECT + 1]uint32
}

// Builder accumulates files and then writes a complete image. All
// sectors pass through wsect/rsect so the only dependency is the
// backend contract.
type Builder struct {
	d         disk.Backend
	nmeta     uint32
	freeinode uint32
	freeblock uint32

	size       uint32
	nblocks    uint32
	nlog       uint32
	logstart   uint32
	inodestart uint32
	bmapstart  uint32
}

// Init prepares an image skeleton: zeroed device, superblock, empty
// log, empty inode table, root directory.
func (self Builder) Init(d disk.Backend) (*Builder, error) {
	nbitmap := uint32(FSSIZE/BPB + 1)
	ninodeblocks := uint32(NINODES/IPB + 1)
	nlog := uint32(LOGSIZE)
	// 2 = boot sector + superblock
	nmeta := 2 + nlog + ninodeblocks + nbitmap

	self.d = d
	self.nmeta = nmeta
	self.freeinode = 1
	self.freeblock = nmeta
	self.size = FSSIZE
	self.nblocks = FSSIZE - nmeta
	self.nlog = nlog
	self.logstart = 2
	self.inodestart = 2 + nlog
	self.bmapstart = 2 + nlog + ninodeblocks

	var zero [BSIZE]byte
	for i := uint32(0); i < FSSIZE; i++ {
		if err := self.wsect(i, zero[:]); err != nil {
			return nil, err
		}
	}

	var sb [BSIZE]byte
	binary.LittleEndian.PutUint32(sb[0:], self.size)
	binary.LittleEndian.PutUint32(sb[4:], self.nblocks)
	binary.LittleEndian.PutUint32(sb[8:], NINODES)
	binary.LittleEndian.PutUint32(sb[12:], self.nlog)
	binary.LittleEndian.PutUint32(sb[16:], self.logstart)
	binary.LittleEndian.PutUint32(sb[20:], self.inodestart)
	binary.LittleEndian.PutUint32(sb[24:], self.bmapstart)
	if err := self.wsect(1, sb[:]); err != nil {
		return nil, err
	}

	root, err := self.ialloc(T_DIR)
	if err != nil {
		return nil, err
	}
	if root != ROOTINO {
		return nil, errors.New("mkfs: root inum != ROOTINO")
	}
	if err := self.addDirent(root, root, "."); err != nil {
		return nil, err
	}
	if err := self.addDirent(root, root, ".."); err != nil {
		return nil, err
	}
	mlog.Printf2("mkfs/mkfs", "nmeta %d (boot, super, log %d, inode %d, bitmap %d) blocks %d total %d",
		nmeta, nlog, ninodeblocks, nbitmap, self.nblocks, FSSIZE)
	return &self, nil
}

func (self *Builder) wsect(sec uint32, data []byte) error {
	return self.d.WriteSector(sec, data)
}

func (self *Builder) rsect(sec uint32) ([]byte, error) {
	b := make([]byte, BSIZE)
	if err := self.d.ReadSector(sec, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (self *Builder) winode(inum uint32, din *dinode) error {
	sec := self.inodestart + inum/IPB
	b, err := self.rsect(sec)
	if err != nil {
		return err
	}
	off := (inum % IPB) * dinodeSize
	binary.LittleEndian.PutUint16(b[off+0:], uint16(din.typ))
	binary.LittleEndian.PutUint16(b[off+2:], uint16(din.major))
	binary.LittleEndian.PutUint16(b[off+4:], uint16(din.minor))
	binary.LittleEndian.PutUint16(b[off+6:], uint16(din.nlink))
	binary.LittleEndian.PutUint32(b[off+8:], din.size)
	for i, a := range din.addrs {
		binary.LittleEndian.PutUint32(b[off+12+uint32(i)*4:], a)
	}
	return self.wsect(sec, b)
}

func (self *Builder) rinode(inum uint32) (*dinode, error) {
	b, err := self.rsect(self.inodestart + inum/IPB)
	if err != nil {
		return nil, err
	}
	off := (inum % IPB) * dinodeSize
	din := &dinode{
		typ:   int16(binary.LittleEndian.Uint16(b[off+0:])),
		major: int16(binary.LittleEndian.Uint16(b[off+2:])),
		minor: int16(binary.LittleEndian.Uint16(b[off+4:])),
		nlink: int16(binary.LittleEndian.Uint16(b[off+6:])),
		size:  binary.LittleEndian.Uint32(b[off+8:]),
	}
	for i := range din.addrs {
		din.addrs[i] = binary.LittleEndian.Uint32(b[off+12+uint32(i)*4:])
	}
	return din, nil
}

func (self *Builder) ialloc(typ int16) (uint32, error) {
	if self.freeinode >= NINODES {
		return 0, ErrNoInodes
	}
	inum := self.freeinode
	self.freeinode++
	din := &dinode{typ: typ, nlink: 1}
	if err := self.winode(inum, din); err != nil {
		return 0, err
	}
	return inum, nil
}

func (self *Builder) balloc() (uint32, error) {
	if self.freeblock >= FSSIZE {
		return 0, ErrNoSpace
	}
	b := self.freeblock
	self.freeblock++
	return b, nil
}

// iappend extends inode inum with data, allocating direct blocks and
// the one indirect block as needed.
func (self *Builder) iappend(inum uint32, data []byte) error {
	din, err := self.rinode(inum)
	if err != nil {
		return err
	}
	off := din.size
	for len(data) > 0 {
		fbn := off / BSIZE
		if fbn >= MAXFILE {
			return ErrFileTooBig
		}
		var sec uint32
		if fbn < NDIRECT {
			if din.addrs[fbn] == 0 {
				if din.addrs[fbn], err = self.balloc(); err != nil {
					return err
				}
			}
			sec = din.addrs[fbn]
		} else {
			if din.addrs[NDIRECT] == 0 {
				if din.addrs[NDIRECT], err = self.balloc(); err != nil {
					return err
				}
			}
			ind, err := self.rsect(din.addrs[NDIRECT])
			if err != nil {
				return err
			}
			i := fbn - NDIRECT
			sec = binary.LittleEndian.Uint32(ind[i*4:])
			if sec == 0 {
				if sec, err = self.balloc(); err != nil {
					return err
				}
				binary.LittleEndian.PutUint32(ind[i*4:], sec)
				if err := self.wsect(din.addrs[NDIRECT], ind); err != nil {
					return err
				}
			}
		}
		n := int(BSIZE - off%BSIZE)
		if n > len(data) {
			n = len(data)
		}
		blk, err := self.rsect(sec)
		if err != nil {
			return err
		}
		copy(blk[off%BSIZE:], data[:n])
		if err := self.wsect(sec, blk); err != nil {
			return err
		}
		off += uint32(n)
		data = data[n:]
	}
	din.size = off
	return self.winode(inum, din)
}

func (self *Builder) addDirent(dir, inum uint32, name string) error {
	if len(name) > DIRSIZ {
		return ErrNameTooLong
	}
	var de [direntSize]byte
	binary.LittleEndian.PutUint16(de[0:], uint16(inum))
	copy(de[2:], name)
	return self.iappend(dir, de[:])
}

// AddFile creates a regular file in the root directory.
func (self *Builder) AddFile(name string, data []byte) error {
	inum, err := self.ialloc(T_FILE)
	if err != nil {
		return err
	}
	if err := self.addDirent(ROOTINO, inum, name); err != nil {
		return err
	}
	return self.iappend(inum, data)
}

// AddDevice creates a device node in the root directory.
func (self *Builder) AddDevice(name string, major, minor int16) error {
	inum, err := self.ialloc(T_DEV)
	if err != nil {
		return err
	}
	din, err := self.rinode(inum)
	if err != nil {
		return err
	}
	din.major = major
	din.minor = minor
	if err := self.winode(inum, din); err != nil {
		return err
	}
	return self.addDirent(ROOTINO, inum, name)
}

// Close writes the allocation bitmap covering everything handed out
// so far. The image is usable after this.
func (self *Builder) Close() error {
	used := self.freeblock
	mlog.Printf2("mkfs/mkfs", "balloc: first %d blocks allocated", used)
	for b := uint32(0); b < used; b += BPB {
		buf := make([]byte, BSIZE)
		for bi := uint32(0); bi < BPB && b+bi < used; bi++ {
			buf[bi/8] |= 1 << (bi % 8)
		}
		if err := self.wsect(self.bmapstart+b/BPB, buf); err != nil {
			return err
		}
	}
	return nil
}

// Build formats d with the given root files in one call. Files go in
// sorted by name so images are reproducible.
func Build(d disk.Backend, files map[string][]byte) error {
	b, err := Builder{}.Init(d)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := b.AddFile(name, files[name]); err != nil {
			return err
		}
	}
	return b.Close()
}
