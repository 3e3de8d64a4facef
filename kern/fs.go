/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Feb 19 10:30:17 2018 mstenber
 * Last modified: Sun Mar  4 11:52:20 2018 mstenber
 * Edit time:     312 min
 *
 */

package kern

import (
	"encoding/binary"

	"github.com/fingon/go-minik/disk"
	"github.com/fingon/go-minik/mlog"
	"github.com/fingon/go-minik/util"
)

// File system layout on the root device:
//
//	[ boot | superblock | log | inode table | free bitmap | data ]
//
// Everything on disk is little endian. Mutations go through the log:
// a higher-level caller wraps them in beginOp/endOp and the block
// writes use logWrite instead of bwrite.
const (
	BSIZE   = disk.SectorSize // block size == sector size
	ROOTINO = 1               // root i-number

	NDIRECT   = 12
	NINDIRECT = BSIZE / 4
	MAXFILE   = NDIRECT + NINDIRECT

	// On-disk inode: type, major, minor, nlink (int16 each), size
	// (uint32), NDIRECT+1 block addresses.
	dinodeSize = 64
	IPB        = BSIZE / dinodeSize // inodes per block

	BPB = BSIZE * 8 // bitmap bits per block

	DIRSIZ     = 14
	direntSize = 16 // uint16 inum + DIRSIZ name bytes

	T_DIR  = 1
	T_FILE = 2
	T_DEV  = 3
)

type superblock struct {
	size       uint32 // size of file system image (blocks)
	nblocks    uint32 // number of data blocks
	ninodes    uint32 // number of inodes
	nlog       uint32 // number of log blocks
	logstart   uint32 // block number of first log block
	inodestart uint32 // block number of first inode block
	bmapstart  uint32 // block number of first free map block
}

// iblock returns the block containing inode inum.
func (self *superblock) iblock(inum uint32) uint32 {
	return inum/IPB + self.inodestart
}

// bblock returns the bitmap block covering data block b.
func (self *superblock) bblock(b uint32) uint32 {
	return b/BPB + self.bmapstart
}

func (self *Kernel) readsb(dev uint32, sb *superblock) {
	b := self.bread(dev, 1)
	sb.size = binary.LittleEndian.Uint32(b.data[0:])
	sb.nblocks = binary.LittleEndian.Uint32(b.data[4:])
	sb.ninodes = binary.LittleEndian.Uint32(b.data[8:])
	sb.nlog = binary.LittleEndian.Uint32(b.data[12:])
	sb.logstart = binary.LittleEndian.Uint32(b.data[16:])
	sb.inodestart = binary.LittleEndian.Uint32(b.data[20:])
	sb.bmapstart = binary.LittleEndian.Uint32(b.data[24:])
	self.brelse(b)
}

// bzero zeroes a block, logged.
func (self *Kernel) bzero(dev, bno uint32) {
	b := self.bread(dev, bno)
	for i := range b.data {
		b.data[i] = 0
	}
	self.logWrite(b)
	self.brelse(b)
}

// balloc allocates a zeroed data block.
func (self *Kernel) balloc(dev uint32) uint32 {
	for b := uint32(0); b < self.sb.size; b += BPB {
		bp := self.bread(dev, self.sb.bblock(b))
		for bi := uint32(0); bi < BPB && b+bi < self.sb.size; bi++ {
			m := byte(1) << (bi % 8)
			if bp.data[bi/8]&m == 0 {
				bp.data[bi/8] |= m
				self.logWrite(bp)
				self.brelse(bp)
				self.bzero(dev, b+bi)
				return b + bi
			}
		}
		self.brelse(bp)
	}
	self.panic("balloc: out of blocks")
	return 0
}

// bfree frees a data block. Freeing a free block is a corrupt file
// system and aborts.
func (self *Kernel) bfree(dev, b uint32) {
	bp := self.bread(dev, self.sb.bblock(b))
	bi := b % BPB
	m := byte(1) << (bi % 8)
	if bp.data[bi/8]&m == 0 {
		self.panic("freeing free block")
	}
	bp.data[bi/8] &^= m
	self.logWrite(bp)
	self.brelse(bp)
}

// inode is the in-memory copy of a disk inode. ref counts in-memory
// pointers (open files, cwds, transient namex holds); nlink counts
// directory entries on disk. The icache spinlock protects ref; the
// sleeplock protects everything below valid.
type inode struct {
	dev   uint32
	inum  uint32
	ref   int
	lock  Sleeplock
	valid bool

	typ   int16
	major int16
	minor int16
	nlink int16
	size  uint32
	addrs [NDIRECT + 1]uint32
}

type icache struct {
	lock  Spinlock
	inode [NINODE]inode
}

// icinit sets up the cache locks; it runs at boot, before any process
// exists.
func (self *Kernel) icinit() {
	self.icache.lock.Init(self, "icache")
	for i := range self.icache.inode {
		self.icache.inode[i].lock.Init(self, "inode")
	}
}

// iinit reads the superblock. It runs from the first process, not at
// boot, because it sleeps on disk I/O.
func (self *Kernel) iinit(dev uint32) {
	self.readsb(dev, &self.sb)
	self.cprintf("sb: size %d nblocks %d ninodes %d nlog %d logstart %d inodestart %d bmap start %d\n",
		self.sb.size, self.sb.nblocks, self.sb.ninodes, self.sb.nlog,
		self.sb.logstart, self.sb.inodestart, self.sb.bmapstart)
}

// ialloc allocates a fresh inode of the given type on disk and
// returns a pinned, unlocked in-memory copy.
func (self *Kernel) ialloc(dev uint32, typ int16) *inode {
	for inum := uint32(1); inum < self.sb.ninodes; inum++ {
		bp := self.bread(dev, self.sb.iblock(inum))
		off := (inum % IPB) * dinodeSize
		if int16(binary.LittleEndian.Uint16(bp.data[off:])) == 0 {
			// A free inode; claim it
			for i := uint32(0); i < dinodeSize; i++ {
				bp.data[off+i] = 0
			}
			binary.LittleEndian.PutUint16(bp.data[off:], uint16(typ))
			self.logWrite(bp)
			self.brelse(bp)
			return self.iget(dev, inum)
		}
		self.brelse(bp)
	}
	self.panic("ialloc: no inodes")
	return nil
}

// iupdate copies the in-memory inode to disk, logged. Call after
// changing any field that lives on disk.
func (self *Kernel) iupdate(ip *inode) {
	bp := self.bread(ip.dev, self.sb.iblock(ip.inum))
	d := bp.data[(ip.inum%IPB)*dinodeSize:]
	binary.LittleEndian.PutUint16(d[0:], uint16(ip.typ))
	binary.LittleEndian.PutUint16(d[2:], uint16(ip.major))
	binary.LittleEndian.PutUint16(d[4:], uint16(ip.minor))
	binary.LittleEndian.PutUint16(d[6:], uint16(ip.nlink))
	binary.LittleEndian.PutUint32(d[8:], ip.size)
	for i := range ip.addrs {
		binary.LittleEndian.PutUint32(d[12+4*i:], ip.addrs[i])
	}
	self.logWrite(bp)
	self.brelse(bp)
}

// iget returns the in-memory inode for (dev, inum), pinned but
// unlocked, and does not touch the disk.
func (self *Kernel) iget(dev, inum uint32) *inode {
	self.icache.lock.Acquire()
	var empty *inode
	for i := range self.icache.inode {
		ip := &self.icache.inode[i]
		if ip.ref > 0 && ip.dev == dev && ip.inum == inum {
			ip.ref++
			self.icache.lock.Release()
			return ip
		}
		if empty == nil && ip.ref == 0 {
			empty = ip
		}
	}
	if empty == nil {
		self.panic("iget: no inodes")
	}
	empty.dev = dev
	empty.inum = inum
	empty.ref = 1
	empty.valid = false
	self.icache.lock.Release()
	return empty
}

// idup pins the inode once more and returns it.
func (self *Kernel) idup(ip *inode) *inode {
	self.icache.lock.Acquire()
	ip.ref++
	self.icache.lock.Release()
	return ip
}

// ilock locks the inode, reading it from disk first if this copy is
// not valid yet.
func (self *Kernel) ilock(ip *inode) {
	if ip == nil || ip.ref < 1 {
		self.panic("ilock")
	}
	ip.lock.Acquire()
	if !ip.valid {
		bp := self.bread(ip.dev, self.sb.iblock(ip.inum))
		d := bp.data[(ip.inum%IPB)*dinodeSize:]
		ip.typ = int16(binary.LittleEndian.Uint16(d[0:]))
		ip.major = int16(binary.LittleEndian.Uint16(d[2:]))
		ip.minor = int16(binary.LittleEndian.Uint16(d[4:]))
		ip.nlink = int16(binary.LittleEndian.Uint16(d[6:]))
		ip.size = binary.LittleEndian.Uint32(d[8:])
		for i := range ip.addrs {
			ip.addrs[i] = binary.LittleEndian.Uint32(d[12+4*i:])
		}
		self.brelse(bp)
		ip.valid = true
		if ip.typ == 0 {
			self.panic("ilock: no type")
		}
	}
}

func (self *Kernel) iunlock(ip *inode) {
	if ip == nil || !ip.lock.Holding() || ip.ref < 1 {
		self.panic("iunlock")
	}
	ip.lock.Release()
}

// iput drops a reference. The last reference to an unlinked inode
// frees it on disk; the caller must be inside a log operation for
// that reason.
func (self *Kernel) iput(ip *inode) {
	ip.lock.Acquire()
	if ip.valid && ip.nlink == 0 {
		self.icache.lock.Acquire()
		r := ip.ref
		self.icache.lock.Release()
		if r == 1 {
			// No links and nobody else has it pinned
			self.itrunc(ip)
			ip.typ = 0
			self.iupdate(ip)
			ip.valid = false
		}
	}
	ip.lock.Release()
	self.icache.lock.Acquire()
	ip.ref--
	self.icache.lock.Release()
}

func (self *Kernel) iunlockput(ip *inode) {
	self.iunlock(ip)
	self.iput(ip)
}

// bmap returns the disk block holding the bn-th block of ip's
// content, allocating as needed.
func (self *Kernel) bmap(ip *inode, bn uint32) uint32 {
	if bn < NDIRECT {
		if ip.addrs[bn] == 0 {
			ip.addrs[bn] = self.balloc(ip.dev)
		}
		return ip.addrs[bn]
	}
	bn -= NDIRECT
	if bn < NINDIRECT {
		// Load the indirect block, allocating if necessary
		if ip.addrs[NDIRECT] == 0 {
			ip.addrs[NDIRECT] = self.balloc(ip.dev)
		}
		bp := self.bread(ip.dev, ip.addrs[NDIRECT])
		a := binary.LittleEndian.Uint32(bp.data[4*bn:])
		if a == 0 {
			a = self.balloc(ip.dev)
			binary.LittleEndian.PutUint32(bp.data[4*bn:], a)
			self.logWrite(bp)
		}
		self.brelse(bp)
		return a
	}
	self.panic("bmap: out of range")
	return 0
}

// itrunc discards the inode's content. Caller holds the sleeplock.
func (self *Kernel) itrunc(ip *inode) {
	for i := 0; i < NDIRECT; i++ {
		if ip.addrs[i] != 0 {
			self.bfree(ip.dev, ip.addrs[i])
			ip.addrs[i] = 0
		}
	}
	if ip.addrs[NDIRECT] != 0 {
		bp := self.bread(ip.dev, ip.addrs[NDIRECT])
		for j := uint32(0); j < NINDIRECT; j++ {
			a := binary.LittleEndian.Uint32(bp.data[4*j:])
			if a != 0 {
				self.bfree(ip.dev, a)
			}
		}
		self.brelse(bp)
		self.bfree(ip.dev, ip.addrs[NDIRECT])
		ip.addrs[NDIRECT] = 0
	}
	ip.size = 0
	self.iupdate(ip)
}

// Stat is the caller-visible inode metadata.
type Stat struct {
	Type  int16
	Dev   uint32
	Ino   uint32
	Nlink int16
	Size  uint32
}

func (self *Kernel) stati(ip *inode, st *Stat) {
	st.Dev = ip.dev
	st.Ino = ip.inum
	st.Type = ip.typ
	st.Nlink = ip.nlink
	st.Size = ip.size
}

// statSize is the wire size of a Stat as copied to user memory:
// type, dev, ino, nlink, size, each padded to a 32-bit word.
const statSize = 20

func encodeStat(st *Stat) []byte {
	b := make([]byte, statSize)
	binary.LittleEndian.PutUint32(b[0:], uint32(uint16(st.Type)))
	binary.LittleEndian.PutUint32(b[4:], st.Dev)
	binary.LittleEndian.PutUint32(b[8:], st.Ino)
	binary.LittleEndian.PutUint32(b[12:], uint32(uint16(st.Nlink)))
	binary.LittleEndian.PutUint32(b[16:], st.Size)
	return b
}

func decodeStat(b []byte, st *Stat) {
	st.Type = int16(binary.LittleEndian.Uint32(b[0:]))
	st.Dev = binary.LittleEndian.Uint32(b[4:])
	st.Ino = binary.LittleEndian.Uint32(b[8:])
	st.Nlink = int16(binary.LittleEndian.Uint32(b[12:]))
	st.Size = binary.LittleEndian.Uint32(b[16:])
}

func putUint32LE(b []byte, v uint32) {
	binary.LittleEndian.PutUint32(b, v)
}

// readi reads up to n bytes at off from ip into dst. Caller holds the
// inode sleeplock. Device inodes dispatch to their driver instead.
func (self *Kernel) readi(ip *inode, dst []byte, off, n uint32) int {
	if ip.typ == T_DEV {
		if ip.major < 0 || int(ip.major) >= NDEV || self.devsw[ip.major].read == nil {
			return -1
		}
		return self.devsw[ip.major].read(ip, dst[:n])
	}
	if off > ip.size || off+n < off {
		return -1
	}
	if off+n > ip.size {
		n = ip.size - off
	}
	for tot := uint32(0); tot < n; {
		bp := self.bread(ip.dev, self.bmap(ip, off/BSIZE))
		m := uint32(util.IMin(int(n-tot), int(BSIZE-off%BSIZE)))
		copy(dst[tot:tot+m], bp.data[off%BSIZE:])
		self.brelse(bp)
		tot += m
		off += m
	}
	return int(n)
}

// writei writes n bytes from src to ip at off, growing the file if
// needed. Caller holds the sleeplock and is inside a log operation.
func (self *Kernel) writei(ip *inode, src []byte, off, n uint32) int {
	if ip.typ == T_DEV {
		if ip.major < 0 || int(ip.major) >= NDEV || self.devsw[ip.major].write == nil {
			return -1
		}
		return self.devsw[ip.major].write(ip, src[:n])
	}
	if off > ip.size || off+n < off {
		return -1
	}
	if off+n > MAXFILE*BSIZE {
		return -1
	}
	for tot := uint32(0); tot < n; {
		bp := self.bread(ip.dev, self.bmap(ip, off/BSIZE))
		m := uint32(util.IMin(int(n-tot), int(BSIZE-off%BSIZE)))
		copy(bp.data[off%BSIZE:], src[tot:tot+m])
		self.logWrite(bp)
		self.brelse(bp)
		tot += m
		off += m
	}
	if n > 0 && off > ip.size {
		ip.size = off
		self.iupdate(ip)
	}
	return int(n)
}

// Directories are files full of direntSize records: uint16 inum plus
// a NUL padded name. inum 0 marks a free slot.

func decodeDirent(d []byte) (inum uint32, name string) {
	inum = uint32(binary.LittleEndian.Uint16(d[0:]))
	n := d[2 : 2+DIRSIZ]
	end := 0
	for end < DIRSIZ && n[end] != 0 {
		end++
	}
	return inum, string(n[:end])
}

func encodeDirent(d []byte, inum uint32, name string) {
	binary.LittleEndian.PutUint16(d[0:], uint16(inum))
	for i := 0; i < DIRSIZ; i++ {
		if i < len(name) {
			d[2+i] = name[i]
		} else {
			d[2+i] = 0
		}
	}
}

// dirlookup finds the directory entry with the given name and
// returns the pinned, unlocked inode plus the entry's byte offset.
func (self *Kernel) dirlookup(dp *inode, name string) (*inode, uint32) {
	if dp.typ != T_DIR {
		self.panic("dirlookup not DIR")
	}
	var de [direntSize]byte
	for off := uint32(0); off < dp.size; off += direntSize {
		if self.readi(dp, de[:], off, direntSize) != direntSize {
			self.panic("dirlookup read")
		}
		inum, dname := decodeDirent(de[:])
		if inum == 0 {
			continue
		}
		if dname == name {
			return self.iget(dp.dev, inum), off
		}
	}
	return nil, 0
}

// dirlink adds a (name, inum) entry to directory dp. Fails if the
// name exists already.
func (self *Kernel) dirlink(dp *inode, name string, inum uint32) int {
	if ip, _ := self.dirlookup(dp, name); ip != nil {
		self.iput(ip)
		return -1
	}
	var de [direntSize]byte
	var off uint32
	for off = 0; off < dp.size; off += direntSize {
		if self.readi(dp, de[:], off, direntSize) != direntSize {
			self.panic("dirlink read")
		}
		if i, _ := decodeDirent(de[:]); i == 0 {
			break
		}
	}
	encodeDirent(de[:], inum, name)
	if self.writei(dp, de[:], off, direntSize) != direntSize {
		self.panic("dirlink")
	}
	return 0
}

// skipelem peels the next path element off. ("a//bb/c" -> "a",
// "bb/c"); names longer than DIRSIZ are truncated. An empty element
// means the path is done.
func skipelem(path string) (name, rest string) {
	i := 0
	for i < len(path) && path[i] == '/' {
		i++
	}
	if i == len(path) {
		return "", ""
	}
	s := i
	for i < len(path) && path[i] != '/' {
		i++
	}
	name = path[s:i]
	if len(name) > DIRSIZ {
		name = name[:DIRSIZ]
	}
	for i < len(path) && path[i] == '/' {
		i++
	}
	return name, path[i:]
}

// namex walks the path to its leaf inode (or, with parent set, to the
// directory holding the leaf, also returning the final name). The
// returned inode is pinned and unlocked. The walk holds at most one
// inode sleeplock at a time.
func (self *Kernel) namex(path string, parent bool) (*inode, string) {
	var ip *inode
	if len(path) > 0 && path[0] == '/' {
		ip = self.iget(ROOTDEV, ROOTINO)
	} else {
		ip = self.idup(self.myproc().cwd)
	}
	for {
		var name string
		name, path = skipelem(path)
		if name == "" {
			break
		}
		self.ilock(ip)
		if ip.typ != T_DIR {
			self.iunlockput(ip)
			return nil, ""
		}
		if parent && path == "" {
			// Stop one level early
			self.iunlock(ip)
			return ip, name
		}
		next, _ := self.dirlookup(ip, name)
		if next == nil {
			self.iunlockput(ip)
			return nil, ""
		}
		self.iunlockput(ip)
		ip = next
	}
	if parent {
		self.iput(ip)
		return nil, ""
	}
	mlog.Printf2("kern/fs", "namex -> ino %d", ip.inum)
	return ip, ""
}

func (self *Kernel) namei(path string) *inode {
	ip, _ := self.namex(path, false)
	return ip
}

func (self *Kernel) nameiparent(path string) (*inode, string) {
	return self.namex(path, true)
}
