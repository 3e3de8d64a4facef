/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Feb 19 09:12:44 2018 mstenber
 * Last modified: Sat Mar  3 14:08:29 2018 mstenber
 * Edit time:     118 min
 *
 */

package kern

import (
	"encoding/binary"

	"github.com/fingon/go-minik/mlog"
)

// Physical redo log for multi-block file system operations. Block
// log.start holds the header (count + target block numbers, little
// endian); the LOGSIZE blocks after it hold the data. Concurrent
// operations commit as one group; the header write is the commit
// point. Until a block's transaction commits it stays DIRTY in the
// buffer cache, which pins it there.
type logHeader struct {
	n     uint32
	block [LOGSIZE]uint32
}

type logState struct {
	lock        Spinlock
	start       uint32
	size        uint32
	outstanding int // how many FS ops are executing
	committing  bool
	dev         uint32
	lh          logHeader
}

func (self *Kernel) initlog(dev uint32) {
	lg := &self.log
	lg.lock.Init(self, "log")
	self.readsb(dev, &self.sb)
	lg.start = self.sb.logstart
	lg.size = self.sb.nlog
	lg.dev = dev
	self.recoverFromLog()
}

func (self *Kernel) readLogHead() {
	b := self.bread(self.log.dev, self.log.start)
	self.log.lh.n = binary.LittleEndian.Uint32(b.data[0:])
	for i := uint32(0); i < self.log.lh.n; i++ {
		self.log.lh.block[i] = binary.LittleEndian.Uint32(b.data[4+4*i:])
	}
	self.brelse(b)
}

// writeLogHead writes the in-memory header to disk. This is the
// moment a transaction commits.
func (self *Kernel) writeLogHead() {
	b := self.bread(self.log.dev, self.log.start)
	binary.LittleEndian.PutUint32(b.data[0:], self.log.lh.n)
	for i := uint32(0); i < self.log.lh.n; i++ {
		binary.LittleEndian.PutUint32(b.data[4+4*i:], self.log.lh.block[i])
	}
	self.bwrite(b)
	self.brelse(b)
}

// installTrans copies committed blocks from the log onto their homes.
func (self *Kernel) installTrans() {
	for i := uint32(0); i < self.log.lh.n; i++ {
		lbuf := self.bread(self.log.dev, self.log.start+i+1)
		dbuf := self.bread(self.log.dev, self.log.lh.block[i])
		copy(dbuf.data[:], lbuf.data[:])
		self.bwrite(dbuf)
		self.brelse(lbuf)
		self.brelse(dbuf)
	}
}

func (self *Kernel) recoverFromLog() {
	self.readLogHead()
	if self.log.lh.n > 0 {
		mlog.Printf2("kern/log", "log: recovering %d blocks", self.log.lh.n)
	}
	self.installTrans()
	self.log.lh.n = 0
	self.writeLogHead()
}

// beginOp marks the start of a file system operation; it waits out an
// in-progress commit and reserves worst-case log space.
func (self *Kernel) beginOp() {
	lg := &self.log
	lg.lock.Acquire()
	for {
		if lg.committing {
			self.sleep(lg, &lg.lock)
		} else if lg.lh.n+uint32(lg.outstanding+1)*MAXOPBLOCKS > LOGSIZE {
			// This op might exhaust log space; wait for commit
			self.sleep(lg, &lg.lock)
		} else {
			lg.outstanding++
			lg.lock.Release()
			break
		}
	}
}

// endOp ends the operation; the last one out commits the group.
func (self *Kernel) endOp() {
	lg := &self.log
	doCommit := false
	lg.lock.Acquire()
	lg.outstanding--
	if lg.committing {
		self.panic("log.committing")
	}
	if lg.outstanding == 0 {
		doCommit = true
		lg.committing = true
	} else {
		// beginOp may be waiting for log space; the decrement
		// of outstanding has freed some
		self.wakeup(lg)
	}
	lg.lock.Release()

	if doCommit {
		// Commit without the lock; sleeping while holding it
		// is not allowed
		self.commit()
		lg.lock.Acquire()
		lg.committing = false
		self.wakeup(lg)
		lg.lock.Release()
	}
}

// writeLog copies modified blocks from the cache into the log slots.
func (self *Kernel) writeLog() {
	for i := uint32(0); i < self.log.lh.n; i++ {
		to := self.bread(self.log.dev, self.log.start+i+1)
		from := self.bread(self.log.dev, self.log.lh.block[i])
		copy(to.data[:], from.data[:])
		self.bwrite(to)
		self.brelse(from)
		self.brelse(to)
	}
}

func (self *Kernel) commit() {
	if self.log.lh.n > 0 {
		self.writeLog()
		self.writeLogHead() // the real commit
		self.installTrans() // install writes to home locations
		self.log.lh.n = 0
		self.writeLogHead() // erase the transaction from the log
	}
}

// logWrite replaces bwrite inside an operation: record the block
// number and pin the buffer in the cache with B_DIRTY. The commit
// does the disk writes. A block written many times in one
// transaction occupies one slot (absorption).
func (self *Kernel) logWrite(b *buf) {
	lg := &self.log
	if lg.lh.n >= LOGSIZE || lg.lh.n >= lg.size-1 {
		self.panic("too big a transaction")
	}
	if lg.outstanding < 1 {
		self.panic("log_write outside of trans")
	}
	lg.lock.Acquire()
	i := uint32(0)
	for ; i < lg.lh.n; i++ {
		if lg.lh.block[i] == b.blockno {
			break // absorption
		}
	}
	lg.lh.block[i] = b.blockno
	if i == lg.lh.n {
		lg.lh.n++
	}
	b.flags |= B_DIRTY // prevent eviction
	lg.lock.Release()
}
