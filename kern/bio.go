/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri Feb 16 10:44:31 2018 mstenber
 * Last modified: Sat Mar  3 13:02:40 2018 mstenber
 * Edit time:     87 min
 *
 */

package kern

// Buffer cache: NBUF block-sized buffers on one circular LRU list.
// The cache spinlock guards the list and reference counts; each
// buffer's sleeplock serializes content access and disk traffic. At
// most one holder per buffer, and the holder may sleep.

const (
	B_VALID = 0x2 // buffer has been read from disk
	B_DIRTY = 0x4 // buffer needs to be written to disk
)

type buf struct {
	flags   uint32
	dev     uint32
	blockno uint32
	lock    Sleeplock
	refcnt  uint32
	prev    *buf // LRU cache list
	next    *buf
	qnext   *buf // disk queue
	data    [BSIZE]byte
}

type bcache struct {
	lock Spinlock
	buf  [NBUF]buf

	// Linked list of all buffers, through prev/next. head.next is
	// most recently used.
	head buf
}

func (self *Kernel) binit() {
	bc := &self.bcache
	bc.lock.Init(self, "bcache")
	bc.head.prev = &bc.head
	bc.head.next = &bc.head
	for i := range bc.buf {
		b := &bc.buf[i]
		b.lock.Init(self, "buffer")
		b.next = bc.head.next
		b.prev = &bc.head
		bc.head.next.prev = b
		bc.head.next = b
	}
}

// bget returns a locked buffer for the block, either the cached one
// or a recycled refcount-zero one (which will not be VALID).
func (self *Kernel) bget(dev, blockno uint32) *buf {
	bc := &self.bcache
	bc.lock.Acquire()
	for b := bc.head.next; b != &bc.head; b = b.next {
		if b.dev == dev && b.blockno == blockno {
			b.refcnt++
			bc.lock.Release()
			b.lock.Acquire()
			return b
		}
	}
	// Not cached; recycle from the LRU end. Dirty buffers are
	// owned by the log and must stay.
	for b := bc.head.prev; b != &bc.head; b = b.prev {
		if b.refcnt == 0 && b.flags&B_DIRTY == 0 {
			b.dev = dev
			b.blockno = blockno
			b.flags = 0
			b.refcnt = 1
			bc.lock.Release()
			b.lock.Acquire()
			return b
		}
	}
	self.panic("bget: no buffers")
	return nil
}

// bread returns a locked buffer with the contents of the block.
func (self *Kernel) bread(dev, blockno uint32) *buf {
	b := self.bget(dev, blockno)
	if b.flags&B_VALID == 0 {
		self.iderw(b)
	}
	return b
}

// bwrite writes the buffer's contents to disk. Caller holds the
// buffer.
func (self *Kernel) bwrite(b *buf) {
	if !b.lock.Holding() {
		self.panic("bwrite")
	}
	b.flags |= B_DIRTY
	self.iderw(b)
}

// brelse releases the buffer and moves it to the head of the LRU
// list once nobody refers to it.
func (self *Kernel) brelse(b *buf) {
	if !b.lock.Holding() {
		self.panic("brelse")
	}
	b.lock.Release()
	bc := &self.bcache
	bc.lock.Acquire()
	b.refcnt--
	if b.refcnt == 0 {
		b.next.prev = b.prev
		b.prev.next = b.next
		b.next = bc.head.next
		b.prev = &bc.head
		bc.head.next.prev = b
		bc.head.next = b
	}
	bc.lock.Release()
}
