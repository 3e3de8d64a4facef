/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri Feb 16 11:31:55 2018 mstenber
 * Last modified: Sat Mar  3 13:21:18 2018 mstenber
 * Edit time:     72 min
 *
 */

package kern

import "github.com/fingon/go-minik/mlog"

// Block driver. Requests queue FIFO behind the ide lock; a controller
// goroutine performs the transfer against the disk backend and then
// plays the completion interrupt: mark the buffer done and wake its
// sleeper. One block in flight at a time, like the hardware.
type ideState struct {
	lock  Spinlock
	queue *buf
	reqs  chan struct{} // doorbell to the controller
}

func (self *Kernel) ideinit() {
	self.ide.lock.Init(self, "ide")
	if self.disk == nil {
		return
	}
	self.ide.reqs = make(chan struct{}, NBUF)
	self.wg.Add(1)
	go self.ideWorker()
}

// iderw queues the buffer and sleeps until the controller has
// serviced it: if DIRTY, write it out and clear DIRTY; else read it
// in and set VALID. Caller holds the buffer sleeplock.
func (self *Kernel) iderw(b *buf) {
	if !b.lock.Holding() {
		self.panic("iderw: buf not locked")
	}
	if b.flags&(B_VALID|B_DIRTY) == B_VALID {
		self.panic("iderw: nothing to do")
	}
	if self.disk == nil {
		self.panic("iderw: disk not present")
	}
	if b.dev != ROOTDEV {
		self.panic("iderw: unknown dev")
	}
	self.ide.lock.Acquire()
	b.qnext = nil
	pp := &self.ide.queue
	for *pp != nil {
		pp = &(*pp).qnext
	}
	*pp = b
	self.ide.reqs <- struct{}{}
	for b.flags&(B_VALID|B_DIRTY) != B_VALID {
		self.sleep(b, &self.ide.lock)
	}
	self.ide.lock.Release()
}

func (self *Kernel) ideWorker() {
	defer self.wg.Done()
	defer self.Attach()()
	for {
		select {
		case <-self.ide.reqs:
		case <-self.quit:
			return
		}
		self.ide.lock.Acquire()
		b := self.ide.queue
		self.ide.lock.Release()
		if b == nil {
			continue
		}
		// Transfer without the lock; the requester holds the
		// buffer sleeplock and is asleep.
		var err error
		if b.flags&B_DIRTY != 0 {
			mlog.Printf2("kern/ide", "ide: write block %d", b.blockno)
			err = self.disk.WriteSector(b.blockno, b.data[:])
		} else {
			mlog.Printf2("kern/ide", "ide: read block %d", b.blockno)
			err = self.disk.ReadSector(b.blockno, b.data[:])
		}
		if err != nil {
			self.panic("ide: " + err.Error())
		}
		self.ide.lock.Acquire()
		b.flags |= B_VALID
		b.flags &^= B_DIRTY
		self.ide.queue = b.qnext
		self.wakeup(b)
		self.ide.lock.Release()
	}
}
