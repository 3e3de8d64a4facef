/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Feb 14 12:09:30 2018 mstenber
 * Last modified: Fri Mar  2 11:47:21 2018 mstenber
 * Edit time:     51 min
 *
 */

package kern

import (
	"encoding/binary"

	"github.com/fingon/go-minik/mlog"
)

// Physical page allocator. Free pages form a singly linked list
// threaded through the pages themselves: the first four bytes of a
// free page hold the kernel virtual address of the next one, little
// endian, zero terminated.
type kmem struct {
	lock     Spinlock
	useLock  bool
	freelist uint32
	nfree    int
}

// kinit1 runs before the full kernel page table exists; only the
// memory the boot page directory maps (first 4 MB) may be handed out,
// and locking stays off because there is exactly one CPU running.
func (self *Kernel) kinit1(vstart, vend uint32) {
	self.kmem.lock.Init(self, "kmem")
	self.kmem.useLock = false
	self.freeRange(vstart, vend)
}

// kinit2 adds the rest of physical memory and arms the lock.
func (self *Kernel) kinit2(vstart, vend uint32) {
	self.freeRange(vstart, vend)
	self.kmem.useLock = true
}

func (self *Kernel) freeRange(vstart, vend uint32) {
	mlog.Printf2("kern/kalloc", "freeRange [%x, %x)", vstart, vend)
	for p := PGROUNDUP(vstart); p+PGSIZE <= vend; p += PGSIZE {
		self.kfree(p)
	}
}

// kfree returns the page of memory at kernel virtual address v to the
// free list. The page is filled with 1s so dangling references blow
// up loudly instead of quietly reading stale content.
func (self *Kernel) kfree(v uint32) {
	if v%PGSIZE != 0 || v < kernEndVA || V2P(v) >= self.physTop {
		self.panic("kfree")
	}
	page := self.page(v)
	for i := range page {
		page[i] = 1
	}
	if self.kmem.useLock {
		self.kmem.lock.Acquire()
	}
	binary.LittleEndian.PutUint32(page, self.kmem.freelist)
	self.kmem.freelist = v
	self.kmem.nfree++
	if self.kmem.useLock {
		self.kmem.lock.Release()
	}
}

// kalloc returns the kernel virtual address of a 4 KB page, or 0 if
// the memory is gone. The page content is whatever kfree left there;
// callers that care must clear it.
func (self *Kernel) kalloc() uint32 {
	if self.kmem.useLock {
		self.kmem.lock.Acquire()
	}
	r := self.kmem.freelist
	if r != 0 {
		self.kmem.freelist = binary.LittleEndian.Uint32(self.page(r))
		self.kmem.nfree--
	}
	if self.kmem.useLock {
		self.kmem.lock.Release()
	}
	return r
}

// FreePages is visible for tests that assert no page leaks.
func (self *Kernel) FreePages() int {
	if self.kmem.useLock {
		self.kmem.lock.Acquire()
		defer self.kmem.lock.Release()
	}
	return self.kmem.nfree
}
