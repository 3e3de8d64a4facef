/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Feb 15 09:18:40 2018 mstenber
 * Last modified: Fri Mar  2 12:22:37 2018 mstenber
 * Edit time:     187 min
 *
 */

package kern

import (
	"github.com/fingon/go-minik/mlog"
	"github.com/fingon/go-minik/util"
)

// Virtual memory manager. Page directories and tables live inside the
// machine's physical memory as arrays of little endian 32-bit
// entries; a page directory is named by the kernel virtual address of
// its page.
//
// Every address space shares the kernel half:
//
//	[0, p.sz)                user text/data/heap/stack
//	[KERNBASE, KERNBASE+EXTMEM)   low physical memory and devices
//	[KERNLINK, kernDataVA)   kernel text and rodata, read-only
//	[kernDataVA, P2V(physTop))    kernel data and free memory
//	[DEVSPACE, 4 GB)         directly mapped devices
//
// No user-accessible mapping ever exists at or above KERNBASE.

// walkpgdir returns the kernel virtual address of the PTE for va,
// optionally allocating the second-level table. 0 means no entry (or
// allocation failure when alloc).
func (self *Kernel) walkpgdir(pgdir, va uint32, alloc bool) uint32 {
	pdeAddr := pgdir + 4*PDX(va)
	pde := self.mem32(pdeAddr)
	var pgtab uint32
	if pde&PTE_P != 0 {
		pgtab = P2V(PTE_ADDR(pde))
	} else {
		if !alloc {
			return 0
		}
		pgtab = self.kalloc()
		if pgtab == 0 {
			return 0
		}
		page := self.page(pgtab)
		for i := range page {
			page[i] = 0
		}
		// Permissions here are overly generous; the PTEs carry
		// the real ones.
		self.setMem32(pdeAddr, V2P(pgtab)|PTE_P|PTE_W|PTE_U)
	}
	return pgtab + 4*PTX(va)
}

// mappages installs mappings for [va, va+size) to [pa, pa+size).
// Mapping over a present page is a programmer error and aborts.
func (self *Kernel) mappages(pgdir, va, size, pa, perm uint32) error {
	a := PGROUNDDOWN(va)
	last := PGROUNDDOWN(va + size - 1)
	for {
		pte := self.walkpgdir(pgdir, a, true)
		if pte == 0 {
			return ErrNoMem
		}
		if self.mem32(pte)&PTE_P != 0 {
			self.panic("remap")
		}
		self.setMem32(pte, pa|perm|PTE_P)
		if a == last {
			break
		}
		a += PGSIZE
		pa += PGSIZE
	}
	return nil
}

type kmapping struct {
	virt      uint32
	physStart uint32
	physEnd   uint32
	perm      uint32
}

// setupkvm builds a fresh page directory with the kernel half mapped
// and the user half empty.
func (self *Kernel) setupkvm() uint32 {
	pgdir := self.kalloc()
	if pgdir == 0 {
		return 0
	}
	page := self.page(pgdir)
	for i := range page {
		page[i] = 0
	}
	kmap := []kmapping{
		{KERNBASE, 0, EXTMEM, PTE_W},
		{KERNLINK, V2P(KERNLINK), V2P(kernDataVA), 0},
		{kernDataVA, V2P(kernDataVA), self.physTop, PTE_W},
		{DEVSPACE, DEVSPACE, 0, PTE_W}, // physEnd 0 wraps: up to 4 GB
	}
	for _, m := range kmap {
		err := self.mappages(pgdir, m.virt, m.physEnd-m.physStart,
			m.physStart, m.perm)
		if err != nil {
			self.freevm(pgdir)
			return 0
		}
	}
	return pgdir
}

// kvmalloc makes the kernel's own page directory for the scheduler to
// run on when no process is active.
func (self *Kernel) kvmalloc() {
	self.kpgdir = self.setupkvm()
	if self.kpgdir == 0 {
		self.panic("kvmalloc")
	}
	self.switchkvm()
}

// switchkvm switches the CPU to the kernel-only page directory.
func (self *Kernel) switchkvm() {
	self.mycpu().pgdir = self.kpgdir
}

// switchuvm switches the CPU to the process's page directory.
func (self *Kernel) switchuvm(p *Proc) {
	if p == nil {
		self.panic("switchuvm: no process")
	}
	if p.pgdir == 0 {
		self.panic("switchuvm: no pgdir")
	}
	self.pushcli()
	self.mycpu().pgdir = p.pgdir
	self.popcli()
}

// inituvm installs the initial user program at virtual address 0. The
// image must fit in one page.
func (self *Kernel) inituvm(pgdir uint32, init []byte) {
	if len(init) >= PGSIZE {
		self.panic("inituvm: more than a page")
	}
	mem := self.kalloc()
	if mem == 0 {
		self.panic("inituvm: out of memory")
	}
	page := self.page(mem)
	for i := range page {
		page[i] = 0
	}
	copy(page, init)
	self.mappages(pgdir, 0, PGSIZE, V2P(mem), PTE_W|PTE_U)
}

// loaduvm copies a program segment from inode ip into already mapped
// pages at addr.
func (self *Kernel) loaduvm(pgdir, addr uint32, ip *inode, offset, sz uint32) error {
	if addr%PGSIZE != 0 {
		self.panic("loaduvm: addr must be page aligned")
	}
	for i := uint32(0); i < sz; i += PGSIZE {
		pte := self.walkpgdir(pgdir, addr+i, false)
		if pte == 0 {
			self.panic("loaduvm: address should exist")
		}
		pa := PTE_ADDR(self.mem32(pte))
		n := uint32(util.IMin(int(sz-i), PGSIZE))
		if self.readi(ip, self.mem[pa:pa+n], offset+i, n) != int(n) {
			return ErrCorruptImage
		}
	}
	return nil
}

// allocuvm grows the address space from oldsz to newsz with zeroed,
// writable, user-accessible pages. Returns the new size or 0; on
// failure the space is back at oldsz.
func (self *Kernel) allocuvm(pgdir, oldsz, newsz uint32) uint32 {
	if newsz >= KERNBASE {
		return 0
	}
	if newsz < oldsz {
		return oldsz
	}
	for a := PGROUNDUP(oldsz); a < newsz; a += PGSIZE {
		mem := self.kalloc()
		if mem == 0 {
			mlog.Printf2("kern/vm", "allocuvm out of memory")
			self.deallocuvm(pgdir, newsz, oldsz)
			return 0
		}
		page := self.page(mem)
		for i := range page {
			page[i] = 0
		}
		err := self.mappages(pgdir, a, PGSIZE, V2P(mem), PTE_W|PTE_U)
		if err != nil {
			mlog.Printf2("kern/vm", "allocuvm out of memory (2)")
			self.deallocuvm(pgdir, newsz, oldsz)
			self.kfree(mem)
			return 0
		}
	}
	return newsz
}

// deallocuvm shrinks the address space from oldsz to newsz, freeing
// the frames. Returns the new size.
func (self *Kernel) deallocuvm(pgdir, oldsz, newsz uint32) uint32 {
	if newsz >= oldsz {
		return oldsz
	}
	for a := PGROUNDUP(newsz); a < oldsz; a += PGSIZE {
		pte := self.walkpgdir(pgdir, a, false)
		if pte == 0 {
			// Whole page table absent, skip to the next one
			a = PGADDR(PDX(a)+1, 0, 0) - PGSIZE
			continue
		}
		p := self.mem32(pte)
		if p&PTE_P != 0 {
			pa := PTE_ADDR(p)
			if pa == 0 {
				self.panic("kfree")
			}
			self.kfree(P2V(pa))
			self.setMem32(pte, 0)
		}
	}
	return newsz
}

// freevm tears the whole address space down: user frames, page
// tables, directory.
func (self *Kernel) freevm(pgdir uint32) {
	if pgdir == 0 {
		self.panic("freevm: no pgdir")
	}
	self.deallocuvm(pgdir, KERNBASE, 0)
	for i := uint32(0); i < NPDENTRIES; i++ {
		pde := self.mem32(pgdir + 4*i)
		if pde&PTE_P != 0 {
			self.kfree(P2V(PTE_ADDR(pde)))
		}
	}
	self.kfree(pgdir)
}

// clearpteu hides a page from user mode; used for the inaccessible
// guard page below the user stack.
func (self *Kernel) clearpteu(pgdir, uva uint32) {
	pte := self.walkpgdir(pgdir, uva, false)
	if pte == 0 {
		self.panic("clearpteu")
	}
	self.setMem32(pte, self.mem32(pte)&^PTE_U)
}

// copyuvm duplicates an address space for fork: fresh frames, same
// content, same per-page flags.
func (self *Kernel) copyuvm(pgdir, sz uint32) uint32 {
	d := self.setupkvm()
	if d == 0 {
		return 0
	}
	for i := uint32(0); i < sz; i += PGSIZE {
		pte := self.walkpgdir(pgdir, i, false)
		if pte == 0 {
			self.panic("copyuvm: pte should exist")
		}
		p := self.mem32(pte)
		if p&PTE_P == 0 {
			self.panic("copyuvm: page not present")
		}
		pa := PTE_ADDR(p)
		flags := PTE_FLAGS(p)
		mem := self.kalloc()
		if mem == 0 {
			self.freevm(d)
			return 0
		}
		copy(self.page(mem), self.mem[pa:pa+PGSIZE])
		if self.mappages(d, i, PGSIZE, V2P(mem), flags) != nil {
			self.kfree(mem)
			self.freevm(d)
			return 0
		}
	}
	return d
}

// uva2ka translates a user virtual address to a kernel virtual one,
// but only if the page is present and user-accessible.
func (self *Kernel) uva2ka(pgdir, uva uint32) uint32 {
	pte := self.walkpgdir(pgdir, uva, false)
	if pte == 0 {
		return 0
	}
	p := self.mem32(pte)
	if p&PTE_P == 0 {
		return 0
	}
	if p&PTE_U == 0 {
		return 0
	}
	return P2V(PTE_ADDR(p))
}

// copyout copies from kernel buffer p to user virtual address va in
// pgdir, straddling pages as needed.
func (self *Kernel) copyout(pgdir, va uint32, p []byte) error {
	for len(p) > 0 {
		va0 := PGROUNDDOWN(va)
		ka0 := self.uva2ka(pgdir, va0)
		if ka0 == 0 {
			return ErrBadAddress
		}
		n := util.IMin(int(PGSIZE-(va-va0)), len(p))
		copy(self.kva(ka0+(va-va0)), p[:n])
		p = p[n:]
		va = va0 + PGSIZE
	}
	return nil
}

// copyin is copyout's mirror: fill p from user memory at va.
func (self *Kernel) copyin(pgdir uint32, p []byte, va uint32) error {
	for len(p) > 0 {
		va0 := PGROUNDDOWN(va)
		ka0 := self.uva2ka(pgdir, va0)
		if ka0 == 0 {
			return ErrBadAddress
		}
		n := util.IMin(int(PGSIZE-(va-va0)), len(p))
		copy(p[:n], self.kva(ka0+(va-va0)))
		p = p[n:]
		va = va0 + PGSIZE
	}
	return nil
}
