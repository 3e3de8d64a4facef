/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Feb 14 10:24:41 2018 mstenber
 * Last modified: Fri Mar  2 11:08:55 2018 mstenber
 * Edit time:     44 min
 *
 */

package kern

import "encoding/binary"

// Memory layout of the machine. Physical memory is one byte slice of
// physTop bytes per kernel instance; kernel virtual addresses above
// KERNBASE translate to physical by plain subtraction, so the usual
// V2P/P2V games stay honest uint32 arithmetic.
const (
	EXTMEM   = 0x100000          // start of extended memory
	KERNBASE = 0x80000000        // first kernel virtual address
	KERNLINK = KERNBASE + EXTMEM // address where kernel is linked
	DEVSPACE = 0xFE000000        // other devices are at high addresses

	// The kernel image occupies [KERNLINK, kernEndVA); text and
	// read-only data end at kernDataVA. Pages below kernEndVA are
	// never handed to the allocator.
	kernDataVA = KERNLINK + 0x80000
	kernEndVA  = KERNLINK + 0x100000

	// DefaultPhysTop keeps per-kernel memory small enough that
	// tests can boot many instances; a real box would use more.
	DefaultPhysTop = 0x800000
)

func V2P(a uint32) uint32 { return a - KERNBASE }
func P2V(a uint32) uint32 { return a + KERNBASE }

// kva returns the physical memory starting at kernel virtual address
// va. Only the [KERNBASE, KERNBASE+physTop) window is backed; the
// device window exists solely as page table entries.
func (self *Kernel) kva(va uint32) []byte {
	pa := V2P(va)
	if pa >= self.physTop {
		self.panic("kva out of range")
	}
	return self.mem[pa:]
}

// page returns the whole page at kernel virtual address va.
func (self *Kernel) page(va uint32) []byte {
	pa := V2P(va)
	return self.mem[pa : pa+PGSIZE]
}

func (self *Kernel) mem32(va uint32) uint32 {
	return binary.LittleEndian.Uint32(self.kva(va))
}

func (self *Kernel) setMem32(va, v uint32) {
	binary.LittleEndian.PutUint32(self.kva(va), v)
}
