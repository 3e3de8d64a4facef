/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Feb 14 12:31:54 2018 mstenber
 * Last modified: Thu Mar  1 13:01:12 2018 mstenber
 * Edit time:     18 min
 *
 */

package kern

// Two-level 32-bit page table layout. A virtual address splits into
// page directory index, page table index and offset:
//
//	+--------10------+-------10-------+---------12----------+
//	| PDX(va)        | PTX(va)        | offset within page  |
//	+----------------+----------------+---------------------+
const (
	NPDENTRIES = 1024
	NPTENTRIES = 1024
	PGSIZE     = 4096

	PTXSHIFT = 12
	PDXSHIFT = 22

	PTE_P = 0x001 // present
	PTE_W = 0x002 // writeable
	PTE_U = 0x004 // user
)

func PDX(va uint32) uint32 { return (va >> PDXSHIFT) & 0x3FF }
func PTX(va uint32) uint32 { return (va >> PTXSHIFT) & 0x3FF }

// PGADDR builds a virtual address from indexes and offset.
func PGADDR(d, t, o uint32) uint32 { return d<<PDXSHIFT | t<<PTXSHIFT | o }

func PGROUNDUP(sz uint32) uint32  { return (sz + PGSIZE - 1) &^ (PGSIZE - 1) }
func PGROUNDDOWN(a uint32) uint32 { return a &^ (PGSIZE - 1) }

func PTE_ADDR(pte uint32) uint32  { return pte &^ 0xFFF }
func PTE_FLAGS(pte uint32) uint32 { return pte & 0xFFF }
