/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Feb 14 10:11:02 2018 mstenber
 * Last modified: Thu Mar  1 12:02:17 2018 mstenber
 * Edit time:     9 min
 *
 */

package kern

// Fixed sizes of the kernel's static tables. These are compile time
// constants on purpose; the kernel never allocates table space at
// runtime.
const (
	NPROC       = 64              // maximum number of processes
	NCPU        = 8               // maximum number of CPUs
	NOFILE      = 16              // open files per process
	NFILE       = 100             // open files per system
	NINODE      = 50              // maximum number of active i-nodes
	NDEV        = 10              // maximum major device number
	ROOTDEV     = 1               // device number of file system root disk
	MAXARG      = 32              // max exec arguments
	MAXOPBLOCKS = 10              // max # of blocks any FS op writes
	LOGSIZE     = MAXOPBLOCKS * 3 // max data blocks in on-disk log
	NBUF        = MAXOPBLOCKS * 3 // size of disk block cache
	FSSIZE      = 1000            // size of file system in blocks
)
