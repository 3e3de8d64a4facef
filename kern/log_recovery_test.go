/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sat Mar  3 09:02:14 2018 mstenber
 * Last modified: Sun Mar  4 19:48:02 2018 mstenber
 * Edit time:     66 min
 *
 */

package kern_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/fingon/go-minik/disk"
	"github.com/fingon/go-minik/disk/inmemory"
	"github.com/fingon/go-minik/kern"
	"github.com/fingon/go-minik/userland"
	sha256 "github.com/minio/sha256-simd"
	"github.com/stvp/assert"
)

// crashDisk persists only the first limit sector writes; the rest
// reach the running kernel but vanish from saved, which is what the
// disk looks like after losing power at that point.
type crashDisk struct {
	live  disk.Backend
	saved disk.Backend
	limit int
}

var _ disk.Backend = &crashDisk{}

func (self *crashDisk) Close() { self.live.Close() }

func (self *crashDisk) NumSectors() uint32 { return self.live.NumSectors() }

func (self *crashDisk) ReadSector(n uint32, buf []byte) error {
	return self.live.ReadSector(n, buf)
}

func (self *crashDisk) WriteSector(n uint32, buf []byte) error {
	if self.limit > 0 {
		self.limit--
		if err := self.saved.WriteSector(n, buf); err != nil {
			return err
		}
	}
	return self.live.WriteSector(n, buf)
}

func cloneDisk(t *testing.T, d disk.Backend) disk.Backend {
	n := d.NumSectors()
	c := inmemory.NewInMemoryBackend(n)
	buf := make([]byte, disk.SectorSize)
	for i := uint32(0); i < n; i++ {
		assert.Nil(t, d.ReadSector(i, buf))
		assert.Nil(t, c.WriteSector(i, buf))
	}
	return c
}

func runScenario(t *testing.T, d disk.Backend, body func(*kern.User) string) string {
	done := make(chan string, 1)
	k := kern.NewKernel(kern.Config{Disk: d, Init: scenario(body, done)})
	userland.Register(k)
	k.Boot()
	defer k.Shutdown()
	select {
	case s := <-done:
		return s
	case <-time.After(30 * time.Second):
		t.Fatal("scenario timed out")
		return "timeout"
	}
}

// For a crash after any number of sector writes, remounting must show
// each transaction either entirely or not at all: the file is absent,
// or empty, or carries the full content. A prefix is never visible.
func TestCrashRecovery(t *testing.T) {
	t.Parallel()
	content := pattern(1024)
	sum := sha256.Sum256(content)

	base := newDisk(t)
	for limit := 0; limit <= 24; limit += 2 {
		cd := &crashDisk{
			live:  cloneDisk(t, base),
			saved: cloneDisk(t, base),
			limit: limit,
		}
		s := runScenario(t, cd, func(u *kern.User) string {
			fd := u.Open("crash", kern.O_CREATE|kern.O_RDWR)
			if fd < 0 {
				return "create failed"
			}
			if u.Write(fd, content) != len(content) {
				return "write failed"
			}
			u.Close(fd)
			return ""
		})
		assert.Equal(t, s, "", fmt.Sprintf("limit %d", limit))

		// Remount what survived; log recovery runs at boot
		s = runScenario(t, cd.saved, func(u *kern.User) string {
			fd := u.Open("crash", kern.O_RDONLY)
			if fd < 0 {
				return "" // crashed before create committed
			}
			st, r := u.Fstat(fd)
			if r < 0 {
				return "fstat failed"
			}
			if st.Size == 0 {
				return "" // create committed, write did not
			}
			if st.Size != uint32(len(content)) {
				return fmt.Sprintf("partial size %d", st.Size)
			}
			buf := make([]byte, len(content))
			if u.Read(fd, buf) != len(buf) {
				return "short read"
			}
			if sha256.Sum256(buf) != sum {
				return "partial content"
			}
			return ""
		})
		assert.Equal(t, s, "", fmt.Sprintf("recovery at limit %d", limit))
	}
}
