/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Feb 13 10:21:33 2018 mstenber
 * Last modified: Thu Mar  1 11:40:52 2018 mstenber
 * Edit time:     58 min
 *
 */

package file

import (
	"log"
	"os"

	"github.com/bluele/gcache"
	"github.com/fingon/go-minik/disk"
	"github.com/fingon/go-minik/mlog"
)

// fileBackend stores the device in one flat image file, the classic
// disk image format every other tool understands. Reads go through a
// small ARC cache; writes are write-through both to the cache and the
// file.
type fileBackend struct {
	f     *os.File
	n     uint32
	cache gcache.Cache
}

var _ disk.Backend = &fileBackend{}

const defaultCacheSectors = 1024

func NewFileBackend(path string, nsectors uint32) disk.Backend {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		log.Panic(err)
	}
	self := &fileBackend{f: f, n: nsectors}
	self.cache = gcache.New(defaultCacheSectors).ARC().Build()
	return self
}

func (self *fileBackend) Close() {
	self.f.Close()
}

func (self *fileBackend) NumSectors() uint32 {
	return self.n
}

func (self *fileBackend) ReadSector(n uint32, buf []byte) error {
	if err := disk.CheckIO(self.n, n, buf); err != nil {
		return err
	}
	if v, err := self.cache.GetIFPresent(n); err == nil {
		copy(buf, v.([]byte))
		return nil
	}
	mlog.Printf2("disk/file", "fb.ReadSector %d from file", n)
	cnt, err := self.f.ReadAt(buf, int64(n)*disk.SectorSize)
	if err != nil && cnt == 0 {
		// Image may be shorter than the device; that space
		// reads as zeroes.
		for i := range buf {
			buf[i] = 0
		}
	} else if cnt < disk.SectorSize {
		for i := cnt; i < disk.SectorSize; i++ {
			buf[i] = 0
		}
	}
	self.cacheSector(n, buf)
	return nil
}

func (self *fileBackend) WriteSector(n uint32, buf []byte) error {
	if err := disk.CheckIO(self.n, n, buf); err != nil {
		return err
	}
	mlog.Printf2("disk/file", "fb.WriteSector %d", n)
	if _, err := self.f.WriteAt(buf, int64(n)*disk.SectorSize); err != nil {
		return err
	}
	self.cacheSector(n, buf)
	return nil
}

func (self *fileBackend) cacheSector(n uint32, buf []byte) {
	b := make([]byte, disk.SectorSize)
	copy(b, buf)
	self.cache.Set(n, b)
}
