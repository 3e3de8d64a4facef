/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Feb 13 10:02:48 2018 mstenber
 * Last modified: Thu Mar  1 11:13:29 2018 mstenber
 * Edit time:     31 min
 *
 */

package inmemory

import (
	"github.com/fingon/go-minik/disk"
	"github.com/fingon/go-minik/util"
)

// InMemoryBackend keeps the whole device in one byte slice. It doubles
// as the boot-from-image RAM disk: hand it an image and the first
// sectors are populated from it.
type InMemoryBackend struct {
	lock util.MutexLocked
	data []byte
	n    uint32
}

var _ disk.Backend = &InMemoryBackend{}

func NewInMemoryBackend(nsectors uint32) *InMemoryBackend {
	return &InMemoryBackend{n: nsectors,
		data: make([]byte, int(nsectors)*disk.SectorSize)}
}

// FromBytes makes a backend out of an existing disk image. The image
// may be shorter than the declared capacity; the tail reads as zeroes.
func FromBytes(nsectors uint32, image []byte) *InMemoryBackend {
	self := NewInMemoryBackend(nsectors)
	copy(self.data, image)
	return self
}

func (self *InMemoryBackend) Close() {
}

func (self *InMemoryBackend) NumSectors() uint32 {
	return self.n
}

func (self *InMemoryBackend) ReadSector(n uint32, buf []byte) error {
	if err := disk.CheckIO(self.n, n, buf); err != nil {
		return err
	}
	defer self.lock.Locked()()
	copy(buf, self.data[int(n)*disk.SectorSize:])
	return nil
}

func (self *InMemoryBackend) WriteSector(n uint32, buf []byte) error {
	if err := disk.CheckIO(self.n, n, buf); err != nil {
		return err
	}
	defer self.lock.Locked()()
	copy(self.data[int(n)*disk.SectorSize:], buf)
	return nil
}

// Bytes returns a copy of the current device content.
func (self *InMemoryBackend) Bytes() []byte {
	defer self.lock.Locked()()
	r := make([]byte, len(self.data))
	copy(r, self.data)
	return r
}
