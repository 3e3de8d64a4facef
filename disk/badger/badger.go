/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Feb 13 11:31:09 2018 mstenber
 * Last modified: Fri Mar  2 09:51:02 2018 mstenber
 * Edit time:     34 min
 *
 */

package badger

import (
	"encoding/binary"
	"log"

	"github.com/dgraph-io/badger"

	"github.com/fingon/go-minik/disk"
	"github.com/fingon/go-minik/disk/codec"
	"github.com/fingon/go-minik/mlog"
)

// badgerBackend provides on-disk sector storage.
//
// - key: big-endian sector number -> payload
//
// Same contract as the bolt one; absent keys read as zero sectors and
// payloads may be Codec-transformed.
type badgerBackend struct {
	db *badger.DB
	n  uint32
	c  codec.Codec
}

var _ disk.Backend = &badgerBackend{}

func NewBadgerBackend(dir string, nsectors uint32, c codec.Codec) disk.Backend {
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	db, err := badger.Open(opts)
	if err != nil {
		log.Panic("badger.Open", err)
	}
	return &badgerBackend{db: db, n: nsectors, c: c}
}

func (self *badgerBackend) Close() {
	self.db.Close()
}

func (self *badgerBackend) NumSectors() uint32 {
	return self.n
}

func sectorKeyBytes(n uint32) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, n)
	return k
}

func (self *badgerBackend) ReadSector(n uint32, buf []byte) error {
	if err := disk.CheckIO(self.n, n, buf); err != nil {
		return err
	}
	k := sectorKeyBytes(n)
	var v []byte
	err := self.db.View(func(txn *badger.Txn) error {
		i, err := txn.Get(k)
		if err != nil {
			return err
		}
		v, err = i.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	if err != nil {
		return err
	}
	mlog.Printf2("disk/badger/badger", "bad.ReadSector %d (%d b)", n, len(v))
	if self.c != nil {
		v, err = self.c.DecodeBytes(v, k)
		if err != nil {
			return err
		}
	}
	if len(v) != disk.SectorSize {
		return disk.ErrShortSector
	}
	copy(buf, v)
	return nil
}

func (self *badgerBackend) WriteSector(n uint32, buf []byte) error {
	if err := disk.CheckIO(self.n, n, buf); err != nil {
		return err
	}
	k := sectorKeyBytes(n)
	v := buf
	if self.c != nil {
		var err error
		v, err = self.c.EncodeBytes(buf, k)
		if err != nil {
			return err
		}
	}
	mlog.Printf2("disk/badger/badger", "bad.WriteSector %d (%d b)", n, len(v))
	return self.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, v)
	})
}
