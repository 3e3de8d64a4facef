/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Feb 13 11:52:30 2018 mstenber
 * Last modified: Fri Mar  2 10:12:44 2018 mstenber
 * Edit time:     37 min
 *
 */

// factory package constructs disk backends by name so the rest of the
// code (and the command line) does not need to care which storage
// flavor is underneath the device.
package factory

import (
	"fmt"
	"log"

	"github.com/fingon/go-minik/disk"
	"github.com/fingon/go-minik/disk/badger"
	"github.com/fingon/go-minik/disk/bolt"
	"github.com/fingon/go-minik/disk/codec"
	"github.com/fingon/go-minik/disk/file"
	"github.com/fingon/go-minik/disk/inmemory"
	"github.com/fingon/go-minik/mlog"
)

// Config describes the device to be constructed. Password/Salt and
// Compress apply only to backends with variable length values (bolt,
// badger); the flat file image and the RAM disk stay raw.
type Config struct {
	Name       string
	Dir        string
	NumSectors uint32
	Password   string
	Salt       string
	Compress   bool
}

type factoryCallback func(config Config, c codec.Codec) disk.Backend

var backendFactories = map[string]factoryCallback{
	"inmemory": func(config Config, c codec.Codec) disk.Backend {
		return inmemory.NewInMemoryBackend(config.NumSectors)
	},
	"file": func(config Config, c codec.Codec) disk.Backend {
		return file.NewFileBackend(fmt.Sprintf("%s/disk.img", config.Dir),
			config.NumSectors)
	},
	"bolt": func(config Config, c codec.Codec) disk.Backend {
		return bolt.NewBoltBackend(config.Dir, config.NumSectors, c)
	},
	"badger": func(config Config, c codec.Codec) disk.Backend {
		return badger.NewBadgerBackend(config.Dir, config.NumSectors, c)
	}}

var codecCapable = map[string]bool{"bolt": true, "badger": true}

func List() []string {
	keys := make([]string, 0, len(backendFactories))
	for k := range backendFactories {
		keys = append(keys, k)
	}
	return keys
}

func newCodec(config Config) codec.Codec {
	codecs := make([]codec.Codec, 0, 2)
	if config.Password != "" {
		salt := config.Salt
		if salt == "" {
			salt = "asdf"
		}
		mlog.Printf2("disk/factory/factory", " with encryption")
		codecs = append(codecs,
			codec.EncryptingCodec{}.Init([]byte(config.Password), []byte(salt)))
	}
	if config.Compress {
		mlog.Printf2("disk/factory/factory", " with compression")
		codecs = append(codecs, &codec.CompressingCodec{})
	}
	if len(codecs) == 0 {
		return nil
	}
	return codec.CodecChain{}.Init(codecs...)
}

func New(config Config) disk.Backend {
	mlog.Printf2("disk/factory/factory", "f.New %v", config)
	cb := backendFactories[config.Name]
	if cb == nil {
		log.Panicf("unknown disk backend: %s", config.Name)
	}
	var c codec.Codec
	if codecCapable[config.Name] {
		c = newCodec(config)
	} else if config.Password != "" || config.Compress {
		log.Panicf("backend %s stores raw sectors and cannot take a codec",
			config.Name)
	}
	return cb(config, c)
}
