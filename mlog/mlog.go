/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Feb 12 10:02:41 2018 mstenber
 * Last modified: Thu Mar 15 11:48:02 2018 mstenber
 * Edit time:     74 min
 *
 */

// mlog is maybe-log. It is a small wrapper of the standard 'log'
// which prints only what the MLOG environment variable (or the -mlog
// flag) says should be printed, as a regular expression matched
// against the caller-supplied file tag. What is not printed costs
// next to nothing.
package mlog

import (
	"flag"
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/fingon/go-minik/util/gid"
)

var logger = log.New(os.Stderr, "", log.Ltime|log.Lmicroseconds)

const (
	stateUninitialized int32 = iota
	stateDisabled
	stateEnabled
)

var status int32 = stateUninitialized

var mutex sync.Mutex

// Everything below is used only with mutex held
var flagPattern *string
var pattern string
var patternRegexp *regexp.Regexp
var tag2Enabled map[string]bool

func init() {
	flagPattern = flag.String("mlog", "", "Enable logging based on the given file tag regular expression")
}

// IsEnabled can be used to check if mlog is in use at all before
// doing something expensive just to produce log arguments.
func IsEnabled() bool {
	return atomic.LoadInt32(&status) != stateDisabled
}

// SetLogger overrides the output logger. The returned undo function
// reverts to the old one.
func SetLogger(l *log.Logger) (undo func()) {
	mutex.Lock()
	defer mutex.Unlock()
	old := logger
	logger = l
	return func() {
		mutex.Lock()
		defer mutex.Unlock()
		logger = old
	}
}

// SetPattern sets the pattern by hand, overriding environment and
// flag. The returned undo function reverts to the old state.
func SetPattern(p string) (undo func()) {
	mutex.Lock()
	defer mutex.Unlock()
	old := pattern
	initializeWithPattern(p)
	return func() {
		mutex.Lock()
		defer mutex.Unlock()
		initializeWithPattern(old)
	}
}

func initializeWithPattern(p string) {
	pattern = p
	tag2Enabled = make(map[string]bool)
	if p == "" {
		atomic.StoreInt32(&status, stateDisabled)
		return
	}
	patternRegexp = regexp.MustCompile(p)
	atomic.StoreInt32(&status, stateEnabled)
}

func initialize() {
	p := os.Getenv("MLOG")
	if *flagPattern != "" {
		p = *flagPattern
	}
	initializeWithPattern(p)
}

// Printf2 logs with the given file tag, if the tag matches the
// configured pattern. The goroutine id is baked in to make
// interleaved traces readable.
func Printf2(file string, format string, args ...interface{}) {
	if atomic.LoadInt32(&status) == stateDisabled {
		return
	}
	mutex.Lock()
	defer mutex.Unlock()
	if atomic.LoadInt32(&status) == stateUninitialized {
		initialize()
		if atomic.LoadInt32(&status) == stateDisabled {
			return
		}
	}
	enabled, seen := tag2Enabled[file]
	if !seen {
		enabled = patternRegexp.FindString(file) != ""
		tag2Enabled[file] = enabled
	}
	if !enabled {
		return
	}
	logger.Printf(fmt.Sprintf("%8d %s", gid.GetGoroutineID(), format), args...)
}

// Panicf logs (regardless of pattern) and then panics.
func Panicf(format string, args ...interface{}) {
	logger.Panicf(format, args...)
}
