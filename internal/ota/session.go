/*
 * COPYRIGHT 2017 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package ota

import (
	"crypto/sha256"
	"hash"
	"io"
	"sync"

	"fleetagent/internal/hal/bootloader"
)

// session is the transient bundle of (target partition, writer, hasher)
// that exists only for the lifetime of a single download/verify/apply
// attempt. Its writer and hasher are always disposed together: whichever
// path ends the session — abort, verify failure, or apply — releases both,
// so a half-closed session can never linger.
type session struct {
	target bootloader.PartitionHandle
	writer io.WriteCloser
	hasher hash.Hash
	active bool
}

// guard serializes session creation so that at most one OTA session is ever
// active at a time (invariant I7), even though in this agent only the
// single supervisor goroutine ever calls into the pipeline.
type guard struct {
	mu sync.Mutex
	s  *session
}

func newGuard() *guard {
	return &guard{}
}

// begin opens a new session targeting target. It fails if a session is
// already active.
func (g *guard) begin(target bootloader.PartitionHandle, w io.WriteCloser) (*session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.s != nil && g.s.active {
		return nil, errSessionActive
	}

	s := &session{
		target: target,
		writer: w,
		hasher: sha256.New(),
		active: true,
	}
	g.s = s
	return s, nil
}

// end clears the active session, regardless of outcome.
func (g *guard) end() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.s != nil {
		g.s.active = false
	}
}

// current returns the active session, or nil if none.
func (g *guard) current() *session {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.s == nil || !g.s.active {
		return nil
	}
	return g.s
}
