/*
 * COPYRIGHT 2017 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package eventflags implements the cross-context handoff primitive the
// supervisor uses to learn about asynchronous events raised by the radio
// driver's callback context and the captive portal's HTTP handler context.
// It is a portable stand-in for FreeRTOS's EventGroupHandle_t: a small set
// of boolean bits, set by a producer and awaited (with timeout) by a single
// consumer, with release semantics — a Set that happens before a Wait starts
// is still observed by that Wait.
package eventflags

import (
	"sync"
	"time"
)

// Bits is a bitmask of condition flags.
type Bits uint32

const (
	// StaConnected is set when the station interface obtains an IP.
	StaConnected Bits = 1 << iota
	// StaFailed is set when the station interface gives up or disconnects.
	StaFailed
	// PortalCredentialsReceived is set when the captive portal saves new
	// Wi-Fi credentials.
	PortalCredentialsReceived
)

// Flags is a small condition-flag object shared between one waiter (the
// supervisor) and any number of setters (the radio driver, the portal HTTP
// handlers).
type Flags struct {
	mu   sync.Mutex
	cond *sync.Cond
	bits Bits
}

// New returns a ready-to-use Flags object with no bits set.
func New() *Flags {
	f := &Flags{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Set raises the given bits and wakes any waiters.
func (f *Flags) Set(mask Bits) {
	f.mu.Lock()
	f.bits |= mask
	f.mu.Unlock()
	f.cond.Broadcast()
}

// Clear lowers the given bits.
func (f *Flags) Clear(mask Bits) {
	f.mu.Lock()
	f.bits &^= mask
	f.mu.Unlock()
}

// Observed reports the bits currently set, without waiting or clearing
// anything.
func (f *Flags) Observed() Bits {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bits
}

// Wait blocks until any bit in mask is set, or timeout elapses, and returns
// the subset of mask that was observed set (zero if the call timed out).
// Because the check happens under the same lock a Set acquires, a Set that
// completes before Wait is called is still observed — the waiter never
// blocks past a condition that has already become true.
func (f *Flags) Wait(mask Bits, timeout time.Duration) Bits {
	deadline := time.Now().Add(timeout)

	f.mu.Lock()
	defer f.mu.Unlock()

	for f.bits&mask == 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0
		}
		waitWithTimeout(f.cond, &f.mu, remaining)
	}

	return f.bits & mask
}

// waitWithTimeout wakes the waiting goroutine either when the condition is
// broadcast or when the timeout elapses, whichever comes first. sync.Cond
// has no native timeout, so a timer goroutine performs a spurious broadcast
// when it fires; the caller's loop re-checks the real condition regardless.
func waitWithTimeout(cond *sync.Cond, mu *sync.Mutex, timeout time.Duration) {
	timer := time.AfterFunc(timeout, func() {
		mu.Lock()
		mu.Unlock()
		cond.Broadcast()
	})
	defer timer.Stop()
	cond.Wait()
}
