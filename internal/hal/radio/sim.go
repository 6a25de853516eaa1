/*
 * COPYRIGHT 2017 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package radio

import (
	"sync"
	"time"

	"github.com/tevino/abool"

	"fleetagent/internal/eventflags"
)

// SimOutcome controls how a Sim radio's next connection attempt resolves.
type SimOutcome int

const (
	// OutcomeConnect makes ConnectStation succeed after Delay.
	OutcomeConnect SimOutcome = iota
	// OutcomeFail makes ConnectStation fail after Delay.
	OutcomeFail
)

// Sim is a host-runnable Radio that resolves connection attempts on a timer
// instead of talking to real hardware, so the supervisor's state machine can
// be exercised deterministically in tests and in non-embedded builds.
type Sim struct {
	mu      sync.Mutex
	flags   *eventflags.Flags
	Outcome SimOutcome
	Delay   time.Duration
	Address string
	RSSI    int

	// connected is read on every supervisor idle-loop tick (IsConnected)
	// from a goroutine other than the one that sets it in ConnectStation's
	// timer callback, so it is kept as an atomic flag rather than folded
	// into the fields mu already protects.
	connected *abool.AtomicBool
	apSSID    string
	stopCh    chan struct{}
}

// NewSim returns a Sim radio defaulting to a successful connection after a
// 10 ms delay, with a simulated IP and signal strength. Tests adjust Outcome,
// Delay, Address and RSSI before calling ConnectStation.
func NewSim() *Sim {
	return &Sim{
		Outcome:   OutcomeConnect,
		Delay:     10 * time.Millisecond,
		Address:   "192.168.1.42",
		RSSI:      -50,
		connected: abool.NewBool(false),
	}
}

// Init implements Radio.
func (s *Sim) Init(flags *eventflags.Flags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags = flags
	return nil
}

// ConnectStation implements Radio.
func (s *Sim) ConnectStation(ssid, password string) error {
	s.mu.Lock()
	flags := s.flags
	outcome := s.Outcome
	delay := s.Delay
	stop := make(chan struct{})
	s.stopCh = stop
	s.mu.Unlock()

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-stop:
			return
		}

		if outcome == OutcomeConnect {
			s.connected.Set()
		}

		if outcome == OutcomeConnect {
			flags.Set(eventflags.StaConnected)
		} else {
			flags.Set(eventflags.StaFailed)
		}
	}()
	return nil
}

// StopStation implements Radio.
func (s *Sim) StopStation() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	s.connected.UnSet()
	return nil
}

// StartAP implements Radio.
func (s *Sim) StartAP(ssid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apSSID = ssid
	return nil
}

// StopAP implements Radio.
func (s *Sim) StopAP() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apSSID = ""
	return nil
}

// IsConnected implements Radio.
func (s *Sim) IsConnected() bool {
	return s.connected.IsSet()
}

// CurrentIP implements Radio.
func (s *Sim) CurrentIP() string {
	if !s.connected.IsSet() {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Address
}

// CurrentRSSI implements Radio.
func (s *Sim) CurrentRSSI() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.RSSI
}
