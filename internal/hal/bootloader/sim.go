/*
 * COPYRIGHT 2017 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package bootloader

import (
	"encoding/json"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// sidecar is the on-disk record of which slot is running, which (if any) is
// still pending verification, and which is armed as the next-boot target.
// It stands in for the bit of eFuse/OTA-data the real bootloader consults at
// reset.
type sidecar struct {
	Running       PartitionHandle `json:"running"`
	NextBoot      PartitionHandle `json:"next_boot"`
	PendingVerify bool            `json:"pending_verify"`
}

// Sim is a host-runnable Bootloader that simulates the two firmware slots as
// plain files on disk, with a JSON sidecar recording boot state. It lets the
// rest of the agent run, and be tested, on a development machine with no
// real flash partitions.
type Sim struct {
	mu      sync.Mutex
	dir     string
	sidecar sidecar
}

const sidecarFile = "boot-state.json"

func slotPath(dir string, slot PartitionHandle) string {
	return filepath.Join(dir, string(slot)+".img")
}

func sidecarPath(dir string) string {
	return filepath.Join(dir, sidecarFile)
}

// NewSim opens or creates a simulated bootloader rooted at dir. On first use
// dir is initialized with slot A running, nothing pending verification.
func NewSim(dir string) (*Sim, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create bootloader sim dir %s", dir)
	}

	s := &Sim{dir: dir}

	raw, err := ioutil.ReadFile(sidecarPath(dir))
	if os.IsNotExist(err) {
		s.sidecar = sidecar{Running: SlotA, NextBoot: SlotA}
		if err := s.save(); err != nil {
			return nil, err
		}
		return s, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "failed to read bootloader sim state %s", sidecarPath(dir))
	}

	if err := json.Unmarshal(raw, &s.sidecar); err != nil {
		return nil, errors.Wrapf(err, "failed to parse bootloader sim state %s", sidecarPath(dir))
	}
	return s, nil
}

func (s *Sim) save() error {
	raw, err := json.MarshalIndent(&s.sidecar, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal bootloader sim state")
	}
	if err := ioutil.WriteFile(sidecarPath(s.dir), raw, 0644); err != nil {
		return errors.Wrapf(err, "failed to write bootloader sim state %s", sidecarPath(s.dir))
	}
	return nil
}

// RunningSlot implements Bootloader.
func (s *Sim) RunningSlot() PartitionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sidecar.Running
}

// NextUpdatePartition implements Bootloader.
func (s *Sim) NextUpdatePartition() PartitionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sidecar.Running.Other()
}

// OpenWriter implements Bootloader. It truncates any previous image in slot,
// mirroring esp_ota_begin erasing the target partition before writes begin.
func (s *Sim) OpenWriter(slot PartitionHandle) (io.WriteCloser, error) {
	f, err := os.OpenFile(slotPath(s.dir, slot), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open slot %s for writing", slot)
	}
	return f, nil
}

// SetBootPartition implements Bootloader. It arms slot as the next-boot
// target in pending-verify state and, standing in for the reboot that
// follows on a real device, immediately records slot as the running slot.
// The slot only becomes fully trusted after a later MarkValid.
func (s *Sim) SetBootPartition(slot PartitionHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sidecar.NextBoot = slot
	s.sidecar.Running = slot
	s.sidecar.PendingVerify = true
	return s.save()
}

// PendingVerify implements Bootloader.
func (s *Sim) PendingVerify(slot PartitionHandle) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot != s.sidecar.Running {
		return false, nil
	}
	return s.sidecar.PendingVerify, nil
}

// MarkValid implements Bootloader.
func (s *Sim) MarkValid() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sidecar.PendingVerify = false
	return s.save()
}

// MarkInvalidRollbackAndReboot implements Bootloader. On a real device this
// never returns because the reboot takes over; the simulator instead leaves
// the state rolled back and returns so tests can assert on it.
func (s *Sim) MarkInvalidRollbackAndReboot() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prior := s.sidecar.Running.Other()
	s.sidecar.Running = prior
	s.sidecar.NextBoot = prior
	s.sidecar.PendingVerify = false
	return s.save()
}
