/*
 * COPYRIGHT 2017 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package bootloader defines the contract this agent needs from the boot
// loader: enumerate the two firmware slots, open a sequential writer for
// the inactive one, switch the next-boot slot, and commit or roll back a
// pending-verify image. It mirrors the esp_ota_* family the original
// firmware calls directly (esp_ota_get_running_partition,
// esp_ota_begin/write/end, esp_ota_set_boot_partition,
// esp_ota_mark_app_valid_cancel_rollback,
// esp_ota_mark_app_invalid_rollback_and_reboot).
package bootloader

import "io"

// PartitionHandle is an opaque reference to one of the two firmware slots.
// Exactly one slot is ever "running"; Bootloader.NextUpdatePartition always
// names the other one.
type PartitionHandle string

// The two slots a dual-partition device alternates between.
const (
	SlotA PartitionHandle = "slot-a"
	SlotB PartitionHandle = "slot-b"
)

// Other returns the non-running slot for a two-slot device.
func (p PartitionHandle) Other() PartitionHandle {
	if p == SlotA {
		return SlotB
	}
	return SlotA
}

// Bootloader is the contract the OTA pipeline and supervisor use to manage
// the A/B partition registry. Every method here that can change which slot
// boots next is serialized by the supervisor being single-threaded — see
// spec.md §5.
type Bootloader interface {
	// RunningSlot reports which slot this process is currently executing
	// from.
	RunningSlot() PartitionHandle
	// NextUpdatePartition returns the slot a new download should target:
	// always the non-running slot.
	NextUpdatePartition() PartitionHandle
	// OpenWriter opens a sequential writer for the given slot. The
	// caller must Close it to finalize the image.
	OpenWriter(slot PartitionHandle) (io.WriteCloser, error)
	// SetBootPartition arms slot as the next-boot target, leaving it in
	// pending-verify state. Apart from MarkInvalidRollbackAndReboot,
	// this is the only call that changes which slot boots next.
	SetBootPartition(slot PartitionHandle) error
	// PendingVerify reports whether the given slot (normally the
	// running one, just after an OTA reboot) is still awaiting a
	// commit/rollback decision.
	PendingVerify(slot PartitionHandle) (bool, error)
	// MarkValid clears pending-verify on the running slot: the image
	// has proven itself healthy.
	MarkValid() error
	// MarkInvalidRollbackAndReboot marks the running slot invalid,
	// restores the prior slot as the boot target, and reboots. It does
	// not return on success.
	MarkInvalidRollbackAndReboot() error
}
