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
	"io/ioutil"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSimInitialState(t *testing.T) {
	dir, err := ioutil.TempDir("", "bootloader-sim")
	require.NoError(t, err)

	sim, err := NewSim(dir)
	require.NoError(t, err)
	require.Equal(t, SlotA, sim.RunningSlot())
	require.Equal(t, SlotB, sim.NextUpdatePartition())

	pending, err := sim.PendingVerify(SlotA)
	require.NoError(t, err)
	require.False(t, pending)
}

func TestSimApplyAndRollback(t *testing.T) {
	dir, err := ioutil.TempDir("", "bootloader-sim")
	require.NoError(t, err)

	sim, err := NewSim(dir)
	require.NoError(t, err)

	target := sim.NextUpdatePartition()
	w, err := sim.OpenWriter(target)
	require.NoError(t, err)
	_, err = w.Write([]byte("firmware-image"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, sim.SetBootPartition(target))
	require.Equal(t, target, sim.RunningSlot())

	pending, err := sim.PendingVerify(target)
	require.NoError(t, err)
	require.True(t, pending)

	require.NoError(t, sim.MarkInvalidRollbackAndReboot())
	require.Equal(t, target.Other(), sim.RunningSlot())

	pending, err = sim.PendingVerify(target.Other())
	require.NoError(t, err)
	require.False(t, pending)
}

func TestSimApplyAndCommit(t *testing.T) {
	dir, err := ioutil.TempDir("", "bootloader-sim")
	require.NoError(t, err)

	sim, err := NewSim(dir)
	require.NoError(t, err)

	target := sim.NextUpdatePartition()
	w, err := sim.OpenWriter(target)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, sim.SetBootPartition(target))
	require.NoError(t, sim.MarkValid())

	pending, err := sim.PendingVerify(target)
	require.NoError(t, err)
	require.False(t, pending)

	// Reopening from the same directory should reload the committed state.
	sim2, err := NewSim(dir)
	require.NoError(t, err)
	require.Equal(t, target, sim2.RunningSlot())
	pending, err = sim2.PendingVerify(target)
	require.NoError(t, err)
	require.False(t, pending)
}
