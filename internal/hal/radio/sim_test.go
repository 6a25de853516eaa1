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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fleetagent/internal/eventflags"
)

func TestSimConnectSuccess(t *testing.T) {
	flags := eventflags.New()
	sim := NewSim()
	sim.Delay = time.Millisecond
	require.NoError(t, sim.Init(flags))
	require.NoError(t, sim.ConnectStation("ssid", "pw"))

	got := flags.Wait(eventflags.StaConnected|eventflags.StaFailed, time.Second)
	require.Equal(t, eventflags.StaConnected, got)
	require.True(t, sim.IsConnected())
	require.NotEmpty(t, sim.CurrentIP())
}

func TestSimConnectFailure(t *testing.T) {
	flags := eventflags.New()
	sim := NewSim()
	sim.Delay = time.Millisecond
	sim.Outcome = OutcomeFail
	require.NoError(t, sim.Init(flags))
	require.NoError(t, sim.ConnectStation("ssid", "pw"))

	got := flags.Wait(eventflags.StaConnected|eventflags.StaFailed, time.Second)
	require.Equal(t, eventflags.StaFailed, got)
	require.False(t, sim.IsConnected())
	require.Empty(t, sim.CurrentIP())
}
