/*
 * COPYRIGHT 2017 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package provisioner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fleetagent/internal/eventflags"
	"fleetagent/internal/hal/radio"
)

func TestConnectStationSuccess(t *testing.T) {
	flags := eventflags.New()
	sim := radio.NewSim()
	sim.Delay = time.Millisecond
	require.NoError(t, sim.Init(flags))

	err := ConnectStation(sim, flags, Credentials{SSID: "s", Password: "p"}, time.Second)
	require.NoError(t, err)
	require.True(t, sim.IsConnected())
}

func TestConnectStationFailure(t *testing.T) {
	flags := eventflags.New()
	sim := radio.NewSim()
	sim.Delay = time.Millisecond
	sim.Outcome = radio.OutcomeFail
	require.NoError(t, sim.Init(flags))

	err := ConnectStation(sim, flags, Credentials{SSID: "s", Password: "p"}, time.Second)
	require.Error(t, err)
}

func TestConnectStationTimeout(t *testing.T) {
	flags := eventflags.New()
	sim := radio.NewSim()
	sim.Delay = time.Hour
	require.NoError(t, sim.Init(flags))

	err := ConnectStation(sim, flags, Credentials{SSID: "s", Password: "p"}, 10*time.Millisecond)
	require.Error(t, err)
}
