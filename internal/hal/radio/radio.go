/*
 * COPYRIGHT 2017 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package radio defines the contract this agent needs from the Wi-Fi
// driver: bring up a station connection or a fallback access point, and
// report link quality. It mirrors wifi_manager.c's use of the ESP-IDF
// esp_wifi_* calls and the event loop that feeds WIFI_CONNECTED_BIT /
// WIFI_FAIL_BIT back to the caller.
package radio

import "fleetagent/internal/eventflags"

// Radio is the contract the provisioner and supervisor use to drive the
// Wi-Fi interface. Implementations report connection outcomes by setting
// bits on the eventflags.Flags passed to Init, rather than through a
// callback interface, matching how the original firmware's event handler
// communicates with the task that's blocked in xEventGroupWaitBits.
type Radio interface {
	// Init wires the radio driver to the flags it should set as
	// connection events occur. It must be called before any other
	// method.
	Init(flags *eventflags.Flags) error
	// ConnectStation starts a station-mode connection attempt to the
	// given SSID/password. Connection outcome is reported asynchronously
	// via eventflags.StaConnected or eventflags.StaFailed.
	ConnectStation(ssid, password string) error
	// StopStation tears down any active or in-progress station
	// connection.
	StopStation() error
	// StartAP brings up a fallback access point with the given SSID, with
	// no password (matching the original firmware's open onboarding AP).
	StartAP(ssid string) error
	// StopAP tears down the access point.
	StopAP() error
	// IsConnected reports whether the station interface currently holds
	// an IP lease.
	IsConnected() bool
	// CurrentIP returns the station interface's IP address, or "" if not
	// connected.
	CurrentIP() string
	// CurrentRSSI returns the station interface's received signal
	// strength in dBm. It is only meaningful while IsConnected is true.
	CurrentRSSI() int
}
