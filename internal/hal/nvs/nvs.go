/*
 * COPYRIGHT 2017 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package nvs defines the contract for the non-volatile key-value store
// (the Go stand-in for the ESP-IDF NVS flash partition) and a bbolt-backed
// implementation of it. All reads tolerate absent keys and namespaces, per
// spec.
package nvs

// Namespaces used by this agent. Keys within a namespace are plain UTF-8
// strings, matching the NVS string-value convention the original firmware
// relies on.
const (
	NamespaceWifiCreds = "wifi_creds"
	NamespaceDeviceCfg = "device_cfg"

	KeySSID     = "ssid"
	KeyPassword = "password"
	KeyDeviceID = "device_id"
	KeyClaim    = "claim_code"
)

// Store is the contract the supervisor's collaborators use to persist
// credentials and device configuration across reboots.
type Store interface {
	// Get returns the value for key in namespace, and whether it was
	// present. A missing namespace or key is not an error.
	Get(namespace, key string) (string, bool, error)
	// Set writes key to value within namespace, creating the namespace
	// if necessary.
	Set(namespace, key, value string) error
	// Delete removes a single key from a namespace. Deleting an absent
	// key is not an error.
	Delete(namespace, key string) error
	// Close releases the underlying storage handle.
	Close() error
}
