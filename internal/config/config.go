/*
 * COPYRIGHT 2017 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package config holds the agent's compile-time-overridable configuration:
// the server base URL, default device id, firmware version string, the
// four timing intervals and the health-check heap floor named in spec §6.
// Values are wired up via the standard flag package, following this
// repo's other daemons rather than reaching for a config file format the
// spec never asks for.
package config

import (
	"flag"
	"time"
)

// Config holds every compile-time-configurable knob the supervisor and its
// collaborators need.
type Config struct {
	ServerBaseURL   string
	DefaultDeviceID string
	FirmwareVersion string

	WifiConnectTimeout time.Duration
	APPortalTimeout    time.Duration
	OTACheckInterval   time.Duration
	HeartbeatInterval  time.Duration

	DownloadTimeout      time.Duration
	ControlPlaneTimeout  time.Duration
	ReachabilityTimeout  time.Duration
	PortalRetryCooldown  time.Duration
	HealthCheckHeapFloor uint64

	NVSPath string
}

// Default mirrors the constants hard-coded in the original firmware's
// main.c and ota_manager.c.
func Default() *Config {
	return &Config{
		ServerBaseURL:   "https://your-server.example.com",
		DefaultDeviceID: "",
		FirmwareVersion: "0.1.0",

		WifiConnectTimeout: 15 * time.Second,
		APPortalTimeout:    5 * time.Minute,
		OTACheckInterval:   60 * time.Second,
		HeartbeatInterval:  30 * time.Second,

		DownloadTimeout:      30 * time.Second,
		ControlPlaneTimeout:  10 * time.Second,
		ReachabilityTimeout:  5 * time.Second,
		PortalRetryCooldown:  10 * time.Second,
		HealthCheckHeapFloor: 32 * 1024,

		NVSPath: "fleetagent.db",
	}
}

// RegisterFlags binds every Config field to a flag on fs, defaulting to the
// values already present in c (normally those from Default()). Call before
// fs.Parse.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ServerBaseURL, "server", c.ServerBaseURL,
		"base URL of the fleet control server")
	fs.StringVar(&c.DefaultDeviceID, "device-id", c.DefaultDeviceID,
		"compile-time default device id, used only if none is persisted")
	fs.StringVar(&c.FirmwareVersion, "firmware-version", c.FirmwareVersion,
		"this build's firmware version string")

	fs.DurationVar(&c.WifiConnectTimeout, "wifi-connect-timeout", c.WifiConnectTimeout,
		"time allowed for a station connection attempt")
	fs.DurationVar(&c.APPortalTimeout, "ap-portal-timeout", c.APPortalTimeout,
		"time to wait for captive-portal credentials before retrying")
	fs.DurationVar(&c.OTACheckInterval, "ota-check-interval", c.OTACheckInterval,
		"interval between update checks while idle")
	fs.DurationVar(&c.HeartbeatInterval, "heartbeat-interval", c.HeartbeatInterval,
		"interval between telemetry heartbeats while idle")

	fs.DurationVar(&c.DownloadTimeout, "download-timeout", c.DownloadTimeout,
		"time allowed for the firmware download socket")
	fs.DurationVar(&c.ControlPlaneTimeout, "control-plane-timeout", c.ControlPlaneTimeout,
		"time allowed for control-plane POSTs")
	fs.DurationVar(&c.ReachabilityTimeout, "reachability-timeout", c.ReachabilityTimeout,
		"time allowed for the OTA server reachability probe")
	fs.DurationVar(&c.PortalRetryCooldown, "portal-retry-cooldown", c.PortalRetryCooldown,
		"delay before reopening the captive portal after a timeout")
	fs.Uint64Var(&c.HealthCheckHeapFloor, "health-check-heap-floor", c.HealthCheckHeapFloor,
		"minimum free heap, in bytes, required to pass the post-update health check")

	fs.StringVar(&c.NVSPath, "nvs-path", c.NVSPath,
		"path to the persistent key-value store file")
}
