/*
 * COPYRIGHT 2017 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package supervisor

// AgentState is the supervisor's process-wide state variable. It is
// mutated only by the supervisor's own goroutine; nothing else may assign
// it, matching main.c's single-task state enum.
type AgentState int

const (
	// Boot is entered on every cold start, including one following an
	// OTA reboot.
	Boot AgentState = iota
	// WifiConnect attempts a station connection using stored credentials.
	WifiConnect
	// APPortal raises the onboarding access point and waits for new
	// credentials.
	APPortal
	// Idle is the steady-state polling loop: heartbeats, update checks,
	// link-loss detection.
	Idle
	// CheckUpdate polls the control server for a pending update.
	CheckUpdate
	// Download streams a pending update into the inactive partition.
	Download
	// Verify checks the downloaded image's hash.
	Verify
	// Apply arms the boot loader and reboots.
	Apply
	// HealthCheck runs the post-update probes and issues commit or
	// rollback.
	HealthCheck
)

func (s AgentState) String() string {
	switch s {
	case Boot:
		return "BOOT"
	case WifiConnect:
		return "WIFI_CONNECT"
	case APPortal:
		return "AP_PORTAL"
	case Idle:
		return "IDLE"
	case CheckUpdate:
		return "CHECK_UPDATE"
	case Download:
		return "DOWNLOAD"
	case Verify:
		return "VERIFY"
	case Apply:
		return "APPLY"
	case HealthCheck:
		return "HEALTH_CHECK"
	default:
		return "UNKNOWN"
	}
}
