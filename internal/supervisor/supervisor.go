/*
 * COPYRIGHT 2017 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package supervisor implements the single cooperative state machine that
// sequences the network provisioner, the OTA pipeline, and the device
// agent, and owns the post-update health check's commit/rollback decision.
// It is the Go counterpart of main.c's agent_task, generalized off the
// hard-coded state switch onto the HAL and collaborator packages built
// elsewhere in this module.
package supervisor

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"fleetagent/internal/aputil"
	"fleetagent/internal/config"
	"fleetagent/internal/deviceagent"
	"fleetagent/internal/eventflags"
	"fleetagent/internal/hal/bootloader"
	"fleetagent/internal/hal/nvs"
	"fleetagent/internal/hal/radio"
	"fleetagent/internal/ota"
	"fleetagent/internal/provisioner"
)

const idleTick = time.Second

// throttledLoggerBaseDelay and throttledLoggerMaxDelay bound the backoff
// applied to the supervisor's noisy retry-loop warnings (lost Wi-Fi, an
// unreachable OTA server) via aputil.ThrottledLogger.
const (
	throttledLoggerBaseDelay = time.Second
	throttledLoggerMaxDelay  = time.Minute
)

type sugaredLogger interface {
	Infof(string, ...interface{})
	Warnf(string, ...interface{})
	Errorf(string, ...interface{})
}

// Supervisor owns AgentState and drives the state machine described in
// spec.md §4.4. One Supervisor is constructed at start-up with its
// collaborators already wired, and Run is called exactly once for the
// process lifetime (a second concurrent call is coalesced via singleflight
// rather than running two state machines against the same hardware).
type Supervisor struct {
	cfg      *config.Config
	boot     bootloader.Bootloader
	radio    radio.Radio
	store    nvs.Store
	flags    *eventflags.Flags
	pipeline *ota.Pipeline
	agent    *deviceagent.Agent
	log      sugaredLogger
	// zlog, when the caller supplied a real *zap.SugaredLogger, backs a
	// aputil.ThrottledLogger for the state machine's noisy retry-loop
	// warnings. Stub loggers used in tests leave this nil and fall back to
	// plain, unthrottled logging.
	zlog     *zap.SugaredLogger
	freeHeap func() uint64

	state AgentState
	sf    singleflight.Group

	pendingUpdate ota.UpdateInfo
	lastHeartbeat time.Time
	lastOTACheck  time.Time
}

// New constructs a Supervisor with its collaborators already wired. freeHeap
// reports available memory for the health-check heap probe; pass nil to
// always report a value far above any reasonable floor (suitable for host
// builds with no fixed heap budget).
func New(
	cfg *config.Config,
	boot bootloader.Bootloader,
	rad radio.Radio,
	store nvs.Store,
	flags *eventflags.Flags,
	pipeline *ota.Pipeline,
	agent *deviceagent.Agent,
	log sugaredLogger,
	freeHeap func() uint64,
) *Supervisor {
	if freeHeap == nil {
		freeHeap = func() uint64 { return 1 << 30 }
	}
	zlog, _ := log.(*zap.SugaredLogger)
	return &Supervisor{
		cfg:      cfg,
		boot:     boot,
		radio:    rad,
		store:    store,
		flags:    flags,
		pipeline: pipeline,
		agent:    agent,
		log:      log,
		zlog:     zlog,
		freeHeap: freeHeap,
		state:    Boot,
	}
}

// State returns the supervisor's current AgentState. Safe to call
// concurrently with Run for observability; it is not synchronized against
// the running loop beyond Go's memory model guarantees for a single int
// field, which is sufficient for a status read that may legitimately race
// with the next transition.
func (s *Supervisor) State() AgentState {
	return s.state
}

// Run drives the state machine until ctx is cancelled. It never returns an
// error except context cancellation; every other failure mode is handled
// internally by transitioning state, per spec §7.
func (s *Supervisor) Run(ctx context.Context) error {
	_, err, _ := s.sf.Do("run", func() (interface{}, error) {
		return nil, s.runLoop(ctx)
	})
	return err
}

func (s *Supervisor) runLoop(ctx context.Context) error {
	s.lastHeartbeat = time.Now()
	s.lastOTACheck = time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		next, err := s.dispatch(ctx)
		if err != nil {
			return err
		}
		s.state = next
	}
}

func (s *Supervisor) dispatch(ctx context.Context) (AgentState, error) {
	switch s.state {
	case Boot:
		return s.handleBoot(ctx)
	case WifiConnect:
		return s.handleWifiConnect(ctx)
	case APPortal:
		return s.handleAPPortal(ctx)
	case Idle:
		return s.handleIdle(ctx)
	case CheckUpdate:
		return s.handleCheckUpdate(ctx)
	case Download:
		return s.handleDownload(ctx)
	case Verify:
		return s.handleVerify(ctx)
	case Apply:
		return s.handleApply(ctx)
	case HealthCheck:
		return s.handleHealthCheck(ctx)
	default:
		// Unreachable state: corruption. Reset to BOOT, per spec §7.
		s.log.Errorf("supervisor in unknown state %d, resetting to BOOT", s.state)
		return Boot, nil
	}
}

func (s *Supervisor) handleBoot(ctx context.Context) (AgentState, error) {
	running := s.boot.RunningSlot()
	pending, err := s.boot.PendingVerify(running)
	if err != nil {
		s.log.Errorf("failed to query pending-verify state: %s", err)
		return WifiConnect, ctx.Err()
	}
	if pending {
		s.log.Infof("pending-verify image detected on %s, running health check", running)
		return HealthCheck, ctx.Err()
	}
	return WifiConnect, ctx.Err()
}

func (s *Supervisor) handleWifiConnect(ctx context.Context) (AgentState, error) {
	creds, ok, err := provisioner.LoadCredentials(s.store)
	if err != nil {
		s.log.Errorf("failed to load credentials: %s", err)
		return APPortal, ctx.Err()
	}
	if !ok {
		return APPortal, ctx.Err()
	}

	var tlog *aputil.ThrottledLogger
	if s.zlog != nil {
		tlog = aputil.GetThrottledLogger(s.zlog, throttledLoggerBaseDelay, throttledLoggerMaxDelay)
	}
	if err := provisioner.ConnectStation(s.radio, s.flags, creds, s.cfg.WifiConnectTimeout); err != nil {
		// Lost Wi-Fi bounces the supervisor back through this state
		// repeatedly; throttle the warning so a dead AP doesn't spam the
		// log once per connect timeout.
		if tlog != nil {
			tlog.Warnf("station connect failed: %s", err)
		} else {
			s.log.Warnf("station connect failed: %s", err)
		}
		return APPortal, ctx.Err()
	}
	if tlog != nil {
		tlog.Clear()
	}

	s.lastHeartbeat = time.Now()
	s.lastOTACheck = time.Now()
	return Idle, ctx.Err()
}

func (s *Supervisor) handleAPPortal(ctx context.Context) (AgentState, error) {
	creds, err := provisioner.RunPortal(s.radio, s.store, s.flags, s.log, s.agent.ClaimCode(), s.cfg.APPortalTimeout)
	if err != nil {
		s.log.Infof("onboarding portal timed out, retrying after cooldown")
		if !s.sleep(ctx, s.cfg.PortalRetryCooldown) {
			return APPortal, ctx.Err()
		}
		return APPortal, ctx.Err()
	}

	s.log.Infof("onboarding portal received credentials for %s", creds.SSID)
	return WifiConnect, ctx.Err()
}

func (s *Supervisor) handleIdle(ctx context.Context) (AgentState, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Idle, err
		}

		if !s.radio.IsConnected() {
			return WifiConnect, nil
		}

		if time.Since(s.lastOTACheck) >= s.cfg.OTACheckInterval {
			s.lastOTACheck = time.Now()
			return CheckUpdate, nil
		}

		if time.Since(s.lastHeartbeat) >= s.cfg.HeartbeatInterval {
			s.lastHeartbeat = time.Now()
			hbCtx, cancel := context.WithTimeout(ctx, s.cfg.ControlPlaneTimeout)
			s.agent.SendHeartbeat(hbCtx, s.cfg.FirmwareVersion, deviceagent.RadioInfo{RSSI: s.radio.CurrentRSSI()})
			cancel()
			continue
		}

		if !s.sleep(ctx, idleTick) {
			return Idle, ctx.Err()
		}
	}
}

func (s *Supervisor) handleCheckUpdate(ctx context.Context) (AgentState, error) {
	checkCtx, cancel := context.WithTimeout(ctx, s.cfg.ControlPlaneTimeout)
	defer cancel()

	result, info, err := s.pipeline.CheckUpdate(checkCtx, s.cfg.FirmwareVersion)
	if err != nil {
		s.log.Warnf("update check failed: %s", err)
		return Idle, ctx.Err()
	}

	switch result {
	case ota.Available:
		s.pendingUpdate = info
		s.log.Infof("update available: %s", info.Version)
		return Download, ctx.Err()
	default:
		return Idle, ctx.Err()
	}
}

func (s *Supervisor) handleDownload(ctx context.Context) (AgentState, error) {
	s.agent.ReportOTAStatus(ctx, deviceagent.StatusDownloading, s.pendingUpdate.Version)

	dlCtx, cancel := context.WithTimeout(ctx, s.cfg.DownloadTimeout)
	defer cancel()

	result, err := s.pipeline.Download(dlCtx, s.pendingUpdate)
	if result != ota.DownloadOK {
		s.log.Warnf("download failed: %s", err)
		s.agent.ReportOTAStatus(ctx, deviceagent.StatusFailed, s.pendingUpdate.Version)
		return Idle, ctx.Err()
	}

	return Verify, ctx.Err()
}

func (s *Supervisor) handleVerify(ctx context.Context) (AgentState, error) {
	if s.pipeline.VerifyHash(s.pendingUpdate) {
		return Apply, ctx.Err()
	}

	s.log.Errorf("hash mismatch for update %s", s.pendingUpdate.Version)
	s.agent.ReportOTAStatus(ctx, deviceagent.StatusFailed, s.pendingUpdate.Version)
	return Idle, ctx.Err()
}

func (s *Supervisor) handleApply(ctx context.Context) (AgentState, error) {
	if !s.pipeline.Apply() {
		s.log.Errorf("apply failed for update %s", s.pendingUpdate.Version)
		s.agent.ReportOTAStatus(ctx, deviceagent.StatusFailed, s.pendingUpdate.Version)
		return Idle, ctx.Err()
	}

	s.agent.ReportOTAStatus(ctx, deviceagent.StatusApplied, s.pendingUpdate.Version)
	s.log.Infof("update applied, rebooting into pending-verify image")
	// A real device reboots here and never returns; this host build models
	// the reboot as an immediate jump back to BOOT, satisfying I5 by
	// construction (no other transition is reachable from here).
	return Boot, ctx.Err()
}

func (s *Supervisor) handleHealthCheck(ctx context.Context) (AgentState, error) {
	heapOK := s.freeHeap() >= s.cfg.HealthCheckHeapFloor

	wifiOK := false
	if creds, ok, err := provisioner.LoadCredentials(s.store); err == nil && ok {
		wifiOK = provisioner.ConnectStation(s.radio, s.flags, creds, s.cfg.WifiConnectTimeout) == nil
	}

	if !heapOK || !wifiOK {
		s.log.Errorf("post-update health check failed (heap_ok=%v wifi_ok=%v), rolling back", heapOK, wifiOK)
		if err := s.boot.MarkInvalidRollbackAndReboot(); err != nil {
			s.log.Errorf("rollback failed: %s", err)
		}
		return Boot, ctx.Err()
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ReachabilityTimeout)
	reachable := s.pipeline.ServerReachable(probeCtx)
	cancel()
	if !reachable {
		// An intermittent network shouldn't spam the log every time this
		// advisory probe fails; throttle it like the station-connect retry
		// loop above.
		if s.zlog != nil {
			aputil.GetThrottledLogger(s.zlog, throttledLoggerBaseDelay, throttledLoggerMaxDelay).
				Warnf("OTA server unreachable during health check (advisory, non-fatal)")
		} else {
			s.log.Warnf("OTA server unreachable during health check (advisory, non-fatal)")
		}
	}

	if err := s.boot.MarkValid(); err != nil {
		s.log.Errorf("commit failed: %s", err)
	}
	s.agent.ReportOTAStatus(ctx, deviceagent.StatusSuccess, s.cfg.FirmwareVersion)
	return Idle, ctx.Err()
}

// sleep blocks for d or until ctx is cancelled, returning false in the
// latter case.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
