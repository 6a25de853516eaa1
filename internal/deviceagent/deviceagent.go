/*
 * COPYRIGHT 2017 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package deviceagent owns the device's identity and emits telemetry: a
// periodic heartbeat and best-effort OTA lifecycle reports. It is the Go
// counterpart of device_agent.c, generalized off the NVS/esp_http_client
// calls onto the nvs.Store HAL contract and net/http.
package deviceagent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"fleetagent/internal/aputil"
	"fleetagent/internal/hal/nvs"
)

// throttledLoggerBaseDelay and throttledLoggerMaxDelay bound the backoff
// aputil.ThrottledLogger applies to repeated best-effort POST failures, so a
// device stuck behind a dead link doesn't spam its logs every heartbeat.
const (
	throttledLoggerBaseDelay = time.Second
	throttledLoggerMaxDelay  = 5 * time.Minute
)

// OTA lifecycle status values accepted by report_ota_status, per the
// original firmware's implicit contract.
const (
	StatusDownloading = "downloading"
	StatusApplied     = "applied"
	StatusSuccess     = "success"
	StatusFailed      = "failed"
)

// RadioInfo is the subset of radio state the heartbeat body needs. The
// agent takes this by value each call rather than holding a reference to
// the radio HAL, keeping heartbeat composition a pure function of its
// inputs.
type RadioInfo struct {
	RSSI int
}

type heartbeatBody struct {
	DeviceID        string `json:"device_id"`
	FirmwareVersion string `json:"firmware_version"`
	RSSI            int    `json:"rssi"`
	FreeHeap        uint64 `json:"free_heap"`
	UptimeSeconds   int64  `json:"uptime"`
}

// errorLogger is the subset of *zap.SugaredLogger the agent needs for
// unconditional error reporting; kept as a small interface so tests can
// supply a stub.
type errorLogger interface {
	Errorf(string, ...interface{})
}

// Agent owns the device's identity and reports telemetry for the process
// lifetime. One Agent is constructed at start-up and shared by the
// supervisor.
type Agent struct {
	store      nvs.Store
	httpClient *http.Client
	serverBase string
	deviceID   string
	claimCode  string
	bootTime   time.Time
	log        errorLogger

	// zlog, when the caller supplied a real *zap.SugaredLogger, backs a
	// aputil.ThrottledLogger for postJSON's best-effort failure reports so
	// a dead link doesn't spam the log on every heartbeat. Stub loggers
	// used in tests leave this nil and fall back to plain log.Errorf.
	zlog *zap.SugaredLogger

	// freeHeap reports an approximation of available memory. On a host
	// build there is no fixed heap budget to probe, so it is supplied by
	// the caller (cmd/fleetagentd passes a fixed value) rather than
	// hard-coded.
	freeHeap func() uint64
}

type noopLogger struct{}

func (noopLogger) Errorf(string, ...interface{}) {}

// New constructs an Agent, loading (or generating and persisting) the
// device identity from store. defaultDeviceID is used only if store has
// never recorded one, mirroring the compile-time-default fallback in
// device_agent_init.
func New(store nvs.Store, serverBase, defaultDeviceID string, freeHeap func() uint64, log errorLogger) (*Agent, error) {
	zlog, _ := log.(*zap.SugaredLogger)
	if log == nil {
		log = noopLogger{}
	}

	id, present, err := store.Get(nvs.NamespaceDeviceCfg, nvs.KeyDeviceID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load device id")
	}
	if !present || id == "" {
		id = defaultDeviceID
		if id == "" {
			id = aputil.GenerateDeviceID()
		}
		if err := store.Set(nvs.NamespaceDeviceCfg, nvs.KeyDeviceID, id); err != nil {
			return nil, errors.Wrap(err, "failed to persist generated device id")
		}
	}

	claim, present, err := store.Get(nvs.NamespaceDeviceCfg, nvs.KeyClaim)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load claim code")
	}
	if !present || claim == "" {
		claim = deriveClaimCode(id)
		if err := store.Set(nvs.NamespaceDeviceCfg, nvs.KeyClaim, claim); err != nil {
			return nil, errors.Wrap(err, "failed to persist claim code")
		}
	}

	return &Agent{
		store:      store,
		httpClient: &http.Client{},
		serverBase: strings.TrimRight(serverBase, "/"),
		deviceID:   id,
		claimCode:  claim,
		bootTime:   time.Now(),
		log:        log,
		zlog:       zlog,
		freeHeap:   freeHeap,
	}, nil
}

// deriveClaimCode turns a device id into a short, human-enterable pairing
// code: the first three and last three hex-ish characters, uppercased and
// separated, giving an operator something they can read off a captive
// portal success page and type into the fleet console.
func deriveClaimCode(deviceID string) string {
	compact := strings.ToUpper(strings.ReplaceAll(deviceID, "-", ""))
	if len(compact) < 6 {
		return compact
	}
	return compact[:3] + "-" + compact[len(compact)-3:]
}

// DeviceID returns the immutable device identity.
func (a *Agent) DeviceID() string {
	return a.deviceID
}

// ClaimCode returns the device's pairing code, for display on the captive
// portal's success page.
func (a *Agent) ClaimCode() string {
	return a.claimCode
}

// SendHeartbeat posts a liveness/health snapshot. Best-effort: failures are
// logged through the throttled logger and never returned to the caller, so
// a flaky link never perturbs the supervisor's state machine.
func (a *Agent) SendHeartbeat(ctx context.Context, firmwareVersion string, radio RadioInfo) {
	uptime := int64(time.Since(a.bootTime).Seconds())
	var heap uint64
	if a.freeHeap != nil {
		heap = a.freeHeap()
	}

	body := heartbeatBody{
		DeviceID:        a.deviceID,
		FirmwareVersion: firmwareVersion,
		RSSI:            radio.RSSI,
		FreeHeap:        heap,
		UptimeSeconds:   uptime,
	}

	raw, err := json.Marshal(body)
	if err != nil {
		a.log.Errorf("failed to marshal heartbeat: %s", err)
		return
	}

	a.postJSON(ctx, "/api/telemetry/heartbeat", raw)
}

// ReportOTAStatus posts a best-effort OTA lifecycle notification. It is
// advisory: the server is expected to infer device liveness from
// heartbeats regardless, per the original firmware's own comment.
func (a *Agent) ReportOTAStatus(ctx context.Context, status, version string) {
	path := "/api/ota/report?device_id=" + url.QueryEscape(a.deviceID) +
		"&status=" + url.QueryEscape(status) +
		"&version=" + url.QueryEscape(version)
	a.postJSON(ctx, path, []byte("{}"))
}

func (a *Agent) postJSON(ctx context.Context, path string, body []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.serverBase+path, strings.NewReader(string(body)))
	if err != nil {
		a.log.Errorf("failed to build request for %s: %s", path, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if a.zlog != nil {
			aputil.GetThrottledLogger(a.zlog, throttledLoggerBaseDelay, throttledLoggerMaxDelay).
				Errorf("POST %s failed: %s", path, err)
		} else {
			a.log.Errorf("POST %s failed: %s", path, err)
		}
		return
	}
	resp.Body.Close()
}
