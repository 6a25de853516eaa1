/*
 * COPYRIGHT 2017 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package ota implements the device-pull OTA pipeline: poll the control
// server for an update, stream-download it to the inactive firmware slot
// while verifying its SHA-256 hash, and arm the boot loader to try it on
// the next reset. It is the Go counterpart of ota_manager.c, generalized
// off the ESP-IDF esp_ota_* / esp_http_client_* calls onto the Bootloader
// HAL contract and net/http.
package ota

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"fleetagent/internal/hal/bootloader"
)

const (
	// maxCheckResponseBytes caps the /api/ota/check response body, matching
	// the original firmware's fixed safety cap.
	maxCheckResponseBytes = 2048
	downloadChunkSize     = 4096
	progressLogInterval   = 64 * 1024
)

var errSessionActive = errors.New("an OTA session is already active")

// CheckResult is the outcome of CheckUpdate.
type CheckResult int

const (
	// NoUpdate means the server has nothing newer than current_version.
	NoUpdate CheckResult = iota
	// Available means UpdateInfo was populated with a pending update.
	Available
	// CheckError covers any transport, status, or parse failure.
	CheckError
)

// DownloadResult is the outcome of Download.
type DownloadResult int

const (
	// DownloadOK means every byte was written and hashed; the session
	// remains active awaiting VerifyHash.
	DownloadOK DownloadResult = iota
	// DownloadFail covers any read, write, or HTTP error; the session is
	// aborted before returning.
	DownloadFail
	// DownloadTimeout is a specialization of DownloadFail returned when
	// the download's context deadline is exceeded.
	DownloadTimeout
)

// UpdateInfo describes an update the server has offered. It lives only for
// the duration of one check/download/verify/apply cycle.
type UpdateInfo struct {
	Version       string
	ExpectedHash  string
	DownloadURL   string
	DeploymentID  string
	ArtifactBytes int64
}

type checkRequest struct {
	DeviceID       string `json:"device_id"`
	CurrentVersion string `json:"current_version"`
}

type checkResponse struct {
	UpdateAvailable bool   `json:"update_available"`
	Version         string `json:"version"`
	ArtifactHash    string `json:"artifact_hash"`
	DownloadURL     string `json:"download_url"`
	DeploymentID    string `json:"deployment_id"`
}

// Pipeline is the OTA pipeline. One Pipeline is constructed at start-up and
// shared by the supervisor for the process lifetime.
type Pipeline struct {
	boot       bootloader.Bootloader
	httpClient *http.Client
	serverBase string
	deviceID   string
	log        progressLogger

	guard *guard
}

// progressLogger is the subset of *zap.SugaredLogger the pipeline needs to
// report download progress; kept as a small interface so tests can supply a
// stub.
type progressLogger interface {
	Infof(string, ...interface{})
}

type noopLogger struct{}

func (noopLogger) Infof(string, ...interface{}) {}

// New returns a Pipeline that targets serverBase for all control-plane
// calls, identifying itself as deviceID. Pass nil for log to discard
// progress messages.
func New(boot bootloader.Bootloader, serverBase, deviceID string, log progressLogger) *Pipeline {
	if log == nil {
		log = noopLogger{}
	}
	return &Pipeline{
		boot:       boot,
		httpClient: &http.Client{},
		serverBase: strings.TrimRight(serverBase, "/"),
		deviceID:   deviceID,
		log:        log,
		guard:      newGuard(),
	}
}

// Init returns the running partition and reports it as consistent when that
// slot is not pending-verify. It does not read or compare the bootloader's
// configured next-boot slot, and it logs nothing; a running slot that is
// pending-verify is reported as inconsistent.
func (p *Pipeline) Init() (running bootloader.PartitionHandle, consistent bool, err error) {
	running = p.boot.RunningSlot()
	pending, err := p.boot.PendingVerify(running)
	if err != nil {
		return running, false, errors.Wrap(err, "failed to query pending-verify state")
	}
	// A running slot that is not pending-verify is the steady-state case
	// the bootloader and pipeline agree on.
	return running, !pending, nil
}

// CheckUpdate polls the server for an update applicable to currentVersion.
func (p *Pipeline) CheckUpdate(ctx context.Context, currentVersion string) (CheckResult, UpdateInfo, error) {
	body, err := json.Marshal(checkRequest{DeviceID: p.deviceID, CurrentVersion: currentVersion})
	if err != nil {
		return CheckError, UpdateInfo{}, errors.Wrap(err, "failed to marshal check request")
	}

	url := p.serverBase + "/api/ota/check"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return CheckError, UpdateInfo{}, errors.Wrap(err, "failed to build check request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return CheckError, UpdateInfo{}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return CheckError, UpdateInfo{}, nil
	}

	limited := io.LimitReader(resp.Body, maxCheckResponseBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil || len(raw) == 0 || len(raw) > maxCheckResponseBytes {
		return CheckError, UpdateInfo{}, nil
	}

	var parsed checkResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return CheckError, UpdateInfo{}, nil
	}

	if !parsed.UpdateAvailable {
		return NoUpdate, UpdateInfo{}, nil
	}

	info := UpdateInfo{
		Version:      parsed.Version,
		ExpectedHash: parsed.ArtifactHash,
		DownloadURL:  p.resolveURL(parsed.DownloadURL),
		DeploymentID: parsed.DeploymentID,
	}
	return Available, info, nil
}

func (p *Pipeline) resolveURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return p.serverBase + path
}

// Download streams info.DownloadURL into the non-running partition,
// feeding each chunk to a SHA-256 accumulator in the same order it is
// written (invariant I3). It refuses to start if a session is already
// active (invariant I7) and never targets the running partition
// (invariant I1).
func (p *Pipeline) Download(ctx context.Context, info UpdateInfo) (DownloadResult, error) {
	if p.guard.current() != nil {
		return DownloadFail, errSessionActive
	}

	target := p.boot.NextUpdatePartition()
	if target == p.boot.RunningSlot() {
		return DownloadFail, errors.New("computed download target equals running partition")
	}

	w, err := p.boot.OpenWriter(target)
	if err != nil {
		return DownloadFail, errors.Wrapf(err, "failed to open partition %s for writing", target)
	}

	sess, err := p.guard.begin(target, w)
	if err != nil {
		w.Close()
		return DownloadFail, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.DownloadURL, nil)
	if err != nil {
		p.Abort()
		return DownloadFail, errors.Wrap(err, "failed to build download request")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.Abort()
		if ctx.Err() == context.DeadlineExceeded {
			return DownloadTimeout, err
		}
		return DownloadFail, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.Abort()
		return DownloadFail, fmt.Errorf("download request returned status %d", resp.StatusCode)
	}

	buf := make([]byte, downloadChunkSize)
	var total int64
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, err := sess.writer.Write(chunk); err != nil {
				p.Abort()
				return DownloadFail, errors.Wrap(err, "failed to write firmware chunk to partition")
			}
			sess.hasher.Write(chunk)

			prev := total
			total += int64(n)
			if prev/progressLogInterval != total/progressLogInterval {
				p.log.Infof("downloaded %d bytes...", total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			p.Abort()
			if ctx.Err() == context.DeadlineExceeded {
				return DownloadTimeout, readErr
			}
			return DownloadFail, errors.Wrap(readErr, "failed reading download stream")
		}
	}

	return DownloadOK, nil
}

// VerifyHash finalizes the active session's hasher and compares it against
// info.ExpectedHash case-insensitively. It consumes the hasher: calling it
// again without a new Download returns false.
func (p *Pipeline) VerifyHash(info UpdateInfo) bool {
	sess := p.guard.current()
	if sess == nil || sess.hasher == nil {
		return false
	}

	sum := sess.hasher.Sum(nil)
	sess.hasher = nil
	computed := hex.EncodeToString(sum)
	match := strings.EqualFold(computed, info.ExpectedHash)

	if !match {
		p.Abort()
	}
	return match
}

// Apply closes the session's partition writer and arms the boot loader to
// try that partition on the next reset, leaving it pending-verify. It is
// the only operation that changes the next-boot partition.
func (p *Pipeline) Apply() bool {
	sess := p.guard.current()
	if sess == nil {
		return false
	}

	if err := sess.writer.Close(); err != nil {
		p.guard.end()
		return false
	}

	if err := p.boot.SetBootPartition(sess.target); err != nil {
		p.guard.end()
		return false
	}

	p.guard.end()
	return true
}

// Abort discards the active session, if any. It is idempotent.
func (p *Pipeline) Abort() {
	sess := p.guard.current()
	if sess == nil {
		return
	}
	sess.writer.Close()
	p.guard.end()
}

// ServerReachable performs a best-effort liveness probe against the OTA
// server, tolerant of transient network loss.
func (p *Pipeline) ServerReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverBase+"/api/ota/public-key", nil)
	if err != nil {
		return false
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
