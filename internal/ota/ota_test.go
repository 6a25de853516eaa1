/*
 * COPYRIGHT 2017 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package ota

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fleetagent/internal/hal/bootloader"
)

func newTestPipeline(t *testing.T, serverBase string) (*Pipeline, *bootloader.Sim) {
	dir, err := ioutil.TempDir("", "ota-pipeline")
	require.NoError(t, err)
	sim, err := bootloader.NewSim(dir)
	require.NoError(t, err)
	return New(sim, serverBase, "device-123", nil), sim
}

func TestCheckUpdateNoUpdate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"update_available": false})
	}))
	defer srv.Close()

	p, _ := newTestPipeline(t, srv.URL)
	result, _, err := p.CheckUpdate(context.Background(), "1.0.0")
	require.NoError(t, err)
	require.Equal(t, NoUpdate, result)
}

func TestCheckUpdateAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"update_available": true,
			"version":          "1.0.1",
			"artifact_hash":    "deadbeef",
			"download_url":     "/fw/1.0.1.bin",
			"deployment_id":    "dep-1",
		})
	}))
	defer srv.Close()

	p, _ := newTestPipeline(t, srv.URL)
	result, info, err := p.CheckUpdate(context.Background(), "1.0.0")
	require.NoError(t, err)
	require.Equal(t, Available, result)
	require.Equal(t, "1.0.1", info.Version)
	require.Equal(t, srv.URL+"/fw/1.0.1.bin", info.DownloadURL)
}

func TestCheckUpdateBadStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := newTestPipeline(t, srv.URL)
	result, _, err := p.CheckUpdate(context.Background(), "1.0.0")
	require.NoError(t, err)
	require.Equal(t, CheckError, result)
}

func TestDownloadVerifyApplySuccess(t *testing.T) {
	payload := make([]byte, 256*1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	sum := sha256.Sum256(payload)
	hash := hex.EncodeToString(sum[:])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	p, sim := newTestPipeline(t, srv.URL)
	target := sim.NextUpdatePartition()
	running := sim.RunningSlot()
	require.NotEqual(t, running, target)

	info := UpdateInfo{Version: "1.0.1", ExpectedHash: hash, DownloadURL: srv.URL + "/fw/1.0.1.bin"}

	result, err := p.Download(context.Background(), info)
	require.NoError(t, err)
	require.Equal(t, DownloadOK, result)

	require.True(t, p.VerifyHash(info))
	require.True(t, p.Apply())

	require.Equal(t, target, sim.RunningSlot())
	pending, err := sim.PendingVerify(target)
	require.NoError(t, err)
	require.True(t, pending)
}

func TestDownloadHashMismatchLeavesPartitionUnchanged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("some firmware bytes"))
	}))
	defer srv.Close()

	p, sim := newTestPipeline(t, srv.URL)
	running := sim.RunningSlot()

	info := UpdateInfo{Version: "1.0.1", ExpectedHash: "0000000000000000000000000000000000000000000000000000000000000000", DownloadURL: srv.URL}

	result, err := p.Download(context.Background(), info)
	require.NoError(t, err)
	require.Equal(t, DownloadOK, result)

	require.False(t, p.VerifyHash(info))
	require.False(t, p.Apply())
	require.Equal(t, running, sim.RunningSlot())
}

func TestNoTwoSessionsOverlap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("firmware"))
	}))
	defer srv.Close()

	p, _ := newTestPipeline(t, srv.URL)
	info := UpdateInfo{DownloadURL: srv.URL}

	result, err := p.Download(context.Background(), info)
	require.NoError(t, err)
	require.Equal(t, DownloadOK, result)

	// Simulate a second concurrent download attempt without clearing the
	// first session: begin() must reject it.
	target := p.boot.NextUpdatePartition()
	w, err := p.boot.OpenWriter(target)
	require.NoError(t, err)
	defer w.Close()
	_, err = p.guard.begin(target, w)
	require.Error(t, err)
}

func TestAbortIsIdempotentAndBlocksApply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("firmware"))
	}))
	defer srv.Close()

	p, _ := newTestPipeline(t, srv.URL)
	info := UpdateInfo{DownloadURL: srv.URL}

	_, err := p.Download(context.Background(), info)
	require.NoError(t, err)

	p.Abort()
	p.Abort() // idempotent

	require.False(t, p.Apply())
}

func TestServerReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, _ := newTestPipeline(t, srv.URL)
	require.True(t, p.ServerReachable(context.Background()))
}

func TestServerUnreachable(t *testing.T) {
	p, _ := newTestPipeline(t, "http://127.0.0.1:0")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.False(t, p.ServerReachable(ctx))
}
