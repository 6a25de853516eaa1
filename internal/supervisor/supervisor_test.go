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

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fgrosse/zaptest"
	"github.com/stretchr/testify/require"

	"fleetagent/internal/config"
	"fleetagent/internal/deviceagent"
	"fleetagent/internal/eventflags"
	"fleetagent/internal/hal/bootloader"
	"fleetagent/internal/hal/nvs"
	"fleetagent/internal/hal/radio"
	"fleetagent/internal/ota"
	"fleetagent/internal/provisioner"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.WifiConnectTimeout = time.Second
	cfg.APPortalTimeout = 200 * time.Millisecond
	cfg.OTACheckInterval = 20 * time.Millisecond
	cfg.HeartbeatInterval = 30 * time.Millisecond
	cfg.DownloadTimeout = 2 * time.Second
	cfg.ControlPlaneTimeout = 2 * time.Second
	cfg.ReachabilityTimeout = time.Second
	cfg.PortalRetryCooldown = 20 * time.Millisecond
	cfg.HealthCheckHeapFloor = 1024
	return cfg
}

func newHarness(t *testing.T, serverURL string) (*Supervisor, *bootloader.Sim, *radio.Sim, nvs.Store) {
	dir, err := ioutil.TempDir("", "supervisor")
	require.NoError(t, err)

	sim, err := bootloader.NewSim(dir)
	require.NoError(t, err)

	radioSim := radio.NewSim()
	radioSim.Delay = time.Millisecond

	store := nvs.NewMemoryStore()
	flags := eventflags.New()
	require.NoError(t, radioSim.Init(flags))

	pipeline := ota.New(sim, serverURL, "dev-1", nil)
	agent, err := deviceagent.New(store, serverURL, "dev-1", func() uint64 { return 1 << 20 }, nil)
	require.NoError(t, err)

	cfg := testConfig()
	log := zaptest.Logger(t).Sugar()
	sup := New(cfg, sim, radioSim, store, flags, pipeline, agent, log, func() uint64 { return 1 << 20 })
	return sup, sim, radioSim, store
}

func TestSupervisorFirstBootProvisioning(t *testing.T) {
	provisioner.SetPortalAddr("127.0.0.1:18099")
	defer provisioner.SetPortalAddr("192.168.4.1:80")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"update_available": false})
	}))
	defer srv.Close()

	sup, _, radioSim, _ := newHarness(t, srv.URL)
	// No credentials stored: the supervisor should raise AP_PORTAL and wait.

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return sup.State() == APPortal
	}, time.Second, time.Millisecond)

	// Simulate a phone submitting the onboarding form via the real captive
	// portal HTTP server the supervisor just brought up.
	require.Eventually(t, func() bool {
		resp, err := http.PostForm("http://127.0.0.1:18099/save",
			map[string][]string{"ssid": {"home"}, "password": {"abc"}})
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return radioSim.IsConnected()
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestSupervisorNormalUpdateAndHealthCheckCommit(t *testing.T) {
	payload := make([]byte, 64*1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	sum := sha256.Sum256(payload)
	hash := hex.EncodeToString(sum[:])

	var checked int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ota/check", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&checked, 1) == 1 {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"update_available": true,
				"version":          "1.0.1",
				"artifact_hash":    hash,
				"download_url":     "/fw/1.0.1.bin",
				"deployment_id":    "dep-1",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"update_available": false})
	})
	mux.HandleFunc("/fw/1.0.1.bin", func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	})
	mux.HandleFunc("/api/telemetry/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/ota/report", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/ota/public-key", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sup, sim, _, store := newHarness(t, srv.URL)
	require.NoError(t, store.Set(nvs.NamespaceWifiCreds, nvs.KeySSID, "home"))
	require.NoError(t, store.Set(nvs.NamespaceWifiCreds, nvs.KeyPassword, "abc"))

	target := sim.NextUpdatePartition()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	// I5/scenario 2: apply lands on the new slot, then the post-reboot
	// health check commits it (pending-verify clears) before returning to
	// IDLE.
	require.Eventually(t, func() bool {
		pending, err := sim.PendingVerify(target)
		return err == nil && sim.RunningSlot() == target && !pending
	}, 4*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestSupervisorCorruptedDownloadLeavesPartitionUnchanged(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ota/check", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"update_available": true,
			"version":          "1.0.1",
			"artifact_hash":    "0000000000000000000000000000000000000000000000000000000000000000",
			"download_url":     "/fw/1.0.1.bin",
		})
	})
	mux.HandleFunc("/fw/1.0.1.bin", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not the right bytes at all"))
	})
	mux.HandleFunc("/api/telemetry/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	var failedReports int32
	mux.HandleFunc("/api/ota/report", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") == deviceagent.StatusFailed {
			atomic.AddInt32(&failedReports, 1)
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sup, sim, _, store := newHarness(t, srv.URL)
	require.NoError(t, store.Set(nvs.NamespaceWifiCreds, nvs.KeySSID, "home"))
	require.NoError(t, store.Set(nvs.NamespaceWifiCreds, nvs.KeyPassword, "abc"))

	running := sim.RunningSlot()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	// Wait until the corrupted download has been verified, rejected and
	// reported as failed, and the supervisor is back in IDLE.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&failedReports) > 0 && sup.State() == Idle
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, running, sim.RunningSlot())

	cancel()
	<-done
}
