/*
 * COPYRIGHT 2017 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package deviceagent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"fleetagent/internal/hal/nvs"
)

type recordingServer struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingServer) handler(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	r.paths = append(r.paths, req.URL.RequestURI())
	r.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (r *recordingServer) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.paths) == 0 {
		return ""
	}
	return r.paths[len(r.paths)-1]
}

func TestNewGeneratesAndPersistsDeviceID(t *testing.T) {
	store := nvs.NewMemoryStore()
	a, err := New(store, "http://example.invalid", "", nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, a.DeviceID())

	id, ok, err := store.Get(nvs.NamespaceDeviceCfg, nvs.KeyDeviceID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, a.DeviceID(), id)
}

func TestNewUsesDefaultDeviceID(t *testing.T) {
	store := nvs.NewMemoryStore()
	a, err := New(store, "http://example.invalid", "factory-default-007", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "factory-default-007", a.DeviceID())
}

func TestClaimCodeDerivedAndPersisted(t *testing.T) {
	store := nvs.NewMemoryStore()
	a, err := New(store, "http://example.invalid", "abcdef123456", nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, a.ClaimCode())

	claim, ok, err := store.Get(nvs.NamespaceDeviceCfg, nvs.KeyClaim)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, a.ClaimCode(), claim)
}

func TestSendHeartbeatPostsExpectedPath(t *testing.T) {
	rs := &recordingServer{}
	srv := httptest.NewServer(http.HandlerFunc(rs.handler))
	defer srv.Close()

	store := nvs.NewMemoryStore()
	a, err := New(store, srv.URL, "dev-1", func() uint64 { return 4096 }, nil)
	require.NoError(t, err)

	a.SendHeartbeat(context.Background(), "1.0.0", RadioInfo{RSSI: -42})
	require.Equal(t, "/api/telemetry/heartbeat", rs.last())
}

func TestReportOTAStatusEscapesQuery(t *testing.T) {
	rs := &recordingServer{}
	srv := httptest.NewServer(http.HandlerFunc(rs.handler))
	defer srv.Close()

	store := nvs.NewMemoryStore()
	a, err := New(store, srv.URL, "dev with spaces", nil, nil)
	require.NoError(t, err)

	a.ReportOTAStatus(context.Background(), StatusFailed, "1.0.1")

	u, err := url.Parse(srv.URL + rs.last())
	require.NoError(t, err)
	require.Equal(t, "dev with spaces", u.Query().Get("device_id"))
	require.Equal(t, StatusFailed, u.Query().Get("status"))
	require.Equal(t, "1.0.1", u.Query().Get("version"))
}
