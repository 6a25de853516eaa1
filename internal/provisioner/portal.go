/*
 * COPYRIGHT 2017 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package provisioner implements the captive-portal onboarding flow: a
// fallback access point and small HTTP server that collects Wi-Fi
// credentials from a phone or laptop when the device has none stored, or
// when stored credentials fail to connect. It is the Go counterpart of
// wifi_manager.c's AP-portal half.
package provisioner

import (
	"fmt"
	"html"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"fleetagent/internal/aputil"
	"fleetagent/internal/eventflags"
	"fleetagent/internal/hal/nvs"
)

const (
	portalHost        = "192.168.4.1"
	defaultPortalAddr = portalHost + ":80"
)

// portalAddr is the listener address RunPortal binds to. It is a package
// variable, not a constant, solely so tests can point it at a loopback
// address — 192.168.4.1 is the device's own AP gateway address and is not
// bindable from a general-purpose test host.
var portalAddr = defaultPortalAddr

// SetPortalAddr overrides the address RunPortal binds its HTTP listener to.
// Production code never needs this; it exists for tests that exercise
// RunPortal end-to-end on a host with no 192.168.4.1 interface.
func SetPortalAddr(addr string) {
	portalAddr = addr
}

const portalHTML = `<!DOCTYPE html><html><head>
<meta charset='utf-8'><meta name='viewport' content='width=device-width,initial-scale=1'>
<title>Fleet Agent Wi-Fi Setup</title>
</head><body>
<h2>Wi-Fi Setup</h2>
<form method='POST' action='/save'>
<label>SSID (Network Name)</label>
<input type='text' name='ssid' required maxlength='32'>
<label>Password</label>
<input type='password' name='password' maxlength='64'>
<button type='submit'>Connect</button>
</form>
</body></html>`

const portalSuccessHTMLFmt = `<!DOCTYPE html><html><head>
<meta charset='utf-8'><meta name='viewport' content='width=device-width,initial-scale=1'>
<title>Saved</title>
</head><body>
<h2>Credentials Saved</h2><p>The device will now connect to your network.</p>
<p>Pairing code for the fleet console: <strong>%s</strong></p>
</body></html>`

// sugaredLogger is the subset of *zap.SugaredLogger the portal needs; kept
// as a small interface so tests can supply a stub.
type sugaredLogger interface {
	Errorf(string, ...interface{})
}

// Portal is the captive-portal HTTP server. A new Portal must be created
// for each onboarding attempt; Stop releases the listener.
type Portal struct {
	store     nvs.Store
	flags     *eventflags.Flags
	log       sugaredLogger
	claimCode string

	// Addr is the listener address. It defaults to the device's AP
	// gateway address; tests override it since that address is not
	// bindable on a general-purpose host.
	Addr string

	server *http.Server
}

// New returns a Portal that will persist submitted credentials to store and
// signal flags with eventflags.PortalCredentialsReceived once they arrive.
// claimCode is rendered on the success page so the operator can read it off
// the screen and enter it into the fleet console, per spec.md §4.6.
func New(store nvs.Store, flags *eventflags.Flags, log sugaredLogger, claimCode string) *Portal {
	return &Portal{store: store, flags: flags, log: log, claimCode: claimCode, Addr: portalAddr}
}

// Start brings up the portal's HTTP server in the background. It returns
// once the listener is bound; Stop must eventually be called to release it.
func (p *Portal) Start() error {
	r := mux.NewRouter()
	r.HandleFunc("/", p.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/save", p.handleSave).Methods(http.MethodPost)
	// Captive portal OS detection probes fetch arbitrary paths expecting a
	// redirect; wifi_manager.c registers an identical wildcard GET handler.
	r.PathPrefix("/").HandlerFunc(p.handleRedirect).Methods(http.MethodGet)

	ln, err := net.Listen("tcp", p.Addr)
	if err != nil {
		return errors.Wrap(err, "failed to start captive portal listener")
	}

	p.server = &http.Server{Addr: ln.Addr().String(), Handler: r}

	go func() {
		if err := p.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			p.log.Errorf("captive portal server exited: %s", err)
		}
	}()
	return nil
}

// Stop shuts down the portal's HTTP server.
func (p *Portal) Stop() error {
	if p.server == nil {
		return nil
	}
	return p.server.Close()
}

func (p *Portal) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, portalHTML)
}

func (p *Portal) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form body", http.StatusBadRequest)
		return
	}

	ssid := r.FormValue("ssid")
	if ssid == "" {
		http.Error(w, "missing ssid", http.StatusBadRequest)
		return
	}
	password := r.FormValue("password")

	if err := p.store.Set(nvs.NamespaceWifiCreds, nvs.KeySSID, ssid); err != nil {
		p.log.Errorf("failed to save ssid: %s", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := p.store.Set(nvs.NamespaceWifiCreds, nvs.KeyPassword, password); err != nil {
		p.log.Errorf("failed to save password: %s", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, portalSuccessHTMLFmt, html.EscapeString(p.claimCode))

	p.flags.Set(eventflags.PortalCredentialsReceived)
}

func (p *Portal) handleRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "http://"+portalHost+"/", http.StatusFound)
}

// APSSID derives the onboarding access point's SSID from the last two octets
// of the device's generated identifier, echoing the original firmware's
// "ESP32-Setup-%02X%02X" MAC-derived naming without depending on a real MAC
// address being available on a host build.
func APSSID() string {
	id := aputil.GenerateDeviceID()
	suffix := id
	if len(id) >= 4 {
		suffix = id[len(id)-4:]
	}
	return "FleetAgent-Setup-" + suffix
}
