/*
 * COPYRIGHT 2017 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package provisioner

import (
	"time"

	"github.com/pkg/errors"

	"fleetagent/internal/eventflags"
	"fleetagent/internal/hal/nvs"
	"fleetagent/internal/hal/radio"
)

// Credentials is the Wi-Fi station configuration persisted across reboots.
type Credentials struct {
	SSID     string
	Password string
}

// LoadCredentials reads previously-saved Wi-Fi credentials from store. ok is
// false if no SSID has ever been saved, mirroring wifi_manager.c's
// nvs_load_credentials treating an empty/absent SSID as "no credentials."
func LoadCredentials(store nvs.Store) (creds Credentials, ok bool, err error) {
	ssid, present, err := store.Get(nvs.NamespaceWifiCreds, nvs.KeySSID)
	if err != nil {
		return Credentials{}, false, errors.Wrap(err, "failed to load ssid")
	}
	if !present || ssid == "" {
		return Credentials{}, false, nil
	}

	password, _, err := store.Get(nvs.NamespaceWifiCreds, nvs.KeyPassword)
	if err != nil {
		return Credentials{}, false, errors.Wrap(err, "failed to load password")
	}

	return Credentials{SSID: ssid, Password: password}, true, nil
}

// EraseCredentials deletes any stored Wi-Fi credentials, the Go counterpart
// of wifi_manager_erase_credentials.
func EraseCredentials(store nvs.Store) error {
	if err := store.Delete(nvs.NamespaceWifiCreds, nvs.KeySSID); err != nil {
		return err
	}
	return store.Delete(nvs.NamespaceWifiCreds, nvs.KeyPassword)
}

// ConnectStation attempts to connect r to the given credentials and blocks
// until the outcome is known or timeout elapses.
func ConnectStation(r radio.Radio, flags *eventflags.Flags, creds Credentials, timeout time.Duration) error {
	flags.Clear(eventflags.StaConnected | eventflags.StaFailed)

	if err := r.ConnectStation(creds.SSID, creds.Password); err != nil {
		return errors.Wrap(err, "failed to start station connection")
	}

	bits := flags.Wait(eventflags.StaConnected|eventflags.StaFailed, timeout)
	switch {
	case bits&eventflags.StaConnected != 0:
		return nil
	case bits&eventflags.StaFailed != 0:
		_ = r.StopStation()
		return errors.New("station connection failed")
	default:
		_ = r.StopStation()
		return errors.New("station connection timed out")
	}
}

// RunPortal brings up the onboarding access point and captive portal, and
// blocks until new credentials are submitted or timeout elapses. On success
// it returns the submitted credentials, already persisted to store.
// claimCode is rendered on the portal's success page for the operator to
// read off and enter into the fleet console.
func RunPortal(r radio.Radio, store nvs.Store, flags *eventflags.Flags, log sugaredLogger, claimCode string, timeout time.Duration) (Credentials, error) {
	ssid := APSSID()
	if err := r.StartAP(ssid); err != nil {
		return Credentials{}, errors.Wrap(err, "failed to start onboarding access point")
	}
	defer r.StopAP()

	portal := New(store, flags, log, claimCode)
	if err := portal.Start(); err != nil {
		return Credentials{}, err
	}
	defer portal.Stop()

	flags.Clear(eventflags.PortalCredentialsReceived)
	bits := flags.Wait(eventflags.PortalCredentialsReceived, timeout)
	if bits&eventflags.PortalCredentialsReceived == 0 {
		return Credentials{}, errors.New("onboarding portal timed out waiting for credentials")
	}

	creds, ok, err := LoadCredentials(store)
	if err != nil {
		return Credentials{}, err
	}
	if !ok {
		return Credentials{}, errors.New("portal reported credentials but none were persisted")
	}
	return creds, nil
}
