// Package updateinfo builds the single info payload shared by every
// ChannelClient, StatsClient, and update-check request, so the wire
// constant platform tag is encoded in exactly one place.
package updateinfo

import (
	"net/url"

	"github.com/capgo/electron-updater-go/internal/bundlecrypto"
	"github.com/capgo/electron-updater-go/internal/config"
	"github.com/capgo/electron-updater-go/internal/store"
)

// platformWire is sent on every request because the remote update service
// does not recognize a desktop platform tag; changing it requires a
// coordinated server-side update.
const platformWire = "android"

// Payload is the info object carried on every channel/stats/update request (spec §4.F).
type Payload struct {
	Platform       string `json:"platform"`
	DeviceID       string `json:"device_id"`
	AppID          string `json:"app_id"`
	CustomID       string `json:"custom_id,omitempty"`
	VersionBuild   string `json:"version_build"`
	VersionCode    string `json:"version_code"`
	VersionOS      string `json:"version_os"`
	VersionName    string `json:"version_name"`
	PluginVersion  string `json:"plugin_version"`
	IsEmulator     bool   `json:"is_emulator"`
	IsProd         bool   `json:"is_prod"`
	DefaultChannel string `json:"defaultChannel,omitempty"`
	KeyID          string `json:"key_id,omitempty"`
}

// Build assembles the info payload from the live configuration and the
// persisted device/custom identifiers. The device id is lazily generated
// and persisted on first call (store.GetDeviceID).
func Build(cfg *config.Config, st *store.Store) (Payload, error) {
	deviceID, err := st.GetDeviceID()
	if err != nil {
		return Payload{}, err
	}

	keyID := ""
	if cfg.PublicKeyPEM != "" {
		if id, ok := bundlecrypto.DeriveKeyID(cfg.PublicKeyPEM); ok {
			keyID = id
		}
	}

	return Payload{
		Platform:       platformWire,
		DeviceID:       deviceID,
		AppID:          cfg.AppID,
		CustomID:       st.GetCustomID(),
		VersionBuild:   cfg.VersionBuild,
		VersionCode:    cfg.VersionCode,
		VersionOS:      cfg.VersionOS,
		VersionName:    cfg.VersionName,
		PluginVersion:  cfg.PluginVersion,
		IsEmulator:     false,
		IsProd:         cfg.IsProd,
		DefaultChannel: cfg.DefaultChannel,
		KeyID:          keyID,
	}, nil
}

// QueryValues encodes the payload as URL query parameters, used by
// ChannelClient.getChannel/listChannels (GET with query-encoded info).
func (p Payload) QueryValues() url.Values {
	v := url.Values{}
	v.Set("platform", p.Platform)
	v.Set("device_id", p.DeviceID)
	v.Set("app_id", p.AppID)
	if p.CustomID != "" {
		v.Set("custom_id", p.CustomID)
	}
	v.Set("version_build", p.VersionBuild)
	v.Set("version_code", p.VersionCode)
	v.Set("version_os", p.VersionOS)
	v.Set("version_name", p.VersionName)
	v.Set("plugin_version", p.PluginVersion)
	v.Set("is_emulator", "false")
	v.Set("is_prod", boolString(p.IsProd))
	if p.DefaultChannel != "" {
		v.Set("defaultChannel", p.DefaultChannel)
	}
	if p.KeyID != "" {
		v.Set("key_id", p.KeyID)
	}
	return v
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
