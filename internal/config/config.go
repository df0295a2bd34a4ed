// Package config loads updater configuration from the process environment,
// following the same getEnv/getEnvBool/getEnvDuration convention
// used throughout this codebase's ambient tooling.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DirectUpdateMode mirrors the server-facing directUpdate setting (spec §6).
type DirectUpdateMode string

const (
	DirectUpdateFalse     DirectUpdateMode = "false"
	DirectUpdateTrue      DirectUpdateMode = "true"
	DirectUpdateAlways    DirectUpdateMode = "always"
	DirectUpdateAtInstall DirectUpdateMode = "atInstall"
	DirectUpdateOnLaunch  DirectUpdateMode = "onLaunch"
)

// Config holds every tunable named in spec.md §6.
type Config struct {
	// Identity / wire.
	AppID          string
	PluginVersion  string
	VersionName    string
	VersionCode    string
	VersionBuild   string
	VersionOS      string
	IsEmulator     bool
	IsProd         bool
	DefaultChannel string

	// Endpoints (overridden from the Store at Coordinator.Initialize when
	// PersistModifyUrl is set).
	UpdateURL  string
	ChannelURL string
	StatsURL   string

	// Filesystem roots, supplied by the host.
	UserDataDir string // holds electron-updater-storage.json
	BuiltinPath string // external path to the built-in bundle's www/index.html

	// Security.
	PublicKeyPEM string

	// Behavior switches (spec §6).
	AppReadyTimeout        time.Duration
	ResponseTimeout        time.Duration
	AutoUpdate             bool
	AutoDeleteFailed       bool
	AutoDeletePrevious     bool
	ResetWhenUpdate        bool
	AllowManualBundleError bool
	PersistCustomId        bool
	PersistModifyUrl       bool
	AllowModifyUrl         bool
	AllowModifyAppId       bool
	PeriodCheckDelay       time.Duration
	DirectUpdate           DirectUpdateMode
	DisableJSLogging       bool
}

// minPeriodCheckDelay is the floor below which periodic checks are disabled (spec §6, §4.H).
const minPeriodCheckDelay = 600 * time.Second

// Load reads configuration from the environment. Call LoadEnvFile first to
// populate the environment from a dotenv-style file, same as the teacher's
// internal/config/env.go.
func Load() *Config {
	c := &Config{
		AppID:          os.Getenv("UPDATER_APP_ID"),
		PluginVersion:  getEnv("UPDATER_PLUGIN_VERSION", "0.0.0"),
		VersionName:    getEnv("UPDATER_VERSION_NAME", "0.0.0"),
		VersionCode:    getEnv("UPDATER_VERSION_CODE", "1"),
		VersionBuild:   os.Getenv("UPDATER_VERSION_BUILD"),
		VersionOS:      getEnv("UPDATER_VERSION_OS", "electron"),
		IsEmulator:     false,
		IsProd:         getEnvBool("UPDATER_IS_PROD", true),
		DefaultChannel: os.Getenv("UPDATER_DEFAULT_CHANNEL"),

		UpdateURL:  os.Getenv("UPDATER_UPDATE_URL"),
		ChannelURL: os.Getenv("UPDATER_CHANNEL_URL"),
		StatsURL:   os.Getenv("UPDATER_STATS_URL"),

		UserDataDir: getEnv("UPDATER_USER_DATA_DIR", "."),
		BuiltinPath: os.Getenv("UPDATER_BUILTIN_PATH"),

		PublicKeyPEM: os.Getenv("UPDATER_PUBLIC_KEY"),

		AppReadyTimeout:        getEnvDuration("UPDATER_APP_READY_TIMEOUT", 10_000*time.Millisecond),
		ResponseTimeout:        getEnvDuration("UPDATER_RESPONSE_TIMEOUT", 20*time.Second),
		AutoUpdate:             getEnvBool("UPDATER_AUTO_UPDATE", true),
		AutoDeleteFailed:       getEnvBool("UPDATER_AUTO_DELETE_FAILED", true),
		AutoDeletePrevious:     getEnvBool("UPDATER_AUTO_DELETE_PREVIOUS", true),
		ResetWhenUpdate:        getEnvBool("UPDATER_RESET_WHEN_UPDATE", true),
		AllowManualBundleError: getEnvBool("UPDATER_ALLOW_MANUAL_BUNDLE_ERROR", false),
		PersistCustomId:        getEnvBool("UPDATER_PERSIST_CUSTOM_ID", false),
		PersistModifyUrl:       getEnvBool("UPDATER_PERSIST_MODIFY_URL", false),
		AllowModifyUrl:         getEnvBool("UPDATER_ALLOW_MODIFY_URL", false),
		AllowModifyAppId:       getEnvBool("UPDATER_ALLOW_MODIFY_APP_ID", false),
		PeriodCheckDelay:       getEnvDuration("UPDATER_PERIOD_CHECK_DELAY", 20*time.Minute),
		DirectUpdate:           DirectUpdateMode(getEnv("UPDATER_DIRECT_UPDATE", string(DirectUpdateFalse))),
		DisableJSLogging:       getEnvBool("UPDATER_DISABLE_JS_LOGGING", false),
	}
	if c.AppReadyTimeout <= 0 {
		c.AppReadyTimeout = 10_000 * time.Millisecond
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = 20 * time.Second
	}
	return c
}

// SchedulingEnabled reports whether PeriodCheckDelay clears the spec's 600s floor.
func (c *Config) SchedulingEnabled() bool {
	return c.AutoUpdate && c.PeriodCheckDelay >= minPeriodCheckDelay
}

// NormalizedDirectUpdate collapses atInstall/onLaunch to false per spec §9 (open question,
// tracked via store.GetFirstRunSincePromotion rather than resolved here).
func (c *Config) NormalizedDirectUpdate() DirectUpdateMode {
	switch c.DirectUpdate {
	case DirectUpdateTrue, DirectUpdateAlways:
		return DirectUpdateAlways
	default:
		return DirectUpdateFalse
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
