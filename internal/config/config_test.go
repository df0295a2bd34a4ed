package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoad_defaults(t *testing.T) {
	clearEnv(t, "UPDATER_APP_READY_TIMEOUT", "UPDATER_RESPONSE_TIMEOUT",
		"UPDATER_AUTO_UPDATE", "UPDATER_PERIOD_CHECK_DELAY", "UPDATER_DIRECT_UPDATE")
	c := Load()
	if c.AppReadyTimeout != 10_000*time.Millisecond {
		t.Errorf("AppReadyTimeout = %v", c.AppReadyTimeout)
	}
	if c.ResponseTimeout != 20*time.Second {
		t.Errorf("ResponseTimeout = %v", c.ResponseTimeout)
	}
	if !c.AutoUpdate {
		t.Error("AutoUpdate should default true")
	}
	if c.NormalizedDirectUpdate() != DirectUpdateFalse {
		t.Errorf("NormalizedDirectUpdate = %v", c.NormalizedDirectUpdate())
	}
}

func TestSchedulingEnabled(t *testing.T) {
	c := &Config{AutoUpdate: true, PeriodCheckDelay: 599 * time.Second}
	if c.SchedulingEnabled() {
		t.Error("599s should be below the scheduling floor")
	}
	c.PeriodCheckDelay = 600 * time.Second
	if !c.SchedulingEnabled() {
		t.Error("600s should clear the scheduling floor")
	}
	c.AutoUpdate = false
	if c.SchedulingEnabled() {
		t.Error("AutoUpdate=false must disable scheduling regardless of delay")
	}
}

func TestNormalizedDirectUpdate(t *testing.T) {
	cases := map[DirectUpdateMode]DirectUpdateMode{
		DirectUpdateFalse:     DirectUpdateFalse,
		DirectUpdateTrue:      DirectUpdateAlways,
		DirectUpdateAlways:    DirectUpdateAlways,
		DirectUpdateAtInstall: DirectUpdateFalse,
		DirectUpdateOnLaunch:  DirectUpdateFalse,
	}
	for in, want := range cases {
		c := &Config{DirectUpdate: in}
		if got := c.NormalizedDirectUpdate(); got != want {
			t.Errorf("NormalizedDirectUpdate(%v) = %v, want %v", in, got, want)
		}
	}
}
