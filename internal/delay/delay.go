// Package delay implements component E: the DelayController that can gate
// applyPendingUpdate behind a conjunction of conditions, persisted through
// internal/store so the armed state survives process restarts.
package delay

import (
	"encoding/json"
	"log"
	"time"

	"github.com/capgo/electron-updater-go/internal/store"
)

// Kind enumerates the conditions recognized by setMultiDelay (spec §4.E).
type Kind string

const (
	Background    Kind = "background"
	Kill          Kind = "kill"
	Date          Kind = "date"
	NativeVersion Kind = "nativeVersion"
)

// Condition is one entry of a setMultiDelay({conditions}) call.
type Condition struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value,omitempty"` // ISO-8601 instant for Date; build literal for NativeVersion
}

// state is the persisted shape written through Store.SetDelayState.
type state struct {
	Conditions    []Condition `json:"conditions"`
	Armed         bool        `json:"armed"`
	KillSatisfied bool        `json:"killSatisfied"` // true once the app has relaunched since arming
	ArmedSince    time.Time   `json:"armedSince"`
	InBackground  bool        `json:"inBackground"`
}

// Controller is the DelayController (spec §4.E).
type Controller struct {
	st            *store.Store
	nativeVersion string // the running application's build version, for the nativeVersion condition
}

// New constructs a Controller, restoring any previously armed delay state
// from the Store.
func New(st *store.Store, nativeVersion string) *Controller {
	c := &Controller{st: st, nativeVersion: nativeVersion}
	return c
}

func (c *Controller) load() state {
	raw := c.st.GetDelayState()
	if len(raw) == 0 {
		return state{}
	}
	var s state
	if err := json.Unmarshal(raw, &s); err != nil {
		log.Printf("delay: corrupt delay state, resetting: %v", err)
		return state{}
	}
	return s
}

func (c *Controller) persist(s state) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.st.SetDelayState(raw)
}

// SetMultiDelay arms the supplied conditions, replacing any previously
// armed set (spec §4.E setMultiDelay).
func (c *Controller) SetMultiDelay(conditions []Condition) error {
	s := state{
		Conditions:    conditions,
		Armed:         len(conditions) > 0,
		ArmedSince:    time.Now().UTC(),
		KillSatisfied: false,
	}
	return c.persist(s)
}

// CancelDelay clears any armed conditions; the gate opens unconditionally.
func (c *Controller) CancelDelay() error {
	return c.persist(state{})
}

// AreConditionsSatisfied reports whether every active condition currently
// holds. An unarmed controller (no conditions set) is always satisfied.
func (c *Controller) AreConditionsSatisfied() bool {
	s := c.load()
	if !s.Armed {
		return true
	}
	for _, cond := range s.Conditions {
		if !c.satisfied(s, cond) {
			return false
		}
	}
	return true
}

func (c *Controller) satisfied(s state, cond Condition) bool {
	switch cond.Kind {
	case Background:
		return s.InBackground
	case Kill:
		return s.KillSatisfied
	case Date:
		target, err := time.Parse(time.RFC3339, cond.Value)
		if err != nil {
			log.Printf("delay: invalid date condition %q: %v", cond.Value, err)
			return false
		}
		return time.Now().UTC().After(target)
	case NativeVersion:
		return c.nativeVersion == cond.Value
	default:
		log.Printf("delay: unrecognized condition kind %q, treating as unsatisfied", cond.Kind)
		return false
	}
}

// OnAppStart consumes the one-shot kill flag: an app launch always
// satisfies a pending "kill" condition, since reaching this call proves
// the process exited and relaunched since the condition was armed.
func (c *Controller) OnAppStart() error {
	s := c.load()
	if !s.Armed {
		return nil
	}
	s.KillSatisfied = true
	return c.persist(s)
}

// OnForeground records the host window regaining focus.
func (c *Controller) OnForeground() error {
	s := c.load()
	s.InBackground = false
	if !s.Armed {
		return nil
	}
	return c.persist(s)
}

// OnBackground records the host window losing focus (blur/hide).
func (c *Controller) OnBackground() error {
	s := c.load()
	s.InBackground = true
	if !s.Armed {
		return nil
	}
	return c.persist(s)
}
