package host

import (
	"sort"
	"strings"
)

// Status is how the simulator treats an imported name.
type Status int

const (
	// Unrecognized names fail the load.
	Unrecognized Status = iota
	// Unsupported names are known PROS APIs without an implementation. They
	// link to a stub that traps when called.
	Unsupported
	// Implemented names have a host function.
	Implemented
)

func (s Status) String() string {
	switch s {
	case Implemented:
		return "implemented"
	case Unsupported:
		return "unsupported"
	default:
		return "unrecognized"
	}
}

// EnvModule is the only namespace robot programs may import from.
const EnvModule = "env"

var unsupportedNames = map[string]bool{
	"controller_print":      true,
	"controller_rumble":     true,
	"controller_set_text":   true,
	"controller_clear":      true,
	"controller_clear_line": true,
	"usd_is_installed":      true,
	"lcd_print":             true,
	"micros":                true,
	"task_join":             true,
	"xTaskAbortDelay":       true,
	"__main_argc_argv":      true,
}

var unsupportedPrefixes = []string{"motor_", "battery_get_", "task_notify"}

// Capabilities maps import names to their status.
type Capabilities struct {
	implemented map[string]bool
}

// NewCapabilities builds the table for a set of implemented names.
func NewCapabilities(implemented []string) *Capabilities {
	c := &Capabilities{implemented: make(map[string]bool, len(implemented))}
	for _, name := range implemented {
		c.implemented[name] = true
	}
	return c
}

// Lookup classifies module#name.
func (c *Capabilities) Lookup(module, name string) Status {
	if module != EnvModule {
		return Unrecognized
	}
	if c.implemented[name] {
		return Implemented
	}
	if unsupportedNames[name] {
		return Unsupported
	}
	for _, p := range unsupportedPrefixes {
		if strings.HasPrefix(name, p) {
			return Unsupported
		}
	}
	return Unrecognized
}

// Implemented returns the implemented names, sorted.
func (c *Capabilities) Implemented() []string {
	names := make([]string, 0, len(c.implemented))
	for n := range c.implemented {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
