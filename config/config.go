// Package config loads simulator settings from YAML.
//
// Every field has a default, so a config file only needs the values it
// changes. Command-line flags are applied on top of the loaded values.
package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/vexide/pros-simulator/engine"
	"github.com/vexide/pros-simulator/errors"
	"github.com/vexide/pros-simulator/host"
	"github.com/vexide/pros-simulator/rtos"
	"github.com/vexide/pros-simulator/runtime"
)

// Clock modes.
const (
	ClockVirtual  = "virtual"
	ClockRealtime = "realtime"
)

// maxPages is the largest wasm32 memory, 4GiB.
const maxPages = 65536

// Config holds every simulator setting.
type Config struct {
	Clock     Clock     `yaml:"clock"`
	Engine    Engine    `yaml:"engine"`
	Scheduler Scheduler `yaml:"scheduler"`
	Run       Run       `yaml:"run"`
	Log       Log       `yaml:"log"`
	Record    Record    `yaml:"record"`
}

// Clock selects how simulated time relates to wall-clock time.
type Clock struct {
	// Mode is virtual or realtime.
	Mode string `yaml:"mode"`
	// Quantum is how far a virtual clock advances per scheduling step.
	Quantum time.Duration `yaml:"quantum"`
}

type Engine struct {
	// MemoryLimitPages caps robot memory in 64KiB pages. 0 means no cap
	// beyond the wasm32 limit.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`
	// Threads enables the threads proposal even for programs without
	// shared memory.
	Threads     bool `yaml:"threads"`
	Interpreter bool `yaml:"interpreter"`
}

type Scheduler struct {
	// StackSize is the shadow stack for tasks created with no stack depth.
	StackSize uint32 `yaml:"stack_size"`
}

type Run struct {
	ExitWhenIdle bool `yaml:"exit_when_idle"`
}

type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type Record struct {
	// Path is the SQLite database runs are recorded to. Empty disables
	// recording.
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Clock:     Clock{Mode: ClockVirtual},
		Scheduler: Scheduler{StackSize: engine.DefaultStackSize},
		Log:       Log{Level: "info"},
	}
}

// Load reads and validates a YAML file. Fields missing from the file keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML config data.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parsing config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field.
func (c *Config) Validate() error {
	switch c.Clock.Mode {
	case ClockVirtual, ClockRealtime:
	default:
		return invalid("clock.mode", c.Clock.Mode, "must be virtual or realtime")
	}
	if c.Clock.Quantum < 0 {
		return invalid("clock.quantum", c.Clock.Quantum, "must not be negative")
	}
	if c.Engine.MemoryLimitPages > maxPages {
		return invalid("engine.memory_limit_pages", c.Engine.MemoryLimitPages, "must be at most %d", maxPages)
	}
	if c.Scheduler.StackSize == 0 || c.Scheduler.StackSize%16 != 0 {
		return invalid("scheduler.stack_size", c.Scheduler.StackSize, "must be a positive multiple of 16")
	}
	if _, err := c.Log.ZapLevel(); err != nil {
		return invalid("log.level", c.Log.Level, "must be debug, info, warn or error")
	}
	return nil
}

func invalid(path string, v any, detail string, args ...any) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Path(path).
		Value(v).
		Detail(detail, args...).
		Build()
}

// ZapLevel parses the log level.
func (l Log) ZapLevel() (zapcore.Level, error) {
	return zapcore.ParseLevel(l.Level)
}

// Pacer builds the clock pacer for a run.
func (c *Config) Pacer() rtos.Pacer {
	if c.Clock.Mode == ClockRealtime {
		return rtos.NewRealTime()
	}
	return &rtos.Virtual{Quantum: c.Clock.Quantum}
}

// Options builds simulator options. runID may be empty.
func (c *Config) Options(runID string) runtime.Options {
	return runtime.Options{
		Pacer: c.Pacer(),
		RunID: runID,
		Engine: engine.Config{
			MemoryLimitPages: c.Engine.MemoryLimitPages,
			EnableThreads:    c.Engine.Threads,
			Interpreter:      c.Engine.Interpreter,
		},
		Host:         host.Config{StackSize: c.Scheduler.StackSize},
		ExitWhenIdle: c.Run.ExitWhenIdle,
	}
}
