package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/vexide/pros-simulator/engine"
	"github.com/vexide/pros-simulator/errors"
	"github.com/vexide/pros-simulator/rtos"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
	if cfg.Scheduler.StackSize != engine.DefaultStackSize {
		t.Errorf("stack size = %d", cfg.Scheduler.StackSize)
	}
	if _, ok := cfg.Pacer().(*rtos.Virtual); !ok {
		t.Errorf("default pacer is %T", cfg.Pacer())
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
clock:
  mode: virtual
  quantum: 2ms
engine:
  memory_limit_pages: 256
scheduler:
  stack_size: 32768
run:
  exit_when_idle: true
log:
  level: debug
record:
  path: runs.db
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Clock.Quantum != 2*time.Millisecond {
		t.Errorf("quantum = %v", cfg.Clock.Quantum)
	}
	if lvl, _ := cfg.Log.ZapLevel(); lvl != zapcore.DebugLevel {
		t.Errorf("level = %v", lvl)
	}
	if cfg.Record.Path != "runs.db" {
		t.Errorf("record path = %q", cfg.Record.Path)
	}

	opts := cfg.Options("run-1")
	if opts.RunID != "run-1" || !opts.ExitWhenIdle {
		t.Errorf("options = %+v", opts)
	}
	if opts.Engine.MemoryLimitPages != 256 || opts.Host.StackSize != 32768 {
		t.Errorf("engine = %+v, host = %+v", opts.Engine, opts.Host)
	}
	if v, ok := opts.Pacer.(*rtos.Virtual); !ok || v.Quantum != 2*time.Millisecond {
		t.Errorf("pacer = %#v", opts.Pacer)
	}
}

func TestParse_KeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("clock:\n  mode: realtime\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, ok := cfg.Pacer().(*rtos.RealTime); !ok {
		t.Errorf("pacer = %T", cfg.Pacer())
	}
	if cfg.Scheduler.StackSize != engine.DefaultStackSize || cfg.Log.Level != "info" {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		path   string
	}{
		{"clock mode", func(c *Config) { c.Clock.Mode = "warp" }, "clock.mode"},
		{"negative quantum", func(c *Config) { c.Clock.Quantum = -time.Millisecond }, "clock.quantum"},
		{"memory limit", func(c *Config) { c.Engine.MemoryLimitPages = maxPages + 1 }, "engine.memory_limit_pages"},
		{"zero stack", func(c *Config) { c.Scheduler.StackSize = 0 }, "scheduler.stack_size"},
		{"unaligned stack", func(c *Config) { c.Scheduler.StackSize = 1000 }, "scheduler.stack_size"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			var e *errors.Error
			if !stderrors.As(err, &e) {
				t.Fatalf("Validate = %v", err)
			}
			if e.Phase != errors.PhaseConfig || len(e.Path) != 1 || e.Path[0] != tt.path {
				t.Fatalf("error = %+v", e)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.yaml")); !stderrors.Is(err, os.ErrNotExist) {
		t.Fatalf("Load of a missing file = %v", err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("clock: [1, 2"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); !stderrors.Is(err, &errors.Error{Phase: errors.PhaseConfig, Kind: errors.KindInvalidData}) {
		t.Fatalf("Load of bad yaml = %v", err)
	}

	good := filepath.Join(dir, "sim.yaml")
	if err := os.WriteFile(good, []byte("run:\n  exit_when_idle: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(good)
	if err != nil || !cfg.Run.ExitWhenIdle {
		t.Fatalf("Load = %+v, %v", cfg, err)
	}
}
