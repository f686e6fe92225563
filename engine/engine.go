package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"

	"github.com/vexide/pros-simulator/wasm"
)

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means the wazero default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// EnableThreads enables the threads proposal, required by programs
	// that import shared memory.
	EnableThreads bool

	// Interpreter selects wazero's interpreter instead of the compiler.
	Interpreter bool
}

// Engine owns a wazero runtime. One engine links one robot program.
type Engine struct {
	runtime wazero.Runtime
	cfg     Config
}

// New creates an engine. Execution is interrupted when the context passed
// to a call is cancelled.
func New(ctx context.Context, cfg *Config) *Engine {
	var c Config
	if cfg != nil {
		c = *cfg
	}

	var runtimeCfg wazero.RuntimeConfig
	if c.Interpreter {
		runtimeCfg = wazero.NewRuntimeConfigInterpreter()
	} else {
		runtimeCfg = wazero.NewRuntimeConfig()
	}
	runtimeCfg = runtimeCfg.WithCloseOnContextDone(true)
	if c.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(c.MemoryLimitPages)
	}
	if c.EnableThreads {
		runtimeCfg = runtimeCfg.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	}

	return &Engine{runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg), cfg: c}
}

// Runtime exposes the underlying wazero runtime.
func (e *Engine) Runtime() wazero.Runtime {
	return e.runtime
}

// Close releases every module instantiated by the engine.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// ValueTypes converts binary value types to wazero's.
func ValueTypes(vs []wasm.ValType) ([]api.ValueType, error) {
	out := make([]api.ValueType, len(vs))
	for i, v := range vs {
		switch v {
		case wasm.ValI32:
			out[i] = api.ValueTypeI32
		case wasm.ValI64:
			out[i] = api.ValueTypeI64
		case wasm.ValF32:
			out[i] = api.ValueTypeF32
		case wasm.ValF64:
			out[i] = api.ValueTypeF64
		case wasm.ValExtern:
			out[i] = api.ValueTypeExternref
		default:
			return nil, fmt.Errorf("unsupported value type %s", v)
		}
	}
	return out, nil
}
