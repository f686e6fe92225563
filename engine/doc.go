// Package engine links and runs robot programs on wazero.
//
// # Architecture
//
// A robot program is linked against four module instances:
//
//	pros_host   - Go host functions, one per recognized env import
//	env         - synthesized: re-exports pros_host functions under the
//	              import names and defines the shared memory and, if the
//	              program imports one, the indirect function table
//	robot       - the program itself, rewritten to export __stack_pointer
//	trampoline  - synthesized: call_task(fn, arg) and call_void(fn), which
//	              call through the program's function table
//
// # Instantiation Flow
//
//  1. Engine.Link compiles the host module from the supplied HostFuncs
//  2. an env module is generated from the program's env imports
//  3. the program is instantiated as "robot"
//  4. the trampoline imports the program's table and is instantiated last
//
// # Tasks and stacks
//
// Every task runs on its own goroutine and calls into the same module
// instance. Compiled C code keeps its call stack in linear memory, addressed
// by the __stack_pointer global, so each task gets its own stack region.
// StackSwitcher saves and restores the global whenever the scheduler hands
// control between tasks.
//
// # Memory
//
// Memory wraps api.Memory with bounds-checked accessors. Host-owned data
// is allocated through the program's wasm_memalign export when present, or
// from pages the host grows and reserves for itself.
package engine
