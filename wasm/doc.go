// Package wasm reads and writes just enough of the WebAssembly binary
// format to link robot programs: the type, import, function, table,
// memory, global and export sections, plus global names from the name
// section. Everything else is carried through as raw sections.
//
// It also builds small glue modules:
//
//	b := wasm.NewBuilder()
//	sig := wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}
//	t := b.ImportTable("robot", "__indirect_function_table", wasm.TableType{ElemType: wasm.ValFuncRef})
//	fn := b.Func(sig, nil, wasm.Code(nil).I32Const(0).LocalGet(0).CallIndirect(b.Type(sig), t).End())
//	b.Export("call", wasm.KindFunc, fn)
//	bin := b.Bytes()
package wasm
