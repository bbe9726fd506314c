// Package engine runs bridge guests on wazero.
//
// A WazeroEngine holds the configuration and a compilation cache shared by
// all guests. Every guest gets its own wazero runtime, so the "bridge" host
// module it links against is bound to exactly one bridge.Instance:
//
//	eng := engine.NewWazeroEngine(engine.Config{MemoryLimitPages: 256})
//	mod, err := eng.Compile(ctx, wasmBytes)
//	in := bridge.New(loop)
//	guest, err := mod.Instantiate(ctx, in.Imports())
//	err = in.Attach(ctx, guest)
//
// Imports the host does not provide are reported together before
// instantiation as *errors.MissingImportsError.
package engine
