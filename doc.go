// Package wasmbridge hosts WebAssembly guests built against a bindgen-style
// foreign object ABI and connects them to host-side streams.
//
// The guest cannot hold references into the host object graph. The bridge
// keeps every host value in a handle table and passes small integer handles,
// UTF-8 strings, byte buffers, callbacks and promises across the boundary.
//
// # Architecture Overview
//
//	wasmbridge/        Root package with Memory, Guest and Allocator interfaces
//	├── heap/          Handle table with sentinels and a borrowed-handle stack
//	├── memory/        Linear-memory view cache with staleness detection
//	├── abi/           String and scalar marshaling, guest allocator, retptr
//	├── value/         Host values exchanged with the guest
//	├── eventloop/     Single-threaded loop and promises
//	├── closure/       Guest closure trampoline and destructor registry
//	├── stream/        Host readable/writable streams, readers, writers, pipes
//	├── fetch/         Request, Response and Headers host values
//	├── bridge/        Host imports, guest exports, stream adapters, exceptions
//	├── engine/        wazero integration
//	├── host/          Worker pool running guests on event loops
//	├── web/           net/http front
//	├── config/        YAML configuration
//	├── telemetry/     OpenTelemetry tracer setup
//	├── errors/        Structured error types
//	└── cmd/bridge/    Server binary with a terminal inspector
//
// # Quick Start
//
//	cfg, _ := config.Load("bridge.yaml")
//	pool, err := host.Load(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Close(ctx)
//
//	srv := web.New(pool, web.Options{})
//	http.ListenAndServe(cfg.Listen, srv)
//
// # Thread Safety
//
// Everything below host/ is single-threaded: a bridge instance, its handle
// table and its streams belong to one event loop goroutine. host.Pool and
// web.Server are safe for concurrent use and hop onto worker loops.
package wasmbridge
