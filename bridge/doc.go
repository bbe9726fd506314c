// Package bridge connects a bindgen-style guest to host values.
//
// An Instance owns the handle table, the closure registry and the guest
// allocator of one guest. It provides the host imports of the "bridge"
// module and calls the guest exports that drive it.
//
// # Imports
//
// Imports are either catching or plain. A catching import turns a host
// error into a host value, stores it in the handle table and hands the
// handle to the guest through __wbindgen_exn_store; its results are zeroed.
// A plain import treats any error as a contract violation and traps.
//
//	Group       Examples
//	─────────────────────────────────────────────────────────────
//	values      string_new, string_get, number_get, typeof, throw
//	objects     object_get, array_push, uint8array_copy_to
//	closures    closure_new, cb_drop, function_call1
//	promises    promise_new, promise_then, queue_microtask
//	streams     readable_stream_new, reader_read, writer_write
//	fetch       request_url, headers_append, response_new
//	console     console_log
//
// # Ownership
//
// Handles passed as arguments are borrowed unless an import documents that
// it takes them. Handles returned to the guest are owned by the guest,
// which releases them with object_drop_ref. Handles the host passes into
// guest exports (controllers, chunks, request objects) are owned by the
// guest as well.
//
// # Stream Adapters
//
// ByteSource, Source and Sink wrap guest objects by pointer and implement
// stream.Source and stream.Sink. Consuming operations (cancel, close, abort)
// zero the pointer before calling into the guest; later calls fail with
// errors.KindUseAfterClose. PipeOptions, QueuingStrategy and
// GetReaderOptions are read-only views over guest-owned configuration and
// are freed when the guest drops its last handle to them.
//
// All methods must be called on the instance's event loop goroutine.
package bridge
