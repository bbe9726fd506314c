// Package stream implements the host side of readable and writable streams
// that guest code reads from, writes to and feeds through adapters.
//
// # Readable streams
//
// A ReadableStream is driven by a Source. The controller queues chunks and
// asks the source for more with Pull only while the queue is below its high
// water mark or reads are waiting, and never while a previous pull is still
// pending. Byte streams (TypeBytes) additionally support BYOB readers and
// auto-allocated pull-into buffers exposed to the source as a BYOBRequest.
//
// # Writable streams
//
// A WritableStream hands chunks to its Sink one at a time. Writers observe
// backpressure through Ready and DesiredSize. An abort that arrives during a
// write waits for that write to settle.
//
// # Threading
//
// Everything except FromReader's background reads runs on the owning
// eventloop.Loop goroutine. Nothing in this package locks.
package stream
