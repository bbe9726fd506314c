// Package errors provides structured error types for the bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the operation name, the offending handle, a thrown
// value for host exceptions, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseHeap, errors.KindInvalidHandle).
//		Op("take").
//		Handle(17).
//		Detail("slot is free").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.UseAfterClose(errors.PhaseStream, "sink.write")
//	err := errors.InvalidUTF8(errors.PhaseDecode, ptr, data)
//
// The package-level sentinels (ErrInvalidHandle, ErrDecode, ErrUseAfterClose,
// ErrHostException, ErrAllocation) match by Kind regardless of phase:
//
//	if errors.Is(err, bridgeerrors.ErrUseAfterClose) { ... }
package errors
