// Package abi implements the value conventions shared with the guest.
//
// Strings cross as (ptr, len) pairs of UTF-8 bytes in guest memory. Host to
// guest strings are allocated with the guest's malloc and owned by the guest
// afterwards; guest to host strings are decoded strictly, and buffers the
// guest hands over for good are freed with the guest's free.
//
// Scalars are written at naturally aligned offsets in little-endian order.
// Results larger than one i32 use a return area reserved on the guest shadow
// stack (Stack.WithRetptr) with the layouts documented in retptr.go.
package abi
