// Package flash is the thin semantic layer over on-chip flash: erase N
// pages, program one aligned double-word, and read back a word. Every
// caller goes through the Service interface so the same Protocol Engine and
// Boot Decider code runs against real silicon (hardware, //go:build tinygo)
// or against an in-memory Fake in tests.
package flash

import "errors"

// maxRetries bounds the erase/program retry loop at ≤10 attempts, matching
// the on-chip flash controller's documented worst-case operation latency.
const maxRetries = 10

var (
	// ErrEraseFailed is returned once ErasePages exhausts its retry bound.
	ErrEraseFailed = errors.New("flash: erase failed after retries")
	// ErrWriteFailed is returned once ProgramDword exhausts its retry bound.
	ErrWriteFailed = errors.New("flash: program failed after retries")
)

// Service is the hardware-independent flash contract the rest of the IAP
// core is written against. Alignment is the caller's responsibility:
// ProgramDword's addr must be 8-byte aligned, ErasePages' startAddr must be
// page aligned.
type Service interface {
	// ErasePages erases nbPages consecutive pages, the first of which
	// starts at startAddr.
	ErasePages(startAddr uint32, nbPages uint32) error
	// ProgramDword programs one aligned 8-byte value.
	ProgramDword(addr uint32, value uint64) error
	// ReadU32 reads a 32-bit word at addr.
	ReadU32(addr uint32) uint32
	// ReadU64 reads a 64-bit double-word at addr.
	ReadU64(addr uint32) uint64
}
