//go:build tinygo

package flash

import (
	"runtime/volatile"
	"unsafe"

	"device/arm"
)

// STM32L4 FLASH peripheral registers (RM0394 §3.7). Only the registers the
// IAP core touches are named; the controller exposes plenty more than a
// page-erase/double-word-program primitive needs.
const (
	flashRegBase = 0x40022000
	flashKeyR    = flashRegBase + 0x08
	flashCR      = flashRegBase + 0x14
	flashSR      = flashRegBase + 0x10

	flashKey1 = 0x45670123
	flashKey2 = 0xCDEF89AB

	crPG    = 1 << 0  // programming
	crPER   = 1 << 1  // page erase
	crSTRT  = 1 << 16 // start erase
	crLOCK  = 1 << 31 // lock
	crPNB   = 0xFF << 3 // page number field (bits 10:3), shifted in pageNumberBits
	srBSY   = 1 << 16
	srEOP   = 1 << 0
	srError = 0x3FA // all error bits per RM0394 Table 17
)

func reg32(addr uintptr) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Pointer(addr))
}

// Hardware is the real flash.Service backed by the STM32L4 flash
// controller: unlock, perform the operation with interrupts disabled, retry
// up to maxRetries, always lock on the way out.
type Hardware struct{}

// NewHardware returns the on-chip flash backend.
func NewHardware() *Hardware { return &Hardware{} }

func unlock() {
	reg32(flashKeyR).Set(flashKey1)
	reg32(flashKeyR).Set(flashKey2)
}

func lock() {
	reg32(flashCR).Set(reg32(flashCR).Get() | crLOCK)
}

func waitBusy() bool {
	for reg32(flashSR).Get()&srBSY != 0 {
	}
	sr := reg32(flashSR).Get()
	reg32(flashSR).Set(sr) // clear sticky status bits by writing them back
	return sr&srError == 0
}

// ErasePages erases nbPages consecutive pages starting at startAddr,
// disabling interrupts for the duration and unconditionally
// re-locking flash on every exit path.
func (h *Hardware) ErasePages(startAddr uint32, nbPages uint32) error {
	mask := arm.DisableInterrupts()
	defer arm.EnableInterrupts(mask)

	unlock()
	defer lock()

	for attempt := 0; attempt < maxRetries; attempt++ {
		ok := true
		for p := uint32(0); p < nbPages && ok; p++ {
			pageAddr := startAddr + p*pageSizeOf(startAddr)
			cr := reg32(flashCR).Get()
			cr |= crPER
			cr = (cr &^ crPNB) | pageNumberBits(pageAddr)
			reg32(flashCR).Set(cr)
			reg32(flashCR).Set(reg32(flashCR).Get() | crSTRT)
			ok = waitBusy()
			reg32(flashCR).Set(reg32(flashCR).Get() &^ crPER)
		}
		if ok {
			return nil
		}
	}
	return ErrEraseFailed
}

// ProgramDword programs one aligned 8-byte value, retrying up to
// maxRetries times.
func (h *Hardware) ProgramDword(addr uint32, value uint64) error {
	mask := arm.DisableInterrupts()
	defer arm.EnableInterrupts(mask)

	unlock()
	defer lock()

	for attempt := 0; attempt < maxRetries; attempt++ {
		cr := reg32(flashCR).Get()
		reg32(flashCR).Set(cr | crPG)

		lo := (*volatile.Register32)(unsafe.Pointer(uintptr(addr)))
		hi := (*volatile.Register32)(unsafe.Pointer(uintptr(addr + 4)))
		lo.Set(uint32(value))
		hi.Set(uint32(value >> 32))

		ok := waitBusy()
		reg32(flashCR).Set(reg32(flashCR).Get() &^ crPG)
		if ok {
			return nil
		}
	}
	return ErrWriteFailed
}

// ReadU32 reads a 32-bit word directly from the memory-mapped flash.
func (h *Hardware) ReadU32(addr uint32) uint32 {
	return reg32(uintptr(addr)).Get()
}

// ReadU64 reads a 64-bit double-word directly from the memory-mapped flash.
func (h *Hardware) ReadU64(addr uint32) uint64 {
	lo := uint64(reg32(uintptr(addr)).Get())
	hi := uint64(reg32(uintptr(addr + 4)).Get())
	return (hi << 32) | lo
}

// pageSizeOf and pageNumberBits encode the STM32L432KC's 2KB-page layout
// (RM0394 Table 16), with pages numbered linearly from 0x08000000 and no
// bank selection. Kept file-local since only the
// hardware backend needs bit-level register encoding; flash.Service callers
// only ever deal in byte addresses via memmap.Layout.
func pageSizeOf(uint32) uint32 { return 2048 }

func pageNumberBits(addr uint32) uint32 {
	page := (addr - 0x08000000) / 2048
	return (page & 0xFF) << 3
}
