package flash

import "encoding/binary"

// Fake is an in-memory stand-in for flash.Service, used by every package's
// tests so the Protocol Engine's state machine is fully testable without
// real silicon. Bytes default to 0xFF, matching an erased flash cell.
type Fake struct {
	mem  []byte
	base uint32

	// FailNextErases/FailNextPrograms let a test simulate transient
	// hardware failure: the next N calls report a retryable error instead
	// of succeeding, then calls succeed normally.
	FailNextErases   int
	FailNextPrograms int

	eraseCalls   int
	programCalls int
}

// NewFake allocates a fake flash region of size bytes starting at base,
// pre-filled to the erased state (0xFF).
func NewFake(base uint32, size uint32) *Fake {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &Fake{mem: mem, base: base}
}

func (f *Fake) offset(addr uint32) int { return int(addr - f.base) }

// ErasePages fills nbPages*pageSize bytes starting at startAddr with 0xFF,
// using defaultPageSize. Callers that need a specific page size construct a
// PageSizedFake instead, which overrides this method.
func (f *Fake) ErasePages(startAddr uint32, nbPages uint32) error {
	return f.erase(startAddr, nbPages, defaultPageSize)
}

// defaultPageSize is used only when a caller invokes the bare Fake without
// wrapping it in PageSizedFake; iap/marker/boot tests always go through
// NewPageSizedFake, so this constant is never exercised in practice.
const defaultPageSize = 2048

func (f *Fake) erase(startAddr uint32, nbPages, pageSize uint32) error {
	f.eraseCalls++
	if f.FailNextErases > 0 {
		f.FailNextErases--
		return ErrEraseFailed
	}
	start := f.offset(startAddr)
	n := int(nbPages * pageSize)
	for i := start; i < start+n && i < len(f.mem); i++ {
		if i >= 0 {
			f.mem[i] = 0xFF
		}
	}
	return nil
}

// ProgramDword writes value (little-endian) at addr, simulating the
// double-word program primitive.
func (f *Fake) ProgramDword(addr uint32, value uint64) error {
	f.programCalls++
	if f.FailNextPrograms > 0 {
		f.FailNextPrograms--
		return ErrWriteFailed
	}
	off := f.offset(addr)
	binary.LittleEndian.PutUint64(f.mem[off:off+8], value)
	return nil
}

// ReadU32 reads a 32-bit little-endian word at addr.
func (f *Fake) ReadU32(addr uint32) uint32 {
	off := f.offset(addr)
	return binary.LittleEndian.Uint32(f.mem[off : off+4])
}

// ReadU64 reads a 64-bit little-endian double-word at addr.
func (f *Fake) ReadU64(addr uint32) uint64 {
	off := f.offset(addr)
	return binary.LittleEndian.Uint64(f.mem[off : off+8])
}

// EraseCalls and ProgramCalls report how many times the respective
// operation was attempted, successful or not — used by tests asserting the
// retry-bound behavior.
func (f *Fake) EraseCalls() int   { return f.eraseCalls }
func (f *Fake) ProgramCalls() int { return f.programCalls }

// PageSizedFake wraps a Fake so ErasePages interprets nbPages against a
// caller-supplied page size instead of defaultPageSize. memmap.Layout
// carries the real page size for a device; tests construct one of these
// alongside a Fake so erase ranges line up with the layout under test.
type PageSizedFake struct {
	*Fake
	PageSize uint32
}

// NewPageSizedFake builds a Fake sized to cover [base, base+size) and
// wraps it so ErasePages erases pageSize-byte pages.
func NewPageSizedFake(base, size, pageSize uint32) *PageSizedFake {
	return &PageSizedFake{Fake: NewFake(base, size), PageSize: pageSize}
}

// ErasePages overrides Fake.ErasePages to use PageSize instead of
// defaultPageSize.
func (f *PageSizedFake) ErasePages(startAddr uint32, nbPages uint32) error {
	return f.erase(startAddr, nbPages, f.PageSize)
}
