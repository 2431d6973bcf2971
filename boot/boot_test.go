package boot

import (
	"testing"

	"openenterprise/iapcore/diagnostics"
	"openenterprise/iapcore/flash"
	"openenterprise/iapcore/marker"
	"openenterprise/iapcore/memmap"
)

func newStore(t *testing.T) (*marker.Store, *flash.PageSizedFake, memmap.Layout) {
	t.Helper()
	mem := memmap.Test()
	f := flash.NewPageSizedFake(mem.FlashStart, mem.MarkerPage+mem.PageSize-mem.FlashStart, mem.PageSize)
	return marker.New(f, mem.MarkerPage, mem.PageSize), f, mem
}

// writeStackPointer programs a plausible (or deliberately implausible) SP
// value at addr, so tests can control what Decide's sanity check sees.
func writeStackPointer(t *testing.T, f *flash.PageSizedFake, addr, sp uint32) {
	t.Helper()
	hi := f.ReadU32(addr + 4)
	if err := f.ProgramDword(addr, uint64(sp)|(uint64(hi)<<32)); err != nil {
		t.Fatalf("writeStackPointer: %v", err)
	}
}

// With no valid marker, Decide stays resident and never calls the Jumper.
func TestDecide_NoMarkerStaysResident(t *testing.T) {
	store, f, _ := newStore(t)
	j := &RecordingJumper{}

	got := Decide(f, store, diagnostics.New(nil), j)

	if got != DecisionStayResident {
		t.Fatalf("Decide() = %v, want DecisionStayResident", got)
	}
	if len(j.Calls) != 0 {
		t.Errorf("Jumper called %d times, want 0 (no valid image to boot)", len(j.Calls))
	}
}

// Once Finalize has committed a valid marker and the application region
// starts with a plausible SRAM stack pointer, Decide jumps to the
// installed application's vector table address.
func TestDecide_ValidMarkerJumpsToApplication(t *testing.T) {
	store, f, mem := newStore(t)
	if err := store.Finalize(mem.ApplicationAddress); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	writeStackPointer(t, f, mem.ApplicationAddress, 0x20001000)
	j := &RecordingJumper{}

	got := Decide(f, store, diagnostics.New(nil), j)

	if got != DecisionApplication {
		t.Fatalf("Decide() = %v, want DecisionApplication", got)
	}
	if j.Last() != mem.ApplicationAddress {
		t.Errorf("JumpTo target = %#x, want application address %#x", j.Last(), mem.ApplicationAddress)
	}
}

// An erased-but-not-finalized marker (RequestFlag never written) must not
// be mistaken for valid — a partial install stays resident.
func TestDecide_ErasedMarkerIsNotValid(t *testing.T) {
	store, f, _ := newStore(t)
	if err := store.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	j := &RecordingJumper{}

	got := Decide(f, store, diagnostics.New(nil), j)

	if got != DecisionStayResident {
		t.Fatalf("Decide() on erased marker = %v, want DecisionStayResident", got)
	}
}

// A valid marker pointing at an application region whose first word is not
// a plausible SRAM stack pointer (e.g. still erased, 0xFFFFFFFF) must not
// transfer control: this is the guard against a reset landing mid-finalize,
// after RequestFlag commits but before the image itself is fully written.
func TestDecide_ImplausibleStackPointerStaysResident(t *testing.T) {
	store, f, mem := newStore(t)
	if err := store.Finalize(mem.ApplicationAddress); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	// Application region left at its erased value (0xFFFFFFFF) — not a
	// plausible stack pointer.
	j := &RecordingJumper{}

	got := Decide(f, store, diagnostics.New(nil), j)

	if got != DecisionStayResident {
		t.Fatalf("Decide() with implausible SP = %v, want DecisionStayResident", got)
	}
	if len(j.Calls) != 0 {
		t.Errorf("Jumper called %d times, want 0 (implausible SP must not transfer control)", len(j.Calls))
	}
}

// JumpToFactoryROM bypasses the marker entirely, matching the
// PROGRAM_START/STM_BOOTLOADER branch's "host asked explicitly" semantics,
// and quiesces the machine before jumping.
func TestJumpToFactoryROM_IgnoresMarker(t *testing.T) {
	store, _, mem := newStore(t)
	if err := store.Finalize(mem.ApplicationAddress); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	j := &RecordingJumper{}
	quiesced := false

	JumpToFactoryROM(mem, diagnostics.New(nil), func() { quiesced = true }, j)

	if !quiesced {
		t.Errorf("quiesce was not called before the jump")
	}
	if j.Last() != mem.FactoryROMBase {
		t.Errorf("JumpTo target = %#x, want factory ROM base %#x despite a valid marker", j.Last(), mem.FactoryROMBase)
	}
	_ = store.Read() // sanity: store still readable after an unrelated jump request
}

// ROMJumpAdapter lets an iap.Engine trigger the factory ROM jump through
// the no-argument iap.FactoryROMJumper contract, quiescing before it jumps.
func TestROMJumpAdapter(t *testing.T) {
	_, _, mem := newStore(t)
	j := &RecordingJumper{}
	quiesced := false
	adapter := ROMJumpAdapter{FactoryROMBase: mem.FactoryROMBase, Quiesce: func() { quiesced = true }, Jumper: j}

	adapter.JumpToFactoryROM()

	if !quiesced {
		t.Errorf("quiesce was not called before the jump")
	}
	if j.Last() != mem.FactoryROMBase {
		t.Errorf("adapter jumped to %#x, want %#x", j.Last(), mem.FactoryROMBase)
	}
}
