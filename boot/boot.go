// Package boot decides, at power-up, whether to start the installed
// application or stay resident and run the Protocol Engine, and separately
// performs the explicit "jump to the vendor's factory ROM bootloader" side
// effect the PROGRAM_START/STM_BOOTLOADER command triggers. The one
// hardware-only operation — rebasing the stack pointer and branching into
// another image — sits behind an interface so the decision logic is
// host-testable.
package boot

import (
	"openenterprise/iapcore/diagnostics"
	"openenterprise/iapcore/flash"
	"openenterprise/iapcore/marker"
	"openenterprise/iapcore/memmap"
)

// spMask and spPattern sanity-check a candidate application stack pointer:
// the top bits of a plausible SRAM address must match the device's SRAM
// base pattern. A stack pointer that fails this (e.g. 0xFFFFFFFF, the
// erased-flash pattern) means the application region was never fully
// written, even if the marker record itself looks valid.
const (
	spMask    = 0x2FFE0000
	spPattern = 0x20000000
)

func plausibleStackPointer(sp uint32) bool {
	return sp&spMask == spPattern
}

// Jumper performs the irreversible control-flow handoff to another image:
// load its stack pointer from the first word of its vector table and branch
// to the reset vector at the second word. Never returns on real hardware;
// tests stub it out to observe the call instead.
type Jumper interface {
	JumpTo(vectorTableBase uint32)
}

// Decision records which way Decide chose to go, for logging and tests.
type Decision int

const (
	// DecisionStayResident means no valid installed image was found; the
	// caller must fall through into the Protocol Engine superloop rather
	// than jump anywhere.
	DecisionStayResident Decision = iota
	// DecisionApplication means the installed image's marker was valid and
	// Decide jumped to it.
	DecisionApplication
)

func (d Decision) String() string {
	if d == DecisionApplication {
		return "application"
	}
	return "stay-resident"
}

// Decide reads the marker record. If RequestFlag holds the magic value and
// the first word at EntryAddress looks like a plausible SRAM stack
// pointer, it jumps to the installed application's vector table and
// returns DecisionApplication (a call that, on real hardware, never
// returns to its caller). Otherwise it returns DecisionStayResident
// without jumping anywhere: the resident image stays in its own CAN-driven
// Protocol Engine loop, waiting for a new image.
//
// The stack-pointer check is the last line of defense against a reset that
// lands between committing RequestFlag and finishing a partially-written
// image: a half-erased or half-programmed application region will not, in
// general, happen to start with something that looks like a stack pointer
// in SRAM.
//
// EntryAddress doubles as both the vector-table base (for the initial stack
// pointer) and the source of the reset vector at EntryAddress+4 —
// marker.Store.Finalize's contract always sets EntryAddress equal to the
// application's own vector table address, so that assumption holds without
// an extra check here.
func Decide(svc flash.Service, markers *marker.Store, diag *diagnostics.Log, j Jumper) Decision {
	rec := markers.Read()
	if rec.Valid() {
		sp := svc.ReadU32(rec.EntryAddress)
		if plausibleStackPointer(sp) {
			if diag != nil {
				diag.Record(diagnostics.KindBootDecision, "boot-app")
			}
			j.JumpTo(rec.EntryAddress)
			return DecisionApplication
		}
		if diag != nil {
			diag.Record(diagnostics.KindBootDecision, "implausible-sp")
		}
		return DecisionStayResident
	}
	if diag != nil {
		diag.Record(diagnostics.KindBootDecision, "stay-resident")
	}
	return DecisionStayResident
}

// JumpToFactoryROM jumps straight to the vendor ROM bootloader, bypassing
// the marker check entirely. This is the side effect iap.Engine's
// PROGRAM_START/STM_BOOTLOADER branch triggers: the host has asked
// explicitly for the ROM DFU bootloader, distinct from the automatic
// application-vs-stay-resident choice Decide makes at power-up.
//
// quiesce must leave the machine in the state the ROM bootloader expects
// before control transfers: SysTick stopped, clocks deinitialized, IRQs
// disabled, and every NVIC enable/pending bit cleared, then IRQs
// re-enabled. It runs before JumpTo so nothing interrupts mid-teardown.
func JumpToFactoryROM(mem memmap.Layout, diag *diagnostics.Log, quiesce func(), j Jumper) {
	if diag != nil {
		diag.Record(diagnostics.KindBootDecision, "boot-rom-requested")
	}
	quiesce()
	j.JumpTo(mem.FactoryROMBase)
}
