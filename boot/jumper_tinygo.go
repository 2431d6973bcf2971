//go:build tinygo

package boot

import (
	"device/arm"
	"unsafe"
)

// HardwareJumper performs the real control-flow handoff: rebase the main
// stack pointer from the target image's vector table and branch to its
// reset handler.
type HardwareJumper struct{}

// JumpTo never returns: it disables interrupts, loads MSP from
// vectorTableBase, and branches to the reset vector at vectorTableBase+4 —
// the standard Cortex-M "jump to another image" sequence.
func (HardwareJumper) JumpTo(vectorTableBase uint32) {
	arm.DisableInterrupts()

	sp := *(*uint32)(unsafe.Pointer(uintptr(vectorTableBase)))
	resetVector := *(*uint32)(unsafe.Pointer(uintptr(vectorTableBase + 4)))

	arm.AsmFull(
		"msr msp, {sp}\n bx {pc}",
		map[string]interface{}{"sp": sp, "pc": resetVector},
	)
}
