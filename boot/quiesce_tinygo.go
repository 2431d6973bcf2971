//go:build tinygo

package boot

import (
	"runtime/volatile"
	"unsafe"

	"device/arm"
)

// Cortex-M system control space registers touched when quiescing the
// machine ahead of a factory ROM jump.
const (
	sysTickCSR = 0xE000E010

	nvicICERBase = 0xE000E180
	nvicICPRBase = 0xE000E280
	nvicBanks    = 5
)

func reg32At(addr uintptr) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Pointer(addr))
}

// QuiesceForFactoryROM stops SysTick, disables every NVIC interrupt line,
// clears all pending interrupts, then re-enables IRQs — the teardown the
// vendor ROM bootloader expects on entry. Interrupts are disabled for the
// duration of the teardown itself so no ISR can fire mid-sequence.
//
// Clock deinitialization is board-specific (RCC register layout varies
// per part) and is not modeled here; a board package wiring a real
// boardCANPeripheral can wrap this function to add its own clock teardown
// before calling it.
func QuiesceForFactoryROM() {
	mask := arm.DisableInterrupts()

	reg32At(sysTickCSR).Set(0)

	for bank := uintptr(0); bank < nvicBanks; bank++ {
		reg32At(nvicICERBase + bank*4).Set(0xFFFFFFFF)
		reg32At(nvicICPRBase + bank*4).Set(0xFFFFFFFF)
	}

	arm.EnableInterrupts(mask)
}
