//go:build tinygo

package boot

import "device/arm"

// HardwareResetter issues a Cortex-M system reset, satisfying
// iap.SystemResetter. Used once the Protocol Engine has finished committing
// the marker record for a newly installed image.
type HardwareResetter struct{}

// SystemReset never returns.
func (HardwareResetter) SystemReset() {
	arm.SystemReset()
}
