//go:build tinygo

package main

import "openenterprise/iapcore/transport"

// boardCANPeripheral returns the concrete transport.Peripheral for the
// target board's CAN controller. Bit timing, filter configuration, and
// mailbox register layout are specific to a given MCU/board pairing and are
// explicitly out of scope here — only the ability to send one frame and
// receive one frame is assumed, provided by whatever board package this
// binary is actually built for. Replace this with a real driver (e.g. a
// bxCAN or FDCAN register wrapper satisfying transport.Peripheral) when
// targeting a specific board.
func boardCANPeripheral() transport.Peripheral {
	panic("iapboot: no board CAN driver wired; supply one satisfying transport.Peripheral")
}
