//go:build tinygo

// Command iapboot is the resident bootloader image: on reset it consults
// the marker store and either boots the installed application or falls
// into the CAN-driven Protocol Engine superloop waiting for a new image.
// Every dependency is constructed up front and wired into one long-running
// loop, falling back to a halt state on unrecoverable error.
package main

import (
	"log/slog"
	"os"

	"openenterprise/iapcore/boot"
	"openenterprise/iapcore/diagnostics"
	"openenterprise/iapcore/flash"
	"openenterprise/iapcore/iap"
	"openenterprise/iapcore/marker"
	"openenterprise/iapcore/memmap"
	"openenterprise/iapcore/transport"
	"openenterprise/iapcore/version"
)

func main() {
	mem := memmap.STM32L432KC()

	diagLog := diagnostics.New(nil)
	logger := slog.New(diagnostics.NewHandler(slog.NewTextHandler(os.Stderr, nil), diagLog))
	logger.Info("iapboot starting", "version", version.Version, "git_sha", version.GitSHA, "build_marker", version.BuildMarker)

	svc := flash.NewHardware()
	markers := marker.New(svc, mem.MarkerPage, mem.PageSize)
	jumper := boot.HardwareJumper{}

	// A device with a valid installed image jumps straight into it; Decide
	// never returns in that branch on real hardware. A device with no valid
	// marker, or one whose application region fails the stack-pointer
	// sanity check, returns DecisionStayResident and falls through into the
	// Protocol Engine superloop below.
	if d := boot.Decide(svc, markers, diagLog, jumper); d != boot.DecisionStayResident {
		logger.Error("boot.Decide returned unexpectedly for a jump decision, halting")
		for {
		}
	}

	logger.Info("no valid installed image, entering IAP superloop")
	rom := boot.ROMJumpAdapter{FactoryROMBase: mem.FactoryROMBase, Quiesce: boot.QuiesceForFactoryROM, Jumper: jumper}
	resetter := boot.HardwareResetter{}
	runIAPSuperloop(svc, markers, mem, diagLog, boardCANPeripheral(), rom, resetter)
}

// runIAPSuperloop drives the Protocol Engine against peripheral until a CAN
// frame requests the factory ROM or a successful install triggers a system
// reset, neither of which return control here.
func runIAPSuperloop(svc flash.Service, markers *marker.Store, mem memmap.Layout, diagLog *diagnostics.Log, peripheral transport.Peripheral, rom iap.FactoryROMJumper, resetter iap.SystemResetter) {
	bus := transport.NewHardwareBus(peripheral)
	onFatal := func(err error) {
		diagLog.Record(diagnostics.KindRetryExhausted, "transport-fatal")
		for {
		}
	}
	adapter := transport.New(bus, onFatal)
	engine := iap.New(svc, markers, adapter, mem, diagLog, rom, resetter)

	for {
		f, ok := bus.Receive()
		if !ok {
			continue
		}
		transport.Dispatch(f, engine)
	}
}
