// Command iapflash is the host-side counterpart to cmd/iapboot: it drives
// the CAN wire protocol to install a firmware image, either against a real
// device over a serial-attached CAN adapter or, with -loopback, against an
// in-process Protocol Engine for smoke-testing the protocol without
// hardware. A flag-based CLI wrapping one transport connection and a
// handful of subcommands.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"openenterprise/iapcore/diagnostics"
	"openenterprise/iapcore/flash"
	"openenterprise/iapcore/iap"
	"openenterprise/iapcore/marker"
	"openenterprise/iapcore/memmap"
	"openenterprise/iapcore/transport"
)

func main() {
	firmware := flag.String("firmware", "", "path to the firmware image to install")
	serialPath := flag.String("serial", "", "serial device of a SLCAN-style USB-CAN adapter (e.g. /dev/ttyACM0)")
	baud := flag.Uint("baud", 115200, "serial baud rate")
	loopback := flag.Bool("loopback", false, "run against an in-process Protocol Engine instead of real hardware")
	resetMarkers := flag.Bool("reset-markers", false, "send LOAD_NEW_PROGRAM/RESET_MARKERS and exit")
	factoryROM := flag.Bool("factory-rom", false, "send PROGRAM_START/STM_BOOTLOADER and exit")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *loopback {
		runLoopbackDemo(logger, *firmware)
		return
	}

	if *serialPath == "" {
		fmt.Fprintln(os.Stderr, "usage: iapflash -serial /dev/ttyACM0 -firmware image.bin")
		os.Exit(1)
	}

	bus, err := transport.OpenSerial(*serialPath, uint32(*baud))
	if err != nil {
		logger.Error("open serial", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	client := NewClient(bus, memmap.STM32L432KC())

	switch {
	case *resetMarkers:
		if err := client.ResetMarkers(); err != nil {
			logger.Error("reset markers", "error", err)
			os.Exit(1)
		}
	case *factoryROM:
		client.JumpToFactoryROM()
	case *firmware != "":
		image, err := os.ReadFile(*firmware)
		if err != nil {
			logger.Error("read firmware", "error", err)
			os.Exit(1)
		}
		if err := client.Flash(image); err != nil {
			logger.Error("flash", "error", err)
			os.Exit(1)
		}
		logger.Info("flash complete", "bytes", len(image))
	default:
		fmt.Fprintln(os.Stderr, "usage: iapflash -serial /dev/ttyACM0 {-firmware image.bin | -reset-markers | -factory-rom}")
		os.Exit(1)
	}
}

// noopROMJumper and noopResetter stand in for the sentinel operations
// cmd/iapboot's real hardware implementations perform, since a loopback
// demo has no real ROM or reset to jump to.
type noopROMJumper struct{ logger *slog.Logger }

func (n noopROMJumper) JumpToFactoryROM() { n.logger.Info("loopback: would jump to factory ROM") }

type noopResetter struct{ logger *slog.Logger }

func (n noopResetter) SystemReset() { n.logger.Info("loopback: would issue a system reset") }

// runLoopbackDemo wires a LoopbackBus pair between a real Client and an
// in-process iap.Engine backed by an in-memory flash.Fake, so the wire
// protocol can be exercised end to end without any hardware attached.
func runLoopbackDemo(logger *slog.Logger, firmwarePath string) {
	mem := memmap.Test()
	size := mem.MarkerPage + mem.PageSize - mem.FlashStart
	f := flash.NewPageSizedFake(mem.FlashStart, size, mem.PageSize)
	markers := marker.New(f, mem.MarkerPage, mem.PageSize)
	diag := diagnostics.New(logger)

	deviceSide, hostSide := transport.NewLoopbackPair()
	adapter := transport.New(deviceSide, func(err error) { logger.Error("transport fatal", "error", err) })
	engine := iap.New(f, markers, adapter, mem, diag, noopROMJumper{logger}, noopResetter{logger})

	go func() {
		for {
			if fr, ok := deviceSide.Receive(); ok {
				transport.Dispatch(fr, engine)
			}
		}
	}()

	var image []byte
	if firmwarePath != "" {
		data, err := os.ReadFile(firmwarePath)
		if err != nil {
			logger.Error("read firmware", "error", err)
			os.Exit(1)
		}
		image = data
	} else {
		image = make([]byte, int(mem.FramesPerPage)*8*2)
		for i := range image {
			image[i] = byte(i)
		}
		logger.Info("no -firmware given, flashing a synthetic pattern", "bytes", len(image))
	}

	client := NewClient(hostSide, mem)
	if err := client.Flash(image); err != nil {
		logger.Error("loopback flash failed", "error", err)
		os.Exit(1)
	}

	rec := markers.Read()
	logger.Info("loopback flash complete", "marker_valid", rec.Valid(), "entry_address", rec.EntryAddress)
}
