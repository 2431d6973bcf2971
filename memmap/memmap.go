// Package memmap holds the flash and CAN memory-map constants for a target
// device. Values are compile-time hardware facts, not deployment secrets, so
// unlike the config package they used to live in they are plain Go values
// rather than //go:embed overrides.
package memmap

// Layout describes the fixed addresses and sizes the IAP core needs to know
// about a particular MCU and its flash bank layout.
type Layout struct {
	// FlashStart is the first address of flash (bank 0 start).
	FlashStart uint32
	// FlashEnd is one past the last addressable flash byte.
	FlashEnd uint32
	// ApplicationAddress is the start of the installed-image region.
	ApplicationAddress uint32
	// MarkerPage is the start of the dedicated marker-store page.
	MarkerPage uint32
	// FactoryROMBase is the entry point of the silicon vendor's ROM bootloader.
	FactoryROMBase uint32
	// PageSize is the hardware erase granularity, in bytes.
	PageSize uint32
	// FramesPerPage is the number of 8-byte CAN frames that fill one page.
	FramesPerPage uint32
}

// ApplicationPages returns the number of flash pages from ApplicationAddress
// to FlashEnd, the range a fresh programming run erases before accepting
// the first frame.
func (l Layout) ApplicationPages() uint32 {
	return (l.FlashEnd - l.ApplicationAddress) / l.PageSize
}

// STM32L432KC returns the memory map of the device the original firmware
// targeted: 256KB of flash in 128 pages of 2KB, application region
// starting at 0x08008000, marker page at 0x0803E000, four pages below the
// end of flash.
func STM32L432KC() Layout {
	return Layout{
		FlashStart:         0x08000000,
		FlashEnd:           0x08040000,
		ApplicationAddress: 0x08008000,
		MarkerPage:         0x0803E000,
		FactoryROMBase:     0x1FFF0000,
		PageSize:           2048,
		FramesPerPage:      250, // 2000 of the 2048-byte page used for data, 8 bytes/frame
	}
}

// Test returns a small synthetic layout for host-side tests: the same
// address scheme as STM32L432KC but with a tiny FramesPerPage so a full
// page can be exercised in a handful of frames instead of 250. PageSize is
// kept equal to FramesPerPage*8, since FramesPerPage must always match the
// hardware page size for a page to seal after exactly one page's worth of
// frames.
func Test() Layout {
	const (
		framesPerPage = 4
		pageSize      = framesPerPage * 8 // 32 bytes/page
		appPages      = 8
	)
	appAddr := uint32(0x08004000)
	return Layout{
		FlashStart:         0x08000000,
		ApplicationAddress: appAddr,
		FlashEnd:           appAddr + appPages*pageSize,
		MarkerPage:         appAddr + appPages*pageSize, // one page past the app region
		FactoryROMBase:     0x1fff0000,
		PageSize:           pageSize,
		FramesPerPage:      framesPerPage,
	}
}
