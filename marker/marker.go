// Package marker implements the Marker Store: the three 32-bit slots in a
// dedicated flash page that tell the Boot Decider whether an installed
// image exists and where its vector table lives.
package marker

import (
	"errors"

	"openenterprise/iapcore/flash"
)

// RequestMagic is the value RequestFlag takes on when a valid installed
// image exists.
const RequestMagic = 0x12345678

// Slot offsets inside the marker page.
const (
	offsetRequestFlag  = 0x00
	offsetProgrammed   = 0x04
	offsetEntryAddress = 0x08
)

// ErrFinalizeFailed is returned when Finalize could not complete the marker
// write sequence (an underlying flash erase or program call exhausted its
// retry bound).
var ErrFinalizeFailed = errors.New("marker: finalize failed")

// Record is the Marker Record entity: the three slots read back as values.
type Record struct {
	RequestFlag  uint32
	Programmed   uint32
	EntryAddress uint32
}

// Valid reports whether RequestFlag holds the magic value that means "a
// valid installed image exists".
func (r Record) Valid() bool { return r.RequestFlag == RequestMagic }

// Store owns the dedicated marker page.
type Store struct {
	flash    flash.Service
	pageAddr uint32
	pageSize uint32
}

// New returns a Store for the marker page at pageAddr, pageSize bytes long.
func New(svc flash.Service, pageAddr, pageSize uint32) *Store {
	return &Store{flash: svc, pageAddr: pageAddr, pageSize: pageSize}
}

// Read reads all three marker slots back directly from flash.
func (s *Store) Read() Record {
	return Record{
		RequestFlag:  s.flash.ReadU32(s.pageAddr + offsetRequestFlag),
		Programmed:   s.flash.ReadU32(s.pageAddr + offsetProgrammed),
		EntryAddress: s.flash.ReadU32(s.pageAddr + offsetEntryAddress),
	}
}

// Reset erases the marker page, leaving all three slots at 0xFFFFFFFF.
// Calling this twice leaves the page erased both times: erase is
// idempotent.
func (s *Store) Reset() error {
	if err := s.flash.ErasePages(s.pageAddr, 1); err != nil {
		return err
	}
	return nil
}

// Finalize commits entryAddr as the installed image's vector table address
// and marks the image valid. EntryAddress is programmed before RequestFlag
// so a reset mid-finalize leaves RequestFlag holding its erased value (not
// the magic) rather than a partially-committed image looking valid.
//
// The reserved Programmed slot is left unprogrammed (stays 0xFFFFFFFF);
// no protocol revision has yet defined its meaning, so Finalize intentionally
// does not touch it.
func (s *Store) Finalize(entryAddr uint32) error {
	if err := s.flash.ErasePages(s.pageAddr, 1); err != nil {
		return ErrFinalizeFailed
	}
	if err := s.flash.ProgramDword(s.pageAddr+offsetEntryAddress, dwordLowKeepHigh(entryAddr)); err != nil {
		return ErrFinalizeFailed
	}
	if err := s.flash.ProgramDword(s.pageAddr+offsetRequestFlag, dwordLowKeepHigh(RequestMagic)); err != nil {
		return ErrFinalizeFailed
	}
	return nil
}

// dwordLowKeepHigh packs v into the low half of a double-word. The program
// granularity is 8 bytes, so writing a slot's low 4 bytes unavoidably
// writes its neighbor's 4 bytes too; the high half is left at the erased
// pattern (0xFFFFFFFF) so a single-slot write never clobbers the adjacent
// reserved slot.
func dwordLowKeepHigh(v uint32) uint64 { return uint64(v) | (uint64(0xFFFFFFFF) << 32) }
