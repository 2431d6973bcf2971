package marker

import (
	"testing"

	"openenterprise/iapcore/flash"
)

const (
	testPageAddr = 0x0800f000
	testPageSize = 1024
	testAppAddr  = 0x08004000
)

func newStore() (*Store, *flash.PageSizedFake) {
	f := flash.NewPageSizedFake(testPageAddr, testPageSize, testPageSize)
	return New(f, testPageAddr, testPageSize), f
}

// programOrder wraps a PageSizedFake and records the address of every
// ProgramDword call, so a test can check the order Finalize writes slots in.
type programOrder struct {
	*flash.PageSizedFake
	addrs []uint32
}

func (p *programOrder) ProgramDword(addr uint32, value uint64) error {
	p.addrs = append(p.addrs, addr)
	return p.PageSizedFake.ProgramDword(addr, value)
}

func TestReadBeforeFinalizeIsInvalid(t *testing.T) {
	s, _ := newStore()
	rec := s.Read()
	if rec.Valid() {
		t.Fatalf("fresh marker page reported valid: %+v", rec)
	}
}

func TestFinalizeThenRead(t *testing.T) {
	s, _ := newStore()
	if err := s.Finalize(testAppAddr); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	rec := s.Read()
	if !rec.Valid() {
		t.Fatalf("expected RequestFlag == RequestMagic, got record %+v", rec)
	}
	if rec.EntryAddress != testAppAddr {
		t.Errorf("EntryAddress = %#x, want %#x", rec.EntryAddress, testAppAddr)
	}
}

// TestFinalizeWritesEntryBeforeRequest pins the write ordering: EntryAddress
// must be committed before RequestFlag.
func TestFinalizeWritesEntryBeforeRequest(t *testing.T) {
	f := flash.NewPageSizedFake(testPageAddr, testPageSize, testPageSize)
	order := &programOrder{PageSizedFake: f}
	s := New(order, testPageAddr, testPageSize)
	f.FailNextPrograms = 1 // fail the first ProgramDword call inside Finalize

	err := s.Finalize(testAppAddr)
	if err == nil {
		t.Fatalf("expected Finalize to fail when the first program call fails")
	}

	rec := s.Read()
	if rec.Valid() {
		t.Fatalf("RequestFlag became valid despite the entry-address write failing: %+v", rec)
	}
	if len(order.addrs) == 0 || order.addrs[0] != testPageAddr+offsetEntryAddress {
		t.Errorf("ProgramDword addresses = %#x, want the EntryAddress slot %#x first", order.addrs, testPageAddr+offsetEntryAddress)
	}
}

// TestResetIdempotent checks that resetting an already-reset marker page
// twice in a row produces the same erased record both times.
func TestResetIdempotent(t *testing.T) {
	s, _ := newStore()
	if err := s.Finalize(testAppAddr); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("first Reset: %v", err)
	}
	first := s.Read()
	if err := s.Reset(); err != nil {
		t.Fatalf("second Reset: %v", err)
	}
	second := s.Read()
	if first != second {
		t.Errorf("reset twice produced different records: %+v vs %+v", first, second)
	}
	if first.RequestFlag != 0xFFFFFFFF {
		t.Errorf("RequestFlag after reset = %#x, want erased 0xFFFFFFFF", first.RequestFlag)
	}
}
