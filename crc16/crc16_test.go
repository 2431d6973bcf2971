package crc16

import (
	"testing"

	"openenterprise/iapcore/flash"
)

func TestReferenceVectors(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want uint16
	}{
		{"empty", nil, 0x0000},
		{"123456789", []byte("123456789"), 0x31C3},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := UpdateBytes(0, c.data)
			if got != c.want {
				t.Errorf("UpdateBytes(%q) = %#04x, want %#04x", c.data, got, c.want)
			}
		})
	}
}

// TestStreamEqualsBlock checks that folding one byte at a time equals
// folding the full range read back from flash.
func TestStreamEqualsBlock(t *testing.T) {
	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i * 7 % 251)
	}

	streamed := UpdateBytes(0, data)

	const base = 0x08000000
	svc := flash.NewFake(base, uint32(len(data)))
	for i := 0; i+8 <= len(data); i += 8 {
		var word [8]byte
		copy(word[:], data[i:i+8])
		lo := uint64(word[0]) | uint64(word[1])<<8 | uint64(word[2])<<16 | uint64(word[3])<<24
		hi := uint64(word[4]) | uint64(word[5])<<8 | uint64(word[6])<<16 | uint64(word[7])<<24
		if err := svc.ProgramDword(base+uint32(i), lo|(hi<<32)); err != nil {
			t.Fatalf("ProgramDword: %v", err)
		}
	}

	blocked := Range(svc, base, uint32(len(data)))
	if streamed != blocked {
		t.Errorf("streamed CRC %#04x != block CRC %#04x", streamed, blocked)
	}
}
