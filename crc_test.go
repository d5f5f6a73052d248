// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.

package modbus

import "testing"

func TestChecksum(t *testing.T) {
	if got := Checksum([]byte{0x02, 0x07}); got != 0x1241 {
		t.Fatalf("Checksum = %#04x, want 0x1241", got)
	}
}

// From the worked example in §8 scenario 1: request 01 03 00 6B 00 03 appends
// CRC 74 17 (low byte first on the wire).
func TestChecksumRequestFrame(t *testing.T) {
	req := []byte{0x01, 0x03, 0x00, 0x6B, 0x00, 0x03}
	if got := Checksum(req); got != 0x1774 {
		t.Fatalf("Checksum = %#04x, want 0x1774 (wire bytes 74 17)", got)
	}
}

func TestChecksumResponseFrame(t *testing.T) {
	resp := []byte{0x01, 0x03, 0x06, 0xAE, 0x41, 0x56, 0x52, 0x43, 0x40}
	if got := Checksum(resp); got != 0xAD49 {
		t.Fatalf("Checksum = %#04x, want 0xAD49 (wire bytes 49 AD)", got)
	}
}

func TestCRCIncrementalMatchesOneShot(t *testing.T) {
	data := []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03}
	oneShot := Checksum(data)

	incremental := NewCRC().Update(data[:2]).Update(data[2:4]).Update(data[4:])
	if incremental.Value() != oneShot {
		t.Fatalf("incremental CRC = %#04x, one-shot = %#04x", incremental.Value(), oneShot)
	}
}

// flipping any single byte of a frame's body changes the CRC.
func TestCRCDetectsSingleByteFlip(t *testing.T) {
	base := []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03}
	want := Checksum(base)
	for i := range base {
		for bit := uint(0); bit < 8; bit++ {
			flipped := append([]byte(nil), base...)
			flipped[i] ^= 1 << bit
			if Checksum(flipped) == want {
				t.Fatalf("flipping bit %d of byte %d did not change the CRC", bit, i)
			}
		}
	}
}
