// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package modbus

import "encoding/binary"

// putUint8 writes v at buf[0] and returns the number of bytes consumed.
func putUint8(buf []byte, v byte) int {
	buf[0] = v
	return 1
}

// getUint8 reads a byte from buf[0].
func getUint8(buf []byte) byte {
	return buf[0]
}

// putUint16 writes v big-endian (the Modbus wire order) at buf[0:2].
func putUint16(buf []byte, v uint16) int {
	binary.BigEndian.PutUint16(buf, v)
	return 2
}

// getUint16 reads a big-endian uint16 from buf[0:2].
func getUint16(buf []byte) uint16 {
	return binary.BigEndian.Uint16(buf)
}

// byteCount returns the number of bytes needed to hold bitCount bits,
// i.e. ceil(bitCount/8).
func byteCount(bitCount uint16) int {
	return int((bitCount + 7) / 8)
}

// bitmapSet sets or clears bit index i (0-based) in buf, counting from the
// LSB of byte i/8 — the Modbus convention for coil/discrete-input payloads.
func bitmapSet(buf []byte, i int, v bool) {
	byteIdx, bitIdx := i/8, uint(i%8)
	if v {
		buf[byteIdx] |= 1 << bitIdx
	} else {
		buf[byteIdx] &^= 1 << bitIdx
	}
}

// bitmapGet returns bit index i (0-based) from buf.
func bitmapGet(buf []byte, i int) bool {
	byteIdx, bitIdx := i/8, uint(i%8)
	return buf[byteIdx]&(1<<bitIdx) != 0
}

// packBits packs quantity booleans into a freshly allocated byte slice sized
// ceil(quantity/8), LSB-first-within-byte.
func packBits(bits []bool) []byte {
	buf := make([]byte, byteCount(uint16(len(bits))))
	for i, b := range bits {
		if b {
			bitmapSet(buf, i, true)
		}
	}
	return buf
}

// unpackBits unpacks quantity booleans from buf, LSB-first-within-byte.
func unpackBits(buf []byte, quantity int) []bool {
	bits := make([]bool, quantity)
	for i := range bits {
		bits[i] = bitmapGet(buf, i)
	}
	return bits
}

// putRegisters encodes regs as big-endian uint16s into a freshly allocated
// byte slice of length 2*len(regs).
func putRegisters(regs []uint16) []byte {
	buf := make([]byte, 2*len(regs))
	for i, r := range regs {
		putUint16(buf[2*i:], r)
	}
	return buf
}

// getRegisters decodes len(buf)/2 big-endian uint16s from buf.
func getRegisters(buf []byte) []uint16 {
	regs := make([]uint16, len(buf)/2)
	for i := range regs {
		regs[i] = getUint16(buf[2*i:])
	}
	return regs
}
