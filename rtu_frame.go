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

import "fmt"

// RTUMinFrameSize and RTUMaxFrameSize bound the length DecodeRTUFrame
// accepts: at least address + fc + 2 CRC bytes (4), up to 256 total. Every
// supported PDU needs at least one byte after fc, which DecodePDU checks.
const (
	RTUMinFrameSize = 4
	RTUMaxFrameSize = 256
)

// RTUFrame is a decoded RTU frame: the slave address plus its PDU.
type RTUFrame struct {
	Address byte
	PDU     PDU
}

// EncodeRTUFrame writes [address][PDU][CRC-lo][CRC-hi] into buf and returns
// the total length.
func EncodeRTUFrame(buf []byte, frame *RTUFrame, dir Direction) (int, error) {
	n := putUint8(buf, frame.Address)
	pn, err := EncodePDU(buf[n:], &frame.PDU, dir)
	if err != nil {
		return 0, err
	}
	n += pn
	crc := Checksum(buf[:n])
	buf[n] = byte(crc)      // low byte first on the wire
	buf[n+1] = byte(crc >> 8)
	return n + 2, nil
}

// DecodeRTUFrame validates length and CRC, then decodes the interior PDU.
// A CRC mismatch or short frame is a framing error, distinct from a
// malformed PDU inside an otherwise well-framed message.
func DecodeRTUFrame(buf []byte, length int, frame *RTUFrame, dir Direction) (int, error) {
	if length < RTUMinFrameSize {
		return 0, fmt.Errorf("modbus: DecodeRTUFrame: %w: length %d < %d", ErrFraming, length, RTUMinFrameSize)
	}
	if length > RTUMaxFrameSize {
		return 0, fmt.Errorf("modbus: DecodeRTUFrame: %w: length %d > %d", ErrFraming, length, RTUMaxFrameSize)
	}
	want := Checksum(buf[:length-2])
	got := uint16(buf[length-2]) | uint16(buf[length-1])<<8
	if want != got {
		return 0, fmt.Errorf("modbus: DecodeRTUFrame: %w: CRC mismatch (got %#04x, want %#04x)", ErrFraming, got, want)
	}
	frame.Address = getUint8(buf)
	n, err := DecodePDU(buf[1:length-2], length-3, &frame.PDU, dir)
	if err != nil {
		return 0, err
	}
	return 1 + n + 2, nil
}
