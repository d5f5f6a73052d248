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

// TCPHeaderSize is the fixed 7-byte MBAP header: TID(2) PID(2) DLEN(2) UID(1).
const (
	TCPHeaderSize   = 7
	TCPMaxFrameSize = 260
)

// TCPFrame is a decoded Modbus TCP message: its MBAP header plus PDU.
type TCPFrame struct {
	TransactionID uint16
	ProtocolID    uint16 // always 0x0000 on the wire
	UnitID        byte
	PDU           PDU
}

// EncodeTCPFrame writes the MBAP header and PDU into buf, back-patching DLEN
// once the PDU length is known, and returns the total length.
func EncodeTCPFrame(buf []byte, frame *TCPFrame, dir Direction) (int, error) {
	n := putUint16(buf, frame.TransactionID)
	n += putUint16(buf[n:], 0x0000) // PID
	dlenPos := n
	n += 2 // placeholder for DLEN
	n += putUint8(buf[n:], frame.UnitID)

	pn, err := EncodePDU(buf[n:], &frame.PDU, dir)
	if err != nil {
		return 0, err
	}
	n += pn

	putUint16(buf[dlenPos:], uint16(pn+1))
	return n, nil
}

// DecodeTCPFrame reads the MBAP header and delegates the remainder to
// DecodePDU. PID and DLEN mismatches are framing errors per §4.5/I4; callers
// that want address/UID validation do it themselves (policy is optional
// per §7).
func DecodeTCPFrame(buf []byte, length int, frame *TCPFrame, dir Direction) (int, error) {
	if length < TCPHeaderSize+1 {
		return 0, fmt.Errorf("modbus: DecodeTCPFrame: %w: length %d < %d", ErrFraming, length, TCPHeaderSize+1)
	}
	frame.TransactionID = getUint16(buf)
	frame.ProtocolID = getUint16(buf[2:])
	dlen := getUint16(buf[4:])
	frame.UnitID = getUint8(buf[6:])

	if frame.ProtocolID != 0x0000 {
		return 0, fmt.Errorf("modbus: DecodeTCPFrame: %w: PID %#04x != 0", ErrFraming, frame.ProtocolID)
	}
	if int(dlen) != length-TCPHeaderSize+1 {
		return 0, fmt.Errorf("modbus: DecodeTCPFrame: %w: DLEN %d != %d", ErrFraming, dlen, length-TCPHeaderSize+1)
	}

	n, err := DecodePDU(buf[TCPHeaderSize:length], length-TCPHeaderSize, &frame.PDU, dir)
	if err != nil {
		return 0, err
	}
	return TCPHeaderSize + n, nil
}
