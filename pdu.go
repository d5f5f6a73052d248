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

// Function codes. 0x07 and 0x11 are recognized as valid function codes but
// are never dispatched by the slave core.
const (
	FuncReadCoils              byte = 0x01
	FuncReadDiscreteInputs     byte = 0x02
	FuncReadHoldingRegisters   byte = 0x03
	FuncReadInputRegisters     byte = 0x04
	FuncWriteSingleCoil        byte = 0x05
	FuncWriteSingleRegister    byte = 0x06
	FuncReadExceptionStatus    byte = 0x07
	FuncWriteMultipleCoils     byte = 0x0F
	FuncWriteMultipleRegisters byte = 0x10
	FuncReportSlaveID          byte = 0x11
	FuncMaskWriteRegister      byte = 0x16
	FuncReadWriteMultipleRegs  byte = 0x17

	exceptionBit byte = 0x80
)

// Direction selects which shape of a function code to encode or decode,
// since 0x03, 0x04, 0x10 and 0x17 have different request and response
// layouts.
type Direction int

const (
	DirRequest Direction = iota
	DirResponse
)

// PDU is the tagged-variant payload of a Modbus message, independent of
// framing. Exactly the fields relevant to Function are meaningful; the rest
// carry their zero value.
type PDU struct {
	Function byte // fc, or fc|0x80 for an exception
	Address  uint16
	Quantity uint16
	Value    uint16

	ReadAddress   uint16 // 0x17 only
	ReadQuantity  uint16 // 0x17 only
	WriteAddress  uint16 // 0x17 only
	WriteQuantity uint16 // 0x17 only

	AndMask uint16 // 0x16 only
	OrMask  uint16 // 0x16 only

	Payload       []byte // packed bits or big-endian registers
	ExceptionCode byte
}

// IsException reports whether Function has the exception bit set.
func (p *PDU) IsException() bool {
	return p.Function&exceptionBit != 0
}

// EncodePDU serializes pdu into buf according to dir and returns the number
// of bytes written. buf must hold the encoded PDU; 253 bytes (the largest
// PDU a 256-byte RTU frame can carry) is enough for any PDU within the
// protocol's quantity limits.
func EncodePDU(buf []byte, pdu *PDU, dir Direction) (int, error) {
	switch {
	case pdu.IsException():
		n := putUint8(buf, pdu.Function)
		n += putUint8(buf[n:], pdu.ExceptionCode)
		return n, nil

	case pdu.Function >= FuncReadCoils && pdu.Function <= FuncReadInputRegisters:
		if dir == DirRequest {
			n := putUint8(buf, pdu.Function)
			n += putUint16(buf[n:], pdu.Address)
			n += putUint16(buf[n:], pdu.Quantity)
			return n, nil
		}
		n := putUint8(buf, pdu.Function)
		n += putUint8(buf[n:], byte(len(pdu.Payload)))
		n += copy(buf[n:], pdu.Payload)
		return n, nil

	case pdu.Function == FuncWriteSingleCoil || pdu.Function == FuncWriteSingleRegister:
		n := putUint8(buf, pdu.Function)
		n += putUint16(buf[n:], pdu.Address)
		n += putUint16(buf[n:], pdu.Value)
		return n, nil

	case pdu.Function == FuncWriteMultipleCoils || pdu.Function == FuncWriteMultipleRegisters:
		if dir == DirRequest {
			n := putUint8(buf, pdu.Function)
			n += putUint16(buf[n:], pdu.Address)
			n += putUint16(buf[n:], pdu.Quantity)
			n += putUint8(buf[n:], byte(len(pdu.Payload)))
			n += copy(buf[n:], pdu.Payload)
			return n, nil
		}
		n := putUint8(buf, pdu.Function)
		n += putUint16(buf[n:], pdu.Address)
		n += putUint16(buf[n:], pdu.Quantity)
		return n, nil

	case pdu.Function == FuncMaskWriteRegister:
		n := putUint8(buf, pdu.Function)
		n += putUint16(buf[n:], pdu.Address)
		n += putUint16(buf[n:], pdu.AndMask)
		n += putUint16(buf[n:], pdu.OrMask)
		return n, nil

	case pdu.Function == FuncReadWriteMultipleRegs:
		if dir == DirRequest {
			n := putUint8(buf, pdu.Function)
			n += putUint16(buf[n:], pdu.ReadAddress)
			n += putUint16(buf[n:], pdu.ReadQuantity)
			n += putUint16(buf[n:], pdu.WriteAddress)
			n += putUint16(buf[n:], pdu.WriteQuantity)
			n += putUint8(buf[n:], byte(len(pdu.Payload)))
			n += copy(buf[n:], pdu.Payload)
			return n, nil
		}
		n := putUint8(buf, pdu.Function)
		n += putUint8(buf[n:], byte(len(pdu.Payload)))
		n += copy(buf[n:], pdu.Payload)
		return n, nil
	}

	return 0, fmt.Errorf("modbus: EncodePDU: %w: fc %#02x", ErrUnsupportedFunction, pdu.Function)
}

// DecodePDU parses length bytes of buf into pdu according to dir and returns
// the number of bytes consumed. It returns ErrUnsupportedFunction for a
// function code this codec does not know (distinct from ErrMalformedPDU, so
// a slave dispatcher can tell "unsupported" from "garbled" per §4.3/§9).
func DecodePDU(buf []byte, length int, pdu *PDU, dir Direction) (int, error) {
	if length < 1 {
		return 0, fmt.Errorf("modbus: DecodePDU: %w: empty", ErrMalformedPDU)
	}
	fc := getUint8(buf)
	*pdu = PDU{Function: fc}

	if fc&exceptionBit != 0 {
		if length < 2 {
			return 0, fmt.Errorf("modbus: DecodePDU: %w: short exception", ErrMalformedPDU)
		}
		pdu.ExceptionCode = getUint8(buf[1:])
		return 2, nil
	}

	switch {
	case fc >= FuncReadCoils && fc <= FuncReadInputRegisters:
		if dir == DirRequest {
			if length < 5 {
				return 0, fmt.Errorf("modbus: DecodePDU: %w: short read request", ErrMalformedPDU)
			}
			pdu.Address = getUint16(buf[1:])
			pdu.Quantity = getUint16(buf[3:])
			if !validReadQuantity(fc, pdu.Quantity) {
				return 0, fmt.Errorf("modbus: DecodePDU: %w: quantity %d out of range", ErrMalformedPDU, pdu.Quantity)
			}
			return 5, nil
		}
		if length < 2 {
			return 0, fmt.Errorf("modbus: DecodePDU: %w: short read response", ErrMalformedPDU)
		}
		bc := int(getUint8(buf[1:]))
		if length < 2+bc {
			return 0, fmt.Errorf("modbus: DecodePDU: %w: byte count exceeds frame", ErrMalformedPDU)
		}
		if (fc == FuncReadHoldingRegisters || fc == FuncReadInputRegisters) && bc%2 != 0 {
			return 0, fmt.Errorf("modbus: DecodePDU: %w: odd register byte count", ErrMalformedPDU)
		}
		pdu.Payload = append([]byte(nil), buf[2:2+bc]...)
		return 2 + bc, nil

	case fc == FuncWriteSingleCoil || fc == FuncWriteSingleRegister:
		if length < 5 {
			return 0, fmt.Errorf("modbus: DecodePDU: %w: short write-single", ErrMalformedPDU)
		}
		pdu.Address = getUint16(buf[1:])
		pdu.Value = getUint16(buf[3:])
		return 5, nil

	case fc == FuncWriteMultipleCoils || fc == FuncWriteMultipleRegisters:
		if dir == DirRequest {
			if length < 6 {
				return 0, fmt.Errorf("modbus: DecodePDU: %w: short write-multi request", ErrMalformedPDU)
			}
			pdu.Address = getUint16(buf[1:])
			pdu.Quantity = getUint16(buf[3:])
			bc := int(getUint8(buf[5:]))
			if length < 6+bc {
				return 0, fmt.Errorf("modbus: DecodePDU: %w: byte count exceeds frame", ErrMalformedPDU)
			}
			want := byteCount(pdu.Quantity)
			if fc == FuncWriteMultipleRegisters {
				want = 2 * int(pdu.Quantity)
			}
			if bc != want {
				return 0, fmt.Errorf("modbus: DecodePDU: %w: byte count %d, want %d", ErrMalformedPDU, bc, want)
			}
			pdu.Payload = append([]byte(nil), buf[6:6+bc]...)
			return 6 + bc, nil
		}
		if length < 5 {
			return 0, fmt.Errorf("modbus: DecodePDU: %w: short write-multi response", ErrMalformedPDU)
		}
		pdu.Address = getUint16(buf[1:])
		pdu.Quantity = getUint16(buf[3:])
		return 5, nil

	case fc == FuncMaskWriteRegister:
		if length < 7 {
			return 0, fmt.Errorf("modbus: DecodePDU: %w: short mask-write", ErrMalformedPDU)
		}
		pdu.Address = getUint16(buf[1:])
		pdu.AndMask = getUint16(buf[3:])
		pdu.OrMask = getUint16(buf[5:])
		return 7, nil

	case fc == FuncReadWriteMultipleRegs:
		if dir == DirRequest {
			if length < 10 {
				return 0, fmt.Errorf("modbus: DecodePDU: %w: short read-write request", ErrMalformedPDU)
			}
			pdu.ReadAddress = getUint16(buf[1:])
			pdu.ReadQuantity = getUint16(buf[3:])
			pdu.WriteAddress = getUint16(buf[5:])
			pdu.WriteQuantity = getUint16(buf[7:])
			bc := int(getUint8(buf[9:]))
			if length < 10+bc {
				return 0, fmt.Errorf("modbus: DecodePDU: %w: byte count exceeds frame", ErrMalformedPDU)
			}
			if bc != 2*int(pdu.WriteQuantity) {
				return 0, fmt.Errorf("modbus: DecodePDU: %w: byte count %d, want %d", ErrMalformedPDU, bc, 2*int(pdu.WriteQuantity))
			}
			pdu.Payload = append([]byte(nil), buf[10:10+bc]...)
			return 10 + bc, nil
		}
		if length < 2 {
			return 0, fmt.Errorf("modbus: DecodePDU: %w: short read-write response", ErrMalformedPDU)
		}
		bc := int(getUint8(buf[1:]))
		if length < 2+bc || bc%2 != 0 {
			return 0, fmt.Errorf("modbus: DecodePDU: %w: bad byte count", ErrMalformedPDU)
		}
		pdu.Payload = append([]byte(nil), buf[2:2+bc]...)
		return 2 + bc, nil
	}

	return 0, fmt.Errorf("modbus: DecodePDU: %w: fc %#02x", ErrUnsupportedFunction, fc)
}

func validReadQuantity(fc byte, qty uint16) bool {
	if qty == 0 {
		return false
	}
	if fc == FuncReadCoils || fc == FuncReadDiscreteInputs {
		return qty <= 2000
	}
	return qty <= 125
}
