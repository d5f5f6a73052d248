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

import (
	"errors"
	"fmt"
)

// Exception codes a slave may return, or this package's slave dispatcher may generate.
// Only the first four are ever generated by this package's slave dispatcher
// (§4.9); the rest are recognized on responses from third-party slaves.
const (
	ExIllegalFunction                    byte = 0x01
	ExIllegalDataAddress                 byte = 0x02
	ExIllegalDataValue                   byte = 0x03
	ExSlaveDeviceFailure                 byte = 0x04
	ExAcknowledge                        byte = 0x05
	ExSlaveDeviceBusy                    byte = 0x06
	ExMemoryParityError                  byte = 0x08
	ExGatewayPathUnavailable             byte = 0x0A
	ExGatewayTargetDeviceFailedToRespond byte = 0x0B
)

// Exception is returned by master operations when the slave replied with an
// exception PDU, and is what the slave dispatcher composes into the
// exception response it sends back to the master. It implements error.
type Exception struct {
	Function byte // the original (non-exception) function code
	Code     byte // one of the Ex* constants
}

func (e *Exception) Error() string {
	return fmt.Sprintf("modbus: exception %#02x on function %#02x (%s)", e.Code, e.Function, exceptionText(e.Code))
}

func exceptionText(code byte) string {
	switch code {
	case ExIllegalFunction:
		return "illegal function"
	case ExIllegalDataAddress:
		return "illegal data address"
	case ExIllegalDataValue:
		return "illegal data value"
	case ExSlaveDeviceFailure:
		return "slave device failure"
	case ExAcknowledge:
		return "acknowledge"
	case ExSlaveDeviceBusy:
		return "slave device busy"
	case ExMemoryParityError:
		return "memory parity error"
	case ExGatewayPathUnavailable:
		return "gateway path unavailable"
	case ExGatewayTargetDeviceFailedToRespond:
		return "gateway target device failed to respond"
	}
	return "unknown exception"
}

// Sentinel errors for the framing/transport failure paths of §7. A master
// operation that fails this way returns a non-nil err wrapping one of these
// (or the underlying transport error via %w) alongside a zero or nil result,
// never a bare int.
var (
	// ErrTimeout means no byte of a response arrived within the ack timeout
	// (severity 2 in §7). A frame cut short by the byte timeout is reported
	// by the frame or PDU decoder instead.
	ErrTimeout = errors.New("modbus: response timeout")
	// ErrFraming covers CRC mismatch, short frame, DLEN/PID mismatch, or a
	// slave-address mismatch on the response (severity 3 in §7).
	ErrFraming = errors.New("modbus: framing error")
	// ErrMalformedPDU means DecodePDU found a structurally invalid payload
	// for the given (believed-known) function code.
	ErrMalformedPDU = errors.New("modbus: malformed PDU")
	// ErrUnsupportedFunction means the function code is not one this
	// package's PDU codec knows how to decode — distinct from
	// ErrMalformedPDU so the master can tell "unsupported" from "garbled"
	// (spec.md §9 Open Question (b)).
	ErrUnsupportedFunction = errors.New("modbus: unsupported function code")
	// ErrClosed is returned by transport operations performed on a backend
	// that is not open.
	ErrClosed = errors.New("modbus: backend not open")
)
