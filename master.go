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

// transact runs one full master transaction (§4.7): flush stale input,
// serialize and transmit req, receive a frame under the dual timeouts, and
// decode/validate the response. It returns the decoded response PDU or an
// error — never a negated exception code: callers that need the exception
// code use errors.As(&Exception{}).
func (in *Instance) transact(req *PDU) (PDU, error) {
	if err := Flush(in.backend); err != nil {
		return PDU{}, fmt.Errorf("modbus: flush before transmit: %w", err)
	}

	tid := in.nextTID()
	n, err := in.encodeRequest(req, tid)
	if err != nil {
		return PDU{}, err
	}

	wn, err := in.backend.Write(in.frameBuf[:n])
	if err != nil {
		return PDU{}, fmt.Errorf("modbus: transmit: %w", err)
	}
	if wn != n {
		return PDU{}, fmt.Errorf("modbus: transmit: wrote %d of %d bytes", wn, n)
	}

	if in.addr == BroadcastAddress {
		// no slave replies to a broadcast write; succeed on transmit alone
		// instead of blocking in ReadFrame until the dual timeout expires.
		return PDU{}, nil
	}

	rn, err := ReadFrame(in.backend, in.frameBuf, in.timeouts)
	if err != nil {
		return PDU{}, fmt.Errorf("modbus: receive: %w", err)
	}
	if rn == 0 {
		return PDU{}, ErrTimeout
	}

	resp, err := in.decodeResponse(in.frameBuf[:rn], rn, tid)
	if err != nil {
		return PDU{}, err
	}

	if resp.IsException() {
		return resp, &Exception{Function: resp.Function &^ exceptionBit, Code: resp.ExceptionCode}
	}
	return resp, nil
}

func (in *Instance) encodeRequest(req *PDU, tid uint16) (int, error) {
	if in.protocol == ProtocolRTU {
		frame := RTUFrame{Address: in.addr, PDU: *req}
		return EncodeRTUFrame(in.frameBuf, &frame, DirRequest)
	}
	frame := TCPFrame{TransactionID: tid, UnitID: in.addr, PDU: *req}
	return EncodeTCPFrame(in.frameBuf, &frame, DirRequest)
}

func (in *Instance) decodeResponse(buf []byte, length int, tid uint16) (PDU, error) {
	if in.protocol == ProtocolRTU {
		var frame RTUFrame
		if _, err := DecodeRTUFrame(buf, length, &frame, DirResponse); err != nil {
			return PDU{}, err
		}
		if frame.Address != in.addr {
			return PDU{}, fmt.Errorf("modbus: decode response: %w: address %d != %d", ErrFraming, frame.Address, in.addr)
		}
		return frame.PDU, nil
	}
	var frame TCPFrame
	if _, err := DecodeTCPFrame(buf, length, &frame, DirResponse); err != nil {
		return PDU{}, err
	}
	if frame.TransactionID != tid {
		return PDU{}, fmt.Errorf("modbus: decode response: %w: TID %#04x != %#04x", ErrFraming, frame.TransactionID, tid)
	}
	return frame.PDU, nil
}

// ReadCoils reads qty coils starting at addr and returns them decoded into
// bools, MSB-last (LSB-first-within-byte, per §4.1).
func (in *Instance) ReadCoils(addr, qty uint16) ([]bool, error) {
	return in.readBits(FuncReadCoils, addr, qty)
}

// ReadDiscreteInputs reads qty discrete inputs starting at addr.
func (in *Instance) ReadDiscreteInputs(addr, qty uint16) ([]bool, error) {
	return in.readBits(FuncReadDiscreteInputs, addr, qty)
}

func (in *Instance) readBits(fc byte, addr, qty uint16) ([]bool, error) {
	resp, err := in.transact(&PDU{Function: fc, Address: addr, Quantity: qty})
	if err != nil {
		return nil, err
	}
	return unpackBits(resp.Payload, int(qty)), nil
}

// ReadHoldingRegisters reads qty holding registers starting at addr.
func (in *Instance) ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) {
	return in.readRegs(FuncReadHoldingRegisters, addr, qty)
}

// ReadInputRegisters reads qty input registers starting at addr.
func (in *Instance) ReadInputRegisters(addr, qty uint16) ([]uint16, error) {
	return in.readRegs(FuncReadInputRegisters, addr, qty)
}

func (in *Instance) readRegs(fc byte, addr, qty uint16) ([]uint16, error) {
	resp, err := in.transact(&PDU{Function: fc, Address: addr, Quantity: qty})
	if err != nil {
		return nil, err
	}
	return getRegisters(resp.Payload), nil
}

// WriteCoil writes a single coil. value must be true (ON) or false (OFF);
// it is encoded as 0xFF00 / 0x0000 on the wire.
func (in *Instance) WriteCoil(addr uint16, value bool) error {
	wire := uint16(0x0000)
	if value {
		wire = 0xFF00
	}
	_, err := in.transact(&PDU{Function: FuncWriteSingleCoil, Address: addr, Value: wire})
	return err
}

// WriteRegister writes a single holding register.
func (in *Instance) WriteRegister(addr, value uint16) error {
	_, err := in.transact(&PDU{Function: FuncWriteSingleRegister, Address: addr, Value: value})
	return err
}

// WriteCoils writes multiple coils starting at addr and returns the count
// the slave confirmed.
func (in *Instance) WriteCoils(addr uint16, values []bool) (int, error) {
	resp, err := in.transact(&PDU{
		Function: FuncWriteMultipleCoils, Address: addr,
		Quantity: uint16(len(values)), Payload: packBits(values),
	})
	if err != nil {
		return 0, err
	}
	return int(resp.Quantity), nil
}

// WriteRegisters writes multiple holding registers starting at addr and
// returns the count the slave confirmed.
func (in *Instance) WriteRegisters(addr uint16, values []uint16) (int, error) {
	resp, err := in.transact(&PDU{
		Function: FuncWriteMultipleRegisters, Address: addr,
		Quantity: uint16(len(values)), Payload: putRegisters(values),
	})
	if err != nil {
		return 0, err
	}
	return int(resp.Quantity), nil
}

// MaskWriteRegister applies `new = (current AND andMask) OR (orMask AND NOT andMask)`
// to the register at addr.
func (in *Instance) MaskWriteRegister(addr, andMask, orMask uint16) error {
	_, err := in.transact(&PDU{Function: FuncMaskWriteRegister, Address: addr, AndMask: andMask, OrMask: orMask})
	return err
}

// ReadWriteRegisters writes writeValues starting at writeAddr, then reads
// readQty registers starting at readAddr, in a single transaction, and
// returns the read results.
func (in *Instance) ReadWriteRegisters(readAddr, readQty, writeAddr uint16, writeValues []uint16) ([]uint16, error) {
	resp, err := in.transact(&PDU{
		Function:      FuncReadWriteMultipleRegs,
		ReadAddress:   readAddr,
		ReadQuantity:  readQty,
		WriteAddress:  writeAddr,
		WriteQuantity: uint16(len(writeValues)),
		Payload:       putRegisters(writeValues),
	})
	if err != nil {
		return nil, err
	}
	return getRegisters(resp.Payload), nil
}

// exceptionCode extracts the exception code from err if it wraps *Exception.
func exceptionCode(err error) (byte, bool) {
	var ex *Exception
	if errors.As(err, &ex) {
		return ex.Code, true
	}
	return 0, false
}
