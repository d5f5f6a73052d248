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
	"time"
)

// Callbacks is the slave's data-access table (§4.9). Every function talks
// to the caller's own register storage; returning an *Exception selects
// the wire exception code, any other non-nil error is reported to the
// master as ExSlaveDeviceFailure. A nil function is equivalent to always
// failing with ExSlaveDeviceFailure, matching "any missing callback
// causes the dispatcher to return 0x04" in §4.9.
type Callbacks struct {
	ReadDisc  func(addr uint16) (bool, error)
	ReadCoil  func(addr uint16) (bool, error)
	WriteCoil func(addr uint16, value bool) error
	ReadInput func(addr uint16) (uint16, error)
	ReadHold  func(addr uint16) (uint16, error)
	WriteHold func(addr uint16, value uint16) error
}

// reopenBackoff is how long Step waits after a failed Open before returning,
// so a tight calling loop doesn't spin on a dead port.
var reopenBackoff = 1000 * time.Millisecond

// Slave runs the dispatch core of §4.8 over an Instance: receive one frame,
// validate, dispatch by function code to Callbacks, and reply.
type Slave struct {
	in *Instance
}

// NewSlave builds a Slave over backend with the given callback table.
func NewSlave(protocol Protocol, backend Backend, cb *Callbacks) *Slave {
	in := NewInstance(protocol, backend)
	in.SetCallbacks(cb)
	return &Slave{in: in}
}

// Instance exposes the underlying Instance so callers can set the address,
// timeouts, or logger before running the dispatch loop.
func (s *Slave) Instance() *Instance {
	return s.in
}

// Step runs one iteration of the receive/dispatch/transmit loop. It never
// returns an error for "no frame this cycle" or for frames silently
// dropped per §4.8. A read failure closes the backend and is returned; a
// failure to encode or write the reply is returned without closing it. The
// caller's loop decides whether/when to retry.
func (s *Slave) Step() error {
	in := s.in

	if err := in.Connect(); err != nil {
		in.log.Warnf("slave: open failed, backing off: %v", err)
		time.Sleep(reopenBackoff)
		return nil
	}

	n, err := ReadFrame(in.backend, in.frameBuf, in.timeouts)
	if err != nil {
		in.log.Errorf("slave: transport failure, closing: %v", err)
		in.backend.Close()
		return err
	}
	if n == 0 {
		return nil // no frame this cycle
	}

	switch in.protocol {
	case ProtocolRTU:
		return s.stepRTU(in.frameBuf[:n], n)
	default:
		return s.stepTCP(in.frameBuf[:n], n)
	}
}

func (s *Slave) stepRTU(buf []byte, n int) error {
	in := s.in
	var frame RTUFrame
	_, err := DecodeRTUFrame(buf, n, &frame, DirRequest)
	if err != nil {
		if errors.Is(err, ErrUnsupportedFunction) {
			if frame.Address != in.addr && frame.Address != BroadcastAddress {
				return nil // address mismatch: silently drop, even for an unsupported function
			}
			return s.replyUnsupportedRTU(frame.Address, frame.PDU.Function)
		}
		return nil // malformed or CRC mismatch: silently drop, per §4.8/§7
	}

	broadcast := frame.Address == BroadcastAddress
	if !broadcast && frame.Address != in.addr {
		return nil // address mismatch: silently drop
	}

	respPDU := s.dispatch(&frame.PDU)
	if broadcast {
		return nil // broadcasts are processed but never answered
	}

	out := RTUFrame{Address: in.addr, PDU: respPDU}
	outN, err := EncodeRTUFrame(in.frameBuf, &out, DirResponse)
	if err != nil {
		return err
	}
	_, err = in.backend.Write(in.frameBuf[:outN])
	return err
}

func (s *Slave) replyUnsupportedRTU(addr, fc byte) error {
	in := s.in
	if addr == BroadcastAddress {
		return nil
	}
	out := RTUFrame{Address: in.addr, PDU: exceptionPDU(fc, ExIllegalFunction)}
	outN, err := EncodeRTUFrame(in.frameBuf, &out, DirResponse)
	if err != nil {
		return err
	}
	_, err = in.backend.Write(in.frameBuf[:outN])
	return err
}

func (s *Slave) stepTCP(buf []byte, n int) error {
	in := s.in
	var frame TCPFrame
	_, err := DecodeTCPFrame(buf, n, &frame, DirRequest)
	if err != nil {
		if errors.Is(err, ErrUnsupportedFunction) {
			if in.addr != AcceptAnyAddress && frame.UnitID != in.addr {
				return nil // unit id mismatch: silently drop, even for an unsupported function
			}
			out := TCPFrame{TransactionID: frame.TransactionID, UnitID: frame.UnitID, PDU: exceptionPDU(frame.PDU.Function, ExIllegalFunction)}
			outN, eerr := EncodeTCPFrame(in.frameBuf, &out, DirResponse)
			if eerr != nil {
				return eerr
			}
			_, err = in.backend.Write(in.frameBuf[:outN])
			return err
		}
		return nil // malformed, bad PID/DLEN: silently drop
	}

	if in.addr != AcceptAnyAddress && frame.UnitID != in.addr {
		return nil
	}

	respPDU := s.dispatch(&frame.PDU)
	out := TCPFrame{TransactionID: frame.TransactionID, UnitID: frame.UnitID, PDU: respPDU}
	outN, err := EncodeTCPFrame(in.frameBuf, &out, DirResponse)
	if err != nil {
		return err
	}
	_, err = in.backend.Write(in.frameBuf[:outN])
	return err
}

// dispatch runs the §4.9 handler for req.Function and returns either a
// successful response PDU or an exception PDU (fc|0x80 + ec).
func (s *Slave) dispatch(req *PDU) PDU {
	cb := s.in.callbacks
	if cb == nil {
		return exceptionPDU(req.Function, ExSlaveDeviceFailure)
	}

	switch req.Function {
	case FuncReadCoils:
		return readBitsHandler(req, cb.ReadCoil)
	case FuncReadDiscreteInputs:
		return readBitsHandler(req, cb.ReadDisc)
	case FuncReadHoldingRegisters:
		return readRegsHandler(req, cb.ReadHold)
	case FuncReadInputRegisters:
		return readRegsHandler(req, cb.ReadInput)
	case FuncWriteSingleCoil:
		return writeSingleCoilHandler(req, cb.WriteCoil)
	case FuncWriteSingleRegister:
		return writeSingleRegisterHandler(req, cb.WriteHold)
	case FuncWriteMultipleCoils:
		return writeMultiCoilsHandler(req, cb.WriteCoil)
	case FuncWriteMultipleRegisters:
		return writeMultiRegistersHandler(req, cb.WriteHold)
	case FuncMaskWriteRegister:
		return maskWriteHandler(req, cb.ReadHold, cb.WriteHold)
	case FuncReadWriteMultipleRegs:
		return readWriteHandler(req, cb.ReadHold, cb.WriteHold)
	default:
		return exceptionPDU(req.Function, ExIllegalFunction)
	}
}

func exceptionPDU(fc, ec byte) PDU {
	return PDU{Function: fc | exceptionBit, ExceptionCode: ec}
}

func codeOf(err error) byte {
	var ex *Exception
	if errors.As(err, &ex) {
		return ex.Code
	}
	return ExSlaveDeviceFailure
}

func readBitsHandler(req *PDU, read func(uint16) (bool, error)) PDU {
	if read == nil {
		return exceptionPDU(req.Function, ExSlaveDeviceFailure)
	}
	bits := make([]bool, req.Quantity)
	for i := range bits {
		v, err := read(req.Address + uint16(i))
		if err != nil {
			return exceptionPDU(req.Function, codeOf(err))
		}
		bits[i] = v
	}
	return PDU{Function: req.Function, Payload: packBits(bits)}
}

func readRegsHandler(req *PDU, read func(uint16) (uint16, error)) PDU {
	if read == nil {
		return exceptionPDU(req.Function, ExSlaveDeviceFailure)
	}
	regs := make([]uint16, req.Quantity)
	for i := range regs {
		v, err := read(req.Address + uint16(i))
		if err != nil {
			return exceptionPDU(req.Function, codeOf(err))
		}
		regs[i] = v
	}
	return PDU{Function: req.Function, Payload: putRegisters(regs)}
}

func writeSingleCoilHandler(req *PDU, write func(uint16, bool) error) PDU {
	if req.Value != 0x0000 && req.Value != 0xFF00 {
		return exceptionPDU(req.Function, ExIllegalDataValue)
	}
	if write == nil {
		return exceptionPDU(req.Function, ExSlaveDeviceFailure)
	}
	if err := write(req.Address, req.Value == 0xFF00); err != nil {
		return exceptionPDU(req.Function, codeOf(err))
	}
	return *req
}

func writeSingleRegisterHandler(req *PDU, write func(uint16, uint16) error) PDU {
	if write == nil {
		return exceptionPDU(req.Function, ExSlaveDeviceFailure)
	}
	if err := write(req.Address, req.Value); err != nil {
		return exceptionPDU(req.Function, codeOf(err))
	}
	return *req
}

func writeMultiCoilsHandler(req *PDU, write func(uint16, bool) error) PDU {
	if write == nil {
		return exceptionPDU(req.Function, ExSlaveDeviceFailure)
	}
	bits := unpackBits(req.Payload, int(req.Quantity))
	for i, bit := range bits {
		if err := write(req.Address+uint16(i), bit); err != nil {
			return exceptionPDU(req.Function, codeOf(err))
		}
	}
	return PDU{Function: req.Function, Address: req.Address, Quantity: req.Quantity}
}

func writeMultiRegistersHandler(req *PDU, write func(uint16, uint16) error) PDU {
	if write == nil {
		return exceptionPDU(req.Function, ExSlaveDeviceFailure)
	}
	regs := getRegisters(req.Payload)
	for i, reg := range regs {
		if err := write(req.Address+uint16(i), reg); err != nil {
			return exceptionPDU(req.Function, codeOf(err))
		}
	}
	return PDU{Function: req.Function, Address: req.Address, Quantity: req.Quantity}
}

// maskWriteHandler implements the §4.9 read-modify-write: no partial state
// is retained if the write fails.
func maskWriteHandler(req *PDU, read func(uint16) (uint16, error), write func(uint16, uint16) error) PDU {
	if read == nil || write == nil {
		return exceptionPDU(req.Function, ExSlaveDeviceFailure)
	}
	current, err := read(req.Address)
	if err != nil {
		return exceptionPDU(req.Function, codeOf(err))
	}
	newVal := (current & req.AndMask) | (req.OrMask &^ req.AndMask)
	if err := write(req.Address, newVal); err != nil {
		return exceptionPDU(req.Function, codeOf(err))
	}
	return *req
}

// readWriteHandler executes the write before the read: if the write
// fails mid-sequence it aborts and returns the exception immediately.
func readWriteHandler(req *PDU, read func(uint16) (uint16, error), write func(uint16, uint16) error) PDU {
	if read == nil || write == nil {
		return exceptionPDU(req.Function, ExSlaveDeviceFailure)
	}
	writeRegs := getRegisters(req.Payload)
	for i, reg := range writeRegs {
		if err := write(req.WriteAddress+uint16(i), reg); err != nil {
			return exceptionPDU(req.Function, codeOf(err))
		}
	}
	readRegs := make([]uint16, req.ReadQuantity)
	for i := range readRegs {
		v, err := read(req.ReadAddress + uint16(i))
		if err != nil {
			return exceptionPDU(req.Function, codeOf(err))
		}
		readRegs[i] = v
	}
	return PDU{Function: req.Function, Payload: putRegisters(readRegs)}
}
