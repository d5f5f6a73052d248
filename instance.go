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

// Protocol selects the wire framing an Instance uses.
type Protocol int

const (
	ProtocolRTU Protocol = iota
	ProtocolTCP
)

// BroadcastAddress is the slave address (RTU) that every slave accepts but
// none replies to, per §1 Non-goals.
const BroadcastAddress = 0x00

// AcceptAnyAddress lets a TCP slave accept every unit id.
const AcceptAnyAddress = 0xFF

// Instance holds everything a master or slave transaction needs: the
// protocol choice, slave/unit address, transaction-id counter, scratch
// buffers sized to the larger of the RTU and TCP maxima, and the backend it
// talks over. Per §5 it is single-threaded: callers must not invoke two
// operations on the same Instance concurrently.
type Instance struct {
	protocol Protocol
	addr     byte
	backend  Backend
	timeouts Timeouts

	tid uint16 // TCP transaction id counter, monotone mod 2^16

	frameBuf   []byte // sized for the larger of RTUMaxFrameSize/TCPMaxFrameSize
	payloadBuf []byte // at least 252 bytes, for register conversions

	callbacks *Callbacks // slave role only
	log       Logger
}

// NewInstance assembles an Instance over backend. The caller still owns
// calling Connect before issuing any operation.
func NewInstance(protocol Protocol, backend Backend) *Instance {
	return &Instance{
		protocol:   protocol,
		addr:       1,
		backend:    backend,
		timeouts:   DefaultTimeouts(),
		frameBuf:   make([]byte, TCPMaxFrameSize),
		payloadBuf: make([]byte, 252),
		log:        NopLogger{},
	}
}

// Close releases the Instance's backend. It is safe to call more than once.
func (in *Instance) Close() error {
	return in.backend.Close()
}

// Connect ensures the backend is open, per §6's connect-if-needed contract.
func (in *Instance) Connect() error {
	return in.backend.Open()
}

// SetSlaveAddr sets the RTU slave address or TCP unit id used by master
// operations, or the address this Instance's slave dispatcher answers to.
func (in *Instance) SetSlaveAddr(addr byte) {
	in.addr = addr
}

// SlaveAddr returns the currently configured address.
func (in *Instance) SlaveAddr() byte {
	return in.addr
}

// SetProtocol switches the wire framing used by subsequent operations.
func (in *Instance) SetProtocol(p Protocol) {
	in.protocol = p
}

// Protocol returns the currently configured wire framing.
func (in *Instance) Protocol() Protocol {
	return in.protocol
}

// SetTimeouts overrides the ack/byte timeouts used by ReadFrame.
func (in *Instance) SetTimeouts(ack, byteTmo int) {
	in.timeouts = Timeouts{Ack: msToDuration(ack), Byte: msToDuration(byteTmo)}
}

// SetCallbacks installs the slave's data-access callback table (§4.9).
func (in *Instance) SetCallbacks(cb *Callbacks) {
	in.callbacks = cb
}

// SetLogger overrides the Instance's logger; nil restores NopLogger.
func (in *Instance) SetLogger(l Logger) {
	if l == nil {
		l = NopLogger{}
	}
	in.log = l
}

func (in *Instance) nextTID() uint16 {
	in.tid++
	return in.tid
}

func (in *Instance) String() string {
	proto := "RTU"
	if in.protocol == ProtocolTCP {
		proto = "TCP"
	}
	return fmt.Sprintf("modbus.Instance{protocol=%s addr=%d}", proto, in.addr)
}
