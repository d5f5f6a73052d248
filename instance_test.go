// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.

package modbus

import (
	"testing"
	"time"
)

func TestNewInstanceDefaults(t *testing.T) {
	in := NewInstance(ProtocolRTU, newFakeBackend(time.Millisecond))
	if in.Protocol() != ProtocolRTU {
		t.Fatalf("Protocol() = %v, want ProtocolRTU", in.Protocol())
	}
	if in.SlaveAddr() != 1 {
		t.Fatalf("SlaveAddr() = %d, want 1", in.SlaveAddr())
	}
	if len(in.frameBuf) < TCPMaxFrameSize {
		t.Fatalf("frameBuf too small: %d", len(in.frameBuf))
	}
	if len(in.payloadBuf) < 252 {
		t.Fatalf("payloadBuf too small: %d", len(in.payloadBuf))
	}
}

func TestSetTimeoutsConvertsMilliseconds(t *testing.T) {
	in := NewInstance(ProtocolTCP, newFakeBackend(time.Millisecond))
	in.SetTimeouts(500, 50)
	if in.timeouts.Ack != 500*time.Millisecond {
		t.Fatalf("Ack = %v, want 500ms", in.timeouts.Ack)
	}
	if in.timeouts.Byte != 50*time.Millisecond {
		t.Fatalf("Byte = %v, want 50ms", in.timeouts.Byte)
	}
}

func TestSetSlaveAddrAndProtocol(t *testing.T) {
	in := NewInstance(ProtocolRTU, newFakeBackend(time.Millisecond))
	in.SetSlaveAddr(17)
	in.SetProtocol(ProtocolTCP)
	if in.SlaveAddr() != 17 || in.Protocol() != ProtocolTCP {
		t.Fatalf("got addr=%d protocol=%v", in.SlaveAddr(), in.Protocol())
	}
}

func TestConnectOpensBackend(t *testing.T) {
	fb := newFakeBackend(time.Millisecond)
	in := NewInstance(ProtocolRTU, fb)
	if err := in.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}
