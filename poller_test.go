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
	"sync/atomic"
	"testing"
	"time"
)

// repeatingBackend answers every request/response round trip with the same
// canned response, so a ticker-driven poller can transact against it
// repeatedly without a real Modbus device.
type repeatingBackend struct {
	response  []byte
	delivered int32
}

func (b *repeatingBackend) Open() error  { return nil }
func (b *repeatingBackend) Close() error { return nil }
func (b *repeatingBackend) Flush() error { atomic.StoreInt32(&b.delivered, 0); return nil }

func (b *repeatingBackend) Write(buf []byte) (int, error) {
	atomic.StoreInt32(&b.delivered, 0)
	return len(buf), nil
}

func (b *repeatingBackend) Read(buf []byte) (int, error) {
	if atomic.CompareAndSwapInt32(&b.delivered, 0, 1) {
		return copy(buf, b.response), nil
	}
	return 0, nil
}

func TestModbusDevicePollerWithRTU(t *testing.T) {
	respFrame := RTUFrame{Address: 1, PDU: PDU{Function: FuncReadHoldingRegisters, Payload: putRegisters([]uint16{1, 2, 3, 4, 5})}}
	buf := make([]byte, RTUMaxFrameSize)
	n, err := EncodeRTUFrame(buf, &respFrame, DirResponse)
	if err != nil {
		t.Fatalf("EncodeRTUFrame: %v", err)
	}

	backend := &repeatingBackend{response: buf[:n]}
	in := NewInstance(ProtocolRTU, backend)
	in.SetSlaveAddr(1)
	in.SetTimeouts(20, 5)

	registers := []DeviceRegister{
		{Tag: "reg1", SlaverId: 1, ReadAddress: 0, ReadQuantity: 5, Function: FuncReadHoldingRegisters},
	}

	mgr := NewModbusRegisterManager(10, in)
	if err := mgr.LoadRegisters(registers); err != nil {
		t.Fatalf("LoadRegisters failed: %v", err)
	}

	poller := NewModbusDevicePoller(20 * time.Millisecond)
	poller.AddManager(mgr)

	var dataReceived int32
	var errorReceived int32
	mgr.SetOnData(func(data []DeviceRegister) {
		atomic.AddInt32(&dataReceived, 1)
		if len(data) != 1 {
			t.Errorf("expected 1 register group member, got %d", len(data))
			return
		}
		if len(data[0].Value) == 0 {
			t.Errorf("register %s has empty value", data[0].Tag)
		}
	})
	mgr.SetOnError(func(err error) {
		atomic.AddInt32(&errorReceived, 1)
		t.Errorf("unexpected error: %v", err)
	})

	poller.Start()
	defer poller.Stop()

	time.Sleep(100 * time.Millisecond)

	if atomic.LoadInt32(&dataReceived) == 0 {
		t.Error("expected data callback to be called, but it wasn't")
	}
	if atomic.LoadInt32(&errorReceived) > 0 {
		t.Errorf("expected no errors, but got %d", errorReceived)
	}
}

func TestRegisterSchedulerRejectsDuplicateTags(t *testing.T) {
	backend := &repeatingBackend{}
	in := NewInstance(ProtocolRTU, backend)
	sched := NewRegisterScheduler(in)

	regs := []DeviceRegister{
		{Tag: "dup", SlaverId: 1, ReadAddress: 0, ReadQuantity: 1, Function: FuncReadHoldingRegisters},
		{Tag: "dup", SlaverId: 1, ReadAddress: 1, ReadQuantity: 1, Function: FuncReadHoldingRegisters},
	}
	if err := sched.Load(regs); err == nil {
		t.Fatal("Load: want error for duplicate tag, got nil")
	}
}
