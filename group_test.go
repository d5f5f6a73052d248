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
	"reflect"
	"sort"
	"testing"
)

func TestGroupDeviceRegisterWithLogicalContinuityEdgeCases(t *testing.T) {
	tests := []struct {
		name     string
		input    []DeviceRegister
		expected [][]DeviceRegister
	}{
		{
			name:     "Nil input",
			input:    nil,
			expected: [][]DeviceRegister{},
		},
		{
			name:     "Empty input",
			input:    []DeviceRegister{},
			expected: [][]DeviceRegister{},
		},
		{
			name: "Two non-continuous registers, same SlaverId",
			input: []DeviceRegister{
				{SlaverId: 1, ReadAddress: 100, ReadQuantity: 10},
				{SlaverId: 1, ReadAddress: 120, ReadQuantity: 5},
			},
			expected: [][]DeviceRegister{
				{{SlaverId: 1, ReadAddress: 100, ReadQuantity: 10}},
				{{SlaverId: 1, ReadAddress: 120, ReadQuantity: 5}},
			},
		},
		{
			name: "Multiple registers with different SlaverIds",
			input: []DeviceRegister{
				{SlaverId: 1, ReadAddress: 100, ReadQuantity: 10},
				{SlaverId: 2, ReadAddress: 200, ReadQuantity: 5},
				{SlaverId: 1, ReadAddress: 110, ReadQuantity: 5},
				{SlaverId: 2, ReadAddress: 205, ReadQuantity: 3},
			},
			expected: [][]DeviceRegister{
				{
					{SlaverId: 1, ReadAddress: 100, ReadQuantity: 10},
					{SlaverId: 1, ReadAddress: 110, ReadQuantity: 5},
				},
				{
					{SlaverId: 2, ReadAddress: 200, ReadQuantity: 5},
					{SlaverId: 2, ReadAddress: 205, ReadQuantity: 3},
				},
			},
		},
		{
			name: "Input with unsorted ReadAddresses",
			input: []DeviceRegister{
				{SlaverId: 1, ReadAddress: 120, ReadQuantity: 10},
				{SlaverId: 1, ReadAddress: 100, ReadQuantity: 10},
				{SlaverId: 1, ReadAddress: 110, ReadQuantity: 10},
			},
			expected: [][]DeviceRegister{
				{
					{SlaverId: 1, ReadAddress: 100, ReadQuantity: 10},
					{SlaverId: 1, ReadAddress: 110, ReadQuantity: 10},
					{SlaverId: 1, ReadAddress: 120, ReadQuantity: 10},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GroupDeviceRegisterWithLogicalContinuity(tt.input)
			sortGroups(got)
			sortGroups(tt.expected)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("GroupDeviceRegisterWithLogicalContinuity() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func sortGroups(groups [][]DeviceRegister) {
	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			return group[i].ReadAddress < group[j].ReadAddress
		})
	}
	sort.Slice(groups, func(i, j int) bool {
		if len(groups[i]) == 0 || len(groups[j]) == 0 {
			return len(groups[i]) < len(groups[j])
		}
		return groups[i][0].ReadAddress < groups[j][0].ReadAddress
	})
}

func TestMinFunction(t *testing.T) {
	tests := []struct{ a, b, expected int }{
		{5, 10, 5},
		{10, 5, 5},
		{0, 5, 0},
		{-5, 5, -5},
		{5, 5, 5},
	}
	for _, tt := range tests {
		if got := min(tt.a, tt.b); got != tt.expected {
			t.Errorf("min(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.expected)
		}
	}
}

func TestReadGroupSequential(t *testing.T) {
	respPDU := PDU{Function: FuncReadHoldingRegisters, Payload: putRegisters([]uint16{10, 20, 30})}
	respFrame := RTUFrame{Address: 1, PDU: respPDU}
	buf := make([]byte, RTUMaxFrameSize)
	n, err := EncodeRTUFrame(buf, &respFrame, DirResponse)
	if err != nil {
		t.Fatalf("EncodeRTUFrame: %v", err)
	}

	backend := newScriptedBackend(buf[:n])
	defer withFakeClock(backend.fakeBackend)()

	in := NewInstance(ProtocolRTU, backend)
	group := []DeviceRegister{
		{SlaverId: 1, Function: FuncReadHoldingRegisters, ReadAddress: 0, ReadQuantity: 1, Tag: "a"},
		{SlaverId: 1, Function: FuncReadHoldingRegisters, ReadAddress: 1, ReadQuantity: 1, Tag: "b"},
		{SlaverId: 1, Function: FuncReadHoldingRegisters, ReadAddress: 2, ReadQuantity: 1, Tag: "c"},
	}

	result, errs := ReadGroupedDataSequential(in, [][]DeviceRegister{group})
	if len(errs) != 0 {
		t.Fatalf("ReadGroupedDataSequential errors: %v", errs)
	}
	if len(result) != 1 || len(result[0]) != 3 {
		t.Fatalf("result = %v", result)
	}
	for i, want := range []uint16{10, 20, 30} {
		got := getRegisters(result[0][i].Value)
		if len(got) != 1 || got[0] != want {
			t.Fatalf("register %d = %v, want [%d]", i, got, want)
		}
	}
}
