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
	"sort"
	"sync"
)

// GroupDeviceRegisterWithLogicalContinuity groups device registers by slave
// ID and logical continuity, so a poller can satisfy many DeviceRegisters
// with one ReadCoils/ReadHoldingRegisters transaction per group instead of
// one per register. It calculates ReadQuantity for registers that don't
// have it set, including array data types like uint16[10], float32[5].
func GroupDeviceRegisterWithLogicalContinuity(registers []DeviceRegister) [][]DeviceRegister {
	if len(registers) == 0 {
		return [][]DeviceRegister{}
	}

	regsCopy := make([]DeviceRegister, len(registers))
	copy(regsCopy, registers)

	for i := range regsCopy {
		if regsCopy[i].ReadQuantity == 0 {
			if readQuantity, err := regsCopy[i].CalculateReadQuantity(); err != nil {
				fmt.Printf("Warning: Failed to calculate ReadQuantity for register %s: %v\n", regsCopy[i].Tag, err)
				continue
			} else {
				regsCopy[i].ReadQuantity = readQuantity
			}
		}
	}

	slaverGroups := make(map[uint8][]DeviceRegister)
	for _, reg := range regsCopy {
		if reg.ReadQuantity == 0 {
			fmt.Printf("Warning: Skipping register %s with ReadQuantity=0\n", reg.Tag)
			continue
		}
		slaverGroups[reg.SlaverId] = append(slaverGroups[reg.SlaverId], reg)
	}

	result := make([][]DeviceRegister, 0, len(slaverGroups))

	for _, regs := range slaverGroups {
		if len(regs) == 0 {
			continue
		}

		sort.Slice(regs, func(i, j int) bool {
			if regs[i].Function != regs[j].Function {
				return regs[i].Function < regs[j].Function
			}
			return regs[i].ReadAddress < regs[j].ReadAddress
		})

		functionGroups := make(map[uint8][]DeviceRegister)
		for _, reg := range regs {
			functionGroups[reg.Function] = append(functionGroups[reg.Function], reg)
		}

		for _, funcRegs := range functionGroups {
			if len(funcRegs) == 0 {
				continue
			}

			sort.Slice(funcRegs, func(i, j int) bool {
				return funcRegs[i].ReadAddress < funcRegs[j].ReadAddress
			})

			currentGroup := []DeviceRegister{funcRegs[0]}

			for i := 1; i < len(funcRegs); i++ {
				prev := funcRegs[i-1]
				curr := funcRegs[i]

				expectedNextAddress := prev.ReadAddress + prev.ReadQuantity

				if curr.ReadAddress == expectedNextAddress {
					if canAddToGroup(currentGroup, curr) {
						currentGroup = append(currentGroup, curr)
					} else {
						result = append(result, currentGroup)
						currentGroup = []DeviceRegister{curr}
					}
				} else {
					result = append(result, currentGroup)
					currentGroup = []DeviceRegister{curr}
				}
			}

			if len(currentGroup) > 0 {
				result = append(result, currentGroup)
			}
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if len(result[i]) == 0 || len(result[j]) == 0 {
			return len(result[i]) > len(result[j])
		}
		groupI, groupJ := result[i][0], result[j][0]
		if groupI.SlaverId != groupJ.SlaverId {
			return groupI.SlaverId < groupJ.SlaverId
		}
		if groupI.Function != groupJ.Function {
			return groupI.Function < groupJ.Function
		}
		return groupI.ReadAddress < groupJ.ReadAddress
	})

	return result
}

// canAddToGroup checks whether adding newReg to group would exceed the
// per-function-code quantity limits of §3 (2000 bits, 125 registers).
func canAddToGroup(group []DeviceRegister, newReg DeviceRegister) bool {
	if len(group) == 0 {
		return true
	}

	totalQuantity := uint16(0)
	for _, reg := range group {
		totalQuantity += reg.ReadQuantity
	}
	totalQuantity += newReg.ReadQuantity

	switch newReg.Function {
	case FuncReadCoils, FuncReadDiscreteInputs:
		return totalQuantity <= 2000
	case FuncReadHoldingRegisters, FuncReadInputRegisters:
		return totalQuantity <= 125
	default:
		return totalQuantity <= 125
	}
}

// readGroup issues the one transaction a group needs, against in, after
// pointing in at the group's slave id.
func readGroup(in *Instance, group []DeviceRegister) ([]DeviceRegister, error) {
	if len(group) == 0 {
		return nil, fmt.Errorf("cannot read empty group")
	}
	in.SetSlaveAddr(group[0].SlaverId)
	start := group[0].ReadAddress
	var totalQuantity uint16
	for _, reg := range group {
		totalQuantity += reg.ReadQuantity
	}

	var data any
	var err error
	switch group[0].Function {
	case FuncReadCoils:
		data, err = in.ReadCoils(start, totalQuantity)
	case FuncReadDiscreteInputs:
		data, err = in.ReadDiscreteInputs(start, totalQuantity)
	case FuncReadHoldingRegisters:
		data, err = in.ReadHoldingRegisters(start, totalQuantity)
	case FuncReadInputRegisters:
		data, err = in.ReadInputRegisters(start, totalQuantity)
	default:
		return nil, fmt.Errorf("unsupported Modbus function code: %d", group[0].Function)
	}
	if err != nil {
		return handleReadError(group, err)
	}
	return parseAndUpdateGroup(group, data)
}

func handleReadError(group []DeviceRegister, err error) ([]DeviceRegister, error) {
	for i := range group {
		group[i].Status = fmt.Sprintf("INVALID:%s", err)
	}
	return group, fmt.Errorf("modbus read error (slave %d, addr %d): %w", group[0].SlaverId, group[0].ReadAddress, err)
}

func parseAndUpdateGroup(group []DeviceRegister, data any) ([]DeviceRegister, error) {
	offset := 0
	for i := range group {
		reg := &group[i]
		qty := int(reg.ReadQuantity)
		var err error
		switch reg.Function {
		case FuncReadCoils, FuncReadDiscreteInputs:
			boolData, ok := data.([]bool)
			if !ok {
				return nil, errors.New("invalid data type for coils or discrete inputs")
			}
			err = parseBoolData(reg, boolData, offset, qty)
		case FuncReadHoldingRegisters, FuncReadInputRegisters:
			uint16Data, ok := data.([]uint16)
			if !ok {
				return nil, errors.New("invalid data type for holding or input registers")
			}
			err = parseUint16Data(reg, uint16Data, offset, qty)
		}
		if err != nil {
			return group, err
		}
		offset += qty
	}
	return group, nil
}

func parseBoolData(reg *DeviceRegister, data []bool, offset, qty int) error {
	if offset+qty > len(data) {
		msg := fmt.Sprintf("Data out of bounds for register (SlaverId=%d, ReadAddress=%d, offset=%d, qty=%d, dataLen=%d)",
			reg.SlaverId, reg.ReadAddress, offset, qty, len(data))
		reg.Status = "INVALID:" + msg
		return errors.New(msg)
	}
	reg.Value = make([]byte, qty)
	for j := 0; j < qty; j++ {
		if data[offset+j] {
			reg.Value[j] = 1
		} else {
			reg.Value[j] = 0
		}
	}
	reg.Status = "VALID:OK"
	return nil
}

func parseUint16Data(reg *DeviceRegister, data []uint16, offset, qty int) error {
	if offset+qty > len(data) {
		msg := fmt.Sprintf("Register data out of bounds for register (SlaverId=%d, ReadAddress=%d, offset=%d, qty=%d, dataLen=%d)",
			reg.SlaverId, reg.ReadAddress, offset, qty, len(data))
		reg.Status = "INVALID:" + msg
		return errors.New(msg)
	}
	reg.Value = make([]byte, qty*2)
	for j := 0; j < qty; j++ {
		reg.Value[j*2] = byte(data[offset+j] >> 8)
		reg.Value[j*2+1] = byte(data[offset+j])
	}
	reg.Status = "VALID:OK"
	return nil
}

// ReadGroupedDataConcurrently fans grouped out across a fixed pool of
// Instances, one worker per Instance so no single Instance is ever driven
// from two goroutines at once (§5: an Instance is single-caller by design;
// concurrency here comes from using several independent Instances, not
// from locking one).
func ReadGroupedDataConcurrently(instances []*Instance, grouped [][]DeviceRegister) ([][]DeviceRegister, []error) {
	if len(instances) == 0 {
		return nil, []error{errors.New("modbus: no instances supplied")}
	}

	result := make([][]DeviceRegister, len(grouped))
	type groupError struct {
		groupIndex int
		err        error
	}
	errChan := make(chan groupError, len(grouped))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for _, in := range instances {
		wg.Add(1)
		go func(in *Instance) {
			defer wg.Done()
			for idx := range jobs {
				groupResult, err := readGroup(in, grouped[idx])
				result[idx] = groupResult
				if err != nil {
					errChan <- groupError{idx, err}
				}
			}
		}(in)
	}

	go func() {
		for i := range grouped {
			jobs <- i
		}
		close(jobs)
	}()

	wg.Wait()
	close(errChan)

	errs := make([]error, 0)
	for ge := range errChan {
		errs = append(errs, fmt.Errorf("group %d error: %w", ge.groupIndex, ge.err))
	}
	return result, errs
}

// ReadGroupedDataSequential reads every group in order over a single
// Instance, the simplest case allowed by §5's single-caller contract.
func ReadGroupedDataSequential(in *Instance, grouped [][]DeviceRegister) ([][]DeviceRegister, []error) {
	var result [][]DeviceRegister
	var errs []error
	for _, group := range grouped {
		groupResult, err := readGroup(in, group)
		if err != nil {
			errs = append(errs, err)
		}
		result = append(result, groupResult)
	}
	return result, errs
}
