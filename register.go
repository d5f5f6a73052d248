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
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// DeviceRegister names one value to poll from a slave: which function and
// address to read it with, how to decode the raw bytes once read, and where
// the decoded value and any per-read failure get recorded. A poll cycle
// overwrites Value and Status in place; the rest describes the register and
// is set once when the register map is loaded (typically from CSV, see
// LoadRegistersCSV).
type DeviceRegister struct {
	UUID         string  `json:"uuid"`         // catalog identifier, stable across register map reloads
	Tag          string  `json:"tag"`          // unique key used to address this register within a poll group
	Alias        string  `json:"alias"`        // human-readable label for dashboards/logs
	SlaverId     uint8   `json:"slaverId"`     // Modbus slave/unit id to read from
	Function     uint8   `json:"function"`     // Modbus function code (e.g., 3 for Read Holding Registers)
	ReadAddress  uint16  `json:"readAddress"`  // starting register address
	ReadQuantity uint16  `json:"readQuantity"` // number of 16-bit registers the read spans
	DataType     string  `json:"dataType"`     // decode target, e.g. uint16, int32, float32, uint16[4]
	DataOrder    string  `json:"dataOrder"`    // byte order applied before decoding, e.g. ABCD, DCBA
	BitPosition  uint16  `json:"bitPosition"`  // bit index read by a "bool" DataType
	BitMask      uint16  `json:"bitMask"`      // mask applied by a "bitfield" DataType
	Weight       float64 `json:"weight"`       // scaling factor applied to the decoded numeric value
	Frequency    uint64  `json:"frequency"`    // informational poll cadence in milliseconds, for callers scheduling per-register
	Value        []byte  `json:"value"`        // raw bytes from the most recent successful read
	Status       string  `json:"status"`       // outcome of the most recent read/decode, set by the grouping layer
}

// CalculateReadQuantity calculates the ReadQuantity based on the DataType
func (r *DeviceRegister) CalculateReadQuantity() (uint16, error) {
	baseType, count, err := parseArrayType(r.DataType)
	if err != nil {
		return 0, err
	}

	requiredBytesPerElement, err := getRequiredBytes(baseType)
	if err != nil {
		return 0, err
	}

	// Calculate required number of registers (each register is 2 bytes)
	r.ReadQuantity = uint16(count * (requiredBytesPerElement / 2))
	return r.ReadQuantity, nil
}

// DecodeValue decodes the raw register value based on its data type
// Supports both single values and arrays (e.g., uint16[10], float32[5])
func (r DeviceRegister) DecodeValue() (DecodedValue, error) {
	// Initialize result with raw value
	result := DecodedValue{
		Raw:  r.Value,
		Type: r.DataType,
	}

	// Handle empty value case
	if len(r.Value) == 0 {
		return result, fmt.Errorf("empty value for register %s", r.Tag)
	}

	// Parse data type to get base type and count
	baseType, count, err := parseArrayType(r.DataType)
	if err != nil {
		return result, fmt.Errorf("invalid data type %s for register %s: %w", r.DataType, r.Tag, err)
	}

	// Get required bytes per element
	requiredBytesPerElement, err := getRequiredBytes(baseType)
	if err != nil {
		return result, fmt.Errorf("unsupported base type %s for register %s: %w", baseType, r.Tag, err)
	}

	// Auto-calculate array length if needed
	if count == 0 {
		if requiredBytesPerElement == 0 {
			return result, fmt.Errorf("cannot auto-calculate array length for variable-length type %s", baseType)
		}
		totalBytes := int(r.ReadQuantity) * 2 // Each register is 2 bytes
		count = totalBytes / requiredBytesPerElement
		if count <= 0 {
			return result, fmt.Errorf("ReadQuantity %d too small for %s[] (need at least %d bytes)",
				r.ReadQuantity, baseType, requiredBytesPerElement)
		}
	}

	// Validate data length for non-string types
	if baseType != "string" {
		totalRequired := requiredBytesPerElement * count
		if len(r.Value) < totalRequired {
			return result, fmt.Errorf("insufficient data for %s[%d]: have %d bytes, need %d",
				baseType, count, len(r.Value), totalRequired)
		}
	}

	// Handle array types
	if count > 1 {
		return r.decodeArrayValue(result, baseType, count, requiredBytesPerElement)
	}

	// Handle single value types
	return r.decodeSingleValue(result, baseType)
}

// decodeArrayValue handles decoding of array types
func (r DeviceRegister) decodeArrayValue(result DecodedValue, baseType string, count, bytesPerElement int) (DecodedValue, error) {
	kind, ok := elementKinds[baseType]
	if !ok {
		return result, fmt.Errorf("unsupported base type: %s", baseType)
	}

	values := reflect.MakeSlice(reflect.SliceOf(kind.reflectType), 0, count)
	var sum float64

	for i := 0; i < count; i++ {
		offset := i * bytesPerElement

		// Bounds check
		if offset+bytesPerElement > len(r.Value) {
			return result, fmt.Errorf("array element %d out of bounds for %s[%d]", i, baseType, count)
		}

		// Get element bytes and reorder if necessary
		elementBytes := r.Value[offset : offset+bytesPerElement]
		if len(elementBytes) > 1 {
			elementBytes = reorderBytes(elementBytes, r.DataOrder)
		}

		// Decode element based on base type
		val, err := r.decodeElementValue(elementBytes, baseType)
		if err != nil {
			return result, fmt.Errorf("failed to decode array element %d: %w", i, err)
		}

		values = reflect.Append(values, reflect.ValueOf(val))
		sum += convertToFloat64(val)
	}

	result.AsType = values.Interface()
	result.Float64 = sum * r.Weight
	return result, nil
}

// decodeSingleValue handles decoding of single value types
func (r DeviceRegister) decodeSingleValue(result DecodedValue, baseType string) (DecodedValue, error) {
	// Reorder bytes if necessary
	bytes := r.Value
	if len(bytes) > 1 {
		bytes = reorderBytes(bytes, r.DataOrder)
	}

	// Handle special cases first
	switch baseType {
	case "bitfield":
		return r.decodeBitfield(result, bytes)
	case "bool":
		return r.decodeBool(result, bytes)
	case "string":
		return r.decodeString(result, bytes)
	}

	// Handle numeric types
	val, err := r.decodeElementValue(bytes, baseType)
	if err != nil {
		return result, err
	}

	result.AsType = val
	result.Float64 = convertToFloat64(val) * r.Weight
	return result, nil
}

// elementKind describes one numeric DataType: how many bytes it consumes,
// the reflect.Type decodeArrayValue builds an array of, and how to turn
// already-reordered bytes into a Go value of that type. Keeping these three
// facts in one table instead of three parallel switches is what
// decodeElementValue, decodeArrayValue, and getRequiredBytes all read from.
type elementKind struct {
	size        int
	reflectType reflect.Type
	decode      func([]byte) any
}

var elementKinds = map[string]elementKind{
	"byte":    {1, reflect.TypeOf(uint8(0)), func(b []byte) any { return b[0] }},
	"uint8":   {1, reflect.TypeOf(uint8(0)), func(b []byte) any { return b[0] }},
	"int8":    {1, reflect.TypeOf(int8(0)), func(b []byte) any { return int8(b[0]) }},
	"uint16":  {2, reflect.TypeOf(uint16(0)), func(b []byte) any { return binary.BigEndian.Uint16(b) }},
	"int16":   {2, reflect.TypeOf(int16(0)), func(b []byte) any { return int16(binary.BigEndian.Uint16(b)) }},
	"uint32":  {4, reflect.TypeOf(uint32(0)), func(b []byte) any { return binary.BigEndian.Uint32(b) }},
	"int32":   {4, reflect.TypeOf(int32(0)), func(b []byte) any { return int32(binary.BigEndian.Uint32(b)) }},
	"uint64":  {8, reflect.TypeOf(uint64(0)), func(b []byte) any { return binary.BigEndian.Uint64(b) }},
	"int64":   {8, reflect.TypeOf(int64(0)), func(b []byte) any { return int64(binary.BigEndian.Uint64(b)) }},
	"float32": {4, reflect.TypeOf(float32(0)), func(b []byte) any { return math.Float32frombits(binary.BigEndian.Uint32(b)) }},
	"float64": {8, reflect.TypeOf(float64(0)), func(b []byte) any { return math.Float64frombits(binary.BigEndian.Uint64(b)) }},
}

// decodeElementValue decodes a single element of the given base type
func (r DeviceRegister) decodeElementValue(bytes []byte, baseType string) (any, error) {
	kind, ok := elementKinds[baseType]
	if !ok {
		return nil, fmt.Errorf("unsupported element type: %s", baseType)
	}
	if len(bytes) < kind.size {
		return nil, fmt.Errorf("insufficient bytes for %s: need %d, have %d", baseType, kind.size, len(bytes))
	}
	return kind.decode(bytes), nil
}

// decodeBitfield handles bitfield decoding
func (r DeviceRegister) decodeBitfield(result DecodedValue, bytes []byte) (DecodedValue, error) {
	if len(bytes) < 2 {
		return result, fmt.Errorf("insufficient bytes for bitfield: need 2, have %d", len(bytes))
	}

	val := binary.BigEndian.Uint16(bytes[:2]) & r.BitMask
	result.AsType = val
	result.Float64 = float64(val) * r.Weight
	return result, nil
}

// decodeBool handles boolean decoding
func (r DeviceRegister) decodeBool(result DecodedValue, bytes []byte) (DecodedValue, error) {
	if len(bytes) < 2 {
		return result, fmt.Errorf("insufficient bytes for bool: need 2, have %d", len(bytes))
	}

	val := binary.BigEndian.Uint16(bytes[:2])
	b := CheckBit(val, r.BitPosition)
	result.AsType = b
	result.Float64 = 0.0
	if b {
		result.Float64 = 1.0
	}
	return result, nil
}

// decodeString handles string decoding
func (r DeviceRegister) decodeString(result DecodedValue, bytes []byte) (DecodedValue, error) {
	// Remove null terminators and trim whitespace
	str := string(bytes)
	if nullIndex := strings.IndexByte(str, 0); nullIndex != -1 {
		str = str[:nullIndex]
	}
	str = strings.TrimSpace(str)

	result.AsType = str
	result.Float64 = 0.0
	return result, nil
}

// convertToFloat64 converts various numeric types to float64 for summation
func convertToFloat64(val any) float64 {
	switch v := val.(type) {
	case uint8:
		return float64(v)
	case int8:
		return float64(v)
	case uint16:
		return float64(v)
	case int16:
		return float64(v)
	case uint32:
		return float64(v)
	case int32:
		return float64(v)
	case uint64:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	case float64:
		return v
	default:
		return 0.0
	}
}

// getRequiredBytes returns the byte width DecodeValue needs for dataType.
// "string" is variable-length (0); "bool" and "bitfield" read a full
// register regardless of BitPosition/BitMask, matching the rest of the
// numeric table.
func getRequiredBytes(dataType string) (int, error) {
	switch dataType {
	case "bool", "bitfield":
		return 2, nil
	case "string":
		return 0, nil
	}
	if kind, ok := elementKinds[dataType]; ok {
		return kind.size, nil
	}
	return 0, fmt.Errorf("unknown data type: %s", dataType)
}

// Enhanced parseArrayType with better error handling
func parseArrayType(dataType string) (string, int, error) {
	dataType = strings.TrimSpace(dataType)

	// Check for empty data type
	if dataType == "" {
		return "", 0, fmt.Errorf("empty data type")
	}

	// Check if it's an array type
	if strings.Contains(dataType, "[") && strings.Contains(dataType, "]") {
		// Use regex to extract base type and array length
		re := regexp.MustCompile(`^(\w+)\[(\d+)\]$`)
		matches := re.FindStringSubmatch(dataType)
		if len(matches) != 3 {
			return "", 0, fmt.Errorf("invalid array type format: %s (expected format: type[count])", dataType)
		}

		baseType := matches[1]
		count, err := strconv.Atoi(matches[2])
		if err != nil {
			return "", 0, fmt.Errorf("invalid array length in type %s: %w", dataType, err)
		}

		if count < 0 {
			return "", 0, fmt.Errorf("negative array length in type %s: %d", dataType, count)
		}

		return baseType, count, nil
	}

	// Not an array type, return base type with count 1
	return dataType, 1, nil
}

// Encode Bytes
func (r DeviceRegister) Encode() []byte {
	return r.Value[:]
}

// Decode Bytes
func (r *DeviceRegister) Decode(data []byte) {
	// Make sure r.Value has enough capacity
	if r.Value == nil || cap(r.Value) < len(data) {
		r.Value = make([]byte, len(data))
	} else {
		r.Value = r.Value[:len(data)]
	}
	copy(r.Value, data)
}

// CheckBit checks if a specific bit is set in a uint16 value
func CheckBit(num uint16, index uint16) bool {
	if index > 15 { // uint16 has 16 bits (0-15)
		return false
	}
	mask := uint16(1) << index
	return (num & mask) != 0
}

// reorderBytes reorders the bytes according to the specified byte order
func reorderBytes(data []byte, order string) []byte {
	length := len(data)

	switch order {
	case "A":
		if length >= 1 {
			return data[:1]
		}
	case "AB":
		if length >= 2 {
			return data[:2]
		}
	case "BA":
		if length >= 2 {
			return []byte{data[1], data[0]}
		}
	case "ABCD":
		if length >= 4 {
			return data[:4]
		}
	case "DCBA":
		if length >= 4 {
			return []byte{data[3], data[2], data[1], data[0]}
		}
	case "BADC":
		if length >= 4 {
			return []byte{data[1], data[0], data[3], data[2]}
		}
	case "CDAB":
		if length >= 4 {
			return []byte{data[2], data[3], data[0], data[1]}
		}
	case "ABCDEFGH":
		if length >= 8 {
			return data[:8]
		}
	case "HGFEDCBA":
		if length >= 8 {
			return []byte{data[7], data[6], data[5], data[4], data[3], data[2], data[1], data[0]}
		}
	case "BADCFEHG":
		if length >= 8 {
			return []byte{data[1], data[0], data[3], data[2], data[5], data[4], data[7], data[6]}
		}
	case "GHEFCDAB":
		if length >= 8 {
			return []byte{data[6], data[7], data[4], data[5], data[2], data[3], data[0], data[1]}
		}
	}

	// Default to returning the original data
	return data
}

// registerCSVColumns are the header names LoadRegistersCSV requires, in the
// order a device's register catalog is usually exported in.
var registerCSVColumns = []string{
	"uuid", "tag", "alias", "slaverId", "function",
	"readAddress", "readQuantity", "dataType", "dataOrder",
	"bitPosition", "bitMask", "weight", "frequency",
}

// LoadRegistersCSV reads a register map from a CSV file: one header row
// naming registerCSVColumns, then one data row per DeviceRegister. A
// ReadQuantity of 0 in the file is filled in from DataType via
// CalculateReadQuantity, so a catalog only needs to spell out array widths
// in DataType (e.g. "uint16[4]") rather than twice.
func LoadRegistersCSV(path string) ([]DeviceRegister, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("modbus: open register map %s: %w", path, err)
	}
	defer f.Close()
	return parseRegistersCSV(f)
}

func parseRegistersCSV(r io.Reader) ([]DeviceRegister, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("modbus: read register map: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("modbus: register map needs a header row and at least one data row")
	}

	col := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		col[strings.TrimSpace(h)] = i
	}
	for _, name := range registerCSVColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("modbus: register map missing column %q", name)
		}
	}

	registers := make([]DeviceRegister, 0, len(records)-1)
	for i, row := range records[1:] {
		reg, err := parseRegisterCSVRow(row, col)
		if err != nil {
			return nil, fmt.Errorf("modbus: register map row %d: %w", i+2, err)
		}
		registers = append(registers, reg)
	}
	return registers, nil
}

func parseRegisterCSVRow(row []string, col map[string]int) (DeviceRegister, error) {
	field := func(name string) string {
		if i := col[name]; i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	parseUint := func(name string, bitSize int) (uint64, error) {
		v, err := strconv.ParseUint(field(name), 10, bitSize)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		return v, nil
	}

	slaverID, err := parseUint("slaverId", 8)
	if err != nil {
		return DeviceRegister{}, err
	}
	function, err := parseUint("function", 8)
	if err != nil {
		return DeviceRegister{}, err
	}
	readAddress, err := parseUint("readAddress", 16)
	if err != nil {
		return DeviceRegister{}, err
	}
	readQuantity, err := parseUint("readQuantity", 16)
	if err != nil {
		return DeviceRegister{}, err
	}
	bitPosition, err := parseUint("bitPosition", 16)
	if err != nil {
		return DeviceRegister{}, err
	}
	bitMask, err := parseUint("bitMask", 16)
	if err != nil {
		return DeviceRegister{}, err
	}
	weight, err := strconv.ParseFloat(field("weight"), 64)
	if err != nil {
		return DeviceRegister{}, fmt.Errorf("weight: %w", err)
	}
	frequency, err := parseUint("frequency", 64)
	if err != nil {
		return DeviceRegister{}, fmt.Errorf("frequency: %w", err)
	}

	reg := DeviceRegister{
		UUID:         field("uuid"),
		Tag:          field("tag"),
		Alias:        field("alias"),
		SlaverId:     uint8(slaverID),
		Function:     uint8(function),
		ReadAddress:  uint16(readAddress),
		ReadQuantity: uint16(readQuantity),
		DataType:     field("dataType"),
		DataOrder:    field("dataOrder"),
		BitPosition:  uint16(bitPosition),
		BitMask:      uint16(bitMask),
		Weight:       weight,
		Frequency:    frequency,
	}
	if reg.ReadQuantity == 0 {
		if _, err := reg.CalculateReadQuantity(); err != nil {
			return DeviceRegister{}, fmt.Errorf("readQuantity: %w", err)
		}
	}
	return reg, nil
}

// DecodedValue holds all possible interpretations of a raw Modbus value
type DecodedValue struct {
	Raw     []byte  `json:"raw"`     // Raw value as bytes
	Float64 float64 `json:"float64"` // Value as float64
	Type    string  `json:"type"`    // Type of the value
	AsType  any     `json:"asType"`  // Value as any type
}

