// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.

package modbus

import (
	"errors"
	"reflect"
	"testing"
)

// decoding an encoded RTU frame reconstructs it exactly.
func TestRTUFrameRoundTrip(t *testing.T) {
	frame := RTUFrame{Address: 0x11, PDU: PDU{Function: FuncReadHoldingRegisters, Address: 0x6B, Quantity: 3}}
	buf := make([]byte, RTUMaxFrameSize)
	n, err := EncodeRTUFrame(buf, &frame, DirRequest)
	if err != nil {
		t.Fatalf("EncodeRTUFrame: %v", err)
	}
	var got RTUFrame
	consumed, err := DecodeRTUFrame(buf[:n], n, &got, DirRequest)
	if err != nil {
		t.Fatalf("DecodeRTUFrame: %v", err)
	}
	if consumed != n {
		t.Fatalf("consumed %d, want %d", consumed, n)
	}
	if !reflect.DeepEqual(got, frame) {
		t.Fatalf("round trip = %+v, want %+v", got, frame)
	}
}

// Worked example from §8 scenario 1.
func TestRTUFrameScenario1(t *testing.T) {
	frame := RTUFrame{Address: 0x01, PDU: PDU{Function: FuncReadHoldingRegisters, Address: 0x006B, Quantity: 3}}
	buf := make([]byte, RTUMaxFrameSize)
	n, err := EncodeRTUFrame(buf, &frame, DirRequest)
	if err != nil {
		t.Fatalf("EncodeRTUFrame: %v", err)
	}
	want := []byte{0x01, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x74, 0x17}
	if !reflect.DeepEqual(buf[:n], want) {
		t.Fatalf("request = % x, want % x", buf[:n], want)
	}

	resp := RTUFrame{Address: 0x01, PDU: PDU{Function: FuncReadHoldingRegisters, Payload: putRegisters([]uint16{0xAE41, 0x5652, 0x4340})}}
	rn, err := EncodeRTUFrame(buf, &resp, DirResponse)
	if err != nil {
		t.Fatalf("EncodeRTUFrame response: %v", err)
	}
	wantResp := []byte{0x01, 0x03, 0x06, 0xAE, 0x41, 0x56, 0x52, 0x43, 0x40, 0x49, 0xAD}
	if !reflect.DeepEqual(buf[:rn], wantResp) {
		t.Fatalf("response = % x, want % x", buf[:rn], wantResp)
	}
}

// every RTU frame emitted by EncodeRTUFrame satisfies the CRC invariant.
func TestRTUFrameCRCInvariant(t *testing.T) {
	frame := RTUFrame{Address: 0x05, PDU: PDU{Function: FuncWriteSingleCoil, Address: 10, Value: 0xFF00}}
	buf := make([]byte, RTUMaxFrameSize)
	n, err := EncodeRTUFrame(buf, &frame, DirRequest)
	if err != nil {
		t.Fatalf("EncodeRTUFrame: %v", err)
	}
	want := Checksum(buf[:n-2])
	got := uint16(buf[n-2]) | uint16(buf[n-1])<<8
	if got != want {
		t.Fatalf("trailing CRC = %#04x, want %#04x", got, want)
	}
}

func TestDecodeRTUFrameDetectsCorruption(t *testing.T) {
	frame := RTUFrame{Address: 0x11, PDU: PDU{Function: FuncReadHoldingRegisters, Address: 0x6B, Quantity: 3}}
	buf := make([]byte, RTUMaxFrameSize)
	n, _ := EncodeRTUFrame(buf, &frame, DirRequest)
	buf[2] ^= 0xFF
	var got RTUFrame
	_, err := DecodeRTUFrame(buf[:n], n, &got, DirRequest)
	if !errors.Is(err, ErrFraming) {
		t.Fatalf("err = %v, want ErrFraming", err)
	}
}

func TestDecodeRTUFrameTooShort(t *testing.T) {
	_, err := DecodeRTUFrame([]byte{0x01, 0x02, 0x03}, 3, &RTUFrame{}, DirRequest)
	if !errors.Is(err, ErrFraming) {
		t.Fatalf("err = %v, want ErrFraming", err)
	}
}
