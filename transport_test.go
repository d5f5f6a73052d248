// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.

package modbus

import (
	"errors"
	"testing"
	"time"
)

// fakeBackend serves scripted chunks of bytes, advancing a fake clock by a
// fixed step on every Read call so the dual-timeout loop in ReadFrame can be
// exercised without real wall-clock waits.
type fakeBackend struct {
	chunks []fakeChunk
	clock  time.Time
	step   time.Duration
}

type fakeChunk struct {
	data []byte // nil/empty means "no data this poll"
}

func newFakeBackend(step time.Duration, chunks ...fakeChunk) *fakeBackend {
	return &fakeBackend{chunks: chunks, clock: time.Unix(0, 0), step: step}
}

func (f *fakeBackend) Open() error  { return nil }
func (f *fakeBackend) Close() error { return nil }
func (f *fakeBackend) Flush() error { return nil }
func (f *fakeBackend) Write(buf []byte) (int, error) {
	return len(buf), nil
}

func (f *fakeBackend) Read(buf []byte) (int, error) {
	f.clock = f.clock.Add(f.step)
	if len(f.chunks) == 0 {
		return 0, nil
	}
	c := f.chunks[0]
	f.chunks = f.chunks[1:]
	return copy(buf, c.data), nil
}

func withFakeClock(f *fakeBackend) func() {
	origNow, origSleep := nowFunc, sleepFunc
	nowFunc = func() time.Time { return f.clock }
	sleepFunc = func(time.Duration) {}
	return func() { nowFunc, sleepFunc = origNow, origSleep }
}

// Scenario 6: a frame delivered as two chunks separated by less than
// byte_tmo_ms is one frame, ended by the silence that follows it.
func TestReadFrameAssemblesSplitFrame(t *testing.T) {
	frame := []byte{0x01, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x74, 0x17}
	fb := newFakeBackend(5*time.Millisecond,
		fakeChunk{frame[:3]},
		fakeChunk{frame[3:]},
		fakeChunk{nil}, // silence, 5ms < byte_tmo (32ms): keep waiting
		fakeChunk{nil}, // further silent polls; elapsed passes byte_tmo
		fakeChunk{nil}, // only on the first poll after the script runs out
		fakeChunk{nil},
		fakeChunk{nil},
		fakeChunk{nil},
	)
	defer withFakeClock(fb)()

	buf := make([]byte, RTUMaxFrameSize)
	n, err := ReadFrame(fb, buf, DefaultTimeouts())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if n != len(frame) {
		t.Fatalf("n = %d, want %d", n, len(frame))
	}
}

func TestReadFrameTimesOutWithNoData(t *testing.T) {
	chunks := make([]fakeChunk, 200)
	fb := newFakeBackend(5*time.Millisecond, chunks...)
	defer withFakeClock(fb)()

	buf := make([]byte, RTUMaxFrameSize)
	n, err := ReadFrame(fb, buf, DefaultTimeouts())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if n != 0 {
		t.Fatalf("n = %d, want 0 on ack timeout", n)
	}
}

type errBackend struct{ err error }

func (e errBackend) Open() error              { return nil }
func (e errBackend) Close() error             { return nil }
func (e errBackend) Flush() error             { return nil }
func (e errBackend) Write(buf []byte) (int, error) { return 0, e.err }
func (e errBackend) Read(buf []byte) (int, error)  { return 0, e.err }

func TestReadFramePropagatesTransportError(t *testing.T) {
	boom := errors.New("boom")
	_, err := ReadFrame(errBackend{boom}, make([]byte, 16), DefaultTimeouts())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestFlushDrainsUntilEmpty(t *testing.T) {
	fb := newFakeBackend(time.Millisecond,
		fakeChunk{[]byte{1, 2, 3}},
		fakeChunk{[]byte{4}},
		fakeChunk{nil},
	)
	if err := Flush(fb); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(fb.chunks) != 0 {
		t.Fatalf("Flush stopped early, %d chunks remain", len(fb.chunks))
	}
}
