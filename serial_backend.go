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
	"io"

	goserial "github.com/hootrhino/goserial"
)

// SerialConfig names a serial port and its framing parameters, plus the
// RS-485 direction-control fields that are out of scope for this package
// (§1): it stores them only so a caller's driver-level wrapper around the
// same physical port can read them back; goserial itself toggles DE/RE on
// the underlying UART driver, not through this struct.
type SerialConfig struct {
	Address  string // e.g. "/dev/ttyUSB0" or "COM6"
	BaudRate int
	DataBits int
	StopBits int
	Parity   string // "N", "E", or "O"

	RS485Enabled bool
	RS485DEPin   int
	RS485DELevel bool
}

// SerialBackend adapts a github.com/hootrhino/goserial port to Backend. The
// underlying port is opened with a short fixed read deadline so that Read
// behaves non-blockingly as Backend requires; the dual-timeout framing
// logic of ReadFrame supplies the actual ack/byte timeouts on top.
type SerialBackend struct {
	cfg  SerialConfig
	port io.ReadWriteCloser
}

// NewSerialBackend returns a Backend that will dial cfg.Address on Open.
func NewSerialBackend(cfg SerialConfig) *SerialBackend {
	return &SerialBackend{cfg: cfg}
}

func (s *SerialBackend) Open() error {
	if s.port != nil {
		return nil // idempotent, per §3 Instance lifecycle
	}
	port, err := goserial.Open(&goserial.Config{
		Address:  s.cfg.Address,
		BaudRate: s.cfg.BaudRate,
		DataBits: s.cfg.DataBits,
		StopBits: s.cfg.StopBits,
		Parity:   s.cfg.Parity,
		Timeout:  pollQuantum,
	})
	if err != nil {
		return fmt.Errorf("modbus: open serial %s: %w", s.cfg.Address, err)
	}
	s.port = port
	return nil
}

func (s *SerialBackend) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// Read returns (0, nil) on the port's own read-deadline timeout, since that
// is this backend's form of "no data yet", not a fatal error.
func (s *SerialBackend) Read(buf []byte) (int, error) {
	if s.port == nil {
		return 0, ErrClosed
	}
	n, err := s.port.Read(buf)
	if err != nil {
		if isTimeoutErr(err) || errors.Is(err, io.EOF) && n == 0 {
			return n, nil
		}
		return n, fmt.Errorf("modbus: serial read: %w", err)
	}
	return n, nil
}

func (s *SerialBackend) Write(buf []byte) (int, error) {
	if s.port == nil {
		return 0, ErrClosed
	}
	n, err := s.port.Write(buf)
	if err != nil {
		return n, fmt.Errorf("modbus: serial write: %w", err)
	}
	return n, nil
}

func (s *SerialBackend) Flush() error {
	return Flush(s)
}

type timeouter interface {
	Timeout() bool
}

func isTimeoutErr(err error) bool {
	var t timeouter
	if errors.As(err, &t) {
		return t.Timeout()
	}
	return false
}
