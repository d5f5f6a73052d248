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
	"net"
	"time"
)

// TCPBackend dials a Modbus TCP slave on Open. There is no accept loop here
// (§1 Non-goals); a slave that needs to serve TCP plugs an already-accepted
// net.Conn in through NewAdoptedBackend instead.
type TCPBackend struct {
	addr string
	dial time.Duration
	conn net.Conn
}

// NewTCPBackend returns a Backend that dials addr (host:port) on Open.
func NewTCPBackend(addr string, dialTimeout time.Duration) *TCPBackend {
	return &TCPBackend{addr: addr, dial: dialTimeout}
}

func (b *TCPBackend) Open() error {
	if b.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", b.addr, b.dial)
	if err != nil {
		return fmt.Errorf("modbus: dial %s: %w", b.addr, err)
	}
	b.conn = conn
	return nil
}

func (b *TCPBackend) Close() error {
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

func (b *TCPBackend) Read(buf []byte) (int, error) {
	if b.conn == nil {
		return 0, ErrClosed
	}
	b.conn.SetReadDeadline(time.Now().Add(pollQuantum))
	n, err := b.conn.Read(buf)
	if err != nil {
		if isTimeoutErr(err) {
			return n, nil
		}
		return n, fmt.Errorf("modbus: tcp read: %w", err)
	}
	return n, nil
}

func (b *TCPBackend) Write(buf []byte) (int, error) {
	if b.conn == nil {
		return 0, ErrClosed
	}
	n, err := b.conn.Write(buf)
	if err != nil {
		return n, fmt.Errorf("modbus: tcp write: %w", err)
	}
	return n, nil
}

func (b *TCPBackend) Flush() error {
	return Flush(b)
}

// AdoptedBackend wraps a net.Conn that has already been accepted elsewhere
// (this package has no listener of its own, per §1). Open always succeeds
// immediately, matching the "open may be absent" backend variant of §9.
type AdoptedBackend struct {
	conn net.Conn
}

// NewAdoptedBackend wraps an already-connected socket as a Backend.
func NewAdoptedBackend(conn net.Conn) *AdoptedBackend {
	return &AdoptedBackend{conn: conn}
}

func (a *AdoptedBackend) Open() error {
	if a.conn == nil {
		return errors.New("modbus: adopted backend has no connection")
	}
	return nil
}

func (a *AdoptedBackend) Close() error {
	return a.conn.Close()
}

func (a *AdoptedBackend) Read(buf []byte) (int, error) {
	a.conn.SetReadDeadline(time.Now().Add(pollQuantum))
	n, err := a.conn.Read(buf)
	if err != nil {
		if isTimeoutErr(err) {
			return n, nil
		}
		return n, fmt.Errorf("modbus: adopted read: %w", err)
	}
	return n, nil
}

func (a *AdoptedBackend) Write(buf []byte) (int, error) {
	n, err := a.conn.Write(buf)
	if err != nil {
		return n, fmt.Errorf("modbus: adopted write: %w", err)
	}
	return n, nil
}

func (a *AdoptedBackend) Flush() error {
	return Flush(a)
}
