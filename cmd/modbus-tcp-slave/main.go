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

// Command modbus-tcp-slave is a small demo server: it accepts TCP
// connections and answers Modbus requests against an in-memory register
// map. Run it with `go run ./cmd/modbus-tcp-slave -listen :5502`, then poke
// it with any Modbus TCP master.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openfieldbus/modbus"
)

func main() {
	listen := flag.String("listen", ":5502", "address to listen on")
	unitID := flag.Int("unit-id", 1, "unit id this slave answers to (0xFF accepts any)")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	store := newRegisterStore()

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "modbus-tcp-slave: listen %s: %v\n", *listen, err)
		os.Exit(1)
	}
	log.Infof("modbus-tcp-slave: listening on %s, unit id %d", *listen, *unitID)

	// uptime is exposed as input register 0, incremented once a second,
	// so a master can confirm the server is alive without touching state.
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			store.tickUptime()
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Errorf("modbus-tcp-slave: accept: %v", err)
			continue
		}
		go serveConn(conn, byte(*unitID), store, log)
	}
}

func serveConn(conn net.Conn, unitID byte, store *registerStore, log *logrus.Logger) {
	defer conn.Close()

	backend := modbus.NewAdoptedBackend(conn)
	slave := modbus.NewSlave(modbus.ProtocolTCP, backend, store.callbacks())
	slave.Instance().SetSlaveAddr(unitID)
	slave.Instance().SetLogger(modbus.NewLogrusLogger(log, conn.RemoteAddr().String()))

	for {
		if err := slave.Step(); err != nil {
			log.Infof("modbus-tcp-slave: connection %s closed: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

// registerStore is a fixed-size in-memory register map, the handler object
// for a demo Slave: 1000 holding registers, 1000 coils, and a free-running
// uptime counter exposed as input register 0.
type registerStore struct {
	mu     sync.RWMutex
	holds  [1000]uint16
	coils  [1000]bool
	uptime uint16
}

func newRegisterStore() *registerStore {
	return &registerStore{}
}

func (s *registerStore) tickUptime() {
	s.mu.Lock()
	s.uptime++
	s.mu.Unlock()
}

func (s *registerStore) callbacks() *modbus.Callbacks {
	return &modbus.Callbacks{
		ReadCoil: func(addr uint16) (bool, error) {
			s.mu.RLock()
			defer s.mu.RUnlock()
			if int(addr) >= len(s.coils) {
				return false, &modbus.Exception{Code: modbus.ExIllegalDataAddress}
			}
			return s.coils[addr], nil
		},
		WriteCoil: func(addr uint16, v bool) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			if int(addr) >= len(s.coils) {
				return &modbus.Exception{Code: modbus.ExIllegalDataAddress}
			}
			s.coils[addr] = v
			return nil
		},
		ReadDisc: func(addr uint16) (bool, error) {
			s.mu.RLock()
			defer s.mu.RUnlock()
			if int(addr) >= len(s.coils) {
				return false, &modbus.Exception{Code: modbus.ExIllegalDataAddress}
			}
			return s.coils[addr], nil
		},
		ReadHold: func(addr uint16) (uint16, error) {
			s.mu.RLock()
			defer s.mu.RUnlock()
			if int(addr) >= len(s.holds) {
				return 0, &modbus.Exception{Code: modbus.ExIllegalDataAddress}
			}
			return s.holds[addr], nil
		},
		WriteHold: func(addr uint16, v uint16) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			if int(addr) >= len(s.holds) {
				return &modbus.Exception{Code: modbus.ExIllegalDataAddress}
			}
			s.holds[addr] = v
			return nil
		},
		ReadInput: func(addr uint16) (uint16, error) {
			s.mu.RLock()
			defer s.mu.RUnlock()
			if addr == 0 {
				return s.uptime, nil
			}
			if int(addr) >= len(s.holds) {
				return 0, &modbus.Exception{Code: modbus.ExIllegalDataAddress}
			}
			return s.holds[addr], nil
		},
	}
}
