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
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrInvalidConfig is returned by Config.Verify for any field combination
// that cannot describe a usable Instance.
var ErrInvalidConfig = errors.New("modbus: invalid configuration")

// Config is the JSON-serializable description of one Instance: which
// protocol and role it runs, its timeouts, and the transport-specific
// parameters for whichever of TCP/RTU it selects.
type Config struct {
	Protocol string `json:"protocol"` // "rtu" or "tcp"
	Role     string `json:"role"`     // "master" or "slave"
	SlaveID  int    `json:"slave_id"`

	AckTimeoutMS  int `json:"ack_timeout_ms"`
	ByteTimeoutMS int `json:"byte_timeout_ms"`

	TCP TCPConfig `json:"tcp"`
	RTU SerialConfig `json:"rtu"`
}

// TCPConfig names the remote endpoint for a TCP master Instance.
type TCPConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	DialTimeoutMS  int    `json:"dial_timeout_ms"`
}

// DefaultConfig returns a usable RTU-master configuration, matching the
// spec defaults for the two frame timeouts.
func DefaultConfig() *Config {
	return &Config{
		Protocol:      "rtu",
		Role:          "master",
		SlaveID:       1,
		AckTimeoutMS:  int(DefaultAckTimeout.Milliseconds()),
		ByteTimeoutMS: int(DefaultByteTimeout.Milliseconds()),
		RTU: SerialConfig{
			Address:  "/dev/ttyUSB0",
			BaudRate: 9600,
			DataBits: 8,
			StopBits: 1,
			Parity:   "N",
		},
		TCP: TCPConfig{Host: "127.0.0.1", Port: 502, DialTimeoutMS: 3000},
	}
}

// Verify checks that cfg describes a valid Instance. It returns
// ErrInvalidConfig wrapped with the offending field when it does not.
func (cfg *Config) Verify() error {
	switch cfg.Protocol {
	case "rtu", "tcp":
	default:
		return fmt.Errorf("%w: protocol %q", ErrInvalidConfig, cfg.Protocol)
	}
	switch cfg.Role {
	case "master", "slave":
	default:
		return fmt.Errorf("%w: role %q", ErrInvalidConfig, cfg.Role)
	}
	if cfg.SlaveID < 0 || cfg.SlaveID > 0xFF {
		return fmt.Errorf("%w: slave_id %d out of range", ErrInvalidConfig, cfg.SlaveID)
	}
	if cfg.AckTimeoutMS <= 0 {
		return fmt.Errorf("%w: ack_timeout_ms must be positive", ErrInvalidConfig)
	}
	if cfg.ByteTimeoutMS <= 0 {
		return fmt.Errorf("%w: byte_timeout_ms must be positive", ErrInvalidConfig)
	}
	if cfg.Protocol == "tcp" {
		if cfg.TCP.Host == "" {
			return fmt.Errorf("%w: tcp.host is empty", ErrInvalidConfig)
		}
		if cfg.TCP.Port <= 0 || cfg.TCP.Port > 65535 {
			return fmt.Errorf("%w: tcp.port %d out of range", ErrInvalidConfig, cfg.TCP.Port)
		}
	}
	if cfg.Protocol == "rtu" && cfg.RTU.Address == "" {
		return fmt.Errorf("%w: rtu.address is empty", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig reads and validates a Config from a JSON file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("modbus: read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("modbus: parse config %s: %w", path, err)
	}
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON.
func (cfg *Config) Save(path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("modbus: marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
