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
	"fmt"
	"io"
	"time"

	goserial "github.com/hootrhino/goserial"
)

// SerialConfig describes the UART parameters needed to open an RTU
// collaborator port (spec.md §6's "Port" abstraction): a device name, a
// baud rate, and the usual 8-N-1-style framing parameters.
type SerialConfig struct {
	Address  string        // e.g. "/dev/ttyUSB0" or "COM3"
	BaudRate int           // e.g. 9600, 19200, 115200
	DataBits int           // usually 8
	StopBits int           // 1 or 2
	Parity   string        // "N", "E", or "O"
	Timeout  time.Duration // read timeout applied by the driver itself
}

// OpenSerialPort opens a UART and returns it as an io.ReadWriteCloser, the
// exact collaborator type NewModbusRTUHandler and NewRTUClientHandler
// expect. This is the only place in the engine that talks to real
// hardware; everywhere else an io.ReadWriteCloser is accepted so tests can
// substitute an in-memory loopback instead.
func OpenSerialPort(cfg SerialConfig) (io.ReadWriteCloser, error) {
	if cfg.Address == "" {
		return nil, &InvalidArgument{Reason: "serial: address must not be empty"}
	}
	if cfg.BaudRate <= 0 {
		return nil, &InvalidArgument{Reason: fmt.Sprintf("serial: invalid baud rate %d", cfg.BaudRate)}
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = 1
	}
	if cfg.Parity == "" {
		cfg.Parity = "N"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}

	port, err := goserial.Open(&goserial.Config{
		Address:  cfg.Address,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, &IoError{Reason: "serial: open failed", Cause: err}
	}
	return port, nil
}
