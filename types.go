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
	"io"
)

// modbusHandlerInfo is the housekeeping slice of ModbusApi: diagnostics and
// configuration that isn't itself a Modbus operation.
type modbusHandlerInfo interface {
	GetLastModbusError() *ModbusError // last ModbusError this handler cached
	GetMode() string                  // "RTU" or "TCP"
	SetLogger(io.Writer)
}

// modbusStandardIO covers the eight standard read/write function codes
// (fc 01-06, 0F, 10), addressed by explicit slave ID since a single handler
// can be shared across devices on the same RTU bus or TCP gateway.
type modbusStandardIO interface {
	ReadCoils(slaveID uint16, startAddress, quantity uint16) ([]bool, error)
	ReadDiscreteInputs(slaveID uint16, startAddress, quantity uint16) ([]bool, error)
	ReadHoldingRegisters(slaveID uint16, startAddress, quantity uint16) ([]uint16, error)
	ReadInputRegisters(slaveID uint16, startAddress, quantity uint16) ([]uint16, error)
	WriteSingleCoil(slaveID uint16, address uint16, value bool) error
	WriteSingleRegister(slaveID uint16, address, value uint16) error
	WriteMultipleCoils(slaveID uint16, startAddress uint16, values []bool) error
	WriteMultipleRegisters(slaveID uint16, startAddress uint16, values []uint16) error
}

// modbusExtendedIO covers the custom/raw escape hatches: arbitrary function
// codes and pre-built PDUs for devices that don't fit the standard codec.
type modbusExtendedIO interface {
	ReadCustomData(funcCode uint16, slaveID uint16, startAddress, quantity uint16) ([]byte, error)
	WriteCustomData(funcCode uint16, slaveID uint16, startAddress uint16, data []byte) error
	ReadRawData([]byte) ([]byte, error)
}

// ModbusApi is the initiator-side facade ModbusHandler (handler.go)
// implements and poller.go/cmd/modbusctl drive: housekeeping plus the
// standard and extended I/O surfaces.
type ModbusApi interface {
	modbusHandlerInfo
	modbusStandardIO
	modbusExtendedIO
}
