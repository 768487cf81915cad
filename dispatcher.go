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

// Request is a fully-decoded inbound PDU, built by the transport once a
// complete frame has arrived and consumed exactly once by the dispatcher
// (spec.md §3 — it is never stored).
type Request struct {
	UnitAddr     uint8
	Function     uint8
	RegisterAddr uint16
	Quantity     uint16
	Data         []byte
}

// Dispatcher routes a decoded Request to the right bank and operation and
// produces the response PDU bytes, implementing the
// IDLE→PARSING→DISPATCHING→NORMAL_REPLY/EXCEPTION_REPLY state machine of
// spec.md §4.5. It never performs I/O; Dispatch selects the bank and
// operation with a switch on the request's function code.
type Dispatcher struct {
	Store  *Store
	logger Logger
}

// NewDispatcher creates a Dispatcher backed by the given Store.
func NewDispatcher(store *Store) *Dispatcher {
	return &Dispatcher{Store: store, logger: nopLogger{}}
}

// SetLogger installs a logger used to report dispatch exceptions at Warn.
func (d *Dispatcher) SetLogger(l Logger) {
	if l != nil {
		d.logger = l
	}
}

// Dispatch processes one Request and returns the PDU bytes to send back —
// either a normal reply or an exception reply (fc|0x80, code). It never
// returns a Go error: every failure the dispatcher can observe is expressed
// as a Modbus exception PDU, per spec.md's propagation policy ("the codec
// and dispatcher never perform I/O and may only raise InvalidArgument or
// produce a Modbus exception PDU").
func (d *Dispatcher) Dispatch(req *Request) (resp []byte) {
	defer func() {
		if len(resp) == 2 && resp[0]&0x80 != 0 {
			d.logger.Warnf("dispatch: function 0x%02X answered with exception %d (%s)", req.Function, resp[1], getExceptionMessage(resp[1]))
		}
	}()
	switch req.Function {
	case FuncCodeReadCoils:
		return d.dispatchBlockRead(req, d.Store.Coils, true)
	case FuncCodeReadDiscreteInputs:
		return d.dispatchBlockRead(req, d.Store.DiscreteInputs, true)
	case FuncCodeReadHoldingRegisters:
		return d.dispatchBlockRead(req, d.Store.HoldingRegisters, false)
	case FuncCodeReadInputRegisters:
		return d.dispatchBlockRead(req, d.Store.InputRegisters, false)
	case FuncCodeWriteSingleCoil:
		return d.dispatchWriteSingleCoil(req)
	case FuncCodeWriteSingleRegister:
		return d.dispatchWriteSingleRegister(req)
	case FuncCodeWriteMultipleCoils:
		return d.dispatchWriteMultipleCoils(req)
	case FuncCodeWriteMultipleRegisters:
		return d.dispatchWriteMultipleRegisters(req)
	default:
		return exceptionPDU(req.Function, ExceptionCodeIllegalFunction)
	}
}

func exceptionPDU(function uint8, code byte) []byte {
	return []byte{function | 0x80, code}
}

// dispatchBlockRead implements fc 01..04: iterate addr in
// [start, start+quantity), failing the whole request with
// ILLEGAL_DATA_ADDRESS if any address is missing.
func (d *Dispatcher) dispatchBlockRead(req *Request, b *bank, bits bool) []byte {
	if bits {
		if req.Quantity < 1 || req.Quantity > MaxReadBitQuantity {
			return exceptionPDU(req.Function, ExceptionCodeIllegalDataValue)
		}
	} else {
		if req.Quantity < 1 || req.Quantity > MaxReadRegisterQuantity {
			return exceptionPDU(req.Function, ExceptionCodeIllegalDataValue)
		}
	}

	values := make([]uint16, req.Quantity)
	for i := uint16(0); i < req.Quantity; i++ {
		v, err := b.readSingle(req.RegisterAddr + i)
		if err != nil {
			return exceptionPDU(req.Function, ExceptionCodeIllegalDataAddress)
		}
		values[i] = v
	}

	if bits {
		boolValues := make([]bool, req.Quantity)
		for i, v := range values {
			boolValues[i] = v != 0
		}
		packed := packBits(boolValues)
		resp := make([]byte, 2+len(packed))
		resp[0] = req.Function
		resp[1] = byte(len(packed))
		copy(resp[2:], packed)
		return resp
	}

	resp := make([]byte, 2+2*len(values))
	resp[0] = req.Function
	resp[1] = byte(2 * len(values))
	for i, v := range values {
		resp[2+2*i] = byte(v >> 8)
		resp[2+2*i+1] = byte(v)
	}
	return resp
}

// dispatchWriteSingleCoil implements fc 05.
func (d *Dispatcher) dispatchWriteSingleCoil(req *Request) []byte {
	if len(req.Data) < 4 {
		return exceptionPDU(req.Function, ExceptionCodeIllegalDataValue)
	}
	if _, err := d.Store.Coils.readSingle(req.RegisterAddr); err != nil {
		return exceptionPDU(req.Function, ExceptionCodeIllegalDataAddress)
	}
	wireValue := uint16(req.Data[2])<<8 | uint16(req.Data[3])
	var stored uint16
	switch wireValue {
	case CoilOn:
		stored = 1
	case CoilOff:
		stored = 0
	default:
		return exceptionPDU(req.Function, ExceptionCodeIllegalDataValue)
	}
	d.Store.Coils.writeSingle(req.RegisterAddr, stored)
	d.Store.recordChange(BankCoils, req.RegisterAddr, stored)
	return append([]byte{req.Function}, req.Data[:4]...)
}

// dispatchWriteSingleRegister implements fc 06.
func (d *Dispatcher) dispatchWriteSingleRegister(req *Request) []byte {
	if len(req.Data) < 4 {
		return exceptionPDU(req.Function, ExceptionCodeIllegalDataValue)
	}
	if _, err := d.Store.HoldingRegisters.readSingle(req.RegisterAddr); err != nil {
		return exceptionPDU(req.Function, ExceptionCodeIllegalDataAddress)
	}
	value := uint16(req.Data[2])<<8 | uint16(req.Data[3])
	d.Store.HoldingRegisters.writeSingle(req.RegisterAddr, value)
	d.Store.recordChange(BankHoldingRegisters, req.RegisterAddr, value)
	return append([]byte{req.Function}, req.Data[:4]...)
}

// dispatchWriteMultipleCoils implements fc 0F: validated and applied
// atomically — every address is checked present before any write happens.
func (d *Dispatcher) dispatchWriteMultipleCoils(req *Request) []byte {
	if req.Quantity < 1 || req.Quantity > MaxWriteBitQuantity || len(req.Data) < 5 {
		return exceptionPDU(req.Function, ExceptionCodeIllegalDataValue)
	}
	byteCount := int(req.Data[4])
	expected := (int(req.Quantity) + 7) / 8
	if byteCount != expected || len(req.Data) < 5+byteCount {
		return exceptionPDU(req.Function, ExceptionCodeIllegalDataValue)
	}
	values := bytesToBool(req.Data[5:5+byteCount], req.Quantity)

	for i := uint16(0); i < req.Quantity; i++ {
		if _, err := d.Store.Coils.readSingle(req.RegisterAddr + i); err != nil {
			return exceptionPDU(req.Function, ExceptionCodeIllegalDataAddress)
		}
	}
	for i, v := range values {
		stored := uint16(0)
		if v {
			stored = 1
		}
		addr := req.RegisterAddr + uint16(i)
		d.Store.Coils.writeSingle(addr, stored)
		d.Store.recordChange(BankCoils, addr, stored)
	}

	resp := make([]byte, 5)
	resp[0] = req.Function
	resp[1] = byte(req.RegisterAddr >> 8)
	resp[2] = byte(req.RegisterAddr)
	resp[3] = byte(req.Quantity >> 8)
	resp[4] = byte(req.Quantity)
	return resp
}

// dispatchWriteMultipleRegisters implements fc 10, with the same
// all-or-none semantics as dispatchWriteMultipleCoils.
func (d *Dispatcher) dispatchWriteMultipleRegisters(req *Request) []byte {
	if req.Quantity < 1 || req.Quantity > MaxWriteRegisterQuantity || len(req.Data) < 5 {
		return exceptionPDU(req.Function, ExceptionCodeIllegalDataValue)
	}
	byteCount := int(req.Data[4])
	expected := int(req.Quantity) * 2
	if byteCount != expected || len(req.Data) < 5+byteCount {
		return exceptionPDU(req.Function, ExceptionCodeIllegalDataValue)
	}
	values := toUint16s(req.Data[5 : 5+byteCount])

	for i := uint16(0); i < req.Quantity; i++ {
		if _, err := d.Store.HoldingRegisters.readSingle(req.RegisterAddr + i); err != nil {
			return exceptionPDU(req.Function, ExceptionCodeIllegalDataAddress)
		}
	}
	for i, v := range values {
		addr := req.RegisterAddr + uint16(i)
		d.Store.HoldingRegisters.writeSingle(addr, v)
		d.Store.recordChange(BankHoldingRegisters, addr, v)
	}

	resp := make([]byte, 5)
	resp[0] = req.Function
	resp[1] = byte(req.RegisterAddr >> 8)
	resp[2] = byte(req.RegisterAddr)
	resp[3] = byte(req.Quantity >> 8)
	resp[4] = byte(req.Quantity)
	return resp
}
