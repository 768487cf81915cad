// Copyright (c) 2014, Quoc-Viet Nguyen
// All rights reserved.
// This source code is licensed under the BSD-style license found in the
// LICENSE file in the root directory of this source tree.

package modbus

// Function codes defined in the Modbus specification.
const (
	FuncCodeReadCoils                  = 1
	FuncCodeReadDiscreteInputs         = 2
	FuncCodeReadHoldingRegisters       = 3
	FuncCodeReadInputRegisters         = 4
	FuncCodeWriteSingleCoil            = 5
	FuncCodeWriteSingleRegister        = 6
	FuncCodeReadExceptionStatus        = 7
	FuncCodeWriteMultipleCoils         = 15
	FuncCodeWriteMultipleRegisters     = 16
	FuncCodeMaskWriteRegister          = 22
	FuncCodeReadWriteMultipleRegisters = 23
	FuncCodeReadFIFOQueue              = 24
	FuncCodeReadMEI                    = 43
)

// MEI (Modbus Encapsulated Interface) types used by function code 0x2B.
const (
	MEITypeReadDeviceIdentification = 0x0E
)

// Exception codes defined in the Modbus specification.
const (
	ExceptionCodeIllegalFunction                    = 1
	ExceptionCodeIllegalDataAddress                 = 2
	ExceptionCodeIllegalDataValue                   = 3
	ExceptionCodeServerDeviceFailure                = 4
	ExceptionCodeAcknowledge                        = 5
	ExceptionCodeServerDeviceBusy                   = 6
	ExceptionCodeMemoryParityError                  = 8
	ExceptionCodeGatewayPathUnavailable              = 10
	ExceptionCodeGatewayTargetDeviceFailedToRespond   = 11
)

// CoilOn and CoilOff are the two wire values a Modbus device will ever send
// or accept for a single coil. Any other 16-bit value on the wire for fc
// 0x05 is an ILLEGAL_DATA_VALUE.
const (
	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)

// Read/write quantity ceilings (spec.md §3 invariants).
const (
	MaxReadBitQuantity       = 2000
	MaxReadRegisterQuantity  = 125
	MaxWriteBitQuantity      = 1968
	MaxWriteRegisterQuantity = 123
)

// ProtocolIdentifierTCP is the fixed MBAP protocol identifier for Modbus
// over TCP; no other value is ever valid on this wire.
const ProtocolIdentifierTCP uint16 = 0x0000

// exceptionMessages maps exception codes to their human-readable description,
// used by getExceptionMessage and by ModbusError's Error() string.
var exceptionMessages = map[byte]string{
	ExceptionCodeIllegalFunction:                    "illegal function",
	ExceptionCodeIllegalDataAddress:                 "illegal data address",
	ExceptionCodeIllegalDataValue:                   "illegal data value",
	ExceptionCodeServerDeviceFailure:                "server device failure",
	ExceptionCodeAcknowledge:                        "acknowledge",
	ExceptionCodeServerDeviceBusy:                   "server device busy",
	ExceptionCodeMemoryParityError:                  "memory parity error",
	ExceptionCodeGatewayPathUnavailable:             "gateway path unavailable",
	ExceptionCodeGatewayTargetDeviceFailedToRespond: "gateway target device failed to respond",
}

// getExceptionMessage returns the human-readable description for an
// exception code, or a generic placeholder for unknown codes.
func getExceptionMessage(code byte) string {
	if msg, ok := exceptionMessages[code]; ok {
		return msg
	}
	return "unknown exception"
}
