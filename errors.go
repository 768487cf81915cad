// Copyright (c) 2014, Quoc-Viet Nguyen
// All rights reserved.
// This source code is licensed under the BSD-style license found in the
// LICENSE file in the root directory of this source tree.

package modbus

import "fmt"

// ProtocolDataUnit is the function-code-and-data payload shared by every
// Modbus transport; RTU wraps it with a slave address and CRC, TCP wraps it
// with an MBAP header.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// ModbusError represents the application-level error a Modbus device
// returns by setting the top bit of the function code and appending an
// exception code (spec.md §7, case 2: ModbusException{fc, code}).
type ModbusError struct {
	FunctionCode  byte
	ExceptionCode byte
}

func (e *ModbusError) Error() string {
	return fmt.Sprintf("modbus: exception '%s' (code %d), function '%d'", getExceptionMessage(e.ExceptionCode), e.ExceptionCode, e.FunctionCode)
}

// InvalidArgument is raised at the API boundary before any I/O: a quantity
// out of range, an unknown function code used locally, or malformed input
// handed to the codec (spec.md §7, case 1).
type InvalidArgument struct {
	Reason string
}

func (e *InvalidArgument) Error() string {
	return "modbus: invalid argument: " + e.Reason
}

// TransportTimeout is raised when no response, or an incomplete one,
// arrives within the configured deadline (spec.md §7, case 3).
type TransportTimeout struct {
	Reason string
}

func (e *TransportTimeout) Error() string {
	return "modbus: transport timeout: " + e.Reason
}

// FramingError covers a CRC mismatch on RTU, a bad protocol identifier or
// length field on TCP, or any frame too short to contain its own header
// (spec.md §7, case 4). The responder discards these silently on RTU;
// everywhere else they propagate.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return "modbus: framing error: " + e.Reason
}

// CorrelationError is raised when a response's transaction ID, unit
// address, or function code does not match the outstanding request
// (spec.md §7, case 5).
type CorrelationError struct {
	Reason string
}

func (e *CorrelationError) Error() string {
	return "modbus: correlation error: " + e.Reason
}

// ValidationFailure is raised when a response's echoed fields (address,
// quantity, value) do not match the request parameters that produced it
// (spec.md §7, case 6).
type ValidationFailure struct {
	Reason string
}

func (e *ValidationFailure) Error() string {
	return "modbus: validation failure: " + e.Reason
}

// IoError wraps an underlying socket or UART failure that is neither a
// timeout nor a framing problem — connection reset, an unretried EAGAIN,
// and the like (spec.md §7, case 7).
type IoError struct {
	Reason string
	Cause  error
}

func (e *IoError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("modbus: io error: %s: %v", e.Reason, e.Cause)
	}
	return "modbus: io error: " + e.Reason
}

func (e *IoError) Unwrap() error {
	return e.Cause
}
