// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"encoding/binary"
	"fmt"
)

// ClientHandler is the interface that groups the Packager and Transporter methods.
type ClientHandler interface {
	Packager
	Transporter
	Type() string
	SetSlaverId(slaveId byte)
	GetInterfaceName() string
}

// client is the extended initiator surface (Client interface, pdu.go):
// mask write, read/write multiple, FIFO, device identification, on top of
// the four standard read/write function codes. It never touches a socket
// or serial port directly — all of that lives behind ClientHandler, so the
// same request/validate pipeline below drives both the TCP and RTU client
// handlers in client_handler.go.
type client struct {
	packager    Packager
	transporter Transporter
	handler     ClientHandler
	clientType  string
}

// NewClient creates a new modbus client with given backend handler.
func NewClient(handler ClientHandler) Client {
	return &client{
		packager:    handler,
		transporter: handler,
		handler:     handler,
		clientType:  handler.Type(),
	}
}

// GetInterfaceName returns the name of the interface used by the client.
func (mb *client) GetInterfaceName() string {
	return mb.handler.GetInterfaceName()
}

// SendRawBytes bypasses request encoding and validation entirely, handing
// data straight to the transporter — used for diagnostic probes.
func (mb *client) SendRawBytes(data []byte) (results []byte, err error) {
	if len(data) < 1 {
		return nil, &InvalidArgument{Reason: "raw payload must not be empty"}
	}
	return mb.transporter.SendRawBytes(data)
}

func (mb *client) SetSlaveId(slaveId byte) {
	mb.handler.SetSlaverId(slaveId)
}

func (mb *client) GetHandlerType() string {
	return mb.handler.Type()
}

func (mb *client) Close() error {
	if mb.transporter != nil {
		return mb.transporter.Close()
	}
	return nil
}

// NewClientWithTransporter creates a client from a separate packager and
// transporter pair, for callers that compose the two independently instead
// of through a single ClientHandler.
func NewClientWithTransporter(packager Packager, transporter Transporter) Client {
	return &client{packager: packager, transporter: transporter}
}

func (mb *client) Type() string {
	return mb.clientType
}

// GetTransporter returns the underlying Transporter.
func (mb *client) GetTransporter() Transporter {
	return mb.transporter
}

// Request:
//
//	Function code         : 1 byte (0x01)
//	Starting address      : 2 bytes
//	Quantity of coils     : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x01)
//	Byte count            : 1 byte
//	Coil status           : N* bytes (=N or N+1)
func (mb *client) ReadCoils(address, quantity uint16) (results []byte, err error) {
	if quantity < 1 || quantity > 2000 {
		return nil, &InvalidArgument{Reason: fmt.Sprintf("coil quantity %d must be between 1 and 2000", quantity)}
	}
	request := ProtocolDataUnit{
		FunctionCode: FuncCodeReadCoils,
		Data:         dataBlock(address, quantity),
	}
	response, err := mb.send(&request)
	if err != nil {
		return nil, err
	}
	count := int(response.Data[0])
	length := len(response.Data) - 1
	if count != length {
		return nil, &ValidationFailure{Reason: fmt.Sprintf("response data size %d does not match byte count %d", length, count)}
	}
	return response.Data[1:], nil
}

// Request:
//
//	Function code         : 1 byte (0x02)
//	Starting address      : 2 bytes
//	Quantity of inputs    : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x02)
//	Byte count            : 1 byte
//	Input status          : N* bytes (=N or N+1)
func (mb *client) ReadDiscreteInputs(address, quantity uint16) (results []byte, err error) {
	if quantity < 1 || quantity > 2000 {
		return nil, &InvalidArgument{Reason: fmt.Sprintf("discrete input quantity %d must be between 1 and 2000", quantity)}
	}
	request := ProtocolDataUnit{
		FunctionCode: FuncCodeReadDiscreteInputs,
		Data:         dataBlock(address, quantity),
	}
	response, err := mb.send(&request)
	if err != nil {
		return nil, err
	}
	count := int(response.Data[0])
	length := len(response.Data) - 1
	if count != length {
		return nil, &ValidationFailure{Reason: fmt.Sprintf("response data size %d does not match byte count %d", length, count)}
	}
	return response.Data[1:], nil
}

// Request:
//
//	Function code         : 1 byte (0x03)
//	Starting address      : 2 bytes
//	Quantity of registers : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x03)
//	Byte count            : 1 byte
//	Register value        : Nx2 bytes
func (mb *client) ReadHoldingRegisters(address, quantity uint16) (results []byte, err error) {
	if quantity < 1 || quantity > 125 {
		return nil, &InvalidArgument{Reason: fmt.Sprintf("holding register quantity %d must be between 1 and 125", quantity)}
	}
	request := ProtocolDataUnit{
		FunctionCode: FuncCodeReadHoldingRegisters,
		Data:         dataBlock(address, quantity),
	}
	response, err := mb.send(&request)
	if err != nil {
		return nil, err
	}
	count := int(response.Data[0])
	length := len(response.Data) - 1
	if count != length {
		return nil, &ValidationFailure{Reason: fmt.Sprintf("response data size %d does not match byte count %d", length, count)}
	}
	return response.Data[1:], nil
}

// Request:
//
//	Function code         : 1 byte (0x04)
//	Starting address      : 2 bytes
//	Quantity of registers : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x04)
//	Byte count            : 1 byte
//	Input registers       : Nx2 bytes
func (mb *client) ReadInputRegisters(address, quantity uint16) (results []byte, err error) {
	if quantity < 1 || quantity > 125 {
		return nil, &InvalidArgument{Reason: fmt.Sprintf("input register quantity %d must be between 1 and 125", quantity)}
	}
	request := ProtocolDataUnit{
		FunctionCode: FuncCodeReadInputRegisters,
		Data:         dataBlock(address, quantity),
	}
	response, err := mb.send(&request)
	if err != nil {
		return nil, err
	}
	count := int(response.Data[0])
	length := len(response.Data) - 1
	if count != length {
		return nil, &ValidationFailure{Reason: fmt.Sprintf("response data size %d does not match byte count %d", length, count)}
	}
	return response.Data[1:], nil
}

// Request:
//
//	Function code         : 1 byte (0x05)
//	Output address        : 2 bytes
//	Output value          : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x05)
//	Output address        : 2 bytes
//	Output value          : 2 bytes
func (mb *client) WriteSingleCoil(address, value uint16) (results []byte, err error) {
	// The requested ON/OFF state can only be 0xFF00 and 0x0000
	if value != 0xFF00 && value != 0x0000 {
		return nil, &InvalidArgument{Reason: fmt.Sprintf("coil state 0x%04X must be either 0xFF00 (ON) or 0x0000 (OFF)", value)}
	}
	request := ProtocolDataUnit{
		FunctionCode: FuncCodeWriteSingleCoil,
		Data:         dataBlock(address, value),
	}
	response, err := mb.send(&request)
	if err != nil {
		return nil, err
	}
	if len(response.Data) != 4 {
		return nil, &ValidationFailure{Reason: fmt.Sprintf("response data size %d does not match expected 4", len(response.Data))}
	}
	respValue := binary.BigEndian.Uint16(response.Data)
	if address != respValue {
		return nil, &CorrelationError{Reason: fmt.Sprintf("response address %d does not match request %d", respValue, address)}
	}
	results = response.Data[2:]
	respValue = binary.BigEndian.Uint16(results)
	if value != respValue {
		return nil, &CorrelationError{Reason: fmt.Sprintf("response value 0x%04X does not match request 0x%04X", respValue, value)}
	}
	return results, nil
}

// Request:
//
//	Function code         : 1 byte (0x06)
//	Register address      : 2 bytes
//	Register value        : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x06)
//	Register address      : 2 bytes
//	Register value        : 2 bytes
func (mb *client) WriteSingleRegister(address, value uint16) (results []byte, err error) {
	request := ProtocolDataUnit{
		FunctionCode: FuncCodeWriteSingleRegister,
		Data:         dataBlock(address, value),
	}
	response, err := mb.send(&request)
	if err != nil {
		return nil, err
	}
	if len(response.Data) != 4 {
		return nil, &ValidationFailure{Reason: fmt.Sprintf("response data size %d does not match expected 4", len(response.Data))}
	}
	respValue := binary.BigEndian.Uint16(response.Data)
	if address != respValue {
		return nil, &CorrelationError{Reason: fmt.Sprintf("response address %d does not match request %d", respValue, address)}
	}
	results = response.Data[2:]
	respValue = binary.BigEndian.Uint16(results)
	if value != respValue {
		return nil, &CorrelationError{Reason: fmt.Sprintf("response value %d does not match request %d", respValue, value)}
	}
	return results, nil
}

// Request:
//
//	Function code         : 1 byte (0x0F)
//	Starting address      : 2 bytes
//	Quantity of outputs   : 2 bytes
//	Byte count            : 1 byte
//	Outputs value         : N* bytes
//
// Response:
//
//	Function code         : 1 byte (0x0F)
//	Starting address      : 2 bytes
//	Quantity of outputs   : 2 bytes
func (mb *client) WriteMultipleCoils(address, quantity uint16, value []byte) (results []byte, err error) {
	if quantity < 1 || quantity > 1968 {
		return nil, &InvalidArgument{Reason: fmt.Sprintf("coil quantity %d must be between 1 and 1968", quantity)}
	}
	request := ProtocolDataUnit{
		FunctionCode: FuncCodeWriteMultipleCoils,
		Data:         dataBlockSuffix(value, address, quantity),
	}
	response, err := mb.send(&request)
	if err != nil {
		return nil, err
	}
	if len(response.Data) != 4 {
		return nil, &ValidationFailure{Reason: fmt.Sprintf("response data size %d does not match expected 4", len(response.Data))}
	}
	respValue := binary.BigEndian.Uint16(response.Data)
	if address != respValue {
		return nil, &CorrelationError{Reason: fmt.Sprintf("response address %d does not match request %d", respValue, address)}
	}
	results = response.Data[2:]
	respValue = binary.BigEndian.Uint16(results)
	if quantity != respValue {
		return nil, &CorrelationError{Reason: fmt.Sprintf("response quantity %d does not match request %d", respValue, quantity)}
	}
	return results, nil
}

// Request:
//
//	Function code         : 1 byte (0x10)
//	Starting address      : 2 bytes
//	Quantity of outputs   : 2 bytes
//	Byte count            : 1 byte
//	Registers value       : N* bytes
//
// Response:
//
//	Function code         : 1 byte (0x10)
//	Starting address      : 2 bytes
//	Quantity of registers : 2 bytes
func (mb *client) WriteMultipleRegisters(address, quantity uint16, value []byte) (results []byte, err error) {
	if quantity < 1 || quantity > 123 {
		return nil, &InvalidArgument{Reason: fmt.Sprintf("register quantity %d must be between 1 and 123", quantity)}
	}
	request := ProtocolDataUnit{
		FunctionCode: FuncCodeWriteMultipleRegisters,
		Data:         dataBlockSuffix(value, address, quantity),
	}
	response, err := mb.send(&request)
	if err != nil {
		return nil, err
	}
	if len(response.Data) != 4 {
		return nil, &ValidationFailure{Reason: fmt.Sprintf("response data size %d does not match expected 4", len(response.Data))}
	}
	respValue := binary.BigEndian.Uint16(response.Data)
	if address != respValue {
		return nil, &CorrelationError{Reason: fmt.Sprintf("response address %d does not match request %d", respValue, address)}
	}
	results = response.Data[2:]
	respValue = binary.BigEndian.Uint16(results)
	if quantity != respValue {
		return nil, &CorrelationError{Reason: fmt.Sprintf("response quantity %d does not match request %d", respValue, quantity)}
	}
	return results, nil
}

// Request:
//
//	Function code         : 1 byte (0x16)
//	Reference address     : 2 bytes
//	AND-mask              : 2 bytes
//	OR-mask               : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x16)
//	Reference address     : 2 bytes
//	AND-mask              : 2 bytes
//	OR-mask               : 2 bytes
func (mb *client) MaskWriteRegister(address, andMask, orMask uint16) (results []byte, err error) {
	request := ProtocolDataUnit{
		FunctionCode: FuncCodeMaskWriteRegister,
		Data:         dataBlock(address, andMask, orMask),
	}
	response, err := mb.send(&request)
	if err != nil {
		return nil, err
	}
	if len(response.Data) != 6 {
		return nil, &ValidationFailure{Reason: fmt.Sprintf("response data size %d does not match expected 6", len(response.Data))}
	}
	respValue := binary.BigEndian.Uint16(response.Data)
	if address != respValue {
		return nil, &CorrelationError{Reason: fmt.Sprintf("response address %d does not match request %d", respValue, address)}
	}
	respValue = binary.BigEndian.Uint16(response.Data[2:])
	if andMask != respValue {
		return nil, &CorrelationError{Reason: fmt.Sprintf("response AND-mask 0x%04X does not match request 0x%04X", respValue, andMask)}
	}
	respValue = binary.BigEndian.Uint16(response.Data[4:])
	if orMask != respValue {
		return nil, &CorrelationError{Reason: fmt.Sprintf("response OR-mask 0x%04X does not match request 0x%04X", respValue, orMask)}
	}
	return response.Data[2:], nil
}

// Request:
//
//	Function code         : 1 byte (0x17)
//	Read starting address : 2 bytes
//	Quantity to read      : 2 bytes
//	Write starting address: 2 bytes
//	Quantity to write     : 2 bytes
//	Write byte count      : 1 byte
//	Write registers value : N* bytes
//
// Response:
//
//	Function code         : 1 byte (0x17)
//	Byte count            : 1 byte
//	Read registers value  : Nx2 bytes
func (mb *client) ReadWriteMultipleRegisters(readAddress, readQuantity, writeAddress, writeQuantity uint16, value []byte) (results []byte, err error) {
	if readQuantity < 1 || readQuantity > 125 {
		return nil, &InvalidArgument{Reason: fmt.Sprintf("read quantity %d must be between 1 and 125", readQuantity)}
	}
	if writeQuantity < 1 || writeQuantity > 121 {
		return nil, &InvalidArgument{Reason: fmt.Sprintf("write quantity %d must be between 1 and 121", writeQuantity)}
	}
	request := ProtocolDataUnit{
		FunctionCode: FuncCodeReadWriteMultipleRegisters,
		Data:         dataBlockSuffix(value, readAddress, readQuantity, writeAddress, writeQuantity),
	}
	response, err := mb.send(&request)
	if err != nil {
		return nil, err
	}
	count := int(response.Data[0])
	if count != (len(response.Data) - 1) {
		return nil, &ValidationFailure{Reason: fmt.Sprintf("response data size %d does not match byte count %d", len(response.Data)-1, count)}
	}
	return response.Data[1:], nil
}

// Request:
//
//	Function code         : 1 byte (0x18)
//	FIFO pointer address  : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x18)
//	Byte count            : 2 bytes
//	FIFO count            : 2 bytes (<=31)
//	FIFO value register   : Nx2 bytes
func (mb *client) ReadFIFOQueue(address uint16) (results []byte, err error) {
	request := ProtocolDataUnit{
		FunctionCode: FuncCodeReadFIFOQueue,
		Data:         dataBlock(address),
	}
	response, err := mb.send(&request)
	if err != nil {
		return nil, err
	}
	if len(response.Data) < 4 {
		return nil, &ValidationFailure{Reason: fmt.Sprintf("response data size %d is less than expected 4", len(response.Data))}
	}
	count := int(binary.BigEndian.Uint16(response.Data))
	if count != (len(response.Data) - 2) {
		return nil, &ValidationFailure{Reason: fmt.Sprintf("response data size %d does not match byte count %d", len(response.Data)-2, count)}
	}
	fifoCount := int(binary.BigEndian.Uint16(response.Data[2:]))
	if fifoCount > 31 {
		return nil, &ValidationFailure{Reason: fmt.Sprintf("FIFO count %d exceeds maximum of 31", fifoCount)}
	}
	return response.Data[4:], nil
}

// Request:
//
//	Function code         : 1 byte (custom)
//	Starting address      : 2 bytes
//	Quantity of registers : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (custom)
//	Byte count            : 1 byte
//	Register value        : Nx2 bytes
func (mb *client) ReadWithCustomFunction(code byte, address, quantity uint16) (results []byte, err error) {
	if quantity < 1 || quantity > 125 {
		return nil, &InvalidArgument{Reason: fmt.Sprintf("register quantity %d must be between 1 and 125", quantity)}
	}
	request := ProtocolDataUnit{
		FunctionCode: code,
		Data:         dataBlock(address, quantity),
	}
	response, err := mb.send(&request)
	if err != nil {
		return nil, err
	}
	count := int(response.Data[0])
	length := len(response.Data) - 1
	if count != length {
		return nil, &ValidationFailure{Reason: fmt.Sprintf("response data size %d does not match byte count %d", length, count)}
	}
	return response.Data[1:], nil
}

// Helpers

// send encodes request through the packager, round-trips it through the
// transporter, verifies the ADU pair, decodes the response PDU and checks
// for a function-code exception before handing the caller raw data.
func (mb *client) send(request *ProtocolDataUnit) (response *ProtocolDataUnit, err error) {
	aduRequest, err := mb.packager.Encode(request)
	if err != nil {
		return nil, err
	}
	aduResponse, err := mb.transporter.Send(aduRequest)
	if err != nil {
		return nil, err
	}
	if err = mb.packager.Verify(aduRequest, aduResponse); err != nil {
		return nil, err
	}
	response, err = mb.packager.Decode(aduResponse)
	if err != nil {
		return nil, err
	}
	if response.FunctionCode != request.FunctionCode {
		return nil, responseError(response)
	}
	if len(response.Data) == 0 {
		return nil, &ValidationFailure{Reason: "response data is empty"}
	}
	return response, nil
}

// dataBlock creates a sequence of uint16 data.
func dataBlock(value ...uint16) []byte {
	data := make([]byte, 2*len(value))
	for i, v := range value {
		binary.BigEndian.PutUint16(data[i*2:], v)
	}
	return data
}

// dataBlockSuffix creates a sequence of uint16 data and appends the suffix
// plus its length byte.
func dataBlockSuffix(suffix []byte, value ...uint16) []byte {
	length := 2 * len(value)
	data := make([]byte, length+1+len(suffix))
	for i, v := range value {
		binary.BigEndian.PutUint16(data[i*2:], v)
	}
	data[length] = uint8(len(suffix))
	copy(data[length+1:], suffix)
	return data
}

// responseError builds the ModbusError (spec.md §7) a function-code
// exception response carries: function code with the high bit set plus a
// single exception-code byte.
func responseError(response *ProtocolDataUnit) error {
	mbError := &ModbusError{FunctionCode: response.FunctionCode}
	if len(response.Data) > 0 {
		mbError.ExceptionCode = response.Data[0]
	}
	return mbError
}

// Request:
//
//	Function code         : 1 byte (0x2B)
//	MEI type  			  : 1 byte (0x0E)
//	Read Device ID Code	  : 1 byte
//	Object ID			  : 1 byte
//
// Response:
//
//	 Function code         : 1 byte (0x2B)
//	 MEI type  			  : 1 byte (0x0E)
//	 Read Device ID Code	  : 1 byte
//	 Conformity level	  : 1 byte
//	 More follows		  : 1 byte
//	 Next object ID		  : 1 byte
//	 Number of objects	  : 1 byte
//	 List of objects		  : <Number of objects>
//	  Object ID			  : 1
//	  Object length		  : 1
//		 Object value		  : <Object length> bytes
func (mb *client) ReadDeviceIdentification(firstExtendedID byte) (results map[byte]string, err error) {
	readDevIDCode := byte(0x01)   // Start with the basic identification code
	objectID := byte(0x00)        // Start with the first object ID
	conformityLevel := byte(0x00) // Initial conformity level

	results = make(map[byte]string)
	var resultObjects map[byte]string
	// Getting basic objects (mandatory)
	for {
		conformityLevel, objectID, resultObjects, err = mb.sendReadDeviceIdentification(readDevIDCode, objectID)
		if err != nil {
			return results, err
		}

		for k, v := range resultObjects {
			results[k] = v
		}

		if len(results) >= 3 { // We expect at least 3 mandatory objects
			break
		}
		if objectID == 0x00 {
			return results, &ValidationFailure{Reason: "mandatory device identification objects are not available"}
		}
	}

	// Get additional objects based on conformity level
	for {
		if conformityLevel&0x02 >= 0x02 { // If the device supports additional (regular) objects
			readDevIDCode = 0x02
			objectID = 0x00
		} else if conformityLevel&0x03 == 0x03 && firstExtendedID >= 0x80 { // If the device supports extended objects
			readDevIDCode = 0x03
			objectID = firstExtendedID
		} else {
			break
		}

		for {
			_, _, resultObjects, err := mb.sendReadDeviceIdentification(readDevIDCode, objectID)
			if err != nil {
				return results, err
			}

			for k, v := range resultObjects {
				results[k] = v
			}

			if objectID == 0x00 {
				break
			}
		}
	}

	return results, nil
}

// sendReadDeviceIdentification sends a FC43/14 request and returns the
// response after some basic checks.
func (mb *client) sendReadDeviceIdentification(readDeviceIDCode byte, objectID byte) (
	conformityLevel byte, nextObjID byte, resultObjects map[byte]string, err error) {

	resultObjects = make(map[byte]string)

	reqData := make([]byte, 3)
	reqData[0] = MEITypeReadDeviceIdentification
	reqData[1] = readDeviceIDCode
	reqData[2] = objectID

	request := ProtocolDataUnit{
		FunctionCode: FuncCodeReadMEI,
		Data:         reqData,
	}

	response, err := mb.send(&request)
	if err != nil {
		return
	}

	conformityLevel = response.Data[2]
	if !((conformityLevel >= 0x01 && conformityLevel <= 0x03) ||
		(conformityLevel >= 0x81 && conformityLevel <= 0x83)) {
		err = &ValidationFailure{Reason: fmt.Sprintf("response conformity level 0x%02X is not valid", conformityLevel)}
		return
	}

	moreFollows := response.Data[3]
	if moreFollows == 0xFF {
		nextObjID = response.Data[4]
	}

	count := response.Data[5]
	index := 6
	for i := byte(0); i < count; i++ {
		id := response.Data[index]
		length := int(response.Data[index+1])
		value := response.Data[index+2 : index+2+length]

		resultObjects[id] = string(value)
		index += 2 + length
	}

	return
}
