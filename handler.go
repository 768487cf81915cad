package modbus

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// buildRequestPDU constructs a Modbus request PDU.
// It takes the function code and the data payload as input.
func buildRequestPDU(functionCode uint8, data []byte) ([]byte, error) {
	pdu := make([]byte, 1+len(data))
	pdu[0] = functionCode
	copy(pdu[1:], data)
	return pdu, nil
}

// Standard Response PDU Lengths (Including Function Code, Excluding Slave ID and CRC)
const (
	RespPDULenWriteSingleCoil        = 1 + 2 + 2 // FuncCode (1) + Address (2) + Value (2)
	RespPDULenWriteSingleRegister    = 1 + 2 + 2 // FuncCode (1) + Address (2) + Value (2)
	RespPDULenWriteMultipleCoils     = 1 + 2 + 2 // FuncCode (1) + Address (2) + Quantity (2)
	RespPDULenWriteMultipleRegisters = 1 + 2 + 2 // FuncCode (1) + Address (2) + Quantity (2)
	RespPDULenReadExceptionStatus    = 1 + 1     // FuncCode (1) + Status Byte (1)
	// RespPDULenReadDeviceIdentity is dynamic
)

// ModbusHandler is the initiator-side facade: it composes one of the two
// transport variants (C3-RTU, C3-TCP) behind a single request surface built
// from the codec in pdu.go. Only one of rtuTransporter/tcpTransporter is set,
// selected by mode at construction time.
type ModbusHandler struct {
	logger          io.Writer
	rtuTransporter  *RTUTransporter
	tcpTransporter  *TCPTransporter
	transmissionID  uint16
	mode            string // "RTU" or "TCP"
	lastModbusError *ModbusError
}

// GetLastModbusError returns the last cached ModbusError.
func (h *ModbusHandler) GetLastModbusError() *ModbusError {
	return h.lastModbusError
}

func (h *ModbusHandler) setLastModbusError(err *ModbusError) {
	h.lastModbusError = err
	if err != nil && h.logger != nil {
		fmt.Fprintf(h.logger, "modbus: cached ModbusError: %v\n", err)
	}
}

// GetMode implements ModbusApi.
func (h *ModbusHandler) GetMode() string {
	return h.mode
}

// NewModbusRTUHandler creates a ModbusHandler driving the RTU transport over
// the given half-duplex port.
func NewModbusRTUHandler(port io.ReadWriteCloser, timeout time.Duration) ModbusApi {
	config := DefaultRTUConfig()
	_ = timeout // not used: RTUTransporter takes one frame per port Read and applies no deadline or inter-character timing of its own
	return &ModbusHandler{
		mode:           "RTU",
		rtuTransporter: NewRTUTransporter(port, config),
	}
}

// NewModbusTCPHandler creates a ModbusHandler driving the MBAP/TCP transport
// over an already-connected socket.
func NewModbusTCPHandler(conn net.Conn, timeout time.Duration) ModbusApi {
	return &ModbusHandler{
		mode:           "TCP",
		tcpTransporter: NewTCPTransporterSimple(conn, timeout, nil),
	}
}

func (h *ModbusHandler) SetLogger(logger io.Writer) {
	h.logger = logger
}

// ReadRawData writes reqPDU through the active transport and returns the
// raw response PDU, bypassing function-code specific decoding.
func (h *ModbusHandler) ReadRawData(reqPDU []byte) ([]byte, error) {
	switch {
	case h.mode == "RTU" && h.rtuTransporter != nil:
		if err := h.rtuTransporter.WriteRaw(reqPDU); err != nil {
			return nil, fmt.Errorf("modbus: failed to write raw data: %w", err)
		}
		respPDU, err := h.rtuTransporter.ReadRaw()
		if err != nil {
			return nil, fmt.Errorf("modbus: failed to read raw data: %w", err)
		}
		return respPDU, nil
	case h.mode == "TCP" && h.tcpTransporter != nil:
		if err := h.tcpTransporter.WriteRaw(reqPDU); err != nil {
			return nil, fmt.Errorf("modbus: failed to write raw data: %w", err)
		}
		respPDU, err := h.tcpTransporter.ReadRaw()
		if err != nil {
			return nil, fmt.Errorf("modbus: failed to read raw data: %w", err)
		}
		return respPDU, nil
	default:
		return nil, fmt.Errorf("modbus: unsupported mode '%s' for ReadRawData", h.mode)
	}
}

// readModbusData sends a standard read request (address + quantity PDU data)
// and performs basic response validation (function code, byte count length check).
// It returns the data payload from the response PDU (after function code and byte count).
// This helper is used by ReadCoils, ReadDiscreteInputs, ReadHoldingRegisters, ReadInputRegisters.
func (h *ModbusHandler) readModbusData(funcCode uint8, slaveID uint16, startAddress, quantity uint16) ([]byte, error) {
	pduData := make([]byte, 4)
	binary.BigEndian.PutUint16(pduData[0:2], startAddress)
	binary.BigEndian.PutUint16(pduData[2:4], quantity)

	reqPDU, _ := buildRequestPDU(funcCode, pduData)

	respPDU, err := h.sendAndReceive(uint8(slaveID), reqPDU)
	if err != nil {
		return nil, fmt.Errorf("modbus: send/receive failed for func %02X (slave %d): %w", funcCode, slaveID, err)
	}

	if len(respPDU) == 0 || respPDU[0] != funcCode {
		return nil, &ValidationFailure{Reason: fmt.Sprintf("unexpected function code in response for func %02X (slave %d)", funcCode, slaveID)}
	}
	if len(respPDU) < 2 {
		return nil, &ValidationFailure{Reason: fmt.Sprintf("response too short for func %02X (slave %d)", funcCode, slaveID)}
	}

	byteCount := int(respPDU[1])
	if len(respPDU) != 2+byteCount {
		return nil, &ValidationFailure{Reason: fmt.Sprintf("response data length %d does not match byte count %d for func %02X (slave %d)", len(respPDU)-2, byteCount, funcCode, slaveID)}
	}

	return respPDU[2 : 2+byteCount], nil
}

// writeModbusData sends a standard write request, performs basic response validation,
// and returns the full response PDU.
func (h *ModbusHandler) writeModbusData(funcCode uint8, slaveID uint16, pduData []byte, expectedRespPDULen int) ([]byte, error) {
	reqPDU, _ := buildRequestPDU(funcCode, pduData)

	respPDU, err := h.sendAndReceive(uint8(slaveID), reqPDU)
	if err != nil {
		return nil, fmt.Errorf("modbus: send/receive failed for func %02X (slave %d): %w", funcCode, slaveID, err)
	}

	if len(respPDU) == 0 || respPDU[0] != funcCode {
		return nil, &ValidationFailure{Reason: fmt.Sprintf("unexpected function code in response for func %02X (slave %d)", funcCode, slaveID)}
	}
	if len(respPDU) != expectedRespPDULen {
		return nil, &ValidationFailure{Reason: fmt.Sprintf("response length %d does not match expected %d for func %02X (slave %d)", len(respPDU), expectedRespPDULen, funcCode, slaveID)}
	}

	return respPDU, nil
}

// ReadCoils reads the specified number of coils starting from the given address.
func (h *ModbusHandler) ReadCoils(slaveID uint16, startAddress, quantity uint16) ([]bool, error) {
	data, err := h.readModbusData(FuncCodeReadCoils, slaveID, startAddress, quantity)
	if err != nil {
		return nil, err
	}
	return bytesToBool(data, quantity), nil
}

// ReadDiscreteInputs reads the specified number of discrete inputs starting from the given address.
func (h *ModbusHandler) ReadDiscreteInputs(slaveID uint16, startAddress, quantity uint16) ([]bool, error) {
	data, err := h.readModbusData(FuncCodeReadDiscreteInputs, slaveID, startAddress, quantity)
	if err != nil {
		return nil, err
	}
	return bytesToBool(data, quantity), nil
}

// ReadHoldingRegisters reads the specified number of holding registers starting from the given address.
func (h *ModbusHandler) ReadHoldingRegisters(slaveID uint16, startAddress, quantity uint16) ([]uint16, error) {
	data, err := h.readModbusData(FuncCodeReadHoldingRegisters, slaveID, startAddress, quantity)
	if err != nil {
		return nil, err
	}
	if len(data)%2 != 0 {
		return nil, &ValidationFailure{Reason: fmt.Sprintf("register data length %d is not even (slave %d)", len(data), slaveID)}
	}
	return toUint16s(data), nil
}

// ReadInputRegisters reads the specified number of input registers starting from the given address.
func (h *ModbusHandler) ReadInputRegisters(slaveID uint16, startAddress, quantity uint16) ([]uint16, error) {
	data, err := h.readModbusData(FuncCodeReadInputRegisters, slaveID, startAddress, quantity)
	if err != nil {
		return nil, err
	}
	if len(data)%2 != 0 {
		return nil, &ValidationFailure{Reason: fmt.Sprintf("register data length %d is not even (slave %d)", len(data), slaveID)}
	}
	return toUint16s(data), nil
}

// WriteSingleCoil writes a single coil to the Modbus device.
func (h *ModbusHandler) WriteSingleCoil(slaveID uint16, address uint16, value bool) error {
	pduData := make([]byte, 4)
	binary.BigEndian.PutUint16(pduData[0:2], address)
	if value {
		binary.BigEndian.PutUint16(pduData[2:4], CoilOn)
	} else {
		binary.BigEndian.PutUint16(pduData[2:4], CoilOff)
	}

	respPDU, err := h.writeModbusData(FuncCodeWriteSingleCoil, slaveID, pduData, RespPDULenWriteSingleCoil)
	if err != nil {
		return err
	}

	respAddress := binary.BigEndian.Uint16(respPDU[1:3])
	respValue := binary.BigEndian.Uint16(respPDU[3:5])
	if respAddress != address {
		return &ValidationFailure{Reason: fmt.Sprintf("write single coil response address mismatch (slave %d): expected %d, got %d", slaveID, address, respAddress)}
	}
	if (value && respValue != CoilOn) || (!value && respValue != CoilOff) {
		return &ValidationFailure{Reason: fmt.Sprintf("write single coil response value mismatch (slave %d): got 0x%04X", slaveID, respValue)}
	}
	return nil
}

// WriteSingleRegister writes a single register to the Modbus device.
func (h *ModbusHandler) WriteSingleRegister(slaveID uint16, address uint16, value uint16) error {
	pduData := make([]byte, 4)
	binary.BigEndian.PutUint16(pduData[0:2], address)
	binary.BigEndian.PutUint16(pduData[2:4], value)

	respPDU, err := h.writeModbusData(FuncCodeWriteSingleRegister, slaveID, pduData, RespPDULenWriteSingleRegister)
	if err != nil {
		return err
	}

	respAddress := binary.BigEndian.Uint16(respPDU[1:3])
	respValue := binary.BigEndian.Uint16(respPDU[3:5])
	if respAddress != address {
		return &ValidationFailure{Reason: fmt.Sprintf("write single register response address mismatch (slave %d): expected %d, got %d", slaveID, address, respAddress)}
	}
	if respValue != value {
		return &ValidationFailure{Reason: fmt.Sprintf("write single register response value mismatch (slave %d): expected %d, got %d", slaveID, value, respValue)}
	}
	return nil
}

// WriteMultipleCoils writes multiple coils to the Modbus device.
func (h *ModbusHandler) WriteMultipleCoils(slaveID uint16, startAddress uint16, values []bool) error {
	quantity := uint16(len(values))
	packed := packBits(values)

	pduData := make([]byte, 5+len(packed))
	binary.BigEndian.PutUint16(pduData[0:2], startAddress)
	binary.BigEndian.PutUint16(pduData[2:4], quantity)
	pduData[4] = byte(len(packed))
	copy(pduData[5:], packed)

	respPDU, err := h.writeModbusData(FuncCodeWriteMultipleCoils, slaveID, pduData, RespPDULenWriteMultipleCoils)
	if err != nil {
		return err
	}

	respAddress := binary.BigEndian.Uint16(respPDU[1:3])
	respQuantity := binary.BigEndian.Uint16(respPDU[3:5])
	if respAddress != startAddress || respQuantity != quantity {
		return &ValidationFailure{Reason: fmt.Sprintf("write multiple coils echo mismatch (slave %d): address %d/%d quantity %d/%d", slaveID, respAddress, startAddress, respQuantity, quantity)}
	}
	return nil
}

// WriteMultipleRegisters writes multiple registers to the Modbus device.
func (h *ModbusHandler) WriteMultipleRegisters(slaveID uint16, startAddress uint16, values []uint16) error {
	quantity := uint16(len(values))
	byteCount := quantity * 2

	pduData := make([]byte, 5+byteCount)
	binary.BigEndian.PutUint16(pduData[0:2], startAddress)
	binary.BigEndian.PutUint16(pduData[2:4], quantity)
	pduData[4] = byte(byteCount)
	for i, val := range values {
		binary.BigEndian.PutUint16(pduData[5+2*i:5+2*i+2], val)
	}

	respPDU, err := h.writeModbusData(FuncCodeWriteMultipleRegisters, slaveID, pduData, RespPDULenWriteMultipleRegisters)
	if err != nil {
		return err
	}

	respAddress := binary.BigEndian.Uint16(respPDU[1:3])
	respQuantity := binary.BigEndian.Uint16(respPDU[3:5])
	if respAddress != startAddress || respQuantity != quantity {
		return &ValidationFailure{Reason: fmt.Sprintf("write multiple registers echo mismatch (slave %d): address %d/%d quantity %d/%d", slaveID, respAddress, startAddress, respQuantity, quantity)}
	}
	return nil
}

// ReadCustomData sends a request with a custom function code, assuming a
// standard read-like response shape (func code + byte count + payload).
func (h *ModbusHandler) ReadCustomData(funcCode uint16, slaveID uint16, startAddress, quantity uint16) ([]byte, error) {
	pduData := make([]byte, 4)
	binary.BigEndian.PutUint16(pduData[0:2], startAddress)
	binary.BigEndian.PutUint16(pduData[2:4], quantity)

	reqPDU, _ := buildRequestPDU(uint8(funcCode), pduData)
	respPDU, err := h.sendAndReceive(uint8(slaveID), reqPDU)
	if err != nil {
		return nil, fmt.Errorf("modbus: send/receive failed for custom func %02X (slave %d): %w", funcCode, slaveID, err)
	}
	if len(respPDU) < 2 || respPDU[0] != uint8(funcCode) {
		return nil, &ValidationFailure{Reason: fmt.Sprintf("unexpected response shape for custom func %02X (slave %d)", funcCode, slaveID)}
	}
	byteCount := int(respPDU[1])
	if len(respPDU) != 2+byteCount {
		return nil, &ValidationFailure{Reason: fmt.Sprintf("response data length mismatch for custom func %02X (slave %d)", funcCode, slaveID)}
	}
	return respPDU[2:], nil
}

// WriteCustomData sends a write request with a custom function code and data,
// assuming a minimal one-byte (function code only) acknowledgement.
func (h *ModbusHandler) WriteCustomData(funcCode uint16, slaveID uint16, startAddress uint16, data []byte) error {
	pduData := make([]byte, 4+len(data))
	binary.BigEndian.PutUint16(pduData[0:2], startAddress)
	binary.BigEndian.PutUint16(pduData[2:4], uint16(len(data)))
	copy(pduData[4:], data)

	reqPDU, _ := buildRequestPDU(uint8(funcCode), pduData)
	respPDU, err := h.sendAndReceive(uint8(slaveID), reqPDU)
	if err != nil {
		return fmt.Errorf("modbus: send/receive failed for custom write func %02X (slave %d): %w", funcCode, slaveID, err)
	}
	if len(respPDU) == 0 || respPDU[0] != uint8(funcCode) {
		return &ValidationFailure{Reason: fmt.Sprintf("unexpected response for custom write func %02X (slave %d)", funcCode, slaveID)}
	}
	return nil
}

// ReadExceptionStatus reads the exception status using Modbus function code 0x07.
func (h *ModbusHandler) ReadExceptionStatus(slaveID uint16) (string, error) {
	reqPDU, _ := buildRequestPDU(FuncCodeReadExceptionStatus, nil)
	respPDU, err := h.sendAndReceive(uint8(slaveID), reqPDU)
	if err != nil {
		return "", fmt.Errorf("modbus: send/receive failed for func %02X (slave %d): %w", FuncCodeReadExceptionStatus, slaveID, err)
	}
	if len(respPDU) != RespPDULenReadExceptionStatus || respPDU[0] != FuncCodeReadExceptionStatus {
		return "", &ValidationFailure{Reason: fmt.Sprintf("invalid exception-status response (slave %d)", slaveID)}
	}
	return fmt.Sprintf("Exception Status: 0x%02X", respPDU[1]), nil
}

// sendAndReceive drives one request/response cycle over the active
// transport, converting an exception-coded response into ModbusException.
func (h *ModbusHandler) sendAndReceive(slaveID uint8, reqPDU []byte) ([]byte, error) {
	if h.logger != nil {
		funcCode := uint8(0)
		if len(reqPDU) > 0 {
			funcCode = reqPDU[0]
		}
		fmt.Fprintf(h.logger, "modbus %s: sending request to slave %d, func %02X\n", h.mode, slaveID, funcCode)
	}

	var err error
	switch h.mode {
	case "RTU":
		if h.rtuTransporter == nil {
			return nil, fmt.Errorf("modbus: rtu transporter is not initialized")
		}
		err = h.rtuTransporter.Send(slaveID, reqPDU)
	case "TCP":
		if h.tcpTransporter == nil {
			return nil, fmt.Errorf("modbus: tcp transporter is not initialized")
		}
		h.transmissionID, err = h.tcpTransporter.Send(slaveID, reqPDU)
	default:
		return nil, fmt.Errorf("modbus: unsupported mode '%s' for sendAndReceive", h.mode)
	}
	if err != nil {
		return nil, fmt.Errorf("modbus: transport send failed (slave %d): %w", slaveID, err)
	}

	var respSlaveID uint8
	var respPDU []byte
	switch h.mode {
	case "RTU":
		respSlaveID, respPDU, err = h.rtuTransporter.Receive()
	case "TCP":
		_, respSlaveID, respPDU, err = h.tcpTransporter.Receive()
	}
	if err != nil {
		return nil, fmt.Errorf("modbus: transport receive failed (slave %d): %w", slaveID, err)
	}

	if respSlaveID != slaveID {
		cerr := &CorrelationError{Reason: fmt.Sprintf("response slave ID %d does not match request %d", respSlaveID, slaveID)}
		return nil, cerr
	}

	if len(respPDU) > 0 && (respPDU[0]&0x80) != 0 {
		exceptionCode := uint8(0)
		if len(respPDU) > 1 {
			exceptionCode = respPDU[1]
		}
		modbusErr := &ModbusError{
			FunctionCode:  respPDU[0] & 0x7F,
			ExceptionCode: exceptionCode,
		}
		h.setLastModbusError(modbusErr)
		return nil, modbusErr
	}
	return respPDU, nil
}
