// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

// Packager specifies how a ProtocolDataUnit is wrapped into, and unwrapped
// from, an application data unit (ADU) — the MBAP header for TCP, the
// slave address and CRC for RTU.
type Packager interface {
	Encode(pdu *ProtocolDataUnit) (adu []byte, err error)
	Decode(adu []byte) (pdu *ProtocolDataUnit, err error)
	Verify(aduRequest []byte, aduResponse []byte) (err error)
}

// Transporter moves an already-encoded ADU across RTU or TCP and returns
// the response ADU; it never interprets PDU contents.
type Transporter interface {
	Send(aduRequest []byte) (aduResponse []byte, err error)
	SendRawBytes(data []byte) (results []byte, err error)
	Close() error
}

// Client is the full initiator-facing surface a ClientHandler-backed
// Modbus client exposes: one method per function code, plus the raw /
// device-identification escape hatches.
type Client interface {
	GetInterfaceName() string
	SendRawBytes(data []byte) (results []byte, err error)
	SetSlaveId(slaveId byte)
	GetHandlerType() string
	Close() error
	Type() string
	GetTransporter() Transporter

	ReadCoils(address, quantity uint16) (results []byte, err error)
	ReadDiscreteInputs(address, quantity uint16) (results []byte, err error)
	ReadHoldingRegisters(address, quantity uint16) (results []byte, err error)
	ReadInputRegisters(address, quantity uint16) (results []byte, err error)
	WriteSingleCoil(address, value uint16) (results []byte, err error)
	WriteSingleRegister(address, value uint16) (results []byte, err error)
	WriteMultipleCoils(address, quantity uint16, value []byte) (results []byte, err error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) (results []byte, err error)
	MaskWriteRegister(address, andMask, orMask uint16) (results []byte, err error)
	ReadWriteMultipleRegisters(readAddress, readQuantity, writeAddress, writeQuantity uint16, value []byte) (results []byte, err error)
	ReadFIFOQueue(address uint16) (results []byte, err error)
	ReadWithCustomFunction(code byte, address, quantity uint16) (results []byte, err error)
	ReadDeviceIdentification(firstExtendedID byte) (results map[byte]string, err error)
}

// bytesToBool unpacks a byte slice into quantity bool values, LSB-first
// within each byte, the wire order used by fc 0x01/0x02 responses and by
// fc 0x0F requests (spec.md §4.2 — never "normalised" to any other order).
func bytesToBool(data []byte, quantity uint16) []bool {
	result := make([]bool, quantity)
	for i := uint16(0); i < quantity; i++ {
		byteIndex := i / 8
		bitIndex := i % 8
		if int(byteIndex) >= len(data) {
			break
		}
		result[i] = data[byteIndex]&(1<<bitIndex) != 0
	}
	return result
}

// packBits packs bool values LSB-first within each byte, the inverse of
// bytesToBool, used to build fc 0x0F write-multiple-coils requests.
func packBits(values []bool) []byte {
	byteCount := (len(values) + 7) / 8
	result := make([]byte, byteCount)
	for i, v := range values {
		if v {
			result[i/8] |= 1 << uint(i%8)
		}
	}
	return result
}

// toUint16s reinterprets a big-endian byte slice as a slice of uint16
// register values; the caller guarantees an even length.
func toUint16s(data []byte) []uint16 {
	result := make([]uint16, len(data)/2)
	for i := range result {
		result[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return result
}
