package modbus

import (
	"encoding/binary"
	"fmt"
)

// Modbus TCP Protocol Constants
const (
	TCPHeaderLength   = 7                              // MBAP header length in bytes
	MaxPDULength      = 253                            // Maximum PDU length according to Modbus spec
	MaxTCPFrameLength = TCPHeaderLength + MaxPDULength // Maximum complete frame length
)

// TCPPackager packs and unpacks Modbus TCP frames (MBAP header + PDU) for
// TCPTransporter and tcpClientHandler.
type TCPPackager struct{}

// NewTCPPackager creates a new TCPPackager.
func NewTCPPackager() *TCPPackager {
	return &TCPPackager{}
}

// Pack packs a Modbus TCP PDU into a complete TCP frame.
// The TCP frame format is: MBAP (7 bytes) + PDU (variable length).
// MBAP format: Transaction Identifier (2 bytes) + Protocol Identifier (2 bytes) + Length (2 bytes) + Unit Identifier (1 byte).
func (p *TCPPackager) Pack(transactionID uint16, unitID uint8, pdu []byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, &InvalidArgument{Reason: "PDU cannot be empty"}
	}
	if len(pdu) > MaxPDULength {
		return nil, &InvalidArgument{Reason: fmt.Sprintf("PDU length %d exceeds maximum %d bytes", len(pdu), MaxPDULength)}
	}

	// Length field includes the Unit Identifier (1 byte) + PDU length
	length := uint16(len(pdu) + 1)

	frame := make([]byte, TCPHeaderLength+len(pdu))

	binary.BigEndian.PutUint16(frame[0:2], transactionID)        // Transaction Identifier
	binary.BigEndian.PutUint16(frame[2:4], ProtocolIdentifierTCP) // Protocol Identifier
	binary.BigEndian.PutUint16(frame[4:6], length)                // Length
	frame[6] = unitID                                             // Unit Identifier

	copy(frame[7:], pdu)

	return frame, nil
}

// Unpack unpacks a Modbus TCP frame into a Transaction Identifier, Unit Identifier, and PDU.
func (p *TCPPackager) Unpack(frame []byte) (transactionID uint16, unitID uint8, pdu []byte, err error) {
	if len(frame) < TCPHeaderLength {
		return 0, 0, nil, &FramingError{Reason: fmt.Sprintf("invalid TCP frame length: %d bytes, minimum required: %d bytes", len(frame), TCPHeaderLength)}
	}
	if len(frame) > MaxTCPFrameLength {
		return 0, 0, nil, &FramingError{Reason: fmt.Sprintf("TCP frame length %d exceeds maximum %d bytes", len(frame), MaxTCPFrameLength)}
	}

	transactionID = binary.BigEndian.Uint16(frame[0:2])
	protocolID := binary.BigEndian.Uint16(frame[2:4])
	length := binary.BigEndian.Uint16(frame[4:6])
	unitID = frame[6]

	if protocolID != ProtocolIdentifierTCP {
		return 0, 0, nil, &FramingError{Reason: fmt.Sprintf("invalid protocol identifier: 0x%04X, expected 0x%04X", protocolID, ProtocolIdentifierTCP)}
	}
	if length == 0 {
		return 0, 0, nil, &FramingError{Reason: "invalid length field: cannot be zero"}
	}

	pdu = frame[7:]

	// Length = Unit ID (1 byte) + PDU length
	expectedLength := uint16(len(pdu) + 1)
	if length != expectedLength {
		return 0, 0, nil, &FramingError{Reason: fmt.Sprintf("length field mismatch: header indicates %d, actual frame has %d", length, expectedLength)}
	}
	if len(pdu) > MaxPDULength {
		return 0, 0, nil, &FramingError{Reason: fmt.Sprintf("PDU length %d exceeds maximum %d bytes", len(pdu), MaxPDULength)}
	}

	return transactionID, unitID, pdu, nil
}

// ValidateFrame performs basic validation on a TCP frame without full unpacking.
func (p *TCPPackager) ValidateFrame(frame []byte) error {
	if len(frame) < TCPHeaderLength {
		return &FramingError{Reason: fmt.Sprintf("frame too short: %d bytes, minimum: %d bytes", len(frame), TCPHeaderLength)}
	}
	if len(frame) > MaxTCPFrameLength {
		return &FramingError{Reason: fmt.Sprintf("frame too long: %d bytes, maximum: %d bytes", len(frame), MaxTCPFrameLength)}
	}

	protocolID := binary.BigEndian.Uint16(frame[2:4])
	if protocolID != ProtocolIdentifierTCP {
		return &FramingError{Reason: fmt.Sprintf("invalid protocol identifier: 0x%04X", protocolID)}
	}

	length := binary.BigEndian.Uint16(frame[4:6])
	if length == 0 {
		return &FramingError{Reason: "invalid length field: cannot be zero"}
	}

	expectedFrameLength := int(length) + 6 // Length field + Transaction ID + Protocol ID + Length field itself
	if len(frame) != expectedFrameLength {
		return &FramingError{Reason: fmt.Sprintf("frame length mismatch: expected %d, got %d", expectedFrameLength, len(frame))}
	}

	return nil
}
