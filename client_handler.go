// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// tcpClientHandler drives a connected TCP socket directly (not through
// TCPTransporter — it owns MBAP framing itself via TCPPackager) behind the
// ClientHandler shape (Packager + Transporter) that client.go's NewClient
// expects, giving the extended function codes (mask write, read/write
// multiple, FIFO, device identification) a concrete, exercised entry point
// alongside the simpler ModbusApi surface in handler.go.
type tcpClientHandler struct {
	conn          net.Conn
	timeout       time.Duration
	packager      *TCPPackager
	slaveID       uint8
	transactionID uint32
	mu            sync.Mutex
}

// NewTCPClientHandler builds a ClientHandler for client.NewClient backed by
// an already-connected socket.
func NewTCPClientHandler(conn net.Conn, timeout time.Duration) ClientHandler {
	return &tcpClientHandler{
		conn:     conn,
		timeout:  timeout,
		packager: NewTCPPackager(),
		slaveID:  1,
	}
}

func (h *tcpClientHandler) Type() string { return "TCP" }

func (h *tcpClientHandler) SetSlaverId(slaveID byte) { h.slaveID = slaveID }

func (h *tcpClientHandler) GetInterfaceName() string {
	if h.conn == nil {
		return ""
	}
	return h.conn.RemoteAddr().String()
}

func (h *tcpClientHandler) nextTransactionID() uint16 {
	return uint16(atomic.AddUint32(&h.transactionID, 1) & 0xFFFF)
}

// Encode wraps a PDU in an MBAP header using the handler's slave ID and the
// next transaction ID in sequence.
func (h *tcpClientHandler) Encode(pdu *ProtocolDataUnit) ([]byte, error) {
	raw, err := buildRequestPDU(pdu.FunctionCode, pdu.Data)
	if err != nil {
		return nil, err
	}
	return h.packager.Pack(h.nextTransactionID(), h.slaveID, raw)
}

// Decode strips the MBAP header and returns the PDU it carried.
func (h *tcpClientHandler) Decode(adu []byte) (*ProtocolDataUnit, error) {
	_, _, pdu, err := h.packager.Unpack(adu)
	if err != nil {
		return nil, &FramingError{Reason: err.Error()}
	}
	if len(pdu) == 0 {
		return nil, &FramingError{Reason: "empty PDU in MBAP frame"}
	}
	return &ProtocolDataUnit{FunctionCode: pdu[0], Data: pdu[1:]}, nil
}

// Verify checks that the response's transaction ID and unit ID match the
// request that produced it (spec.md §7, CorrelationError).
func (h *tcpClientHandler) Verify(aduRequest, aduResponse []byte) error {
	reqTxID, reqUnit, _, err := h.packager.Unpack(aduRequest)
	if err != nil {
		return &FramingError{Reason: err.Error()}
	}
	respTxID, respUnit, _, err := h.packager.Unpack(aduResponse)
	if err != nil {
		return &FramingError{Reason: err.Error()}
	}
	if reqTxID != respTxID {
		return &CorrelationError{Reason: fmt.Sprintf("transaction ID mismatch: sent 0x%04X, received 0x%04X", reqTxID, respTxID)}
	}
	if reqUnit != respUnit {
		return &CorrelationError{Reason: fmt.Sprintf("unit ID mismatch: sent %d, received %d", reqUnit, respUnit)}
	}
	return nil
}

// Send writes a complete MBAP ADU and reads back the matching response ADU.
func (h *tcpClientHandler) Send(aduRequest []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.timeout > 0 {
		if err := h.conn.SetDeadline(time.Now().Add(h.timeout)); err != nil {
			return nil, &IoError{Reason: "failed to set deadline", Cause: err}
		}
		defer h.conn.SetDeadline(time.Time{})
	}

	if _, err := h.conn.Write(aduRequest); err != nil {
		return nil, &IoError{Reason: "write failed", Cause: err}
	}

	header := make([]byte, TCPHeaderLength)
	if _, err := io.ReadFull(h.conn, header); err != nil {
		return nil, &TransportTimeout{Reason: fmt.Sprintf("failed to read MBAP header: %v", err)}
	}
	length := uint16(header[4])<<8 | uint16(header[5])
	if length == 0 || length > MaxPDULength+1 {
		return nil, &FramingError{Reason: fmt.Sprintf("invalid length field: %d", length)}
	}
	pduLen := int(length) - 1
	payload := make([]byte, pduLen)
	if pduLen > 0 {
		if _, err := io.ReadFull(h.conn, payload); err != nil {
			return nil, &TransportTimeout{Reason: fmt.Sprintf("failed to read PDU: %v", err)}
		}
	}
	frame := make([]byte, TCPHeaderLength+pduLen)
	copy(frame, header)
	copy(frame[TCPHeaderLength:], payload)
	return frame, nil
}

// SendRawBytes writes data as-is and returns whatever comes back, bypassing
// MBAP framing entirely — used for diagnostic probes.
func (h *tcpClientHandler) SendRawBytes(data []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.conn.Write(data); err != nil {
		return nil, &IoError{Reason: "raw write failed", Cause: err}
	}
	buf := make([]byte, MaxTCPFrameLength)
	n, err := h.conn.Read(buf)
	if err != nil {
		return nil, &IoError{Reason: "raw read failed", Cause: err}
	}
	return buf[:n], nil
}

func (h *tcpClientHandler) Close() error {
	if h.conn == nil {
		return nil
	}
	return h.conn.Close()
}

// rtuClientHandler adapts a half-duplex serial port into the ClientHandler
// shape, for the same extended function codes over RTU.
type rtuClientHandler struct {
	port     io.ReadWriteCloser
	timeout  time.Duration
	packager *RTUPackager
	slaveID  uint8
	mu       sync.Mutex
}

// NewRTUClientHandler builds a ClientHandler for client.NewClient backed by
// a half-duplex serial port.
func NewRTUClientHandler(port io.ReadWriteCloser, timeout time.Duration) ClientHandler {
	return &rtuClientHandler{
		port:     port,
		timeout:  timeout,
		packager: NewRTUPackager(),
		slaveID:  1,
	}
}

func (h *rtuClientHandler) Type() string { return "RTU" }

func (h *rtuClientHandler) SetSlaverId(slaveID byte) { h.slaveID = slaveID }

func (h *rtuClientHandler) GetInterfaceName() string { return "RTU" }

func (h *rtuClientHandler) Encode(pdu *ProtocolDataUnit) ([]byte, error) {
	raw, err := buildRequestPDU(pdu.FunctionCode, pdu.Data)
	if err != nil {
		return nil, err
	}
	return h.packager.Pack(h.slaveID, raw)
}

func (h *rtuClientHandler) Decode(adu []byte) (*ProtocolDataUnit, error) {
	_, pdu, err := h.packager.Unpack(adu)
	if err != nil {
		return nil, &FramingError{Reason: err.Error()}
	}
	if len(pdu) == 0 {
		return nil, &FramingError{Reason: "empty PDU in RTU frame"}
	}
	return &ProtocolDataUnit{FunctionCode: pdu[0], Data: pdu[1:]}, nil
}

func (h *rtuClientHandler) Verify(aduRequest, aduResponse []byte) error {
	if !h.packager.VerifyCRC(aduResponse) {
		return &FramingError{Reason: "CRC verification failed"}
	}
	reqSlave, _, err := h.packager.Unpack(aduRequest)
	if err != nil {
		return &FramingError{Reason: err.Error()}
	}
	respSlave, _, err := h.packager.Unpack(aduResponse)
	if err != nil {
		return &FramingError{Reason: err.Error()}
	}
	if reqSlave != respSlave {
		return &CorrelationError{Reason: fmt.Sprintf("slave ID mismatch: sent %d, received %d", reqSlave, respSlave)}
	}
	return nil
}

func (h *rtuClientHandler) Send(aduRequest []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	written := 0
	for written < len(aduRequest) {
		n, err := h.port.Write(aduRequest[written:])
		if err != nil {
			return nil, &IoError{Reason: "write failed", Cause: err}
		}
		written += n
	}
	buf := make([]byte, 256)
	n, err := h.port.Read(buf)
	if err != nil {
		return nil, &TransportTimeout{Reason: fmt.Sprintf("read failed: %v", err)}
	}
	return buf[:n], nil
}

func (h *rtuClientHandler) SendRawBytes(data []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.port.Write(data); err != nil {
		return nil, &IoError{Reason: "raw write failed", Cause: err}
	}
	buf := make([]byte, 256)
	n, err := h.port.Read(buf)
	if err != nil {
		return nil, &IoError{Reason: "raw read failed", Cause: err}
	}
	return buf[:n], nil
}

func (h *rtuClientHandler) Close() error {
	if h.port == nil {
		return nil
	}
	return h.port.Close()
}
