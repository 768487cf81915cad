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
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// TCPTransporter is the C3-TCP transport backing ModbusHandler
// (handler.go): MBAP framing over a net.Conn, keyed on transaction ID
// rather than the opaque ADU pdu.go's Transporter interface expects. Like
// RTUTransporter, it is driven directly by handler.go; the extended
// Client surface in client.go/client_handler.go owns its TCP I/O
// independently.
type TCPTransporter struct {
	conn          net.Conn
	timeout       time.Duration
	packager      *TCPPackager
	logger        *log.Logger
	transactionID uint32
	mu            sync.RWMutex
	closed        int32

	keepAlive     bool
	keepAliveConf *KeepAliveConfig
}

// KeepAliveConfig holds TCP keep-alive configuration.
type KeepAliveConfig struct {
	Enabled  bool
	Idle     time.Duration
	Interval time.Duration
	Count    int
}

// TCPTransporterConfig holds configuration for creating a TCPTransporter.
type TCPTransporterConfig struct {
	Timeout   time.Duration
	KeepAlive *KeepAliveConfig
	Logger    io.Writer
}

// DefaultTCPTransporterConfig returns default configuration.
func DefaultTCPTransporterConfig() TCPTransporterConfig {
	return TCPTransporterConfig{
		Timeout: 5 * time.Second,
		KeepAlive: &KeepAliveConfig{
			Enabled:  true,
			Idle:     30 * time.Second,
			Interval: 30 * time.Second,
			Count:    3,
		},
	}
}

// NewTCPTransporter creates a new TCPTransporter with the given connection
// and configuration.
func NewTCPTransporter(conn net.Conn, config TCPTransporterConfig) *TCPTransporter {
	if config.Timeout == 0 {
		config.Timeout = DefaultTCPTransporterConfig().Timeout
	}

	var tcpLogger *log.Logger
	if config.Logger != nil {
		tcpLogger = log.New(config.Logger, "[TCP] ", log.LstdFlags|log.Lshortfile)
	}

	transporter := &TCPTransporter{
		conn:     conn,
		timeout:  config.Timeout,
		packager: NewTCPPackager(),
		logger:   tcpLogger,
	}

	if config.KeepAlive != nil && config.KeepAlive.Enabled {
		transporter.keepAlive = true
		transporter.keepAliveConf = config.KeepAlive
		transporter.configureKeepAlive()
	}

	return transporter
}

// NewTCPTransporterSimple creates a new TCPTransporter with the defaults
// plus a caller-supplied timeout and optional logger.
func NewTCPTransporterSimple(conn net.Conn, timeout time.Duration, logger io.Writer) *TCPTransporter {
	config := DefaultTCPTransporterConfig()
	config.Timeout = timeout
	config.Logger = logger
	return NewTCPTransporter(conn, config)
}

// configureKeepAlive sets up TCP keep-alive parameters.
func (t *TCPTransporter) configureKeepAlive() {
	if tcpConn, ok := t.conn.(*net.TCPConn); ok && t.keepAliveConf != nil {
		if err := tcpConn.SetKeepAlive(t.keepAliveConf.Enabled); err != nil {
			t.log("failed to set keep-alive: %v", err)
			return
		}

		if t.keepAliveConf.Enabled {
			if err := tcpConn.SetKeepAlivePeriod(t.keepAliveConf.Idle); err != nil {
				t.log("failed to set keep-alive period: %v", err)
			}
		}
	}
}

func (t *TCPTransporter) log(format string, v ...any) {
	if t.logger != nil {
		t.logger.Printf(format, v...)
	}
}

// NextTransactionID generates the next transaction ID using atomic operations.
func (t *TCPTransporter) NextTransactionID() uint16 {
	id := atomic.AddUint32(&t.transactionID, 1)
	return uint16(id & 0xFFFF)
}

func (t *TCPTransporter) setDeadline() error {
	if t.timeout > 0 {
		return t.conn.SetDeadline(time.Now().Add(t.timeout))
	}
	return nil
}

func (t *TCPTransporter) clearDeadline() {
	t.conn.SetDeadline(time.Time{})
}

// IsClosed returns whether the transporter is closed.
func (t *TCPTransporter) IsClosed() bool {
	return atomic.LoadInt32(&t.closed) == 1
}

// WriteRaw writes raw bytes directly to the connection.
func (t *TCPTransporter) WriteRaw(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.IsClosed() {
		return &IoError{Reason: "transporter is closed"}
	}
	if len(data) == 0 {
		return &InvalidArgument{Reason: "no data to write"}
	}

	t.log("writing raw data: %d bytes", len(data))

	if err := t.setDeadline(); err != nil {
		return &IoError{Reason: "failed to set write deadline", Cause: err}
	}
	defer t.clearDeadline()

	written := 0
	for written < len(data) {
		n, err := t.conn.Write(data[written:])
		if err != nil {
			return &IoError{Reason: fmt.Sprintf("write failed after %d bytes", written), Cause: err}
		}
		written += n
	}

	t.log("successfully wrote %d bytes", written)
	return nil
}

// ReadRaw reads whatever arrives next on the connection, up to one full
// Modbus TCP frame.
func (t *TCPTransporter) ReadRaw() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.IsClosed() {
		return nil, &IoError{Reason: "transporter is closed"}
	}

	buffer := make([]byte, MaxTCPFrameLength)

	t.log("reading raw data from connection")

	if err := t.setDeadline(); err != nil {
		return nil, &IoError{Reason: "failed to set read deadline", Cause: err}
	}
	defer t.clearDeadline()

	n, err := t.conn.Read(buffer)
	if err != nil {
		return nil, &TransportTimeout{Reason: fmt.Sprintf("read failed: %v", err)}
	}

	data := buffer[:n]
	t.log("read %d bytes of raw data", n)

	return data, nil
}

// Send packs pdu behind unitID with a freshly assigned transaction ID and
// writes the resulting MBAP frame, returning the transaction ID used.
func (t *TCPTransporter) Send(unitID uint8, pdu []byte) (uint16, error) {
	transactionID := t.NextTransactionID()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.IsClosed() {
		return transactionID, &IoError{Reason: "transporter is closed"}
	}
	if len(pdu) == 0 {
		return transactionID, &InvalidArgument{Reason: "PDU cannot be empty"}
	}

	t.log("sending PDU: TxID=0x%04X, UnitID=%d, PDU length=%d", transactionID, unitID, len(pdu))

	frame, err := t.packager.Pack(transactionID, unitID, pdu)
	if err != nil {
		return transactionID, &FramingError{Reason: fmt.Sprintf("failed to pack PDU: %v", err)}
	}

	if err := t.setDeadline(); err != nil {
		return transactionID, &IoError{Reason: "failed to set write deadline", Cause: err}
	}
	defer t.clearDeadline()

	written := 0
	for written < len(frame) {
		n, err := t.conn.Write(frame[written:])
		if err != nil {
			return transactionID, &IoError{Reason: fmt.Sprintf("write failed after %d bytes", written), Cause: err}
		}
		written += n
	}

	t.log("successfully sent %d bytes (TxID=0x%04X)", written, transactionID)
	return transactionID, nil
}

// Receive reads a complete Modbus TCP response (MBAP header, then the PDU
// its length field describes) from the connection.
func (t *TCPTransporter) Receive() (transactionID uint16, unitID uint8, pdu []byte, err error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.IsClosed() {
		return 0, 0, nil, &IoError{Reason: "transporter is closed"}
	}

	t.log("receiving response from connection")

	if err = t.setDeadline(); err != nil {
		return 0, 0, nil, &IoError{Reason: "failed to set read deadline", Cause: err}
	}
	defer t.clearDeadline()

	header := make([]byte, TCPHeaderLength)
	if _, err = io.ReadFull(t.conn, header); err != nil {
		return 0, 0, nil, &TransportTimeout{Reason: fmt.Sprintf("failed to read MBAP header: %v", err)}
	}

	length := uint16(header[4])<<8 | uint16(header[5])
	if length == 0 {
		return 0, 0, nil, &FramingError{Reason: "invalid length field: cannot be zero"}
	}
	if length > MaxPDULength+1 {
		return 0, 0, nil, &FramingError{Reason: fmt.Sprintf("length field too large: %d, maximum: %d", length, MaxPDULength+1)}
	}

	pduLength := int(length) - 1
	pduData := make([]byte, pduLength)
	if pduLength > 0 {
		if _, err = io.ReadFull(t.conn, pduData); err != nil {
			return 0, 0, nil, &TransportTimeout{Reason: fmt.Sprintf("failed to read PDU (%d bytes): %v", pduLength, err)}
		}
	}

	completeFrame := make([]byte, TCPHeaderLength+pduLength)
	copy(completeFrame, header)
	copy(completeFrame[TCPHeaderLength:], pduData)

	transactionID, unitID, pdu, err = t.packager.Unpack(completeFrame)
	if err != nil {
		return 0, 0, nil, &FramingError{Reason: fmt.Sprintf("failed to unpack frame: %v", err)}
	}

	t.log("successfully received response: TxID=0x%04X, UnitID=%d, PDU length=%d",
		transactionID, unitID, len(pdu))

	return transactionID, unitID, pdu, nil
}

// Close closes the underlying connection and marks the transporter as closed.
func (t *TCPTransporter) Close() error {
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return nil // Already closed
	}

	t.log("closing TCP transporter")

	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
