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
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// unitAddrFilter reports whether addr is one this responder answers to.
// An empty allow-list answers every unit address (the common single-device
// RTU/TCP slave case); a non-empty one restricts to exactly those
// addresses, matching spec.md §4.3's get_request(allowed_unit_addrs, ...).
type unitAddrFilter struct {
	allowed map[uint8]bool
}

func newUnitAddrFilter(allowed []uint8) unitAddrFilter {
	if len(allowed) == 0 {
		return unitAddrFilter{}
	}
	set := make(map[uint8]bool, len(allowed))
	for _, a := range allowed {
		set[a] = true
	}
	return unitAddrFilter{allowed: set}
}

func (f unitAddrFilter) Accepts(addr uint8) bool {
	if f.allowed == nil {
		return true
	}
	return f.allowed[addr]
}

// RTUServer is the responder role over a half-duplex serial port: it
// composes C3-RTU framing with the C4 dispatcher, following the
// IDLE→PARSING→DISPATCHING state machine one frame at a time.
type RTUServer struct {
	port       io.ReadWriteCloser
	packager   *RTUPackager
	dispatcher *Dispatcher
	filter     unitAddrFilter
	logger     Logger
}

// NewRTUServer builds an RTU responder serving requests for allowedUnits
// (empty means "answer any unit address") against dispatcher.
func NewRTUServer(port io.ReadWriteCloser, dispatcher *Dispatcher, allowedUnits []uint8) *RTUServer {
	return &RTUServer{
		port:       port,
		packager:   NewRTUPackager(),
		dispatcher: dispatcher,
		filter:     newUnitAddrFilter(allowedUnits),
		logger:     nopLogger{},
	}
}

// SetLogger installs a logger used for discarded-frame diagnostics (Debug
// level, since these are silent-by-protocol per spec.md §4.3).
func (s *RTUServer) SetLogger(l Logger) {
	if l != nil {
		s.logger = l
	}
}

// Step performs at most one request→response cycle: read one frame, and if
// it is addressed to us and well-framed, dispatch and reply. A CRC failure
// or an address-filter rejection is discarded silently, matching the wire
// protocol's mandate of no response to broadcasts or foreign addresses.
// Any read error (including timeout) is returned so the caller's scheduler
// can decide what to do next; it is not itself a protocol violation.
func (s *RTUServer) Step() error {
	frame, err := s.readFrame()
	if err != nil {
		return err
	}

	if !s.packager.VerifyCRC(frame) {
		s.logger.Debugf("rtu: dropping frame with bad CRC")
		return nil
	}
	unitAddr, pdu, err := s.packager.Unpack(frame)
	if err != nil {
		s.logger.Debugf("rtu: dropping unparseable frame: %v", err)
		return nil
	}
	if !s.filter.Accepts(unitAddr) {
		s.logger.Debugf("rtu: dropping frame for unaddressed unit %d", unitAddr)
		return nil
	}
	if len(pdu) == 0 {
		return nil
	}

	req := &Request{UnitAddr: unitAddr, Function: pdu[0], Data: pdu}
	if len(pdu) >= 5 {
		req.RegisterAddr = uint16(pdu[1])<<8 | uint16(pdu[2])
		req.Quantity = uint16(pdu[3])<<8 | uint16(pdu[4])
		req.Data = pdu[1:]
	}

	respPDU := s.dispatcher.Dispatch(req)
	respFrame, err := s.packager.Pack(unitAddr, respPDU)
	if err != nil {
		return &FramingError{Reason: err.Error()}
	}
	_, err = s.port.Write(respFrame)
	return err
}

// readFrame reads one RTU frame. Real half-duplex drivers delimit frames
// by inter-character timing (spec.md §4.3); this relies on the underlying
// io.ReadWriteCloser (e.g. goserial) to return one logical frame per Read,
// as the teacher's RTUTransporter.ReadRaw does.
func (s *RTUServer) readFrame() ([]byte, error) {
	buf := make([]byte, 256)
	n, err := s.port.Read(buf)
	if err != nil {
		return nil, &TransportTimeout{Reason: err.Error()}
	}
	if n < 4 {
		return nil, &FramingError{Reason: "frame shorter than minimum 4 bytes"}
	}
	return buf[:n], nil
}

// Close releases the underlying port.
func (s *RTUServer) Close() error {
	return s.port.Close()
}

// TCPServer is the responder role over TCP: it listens, keeps at most one
// active client (replacing any previous connection on new accept, per
// spec.md §4.4), and services that connection one frame at a time.
type TCPServer struct {
	listener   net.Listener
	dispatcher *Dispatcher
	filter     unitAddrFilter
	packager   *TCPPackager
	logger     Logger

	mu     sync.Mutex
	active net.Conn
}

// NewTCPServer builds a TCP responder. Call Listen to bind, then Step (or
// Serve, for a blocking accept+step loop) to service requests.
func NewTCPServer(dispatcher *Dispatcher, allowedUnits []uint8) *TCPServer {
	return &TCPServer{
		dispatcher: dispatcher,
		filter:     newUnitAddrFilter(allowedUnits),
		packager:   NewTCPPackager(),
		logger:     nopLogger{},
	}
}

// SetLogger installs a logger for connection-lifecycle and dispatch
// diagnostics.
func (s *TCPServer) SetLogger(l Logger) {
	if l != nil {
		s.logger = l
	}
}

// Listen binds the responder's TCP port. net.ListenConfig takes no backlog
// argument, so the operating system's default accept backlog applies;
// tcpListenBacklog is not passed to the listener.
func (s *TCPServer) Listen(address string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", address)
	if err != nil {
		return &IoError{Reason: "listen failed", Cause: err}
	}
	s.listener = ln
	return nil
}

const tcpListenBacklog = 10

// AcceptStep accepts at most one pending connection, replacing any
// previously active client — the single-active-client model of
// spec.md §4.4. A positive timeout sets an accept deadline; with a zero
// timeout no deadline is set and Accept blocks until a connection arrives
// or the listener is closed, so there is no non-blocking poll mode. A
// closed listener is reported as IoError; any other accept failure,
// including an expired deadline, as TransportTimeout.
func (s *TCPServer) AcceptStep(timeout time.Duration) error {
	if tcpListener, ok := s.listener.(*net.TCPListener); ok && timeout > 0 {
		tcpListener.SetDeadline(time.Now().Add(timeout))
	}
	conn, err := s.listener.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return &IoError{Reason: "listener closed", Cause: err}
		}
		return &TransportTimeout{Reason: err.Error()}
	}

	s.mu.Lock()
	if s.active != nil {
		s.logger.Debugf("tcp: replacing previously active client %s", s.active.RemoteAddr())
		s.active.Close()
	}
	s.active = conn
	s.mu.Unlock()
	return nil
}

// Step performs one request→response cycle on the active client: reads one
// MBAP frame, dispatches it, and writes the response with the same
// transaction ID (spec.md §4.4: "The same transaction_id is echoed in the
// corresponding response"). An address-filter rejection sends no reply at
// all (SPEC_FULL.md §5's resolution of that ambiguity).
func (s *TCPServer) Step(timeout time.Duration) error {
	s.mu.Lock()
	conn := s.active
	s.mu.Unlock()
	if conn == nil {
		return &IoError{Reason: "no active client connection"}
	}

	if timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
	}

	header := make([]byte, TCPHeaderLength)
	if _, err := io.ReadFull(conn, header); err != nil {
		return &TransportTimeout{Reason: err.Error()}
	}
	length := uint16(header[4])<<8 | uint16(header[5])
	if length == 0 || length > MaxPDULength+1 {
		return &FramingError{Reason: "invalid length field"}
	}
	payload := make([]byte, int(length)-1)
	if len(payload) > 0 {
		if _, err := io.ReadFull(conn, payload); err != nil {
			return &TransportTimeout{Reason: err.Error()}
		}
	}
	frame := make([]byte, TCPHeaderLength+len(payload))
	copy(frame, header)
	copy(frame[TCPHeaderLength:], payload)

	transactionID, unitAddr, pdu, err := s.packager.Unpack(frame)
	if err != nil {
		return &FramingError{Reason: err.Error()}
	}
	if !s.filter.Accepts(unitAddr) {
		s.logger.Debugf("tcp: dropping frame for unaddressed unit %d, no reply sent", unitAddr)
		return nil
	}
	if len(pdu) == 0 {
		return &FramingError{Reason: "empty PDU"}
	}

	req := &Request{UnitAddr: unitAddr, Function: pdu[0], Data: pdu}
	if len(pdu) >= 5 {
		req.RegisterAddr = uint16(pdu[1])<<8 | uint16(pdu[2])
		req.Quantity = uint16(pdu[3])<<8 | uint16(pdu[4])
		req.Data = pdu[1:]
	}

	respPDU := s.dispatcher.Dispatch(req)
	respFrame, err := s.packager.Pack(transactionID, unitAddr, respPDU)
	if err != nil {
		return &FramingError{Reason: err.Error()}
	}
	_, err = conn.Write(respFrame)
	return err
}

// Serve runs a blocking accept+step loop until the listener is closed or
// ctx-less cancellation is requested by the caller closing the listener
// from another goroutine; intended for hosts that want a simple
// always-on responder rather than composing Step() into their own
// scheduler.
func (s *TCPServer) Serve() error {
	for {
		if err := s.AcceptStep(0); err != nil {
			if ne, ok := err.(*TransportTimeout); ok {
				s.logger.Debugf("tcp: accept failed: %v", ne)
				continue
			}
			return err
		}
		for {
			if err := s.Step(0); err != nil {
				s.logger.Debugf("tcp: client session ended: %v", err)
				break
			}
		}
	}
}

// Close stops accepting new connections and closes the active client.
func (s *TCPServer) Close() error {
	s.mu.Lock()
	if s.active != nil {
		s.active.Close()
	}
	s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
