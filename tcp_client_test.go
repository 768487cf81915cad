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
	"net"
	"testing"
	"time"
)

// startTestTCPServer builds a responder backed by an in-memory Store
// seeded with sample holding registers, listening on an ephemeral port.
// It replaces the teacher's dependency on the external mbserver package
// (see DESIGN.md) with the engine's own responder: this is the component
// the spec asks us to build, not something to borrow.
func startTestTCPServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	store := NewStore()
	for addr := uint16(0); addr < 10; addr++ {
		store.HoldingRegisters.Add(addr, []uint16{0xABCD})
	}

	server := NewTCPServer(NewDispatcher(store), nil)
	if err := server.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if err := server.AcceptStep(0); err != nil {
				return
			}
			for server.Step(0) == nil {
			}
		}
	}()

	ln := server.listener
	return ln.Addr().String(), func() {
		server.Close()
		<-done
	}
}

func TestModbusSlaverTCP(t *testing.T) {
	addr, stop := startTestTCPServer(t)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to connect to server: %v", err)
	}
	defer conn.Close()

	handler := NewModbusTCPHandler(conn, 5*time.Second)
	testTCPHandler(t, handler)
}

func testTCPHandler(t *testing.T, handler ModbusApi) {
	for i := 0; i < 9; i++ {
		result1, err := handler.ReadHoldingRegisters(1, uint16(i), 1)
		if err != nil {
			t.Fatalf("ReadHoldingRegisters failed: %v", err)
		}
		t.Logf("ReadHoldingRegisters result: %X", result1)
		if err := AssertUint16Equal([]uint16{0xABCD}, result1); err != nil {
			t.Fatalf("ReadHoldingRegisters result mismatch: %v", err)
		}
	}
}
