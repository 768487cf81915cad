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
	"io"
	"sync/atomic"
	"testing"
	"time"
)

// duplexPipe joins two io.Pipe pairs into one io.ReadWriteCloser, standing
// in for a half-duplex serial port in tests without requiring real
// hardware (the teacher's equivalent test opened a literal COM3 device).
type duplexPipe struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (d *duplexPipe) Read(p []byte) (int, error)  { return d.r.Read(p) }
func (d *duplexPipe) Write(p []byte) (int, error) { return d.w.Write(p) }
func (d *duplexPipe) Close() error {
	d.r.Close()
	return d.w.Close()
}

// newLoopbackRTU returns the two ends of an in-memory full-duplex link.
func newLoopbackRTU() (client, server *duplexPipe) {
	ar, aw := io.Pipe()
	br, bw := io.Pipe()
	return &duplexPipe{r: br, w: aw}, &duplexPipe{r: ar, w: bw}
}

func TestModbusDevicePollerWithRTU(t *testing.T) {
	clientPort, serverPort := newLoopbackRTU()
	defer clientPort.Close()

	store := NewStore()
	store.HoldingRegisters.Add(0, []uint16{1, 2, 3, 4, 5})
	rtuServer := NewRTUServer(serverPort, NewDispatcher(store), nil)
	go func() {
		for rtuServer.Step() == nil {
		}
	}()

	handler := NewModbusRTUHandler(clientPort, time.Second)

	tests := []struct {
		name            string
		registers       []DeviceRegister
		expectedDataLen int
	}{
		{
			name: "RTU Poller with Success",
			registers: []DeviceRegister{
				{Tag: "reg1", SlaverId: 1, ReadAddress: 0, ReadQuantity: 5, Function: 3},
			},
			expectedDataLen: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := NewModbusRegisterManager(handler, 10)
			if err := mgr.LoadRegisters(tt.registers); err != nil {
				t.Fatalf("LoadRegisters failed: %v", err)
			}

			poller := NewModbusDevicePoller(100 * time.Millisecond)
			poller.AddManager(mgr)

			var dataReceived int32
			var errorReceived int32
			mgr.SetOnData(func(data []DeviceRegister) {
				atomic.AddInt32(&dataReceived, 1)
				if len(data) != tt.expectedDataLen {
					t.Errorf("expected %d registers, got %d", tt.expectedDataLen, len(data))
				}
				for _, reg := range data {
					if len(reg.Value) == 0 {
						t.Errorf("register %s has empty value", reg.Tag)
					}
				}
			})

			mgr.SetOnError(func(err error) {
				atomic.AddInt32(&errorReceived, 1)
				t.Errorf("unexpected error: %v", err)
			})

			poller.Start()
			defer poller.Stop()

			time.Sleep(250 * time.Millisecond)

			if atomic.LoadInt32(&dataReceived) == 0 {
				t.Error("expected data callback to be called, but it wasn't")
			}
			if atomic.LoadInt32(&errorReceived) > 0 {
				t.Errorf("expected no errors, but got %d", errorReceived)
			}
		})
	}
}
