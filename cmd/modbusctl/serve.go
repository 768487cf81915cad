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

package main

import (
	"fmt"

	modbus "github.com/hootrhino/gomodbus"
	"github.com/spf13/cobra"
)

var seedCount uint16

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a standalone responder (useful for testing other tools against)",
}

var serveTCPCmd = &cobra.Command{
	Use:   "tcp",
	Short: "Run a TCP responder, seeded with holding registers 0..N-1",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := seededStore(seedCount)
		server := modbus.NewTCPServer(modbus.NewDispatcher(store), nil)
		addr := fmt.Sprintf("%s:%d", host, port)
		if err := server.Listen(addr); err != nil {
			return err
		}
		fmt.Printf("modbusctl: serving tcp on %s (%d seeded holding registers)\n", addr, seedCount)
		return server.Serve()
	},
}

var serveRTUCmd = &cobra.Command{
	Use:   "rtu",
	Short: "Run an RTU responder over a serial port, seeded with holding registers 0..N-1",
	RunE: func(cmd *cobra.Command, args []string) error {
		if serialDev == "" {
			return fmt.Errorf("--serial is required for rtu serve")
		}
		port, err := modbus.OpenSerialPort(modbus.SerialConfig{
			Address:  serialDev,
			BaudRate: baudRate,
		})
		if err != nil {
			return err
		}
		defer port.Close()

		store := seededStore(seedCount)
		server := modbus.NewRTUServer(port, modbus.NewDispatcher(store), nil)
		fmt.Printf("modbusctl: serving rtu on %s (%d seeded holding registers)\n", serialDev, seedCount)
		for {
			if err := server.Step(); err != nil {
				return err
			}
		}
	},
}

func seededStore(n uint16) *modbus.Store {
	store := modbus.NewStore()
	for addr := uint16(0); addr < n; addr++ {
		store.HoldingRegisters.Add(addr, []uint16{0})
	}
	return store
}

func init() {
	serveCmd.PersistentFlags().Uint16Var(&seedCount, "seed", 16, "number of holding registers to seed at addresses 0..N-1")
	serveCmd.AddCommand(serveTCPCmd)
	serveCmd.AddCommand(serveRTUCmd)
}
