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

	"github.com/spf13/cobra"
)

var (
	readAddr  uint16
	readCount uint16
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read coils, discrete inputs, or registers from a device",
}

var readCoilsCmd = &cobra.Command{
	Use:     "coils",
	Aliases: []string{"c"},
	Short:   "Read coils (fc 0x01)",
	RunE: func(cmd *cobra.Command, args []string) error {
		handler, closeFn, err := dialHandler()
		if err != nil {
			return err
		}
		defer closeFn()
		values, err := handler.ReadCoils(uint16(unitID), readAddr, readCount)
		if err != nil {
			return err
		}
		for i, v := range values {
			fmt.Printf("%d: %v\n", int(readAddr)+i, v)
		}
		return nil
	},
}

var readDiscreteInputsCmd = &cobra.Command{
	Use:     "discrete-inputs",
	Aliases: []string{"di"},
	Short:   "Read discrete inputs (fc 0x02)",
	RunE: func(cmd *cobra.Command, args []string) error {
		handler, closeFn, err := dialHandler()
		if err != nil {
			return err
		}
		defer closeFn()
		values, err := handler.ReadDiscreteInputs(uint16(unitID), readAddr, readCount)
		if err != nil {
			return err
		}
		for i, v := range values {
			fmt.Printf("%d: %v\n", int(readAddr)+i, v)
		}
		return nil
	},
}

var readHregsCmd = &cobra.Command{
	Use:     "hregs",
	Aliases: []string{"hr"},
	Short:   "Read holding registers (fc 0x03)",
	RunE: func(cmd *cobra.Command, args []string) error {
		handler, closeFn, err := dialHandler()
		if err != nil {
			return err
		}
		defer closeFn()
		values, err := handler.ReadHoldingRegisters(uint16(unitID), readAddr, readCount)
		if err != nil {
			return err
		}
		for i, v := range values {
			fmt.Printf("%d: %d (0x%04X)\n", int(readAddr)+i, v, v)
		}
		return nil
	},
}

var readIregsCmd = &cobra.Command{
	Use:     "iregs",
	Aliases: []string{"ir"},
	Short:   "Read input registers (fc 0x04)",
	RunE: func(cmd *cobra.Command, args []string) error {
		handler, closeFn, err := dialHandler()
		if err != nil {
			return err
		}
		defer closeFn()
		values, err := handler.ReadInputRegisters(uint16(unitID), readAddr, readCount)
		if err != nil {
			return err
		}
		for i, v := range values {
			fmt.Printf("%d: %d (0x%04X)\n", int(readAddr)+i, v, v)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{readCoilsCmd, readDiscreteInputsCmd, readHregsCmd, readIregsCmd} {
		c.Flags().Uint16VarP(&readAddr, "address", "a", 0, "start address")
		c.Flags().Uint16VarP(&readCount, "count", "c", 1, "quantity to read")
		readCmd.AddCommand(c)
	}
}
