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
	writeAddr  uint16
	writeValue uint16
	writeBool  bool
)

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Write a coil or register on a device",
}

var writeCoilCmd = &cobra.Command{
	Use:     "coil",
	Aliases: []string{"c"},
	Short:   "Write a single coil (fc 0x05)",
	RunE: func(cmd *cobra.Command, args []string) error {
		handler, closeFn, err := dialHandler()
		if err != nil {
			return err
		}
		defer closeFn()
		if err := handler.WriteSingleCoil(uint16(unitID), writeAddr, writeBool); err != nil {
			return err
		}
		fmt.Printf("wrote coil %d = %v\n", writeAddr, writeBool)
		return nil
	},
}

var writeRegisterCmd = &cobra.Command{
	Use:     "register",
	Aliases: []string{"r"},
	Short:   "Write a single holding register (fc 0x06)",
	RunE: func(cmd *cobra.Command, args []string) error {
		handler, closeFn, err := dialHandler()
		if err != nil {
			return err
		}
		defer closeFn()
		if err := handler.WriteSingleRegister(uint16(unitID), writeAddr, writeValue); err != nil {
			return err
		}
		fmt.Printf("wrote register %d = %d (0x%04X)\n", writeAddr, writeValue, writeValue)
		return nil
	},
}

func init() {
	writeCoilCmd.Flags().Uint16VarP(&writeAddr, "address", "a", 0, "coil address")
	writeCoilCmd.Flags().BoolVarP(&writeBool, "value", "v", false, "coil value")

	writeRegisterCmd.Flags().Uint16VarP(&writeAddr, "address", "a", 0, "register address")
	writeRegisterCmd.Flags().Uint16VarP(&writeValue, "value", "v", 0, "register value")

	writeCmd.AddCommand(writeCoilCmd)
	writeCmd.AddCommand(writeRegisterCmd)
}
