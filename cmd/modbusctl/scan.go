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
	"errors"
	"fmt"

	modbus "github.com/hootrhino/gomodbus"
	"github.com/spf13/cobra"
)

var (
	scanFrom uint8
	scanTo   uint8
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Probe a range of unit addresses for a response",
	Long:  `Tries a harmless single-holding-register read (fc 0x03, address 0) against each unit address in [--from, --to] and reports which ones answer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		handler, closeFn, err := dialHandler()
		if err != nil {
			return err
		}
		defer closeFn()

		found := 0
		for unit := uint16(scanFrom); unit <= uint16(scanTo); unit++ {
			_, err := handler.ReadHoldingRegisters(unit, 0, 1)
			var modbusErr *modbus.ModbusError
			if err == nil || errors.As(err, &modbusErr) {
				fmt.Printf("unit %d: responding\n", unit)
				found++
			}
			if scanTo == 255 && unit == 255 {
				break
			}
		}
		fmt.Printf("scan complete: %d of %d units responded\n", found, int(scanTo)-int(scanFrom)+1)
		return nil
	},
}

func init() {
	scanCmd.Flags().Uint8Var(&scanFrom, "from", 1, "first unit address")
	scanCmd.Flags().Uint8Var(&scanTo, "to", 32, "last unit address")
}
