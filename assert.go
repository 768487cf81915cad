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

import "fmt"

// AssertUint16Equal compares two uint16 register slices, used by tests
// asserting on DecodeValue output or on ReadHoldingRegisters results rather
// than by a production code path.
func AssertUint16Equal(expected []uint16, actual []uint16) error {
	if len(expected) != len(actual) {
		return &ValidationFailure{Reason: fmt.Sprintf("expected length %d, but got %d", len(expected), len(actual))}
	}
	for i := range expected {
		if expected[i] != actual[i] {
			return &ValidationFailure{Reason: fmt.Sprintf("expected %v, but got %v", expected, actual)}
		}
	}
	return nil
}
