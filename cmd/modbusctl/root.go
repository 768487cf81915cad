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
	"net"
	"os"
	"time"

	modbus "github.com/hootrhino/gomodbus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string

	transport string // "tcp" or "rtu"
	host      string
	port      int
	serialDev string
	baudRate  int
	unitID    uint8
	timeout   time.Duration
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "modbusctl",
	Short: "A command-line client and test responder for the gomodbus engine",
	Long: `modbusctl drives a Modbus TCP or RTU device from the shell:

  # Read 10 holding registers from a TCP device
  modbusctl read hregs --host 192.168.1.100 --port 502 -a 0 -c 10

  # Write a single register over RTU
  modbusctl write register --transport rtu --serial /dev/ttyUSB0 --baud 9600 -a 100 -v 1234

  # Scan a range of unit addresses for a response
  modbusctl scan --host 192.168.1.100 --from 1 --to 32

  # Run a standalone TCP responder to test other tools against
  modbusctl serve tcp --host 0.0.0.0 --port 15020`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.modbusctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "tcp", "transport: tcp or rtu")
	rootCmd.PersistentFlags().StringVar(&host, "host", "127.0.0.1", "TCP host")
	rootCmd.PersistentFlags().IntVar(&port, "port", 502, "TCP port")
	rootCmd.PersistentFlags().StringVar(&serialDev, "serial", "", "RTU serial device, e.g. /dev/ttyUSB0")
	rootCmd.PersistentFlags().IntVar(&baudRate, "baud", 9600, "RTU baud rate")
	rootCmd.PersistentFlags().Uint8Var(&unitID, "unit", 1, "Modbus unit/slave address")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose output")

	viper.BindPFlag("host", rootCmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("unit", rootCmd.PersistentFlags().Lookup("unit"))

	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(serveCmd)
}

func initConfig() {
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}
}

// dialHandler builds a ModbusApi against whichever transport was selected.
func dialHandler() (modbus.ModbusApi, func(), error) {
	switch transport {
	case "rtu":
		if serialDev == "" {
			return nil, nil, fmt.Errorf("--serial is required for rtu transport")
		}
		port, err := modbus.OpenSerialPort(modbus.SerialConfig{
			Address:  serialDev,
			BaudRate: baudRate,
			Timeout:  timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		handler := modbus.NewModbusRTUHandler(port, timeout)
		return handler, func() { port.Close() }, nil
	case "tcp":
		addr := fmt.Sprintf("%s:%d", host, port)
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		handler := modbus.NewModbusTCPHandler(conn, timeout)
		return handler, func() { conn.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q (want tcp or rtu)", transport)
	}
}
