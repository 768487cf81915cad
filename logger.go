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
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel selects the minimum severity a Logger will emit, keeping the
// level-filtered API shape of the original SimpleLogger while the
// implementation underneath is backed by zap.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// Logger is the logging surface the responders (RTUServer, TCPServer), the
// Dispatcher and MQTTBridge accept via SetLogger; the initiator-side
// transports and ModbusHandler log to an io.Writer instead. The responders
// log CRC/framing/address discards and TCP client changes at Debug (the
// wire protocol treats discards as silent, so they should not be noisy by
// default), and the dispatcher logs exception replies at Warn.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	SetLevel(level LogLevel)
}

// zapLogger adapts a *zap.SugaredLogger, backed by an AtomicLevel so
// SetLevel can change verbosity on a running engine.
type zapLogger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

// NewLogger creates a Logger at the given starting level, writing
// human-readable console output (matching the teacher's io.Writer-based
// SimpleLogger in spirit, zap-backed in practice).
func NewLogger(level LogLevel) Logger {
	atomicLevel := zap.NewAtomicLevelAt(level.zapLevel())
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = atomicLevel
	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return &zapLogger{sugar: logger.Sugar(), level: atomicLevel}
}

func (l *zapLogger) Debugf(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *zapLogger) Infof(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *zapLogger) Warnf(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *zapLogger) Errorf(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

func (l *zapLogger) SetLevel(level LogLevel) {
	l.level.SetLevel(level.zapLevel())
}

// nopLogger discards everything; it is the default for components
// constructed without an explicit Logger.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) SetLevel(LogLevel)             {}
