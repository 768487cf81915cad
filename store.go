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
	"fmt"
	"sort"
	"sync"
)

// BankName identifies one of the four Modbus register banks.
type BankName string

const (
	BankCoils            BankName = "COILS"
	BankDiscreteInputs   BankName = "ISTS"
	BankHoldingRegisters BankName = "HREGS"
	BankInputRegisters   BankName = "IREGS"
)

// NotFoundError is returned by bank.Get/Remove when an address has no entry.
type NotFoundError struct {
	Bank    BankName
	Address uint16
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("modbus: address %d not found in bank %s", e.Address, e.Bank)
}

// WriteCallback is invoked synchronously, after the store has been updated,
// for an address carrying one. It must not block. It runs inside Dispatch,
// before the response PDU is returned to the responder, so the reply has not
// been sent yet when it runs. It returns no error, so it cannot change the
// response, and nothing is logged on its behalf.
type WriteCallback func(bank BankName, address uint16, newValue uint16)

// changeEntry is one row of the changed-registers journal: the bank and
// address identify the slot, the value is what was written.
type changeEntry struct {
	Bank    BankName
	Address uint16
	Value   uint16
}

// bankEntry is a single multi-slot entry: a base address holding `values`
// in sequence (a single register has len(values)==1).
type bankEntry struct {
	values []uint16
}

// bank is one of the four register banks. It holds entries keyed by base
// address and an optional per-address write callback table, both guarded
// by a single RWMutex: reads take a shared lock, writes an exclusive one.
// The changed-registers journal is not part of a bank; Store guards it
// with its own mutex, separately from the bank locks.
type bank struct {
	mu        sync.RWMutex
	name      BankName
	entries   map[uint16]*bankEntry
	callbacks map[uint16]WriteCallback
}

func newBank(name BankName) *bank {
	return &bank{
		name:      name,
		entries:   make(map[uint16]*bankEntry),
		callbacks: make(map[uint16]WriteCallback),
	}
}

// Add establishes an entry at addr if one is not already present
// (idempotent: re-adding an existing address is a no-op).
func (b *bank) Add(addr uint16, values []uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[addr]; ok {
		return
	}
	b.entries[addr] = &bankEntry{values: append([]uint16(nil), values...)}
}

// Set replaces (or creates) the entry at addr.
func (b *bank) Set(addr uint16, values []uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[addr] = &bankEntry{values: append([]uint16(nil), values...)}
}

// Get returns the value sequence stored at addr, or NotFoundError.
func (b *bank) Get(addr uint16) ([]uint16, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[addr]
	if !ok {
		return nil, &NotFoundError{Bank: b.name, Address: addr}
	}
	return append([]uint16(nil), e.values...), nil
}

// Remove deletes the entry at addr and returns its previous value, or
// NotFoundError if no entry existed.
func (b *bank) Remove(addr uint16) ([]uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[addr]
	if !ok {
		return nil, &NotFoundError{Bank: b.name, Address: addr}
	}
	delete(b.entries, addr)
	delete(b.callbacks, addr)
	return e.values, nil
}

// Keys returns every base address currently holding an entry, sorted
// ascending for deterministic iteration.
func (b *bank) Keys() []uint16 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]uint16, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// SetCallback installs (or clears, with nil) the on-write callback for addr.
func (b *bank) SetCallback(addr uint16, cb WriteCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb == nil {
		delete(b.callbacks, addr)
		return
	}
	b.callbacks[addr] = cb
}

// readSingle resolves a single wire address by scanning for the entry
// whose base..base+len-1 range covers it, returning the specific slot
// value. Multi-slot entries fill addresses base..base+n-1 with their
// successive elements (spec.md §4.5).
func (b *bank) readSingle(addr uint16) (uint16, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if e, ok := b.entries[addr]; ok && len(e.values) > 0 {
		return e.values[0], nil
	}
	for base, e := range b.entries {
		if addr < base {
			continue
		}
		offset := int(addr) - int(base)
		if offset >= 0 && offset < len(e.values) {
			return e.values[offset], nil
		}
	}
	return 0, &NotFoundError{Bank: b.name, Address: addr}
}

// writeSingle stores value at addr: if an entry already covers addr it is
// updated in place (preserving multi-slot entries), otherwise a new
// single-slot entry is created. The installed callback for addr, if any,
// is invoked after the update. The dispatcher only calls this once it has
// already confirmed addr exists via readSingle.
func (b *bank) writeSingle(addr uint16, value uint16) {
	b.mu.Lock()
	var cb WriteCallback
	if e, ok := b.entries[addr]; ok {
		e.values[0] = value
	} else {
		found := false
		for base, e := range b.entries {
			if addr < base {
				continue
			}
			offset := int(addr) - int(base)
			if offset >= 0 && offset < len(e.values) {
				e.values[offset] = value
				found = true
				break
			}
		}
		if !found {
			b.entries[addr] = &bankEntry{values: []uint16{value}}
		}
	}
	cb = b.callbacks[addr]
	b.mu.Unlock()

	if cb != nil {
		cb(b.name, addr, value)
	}
}

// Store is the full four-bank register store backing a responder, plus the
// changed-registers journal (spec.md §3/§4.5): every successful write is
// appended here, keyed by bank and address, and the journal is cleared on
// read so each change is surfaced exactly once to whoever drains it.
type Store struct {
	Coils            *bank
	DiscreteInputs   *bank
	HoldingRegisters *bank
	InputRegisters   *bank

	journalMu sync.Mutex
	journal   []changeEntry
}

// NewStore creates an empty four-bank register store.
func NewStore() *Store {
	return &Store{
		Coils:            newBank(BankCoils),
		DiscreteInputs:   newBank(BankDiscreteInputs),
		HoldingRegisters: newBank(BankHoldingRegisters),
		InputRegisters:   newBank(BankInputRegisters),
	}
}

// bankFor returns the bank instance for a symbolic name.
func (s *Store) bankFor(name BankName) *bank {
	switch name {
	case BankCoils:
		return s.Coils
	case BankDiscreteInputs:
		return s.DiscreteInputs
	case BankHoldingRegisters:
		return s.HoldingRegisters
	case BankInputRegisters:
		return s.InputRegisters
	default:
		return nil
	}
}

// recordChange appends a journal entry for a single address write.
func (s *Store) recordChange(bankName BankName, addr uint16, value uint16) {
	s.journalMu.Lock()
	defer s.journalMu.Unlock()
	s.journal = append(s.journal, changeEntry{Bank: bankName, Address: addr, Value: value})
}

// DrainJournal returns every change recorded since the last drain and
// clears the journal (spec.md §3: "the journal is readable by upper
// layers (and cleared on read)").
func (s *Store) DrainJournal() []changeEntry {
	s.journalMu.Lock()
	defer s.journalMu.Unlock()
	drained := s.journal
	s.journal = nil
	return drained
}
