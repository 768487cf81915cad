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
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// journalEvent is the wire shape published for each changed-registers
// journal entry (store.go's changeEntry, spec.md §3/§4.5): the bank and
// address identify the slot, Value is the new content.
type journalEvent struct {
	Bank    BankName `json:"bank"`
	Address uint16   `json:"address"`
	Value   uint16   `json:"value"`
}

// MQTTBridgeConfig configures where and how journal events are published,
// grounded on EdgxCloud-EdgeFlow's MQTTOutConfig.
type MQTTBridgeConfig struct {
	Broker        string
	Topic         string // changes are published to Topic/<bank>/<address>
	ClientID      string
	Username      string
	Password      string
	QoS           byte
	Retain        bool
	KeepAlive     time.Duration
	ConnectTimeout time.Duration
}

// MQTTBridge drains a Store's changed-registers journal on a fixed
// interval and publishes each change to MQTT.
type MQTTBridge struct {
	cfg    MQTTBridgeConfig
	store  *Store
	client mqtt.Client
	logger Logger

	mu       sync.Mutex
	stopCh   chan struct{}
	interval time.Duration
}

// NewMQTTBridge builds a bridge for store, publishing at the given drain
// interval. Connect must be called before Start.
func NewMQTTBridge(store *Store, cfg MQTTBridgeConfig, interval time.Duration) *MQTTBridge {
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("gomodbus-bridge-%d", time.Now().UnixNano())
	}
	if cfg.QoS > 2 {
		cfg.QoS = 2
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	return &MQTTBridge{
		cfg:      cfg,
		store:    store,
		logger:   nopLogger{},
		interval: interval,
	}
}

// SetLogger installs a logger for connect/publish diagnostics.
func (b *MQTTBridge) SetLogger(l Logger) {
	if l != nil {
		b.logger = l
	}
}

// Connect dials the configured broker. It must succeed before Start.
func (b *MQTTBridge) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.cfg.Broker)
	opts.SetClientID(b.cfg.ClientID)
	opts.SetKeepAlive(b.cfg.KeepAlive)
	opts.SetConnectTimeout(b.cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return &IoError{Reason: "mqtt: connect failed", Cause: err}
	}
	return nil
}

// Start launches the drain-and-publish loop in a goroutine; call Stop to
// end it.
func (b *MQTTBridge) Start() {
	b.mu.Lock()
	b.stopCh = make(chan struct{})
	stop := b.stopCh
	b.mu.Unlock()

	go func() {
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				b.publishPending()
			}
		}
	}()
}

// publishPending drains the store's journal and publishes each entry under
// Topic/<bank>/<address>.
func (b *MQTTBridge) publishPending() {
	for _, entry := range b.store.DrainJournal() {
		event := journalEvent{Bank: entry.Bank, Address: entry.Address, Value: entry.Value}
		payload, err := json.Marshal(event)
		if err != nil {
			b.logger.Warnf("mqtt bridge: marshal event: %v", err)
			continue
		}
		topic := fmt.Sprintf("%s/%s/%d", b.cfg.Topic, entry.Bank, entry.Address)
		token := b.client.Publish(topic, b.cfg.QoS, b.cfg.Retain, payload)
		token.Wait()
		if err := token.Error(); err != nil {
			b.logger.Warnf("mqtt bridge: publish %s: %v", topic, err)
		}
	}
}

// Stop ends the drain loop and disconnects from the broker.
func (b *MQTTBridge) Stop() {
	b.mu.Lock()
	if b.stopCh != nil {
		close(b.stopCh)
		b.stopCh = nil
	}
	b.mu.Unlock()
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
	}
}
