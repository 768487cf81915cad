package modbus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterManager_LoadRegisters(t *testing.T) {
	clientPort, serverPort := newLoopbackRTU()
	defer clientPort.Close()

	store := NewStore()
	store.HoldingRegisters.Add(0, []uint16{0xABCD, 0xABCD, 0xABCD, 0xABCD, 0xABCD})
	rtuServer := NewRTUServer(serverPort, NewDispatcher(store), nil)
	go func() {
		for rtuServer.Step() == nil {
		}
	}()

	handler := NewModbusRTUHandler(clientPort, 5*time.Second)
	manager := NewModbusRegisterManager(handler, 10)

	var errCount int32
	manager.SetOnError(func(err error) {
		atomic.AddInt32(&errCount, 1)
		t.Errorf("unexpected poll error: %v", err)
	})

	var mu sync.Mutex
	var received []DeviceRegister
	manager.SetOnData(func(regs []DeviceRegister) {
		mu.Lock()
		received = append(received, regs...)
		mu.Unlock()
	})

	registers := []DeviceRegister{
		{Tag: "tag1", Alias: "alias1", Function: 3, ReadAddress: 0, ReadQuantity: 1, SlaverId: 1, DataType: "uint16", DataOrder: "AB"},
		{Tag: "tag-array-1", Alias: "alias-array-1", Function: 3, ReadAddress: 0, ReadQuantity: 5, SlaverId: 1, DataType: "uint16[5]", DataOrder: "ABCD"},
	}
	require.NoError(t, manager.LoadRegisters(registers))

	manager.Start()
	defer manager.Stop()

	for i := 0; i < 5; i++ {
		errs := manager.ReadAndStream()
		assert.Empty(t, errs)
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	snapshot := append([]DeviceRegister(nil), received...)
	mu.Unlock()
	require.NotEmpty(t, snapshot)

	for _, reg := range snapshot {
		decoded, err := reg.DecodeValue()
		require.NoError(t, err)
		switch reg.Tag {
		case "tag1":
			assert.NoError(t, AssertUint16Equal([]uint16{0xABCD}, []uint16{decoded.AsType.(uint16)}))
		case "tag-array-1":
			assert.NoError(t, AssertUint16Equal(
				[]uint16{0xABCD, 0xABCD, 0xABCD, 0xABCD, 0xABCD},
				decoded.AsType.([]uint16)))
		}
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&errCount))
}
