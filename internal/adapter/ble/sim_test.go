package ble

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectSim(t *testing.T, sim *SimBackend) string {
	t.Helper()
	devices, err := sim.Scan(context.Background(), time.Second)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.NoError(t, sim.Connect(context.Background(), devices[0].Address))
	return devices[0].Address
}

func TestSimAcknowledgesCommands(t *testing.T) {
	sim := NewSimBackend(testEndpoints, time.Millisecond, nil)
	addr := connectSim(t, sim)

	got := make(chan []byte, 1)
	require.NoError(t, sim.EnableNotifications(context.Background(), addr,
		testEndpoints.ServiceUUID, testEndpoints.EventCharUUID,
		func(data []byte) { got <- data }))

	cmd := []byte(`{"command":"qa_battery_test"}`)
	require.NoError(t, sim.WriteCharacteristic(context.Background(), addr,
		testEndpoints.ServiceUUID, testEndpoints.ControlCharUUID, cmd))

	select {
	case data := <-got:
		var ack map[string]any
		require.NoError(t, json.Unmarshal(data, &ack))
		assert.Equal(t, "qa_battery_test", ack["command"])
		assert.Equal(t, "ok", ack["result"])
	case <-time.After(time.Second):
		t.Fatal("sim never acknowledged")
	}
}

func TestSimIgnoreListStaysSilent(t *testing.T) {
	sim := NewSimBackend(testEndpoints, time.Millisecond, []string{"qa_mic_lr_test"})
	addr := connectSim(t, sim)

	got := make(chan []byte, 1)
	require.NoError(t, sim.EnableNotifications(context.Background(), addr,
		testEndpoints.ServiceUUID, testEndpoints.EventCharUUID,
		func(data []byte) { got <- data }))

	cmd := []byte(`{"command":"qa_mic_lr_test"}`)
	require.NoError(t, sim.WriteCharacteristic(context.Background(), addr,
		testEndpoints.ServiceUUID, testEndpoints.ControlCharUUID, cmd))

	select {
	case <-got:
		t.Fatal("ignored command was acknowledged")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSimRejectsWrongCharacteristics(t *testing.T) {
	sim := NewSimBackend(testEndpoints, 0, nil)
	addr := connectSim(t, sim)

	err := sim.WriteCharacteristic(context.Background(), addr,
		testEndpoints.ServiceUUID, testEndpoints.EventCharUUID, []byte(`{}`))
	assert.Error(t, err)

	err = sim.EnableNotifications(context.Background(), addr,
		testEndpoints.ServiceUUID, testEndpoints.ControlCharUUID, func([]byte) {})
	assert.Error(t, err)
}

func TestSimNoNotifyAfterDisconnect(t *testing.T) {
	sim := NewSimBackend(testEndpoints, 10*time.Millisecond, nil)
	addr := connectSim(t, sim)

	got := make(chan []byte, 1)
	require.NoError(t, sim.EnableNotifications(context.Background(), addr,
		testEndpoints.ServiceUUID, testEndpoints.EventCharUUID,
		func(data []byte) { got <- data }))

	require.NoError(t, sim.WriteCharacteristic(context.Background(), addr,
		testEndpoints.ServiceUUID, testEndpoints.ControlCharUUID,
		[]byte(`{"command":"qa_volume_set"}`)))
	require.NoError(t, sim.Disconnect(addr))

	select {
	case <-got:
		t.Fatal("notification delivered after disconnect")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSimMalformedCommand(t *testing.T) {
	sim := NewSimBackend(testEndpoints, 0, nil)
	addr := connectSim(t, sim)

	err := sim.WriteCharacteristic(context.Background(), addr,
		testEndpoints.ServiceUUID, testEndpoints.ControlCharUUID, []byte(`not json`))
	assert.Error(t, err)
}
