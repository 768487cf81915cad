package modbus

import (
	"testing"
)

func TestBuildRequestPDU(t *testing.T) {
	functionCode := uint8(0x03)
	data := []byte{0x00, 0x0A, 0x00, 0x01}
	expectedPDU := []byte{0x03, 0x00, 0x0A, 0x00, 0x01}

	pdu, err := buildRequestPDU(functionCode, data)
	if err != nil {
		t.Fatalf("BuildRequestPDU failed: %v", err)
	}
	if !equal(pdu, expectedPDU) {
		t.Errorf("BuildRequestPDU returned incorrect PDU: got %v, expected %v", pdu, expectedPDU)
	}
}

func equal(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
