package mdns

import (
	"bytes"
	"strings"
	"testing"

	"github.com/openthread/otbr-agent-go/internal/errclass"
)

// TestTXTRoundTrip covers spec round-trip property R2.
func TestTXTRoundTrip(t *testing.T) {
	entries := TXTEntries{
		{Key: "rv", Value: []byte("1")},
		{Key: "nn", Value: []byte("MyNetwork")},
		{Key: "xp", Value: []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}},
	}

	decoded := DecodeTXT(entries.Encode())

	if len(decoded) != len(entries) {
		t.Fatalf("decoded %d entries, want %d", len(decoded), len(entries))
	}
	for i, e := range entries {
		if decoded[i].Key != e.Key || !bytes.Equal(decoded[i].Value, e.Value) {
			t.Errorf("entry[%d] = %+v, want %+v", i, decoded[i], e)
		}
	}
}

func TestTXTKeyTooLongRejected(t *testing.T) {
	entries := TXTEntries{{Key: strings.Repeat("k", 10), Value: []byte("v")}}
	err := entries.Validate()
	if errclass.KindOf(err) != errclass.InvalidArgs {
		t.Errorf("Validate() kind = %v, want InvalidArgs", errclass.KindOf(err))
	}
}

func TestTXTTotalSizeRejected(t *testing.T) {
	entries := TXTEntries{{Key: "k", Value: bytes.Repeat([]byte("x"), maxTXTRecordBytes)}}
	err := entries.Validate()
	if errclass.KindOf(err) != errclass.InvalidArgs {
		t.Errorf("Validate() kind = %v, want InvalidArgs", errclass.KindOf(err))
	}
}
