package event

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type itemPayload struct {
	ID     uint64 `json:"id"`
	Name   string `json:"name"`
	Price  string `json:"price"`
	IsSold bool   `json:"isSold"`
}

func TestEncodeDecode(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)
	in := Event{
		Type:    TypeCatalog,
		Account: "0xabc",
		At:      at,
		Payload: []itemPayload{{ID: 1, Name: "Widget", Price: "1.0"}},
	}

	b, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	want := Event{
		Type:    TypeCatalog,
		Account: "0xabc",
		At:      at,
		Payload: []any{map[string]any{"id": float64(1), "name": "Widget", "price": "1.0", "isSold": false}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode(Encode(e)) mismatch (-want +got):\n%s", diff)
	}
}

func TestEncode_RequiresType(t *testing.T) {
	if _, err := Encode(Event{Payload: 1}); err == nil {
		t.Error("Encode(no type) error = nil; want error")
	}
}

func TestDecode_Garbage(t *testing.T) {
	if _, err := Decode([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Error("Decode(garbage) error = nil; want error")
	}
}

func TestToJSON(t *testing.T) {
	b, err := Encode(Event{Type: TypeActivity, Payload: map[string]string{"txHash": "0x01"}})
	if err != nil {
		t.Fatal(err)
	}
	out, err := ToJSON(b)
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("ToJSON() produced invalid JSON %s: %v", out, err)
	}
	if m["type"] != "activity" {
		t.Errorf("type = %v; want activity", m["type"])
	}
	if !strings.Contains(string(out), "0x01") {
		t.Errorf("ToJSON() = %s; want payload txHash", out)
	}
}

func TestOwnedChannel(t *testing.T) {
	ch := OwnedChannel("0xAbC")
	if ch != "market:owned:0xAbC" {
		t.Errorf("OwnedChannel() = %q", ch)
	}
	if !strings.HasPrefix(ch, strings.TrimSuffix(OwnedPattern, "*")) {
		t.Errorf("OwnedPattern %q does not match %q", OwnedPattern, ch)
	}
}
