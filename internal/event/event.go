// Package event encodes the frames pushed over the signal bus and the
// WebSocket hub. A frame is a protobuf-encoded google.protobuf.Struct with
// the fields type, account, at and payload.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Type names a frame kind.
type Type string

const (
	TypeCatalog  Type = "catalog"
	TypeOwned    Type = "owned"
	TypeActivity Type = "activity"
	TypeStatus   Type = "status"
)

// Bus channel names.
const (
	ChannelCatalog  = "market:catalog"
	ChannelActivity = "market:activity"
	channelOwned    = "market:owned:"
)

// OwnedChannel returns the bus channel carrying owned-view frames for the
// account rendered as hex.
func OwnedChannel(account string) string {
	return channelOwned + account
}

// OwnedPattern matches every owned-view channel.
const OwnedPattern = channelOwned + "*"

// Event is a decoded frame. Payload holds any JSON-compatible value; after
// Decode it is the generic form (map[string]any, []any, float64, ...).
type Event struct {
	Type    Type
	Account string
	At      time.Time
	Payload any
}

// Encode marshals e into a binary frame. The payload is passed through
// encoding/json first, so struct tags decide its shape.
func Encode(e Event) ([]byte, error) {
	s, err := toStruct(e)
	if err != nil {
		return nil, err
	}
	b, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("event: marshal %s: %w", e.Type, err)
	}
	return b, nil
}

// Decode parses a binary frame.
func Decode(b []byte) (Event, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return Event{}, fmt.Errorf("event: unmarshal: %w", err)
	}
	fields := s.GetFields()

	e := Event{
		Type:    Type(fields["type"].GetStringValue()),
		Account: fields["account"].GetStringValue(),
	}
	if e.Type == "" {
		return Event{}, fmt.Errorf("event: frame has no type")
	}
	if at := fields["at"].GetStringValue(); at != "" {
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return Event{}, fmt.Errorf("event: bad timestamp %q: %w", at, err)
		}
		e.At = t
	}
	if p, ok := fields["payload"]; ok {
		e.Payload = p.AsInterface()
	}
	return e, nil
}

// ToJSON converts a binary frame to its JSON rendering for text clients.
func ToJSON(b []byte) ([]byte, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("event: unmarshal: %w", err)
	}
	out, err := protojson.Marshal(&s)
	if err != nil {
		return nil, fmt.Errorf("event: render json: %w", err)
	}
	return out, nil
}

func toStruct(e Event) (*structpb.Struct, error) {
	if e.Type == "" {
		return nil, fmt.Errorf("event: type is required")
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}

	var payload any
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("event: encode %s payload: %w", e.Type, err)
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("event: encode %s payload: %w", e.Type, err)
		}
	}

	s, err := structpb.NewStruct(map[string]any{
		"type":    string(e.Type),
		"account": e.Account,
		"at":      at.UTC().Format(time.RFC3339Nano),
		"payload": payload,
	})
	if err != nil {
		return nil, fmt.Errorf("event: build %s frame: %w", e.Type, err)
	}
	return s, nil
}
