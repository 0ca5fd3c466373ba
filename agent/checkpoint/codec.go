package checkpoint

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec is the symmetric serializer used for state blobs and version maps.
// Implementations must round-trip arbitrary nested values; the store itself
// never interprets the encoded bytes.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Name() string
}

// MsgpackCodec encodes values as self-describing MessagePack.
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (MsgpackCodec) Decode(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (MsgpackCodec) Name() string {
	return "msgpack"
}

// JSONCodec encodes values as JSON, for setups where stored payloads must
// stay human-readable.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (JSONCodec) Name() string {
	return "json"
}

// DefaultCodec is what stores fall back to when built without one.
func DefaultCodec() Codec {
	return MsgpackCodec{}
}
