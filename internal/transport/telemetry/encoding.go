package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

type Encoding uint8

const (
	EncodingJSON Encoding = iota
	EncodingMsgpack
)

func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "", "json":
		return EncodingJSON, nil
	case "msgpack":
		return EncodingMsgpack, nil
	}
	return EncodingJSON, fmt.Errorf("unknown telemetry encoding %q", s)
}

func (e Encoding) String() string {
	if e == EncodingMsgpack {
		return "msgpack"
	}
	return "json"
}

func (e Encoding) messageType() int {
	if e == EncodingMsgpack {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// Marshal encodes v for e. Msgpack reuses the json field names so both
// encodings share one schema.
func (e Encoding) Marshal(v any) ([]byte, error) {
	if e == EncodingJSON {
		return json.Marshal(v)
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal is the inverse of Marshal.
func (e Encoding) Unmarshal(b []byte, v any) error {
	if e == EncodingJSON {
		return json.Unmarshal(b, v)
	}
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
