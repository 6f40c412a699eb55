// Package connect provides the Connect RPC monitor service, its client and the admin interceptor.
package connect

import (
	"encoding/json"

	"connectrpc.com/connect"
)

// codecName replaces the default protobuf-JSON codec for plain Go messages.
const codecName = "json"

type jsonCodec struct{}

var _ connect.Codec = jsonCodec{}

func (jsonCodec) Name() string { return codecName }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, msg)
}

// WithJSONCodec is the option both handlers and clients need to speak plain JSON.
func WithJSONCodec() connect.Option {
	return connect.WithCodec(jsonCodec{})
}
