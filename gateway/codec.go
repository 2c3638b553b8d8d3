package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes branch requests for launchers that hand them to another
// process invocation.
type Codec interface {
	// Encode serializes a request to bytes.
	Encode(req BranchRequest) ([]byte, error)

	// Decode deserializes bytes into a request.
	Decode(data []byte) (BranchRequest, error)

	// Name returns the codec identifier ("json" or "msgpack").
	Name() string
}

// Codec names.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// GetCodec returns a codec by name. Defaults to JSON.
func GetCodec(name string) Codec {
	switch name {
	case CodecNameMsgpack:
		return MsgpackCodec{}
	default:
		return JSONCodec{}
	}
}

// JSONCodec encodes branch requests as JSON.
type JSONCodec struct{}

func (JSONCodec) Encode(req BranchRequest) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("gateway/json: encode: %w", err)
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte) (BranchRequest, error) {
	var req BranchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return BranchRequest{}, fmt.Errorf("gateway/json: decode: %w", err)
	}
	return req, nil
}

func (JSONCodec) Name() string { return CodecNameJSON }

// MsgpackCodec encodes branch requests as MessagePack.
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(req BranchRequest) ([]byte, error) {
	data, err := msgpack.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("gateway/msgpack: encode: %w", err)
	}
	return data, nil
}

func (MsgpackCodec) Decode(data []byte) (BranchRequest, error) {
	var req BranchRequest
	if err := msgpack.Unmarshal(data, &req); err != nil {
		return BranchRequest{}, fmt.Errorf("gateway/msgpack: decode: %w", err)
	}
	return req, nil
}

func (MsgpackCodec) Name() string { return CodecNameMsgpack }
