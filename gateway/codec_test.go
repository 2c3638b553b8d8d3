package gateway_test

import (
	"testing"
	"time"

	"github.com/xraph/forkjoin/gateway"
	"github.com/xraph/forkjoin/id"
	"github.com/xraph/forkjoin/runctx"
)

func TestCodecs_PreserveBranchRequest(t *testing.T) {
	req := gateway.BranchRequest{
		RunID:     id.NewRunID(),
		ForkID:    id.NewForkID(),
		ForkNode:  "split",
		Index:     1,
		StartNode: "b",
		Pool:      "io",
		StartedAt: time.Now().Truncate(time.Millisecond),
		Context: runctx.Snapshot{
			Vars:  map[string]any{"region": "eu"},
			Flags: runctx.Flags{Async: true},
		},
	}
	req.Context.RunID = req.RunID

	for _, name := range []string{gateway.CodecNameJSON, gateway.CodecNameMsgpack} {
		t.Run(name, func(t *testing.T) {
			codec := gateway.GetCodec(name)
			if codec.Name() != name {
				t.Fatalf("GetCodec(%q).Name() = %q", name, codec.Name())
			}
			data, err := codec.Encode(req)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := codec.Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.RunID.String() != req.RunID.String() || got.ForkID.String() != req.ForkID.String() {
				t.Errorf("ids = %s/%s, want %s/%s", got.RunID, got.ForkID, req.RunID, req.ForkID)
			}
			if got.ForkNode != "split" || got.StartNode != "b" || got.Index != 1 || got.Pool != "io" {
				t.Errorf("decoded %+v", got)
			}
			if !got.StartedAt.Equal(req.StartedAt) {
				t.Errorf("StartedAt = %v, want %v", got.StartedAt, req.StartedAt)
			}
			if got.Context.Vars["region"] != "eu" || !got.Context.Flags.Async {
				t.Errorf("context = %+v", got.Context)
			}
		})
	}
}

func TestGetCodec_DefaultsToJSON(t *testing.T) {
	if got := gateway.GetCodec("protobuf").Name(); got != gateway.CodecNameJSON {
		t.Errorf("GetCodec(protobuf) = %q, want json", got)
	}
}

func TestCodecs_DecodeGarbage(t *testing.T) {
	for _, codec := range []gateway.Codec{gateway.JSONCodec{}, gateway.MsgpackCodec{}} {
		if _, err := codec.Decode([]byte{0xc1, 0x00}); err == nil {
			t.Errorf("%s: expected decode error", codec.Name())
		}
	}
}
