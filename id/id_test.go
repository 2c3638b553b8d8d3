package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/forkjoin/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"RunID", id.NewRunID, "run_"},
		{"ForkID", id.NewForkID, "fork_"},
		{"BranchID", id.NewBranchID, "br_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRunID(t *testing.T) {
	orig := id.NewRunID()
	parsed, err := id.ParseRunID(orig.String())
	if err != nil {
		t.Fatalf("ParseRunID: %v", err)
	}
	if parsed.String() != orig.String() {
		t.Errorf("got %q, want %q", parsed, orig)
	}

	if _, err := id.ParseRunID(id.NewForkID().String()); err == nil {
		t.Error("expected prefix mismatch error")
	}
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNil(t *testing.T) {
	if !id.Nil.IsNil() {
		t.Error("Nil should be nil")
	}
	if id.Nil.String() != "" {
		t.Errorf("Nil.String() = %q, want empty", id.Nil.String())
	}
}

func TestJSONField(t *testing.T) {
	type wrapper struct {
		Run id.RunID `json:"run"`
	}
	w := wrapper{Run: id.NewRunID()}
	data, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back wrapper
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Run.String() != w.Run.String() {
		t.Errorf("got %q, want %q", back.Run, w.Run)
	}
}
