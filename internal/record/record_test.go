package record

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDataRecordValidate(t *testing.T) {
	valid := DataRecord{
		ID:             "rec-1",
		Type:           "note",
		Payload:        json.RawMessage(`{}`),
		LastModifiedAt: time.Now(),
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid record rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*DataRecord)
	}{
		{"missing id", func(r *DataRecord) { r.ID = "" }},
		{"missing type", func(r *DataRecord) { r.Type = "" }},
		{"zero timestamp", func(r *DataRecord) { r.LastModifiedAt = time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := valid
			tt.mutate(&rec)
			if err := rec.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestPendingActionValidate(t *testing.T) {
	valid := PendingAction{
		ID:         "act-1",
		Kind:       ActionUpdate,
		EnqueuedAt: time.Now(),
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid action rejected: %v", err)
	}

	bad := valid
	bad.Kind = "merge"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown kind")
	}

	neg := valid
	neg.RetryCount = -1
	if err := neg.Validate(); err == nil {
		t.Error("expected error for negative retry count")
	}
}

func TestActionKindValid(t *testing.T) {
	for _, k := range []ActionKind{ActionCreate, ActionUpdate, ActionDelete} {
		if !k.Valid() {
			t.Errorf("%s should be valid", k)
		}
	}
	if ActionKind("upsert").Valid() {
		t.Error("unknown kind should be invalid")
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if id == "" || seen[id] {
			t.Fatalf("duplicate or empty id: %q", id)
		}
		seen[id] = true
	}
}
