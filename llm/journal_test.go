package llm

import (
	"context"
	"testing"
	"time"
)

func TestTurnContextRoundTrip(t *testing.T) {
	tc := TurnContext{
		SessionID: "sess-123",
		TurnID:    "turn-4",
		State:     "CONFIRM_ORDER",
	}

	ctx := WithTurnContext(context.Background(), tc)
	got := GetTurnContext(ctx)

	if got != tc {
		t.Errorf("got %+v, want %+v", got, tc)
	}
}

func TestGetTurnContextMissing(t *testing.T) {
	got := GetTurnContext(context.Background())
	if got != (TurnContext{}) {
		t.Errorf("expected zero TurnContext, got %+v", got)
	}
}

func TestCallRecordValidate(t *testing.T) {
	valid := &CallRecord{
		RequestID:  "req-1",
		Capability: "conversation",
		StartedAt:  time.Now(),
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("expected valid record, got error: %v", err)
	}

	missing := &CallRecord{Capability: "conversation"}
	if err := missing.Validate(); err == nil {
		t.Error("expected error for missing request_id")
	}

	noCapability := &CallRecord{RequestID: "req-2"}
	if err := noCapability.Validate(); err == nil {
		t.Error("expected error for missing capability")
	}
}

func TestCallRecordSucceeded(t *testing.T) {
	ok := &CallRecord{RequestID: "req-1", Capability: "fast"}
	if !ok.Succeeded() {
		t.Error("record without error should report success")
	}

	failed := &CallRecord{RequestID: "req-2", Capability: "fast", Error: "all endpoints failed"}
	if failed.Succeeded() {
		t.Error("record with error should not report success")
	}
}

func TestCallRecordSchema(t *testing.T) {
	r := &CallRecord{}
	schema := r.Schema()

	if schema.Domain != "llm" || schema.Category != "call" || schema.Version != "v1" {
		t.Errorf("unexpected schema: %+v", schema)
	}
}
