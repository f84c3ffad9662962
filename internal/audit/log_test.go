package audit

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"verifica.org/internal/auth"
	"verifica.org/internal/obs"
)

func TestLogEvent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	prev := obs.SetLogger(zap.New(core))
	defer obs.SetLogger(prev)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithCaller(ctx, auth.Caller{Identity: "0xABC"})

	if err := LogEvent(ctx, "document.signed", map[string]any{"document_id": "doc_1"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	m := entries[0].ContextMap()
	if m["type"] != "audit" || m["event"] != "document.signed" {
		t.Fatalf("unexpected entry: %v", m)
	}
	if m["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", m["request_id"])
	}
	if m["caller"] != "0xabc" {
		t.Fatalf("unexpected caller: %v", m["caller"])
	}
	fields, ok := m["fields"].(map[string]any)
	if !ok || fields["document_id"] != "doc_1" {
		t.Fatalf("fields missing or incorrect: %v", m["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), " ", nil); err == nil {
		t.Fatal("expected error for empty event")
	}
}
