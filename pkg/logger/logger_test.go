package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestContextFieldsPropagate(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "test", Output: &buf})

	ctx := logg.WithCompanyID(context.Background(), "cp-123")
	ctx = logg.WithField(ctx, "invoice_id", "iv-9")
	logg.Info(ctx, "hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	if entry["company_id"] != "cp-123" {
		t.Fatalf("company_id = %v", entry["company_id"])
	}
	if entry["invoice_id"] != "iv-9" {
		t.Fatalf("invoice_id = %v", entry["invoice_id"])
	}
	if entry["service"] != "test" {
		t.Fatalf("service = %v", entry["service"])
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != zerolog.DebugLevel {
		t.Fatal("expected debug level")
	}
	if ParseLevel("") != zerolog.InfoLevel {
		t.Fatal("empty level should default to info")
	}
	if ParseLevel("nonsense") != zerolog.InfoLevel {
		t.Fatal("unknown level should default to info")
	}
}

func TestErrorIncludesStack(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "test", Output: &buf})
	logg.Error(context.Background(), "boom", nil)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	if entry["stack"] == nil {
		t.Fatal("expected stack field on error logs")
	}
}
