package logging

import (
	"errors"
	"log/slog"
	"testing"
)

func TestStringFields(t *testing.T) {
	tests := []struct {
		name  string
		attr  slog.Attr
		key   string
		value string
	}{
		{"service", Service("tabula"), FieldService, "tabula"},
		{"user id", UserID("user-123"), FieldUserID, "user-123"},
		{"client key", ClientKey("203.0.113.9"), FieldClientKey, "203.0.113.9"},
		{"policy", Policy("convert"), FieldPolicy, "convert"},
		{"method", Method("POST"), FieldMethod, "POST"},
		{"path", Path("/api/convert"), FieldPath, "/api/convert"},
		{"kind", Kind("EmptyWorksheet"), FieldKind, "EmptyWorksheet"},
		{"file name", FileName("sales.xlsx"), FieldFileName, "sales.xlsx"},
		{"record id", RecordID("rec-1"), FieldRecordID, "rec-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attr.Key != tt.key {
				t.Errorf("expected key %q, got %q", tt.key, tt.attr.Key)
			}
			if tt.attr.Value.String() != tt.value {
				t.Errorf("expected value %q, got %q", tt.value, tt.attr.Value.String())
			}
		})
	}
}

func TestNumericFields(t *testing.T) {
	if got := Status(429).Value.Int64(); got != 429 {
		t.Errorf("Status = %d", got)
	}
	if got := Duration(150).Value.Int64(); got != 150 {
		t.Errorf("Duration = %d", got)
	}
	if got := FileSize(2048).Value.Int64(); got != 2048 {
		t.Errorf("FileSize = %d", got)
	}
}

func TestError(t *testing.T) {
	attr := Error(errors.New("insert failed"))
	if attr.Key != FieldError || attr.Value.String() != "insert failed" {
		t.Errorf("unexpected attr %v", attr)
	}
	if Error(nil).Value.String() != "<nil>" {
		t.Error("nil error should render as <nil>")
	}
}

func TestInvestigate(t *testing.T) {
	attr := Investigate()
	if attr.Key != FieldInvestigate || !attr.Value.Bool() {
		t.Errorf("unexpected attr %v", attr)
	}
}
