package store

import (
	"testing"
	"time"
)

func TestToRecord_UUIDColumnsBecomeStrings(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	row := map[string]any{
		"id":         [16]byte{0xc1, 0xc1, 0xc1, 0xc1, 0x00, 0x00, 0x40, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01},
		"contact_id": [16]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0x4d, 0xef, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02},
		"name":       "Ada",
		"created_at": created,
		"notes":      nil,
	}

	rec := toRecord(row)

	if got := rec.ID(); got != "c1c1c1c1-0000-4000-8000-000000000001" {
		t.Fatalf("ID() = %q", got)
	}
	if got := rec["contact_id"]; got != "12345678-9abc-4def-8000-000000000002" {
		t.Fatalf("contact_id = %#v", got)
	}
	if rec["name"] != "Ada" {
		t.Fatalf("name = %#v", rec["name"])
	}
	if rec["created_at"] != created {
		t.Fatalf("created_at = %#v", rec["created_at"])
	}
	if v, ok := rec["notes"]; !ok || v != nil {
		t.Fatalf("notes should stay present and nil, got %#v (present=%v)", v, ok)
	}
}
