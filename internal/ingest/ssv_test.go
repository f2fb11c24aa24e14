package ingest

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
)

func TestWriteSSVHeaderHasTwentySixFields(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSSV(&buf, "1234567", "0", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(buf.String(), "\r\n")
	fields := strings.Split(lines[0], ";")
	if len(fields) != 26 {
		t.Errorf("expected 26 header fields, got %d", len(fields))
	}
}

func TestWriteSSVUsesCRLFLineEndings(t *testing.T) {
	debut := "09:30"
	records := []domain.BillingRecord{
		{DateService: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), Debut: &debut, Patient: "NAM12345678", SecteurActivite: "3"},
	}
	var buf bytes.Buffer
	if err := WriteSSV(&buf, "1234567", "0", records); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "\r\n") {
		t.Error("expected CRLF line endings")
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\r\n"), "\r\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 data row, got %d lines", len(lines))
	}
	fields := strings.Split(lines[1], ";")
	if len(fields) != 26 {
		t.Fatalf("expected 26 data fields, got %d", len(fields))
	}
	if fields[0] != "1234567" || fields[2] != "2025-03-01" || fields[3] != "09:30" || fields[4] != "NAM12345678" || fields[10] != "3" {
		t.Errorf("unexpected data row: %v", fields)
	}
	for _, emptyIdx := range []int{5, 6, 7, 8, 9, 11, 25} {
		if fields[emptyIdx] != "" {
			t.Errorf("expected field %d to be empty, got %q", emptyIdx, fields[emptyIdx])
		}
	}
}
