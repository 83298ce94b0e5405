package storage

import (
	"testing"
	"time"
)

func TestBatchExportObject(t *testing.T) {
	at := time.Date(2025, 5, 1, 9, 30, 15, 0, time.UTC)
	got, err := BatchExportObject("processed-interactions/new", at)
	if err != nil {
		t.Fatalf("BatchExportObject returned error: %v", err)
	}
	want := "processed-interactions/new/orders_2025-05-01_09-30-15.csv"
	if got != want {
		t.Fatalf("unexpected object name: got %q want %q", got, want)
	}
}

func TestSingleExportObject(t *testing.T) {
	at := time.Date(2025, 5, 1, 9, 30, 15, 0, time.UTC)
	got, err := SingleExportObject("processed-interactions/new/", "482913", at)
	if err != nil {
		t.Fatalf("SingleExportObject returned error: %v", err)
	}
	want := "processed-interactions/new/order_482913_2025-05-01_09-30-15.csv"
	if got != want {
		t.Fatalf("unexpected object name: got %q want %q", got, want)
	}
}

func TestExportObjectValidation(t *testing.T) {
	at := time.Now()
	if _, err := BatchExportObject("   ", at); err == nil {
		t.Fatalf("expected error for empty prefix")
	}
	if _, err := SingleExportObject("exports", "48/29", at); err == nil {
		t.Fatalf("expected error for order number with path characters")
	}
	if _, err := SingleExportObject("../exports", "482913", at); err == nil {
		t.Fatalf("expected error for traversal prefix")
	}
}
