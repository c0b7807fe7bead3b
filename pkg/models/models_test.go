package models

import (
	"encoding/json"
	"testing"
)

func TestFrameRangeValue(t *testing.T) {
	r := FrameRange{Start: 5, End: 95, Stride: 10}

	value, err := r.Value()
	if err != nil {
		t.Fatalf("Failed to get value: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(value.([]byte), &result); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	if result["stride"] != float64(10) {
		t.Errorf("Expected stride=10, got %v", result["stride"])
	}
}

func TestFrameRangeScan(t *testing.T) {
	var r FrameRange
	if err := r.Scan([]byte(`{"start":1,"end":9,"stride":2}`)); err != nil {
		t.Fatalf("Failed to scan: %v", err)
	}

	if r.Start != 1 || r.End != 9 || r.Stride != 2 {
		t.Errorf("Unexpected range %+v", r)
	}
}

func TestFrameRangeScanNil(t *testing.T) {
	var r FrameRange
	if err := r.Scan(nil); err != nil {
		t.Fatalf("Failed to scan nil: %v", err)
	}
	if r != (FrameRange{}) {
		t.Errorf("Expected zero range, got %+v", r)
	}
}

func TestExtractionJobTerminal(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{JobStatusPending, false},
		{JobStatusRunning, false},
		{JobStatusCompleted, true},
		{JobStatusFailed, true},
		{JobStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			job := &ExtractionJob{Status: tt.status}
			if got := job.Terminal(); got != tt.want {
				t.Errorf("Terminal() for %s = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}
