package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"config", &ConfigError{Key: "database.url", Reason: "missing"}, ExitConfig},
		{"wrapped storage", fmt.Errorf("failed to run kpi: %w", NewStorageError(StorageTimeout, errors.New("canceling statement"))), ExitStorage},
		{"model load", &ModelLoadError{Family: "attendance", Path: "/tmp", Err: errors.New("missing")}, ExitModelLoad},
		{"other", errors.New("boom"), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStorageErrorKeepsDriverMessage(t *testing.T) {
	driverErr := errors.New(`pq: relation "activities" does not exist`)
	err := fmt.Errorf("failed to query: %w", NewStorageError(StorageQuery, driverErr))

	if !IsStorageKind(err, StorageQuery) {
		t.Fatalf("expected query kind, got %v", err)
	}
	if IsStorageKind(err, StorageTimeout) {
		t.Fatalf("did not expect timeout kind")
	}
	if !errors.Is(err, driverErr) {
		t.Errorf("expected the driver error to stay in the chain")
	}

	var se *StorageError
	errors.As(err, &se)
	if se.Message != driverErr.Error() {
		t.Errorf("message = %q, want %q", se.Message, driverErr.Error())
	}
}
