package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrLayerNotFound    = errors.New("layer not found")
	ErrFieldNotFound    = errors.New("field not found")
	ErrInsufficientData = errors.New("insufficient historical data")
	ErrCanceled         = errors.New("request canceled")
	ErrUnknownAggregate = errors.New("unknown aggregation level")
	ErrInvalidFilter    = errors.New("invalid filter")
)

type StorageKind string

const (
	StorageTimeout    StorageKind = "timeout"
	StorageConnection StorageKind = "connection"
	StorageQuery      StorageKind = "query"
)

// StorageError is raised by the store adapter. Message keeps the driver's
// original text.
type StorageError struct {
	Kind    StorageKind
	Message string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s error: %s", e.Kind, e.Message)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func NewStorageError(kind StorageKind, err error) *StorageError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &StorageError{Kind: kind, Message: msg, Err: err}
}

type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("config error: %s", e.Reason)
	}
	return fmt.Sprintf("config error: %s: %s", e.Key, e.Reason)
}

// ModelLoadError isolates a broken artifact family; other capabilities keep
// working.
type ModelLoadError struct {
	Family string
	Path   string
	Err    error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load %s model from %s: %v", e.Family, e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

func IsStorageKind(err error, kind StorageKind) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitConfig    = 2
	ExitStorage   = 3
	ExitModelLoad = 4
)

// ExitCode maps an error returned by a batch run to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return ExitConfig
	}

	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return ExitStorage
	}

	var modelErr *ModelLoadError
	if errors.As(err, &modelErr) {
		return ExitModelLoad
	}

	return ExitFailure
}
