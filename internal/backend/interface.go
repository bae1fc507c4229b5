// Package backend selects and constructs the snapshot export sink.
package backend

import (
	"context"

	"moneymind/internal/export"
)

// Exporter is what the app needs from an export sink.
type Exporter interface {
	export.SnapshotWriter
	export.SnapshotLister
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Result contains the exporter and optional cleanup function
type Result struct {
	Exporter Exporter
	Cleanup  CleanupFunc
}

// Factory creates exporters based on configuration
type Factory interface {
	CreateExporter(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for exporter creation
type Config struct {
	Type Type

	// Google Sheets specific
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
}

// Type represents the kind of export sink
type Type string

const (
	MemoryBackend Type = "memory"
	SheetsBackend Type = "sheets"
)

// String implements fmt.Stringer
func (t Type) String() string {
	return string(t)
}

// IsValid returns true if the backend type is valid
func (t Type) IsValid() bool {
	switch t {
	case MemoryBackend, SheetsBackend:
		return true
	default:
		return false
	}
}
