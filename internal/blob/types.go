// Package blob opens the store holding definition documents.
package blob

import (
	"surveycore/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a document write.
	PutOptions = core.PutOptions
	// Info describes stored document metadata.
	Info = core.Info
	// Store is the interface for document backends.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

// ErrNotFound is returned for missing documents.
var ErrNotFound = core.ErrNotFound
