// Package ingest pkg/ingest/errors.go provides errors for the ingest package.
package ingest

import "errors"

var (
	ErrMissingSerial = errors.New("report missing serial number")
)
