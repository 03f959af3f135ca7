package domain

import (
	"errors"
	"fmt"
)

// Pipeline error taxonomy. Callers wrap these with fmt.Errorf("...: %w", err)
// and match them with errors.Is.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNoDataFound   = errors.New("no data found")
	ErrRemoteService = errors.New("remote service error")
	ErrSchema        = errors.New("schema error")

	ErrNoIdentifierField = fmt.Errorf("%w: no identifier field", ErrSchema)
	ErrEmptyGeometry     = fmt.Errorf("%w: empty geometry", ErrSchema)
	ErrRasterUnavailable = fmt.Errorf("%w: elevation raster unavailable", ErrRemoteService)
	ErrUnsupportedCRS    = errors.New("unsupported coordinate reference system")

	ErrMissingInput = errors.New("missing input")
	ErrEmptyInput   = errors.New("empty input")

	ErrArtifactNotFound = errors.New("artifact not found")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionConflict  = errors.New("session state conflict")
)
