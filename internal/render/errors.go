package render

import "errors"

var (
	// ErrSourceUnavailable is returned when a frame's source cannot be read.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrInvalidColor is returned for a color that is neither an SGR code, a
	// hex color nor a known color name.
	ErrInvalidColor = errors.New("invalid color")
)
