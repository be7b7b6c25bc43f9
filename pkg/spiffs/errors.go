package spiffs

import "errors"

var (
	// Geometry errors
	ErrInvalidConfig = errors.New("invalid spiffs geometry")

	// Capacity errors. ErrFull is shared by lookup pages, index pages and
	// blocks; the caller tells them apart by where the call was made.
	ErrFull            = errors.New("no space left")
	ErrLookupExhausted = errors.New("no lookup page left in block")
	ErrImageFull       = errors.New("the image size has been exceeded")

	// Object errors
	ErrNameTooLong    = errors.New("object name too long")
	ErrTooManyObjects = errors.New("object ids exhausted")
	ErrFileTooLarge   = errors.New("file does not fit the object size field")
)
