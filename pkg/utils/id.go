package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// NewBuildID returns a time ordered id for correlating the log lines of one
// build.
func NewBuildID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate build id: %w", err)
	}

	return id.String(), nil
}
