package utils

import "github.com/google/uuid"

// GenerateUUID returns a random (version 4) UUID string, used as run id.
func GenerateUUID() string {
	return uuid.NewString()
}
