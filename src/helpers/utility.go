package helpers

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateKey returns a fresh document key: the hex form of a time based
// uuid, falling back to a random one when the node clock is unavailable.
func GenerateKey() string {
	id, err := uuid.NewUUID()
	if err != nil {
		id = uuid.New()
	}
	return strings.ReplaceAll(id.String(), "-", "")
}
