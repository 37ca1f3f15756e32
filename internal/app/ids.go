package app

import (
	"strings"

	"github.com/google/uuid"
)

func newID() string {
	return uuid.NewString()
}

// newReference builds a short human-quotable reference like "HB-3F9A2C81D4".
func newReference(prefix string) string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return prefix + "-" + raw[:10]
}
