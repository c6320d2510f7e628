package chat

import (
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/suPer8Hu/neko-client/internal/models"
)

// provisionalID returns a client-side id for a message the backend has not
// assigned one to yet, e.g. "assistant-01J9...".
func provisionalID(role models.Role) string {
	return string(role) + "-" + ulid.Make().String()
}

// IsProvisional reports whether id was minted on the client.
func IsProvisional(id string) bool {
	return strings.HasPrefix(id, string(models.RoleUser)+"-") ||
		strings.HasPrefix(id, string(models.RoleAssistant)+"-")
}
