package keypool

import (
	"strings"

	"github.com/gptproxy/gptproxy/internal/models"
)

// ParseStatus validates a status value against the closed enumeration.
// Anything outside {active, inactive, revoked} is rejected at the boundary
// instead of being stored and rendered as an "unknown" fallback.
func ParseStatus(value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case models.KeyStatusActive:
		return models.KeyStatusActive, nil
	case models.KeyStatusInactive:
		return models.KeyStatusInactive, nil
	case models.KeyStatusRevoked:
		return models.KeyStatusRevoked, nil
	default:
		return "", ErrInvalidStatus
	}
}
