package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Key statuses form a closed set; anything else is rejected at the store boundary.
const (
	KeyStatusActive   = "active"
	KeyStatusInactive = "inactive"
	KeyStatusRevoked  = "revoked"
)

// Key represents one upstream API credential managed by the pool.
type Key struct {
	ID string `gorm:"type:text;primaryKey"` // UUID assigned at creation.

	Secret string `gorm:"type:text;not null;uniqueIndex"` // Full credential value; never exposed unmasked.
	Name   string `gorm:"type:text"`                      // Optional display label.
	Status string `gorm:"type:text;not null;index"`       // One of active, inactive, revoked.

	TotalRequests int64          `gorm:"not null;default:0"` // All-time successful request count.
	LastUsedAt    *time.Time     // Last successful selection-and-use time.
	LastProbe     datatypes.JSON // Latest validation probe outcome.

	CreatedAt time.Time `gorm:"not null;index"` // Creation timestamp, immutable.
	UpdatedAt time.Time `gorm:"not null"`       // Last mutation timestamp.
}

// TableName maps the model onto the upstream_keys table.
func (Key) TableName() string { return "upstream_keys" }

// DecodeLastProbe unmarshals the stored probe outcome, returning nil when no
// probe has run yet.
func (k *Key) DecodeLastProbe() (*ProbeResult, error) {
	if len(k.LastProbe) == 0 {
		return nil, nil
	}
	var probe ProbeResult
	if err := json.Unmarshal(k.LastProbe, &probe); err != nil {
		return nil, err
	}
	return &probe, nil
}

// ProbeResult captures the outcome of one validation probe against the upstream.
type ProbeResult struct {
	OK         bool      `json:"ok"`                    // Whether the probe succeeded.
	StatusCode int       `json:"status_code,omitempty"` // Upstream HTTP status, 0 for transport errors.
	Message    string    `json:"message,omitempty"`     // Upstream error detail or transport error text.
	CheckedAt  time.Time `json:"checked_at"`            // When the probe completed.
}
