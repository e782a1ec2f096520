package orders

import (
	"time"

	"gorm.io/gorm"
)

// IdempotencyRecord maps a client-supplied key to the order it produced so
// retried submissions return the original resource instead of duplicating it.
type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
}
