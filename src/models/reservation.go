package models

import (
	"time"

	"srs/src/types"
)

type Reservation struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	ProductID uint      `gorm:"index:idx_user_product" json:"product_id,omitempty"`
	UserID    string    `gorm:"index:idx_user_product;index" json:"user_id,omitempty"`
	Quantity  int       `json:"quantity"`
	Status    string    `gorm:"default:'active'" json:"status,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	Product Product `json:"product,omitempty"`

	types.Timestamps
}

func (r *Reservation) IsActive() bool {
	return r.Status == string(types.RESERVATION_ACTIVE)
}

// Overdue reports whether the active window has already closed. Only
// meaningful while the reservation is still active.
func (r *Reservation) Overdue(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
