package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Timestamps struct {
	CreatedAt time.Time      `gorm:"autoCreateTime:nano" json:"created_at,omitempty"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime:nano" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty,omitnil"`
}

type JSONB map[string]any

func (a JSONB) Value() (driver.Value, error) {
	valueString, err := json.Marshal(a)
	return string(valueString), err
}
func (a *JSONB) Scan(value any) error {
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("unsupported column type for JSONB")
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	return nil
}

type Status string

type ReservationStatus Status

const (
	RESERVATION_ACTIVE    ReservationStatus = "active"
	RESERVATION_COMPLETED ReservationStatus = "completed"
	RESERVATION_EXPIRED   ReservationStatus = "expired"
)

type JobStatus Status

const (
	JOB_PENDING JobStatus = "pending"
	JOB_DONE    JobStatus = "done"
	JOB_MISSED  JobStatus = "missed"
)

type SimpleRequestParams struct {
	ID uint `uri:"id" binding:"required"`
}

type CreateReservationRequestBody struct {
	ProductID uint `json:"product_id" binding:"required"`
	Quantity  int  `json:"quantity" binding:"required,resqty"`
}

// StockUpdate is the payload item broadcast to all subscribers after a
// committed mutation changed a product's available stock.
type StockUpdate struct {
	ProductID      uint `json:"product_id"`
	AvailableStock int  `json:"available_stock"`
}
