package models

import (
	"time"

	"github.com/google/uuid"

	"srs/src/types"
)

// JobTask is the persistent record of a scheduled one-shot job. Rows
// survive restarts so pending timers can be re-armed on boot; delivery
// is at-least-once and the expiry path tolerates duplicates.
type JobTask struct {
	ID uuid.UUID `gorm:"primarykey;type:uuid" json:"id"`

	Name          string      `json:"-"`
	JobType       string      `json:"-"`
	RunsAt        time.Time   `json:"-"`
	ReservationID uint        `json:"-"`
	Payload       types.JSONB `json:"-"`
	Status        string      `gorm:"default:'pending'" json:"-"`
}
