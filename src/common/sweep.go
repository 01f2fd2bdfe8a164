package common

import (
	"log"
	"time"

	"srs/src/config"
	"srs/src/db"
	"srs/src/lib"
	"srs/src/models"
	"srs/src/types"
)

// The sweep is the second, independent expiry trigger. One-shot timers
// are fast but not durable; the sweep is slow but never misses, so
// stock conservation holds even if no timer ever fires.

func StartExpirySweep() {
	id, err := lib.CreateCronJob(SweepExpiredReservations, config.SweepInterval)
	if err != nil {
		log.Printf("Error starting expiry sweep: %s\n", err.Error())
		return
	}
	log.Printf("Expiry sweep running every %s: %s\n", config.SweepInterval, *id)
}

// SweepExpiredReservations expires every overdue active reservation,
// each in its own short transaction. A failure on one row never aborts
// the rest of the pass.
func SweepExpiredReservations() {
	gdb := db.GetDb()
	var ids []uint
	err := gdb.
		Model(&models.Reservation{}).
		Where("status = ? AND expires_at <= ?", string(types.RESERVATION_ACTIVE), time.Now()).
		Pluck("id", &ids).
		Error
	if err != nil {
		log.Printf("Error scanning for overdue reservations: %s\n", err.Error())
		return
	}
	if len(ids) == 0 {
		return
	}
	log.Printf("Sweep found %d overdue reservations\n", len(ids))
	for _, id := range ids {
		if err := ExpireReservation(id); err != nil {
			log.Printf("Error expiring Reservation [%d]: %s\n", id, err.Error())
		}
	}
}
