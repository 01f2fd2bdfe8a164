package common

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"srs/src/db"
	"srs/src/lib"
	"srs/src/models"
	"srs/src/types"
)

// ScheduleExpiry records a one-shot expiry timer for a reservation and
// arms it on the in-process scheduler. The JobTask row is the durable
// half: boot re-arms pending rows after a restart, and a row that fires
// twice is harmless because ExpireReservation is idempotent.
func ScheduleExpiry(reservationID uint, runsAt time.Time) (string, error) {
	gdb := db.GetDb()
	jobTask := models.JobTask{
		ID:            uuid.New(),
		Name:          fmt.Sprintf("Reservation_%d_ExpiresAt", reservationID),
		JobType:       "OneTimeJobStartDateTime",
		RunsAt:        runsAt,
		ReservationID: reservationID,
		Payload: types.JSONB{
			"id": reservationID,
		},
	}
	err := gdb.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&jobTask).Error
	})
	if err != nil {
		return "", err
	}
	if err := armExpiryJob(jobTask); err != nil {
		// The row stays pending, the sweep and the next boot recovery
		// both cover for the missing timer.
		log.Printf("Failed to arm job [%s]: %s\n", jobTask.ID.String(), err.Error())
		return jobTask.ID.String(), nil
	}
	return jobTask.ID.String(), nil
}

func armExpiryJob(jobTask models.JobTask) error {
	sch := lib.CreateScheduler()
	jid, err := sch.ScheduleAt(jobTask.RunsAt, func() {
		RunExpiryJob(jobTask.ID, jobTask.ReservationID)
	})
	if err != nil {
		return err
	}
	log.Printf("Created schedule for job %s with name %s at %s\n", jid.String(), jobTask.Name, jobTask.RunsAt)
	return nil
}

// RunExpiryJob is the timer firing: expire the reservation, then mark
// the task done. Marking done is best-effort; a task left pending only
// means one redundant firing after the next restart.
func RunExpiryJob(jobID uuid.UUID, reservationID uint) {
	if err := ExpireReservation(reservationID); err != nil {
		log.Printf("Error expiring Reservation [%d]: %s\n", reservationID, err.Error())
		return
	}
	gdb := db.GetDb()
	err := gdb.
		Model(&models.JobTask{}).
		Where(&models.JobTask{ID: jobID}).
		Update("status", string(types.JOB_DONE)).
		Error
	if err != nil {
		log.Printf("Error updating job status [%s]: %s\n", jobID.String(), err.Error())
	}
}

// RearmPendingJobs reloads pending one-shot timers after a restart.
// Overdue rows are not re-armed, the sweep reclaims those directly.
func RearmPendingJobs() error {
	gdb := db.GetDb()
	var jobTasks []models.JobTask
	now := time.Now()
	err := gdb.
		Model(&models.JobTask{}).
		Where(&models.JobTask{Status: string(types.JOB_PENDING), JobType: "OneTimeJobStartDateTime"}).
		Where("runs_at > ?", now).
		Order("runs_at asc").
		Limit(1000).
		Find(&jobTasks).
		Error
	if err != nil {
		log.Printf("Error retrieving jobs: %s\n", err.Error())
		return err
	}
	log.Printf("Found %d pending jobs", len(jobTasks))
	for _, jobTask := range jobTasks {
		log.Printf("Queueing: %s\n", jobTask.ID.String())
		if err := armExpiryJob(jobTask); err != nil {
			log.Printf("Failed to schedule job [%s]. Skipping: %s\n", jobTask.ID.String(), err.Error())
			continue
		}
	}
	return nil
}

// MarkMissedJobs flags pending tasks whose fire time already passed
// while the process was down. Their reservations are reclaimed by the
// sweep, the flag only keeps them from being re-armed forever.
func MarkMissedJobs() {
	gdb := db.GetDb()
	err := gdb.Transaction(func(tx *gorm.DB) error {
		return tx.Model(&models.JobTask{}).
			Where("status = ?", string(types.JOB_PENDING)).
			Where("runs_at < ?", time.Now()).
			Update("status", string(types.JOB_MISSED)).
			Error
	})
	if err != nil {
		log.Printf("Error while processing missed jobs: %s\n", err.Error())
	}
}
