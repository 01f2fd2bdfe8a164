package boot

import (
	"log"

	"gorm.io/gorm"

	"srs/src/common"
	"srs/src/db"
	"srs/src/lib"
	"srs/src/models"
	"srs/src/utils"
)

func InitDb() *gorm.DB {
	gdb := db.GetDb()

	err := gdb.AutoMigrate(
		&models.Product{},
		&models.Reservation{},
		&models.JobTask{},
	)
	if err != nil {
		log.Fatalf("error migration: %s", err.Error())
	}
	if err := utils.SeedCatalog(); err != nil {
		log.Printf("Error seeding catalog: %s\n", err.Error())
	}
	return gdb
}

// InitScheduler starts the in-process scheduler with the periodic
// sweep and re-arms any one-shot timers that survived a restart.
func InitScheduler() {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("An error has occurred. Check logs for info")
		return
	}
	go common.MarkMissedJobs()
	if err := common.RearmPendingJobs(); err != nil {
		log.Printf("Error recovering queued jobs: %s\n", err.Error())
	}
	common.StartExpirySweep()
	sched.Start()
	log.Println("Jobs in queue:", len(sched.Jobs()))
}

func StopScheduler() {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("Error retrieving Scheduler. Check logs for info")
		return
	}
	err = sched.Shutdown()
	if err != nil {
		log.Println("An error has occurred while stopping Scheduler. Check logs for info")
		return
	}
}
