package boot

import (
	"log"
	"time"

	"tikiti/src/db"
	"tikiti/src/lib"
	"tikiti/src/models"
	"tikiti/src/utils"

	"gorm.io/gorm"
)

func InitDb() *gorm.DB {
	db := db.GetDb()

	err := db.AutoMigrate(
		&models.User{},
		&models.Organization{},
		&models.Event{},
		&models.TicketType{},
		&models.Booking{},
		&models.BookingItem{},
		&models.Payment{},
		&models.Ticket{},
		&models.Notification{},
		&models.Setting{},
	)
	if err != nil {
		log.Fatalf("error migration: %s", err.Error())
	}

	return db
}

func InitBroker() {
	go lib.KafkaCreateTopics("BookingConfirmed", "PaymentFailed", "TicketIssued", "emails")
	go NotificationsConsumer()
}

// InitScheduler starts the periodic sweeps: expiring stale pending bookings
// and advancing events whose one-time lifecycle jobs were lost to a restart.
func InitScheduler() {
	if _, err := lib.CreateCronJob(func() {
		if _, err := utils.CancelStaleBookings(1 * time.Hour); err != nil {
			log.Printf("Error cancelling stale bookings: %s\n", err.Error())
		}
	}, 5*time.Minute); err != nil {
		log.Printf("Error scheduling booking sweep: %s\n", err.Error())
	}
	if _, err := lib.CreateCronJob(func() {
		utils.SweepEventLifecycle()
	}, 1*time.Minute); err != nil {
		log.Printf("Error scheduling event sweep: %s\n", err.Error())
	}

	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("An error has occurred. Check logs for info")
		return
	}
	log.Println("Jobs in queue:", len(sched.Jobs()))
	sched.Start()
}

func StopScheduler() {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("Error retrieving Scheduler. Check logs for info")
		return
	}
	if err := sched.Shutdown(); err != nil {
		log.Println("An error has occurred while stopping Scheduler. Check logs for info")
	}
}
