package utils

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"tikiti/src/config"
	"tikiti/src/db"
	"tikiti/src/lib"
	"tikiti/src/models"
	"tikiti/src/types"

	"github.com/go-co-op/gocron/v2"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

func CreateNewEvent(params *types.CreateEventRequestBody, organizationId uint, creatorId uint) (uint, error) {
	dateTime, err := time.Parse(config.TIME_PARSE_FORMAT, params.DateTime)
	if err != nil {
		log.Printf("Error parsing date_time: %s\n", err.Error())
		return 0, err
	}
	dateTime = dateTime.Truncate(time.Minute)
	event := models.Event{
		Title:       params.Title,
		Name:        params.Name,
		Slug:        slug.Make(params.Name),
		About:       &params.Description,
		Location:    params.Location,
		DateTime:    &dateTime,
		Seats:       params.Seats,
		OrganizerID: organizationId,
		CreatedBy:   creatorId,
		Status:      types.EVENT_DRAFT,
	}

	db := db.GetDb()
	err = db.Transaction(func(tx *gorm.DB) error {
		deadline, err := time.Parse(config.TIME_PARSE_FORMAT, params.Deadline)
		if err != nil {
			log.Printf("Error parsing deadline: %s\n", err.Error())
			return err
		}
		deadline = deadline.Truncate(time.Minute)
		event.Deadline = &deadline

		if params.OpensAt != nil {
			opensAt, err := time.Parse(config.TIME_PARSE_FORMAT, *params.OpensAt)
			if err != nil {
				return err
			}
			event.OpensAt = &opensAt
			event.Status = types.EVENT_NOTIFY
		}

		var org models.Organization
		if err := tx.Where(&models.Organization{ID: organizationId}).First(&org).Error; err != nil {
			return fmt.Errorf("organization %d does not exist", organizationId)
		}
		return tx.Create(&event).Error
	})
	if err != nil {
		return 0, err
	}

	scheduleEventLifecycle(&event)

	if params.Publish {
		if err := PublishEvent(event.ID); err != nil {
			log.Printf("Failed to publish event: %s\n", err.Error())
			return 0, err
		}
	}
	return event.ID, nil
}

// scheduleEventLifecycle enqueues one-time jobs for the event's opens_at,
// deadline and date_time transitions. The periodic sweep in boot catches
// anything lost to a restart, so job creation failures are only logged.
func scheduleEventLifecycle(event *models.Event) {
	schedule := func(name string, runsAt *time.Time, task func()) {
		if runsAt == nil {
			return
		}
		scheduler, err := lib.GetScheduler()
		if err != nil {
			log.Printf("Error retrieving Scheduler instance: %s\n", err.Error())
			return
		}
		runDate := runsAt.UTC().Truncate(time.Minute)
		if runDate.Before(time.Now()) {
			return
		}
		job, err := scheduler.NewJob(
			gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(runDate)),
			gocron.NewTask(task),
			gocron.WithName(name),
		)
		if err != nil {
			log.Printf("Error creating job for Event: id=%d error=%s\n", event.ID, err.Error())
			return
		}
		log.Printf("[%s] job %s scheduled at: %s\n", name, job.ID().String(), runDate)
	}

	id := event.ID
	schedule(fmt.Sprintf("Event_%d_OpensAt", id), event.OpensAt, func() {
		if err := UpdateEventStatus(id, types.EVENT_REGISTRATION, types.EVENT_NOTIFY); err != nil {
			log.Printf("Error opening registrations for event %d: %s\n", id, err.Error())
		}
	})
	schedule(fmt.Sprintf("Event_%d_Deadline", id), event.Deadline, func() {
		if err := UpdateEventStatus(id, types.EVENT_CLOSED, types.EVENT_REGISTRATION); err != nil {
			log.Printf("Error closing registrations for event %d: %s\n", id, err.Error())
		}
	})
	schedule(fmt.Sprintf("Event_%d_DateTime", id), event.DateTime, func() {
		if err := UpdateEventStatus(id, types.EVENT_ADMISSION, types.EVENT_CLOSED); err != nil {
			log.Printf("Error starting admission for event %d: %s\n", id, err.Error())
		}
	})
}

func PublishEvent(id uint) error {
	db := db.GetDb()
	return db.Transaction(func(tx *gorm.DB) error {
		return tx.
			Model(&models.Event{}).
			Where("id = ? AND status IN (?)", id, []types.EventStatus{
				types.EVENT_DRAFT,
				types.EVENT_NOTIFY,
			}).
			Update("status", types.EVENT_REGISTRATION).
			Error
	})
}

// UpdateEventStatus transitions an event oldStatus -> newStatus under a row
// lock. A no-op when the event already left oldStatus, which makes the
// scheduled jobs and the periodic sweep safe to overlap.
func UpdateEventStatus(id uint, newStatus types.EventStatus, oldStatus types.EventStatus) error {
	db := db.GetDb()
	return db.Transaction(func(tx *gorm.DB) error {
		var event models.Event
		conds := &models.Event{ID: id, Status: oldStatus}
		if err := withRowLock(tx).
			Where(conds).
			First(&event).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		return tx.
			Model(&models.Event{}).
			Where(conds).
			Update("status", newStatus).
			Error
	})
}

func CreateNewTicketType(params *types.CreateTicketTypeRequestBody) (uint, error) {
	ticketType := models.TicketType{
		Name:     params.Name,
		Tier:     params.Tier,
		Currency: params.Currency,
		Price:    params.Price,
		Limit:    params.Limit,
		EventID:  params.EventID,
	}
	db := db.GetDb()
	err := db.Transaction(func(tx *gorm.DB) error {
		var event models.Event
		if err := tx.
			Where(&models.Event{ID: params.EventID}).
			First(&event).
			Error; err != nil {
			return fmt.Errorf("event %d does not exist", params.EventID)
		}
		if event.Status == types.EVENT_COMPLETED || event.Status == types.EVENT_CANCELED {
			return errors.New("cannot add ticket types to a finished event")
		}
		return tx.Create(&ticketType).Error
	})
	if err != nil {
		log.Println("Error: ", err.Error())
		return 0, err
	}
	return ticketType.ID, nil
}

func PublishTicketType(id uint) error {
	db := db.GetDb()
	return db.Transaction(func(tx *gorm.DB) error {
		return tx.
			Model(&models.TicketType{}).
			Where(&models.TicketType{ID: id, Status: types.TICKET_TYPE_DRAFT}).
			Update("status", types.TICKET_TYPE_OPEN).
			Error
	})
}

func CloseTicketType(id uint) error {
	db := db.GetDb()
	return db.Transaction(func(tx *gorm.DB) error {
		return tx.
			Model(&models.TicketType{}).
			Where(&models.TicketType{ID: id, Status: types.TICKET_TYPE_OPEN}).
			Update("status", types.TICKET_TYPE_CLOSED).
			Error
	})
}

// reservedSeats counts seats already held against a ticket type. Cancelled
// bookings release their seats; pending ones hold them until the sweep
// expires them.
func reservedSeats(tx *gorm.DB, ticketTypeID uint) (uint, error) {
	var reserved *uint
	err := tx.
		Model(&models.BookingItem{}).
		Joins("JOIN bookings ON bookings.id = booking_items.booking_id").
		Where("booking_items.ticket_type_id = ?", ticketTypeID).
		Where("bookings.status IN (?)", []types.BookingStatus{
			types.BOOKING_PENDING,
			types.BOOKING_CONFIRMED,
		}).
		Select("SUM(booking_items.qty)").
		Scan(&reserved).
		Error
	if err != nil {
		return 0, err
	}
	if reserved == nil {
		return 0, nil
	}
	return *reserved, nil
}

func GetTicketTypesForEvent(id uint, isOwner bool) ([]*models.TicketType, error) {
	var ticketTypes []*models.TicketType
	cond := models.TicketType{EventID: id}
	if !isOwner {
		cond.Status = types.TICKET_TYPE_OPEN
	}
	db := db.GetDb()
	if err := db.
		Where(&cond).
		Order("created_at desc").
		Find(&ticketTypes).
		Error; err != nil {
		return nil, err
	}
	if err := db.Transaction(func(tx *gorm.DB) error {
		for _, v := range ticketTypes {
			reserved, err := reservedSeats(tx, v.ID)
			if err != nil {
				return err
			}
			free := uint(0)
			if v.Limit > reserved {
				free = v.Limit - reserved
			}
			v.Stats = &models.TicketTypeStats{
				TicketTypeID: v.ID,
				Free:         free,
				Reserved:     reserved,
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return ticketTypes, nil
}

func GetTicketTypeSeats(id uint) (free uint, reserved uint, err error) {
	db := db.GetDb()
	var ticketType models.TicketType
	if err := db.Where(&models.TicketType{ID: id}).First(&ticketType).Error; err != nil {
		return 0, 0, errors.New("ticket type not found")
	}
	reserved, err = reservedSeats(db, id)
	if err != nil {
		return 0, 0, err
	}
	if ticketType.Limit > reserved {
		free = ticketType.Limit - reserved
	}
	return free, reserved, nil
}

// CreateBooking reserves seats for one event. The availability check and the
// booking insert share a transaction that locks the ticket type rows, so two
// concurrent bookings cannot both take the last seats.
func CreateBooking(params *types.CreateBookingRequestBody, userId uint) (*models.Booking, error) {
	booking := models.Booking{
		EventID: params.EventID,
		UserID:  userId,
		Status:  types.BOOKING_PENDING,
	}
	db := db.GetDb()
	err := db.Transaction(func(tx *gorm.DB) error {
		var event models.Event
		if err := tx.
			Where(&models.Event{ID: params.EventID}).
			First(&event).
			Error; err != nil {
			return fmt.Errorf("event %d does not exist", params.EventID)
		}
		if event.Status != types.EVENT_REGISTRATION {
			return errors.New("event is not open for registration")
		}
		if event.Deadline != nil && event.Deadline.Before(time.Now()) {
			return errors.New("registration deadline has passed")
		}

		items := make([]models.BookingItem, 0, len(params.Items))
		for _, v := range params.Items {
			var ticketType models.TicketType
			if err := withRowLock(tx).
				Where(&models.TicketType{ID: v.TicketTypeID, EventID: event.ID}).
				First(&ticketType).
				Error; err != nil {
				return fmt.Errorf("ticket type %d does not exist for event %d", v.TicketTypeID, event.ID)
			}
			if ticketType.Status != types.TICKET_TYPE_OPEN {
				return fmt.Errorf("ticket type [%s] is not open for booking", ticketType.Name)
			}
			reserved, err := reservedSeats(tx, ticketType.ID)
			if err != nil {
				return err
			}
			if reserved+uint(v.Qty) > ticketType.Limit {
				return fmt.Errorf("ticket type [%s] has no more seats available", ticketType.Name)
			}
			subtotal := ticketType.Price * float64(v.Qty)
			items = append(items, models.BookingItem{
				TicketTypeID: ticketType.ID,
				Qty:          uint(v.Qty),
				UnitPrice:    ticketType.Price,
				Subtotal:     subtotal,
			})
			booking.Seats += uint(v.Qty)
			booking.Total += subtotal
			booking.Currency = ticketType.Currency
		}
		booking.Items = items
		return tx.Create(&booking).Error
	})
	if err != nil {
		log.Printf("CreateBooking failed: %s\n", err.Error())
		return nil, err
	}
	return &booking, nil
}

func GetOrgBookings(orgId uint) ([]models.Booking, error) {
	var bookings []models.Booking
	db := db.GetDb()
	err := db.
		Joins("JOIN events ON events.id = bookings.event_id").
		Where("events.organizer_id = ?", orgId).
		Preload("Event").
		Preload("Items").
		Order("bookings.created_at DESC").
		Find(&bookings).
		Error
	return bookings, err
}

func GetOwnBookings(userId uint) ([]models.Booking, error) {
	var bookings []models.Booking
	db := db.GetDb()
	err := db.
		Model(&models.Booking{}).
		Where(&models.Booking{UserID: userId}).
		Preload("Event").
		Preload("Items.TicketType").
		Preload("Payment").
		Preload("Tickets").
		Order("created_at DESC").
		Limit(20).
		Find(&bookings).
		Error
	return bookings, err
}

func CreateNewOrganization(params *types.CreateOrganizationRequestBody, ownerId uint) (uint, error) {
	organization := models.Organization{
		Name:         params.Name,
		About:        params.About,
		Country:      params.Country,
		OwnerID:      ownerId,
		ContactEmail: params.ContactEmail,
		Slug:         slug.Make(params.Name),
	}
	db := db.GetDb()
	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&organization).Error
	})
	if err != nil {
		return 0, err
	}
	return organization.ID, nil
}

// stkPush is the seam between booking payment initiation and the provider
// client. Tests replace it; production goes through the shared client.
var stkPush = func(ctx context.Context, req lib.StkPushRequest) (*lib.StkPushResponse, error) {
	return lib.GetMpesaClient().STKPush(ctx, req)
}

// SetStkPusher replaces the provider call. Used by tests.
func SetStkPusher(f func(ctx context.Context, req lib.StkPushRequest) (*lib.StkPushResponse, error)) {
	stkPush = f
}

// InitiatePayment sends the STK push for a pending booking and records the
// Payment row keyed by the provider's CheckoutRequestID. A booking that
// already has a non-failed payment keeps it; retrying is only allowed after
// the previous attempt failed.
func InitiatePayment(bookingId uint, userId uint, phone string) (*models.Payment, error) {
	var payment models.Payment
	db := db.GetDb()
	// The booking row lock spans the existence check, the provider call and
	// the insert, so two concurrent initiations for one booking serialize and
	// the second sees the first's pending payment.
	err := db.Transaction(func(tx *gorm.DB) error {
		var booking models.Booking
		if err := withRowLock(tx).
			Where(&models.Booking{ID: bookingId, UserID: userId}).
			Preload("Event").
			First(&booking).
			Error; err != nil {
			return errors.New("booking not found")
		}
		if booking.Status != types.BOOKING_PENDING {
			return fmt.Errorf("booking %d is not pending payment", bookingId)
		}
		var existing models.Payment
		if err := tx.
			Where(&models.Payment{BookingID: bookingId}).
			Not(&models.Payment{Status: types.PAYMENT_FAILED}).
			First(&existing).
			Error; err == nil {
			return fmt.Errorf("booking %d already has a payment in progress", bookingId)
		}

		reference := fmt.Sprintf("BOOKING-%d", booking.ID)
		description := booking.Event.Title
		if description == "" {
			description = reference
		}
		resp, err := stkPush(context.Background(), lib.StkPushRequest{
			Phone:       phone,
			Amount:      booking.Total,
			Reference:   reference,
			Description: description,
		})
		if err != nil {
			log.Printf("STK push failed for booking %d: %s\n", bookingId, err.Error())
			return err
		}

		payment = models.Payment{
			BookingID:         booking.ID,
			UserID:            userId,
			Amount:            booking.Total,
			Method:            "mpesa",
			CheckoutRequestID: resp.CheckoutRequestID,
			MerchantRequestID: resp.MerchantRequestID,
			Status:            types.PAYMENT_PENDING,
			PhoneNumber:       &phone,
		}
		return tx.Create(&payment).Error
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// CancelBooking cancels the user's own pending booking, releasing its seats.
// Confirmed bookings stay confirmed; refunds are an ops concern, not a
// self-service one.
func CancelBooking(bookingId uint, userId uint) error {
	db := db.GetDb()
	return db.Transaction(func(tx *gorm.DB) error {
		var booking models.Booking
		if err := withRowLock(tx).
			Where(&models.Booking{ID: bookingId, UserID: userId}).
			First(&booking).
			Error; err != nil {
			return errors.New("booking not found")
		}
		if booking.Status != types.BOOKING_PENDING {
			return fmt.Errorf("booking %d can no longer be cancelled", bookingId)
		}
		if err := tx.
			Model(&models.Booking{}).
			Where("id = ?", booking.ID).
			Update("status", types.BOOKING_CANCELED).
			Error; err != nil {
			return err
		}
		reason := "cancelled by user"
		return tx.
			Model(&models.Payment{}).
			Where("booking_id = ? AND status = ?", booking.ID, types.PAYMENT_PENDING).
			Updates(map[string]any{
				"status":         types.PAYMENT_FAILED,
				"failure_reason": &reason,
			}).
			Error
	})
}

// CancelStaleBookings expires pending bookings older than maxAge, releasing
// their seats. Their pending payments are failed with an expiry reason so a
// very late callback for one reconciles to a no-op instead of reviving it.
func CancelStaleBookings(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	var cancelled int64
	db := db.GetDb()
	err := db.Transaction(func(tx *gorm.DB) error {
		var bookings []models.Booking
		if err := withRowLock(tx).
			Where(&models.Booking{Status: types.BOOKING_PENDING}).
			Where("created_at < ?", cutoff).
			Find(&bookings).
			Error; err != nil {
			return err
		}
		reason := "payment window expired"
		for _, booking := range bookings {
			if err := tx.
				Model(&models.Booking{}).
				Where("id = ? AND status = ?", booking.ID, types.BOOKING_PENDING).
				Update("status", types.BOOKING_CANCELED).
				Error; err != nil {
				return err
			}
			if err := tx.
				Model(&models.Payment{}).
				Where("booking_id = ? AND status = ?", booking.ID, types.PAYMENT_PENDING).
				Updates(map[string]any{
					"status":         types.PAYMENT_FAILED,
					"failure_reason": &reason,
				}).
				Error; err != nil {
				return err
			}
			cancelled++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if cancelled > 0 {
		log.Printf("[Sweep] Cancelled %d stale bookings\n", cancelled)
	}
	return cancelled, nil
}

// SweepEventLifecycle advances events whose scheduled transition was missed,
// usually because the process restarted and lost its one-time jobs.
func SweepEventLifecycle() {
	now := time.Now()
	db := db.GetDb()
	sweep := func(newStatus, oldStatus types.EventStatus, column string) {
		var events []models.Event
		if err := db.
			Where(&models.Event{Status: oldStatus}).
			Where(fmt.Sprintf("%s <= ?", column), now).
			Find(&events).
			Error; err != nil {
			log.Printf("[Sweep] Error listing %s events: %s\n", oldStatus, err.Error())
			return
		}
		for _, event := range events {
			if err := UpdateEventStatus(event.ID, newStatus, oldStatus); err != nil {
				log.Printf("[Sweep] Error moving event %d to %s: %s\n", event.ID, newStatus, err.Error())
			}
		}
	}
	sweep(types.EVENT_REGISTRATION, types.EVENT_NOTIFY, "opens_at")
	sweep(types.EVENT_CLOSED, types.EVENT_REGISTRATION, "deadline")
	sweep(types.EVENT_ADMISSION, types.EVENT_CLOSED, "date_time")
}
