package utils

import (
	"fmt"
	"log"
	"sync"
	"testing"
	"time"

	"tikiti/src/db"
	"tikiti/src/models"
	"tikiti/src/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// newTestDB opens a per-test in-memory sqlite database and installs it as
// the shared handle. A single open connection serializes the concurrent
// transactions the way the row locks do on postgres.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	inner, err := gdb.DB()
	require.NoError(t, err)
	inner.SetMaxOpenConns(1)
	err = gdb.AutoMigrate(
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
	require.NoError(t, err)
	db.NewDB(gdb)
	t.Cleanup(func() {
		db.NewDB(nil)
		inner.Close()
	})
	return gdb
}

type publishedEvent struct {
	Topic   string
	Payload types.JSONB
}

func captureEvents(t *testing.T) *[]publishedEvent {
	t.Helper()
	var mu sync.Mutex
	events := &[]publishedEvent{}
	SetEventPublisher(func(topic string, payload types.JSONB) {
		mu.Lock()
		defer mu.Unlock()
		*events = append(*events, publishedEvent{Topic: topic, Payload: payload})
	})
	t.Cleanup(func() {
		SetEventPublisher(func(topic string, payload types.JSONB) {})
	})
	return events
}

type fixture struct {
	User       models.User
	Event      models.Event
	TicketType models.TicketType
	Booking    models.Booking
	Payment    models.Payment
}

// seedPendingBooking creates a pending three-seat booking (500 each) with a
// pending payment of 1500 keyed by the given checkout request id.
func seedPendingBooking(t *testing.T, gdb *gorm.DB, checkoutRequestID string) *fixture {
	t.Helper()
	f := &fixture{}
	f.User = models.User{UID: checkoutRequestID, Name: "Test User", Email: checkoutRequestID + "@example.com"}
	require.NoError(t, gdb.Create(&f.User).Error)

	deadline := time.Now().Add(24 * time.Hour)
	dateTime := time.Now().Add(48 * time.Hour)
	f.Event = models.Event{
		Title:    "Test Event",
		Name:     "test-event",
		Status:   types.EVENT_REGISTRATION,
		Deadline: &deadline,
		DateTime: &dateTime,
	}
	require.NoError(t, gdb.Create(&f.Event).Error)

	f.TicketType = models.TicketType{
		Name:     "Regular",
		Status:   types.TICKET_TYPE_OPEN,
		Price:    500,
		Currency: "KES",
		Limit:    100,
		EventID:  f.Event.ID,
	}
	require.NoError(t, gdb.Create(&f.TicketType).Error)

	f.Booking = models.Booking{
		EventID:  f.Event.ID,
		UserID:   f.User.ID,
		Seats:    3,
		Total:    1500,
		Currency: "KES",
		Status:   types.BOOKING_PENDING,
		Items: []models.BookingItem{
			{TicketTypeID: f.TicketType.ID, Qty: 3, UnitPrice: 500, Subtotal: 1500},
		},
	}
	require.NoError(t, gdb.Create(&f.Booking).Error)

	f.Payment = models.Payment{
		BookingID:         f.Booking.ID,
		UserID:            f.User.ID,
		Amount:            1500,
		CheckoutRequestID: checkoutRequestID,
		Status:            types.PAYMENT_PENDING,
	}
	require.NoError(t, gdb.Create(&f.Payment).Error)
	return f
}

func successResult(checkoutRequestID string) types.PaymentResult {
	return types.PaymentResult{
		CheckoutRequestID: checkoutRequestID,
		Code:              0,
		Description:       "The service request is processed successfully.",
		Amount:            1500,
		Receipt:           "QWE123",
		Phone:             "254712345678",
	}
}

func failureResult(checkoutRequestID string) types.PaymentResult {
	return types.PaymentResult{
		CheckoutRequestID: checkoutRequestID,
		Code:              1032,
		Description:       "Request cancelled by user",
	}
}

func TestReconcileSuccessIssuesTickets(t *testing.T) {
	gdb := newTestDB(t)
	events := captureEvents(t)
	f := seedPendingBooking(t, gdb, "ws_CO_success_1")

	require.NoError(t, ReconcilePayment(successResult("ws_CO_success_1")))

	var payment models.Payment
	require.NoError(t, gdb.Where("id = ?", f.Payment.ID).First(&payment).Error)
	assert.Equal(t, types.PAYMENT_SUCCESS, payment.Status)
	assert.True(t, payment.TicketsIssued)
	require.NotNil(t, payment.MpesaReceipt)
	assert.Equal(t, "QWE123", *payment.MpesaReceipt)
	require.NotNil(t, payment.PhoneNumber)
	assert.Equal(t, "254712345678", *payment.PhoneNumber)
	assert.NotNil(t, payment.PaidAt)

	var booking models.Booking
	require.NoError(t, gdb.Where("id = ?", f.Booking.ID).First(&booking).Error)
	assert.Equal(t, types.BOOKING_CONFIRMED, booking.Status)

	var tickets []models.Ticket
	require.NoError(t, gdb.Where("booking_id = ?", f.Booking.ID).Find(&tickets).Error)
	require.Len(t, tickets, 3)
	codes := map[string]struct{}{}
	for _, ticket := range tickets {
		assert.Equal(t, types.TICKET_VALID, ticket.Status)
		assert.Regexp(t, redemptionCodePattern, ticket.Code)
		assert.Regexp(t, manualCodePattern, ticket.ManualCode)
		codes[ticket.Code] = struct{}{}
		codes[ticket.ManualCode] = struct{}{}
	}
	assert.Len(t, codes, 6)

	topics := []string{}
	for _, e := range *events {
		topics = append(topics, e.Topic)
	}
	assert.Contains(t, topics, TopicBookingConfirmed)
	assert.Contains(t, topics, TopicTicketIssued)
}

func TestReconcileExpandsEveryLineItem(t *testing.T) {
	gdb := newTestDB(t)
	captureEvents(t)
	f := seedPendingBooking(t, gdb, "ws_CO_multiline_1")

	vip := models.TicketType{
		Name:     "VIP",
		Status:   types.TICKET_TYPE_OPEN,
		Price:    500,
		Currency: "KES",
		Limit:    10,
		EventID:  f.Event.ID,
	}
	require.NoError(t, gdb.Create(&vip).Error)
	require.NoError(t, gdb.
		Model(&models.BookingItem{}).
		Where("booking_id = ?", f.Booking.ID).
		Update("qty", 2).
		Error)
	require.NoError(t, gdb.Create(&models.BookingItem{
		BookingID:    f.Booking.ID,
		TicketTypeID: vip.ID,
		Qty:          1,
		UnitPrice:    500,
		Subtotal:     500,
	}).Error)

	require.NoError(t, ReconcilePayment(successResult("ws_CO_multiline_1")))

	var regular, vips int64
	require.NoError(t, gdb.
		Model(&models.Ticket{}).
		Where("booking_id = ? AND ticket_type_id = ?", f.Booking.ID, f.TicketType.ID).
		Count(&regular).
		Error)
	require.NoError(t, gdb.
		Model(&models.Ticket{}).
		Where("booking_id = ? AND ticket_type_id = ?", f.Booking.ID, vip.ID).
		Count(&vips).
		Error)
	assert.EqualValues(t, 2, regular)
	assert.EqualValues(t, 1, vips)
}

func TestReconcileRedeliveredSuccessIsIdempotent(t *testing.T) {
	gdb := newTestDB(t)
	events := captureEvents(t)
	f := seedPendingBooking(t, gdb, "ws_CO_redeliver_1")

	require.NoError(t, ReconcilePayment(successResult("ws_CO_redeliver_1")))
	published := len(*events)
	var first models.Payment
	require.NoError(t, gdb.Where("id = ?", f.Payment.ID).First(&first).Error)

	require.NoError(t, ReconcilePayment(successResult("ws_CO_redeliver_1")))

	// The redelivered success must leave the recorded payment untouched.
	var second models.Payment
	require.NoError(t, gdb.Where("id = ?", f.Payment.ID).First(&second).Error)
	assert.Equal(t, first.Status, second.Status)
	require.NotNil(t, second.MpesaReceipt)
	assert.Equal(t, *first.MpesaReceipt, *second.MpesaReceipt)
	require.NotNil(t, second.PaidAt)
	assert.True(t, first.PaidAt.Equal(*second.PaidAt))

	var count int64
	require.NoError(t, gdb.Model(&models.Ticket{}).Where("booking_id = ?", f.Booking.ID).Count(&count).Error)
	assert.EqualValues(t, 3, count)
	assert.Len(t, *events, published, "redelivery must not publish new events")
}

func TestReconcileConcurrentRedelivery(t *testing.T) {
	gdb := newTestDB(t)
	captureEvents(t)
	f := seedPendingBooking(t, gdb, "ws_CO_concurrent_1")

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = ReconcilePayment(successResult("ws_CO_concurrent_1"))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}

	var count int64
	require.NoError(t, gdb.Model(&models.Ticket{}).Where("booking_id = ?", f.Booking.ID).Count(&count).Error)
	assert.EqualValues(t, 3, count, "five deliveries must issue exactly one ticket set")
}

func TestReconcileFailureRecordsReason(t *testing.T) {
	gdb := newTestDB(t)
	events := captureEvents(t)
	f := seedPendingBooking(t, gdb, "ws_CO_failure_1")

	require.NoError(t, ReconcilePayment(failureResult("ws_CO_failure_1")))

	var payment models.Payment
	require.NoError(t, gdb.Where("id = ?", f.Payment.ID).First(&payment).Error)
	assert.Equal(t, types.PAYMENT_FAILED, payment.Status)
	require.NotNil(t, payment.FailureReason)
	assert.Equal(t, "Request cancelled by user", *payment.FailureReason)
	assert.False(t, payment.TicketsIssued)

	var booking models.Booking
	require.NoError(t, gdb.Where("id = ?", f.Booking.ID).First(&booking).Error)
	assert.Equal(t, types.BOOKING_PENDING, booking.Status)

	var count int64
	require.NoError(t, gdb.Model(&models.Ticket{}).Where("booking_id = ?", f.Booking.ID).Count(&count).Error)
	assert.Zero(t, count)

	require.Len(t, *events, 1)
	assert.Equal(t, TopicPaymentFailed, (*events)[0].Topic)
}

func TestLateFailureNeverDowngradesSuccess(t *testing.T) {
	gdb := newTestDB(t)
	captureEvents(t)
	f := seedPendingBooking(t, gdb, "ws_CO_late_1")

	require.NoError(t, ReconcilePayment(successResult("ws_CO_late_1")))
	require.NoError(t, ReconcilePayment(failureResult("ws_CO_late_1")))

	var payment models.Payment
	require.NoError(t, gdb.Where("id = ?", f.Payment.ID).First(&payment).Error)
	assert.Equal(t, types.PAYMENT_SUCCESS, payment.Status)
	assert.Nil(t, payment.FailureReason)

	var count int64
	require.NoError(t, gdb.Model(&models.Ticket{}).Where("booking_id = ?", f.Booking.ID).Count(&count).Error)
	assert.EqualValues(t, 3, count)
}

func TestSuccessAfterFailureIsIgnored(t *testing.T) {
	gdb := newTestDB(t)
	captureEvents(t)
	f := seedPendingBooking(t, gdb, "ws_CO_contradiction_1")

	require.NoError(t, ReconcilePayment(failureResult("ws_CO_contradiction_1")))
	require.NoError(t, ReconcilePayment(successResult("ws_CO_contradiction_1")))

	var payment models.Payment
	require.NoError(t, gdb.Where("id = ?", f.Payment.ID).First(&payment).Error)
	assert.Equal(t, types.PAYMENT_FAILED, payment.Status)

	var count int64
	require.NoError(t, gdb.Model(&models.Ticket{}).Where("booking_id = ?", f.Booking.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestReconcileUnknownCorrelationID(t *testing.T) {
	newTestDB(t)
	captureEvents(t)

	err := ReconcilePayment(successResult("ws_CO_nobody_knows"))
	assert.ErrorIs(t, err, ErrUnknownCorrelationID)
}

// A provider payload with no CheckoutRequestID must never correlate: an empty
// id paired with the default result code zero would otherwise read as a
// success for whichever pending payment the lookup happens to return.
func TestReconcileRejectsEmptyCorrelationID(t *testing.T) {
	gdb := newTestDB(t)
	captureEvents(t)
	f := seedPendingBooking(t, gdb, "ws_CO_bystander_1")

	err := ReconcilePayment(types.PaymentResult{CheckoutRequestID: "", Code: 0})
	assert.ErrorIs(t, err, ErrUnknownCorrelationID)

	var payment models.Payment
	require.NoError(t, gdb.Where("id = ?", f.Payment.ID).First(&payment).Error)
	assert.Equal(t, types.PAYMENT_PENDING, payment.Status)
	assert.False(t, payment.TicketsIssued)

	var count int64
	require.NoError(t, gdb.Model(&models.Ticket{}).Where("booking_id = ?", f.Booking.ID).Count(&count).Error)
	assert.Zero(t, count)
}

// A booking with no line items makes issuance fail; the whole transaction
// must roll back so the payment is not recorded successful without tickets.
func TestReconcileRollsBackOnIssuanceFailure(t *testing.T) {
	gdb := newTestDB(t)
	captureEvents(t)
	f := seedPendingBooking(t, gdb, "ws_CO_atomic_1")
	require.NoError(t, gdb.Where("booking_id = ?", f.Booking.ID).Delete(&models.BookingItem{}).Error)

	err := ReconcilePayment(successResult("ws_CO_atomic_1"))
	require.Error(t, err)

	var payment models.Payment
	require.NoError(t, gdb.Where("id = ?", f.Payment.ID).First(&payment).Error)
	assert.Equal(t, types.PAYMENT_PENDING, payment.Status)
	assert.False(t, payment.TicketsIssued)
	assert.Nil(t, payment.MpesaReceipt)

	var booking models.Booking
	require.NoError(t, gdb.Where("id = ?", f.Booking.ID).First(&booking).Error)
	assert.Equal(t, types.BOOKING_PENDING, booking.Status)
}

func TestIssueTicketsSharesGateWithWebhookPath(t *testing.T) {
	gdb := newTestDB(t)
	captureEvents(t)
	f := seedPendingBooking(t, gdb, "ws_CO_gate_1")

	require.NoError(t, ReconcilePayment(successResult("ws_CO_gate_1")))

	count, err := IssueTickets(f.Booking.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	var rows int64
	require.NoError(t, gdb.Model(&models.Ticket{}).Where("booking_id = ?", f.Booking.ID).Count(&rows).Error)
	assert.EqualValues(t, 3, rows, "second entry point must not double-issue")
}

func TestIssueTicketsRequiresSuccessfulPayment(t *testing.T) {
	gdb := newTestDB(t)
	captureEvents(t)
	f := seedPendingBooking(t, gdb, "ws_CO_gate_2")

	_, err := IssueTickets(f.Booking.ID)
	require.Error(t, err)

	var rows int64
	require.NoError(t, gdb.Model(&models.Ticket{}).Where("booking_id = ?", f.Booking.ID).Count(&rows).Error)
	assert.Zero(t, rows)
}

func TestManualConfirmSharesSuccessPath(t *testing.T) {
	gdb := newTestDB(t)
	captureEvents(t)
	f := seedPendingBooking(t, gdb, "ws_CO_manual_1")

	require.NoError(t, ManualConfirmPayment(f.Payment.ID))

	var payment models.Payment
	require.NoError(t, gdb.Where("id = ?", f.Payment.ID).First(&payment).Error)
	assert.Equal(t, types.PAYMENT_SUCCESS, payment.Status)
	assert.True(t, payment.TicketsIssued)
	require.NotNil(t, payment.MpesaReceipt)
	assert.Regexp(t, `^MANUAL-[0-9A-F]{8}$`, *payment.MpesaReceipt)

	var count int64
	require.NoError(t, gdb.Model(&models.Ticket{}).Where("booking_id = ?", f.Booking.ID).Count(&count).Error)
	assert.EqualValues(t, 3, count)

	// Confirming again is a redelivery of the same success.
	require.NoError(t, ManualConfirmPayment(f.Payment.ID))
	require.NoError(t, gdb.Model(&models.Ticket{}).Where("booking_id = ?", f.Booking.ID).Count(&count).Error)
	assert.EqualValues(t, 3, count)
}

func issuedTickets(t *testing.T, gdb *gorm.DB, bookingID uint) []models.Ticket {
	t.Helper()
	var tickets []models.Ticket
	require.NoError(t, gdb.Where("booking_id = ?", bookingID).Find(&tickets).Error)
	require.NotEmpty(t, tickets)
	return tickets
}

func TestRedeemTicket(t *testing.T) {
	gdb := newTestDB(t)
	captureEvents(t)
	f := seedPendingBooking(t, gdb, "ws_CO_redeem_1")
	require.NoError(t, ReconcilePayment(successResult("ws_CO_redeem_1")))
	tickets := issuedTickets(t, gdb, f.Booking.ID)

	outcome, err := RedeemTicket(tickets[0].Code, 42)
	require.NoError(t, err)
	assert.Equal(t, types.ADMISSION_ADMITTED, outcome.Result)
	require.NotNil(t, outcome.UsedAt)
	firstUse := *outcome.UsedAt

	outcome, err = RedeemTicket(tickets[0].Code, 42)
	require.NoError(t, err)
	assert.Equal(t, types.ADMISSION_ALREADY_USED, outcome.Result)
	require.NotNil(t, outcome.UsedAt)
	assert.WithinDuration(t, firstUse, *outcome.UsedAt, time.Second)

	outcome, err = RedeemTicket("TKT-00000000000000000000000000000000", 42)
	require.NoError(t, err)
	assert.Equal(t, types.ADMISSION_NOT_FOUND, outcome.Result)
}

func TestRedeemTicketByManualCode(t *testing.T) {
	gdb := newTestDB(t)
	captureEvents(t)
	f := seedPendingBooking(t, gdb, "ws_CO_redeem_2")
	require.NoError(t, ReconcilePayment(successResult("ws_CO_redeem_2")))
	tickets := issuedTickets(t, gdb, f.Booking.ID)

	outcome, err := RedeemTicket(tickets[0].ManualCode, 42)
	require.NoError(t, err)
	assert.Equal(t, types.ADMISSION_ADMITTED, outcome.Result)

	// The QR code of the same ticket is now spent too.
	outcome, err = RedeemTicket(tickets[0].Code, 42)
	require.NoError(t, err)
	assert.Equal(t, types.ADMISSION_ALREADY_USED, outcome.Result)
}

func TestConcurrentRedemptionAdmitsOnce(t *testing.T) {
	gdb := newTestDB(t)
	captureEvents(t)
	f := seedPendingBooking(t, gdb, "ws_CO_redeem_3")
	require.NoError(t, ReconcilePayment(successResult("ws_CO_redeem_3")))
	tickets := issuedTickets(t, gdb, f.Booking.ID)

	var wg sync.WaitGroup
	outcomes := make([]*AdmissionOutcome, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := RedeemTicket(tickets[0].Code, uint(100+i))
			if err != nil {
				log.Printf("redeem error: %s\n", err.Error())
				return
			}
			outcomes[i] = outcome
		}(i)
	}
	wg.Wait()

	require.NotNil(t, outcomes[0])
	require.NotNil(t, outcomes[1])
	results := map[types.AdmissionResult]int{}
	results[outcomes[0].Result]++
	results[outcomes[1].Result]++
	assert.Equal(t, 1, results[types.ADMISSION_ADMITTED], "exactly one scan admits")
	assert.Equal(t, 1, results[types.ADMISSION_ALREADY_USED])
}

func TestRedeemTicketOfCancelledBooking(t *testing.T) {
	gdb := newTestDB(t)
	captureEvents(t)
	f := seedPendingBooking(t, gdb, "ws_CO_redeem_4")
	require.NoError(t, ReconcilePayment(successResult("ws_CO_redeem_4")))
	tickets := issuedTickets(t, gdb, f.Booking.ID)

	require.NoError(t, gdb.
		Model(&models.Booking{}).
		Where("id = ?", f.Booking.ID).
		Update("status", types.BOOKING_CANCELED).
		Error)

	outcome, err := RedeemTicket(tickets[0].Code, 42)
	require.NoError(t, err)
	assert.Equal(t, types.ADMISSION_NOT_FOUND, outcome.Result)
}
