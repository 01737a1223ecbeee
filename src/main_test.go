package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"tikiti/src/db"
	"tikiti/src/middlewares"
	"tikiti/src/models"
	"tikiti/src/types"
	"tikiti/src/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/tidwall/gjson"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type TestSuite struct {
	suite.Suite
	DB    *gorm.DB
	Token *string
	User  models.User
}

func (s *TestSuite) SetupSuite() {
	if os.Getenv("GIN_MODE") == "" {
		os.Setenv("GIN_MODE", "test")
	}
	registerValidators()

	gdb, err := gorm.Open(sqlite.Open("file:maintest?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		log.Fatalf("error opening test database: %s", err.Error())
	}
	inner, err := gdb.DB()
	if err != nil {
		log.Fatalf("error accessing inner db instance: %s", err.Error())
	}
	inner.SetMaxOpenConns(1)
	db.NewDB(gdb)
	s.DB = gdb

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
	if err != nil {
		log.Fatalf("error migration: %s", err.Error())
	}

	utils.SetEventPublisher(func(topic string, payload types.JSONB) {})

	user := models.User{
		UID:       "test-uid",
		Name:      "Test User",
		Email:     "someone@example.com",
		Role:      "organizer",
		ActiveOrg: 1,
	}
	if err := gdb.Create(&user).Error; err != nil {
		log.Fatalf("Could not create user due to error: %s\n", err.Error())
	}
	s.User = user
	token, err := generateJWT(&user)
	if err != nil {
		log.Fatalf("Error generating JWT token: %s\n", err.Error())
	}
	s.Token = &token
}

func (s *TestSuite) TearDownSuite() {
	inner, err := s.DB.DB()
	if err != nil {
		log.Printf("Error accessing inner db instance: %s\n", err.Error())
		return
	}
	db.NewDB(nil)
	inner.Close()
}

// seedPendingPayment creates event -> booking(2 seats) -> pending payment
// keyed by the given checkout request id.
func (s *TestSuite) seedPendingPayment(checkoutRequestID string) models.Payment {
	deadline := time.Now().Add(24 * time.Hour)
	dateTime := time.Now().Add(48 * time.Hour)
	event := models.Event{
		Title:    "Suite Event",
		Name:     "suite-event",
		Status:   types.EVENT_REGISTRATION,
		Deadline: &deadline,
		DateTime: &dateTime,
	}
	require.NoError(s.T(), s.DB.Create(&event).Error)
	ticketType := models.TicketType{
		Name:     "Regular",
		Status:   types.TICKET_TYPE_OPEN,
		Price:    500,
		Currency: "KES",
		Limit:    100,
		EventID:  event.ID,
	}
	require.NoError(s.T(), s.DB.Create(&ticketType).Error)
	booking := models.Booking{
		EventID:  event.ID,
		UserID:   s.User.ID,
		Seats:    2,
		Total:    1000,
		Currency: "KES",
		Status:   types.BOOKING_PENDING,
		Items: []models.BookingItem{
			{TicketTypeID: ticketType.ID, Qty: 2, UnitPrice: 500, Subtotal: 1000},
		},
	}
	require.NoError(s.T(), s.DB.Create(&booking).Error)
	payment := models.Payment{
		BookingID:         booking.ID,
		UserID:            s.User.ID,
		Amount:            1000,
		CheckoutRequestID: checkoutRequestID,
		Status:            types.PAYMENT_PENDING,
	}
	require.NoError(s.T(), s.DB.Create(&payment).Error)
	return payment
}

func stkCallbackJSON(checkoutRequestID string, resultCode int) string {
	cb := map[string]any{
		"MerchantRequestID": "29115-34620561-1",
		"CheckoutRequestID": checkoutRequestID,
		"ResultCode":        resultCode,
		"ResultDesc":        "The service request is processed successfully.",
	}
	if resultCode == 0 {
		cb["CallbackMetadata"] = map[string]any{
			"Item": []map[string]any{
				{"Name": "Amount", "Value": 1000.0},
				{"Name": "MpesaReceiptNumber", "Value": "QWE123"},
				{"Name": "PhoneNumber", "Value": 254712345678.0},
			},
		}
	} else {
		cb["ResultDesc"] = "Request cancelled by user"
	}
	body, _ := json.Marshal(map[string]any{"Body": map[string]any{"stkCallback": cb}})
	return string(body)
}

func (s *TestSuite) TestPingRoute() {
	router := setupRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/", nil)
	router.ServeHTTP(w, req)

	assert.Equal(s.T(), 200, w.Code)
}

func (s *TestSuite) TestMaintenanceMode() {
	os.Setenv("MAINTENANCE_MODE", "true")
	defer os.Setenv("MAINTENANCE_MODE", "false")

	router := setupRouter()
	router = maintenanceModeMiddleware(router)
	apiv1Group(router)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1", nil)
	router.ServeHTTP(w, req)

	assert.Equal(s.T(), 503, w.Code)
}

func (s *TestSuite) TestWebhookAcksMalformedPayload() {
	router := setupRouter()
	mpesaWebhookRoute(router)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/webhook/mpesa", strings.NewReader("not json at all"))
	router.ServeHTTP(w, req)

	assert.Equal(s.T(), 200, w.Code)
	body := w.Body.String()
	assert.EqualValues(s.T(), 0, gjson.Get(body, "ResultCode").Int())
	assert.Equal(s.T(), "Accepted", gjson.Get(body, "ResultDesc").String())
}

func (s *TestSuite) TestWebhookAcksUnknownCheckoutRequest() {
	router := setupRouter()
	mpesaWebhookRoute(router)

	w := httptest.NewRecorder()
	payload := stkCallbackJSON("ws_CO_never_initiated", 0)
	req, _ := http.NewRequest("POST", "/api/v1/webhook/mpesa", strings.NewReader(payload))
	router.ServeHTTP(w, req)

	assert.Equal(s.T(), 200, w.Code)
	assert.EqualValues(s.T(), 0, gjson.Get(w.Body.String(), "ResultCode").Int())
}

func (s *TestSuite) TestWebhookAcksBeforeReconciling() {
	payment := s.seedPendingPayment("ws_CO_ack_first")
	router := setupRouter()
	mpesaWebhookRoute(router)

	// Every reconciliation query must observe an already-written ack body;
	// the provider's redelivery timer starts counting at delivery, not at
	// commit.
	w := httptest.NewRecorder()
	ackedBeforeQueries := true
	err := s.DB.Callback().Query().Before("gorm:query").Register("webhook_ack_order", func(tx *gorm.DB) {
		if w.Body.Len() == 0 {
			ackedBeforeQueries = false
		}
	})
	require.NoError(s.T(), err)
	defer s.DB.Callback().Query().Remove("webhook_ack_order")

	payload := stkCallbackJSON("ws_CO_ack_first", 0)
	req, _ := http.NewRequest("POST", "/api/v1/webhook/mpesa", strings.NewReader(payload))
	router.ServeHTTP(w, req)

	assert.Equal(s.T(), 200, w.Code)
	assert.EqualValues(s.T(), 0, gjson.Get(w.Body.String(), "ResultCode").Int())
	assert.True(s.T(), ackedBeforeQueries, "ack must be flushed before reconciliation touches the database")

	var got models.Payment
	require.NoError(s.T(), s.DB.Where("id = ?", payment.ID).First(&got).Error)
	assert.Equal(s.T(), types.PAYMENT_SUCCESS, got.Status)
}

func (s *TestSuite) TestWebhookReconcilesSuccessfulPayment() {
	payment := s.seedPendingPayment("ws_CO_suite_success")
	router := setupRouter()
	mpesaWebhookRoute(router)

	w := httptest.NewRecorder()
	payload := stkCallbackJSON("ws_CO_suite_success", 0)
	req, _ := http.NewRequest("POST", "/api/v1/webhook/mpesa", strings.NewReader(payload))
	router.ServeHTTP(w, req)

	assert.Equal(s.T(), 200, w.Code)

	var got models.Payment
	require.NoError(s.T(), s.DB.Where("id = ?", payment.ID).First(&got).Error)
	assert.Equal(s.T(), types.PAYMENT_SUCCESS, got.Status)
	require.NotNil(s.T(), got.MpesaReceipt)
	assert.Equal(s.T(), "QWE123", *got.MpesaReceipt)
	require.NotNil(s.T(), got.PhoneNumber)
	assert.Equal(s.T(), "254712345678", *got.PhoneNumber)

	var tickets int64
	require.NoError(s.T(), s.DB.
		Model(&models.Ticket{}).
		Where("booking_id = ?", payment.BookingID).
		Count(&tickets).
		Error)
	assert.EqualValues(s.T(), 2, tickets)

	// Redelivery acks again and issues nothing new.
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("POST", "/api/v1/webhook/mpesa", strings.NewReader(payload))
	router.ServeHTTP(w, req)
	assert.Equal(s.T(), 200, w.Code)
	require.NoError(s.T(), s.DB.
		Model(&models.Ticket{}).
		Where("booking_id = ?", payment.BookingID).
		Count(&tickets).
		Error)
	assert.EqualValues(s.T(), 2, tickets)
}

func (s *TestSuite) TestWebhookRecordsFailedPayment() {
	payment := s.seedPendingPayment("ws_CO_suite_failure")
	router := setupRouter()
	mpesaWebhookRoute(router)

	w := httptest.NewRecorder()
	payload := stkCallbackJSON("ws_CO_suite_failure", 1032)
	req, _ := http.NewRequest("POST", "/api/v1/webhook/mpesa", strings.NewReader(payload))
	router.ServeHTTP(w, req)

	assert.Equal(s.T(), 200, w.Code)

	var got models.Payment
	require.NoError(s.T(), s.DB.Where("id = ?", payment.ID).First(&got).Error)
	assert.Equal(s.T(), types.PAYMENT_FAILED, got.Status)
	require.NotNil(s.T(), got.FailureReason)
	assert.Equal(s.T(), "Request cancelled by user", *got.FailureReason)

	var tickets int64
	require.NoError(s.T(), s.DB.
		Model(&models.Ticket{}).
		Where("booking_id = ?", payment.BookingID).
		Count(&tickets).
		Error)
	assert.Zero(s.T(), tickets)
}

func (s *TestSuite) TestAdmissionEndpoint() {
	payment := s.seedPendingPayment("ws_CO_suite_admit")
	require.NoError(s.T(), utils.ReconcilePayment(types.PaymentResult{
		CheckoutRequestID: "ws_CO_suite_admit",
		Code:              0,
		Description:       "ok",
		Amount:            1000,
		Receipt:           "RCP001",
		Phone:             "254712345678",
	}))
	var tickets []models.Ticket
	require.NoError(s.T(), s.DB.Where("booking_id = ?", payment.BookingID).Find(&tickets).Error)
	require.NotEmpty(s.T(), tickets)

	router := setupRouter()
	apiv1 := apiv1Group(router)
	apiv1.Use(middlewares.AuthMiddleware)
	admissionHandlers(apiv1)

	token := *s.Token
	scan := func(code string) (int, string) {
		w := httptest.NewRecorder()
		body, _ := json.Marshal(types.AdmitTicketRequestBody{Code: code})
		req, _ := http.NewRequest("POST", "/api/v1/admission", strings.NewReader(string(body)))
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
		router.ServeHTTP(w, req)
		return w.Code, w.Body.String()
	}

	s.Run("admits a valid code once", func() {
		code, body := scan(tickets[0].Code)
		assert.Equal(s.T(), 200, code)
		assert.Equal(s.T(), string(types.ADMISSION_ADMITTED), gjson.Get(body, "result").String())
	})

	s.Run("rejects the same code as already used", func() {
		code, body := scan(tickets[0].Code)
		assert.Equal(s.T(), 200, code)
		assert.Equal(s.T(), string(types.ADMISSION_ALREADY_USED), gjson.Get(body, "result").String())
		assert.NotEmpty(s.T(), gjson.Get(body, "used_at").String())
	})

	s.Run("reports unknown codes as not found", func() {
		code, body := scan("TKT-ffffffffffffffffffffffffffffffff")
		assert.Equal(s.T(), 200, code)
		assert.Equal(s.T(), string(types.ADMISSION_NOT_FOUND), gjson.Get(body, "result").String())
	})

	s.Run("requires authentication", func() {
		w := httptest.NewRecorder()
		body, _ := json.Marshal(types.AdmitTicketRequestBody{Code: tickets[0].Code})
		req, _ := http.NewRequest("POST", "/api/v1/admission", strings.NewReader(string(body)))
		router.ServeHTTP(w, req)
		assert.Equal(s.T(), 401, w.Code)
	})
}

func TestSuiteRun(t *testing.T) {
	suite.Run(t, new(TestSuite))
}
