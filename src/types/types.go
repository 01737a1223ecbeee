package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strconv"
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
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	return nil
}

type EventStatus string

const (
	EVENT_DRAFT        EventStatus = "draft"
	EVENT_NOTIFY       EventStatus = "notify"
	EVENT_REGISTRATION EventStatus = "registration"
	EVENT_CLOSED       EventStatus = "closed"
	EVENT_ADMISSION    EventStatus = "admission"
	EVENT_COMPLETED    EventStatus = "completed"
	EVENT_CANCELED     EventStatus = "canceled"
)

type TicketTypeStatus string

const (
	TICKET_TYPE_DRAFT  TicketTypeStatus = "draft"
	TICKET_TYPE_OPEN   TicketTypeStatus = "open"
	TICKET_TYPE_CLOSED TicketTypeStatus = "closed"
)

type BookingStatus string

const (
	BOOKING_PENDING   BookingStatus = "pending"
	BOOKING_CONFIRMED BookingStatus = "confirmed"
	BOOKING_CANCELED  BookingStatus = "cancelled"
)

type PaymentStatus string

const (
	PAYMENT_PENDING PaymentStatus = "pending"
	PAYMENT_SUCCESS PaymentStatus = "success"
	PAYMENT_FAILED  PaymentStatus = "failed"
)

type TicketStatus string

const (
	TICKET_VALID TicketStatus = "valid"
	TICKET_USED  TicketStatus = "used"
)

// AdmissionResult is the structured outcome of a door scan. Rejections are
// results shown to gate staff, not transport errors.
type AdmissionResult string

const (
	ADMISSION_ADMITTED     AdmissionResult = "admitted"
	ADMISSION_ALREADY_USED AdmissionResult = "already_used"
	ADMISSION_NOT_FOUND    AdmissionResult = "not_found"
)

type Metadata map[string]any

type CreateEventRequestBody struct {
	Title        string  `json:"title" binding:"required"`
	Name         string  `json:"name" binding:"required"`
	Description  string  `json:"description,omitempty"`
	Location     string  `json:"location,omitempty" binding:"required"`
	DateTime     string  `json:"date_time" binding:"required,bookabledate" time_format:"2006-01-02 15:04:05 -07:00"`
	Deadline     string  `json:"deadline" binding:"required,bookabledate,ltdate=DateTime" time_format:"2006-01-02 15:04:05 -07:00"`
	Seats        uint    `json:"seats,omitempty"`
	Organization uint    `json:"organization" binding:"required"`
	Publish      bool    `json:"publish,omitempty"`
	OpensAt      *string `json:"opens_at,omitempty" binding:"omitempty,bookabledate,ltdate=Deadline" time_format:"2006-01-02 15:04:05 -07:00"`
}

type CreateTicketTypeRequestBody struct {
	Name     string  `json:"name" binding:"required"`
	Tier     string  `json:"tier,omitempty"`
	Currency string  `json:"currency" binding:"required"`
	Price    float64 `json:"price" binding:"required"`
	EventID  uint    `json:"event" binding:"required"`
	Limit    uint    `json:"limit" binding:"required"`
}

type CreateOrganizationRequestBody struct {
	Name         string `json:"name" binding:"required"`
	About        string `json:"about,omitempty"`
	Country      string `json:"country,omitempty"`
	ContactEmail string `json:"email" binding:"required"`
}

type BookingLineItem struct {
	TicketTypeID uint  `json:"ticket_type" binding:"required"`
	Qty          uint8 `json:"qty" binding:"required"`
}

type CreateBookingRequestBody struct {
	EventID uint              `json:"event" binding:"required"`
	Items   []BookingLineItem `json:"items" binding:"required,min=1"`
	Phone   string            `json:"phone" binding:"required"`
}

type RegisterUserRequestBody struct {
	Email string `json:"email" binding:"required"`
	Name  string `json:"name,omitempty"`
}

type AdmitTicketRequestBody struct {
	Code string `json:"code" binding:"required"`
}

type SimpleRequestParams struct {
	ID uint `uri:"id" binding:"required"`
}

// StkCallbackBody mirrors the JSON the payment provider posts to the webhook.
// Metadata items are matched by Name; only Amount, MpesaReceiptNumber and
// PhoneNumber are read.
type StkCallbackBody struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type StkCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        int    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []StkCallbackItem `json:"Item"`
	} `json:"CallbackMetadata,omitempty"`
}

type StkCallbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

// PaymentResult is the provider-agnostic form of a callback the reconciler
// consumes. Receipt, phone and amount are only set when Code is zero.
type PaymentResult struct {
	CheckoutRequestID string
	Code              int
	Description       string
	Amount            float64
	Receipt           string
	Phone             string
}

func (r PaymentResult) Succeeded() bool {
	return r.Code == 0
}

// FromStkCallback flattens the provider payload into a PaymentResult.
func FromStkCallback(cb *StkCallback) PaymentResult {
	result := PaymentResult{
		CheckoutRequestID: cb.CheckoutRequestID,
		Code:              cb.ResultCode,
		Description:       cb.ResultDesc,
	}
	if cb.CallbackMetadata == nil {
		return result
	}
	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			if v, ok := item.Value.(float64); ok {
				result.Amount = v
			}
		case "MpesaReceiptNumber":
			if v, ok := item.Value.(string); ok {
				result.Receipt = v
			}
		case "PhoneNumber":
			switch v := item.Value.(type) {
			case string:
				result.Phone = v
			case float64:
				result.Phone = strconv.FormatFloat(v, 'f', -1, 64)
			}
		}
	}
	return result
}
