package db

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusProcessing     OrderStatus = "processing"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusFailed         OrderStatus = "failed"
)

func (e *OrderStatus) Scan(src interface{}) error {
	switch s := src.(type) {
	case []byte:
		*e = OrderStatus(s)
	case string:
		*e = OrderStatus(s)
	default:
		return fmt.Errorf("unsupported scan type for OrderStatus: %T", src)
	}
	return nil
}

func (e OrderStatus) Value() (driver.Value, error) {
	return string(e), nil
}

type Order struct {
	ID                  uuid.UUID
	Email               string
	Template            string
	CsvHeaders          json.RawMessage
	CsvRows             json.RawMessage
	EmailsPerContact    int32
	ContactCount        int32
	TotalEmails         int32
	AmountCents         int64
	Status              OrderStatus
	StripeSessionID     sql.NullString
	StripePaymentIntent sql.NullString
	Results             pqtype.NullRawMessage
	SuccessCount        int32
	ErrorCount          int32
	ArtifactCsv         sql.NullString
	ArtifactUrl         sql.NullString
	Delivered           bool
	ErrorMessage        sql.NullString
	Attempts            int32
	CreatedAt           time.Time
	PaidAt              sql.NullTime
	StartedAt           sql.NullTime
	ClaimedAt           sql.NullTime
	CompletedAt         sql.NullTime
	UpdatedAt           time.Time
}

type StripeEvent struct {
	StripeEventID string
	Type          string
	Payload       json.RawMessage
	ProcessedAt   sql.NullTime
	Error         sql.NullString
	CreatedAt     time.Time
}
