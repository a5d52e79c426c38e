package models

import (
	"time"

	"github.com/TheRebzu/ecodeli-sub058/internal/domain"

	"github.com/shopspring/decimal"
)

// Delivery is a courier job created from an accepted announcement.
// Rows are never deleted; they end in DELIVERED, CANCELLED or DISPUTED.
type Delivery struct {
	ID                 string                `gorm:"primaryKey;size:36" json:"id"`
	Status             domain.DeliveryStatus `gorm:"size:20;not null;index" json:"status"`
	ClientID           string                `gorm:"size:36;not null;index" json:"client_id"`
	DelivererID        *string               `gorm:"size:36;index" json:"deliverer_id"`
	AnnouncementID     string                `gorm:"size:36;not null;index" json:"announcement_id"`
	ValidationCode     *string               `gorm:"size:6" json:"-"`
	CodeIssuedAt       *time.Time            `json:"code_issued_at,omitempty"`
	FailedCodeAttempts int                   `gorm:"not null;default:0" json:"failed_code_attempts"`
	Price              decimal.Decimal       `gorm:"type:decimal(20,2);not null" json:"price"`
	Currency           string                `gorm:"size:3;not null;default:'EUR'" json:"currency"`
	PaymentCapturedAt  *time.Time            `json:"payment_captured_at,omitempty"`
	CancelReason       string                `gorm:"size:512" json:"cancel_reason,omitempty"`
	DisputeReason      string                `gorm:"size:512" json:"dispute_reason,omitempty"`
	DisputeResolution  string                `gorm:"size:10" json:"dispute_resolution,omitempty"` // RELEASE | REFUND
	Version            int64                 `gorm:"not null;default:0" json:"version"`
	CreatedAt          time.Time             `json:"created_at"`
	AcceptedAt         *time.Time            `json:"accepted_at,omitempty"`
	PickedUpAt         *time.Time            `json:"picked_up_at,omitempty"`
	InTransitAt        *time.Time            `json:"in_transit_at,omitempty"`
	DeliveredAt        *time.Time            `json:"delivered_at,omitempty"`
	CancelledAt        *time.Time            `json:"cancelled_at,omitempty"`
	DisputedAt         *time.Time            `json:"disputed_at,omitempty"`
	PaidAt             *time.Time            `json:"paid_at,omitempty"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

func (Delivery) TableName() string {
	return "deliveries"
}

// IsDeliverer reports whether userID is the assigned deliverer.
func (d *Delivery) IsDeliverer(userID string) bool {
	return d.DelivererID != nil && *d.DelivererID == userID
}

func (d *Delivery) PaymentCaptured() bool { return d.PaymentCapturedAt != nil }

// DeliveryEvent is the append-only history of status changes.
type DeliveryEvent struct {
	ID         uint                  `gorm:"primaryKey" json:"id"`
	DeliveryID string                `gorm:"size:36;not null;index" json:"delivery_id"`
	FromStatus domain.DeliveryStatus `gorm:"size:20" json:"from_status"`
	ToStatus   domain.DeliveryStatus `gorm:"size:20;not null" json:"to_status"`
	ActorID    string                `gorm:"size:36" json:"actor_id"`
	ActorRole  string                `gorm:"size:20" json:"actor_role"`
	Note       string                `gorm:"size:512" json:"note,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
}

func (DeliveryEvent) TableName() string {
	return "delivery_events"
}
