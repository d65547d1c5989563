package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	InvoiceStatusDraft     = "draft"
	InvoiceStatusSent      = "sent"
	InvoiceStatusPartial   = "partial"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusCancelled = "cancelled"
)

const (
	DiscountTypePercentage = "percentage"
	DiscountTypeFixed      = "fixed"
)

// InvoiceItem 发票行项目，JSON 序列化存储
type InvoiceItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Invoice 发票表。RecipientID 是收款用户，付款方是 Client。
type Invoice struct {
	ID              uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	InvoiceNumber   string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"invoice_number"`
	UserID          uint64          `gorm:"not null;index" json:"user_id"` // 开票人
	ClientID        uint64          `gorm:"not null;index" json:"client_id"`
	RecipientID     uint64          `gorm:"not null;index" json:"recipient_id"` // 收款用户
	Items           []InvoiceItem   `gorm:"serializer:json" json:"items"`
	SubTotal        decimal.Decimal `gorm:"type:decimal(20,9);not null" json:"sub_total"`
	DiscountType    string          `gorm:"type:varchar(16);not null;default:'percentage'" json:"discount_type"`
	DiscountValue   decimal.Decimal `gorm:"type:decimal(20,9);not null;default:0" json:"discount_value"`
	DiscountAmount  decimal.Decimal `gorm:"type:decimal(20,9);not null;default:0" json:"discount_amount"`
	TotalAmount     decimal.Decimal `gorm:"type:decimal(20,9);not null" json:"total_amount"`
	PaidAmount      decimal.Decimal `gorm:"type:decimal(20,9);not null;default:0" json:"paid_amount"`
	RemainingAmount decimal.Decimal `gorm:"type:decimal(20,9);not null;default:0" json:"remaining_amount"`
	Status          string          `gorm:"type:varchar(16);not null;index;default:'draft'" json:"status"`
	DueAt           time.Time       `json:"due_at"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	SentAt          *time.Time      `json:"sent_at,omitempty"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (Invoice) TableName() string {
	return "invoices"
}

// IsExpired 过期发票不可支付
func (i *Invoice) IsExpired() bool {
	return i.ExpiresAt != nil && time.Now().After(*i.ExpiresAt)
}

// Outstanding 剩余应付金额
func (i *Invoice) Outstanding() decimal.Decimal {
	return i.TotalAmount.Sub(i.PaidAmount)
}
