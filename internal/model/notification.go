package model

import "time"

const (
	NotificationPaymentReceived = "payment_received"
	NotificationPaymentSent     = "payment_sent"
	NotificationPaymentFailed   = "payment_failed"
	NotificationInvoicePaid     = "invoice_paid"
)

// Notification 应用内通知。由 MQ 消费侧写入，投递语义是至少一次，
// 所以用 (user_id, type, reference) 唯一索引做幂等。
type Notification struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint64    `gorm:"not null;index;uniqueIndex:uniq_notification" json:"user_id"`
	Type      string    `gorm:"type:varchar(50);not null;uniqueIndex:uniq_notification" json:"type"`
	Reference string    `gorm:"type:varchar(64);not null;uniqueIndex:uniq_notification" json:"reference"` // 转账号或发票号
	Message   string    `gorm:"type:varchar(255);not null" json:"message"`
	Read      bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
