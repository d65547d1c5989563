package service

import (
	"context"
	"encoding/json"
	"fmt"

	"payment-core/internal/model"
	"payment-core/internal/service/mq"
	"payment-core/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NotificationService 是 MQ 的消费侧：把转账终态和发票结清事件
// 转成收发双方的应用内通知。Relay 是至少一次投递，重复消息靠
// notifications 表的唯一索引吸收。
type NotificationService struct {
	db *gorm.DB
}

func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{db: db}
}

// Start 按主题各起一个消费循环，ctx 取消后退出
func (s *NotificationService) Start(ctx context.Context, consumer mq.Consumer) {
	topics := []string{
		mq.TopicTransactionConfirmed,
		mq.TopicTransactionFailed,
		mq.TopicInvoicePaid,
	}
	for _, topic := range topics {
		topic := topic
		go func() {
			if err := consumer.Subscribe(ctx, topic, s.Handle); err != nil {
				logger.Error("[Notify] 订阅失败", zap.String("topic", topic), zap.Error(err))
			}
		}()
	}
}

// Handle 处理单条消息。返回 error 时 MQ 不 ack，消息会被重投。
func (s *NotificationService) Handle(msg *mq.Message) error {
	switch msg.Topic {
	case mq.TopicTransactionConfirmed:
		return s.handleTransaction(msg.Payload, true)
	case mq.TopicTransactionFailed:
		return s.handleTransaction(msg.Payload, false)
	case mq.TopicInvoicePaid:
		return s.handleInvoice(msg.Payload)
	default:
		// 未知主题直接 ack，避免毒消息堵死消费组
		logger.Warn("[Notify] 忽略未知主题", zap.String("topic", msg.Topic))
		return nil
	}
}

func (s *NotificationService) handleTransaction(payload []byte, confirmed bool) error {
	var ev TransactionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode transaction event: %w", err)
	}

	var rows []model.Notification
	if confirmed {
		rows = append(rows, model.Notification{
			UserID:    ev.SenderID,
			Type:      model.NotificationPaymentSent,
			Reference: ev.TransactionID,
			Message:   fmt.Sprintf("You sent %s USD in %s", ev.AmountUSD, ev.TokenSymbol),
		})
		if ev.RecipientID != nil {
			rows = append(rows, model.Notification{
				UserID:    *ev.RecipientID,
				Type:      model.NotificationPaymentReceived,
				Reference: ev.TransactionID,
				Message:   fmt.Sprintf("You received %s USD in %s", ev.AmountUSD, ev.TokenSymbol),
			})
		}
	} else {
		rows = append(rows, model.Notification{
			UserID:    ev.SenderID,
			Type:      model.NotificationPaymentFailed,
			Reference: ev.TransactionID,
			Message:   fmt.Sprintf("Transfer %s failed: %s", ev.TransactionID, ev.Reason),
		})
	}
	return s.insert(rows)
}

func (s *NotificationService) handleInvoice(payload []byte) error {
	var ev InvoicePaidEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode invoice event: %w", err)
	}

	return s.insert([]model.Notification{{
		UserID:    ev.RecipientID,
		Type:      model.NotificationInvoicePaid,
		Reference: ev.InvoiceNumber,
		Message:   fmt.Sprintf("Invoice %s received %s USD (%s)", ev.InvoiceNumber, ev.PaidUSD, ev.Status),
	}})
}

func (s *NotificationService) insert(rows []model.Notification) error {
	if len(rows) == 0 {
		return nil
	}
	// 重投的消息撞唯一索引时静默跳过
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// ListNotifications 返回用户最近的通知，最新在前
func (s *NotificationService) ListNotifications(ctx context.Context, userID uint64, limit int) ([]model.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var rows []model.Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
