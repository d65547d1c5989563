package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"payment-core/internal/model"
	"payment-core/internal/service/mq"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConsumer 同步投递预置消息，模拟至少一次语义 (每条投两遍)
type fakeConsumer struct {
	mu       sync.Mutex
	messages []*mq.Message
	wg       sync.WaitGroup
}

func (f *fakeConsumer) Subscribe(_ context.Context, topic string, handler func(msg *mq.Message) error) error {
	defer f.wg.Done()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msg := range f.messages {
		if msg.Topic != topic {
			continue
		}
		for i := 0; i < 2; i++ {
			if err := handler(msg); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

func (h *harness) drainOutbox(t *testing.T) []*mq.Message {
	t.Helper()
	var rows []model.OutboxMessage
	require.NoError(t, h.db.Order("id ASC").Find(&rows).Error)
	messages := make([]*mq.Message, 0, len(rows))
	for _, r := range rows {
		messages = append(messages, &mq.Message{Topic: r.Topic, Key: r.Key, Payload: r.Payload})
	}
	return messages
}

func TestNotificationsFromConfirmedTransfer(t *testing.T) {
	h := newHarness(t)
	sender := h.registerUser(t, "alice", "alice@example.com")
	recipient := h.registerUser(t, "bob", "bob@example.com")
	h.chain.setBalance(sender.SmartAccountAddress, 100, 6)

	tx, err := h.transactions.CreateAndExecute(context.Background(), CreateTransferInput{
		SenderID:            sender.ID,
		Password:            testPassword,
		RecipientIdentifier: "bob",
		TokenSymbol:         "USDC",
		Amount:              decimal.NewFromInt(40),
	})
	require.NoError(t, err)

	notifications := NewNotificationService(h.db)
	for _, msg := range h.drainOutbox(t) {
		require.NoError(t, notifications.Handle(msg))
		// 重投同一条消息不产生重复通知
		require.NoError(t, notifications.Handle(msg))
	}

	senderRows, err := notifications.ListNotifications(context.Background(), sender.ID, 10)
	require.NoError(t, err)
	require.Len(t, senderRows, 1)
	assert.Equal(t, model.NotificationPaymentSent, senderRows[0].Type)
	assert.Equal(t, tx.TransactionID, senderRows[0].Reference)

	recipientRows, err := notifications.ListNotifications(context.Background(), recipient.ID, 10)
	require.NoError(t, err)
	require.Len(t, recipientRows, 1)
	assert.Equal(t, model.NotificationPaymentReceived, recipientRows[0].Type)
}

func TestNotificationsFromFailedTransfer(t *testing.T) {
	h := newHarness(t)
	sender := h.registerUser(t, "alice", "alice@example.com")
	h.registerUser(t, "bob", "bob@example.com")
	h.chain.setBalance(sender.SmartAccountAddress, 1, 6)

	tx, err := h.transactions.CreateAndExecute(context.Background(), CreateTransferInput{
		SenderID:            sender.ID,
		Password:            testPassword,
		RecipientIdentifier: "bob",
		TokenSymbol:         "USDC",
		Amount:              decimal.NewFromInt(40),
	})
	require.Error(t, err)

	notifications := NewNotificationService(h.db)
	for _, msg := range h.drainOutbox(t) {
		require.NoError(t, notifications.Handle(msg))
	}

	rows, err := notifications.ListNotifications(context.Background(), sender.ID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.NotificationPaymentFailed, rows[0].Type)
	assert.Equal(t, tx.TransactionID, rows[0].Reference)
	assert.Contains(t, rows[0].Message, "failed")
}

func TestNotificationStartConsumesAllTopics(t *testing.T) {
	h := newHarness(t)
	payer := h.registerUser(t, "alice", "alice@example.com")
	recipient := h.registerUser(t, "bob", "bob@example.com")
	h.chain.setBalance(payer.SmartAccountAddress, 500, 6)

	invoice := setupInvoice(t, h, recipient, payer,
		[]model.InvoiceItem{
			{Description: "consulting", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(40)},
		},
		model.DiscountTypePercentage, decimal.Zero)

	_, _, err := h.invoices.PayInFull(context.Background(), PaymentInput{
		PayerID:     payer.ID,
		Password:    testPassword,
		InvoiceID:   invoice.ID,
		TokenSymbol: "USDC",
	})
	require.NoError(t, err)

	consumer := &fakeConsumer{messages: h.drainOutbox(t)}
	consumer.wg.Add(3) // 每个主题一个消费循环

	notifications := NewNotificationService(h.db)
	notifications.Start(context.Background(), consumer)

	done := make(chan struct{})
	go func() {
		consumer.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("消费循环未结束")
	}

	rows, err := notifications.ListNotifications(context.Background(), recipient.ID, 10)
	require.NoError(t, err)

	types := make(map[string]int)
	for _, n := range rows {
		types[n.Type]++
	}
	// 收款方应同时收到 "到账" 和 "发票结清" 两类通知，且各只有一条
	assert.Equal(t, 1, types[model.NotificationPaymentReceived])
	assert.Equal(t, 1, types[model.NotificationInvoicePaid])
}
