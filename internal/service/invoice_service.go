package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"payment-core/internal/model"
	"payment-core/internal/service/mq"
	"payment-core/pkg/errno"
	"payment-core/pkg/logger"
	"payment-core/pkg/monitor"
	"payment-core/pkg/safe_random"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 发票状态迁移表。paid / cancelled 为终态。
var invoiceTransitions = map[string][]string{
	model.InvoiceStatusDraft:   {model.InvoiceStatusSent, model.InvoiceStatusCancelled},
	model.InvoiceStatusSent:    {model.InvoiceStatusPartial, model.InvoiceStatusPaid, model.InvoiceStatusCancelled},
	model.InvoiceStatusPartial: {model.InvoiceStatusPaid, model.InvoiceStatusCancelled},
}

// InvoicePaidEvent 发票结清/部分支付事件
type InvoicePaidEvent struct {
	InvoiceNumber string `json:"invoice_number"`
	InvoiceID     uint64 `json:"invoice_id"`
	PayerID       uint64 `json:"payer_id"`
	RecipientID   uint64 `json:"recipient_id"`
	TransactionID string `json:"transaction_id"`
	PaidUSD       string `json:"paid_usd"`
	RemainingUSD  string `json:"remaining_usd"`
	Status        string `json:"status"`
	Timestamp     int64  `json:"timestamp"`
}

// CreateInvoiceInput 开票入参。金额均为 USD 计价。
type CreateInvoiceInput struct {
	UserID        uint64
	ClientID      uint64
	Items         []model.InvoiceItem
	DiscountType  string
	DiscountValue decimal.Decimal
	ExpiresAt     *time.Time
}

// InvoiceDetails 发票详情 (含支付流水)
type InvoiceDetails struct {
	Invoice  model.Invoice       `json:"invoice"`
	Client   model.Client        `json:"client"`
	Payments []model.Transaction `json:"payments"`
}

// InvoiceService 发票生命周期与链上结算
type InvoiceService struct {
	db           *gorm.DB
	transactions *TransactionService

	defaultTermsDays int
}

func NewInvoiceService(db *gorm.DB, transactions *TransactionService, defaultTermsDays int) *InvoiceService {
	if defaultTermsDays <= 0 {
		defaultTermsDays = 7
	}
	return &InvoiceService{db: db, transactions: transactions, defaultTermsDays: defaultTermsDays}
}

func generateInvoiceNumber() (string, error) {
	suffix, err := safe_random.GenerateRandomHexString(4)
	if err != nil {
		return "", err
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	return strings.ToUpper(fmt.Sprintf("INV-%s-%s", ts, suffix)), nil
}

// CreateInvoice 开票。到期日取客户账期，没配置用默认账期。
func (s *InvoiceService) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*model.Invoice, error) {
	if len(in.Items) == 0 {
		return nil, errno.ErrValidation.WithMessage("Invoice must have at least one item")
	}

	var client model.Client
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", in.ClientID, in.UserID).
		First(&client).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrValidation.WithMessage("Client not found")
		}
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}

	subTotal := decimal.Zero
	for _, item := range in.Items {
		if item.Quantity.IsNegative() || item.UnitPrice.IsNegative() {
			return nil, errno.ErrValidation.WithMessage("Item quantity and unit price must be non-negative")
		}
		subTotal = subTotal.Add(item.Quantity.Mul(item.UnitPrice))
	}

	discountType := in.DiscountType
	if discountType == "" {
		discountType = model.DiscountTypePercentage
	}
	discountAmount, err := computeDiscount(subTotal, discountType, in.DiscountValue)
	if err != nil {
		return nil, err
	}
	totalAmount := subTotal.Sub(discountAmount)

	invoiceNumber, err := generateInvoiceNumber()
	if err != nil {
		return nil, err
	}

	termsDays := client.PaymentTermsDays
	if termsDays <= 0 {
		termsDays = s.defaultTermsDays
	}

	invoice := &model.Invoice{
		InvoiceNumber:   invoiceNumber,
		UserID:          in.UserID,
		ClientID:        client.ID,
		RecipientID:     in.UserID, // 开票人即收款人
		Items:           in.Items,
		SubTotal:        subTotal,
		DiscountType:    discountType,
		DiscountValue:   in.DiscountValue,
		DiscountAmount:  discountAmount,
		TotalAmount:     totalAmount,
		PaidAmount:      decimal.Zero,
		RemainingAmount: totalAmount,
		Status:          model.InvoiceStatusDraft,
		DueAt:           time.Now().AddDate(0, 0, termsDays),
		ExpiresAt:       in.ExpiresAt,
	}
	if err := s.db.WithContext(ctx).Create(invoice).Error; err != nil {
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}

	logger.Info("发票已创建",
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.Uint64("user_id", invoice.UserID),
		zap.String("total", totalAmount.String()))
	return invoice, nil
}

func computeDiscount(subTotal decimal.Decimal, discountType string, value decimal.Decimal) (decimal.Decimal, error) {
	if value.IsNegative() {
		return decimal.Zero, errno.ErrValidation.WithMessage("Discount value must be non-negative")
	}
	switch discountType {
	case model.DiscountTypePercentage:
		if value.GreaterThan(decimal.NewFromInt(100)) {
			return decimal.Zero, errno.ErrValidation.WithMessage("Percentage discount cannot exceed 100")
		}
		return subTotal.Mul(value).Div(decimal.NewFromInt(100)), nil
	case model.DiscountTypeFixed:
		if value.GreaterThan(subTotal) {
			return subTotal, nil
		}
		return value, nil
	default:
		return decimal.Zero, errno.ErrValidation.WithMessage("Unknown discount type: " + discountType)
	}
}

// GetInvoiceDetails 发票详情，开票人和付款客户 (注册用户) 均可见
func (s *InvoiceService) GetInvoiceDetails(ctx context.Context, userID, invoiceID uint64) (*InvoiceDetails, error) {
	invoice, err := s.getInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	var client model.Client
	if err := s.db.WithContext(ctx).First(&client, invoice.ClientID).Error; err != nil {
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}
	if invoice.UserID != userID && (client.ClientUserID == nil || *client.ClientUserID != userID) {
		return nil, errno.ErrInvoiceNotFound
	}

	var payments []model.Transaction
	err = s.db.WithContext(ctx).
		Where("invoice_id = ?", invoice.ID).
		Order("created_at ASC").
		Find(&payments).Error
	if err != nil {
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}

	return &InvoiceDetails{Invoice: *invoice, Client: client, Payments: payments}, nil
}

// ListInvoices 开票人视角的发票列表
func (s *InvoiceService) ListInvoices(ctx context.Context, userID uint64, status string) ([]model.Invoice, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var invoices []model.Invoice
	if err := query.Order("created_at DESC").Find(&invoices).Error; err != nil {
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}
	return invoices, nil
}

// UpdateInvoiceStatus 手工状态迁移 (发送 / 取消)。
// 取消发票会联动取消其尚未上链的 pending 转账记录。
func (s *InvoiceService) UpdateInvoiceStatus(ctx context.Context, userID, invoiceID uint64, newStatus string) (*model.Invoice, error) {
	invoice, err := s.getInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.UserID != userID {
		return nil, errno.ErrInvoiceNotFound
	}
	if !invoiceTransitionAllowed(invoice.Status, newStatus) {
		return nil, errno.ErrValidation.WithMessage(
			fmt.Sprintf("Cannot move invoice from %s to %s", invoice.Status, newStatus))
	}

	now := time.Now()
	err = s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		invoice.Status = newStatus
		if newStatus == model.InvoiceStatusSent {
			invoice.SentAt = &now
		}
		if err := dbtx.Save(invoice).Error; err != nil {
			return err
		}

		if newStatus == model.InvoiceStatusCancelled {
			var pending []model.Transaction
			if err := dbtx.Where("invoice_id = ? AND status = ?", invoice.ID, model.TxStatusPending).
				Find(&pending).Error; err != nil {
				return err
			}
			for i := range pending {
				if err := pending[i].MarkCancelled(); err != nil {
					return err
				}
				if err := dbtx.Save(&pending[i]).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}

	logger.Info("发票状态已更新",
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("status", newStatus))
	return invoice, nil
}

func invoiceTransitionAllowed(from, to string) bool {
	for _, next := range invoiceTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentInput 支付发票的入参
type PaymentInput struct {
	PayerID        uint64
	Password       string
	InvoiceID      uint64
	TokenSymbol    string
	Amount         decimal.Decimal // USD 计价，PayInFull 忽略
	IdempotencyKey *string
}

// PayInFull 一次付清剩余全款
func (s *InvoiceService) PayInFull(ctx context.Context, in PaymentInput) (*model.Transaction, *model.Invoice, error) {
	invoice, err := s.payableInvoice(ctx, in.InvoiceID)
	if err != nil {
		return nil, nil, err
	}
	return s.pay(ctx, in, invoice, invoice.Outstanding())
}

// PayPartial 部分支付。金额必须为正且不超过剩余应付。
func (s *InvoiceService) PayPartial(ctx context.Context, in PaymentInput) (*model.Transaction, *model.Invoice, error) {
	invoice, err := s.payableInvoice(ctx, in.InvoiceID)
	if err != nil {
		return nil, nil, err
	}
	if !in.Amount.IsPositive() {
		return nil, nil, errno.ErrValidation.WithMessage("Payment amount must be positive")
	}
	if in.Amount.GreaterThan(invoice.Outstanding()) {
		return nil, nil, errno.ErrValidation.WithMessage(
			fmt.Sprintf("Payment %s exceeds outstanding %s", in.Amount, invoice.Outstanding()))
	}
	return s.pay(ctx, in, invoice, in.Amount)
}

// payableInvoice 支付前置校验：终态和过期发票直接拒绝，不落任何转账记录
func (s *InvoiceService) payableInvoice(ctx context.Context, invoiceID uint64) (*model.Invoice, error) {
	invoice, err := s.getInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	switch invoice.Status {
	case model.InvoiceStatusPaid:
		return nil, errno.ErrInvoiceNotPayable.WithMessage("Invoice is already paid")
	case model.InvoiceStatusCancelled:
		return nil, errno.ErrInvoiceNotPayable.WithMessage("Invoice is cancelled")
	case model.InvoiceStatusDraft:
		return nil, errno.ErrInvoiceNotPayable.WithMessage("Invoice has not been sent")
	}
	if invoice.IsExpired() {
		return nil, errno.ErrInvoiceNotPayable.WithMessage("Invoice is expired")
	}
	return invoice, nil
}

// pay 执行一笔发票结算转账并更新发票账目。
// 转账走和直接转账完全相同的编排路径 (落库/锁/余额/上链)。
func (s *InvoiceService) pay(ctx context.Context, in PaymentInput, invoice *model.Invoice, amountUSD decimal.Decimal) (*model.Transaction, *model.Invoice, error) {
	var recipient model.User
	if err := s.db.WithContext(ctx).First(&recipient, invoice.RecipientID).Error; err != nil {
		return nil, nil, errno.ErrDatabase.WithMessage(err.Error())
	}
	if !recipient.HasWallet() {
		return nil, nil, errno.ErrRecipientResolution.WithMessage("Invoice recipient has no wallet")
	}

	token, ok := s.transactions.tokens.Get(in.TokenSymbol)
	if !ok {
		return nil, nil, errno.ErrUnsupportedToken.WithMessage("Unsupported token: " + in.TokenSymbol)
	}
	// USD 应付金额换算成代币数量 (稳定币汇率为 1)
	tokenAmount := amountUSD.Div(token.USDRate)

	invoiceID := invoice.ID
	tx, err := s.transactions.CreateAndExecute(ctx, CreateTransferInput{
		SenderID:            in.PayerID,
		Password:            in.Password,
		RecipientIdentifier: recipient.SmartAccountAddress,
		TokenSymbol:         token.Symbol,
		Amount:              tokenAmount,
		Description:         "Invoice " + invoice.InvoiceNumber,
		IdempotencyKey:      in.IdempotencyKey,
		transactionType:     model.TxTypeInvoice,
		invoiceID:           &invoiceID,
	})
	if err != nil {
		return tx, invoice, err
	}
	if tx.Status != model.TxStatusConfirmed {
		return tx, invoice, errno.ErrTransactionFailed
	}

	// 转账确认后更新发票账目，结清事件与账目更新同事务
	err = s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		invoice.PaidAmount = invoice.PaidAmount.Add(amountUSD)
		invoice.RemainingAmount = invoice.TotalAmount.Sub(invoice.PaidAmount)
		if invoice.RemainingAmount.LessThanOrEqual(decimal.Zero) {
			invoice.Status = model.InvoiceStatusPaid
			now := time.Now()
			invoice.PaidAt = &now
		} else {
			invoice.Status = model.InvoiceStatusPartial
		}
		if err := dbtx.Save(invoice).Error; err != nil {
			return err
		}
		return model.CreateOutboxMessage(dbtx, mq.TopicInvoicePaid,
			strconv.FormatUint(invoice.UserID, 10), InvoicePaidEvent{
				InvoiceNumber: invoice.InvoiceNumber,
				InvoiceID:     invoice.ID,
				PayerID:       in.PayerID,
				RecipientID:   invoice.RecipientID,
				TransactionID: tx.TransactionID,
				PaidUSD:       amountUSD.String(),
				RemainingUSD:  invoice.RemainingAmount.String(),
				Status:        invoice.Status,
				Timestamp:     time.Now().Unix(),
			})
	})
	if err != nil {
		return tx, invoice, errno.ErrDatabase.WithMessage(err.Error())
	}
	if monitor.Business != nil {
		monitor.Business.InvoicePaymentTotal.WithLabelValues(invoice.Status).Inc()
	}

	logger.Info("发票支付完成",
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("transaction_id", tx.TransactionID),
		zap.String("paid_usd", amountUSD.String()),
		zap.String("status", invoice.Status))
	return tx, invoice, nil
}

// FindConfirmedInvoicePayments 找出已确认但发票账目尚未覆盖的发票付款。
// 链上确认和发票更新不在同一事务里，进程在二者之间崩溃会留下这种记录，
// 对账任务定期扫描后人工或自动补账。
func (s *InvoiceService) FindConfirmedInvoicePayments(ctx context.Context) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := s.db.WithContext(ctx).
		Where("transaction_type = ? AND status = ?", model.TxTypeInvoice, model.TxStatusConfirmed).
		Where(`invoice_id IN (
			SELECT i.id FROM invoices i
			WHERE i.paid_amount < (
				SELECT COALESCE(SUM(t.amount_usd), 0) FROM transactions t
				WHERE t.invoice_id = i.id AND t.status = 'confirmed'
			)
		)`).
		Find(&txs).Error
	if err != nil {
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}
	return txs, nil
}

func (s *InvoiceService) getInvoice(ctx context.Context, invoiceID uint64) (*model.Invoice, error) {
	var invoice model.Invoice
	if err := s.db.WithContext(ctx).First(&invoice, invoiceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrInvoiceNotFound
		}
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}
	return &invoice, nil
}
