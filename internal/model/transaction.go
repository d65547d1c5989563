package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// 转账状态机: pending -> submitted -> confirmed (成功路径)
// pending/submitted -> failed (失败为终态)
// cancelled 只能由发票取消流程进入 (见 InvoiceService.UpdateStatus)
const (
	TxStatusPending   = "pending"   // 已落库，尚未上链
	TxStatusSubmitted = "submitted" // 已提交 Bundler
	TxStatusConfirmed = "confirmed" // 已打包确认
	TxStatusFailed    = "failed"
	TxStatusCancelled = "cancelled"
)

const (
	TxTypeDirect  = "direct"
	TxTypeInvoice = "invoice"
)

// allowedTransitions 终态不允许再迁出，保证状态单调
var allowedTransitions = map[string][]string{
	TxStatusPending:   {TxStatusSubmitted, TxStatusFailed, TxStatusCancelled},
	TxStatusSubmitted: {TxStatusConfirmed, TxStatusFailed},
}

// TxMetadata 附加信息，JSON 序列化存储
type TxMetadata struct {
	TokenDecimals  int32  `json:"token_decimals"`
	OriginalAmount string `json:"original_amount"` // 人类可读金额
	NetworkName    string `json:"network_name"`
	ChainID        int64  `json:"chain_id"`
	UserOpHash     string `json:"user_op_hash,omitempty"`
	FailureReason  string `json:"failure_reason,omitempty"`
	Gasless        bool   `json:"gasless"`
}

// Transaction 转账流水表。只增不删 (审计要求)，状态只通过下面的 Mark* 方法迁移。
type Transaction struct {
	ID                  uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID       string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"transaction_id"`
	SenderID            uint64          `gorm:"not null;index" json:"sender_id"`
	RecipientID         *uint64         `gorm:"index" json:"recipient_id,omitempty"` // 外部地址收款时为空
	RecipientAddress    string          `gorm:"type:varchar(64);not null" json:"recipient_address"`
	RecipientIdentifier string          `gorm:"type:varchar(255);not null" json:"recipient_identifier"` // 原始输入
	TokenAddress        string          `gorm:"type:varchar(64);not null" json:"token_address"`
	TokenSymbol         string          `gorm:"type:varchar(16);not null;index" json:"token_symbol"`
	Amount              decimal.Decimal `gorm:"type:decimal(78,0);not null" json:"amount"` // 最小单位整数
	AmountUSD           decimal.Decimal `gorm:"type:decimal(20,9);not null" json:"amount_usd"`
	BlockchainTxHash    *string         `gorm:"type:varchar(128)" json:"blockchain_tx_hash,omitempty"`
	BlockNumber         *uint64         `json:"block_number,omitempty"`
	GasUsed             *uint64         `json:"gas_used,omitempty"`
	TransactionType     string          `gorm:"type:varchar(16);not null;default:'direct'" json:"transaction_type"`
	InvoiceID           *uint64         `gorm:"index" json:"invoice_id,omitempty"`
	Status              string          `gorm:"type:varchar(16);not null;index" json:"status"`
	Description         string          `gorm:"type:text" json:"description"`
	IdempotencyKey      *string         `gorm:"type:varchar(128);uniqueIndex" json:"idempotency_key,omitempty"`
	Metadata            TxMetadata      `gorm:"serializer:json" json:"metadata"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	SubmittedAt         *time.Time      `json:"submitted_at,omitempty"`
	ConfirmedAt         *time.Time      `json:"confirmed_at,omitempty"`
}

func (Transaction) TableName() string {
	return "transactions"
}

func (t *Transaction) transition(to string) error {
	for _, next := range allowedTransitions[t.Status] {
		if next == to {
			t.Status = to
			return nil
		}
	}
	return fmt.Errorf("非法状态迁移: %s -> %s (transactionId=%s)", t.Status, to, t.TransactionID)
}

// MarkSubmitted 记录上链 Hash 并进入 submitted
func (t *Transaction) MarkSubmitted(txHash string) error {
	if err := t.transition(TxStatusSubmitted); err != nil {
		return err
	}
	now := time.Now()
	t.BlockchainTxHash = &txHash
	t.SubmittedAt = &now
	return nil
}

// MarkConfirmed 记录区块信息并进入 confirmed
func (t *Transaction) MarkConfirmed(blockNumber, gasUsed uint64) error {
	if err := t.transition(TxStatusConfirmed); err != nil {
		return err
	}
	now := time.Now()
	t.BlockNumber = &blockNumber
	t.GasUsed = &gasUsed
	t.ConfirmedAt = &now
	return nil
}

// MarkFailed 进入 failed 终态，原因写进 metadata 方便排查
func (t *Transaction) MarkFailed(reason string) error {
	if err := t.transition(TxStatusFailed); err != nil {
		return err
	}
	t.Metadata.FailureReason = reason
	return nil
}

// MarkCancelled 仅发票取消流程调用
func (t *Transaction) MarkCancelled() error {
	return t.transition(TxStatusCancelled)
}

// IsTerminal 是否已到终态
func (t *Transaction) IsTerminal() bool {
	return t.Status == TxStatusConfirmed || t.Status == TxStatusFailed || t.Status == TxStatusCancelled
}
