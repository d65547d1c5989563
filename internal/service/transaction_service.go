package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"payment-core/internal/model"
	"payment-core/internal/service/gasless"
	"payment-core/internal/service/mq"
	"payment-core/pkg/errno"
	"payment-core/pkg/lock"
	"payment-core/pkg/logger"
	"payment-core/pkg/monitor"
	"payment-core/pkg/safe_random"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 同一发送方的转账串行执行：锁覆盖余额检查到上链提交的临界区
const (
	senderLockTTL  = 2 * time.Minute
	senderLockWait = 10 * time.Second
)

// CreateTransferInput 发起转账的入参
type CreateTransferInput struct {
	SenderID            uint64
	Password            string // 解锁托管私钥用，不落库
	RecipientIdentifier string // 地址 / 用户名 / 邮箱
	TokenSymbol         string
	Amount              decimal.Decimal // 人类可读单位
	Description         string
	IdempotencyKey      *string

	// 发票结算路径由 InvoiceService 填充
	transactionType string
	invoiceID       *uint64
}

// TransactionEvent 终态事件 (Outbox -> MQ)
type TransactionEvent struct {
	TransactionID string  `json:"transaction_id"`
	SenderID      uint64  `json:"sender_id"`
	RecipientID   *uint64 `json:"recipient_id,omitempty"`
	TokenSymbol   string  `json:"token_symbol"`
	Amount        string  `json:"amount"`
	AmountUSD     string  `json:"amount_usd"`
	Status        string  `json:"status"`
	TxHash        string  `json:"tx_hash,omitempty"`
	Reason        string  `json:"reason,omitempty"`
	Timestamp     int64   `json:"timestamp"`
}

// TransactionService 转账编排：落库、串行化、上链执行、状态迁移、事件发布
type TransactionService struct {
	db       *gorm.DB
	wallets  *WalletService
	resolver *RecipientResolver
	balances *BalanceService
	engine   *gasless.Engine
	tokens   *gasless.TokenRegistry
	locker   lock.DistributedLock

	networkName string
	chainID     int64
}

func NewTransactionService(
	db *gorm.DB,
	wallets *WalletService,
	resolver *RecipientResolver,
	balances *BalanceService,
	engine *gasless.Engine,
	tokens *gasless.TokenRegistry,
	locker lock.DistributedLock,
	networkName string,
	chainID int64,
) *TransactionService {
	return &TransactionService{
		db:          db,
		wallets:     wallets,
		resolver:    resolver,
		balances:    balances,
		engine:      engine,
		tokens:      tokens,
		locker:      locker,
		networkName: networkName,
		chainID:     chainID,
	}
}

// generateTransactionID 业务侧转账号: TXN-<毫秒时间戳 base36>-<12 位随机 hex>
func generateTransactionID() (string, error) {
	suffix, err := safe_random.GenerateRandomHexString(6)
	if err != nil {
		return "", err
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	return strings.ToUpper(fmt.Sprintf("TXN-%s-%s", ts, suffix)), nil
}

// CreateAndExecute 发起并执行一笔转账。
//
// 流程: 幂等检查 -> 校验代币/金额 -> 解析收款方 -> 落 pending 记录 ->
// 拿发送方锁 -> 余额检查 -> 解锁签名器 -> 无 Gas 执行 -> 状态迁移 + 事件。
// pending 记录先于一切外部调用落库，执行路径上的任何失败都会留下
// failed 终态的审计记录而不是凭空消失。
func (s *TransactionService) CreateAndExecute(ctx context.Context, in CreateTransferInput) (*model.Transaction, error) {
	// 幂等: 同一 key 直接重放已有记录，不重复执行
	if in.IdempotencyKey != nil && *in.IdempotencyKey != "" {
		var existing model.Transaction
		err := s.db.WithContext(ctx).
			Where("idempotency_key = ?", *in.IdempotencyKey).
			First(&existing).Error
		if err == nil {
			logger.Info("幂等重放", zap.String("transaction_id", existing.TransactionID))
			return &existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrDatabase.WithMessage(err.Error())
		}
	}

	sender, err := s.wallets.GetUser(ctx, in.SenderID)
	if err != nil {
		return nil, err
	}
	if !sender.HasWallet() {
		return nil, errno.ErrValidation.WithMessage("Sender has no wallet-enabled account")
	}

	token, ok := s.tokens.Get(in.TokenSymbol)
	if !ok {
		return nil, errno.ErrUnsupportedToken.WithMessage("Unsupported token: " + in.TokenSymbol)
	}
	if !in.Amount.IsPositive() {
		return nil, errno.ErrValidation.WithMessage("Amount must be positive")
	}

	recipient, err := s.resolver.Resolve(ctx, in.RecipientIdentifier)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(recipient.Address, sender.SmartAccountAddress) {
		return nil, errno.ErrValidation.WithMessage("Cannot transfer to self")
	}

	tx, err := s.createPending(ctx, in, sender, recipient, token)
	if err != nil {
		// 并发同 key 撞上唯一索引时，重放先落库的那条记录
		if in.IdempotencyKey != nil && *in.IdempotencyKey != "" {
			var existing model.Transaction
			if lerr := s.db.WithContext(ctx).
				Where("idempotency_key = ?", *in.IdempotencyKey).
				First(&existing).Error; lerr == nil {
				return &existing, nil
			}
		}
		return nil, err
	}

	lockKey := fmt.Sprintf("transfer:sender:%d", sender.ID)
	acquired, err := lock.AcquireWait(ctx, s.locker, lockKey, senderLockTTL, senderLockWait)
	if err != nil {
		if ferr := s.fail(ctx, tx, token, "lock acquisition failed: "+err.Error()); ferr != nil {
			return tx, ferr
		}
		return tx, errno.ErrTransactionFailed.WithMessage("lock acquisition failed: " + err.Error())
	}
	if !acquired {
		if ferr := s.fail(ctx, tx, token, "sender has another transfer in flight"); ferr != nil {
			return tx, ferr
		}
		return tx, errno.ErrSenderBusy
	}
	defer func() {
		if rerr := s.locker.Release(context.WithoutCancel(ctx), lockKey); rerr != nil {
			logger.Warn("释放发送方锁失败", zap.String("key", lockKey), zap.Error(rerr))
		}
	}()

	sufficient, _, err := s.balances.CheckSufficient(ctx, sender.SmartAccountAddress, token.Symbol, in.Amount)
	if err != nil {
		if ferr := s.fail(ctx, tx, token, "balance check failed: "+err.Error()); ferr != nil {
			return tx, ferr
		}
		return tx, errno.ErrTransactionFailed.WithMessage("balance check failed: " + err.Error())
	}
	if !sufficient {
		if ferr := s.fail(ctx, tx, token, "insufficient balance"); ferr != nil {
			return tx, ferr
		}
		return tx, errno.ErrInsufficientBalance
	}

	signer, err := s.wallets.UnlockSigner(sender, in.Password)
	if err != nil {
		if ferr := s.fail(ctx, tx, token, "signer unlock failed: "+err.Error()); ferr != nil {
			return tx, ferr
		}
		return tx, err
	}
	defer signer.Destroy()

	result, err := s.engine.Execute(ctx, signer, token, common.HexToAddress(recipient.Address), in.Amount)
	if err != nil {
		if ferr := s.fail(ctx, tx, token, "execution error: "+err.Error()); ferr != nil {
			return tx, ferr
		}
		return tx, errno.ErrTransactionFailed.WithMessage("execution error: " + err.Error())
	}
	if !result.Success {
		tx.Metadata.UserOpHash = result.UserOpHash
		if ferr := s.fail(ctx, tx, token, result.FailureReason); ferr != nil {
			return tx, ferr
		}
		if result.FailureKind == gasless.FailureInsufficientBalance {
			return tx, errno.ErrInsufficientBalance
		}
		return tx, errno.ErrTransactionFailed.WithMessage(result.FailureReason)
	}

	return tx, s.confirm(ctx, tx, token, result)
}

// createPending 写 pending 记录 (一切外部调用之前)
func (s *TransactionService) createPending(ctx context.Context, in CreateTransferInput, sender *model.User, recipient *ResolvedRecipient, token gasless.Token) (*model.Transaction, error) {
	transactionID, err := generateTransactionID()
	if err != nil {
		return nil, err
	}

	txType := in.transactionType
	if txType == "" {
		txType = model.TxTypeDirect
	}

	tx := &model.Transaction{
		TransactionID:       transactionID,
		SenderID:            sender.ID,
		RecipientID:         recipient.UserID,
		RecipientAddress:    recipient.Address,
		RecipientIdentifier: recipient.Identifier,
		TokenAddress:        token.Address.Hex(),
		TokenSymbol:         token.Symbol,
		Amount:              decimal.NewFromBigInt(token.ToSmallestUnit(in.Amount), 0),
		AmountUSD:           in.Amount.Mul(token.USDRate),
		TransactionType:     txType,
		InvoiceID:           in.invoiceID,
		Status:              model.TxStatusPending,
		Description:         in.Description,
		IdempotencyKey:      in.IdempotencyKey,
		Metadata: model.TxMetadata{
			TokenDecimals:  token.Decimals,
			OriginalAmount: in.Amount.String(),
			NetworkName:    s.networkName,
			ChainID:        s.chainID,
			Gasless:        true,
		},
	}

	if err := s.db.WithContext(ctx).Create(tx).Error; err != nil {
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}
	if monitor.Business != nil {
		monitor.Business.TransactionCreatedTotal.WithLabelValues(token.Symbol).Inc()
	}
	logger.Info("转账已创建",
		zap.String("transaction_id", tx.TransactionID),
		zap.Uint64("sender_id", tx.SenderID),
		zap.String("token", tx.TokenSymbol),
		zap.String("amount", in.Amount.String()))
	return tx, nil
}

// fail 状态迁移到 failed 并在同一事务写失败事件
func (s *TransactionService) fail(ctx context.Context, tx *model.Transaction, token gasless.Token, reason string) error {
	if err := tx.MarkFailed(reason); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		if err := dbtx.Save(tx).Error; err != nil {
			return err
		}
		return model.CreateOutboxMessage(dbtx, mq.TopicTransactionFailed,
			strconv.FormatUint(tx.SenderID, 10), s.event(tx, reason))
	})
	if err != nil {
		return errno.ErrDatabase.WithMessage(err.Error())
	}
	if monitor.Business != nil {
		monitor.Business.TransactionFailedTotal.WithLabelValues(token.Symbol).Inc()
	}
	logger.Warn("转账失败",
		zap.String("transaction_id", tx.TransactionID),
		zap.String("reason", reason))
	return nil
}

// confirm 依次迁移 submitted -> confirmed，确认事件与状态更新同事务
func (s *TransactionService) confirm(ctx context.Context, tx *model.Transaction, token gasless.Token, result *gasless.Result) error {
	tx.Metadata.UserOpHash = result.UserOpHash
	if err := tx.MarkSubmitted(result.TransactionHash); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(tx).Error; err != nil {
		return errno.ErrDatabase.WithMessage(err.Error())
	}

	if err := tx.MarkConfirmed(result.BlockNumber, result.GasUsed); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		if err := dbtx.Save(tx).Error; err != nil {
			return err
		}
		return model.CreateOutboxMessage(dbtx, mq.TopicTransactionConfirmed,
			strconv.FormatUint(tx.SenderID, 10), s.event(tx, ""))
	})
	if err != nil {
		return errno.ErrDatabase.WithMessage(err.Error())
	}
	if monitor.Business != nil {
		monitor.Business.TransactionConfirmedTotal.WithLabelValues(token.Symbol).Inc()
	}
	logger.Info("转账已确认",
		zap.String("transaction_id", tx.TransactionID),
		zap.Stringp("tx_hash", tx.BlockchainTxHash),
		zap.Uint64p("block", tx.BlockNumber))
	return nil
}

func (s *TransactionService) event(tx *model.Transaction, reason string) TransactionEvent {
	var txHash string
	if tx.BlockchainTxHash != nil {
		txHash = *tx.BlockchainTxHash
	}
	return TransactionEvent{
		TransactionID: tx.TransactionID,
		SenderID:      tx.SenderID,
		RecipientID:   tx.RecipientID,
		TokenSymbol:   tx.TokenSymbol,
		Amount:        tx.Metadata.OriginalAmount,
		AmountUSD:     tx.AmountUSD.String(),
		Status:        tx.Status,
		TxHash:        txHash,
		Reason:        reason,
		Timestamp:     time.Now().Unix(),
	}
}

// GetTransactionStatus 查询单笔转账 (发送方或收款方可见)
func (s *TransactionService) GetTransactionStatus(ctx context.Context, userID uint64, transactionID string) (*model.Transaction, error) {
	var tx model.Transaction
	err := s.db.WithContext(ctx).
		Where("transaction_id = ? AND (sender_id = ? OR recipient_id = ?)", transactionID, userID, userID).
		First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrTransactionNotFound
		}
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}
	return &tx, nil
}

// HistoryFilter 流水查询条件
type HistoryFilter struct {
	Type        string // direct / invoice
	Status      string
	TokenSymbol string
	From        *time.Time
	To          *time.Time
	Page        int
	PageSize    int
}

// HistoryItem 带方向标注的流水条目
type HistoryItem struct {
	model.Transaction
	Direction string `json:"direction"` // incoming / outgoing
}

// HistorySummary 分页汇总
type HistorySummary struct {
	TotalSentUSD     decimal.Decimal `json:"total_sent_usd"`
	TotalReceivedUSD decimal.Decimal `json:"total_received_usd"`
	PendingCount     int64           `json:"pending_count"`
	Total            int64           `json:"total"`
}

// GetUserTransactionHistory 查询用户相关的全部流水 (发出 + 收到)，带分页和汇总
func (s *TransactionService) GetUserTransactionHistory(ctx context.Context, userID uint64, filter HistoryFilter) ([]HistoryItem, *HistorySummary, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("sender_id = ? OR recipient_id = ?", userID, userID)
	if filter.Type != "" {
		query = query.Where("transaction_type = ?", filter.Type)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.TokenSymbol != "" {
		query = query.Where("token_symbol = ?", strings.ToUpper(filter.TokenSymbol))
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at <= ?", *filter.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, nil, errno.ErrDatabase.WithMessage(err.Error())
	}

	var pendingCount int64
	err := query.Session(&gorm.Session{}).
		Where("status = ?", model.TxStatusPending).
		Count(&pendingCount).Error
	if err != nil {
		return nil, nil, errno.ErrDatabase.WithMessage(err.Error())
	}

	var txs []model.Transaction
	err = query.Order("created_at DESC").
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&txs).Error
	if err != nil {
		return nil, nil, errno.ErrDatabase.WithMessage(err.Error())
	}

	summary := &HistorySummary{
		TotalSentUSD:     decimal.Zero,
		TotalReceivedUSD: decimal.Zero,
		PendingCount:     pendingCount,
		Total:            total,
	}
	items := make([]HistoryItem, 0, len(txs))
	for _, tx := range txs {
		direction := "incoming"
		if tx.SenderID == userID {
			direction = "outgoing"
		}
		if tx.Status == model.TxStatusConfirmed {
			if direction == "outgoing" {
				summary.TotalSentUSD = summary.TotalSentUSD.Add(tx.AmountUSD)
			} else {
				summary.TotalReceivedUSD = summary.TotalReceivedUSD.Add(tx.AmountUSD)
			}
		}
		items = append(items, HistoryItem{Transaction: tx, Direction: direction})
	}
	return items, summary, nil
}

// CheckSufficientBalance 预检余额 (API 层的只读操作，不加锁)
func (s *TransactionService) CheckSufficientBalance(ctx context.Context, userID uint64, symbol string, amount decimal.Decimal) (bool, *TokenBalance, error) {
	user, err := s.wallets.GetUser(ctx, userID)
	if err != nil {
		return false, nil, err
	}
	return s.balances.CheckSufficient(ctx, user.SmartAccountAddress, symbol, amount)
}

// EstimateTransactionCost 费用预估 (Gas 代付，网络费恒 0)
func (s *TransactionService) EstimateTransactionCost(ctx context.Context, symbol string, amount decimal.Decimal) (*gasless.FeeEstimate, error) {
	token, ok := s.tokens.Get(symbol)
	if !ok {
		return nil, errno.ErrUnsupportedToken.WithMessage("Unsupported token: " + symbol)
	}
	est := gasless.EstimateFees(amount, token.Symbol)
	return &est, nil
}
