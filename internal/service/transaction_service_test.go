package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"payment-core/internal/model"
	"payment-core/internal/service/mq"
	"payment-core/pkg/errno"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndExecuteEndToEnd(t *testing.T) {
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
		Description:         "lunch",
	})
	require.NoError(t, err)

	assert.Equal(t, model.TxStatusConfirmed, tx.Status)
	// 40 USDC -> 最小单位 40_000000
	assert.Equal(t, "40000000", tx.Amount.String())
	assert.True(t, tx.AmountUSD.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, recipient.SmartAccountAddress, tx.RecipientAddress)
	require.NotNil(t, tx.RecipientID)
	assert.Equal(t, recipient.ID, *tx.RecipientID)
	require.NotNil(t, tx.BlockchainTxHash)
	assert.Equal(t, "0xconfirmed", *tx.BlockchainTxHash)
	assert.Equal(t, "40", tx.Metadata.OriginalAmount)
	assert.Equal(t, "0xuserop", tx.Metadata.UserOpHash)
	assert.NotNil(t, tx.SubmittedAt)
	assert.NotNil(t, tx.ConfirmedAt)

	// 确认事件落在 Outbox
	assert.Contains(t, h.outboxTopics(t), mq.TopicTransactionConfirmed)

	// 落库的记录和返回值一致
	stored, err := h.transactions.GetTransactionStatus(context.Background(), sender.ID, tx.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusConfirmed, stored.Status)
}

func TestCreateAndExecuteInsufficientBalance(t *testing.T) {
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
	code, _ := errno.Decode(err)
	assert.Equal(t, errno.ErrInsufficientBalance.Code, code)

	// 失败也要留下审计记录
	require.NotNil(t, tx)
	assert.Equal(t, model.TxStatusFailed, tx.Status)
	assert.Contains(t, tx.Metadata.FailureReason, "insufficient balance")
	// 没有任何上链提交
	assert.Equal(t, 0, h.bundler.calls())
	assert.Contains(t, h.outboxTopics(t), mq.TopicTransactionFailed)
}

func TestCreateAndExecuteBalanceCheckErrorPropagates(t *testing.T) {
	h := newHarness(t)
	sender := h.registerUser(t, "alice", "alice@example.com")
	h.registerUser(t, "bob", "bob@example.com")
	h.chain.balanceErr = errors.New("rpc down")

	tx, err := h.transactions.CreateAndExecute(context.Background(), CreateTransferInput{
		SenderID:            sender.ID,
		Password:            testPassword,
		RecipientIdentifier: "bob",
		TokenSymbol:         "USDC",
		Amount:              decimal.NewFromInt(40),
	})
	// 失败记录落库之外，错误必须同时抛给调用方
	require.Error(t, err)
	code, _ := errno.Decode(err)
	assert.Equal(t, errno.ErrTransactionFailed.Code, code)

	require.NotNil(t, tx)
	assert.Equal(t, model.TxStatusFailed, tx.Status)
	assert.Contains(t, tx.Metadata.FailureReason, "rpc down")
	assert.Equal(t, 0, h.bundler.calls())
}

func TestCreateAndExecuteWrongPassword(t *testing.T) {
	h := newHarness(t)
	sender := h.registerUser(t, "alice", "alice@example.com")
	h.registerUser(t, "bob", "bob@example.com")
	h.chain.setBalance(sender.SmartAccountAddress, 100, 6)

	tx, err := h.transactions.CreateAndExecute(context.Background(), CreateTransferInput{
		SenderID:            sender.ID,
		Password:            "wrong-password",
		RecipientIdentifier: "bob",
		TokenSymbol:         "USDC",
		Amount:              decimal.NewFromInt(1),
	})
	require.Error(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, model.TxStatusFailed, tx.Status)
	assert.Equal(t, 0, h.bundler.calls())
}

func TestCreateAndExecuteUnsupportedToken(t *testing.T) {
	h := newHarness(t)
	sender := h.registerUser(t, "alice", "alice@example.com")

	_, err := h.transactions.CreateAndExecute(context.Background(), CreateTransferInput{
		SenderID:            sender.ID,
		Password:            testPassword,
		RecipientIdentifier: "bob",
		TokenSymbol:         "DOGE",
		Amount:              decimal.NewFromInt(1),
	})
	require.Error(t, err)
	code, _ := errno.Decode(err)
	assert.Equal(t, errno.ErrUnsupportedToken.Code, code)
}

func TestCreateAndExecuteRejectsSelfTransfer(t *testing.T) {
	h := newHarness(t)
	sender := h.registerUser(t, "alice", "alice@example.com")
	h.chain.setBalance(sender.SmartAccountAddress, 100, 6)

	_, err := h.transactions.CreateAndExecute(context.Background(), CreateTransferInput{
		SenderID:            sender.ID,
		Password:            testPassword,
		RecipientIdentifier: "alice",
		TokenSymbol:         "USDC",
		Amount:              decimal.NewFromInt(1),
	})
	require.Error(t, err)
	code, _ := errno.Decode(err)
	assert.Equal(t, errno.ErrValidation.Code, code)
}

func TestIdempotencyKeyReplay(t *testing.T) {
	h := newHarness(t)
	sender := h.registerUser(t, "alice", "alice@example.com")
	h.registerUser(t, "bob", "bob@example.com")
	h.chain.setBalance(sender.SmartAccountAddress, 100, 6)

	key := "client-key-001"
	in := CreateTransferInput{
		SenderID:            sender.ID,
		Password:            testPassword,
		RecipientIdentifier: "bob",
		TokenSymbol:         "USDC",
		Amount:              decimal.NewFromInt(10),
		IdempotencyKey:      &key,
	}

	first, err := h.transactions.CreateAndExecute(context.Background(), in)
	require.NoError(t, err)
	second, err := h.transactions.CreateAndExecute(context.Background(), in)
	require.NoError(t, err)

	// 同一幂等键重放已有记录，不重复执行
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, 1, h.bundler.calls())

	var count int64
	require.NoError(t, h.db.Model(&model.Transaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTransactionIDFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^TXN-[0-9A-Z]+-[0-9A-F]{12}$`)
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id, err := generateTransactionID()
		require.NoError(t, err)
		assert.Regexp(t, pattern, id)
		_, dup := seen[id]
		assert.False(t, dup, "转账号重复: %s", id)
		seen[id] = struct{}{}
	}
}

func TestTransactionIDUniqueUnderConcurrency(t *testing.T) {
	const goroutines = 50
	const perGoroutine = 20

	var mu sync.Mutex
	seen := make(map[string]struct{}, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				id, err := generateTransactionID()
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// 时间戳相同的并发生成全靠随机后缀区分
	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestGetTransactionStatusVisibility(t *testing.T) {
	h := newHarness(t)
	sender := h.registerUser(t, "alice", "alice@example.com")
	recipient := h.registerUser(t, "bob", "bob@example.com")
	stranger := h.registerUser(t, "carol", "carol@example.com")
	h.chain.setBalance(sender.SmartAccountAddress, 100, 6)

	tx, err := h.transactions.CreateAndExecute(context.Background(), CreateTransferInput{
		SenderID:            sender.ID,
		Password:            testPassword,
		RecipientIdentifier: "bob",
		TokenSymbol:         "USDC",
		Amount:              decimal.NewFromInt(5),
	})
	require.NoError(t, err)

	// 发送方和收款方可见
	_, err = h.transactions.GetTransactionStatus(context.Background(), sender.ID, tx.TransactionID)
	assert.NoError(t, err)
	_, err = h.transactions.GetTransactionStatus(context.Background(), recipient.ID, tx.TransactionID)
	assert.NoError(t, err)

	// 无关用户不可见
	_, err = h.transactions.GetTransactionStatus(context.Background(), stranger.ID, tx.TransactionID)
	require.Error(t, err)
	code, _ := errno.Decode(err)
	assert.Equal(t, errno.ErrTransactionNotFound.Code, code)
}

func TestTransactionHistoryDirectionAndSummary(t *testing.T) {
	h := newHarness(t)
	alice := h.registerUser(t, "alice", "alice@example.com")
	bob := h.registerUser(t, "bob", "bob@example.com")
	h.chain.setBalance(alice.SmartAccountAddress, 100, 6)
	h.chain.setBalance(bob.SmartAccountAddress, 100, 6)

	_, err := h.transactions.CreateAndExecute(context.Background(), CreateTransferInput{
		SenderID: alice.ID, Password: testPassword,
		RecipientIdentifier: "bob", TokenSymbol: "USDC", Amount: decimal.NewFromInt(30),
	})
	require.NoError(t, err)
	_, err = h.transactions.CreateAndExecute(context.Background(), CreateTransferInput{
		SenderID: bob.ID, Password: testPassword,
		RecipientIdentifier: "alice", TokenSymbol: "USDC", Amount: decimal.NewFromInt(12),
	})
	require.NoError(t, err)

	items, summary, err := h.transactions.GetUserTransactionHistory(
		context.Background(), alice.ID, HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(2), summary.Total)
	assert.True(t, summary.TotalSentUSD.Equal(decimal.NewFromInt(30)))
	assert.True(t, summary.TotalReceivedUSD.Equal(decimal.NewFromInt(12)))

	directions := map[string]string{}
	for _, item := range items {
		directions[item.Direction] = item.TransactionID
	}
	assert.Len(t, directions, 2)

	// 状态过滤
	items, _, err = h.transactions.GetUserTransactionHistory(
		context.Background(), alice.ID, HistoryFilter{Status: model.TxStatusFailed})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCheckSufficientBalance(t *testing.T) {
	h := newHarness(t)
	alice := h.registerUser(t, "alice", "alice@example.com")
	h.chain.setBalance(alice.SmartAccountAddress, 50, 6)

	ok, balance, err := h.transactions.CheckSufficientBalance(
		context.Background(), alice.ID, "USDC", decimal.NewFromInt(40))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(50)))

	ok, _, err = h.transactions.CheckSufficientBalance(
		context.Background(), alice.ID, "USDC", decimal.NewFromInt(60))
	require.NoError(t, err)
	assert.False(t, ok)
}
