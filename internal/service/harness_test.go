package service

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"payment-core/internal/model"
	"payment-core/internal/service/gasless"
	"payment-core/pkg/config"
	"payment-core/pkg/lock"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// testChain 测试用链视图，余额按智能账户地址索引
type testChain struct {
	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	balanceErr error
}

func newTestChain() *testChain {
	return &testChain{balances: make(map[common.Address]*big.Int)}
}

func (c *testChain) setBalance(addr string, humanAmount int64, decimals int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw := decimal.NewFromInt(humanAmount).Shift(decimals).BigInt()
	c.balances[common.HexToAddress(addr)] = raw
}

func (c *testChain) BalanceOf(_ context.Context, _, owner common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.balanceErr != nil {
		return nil, c.balanceErr
	}
	if b, ok := c.balances[owner]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (c *testChain) TokenName(_ context.Context, _ common.Address) (string, error) {
	return "USD Coin", nil
}

func (c *testChain) PermitNonce(_ context.Context, _, _ common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (c *testChain) AccountNonce(_ context.Context, _, _ common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

// testBundler 固定成功/失败的 Bundler，记录提交次数
type testBundler struct {
	mu        sync.Mutex
	sendCalls int
	failSend  bool
}

func (b *testBundler) GetUserOperationGasPrice(_ context.Context) (*gasless.GasPrice, error) {
	return &gasless.GasPrice{
		MaxFeePerGas:         big.NewInt(1_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000),
	}, nil
}

func (b *testBundler) SendUserOperation(_ context.Context, _ *gasless.UserOperation, _ common.Address) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendCalls++
	if b.failSend {
		return "", context.DeadlineExceeded
	}
	return "0xuserop", nil
}

func (b *testBundler) WaitForReceipt(_ context.Context, userOpHash string) (*gasless.Receipt, error) {
	return &gasless.Receipt{
		UserOpHash:      userOpHash,
		TransactionHash: "0xconfirmed",
		BlockNumber:     1000,
		GasUsed:         85000,
		Success:         true,
	}, nil
}

func (b *testBundler) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sendCalls
}

// harness 组装一套跑在 SQLite 内存库上的完整服务栈
type harness struct {
	db           *gorm.DB
	chain        *testChain
	bundler      *testBundler
	tokens       *gasless.TokenRegistry
	wallets      *WalletService
	resolver     *RecipientResolver
	balances     *BalanceService
	transactions *TransactionService
	invoices     *InvoiceService
	clients      *ClientService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.AllModels()...))

	chain := newTestChain()
	bundler := &testBundler{}
	tokens := gasless.NewTokenRegistry([]config.TokenConfig{
		{Symbol: "USDC", Address: "0x75faf114eafb1BDbe2F0316DF893fd58CE46AA4d", Decimals: 6, USDRate: "1"},
	})

	engine := gasless.NewEngine(chain, bundler, gasless.EngineConfig{
		ChainID:         421614,
		NetworkName:     "arbitrum-sepolia",
		Paymaster:       common.HexToAddress("0x2222222222222222222222222222222222222222"),
		PermitAllowance: decimal.NewFromInt(10),
	}, nil)

	wallets := NewWalletService(db)
	resolver := NewRecipientResolver(db)
	balances := NewBalanceService(chain, tokens)
	transactions := NewTransactionService(
		db, wallets, resolver, balances, engine, tokens,
		lock.NewMemoryLock(), "arbitrum-sepolia", 421614)
	invoices := NewInvoiceService(db, transactions, 7)
	clients := NewClientService(db)

	return &harness{
		db:           db,
		chain:        chain,
		bundler:      bundler,
		tokens:       tokens,
		wallets:      wallets,
		resolver:     resolver,
		balances:     balances,
		transactions: transactions,
		invoices:     invoices,
		clients:      clients,
	}
}

const testPassword = "s3cret-pass-123"

func (h *harness) registerUser(t *testing.T, username, email string) *model.User {
	t.Helper()
	user, err := h.wallets.Register(context.Background(), RegisterInput{
		Username:  username,
		Email:     email,
		Password:  testPassword,
		Firstname: "Ada",
		Lastname:  "Okafor",
	})
	require.NoError(t, err)
	return user
}

func (h *harness) outboxTopics(t *testing.T) []string {
	t.Helper()
	var messages []model.OutboxMessage
	require.NoError(t, h.db.Order("id ASC").Find(&messages).Error)
	topics := make([]string, 0, len(messages))
	for _, m := range messages {
		topics = append(topics, m.Topic)
	}
	return topics
}
