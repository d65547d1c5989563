package gasless

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"payment-core/pkg/config"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChain 测试用链上只读视图
type fakeChain struct {
	balances     map[common.Address]*big.Int
	tokenName    string
	nameErr      error
	permitNonce  *big.Int
	accountNonce *big.Int
}

func (f *fakeChain) BalanceOf(_ context.Context, _, owner common.Address) (*big.Int, error) {
	if b, ok := f.balances[owner]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (f *fakeChain) TokenName(_ context.Context, _ common.Address) (string, error) {
	return f.tokenName, f.nameErr
}

func (f *fakeChain) PermitNonce(_ context.Context, _, _ common.Address) (*big.Int, error) {
	if f.permitNonce == nil {
		return big.NewInt(0), nil
	}
	return f.permitNonce, nil
}

func (f *fakeChain) AccountNonce(_ context.Context, _, _ common.Address) (*big.Int, error) {
	if f.accountNonce == nil {
		return big.NewInt(0), nil
	}
	return f.accountNonce, nil
}

// spyBundler 记录提交行为，断言"余额不足不触发提交"之类的行为
type spyBundler struct {
	gasPrice   *GasPrice
	gasErr     error
	sendHash   string
	sendErr    error
	receipt    *Receipt
	receiptErr error

	sendCalls int
	sentOps   []*UserOperation
}

func (s *spyBundler) GetUserOperationGasPrice(_ context.Context) (*GasPrice, error) {
	return s.gasPrice, s.gasErr
}

func (s *spyBundler) SendUserOperation(_ context.Context, op *UserOperation, _ common.Address) (string, error) {
	s.sendCalls++
	s.sentOps = append(s.sentOps, op)
	return s.sendHash, s.sendErr
}

func (s *spyBundler) WaitForReceipt(_ context.Context, userOpHash string) (*Receipt, error) {
	if s.receiptErr != nil {
		return nil, s.receiptErr
	}
	r := *s.receipt
	r.UserOpHash = userOpHash
	return &r, nil
}

func usdcToken() Token {
	return Token{
		Symbol:   "USDC",
		Address:  common.HexToAddress("0x75faf114eafb1BDbe2F0316DF893fd58CE46AA4d"),
		Decimals: 6,
		USDRate:  decimal.NewFromInt(1),
	}
}

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey)
	return NewSigner(key, crypto.CreateAddress(owner, 0))
}

func testEngine(chain ChainReader, bundler BundlerClient) *Engine {
	return NewEngine(chain, bundler, EngineConfig{
		ChainID:         421614,
		NetworkName:     "arbitrum-sepolia",
		Paymaster:       common.HexToAddress("0x2222222222222222222222222222222222222222"),
		PermitAllowance: decimal.NewFromInt(10),
	}, nil)
}

func TestExecuteInsufficientBalanceSkipsSubmission(t *testing.T) {
	signer := newTestSigner(t)
	defer signer.Destroy()

	chain := &fakeChain{
		tokenName: "USD Coin",
		balances: map[common.Address]*big.Int{
			signer.AccountAddress: big.NewInt(1_000_000), // 只有 1 USDC
		},
	}
	bundler := &spyBundler{}

	result, err := testEngine(chain, bundler).Execute(
		context.Background(), signer, usdcToken(),
		common.HexToAddress("0x3333333333333333333333333333333333333333"),
		decimal.NewFromInt(40))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, FailureInsufficientBalance, result.FailureKind)
	// 余额不足时不应有任何链上提交
	assert.Equal(t, 0, bundler.sendCalls)
}

func TestExecuteSuccess(t *testing.T) {
	signer := newTestSigner(t)
	defer signer.Destroy()
	token := usdcToken()

	chain := &fakeChain{
		tokenName: "USD Coin",
		balances: map[common.Address]*big.Int{
			signer.AccountAddress: big.NewInt(100_000_000),
		},
		accountNonce: big.NewInt(7),
	}
	bundler := &spyBundler{
		gasPrice: &GasPrice{
			MaxFeePerGas:         big.NewInt(2_000_000_000),
			MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
		},
		sendHash: "0xabc",
		receipt: &Receipt{
			TransactionHash: "0xdeadbeef",
			BlockNumber:     123456,
			GasUsed:         90000,
			Success:         true,
		},
	}
	engine := testEngine(chain, bundler)

	result, err := engine.Execute(context.Background(), signer, token,
		common.HexToAddress("0x3333333333333333333333333333333333333333"),
		decimal.NewFromInt(40))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "0xdeadbeef", result.TransactionHash)
	assert.Equal(t, "0xabc", result.UserOpHash)
	assert.Equal(t, uint64(123456), result.BlockNumber)
	assert.Equal(t, uint64(90000), result.GasUsed)

	require.Equal(t, 1, bundler.sendCalls)
	op := bundler.sentOps[0]
	assert.Equal(t, signer.AccountAddress, op.Sender)
	assert.Equal(t, int64(7), op.Nonce.Int64())
	// callData 必须是智能账户的 execute(address,uint256,bytes)
	executeSelector := accountABI.Methods["execute"].ID
	assert.True(t, bytes.HasPrefix(op.CallData, executeSelector))
	// paymasterAndData 以 Paymaster 地址开头
	assert.True(t, bytes.HasPrefix(op.PaymasterAndData, engine.cfg.Paymaster.Bytes()))
	assert.Len(t, op.Signature, 65)
	// EIP-191 签名的 v 调整为 27/28
	assert.Contains(t, []byte{27, 28}, op.Signature[64])
}

func TestExecuteGasPriceFallback(t *testing.T) {
	signer := newTestSigner(t)
	defer signer.Destroy()

	chain := &fakeChain{
		tokenName: "USD Coin",
		balances: map[common.Address]*big.Int{
			signer.AccountAddress: big.NewInt(100_000_000),
		},
	}
	bundler := &spyBundler{
		gasErr:   errors.New("bundler unreachable"),
		sendHash: "0xabc",
		receipt:  &Receipt{TransactionHash: "0x1", BlockNumber: 1, GasUsed: 1, Success: true},
	}

	_, err := testEngine(chain, bundler).Execute(context.Background(), signer, usdcToken(),
		common.HexToAddress("0x3333333333333333333333333333333333333333"),
		decimal.NewFromInt(1))
	require.NoError(t, err)

	require.Equal(t, 1, bundler.sendCalls)
	op := bundler.sentOps[0]
	assert.Equal(t, fallbackMaxFeePerGas, op.MaxFeePerGas)
	assert.Equal(t, fallbackMaxPriorityFeePerGas, op.MaxPriorityFeePerGas)
}

func TestExecuteSubmissionFailure(t *testing.T) {
	signer := newTestSigner(t)
	defer signer.Destroy()

	chain := &fakeChain{
		tokenName: "USD Coin",
		balances: map[common.Address]*big.Int{
			signer.AccountAddress: big.NewInt(100_000_000),
		},
	}
	bundler := &spyBundler{
		gasPrice: &GasPrice{MaxFeePerGas: big.NewInt(1), MaxPriorityFeePerGas: big.NewInt(1)},
		sendErr:  errors.New("AA21 didn't pay prefund"),
	}

	result, err := testEngine(chain, bundler).Execute(context.Background(), signer, usdcToken(),
		common.HexToAddress("0x3333333333333333333333333333333333333333"),
		decimal.NewFromInt(1))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, FailureSubmission, result.FailureKind)
	assert.Contains(t, result.FailureReason, "AA21")
}

func TestExecuteRevertedReceipt(t *testing.T) {
	signer := newTestSigner(t)
	defer signer.Destroy()

	chain := &fakeChain{
		tokenName: "USD Coin",
		balances: map[common.Address]*big.Int{
			signer.AccountAddress: big.NewInt(100_000_000),
		},
	}
	bundler := &spyBundler{
		gasPrice: &GasPrice{MaxFeePerGas: big.NewInt(1), MaxPriorityFeePerGas: big.NewInt(1)},
		sendHash: "0xabc",
		receipt:  &Receipt{TransactionHash: "0xbad", Success: false},
	}

	result, err := testEngine(chain, bundler).Execute(context.Background(), signer, usdcToken(),
		common.HexToAddress("0x3333333333333333333333333333333333333333"),
		decimal.NewFromInt(1))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, FailureReverted, result.FailureKind)
	assert.Equal(t, "0xabc", result.UserOpHash)
}

func TestExecuteReceiptTimeout(t *testing.T) {
	signer := newTestSigner(t)
	defer signer.Destroy()

	chain := &fakeChain{
		tokenName: "USD Coin",
		balances: map[common.Address]*big.Int{
			signer.AccountAddress: big.NewInt(100_000_000),
		},
	}
	bundler := &spyBundler{
		gasPrice:   &GasPrice{MaxFeePerGas: big.NewInt(1), MaxPriorityFeePerGas: big.NewInt(1)},
		sendHash:   "0xabc",
		receiptErr: ErrReceiptTimeout,
	}

	result, err := testEngine(chain, bundler).Execute(context.Background(), signer, usdcToken(),
		common.HexToAddress("0x3333333333333333333333333333333333333333"),
		decimal.NewFromInt(1))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, FailureReceiptTimeout, result.FailureKind)
	// 已经提交成功的 userOpHash 要保留下来，方便后续人工追查
	assert.Equal(t, "0xabc", result.UserOpHash)
}

func TestTokenRegistryLookup(t *testing.T) {
	registry := NewTokenRegistry([]config.TokenConfig{
		{Symbol: "usdc", Address: "0x75faf114eafb1BDbe2F0316DF893fd58CE46AA4d", Decimals: 6, USDRate: "1"},
		{Symbol: "WETH", Address: "0x980B62Da83eFf3D4576C647993b0c1D7faf17c73", Decimals: 18, USDRate: "2500"},
	})

	token, ok := registry.Get("USDC")
	require.True(t, ok)
	assert.Equal(t, "USDC", token.Symbol)
	assert.Equal(t, int32(6), token.Decimals)

	_, ok = registry.Get("DOGE")
	assert.False(t, ok)
	assert.Len(t, registry.All(), 2)
}

func TestToSmallestUnit(t *testing.T) {
	token := usdcToken()

	tests := []struct {
		name   string
		amount string
		want   string
	}{
		{"整数金额", "40", "40000000"},
		{"小数金额", "0.5", "500000"},
		{"超精度截断", "1.0000009", "1000000"},
		{"零", "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, err := decimal.NewFromString(tt.amount)
			require.NoError(t, err)
			assert.Equal(t, tt.want, token.ToSmallestUnit(amount).String())
		})
	}
}

func TestFromSmallestUnitRoundTrip(t *testing.T) {
	token := usdcToken()
	amount := decimal.RequireFromString("123.456789")
	raw := token.ToSmallestUnit(amount)
	assert.True(t, amount.Equal(token.FromSmallestUnit(raw)))
}

func TestEstimateFees(t *testing.T) {
	est := EstimateFees(decimal.NewFromInt(200), "USDC")
	// Gas 代付，网络费与实收总费恒为 0
	assert.True(t, est.NetworkFee.IsZero())
	assert.True(t, est.TotalFee.IsZero())
	assert.True(t, est.PlatformFee.Equal(decimal.NewFromInt(2)))
	assert.True(t, est.Gasless)
}
