package gasless

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"payment-core/pkg/logger"
	"payment-core/pkg/monitor"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EntryPointV06 ERC-4337 v0.6 规范入口合约地址 (各链一致)
const EntryPointV06 = "0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789"

// 智能账户 execute(address dest, uint256 value, bytes func)
const accountABIJSON = `[
	{"constant":false,"inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],"name":"execute","outputs":[],"type":"function"}
]`

var accountABI abi.ABI

func init() {
	var err error
	accountABI, err = abi.JSON(strings.NewReader(accountABIJSON))
	if err != nil {
		panic(fmt.Sprintf("解析智能账户 ABI 失败: %v", err))
	}
}

// Bundler 费率不可用时的兜底费率
var (
	fallbackMaxFeePerGas         = big.NewInt(100_000_000_000) // 100 gwei
	fallbackMaxPriorityFeePerGas = big.NewInt(1_000_000_000)   // 1 gwei
)

// 未做链上预估时的保守 Gas 上限
var (
	defaultCallGasLimit         = big.NewInt(150_000)
	defaultVerificationGasLimit = big.NewInt(500_000)
	defaultPreVerificationGas   = big.NewInt(100_000)
)

// FailureKind 执行失败的阶段分类
type FailureKind string

const (
	FailureNone                FailureKind = ""
	FailureInsufficientBalance FailureKind = "insufficient_balance"
	FailureSigning             FailureKind = "signing"
	FailureSubmission          FailureKind = "submission"
	FailureReceiptTimeout      FailureKind = "receipt_timeout"
	FailureReverted            FailureKind = "reverted"
)

// Result 执行结果。执行引擎不向上抛业务层面的失败 ——
// 提交失败、超时、回滚都以 Success=false + FailureKind 返回，
// 只有编程错误 (ABI 打包失败等) 才走 error。
type Result struct {
	Success         bool
	TransactionHash string
	UserOpHash      string
	BlockNumber     uint64
	GasUsed         uint64
	FailureKind     FailureKind
	FailureReason   string
}

func failure(kind FailureKind, userOpHash string, err error) *Result {
	return &Result{
		Success:       false,
		UserOpHash:    userOpHash,
		FailureKind:   kind,
		FailureReason: err.Error(),
	}
}

// EngineConfig 执行引擎的链路参数
type EngineConfig struct {
	ChainID     int64
	NetworkName string
	EntryPoint  common.Address
	Paymaster   common.Address
	// PermitAllowance 每次执行授权给 Paymaster 抵扣 Gas 的代币额度 (人类可读单位)
	PermitAllowance decimal.Decimal
}

// Engine 无 Gas 执行引擎：把一笔 ERC-20 转账包装成 ERC-4337 UserOperation，
// 附带 EIP-2612 permit 让 Paymaster 代付 Gas，经 Bundler 提交上链。
type Engine struct {
	chain   ChainReader
	bundler BundlerClient
	cfg     EngineConfig
	metrics *monitor.BusinessMetrics
}

func NewEngine(chain ChainReader, bundler BundlerClient, cfg EngineConfig, metrics *monitor.BusinessMetrics) *Engine {
	if cfg.EntryPoint == (common.Address{}) {
		cfg.EntryPoint = common.HexToAddress(EntryPointV06)
	}
	return &Engine{chain: chain, bundler: bundler, cfg: cfg, metrics: metrics}
}

// Execute 执行一笔无 Gas 的 ERC-20 转账。
// 提交前会再查一次链上余额：落库和上链之间余额可能已经变化。
func (e *Engine) Execute(ctx context.Context, signer *Signer, token Token, to common.Address, amount decimal.Decimal) (*Result, error) {
	start := time.Now()
	rawAmount := token.ToSmallestUnit(amount)
	sender := signer.AccountAddress

	balance, err := e.chain.BalanceOf(ctx, token.Address, sender)
	if err != nil {
		return failure(FailureSubmission, "", fmt.Errorf("余额查询失败: %w", err)), nil
	}
	if balance.Cmp(rawAmount) < 0 {
		return failure(FailureInsufficientBalance, "",
			fmt.Errorf("余额不足: 持有 %s, 需要 %s %s",
				token.FromSmallestUnit(balance), amount, token.Symbol)), nil
	}

	callData, err := e.buildCallData(token.Address, to, rawAmount)
	if err != nil {
		return nil, fmt.Errorf("构造 callData 失败: %w", err)
	}

	gasPrice := e.gasPrice(ctx)

	permitAmount := token.ToSmallestUnit(e.cfg.PermitAllowance)
	permitSig, err := SignPermit(ctx, e.chain, signer, token.Address, e.cfg.ChainID, e.cfg.Paymaster, permitAmount)
	if err != nil {
		return failure(FailureSigning, "", err), nil
	}

	nonce, err := e.chain.AccountNonce(ctx, e.cfg.EntryPoint, sender)
	if err != nil {
		// 尚未部署的账户从 0 开始
		nonce = big.NewInt(0)
	}

	op := &UserOperation{
		Sender:               sender,
		Nonce:                nonce,
		InitCode:             []byte{},
		CallData:             callData,
		CallGasLimit:         defaultCallGasLimit,
		VerificationGasLimit: defaultVerificationGasLimit,
		PreVerificationGas:   defaultPreVerificationGas,
		MaxFeePerGas:         gasPrice.MaxFeePerGas,
		MaxPriorityFeePerGas: gasPrice.MaxPriorityFeePerGas,
		PaymasterAndData:     PackPaymasterData(e.cfg.Paymaster, token.Address, permitAmount, permitSig),
		Signature:            []byte{},
	}

	if err := e.signUserOp(op, signer); err != nil {
		return failure(FailureSigning, "", err), nil
	}

	userOpHash, err := e.bundler.SendUserOperation(ctx, op, e.cfg.EntryPoint)
	if err != nil {
		return failure(FailureSubmission, "", fmt.Errorf("提交 Bundler 失败: %w", err)), nil
	}
	logger.Info("UserOperation 已提交",
		zap.String("user_op_hash", userOpHash),
		zap.String("sender", sender.Hex()),
		zap.String("token", token.Symbol),
		zap.String("amount", amount.String()))

	receipt, err := e.bundler.WaitForReceipt(ctx, userOpHash)
	if err != nil {
		return failure(FailureReceiptTimeout, userOpHash, err), nil
	}
	if e.metrics != nil {
		e.metrics.UserOpDuration.WithLabelValues(token.Symbol).Observe(time.Since(start).Seconds())
	}
	if !receipt.Success {
		return failure(FailureReverted, userOpHash,
			fmt.Errorf("链上执行回滚: tx=%s", receipt.TransactionHash)), nil
	}

	return &Result{
		Success:         true,
		TransactionHash: receipt.TransactionHash,
		UserOpHash:      userOpHash,
		BlockNumber:     receipt.BlockNumber,
		GasUsed:         receipt.GasUsed,
	}, nil
}

// buildCallData 把 ERC-20 transfer 包进智能账户的 execute 调用
func (e *Engine) buildCallData(token, to common.Address, rawAmount *big.Int) ([]byte, error) {
	transferData, err := PackTransfer(to, rawAmount)
	if err != nil {
		return nil, err
	}
	return accountABI.Pack("execute", token, big.NewInt(0), transferData)
}

// gasPrice 查询 Bundler 建议费率，失败时回退固定费率
func (e *Engine) gasPrice(ctx context.Context) *GasPrice {
	gp, err := e.bundler.GetUserOperationGasPrice(ctx)
	if err != nil || gp == nil || gp.MaxFeePerGas == nil {
		logger.Warn("Bundler 费率查询失败, 使用兜底费率", zap.Error(err))
		return &GasPrice{
			MaxFeePerGas:         fallbackMaxFeePerGas,
			MaxPriorityFeePerGas: fallbackMaxPriorityFeePerGas,
		}
	}
	return gp
}

// signUserOp 计算 userOpHash, 按 EIP-191 前缀签名。
// 智能账户合约侧用 ECDSA.recover 校验, v 需调整为 27/28。
func (e *Engine) signUserOp(op *UserOperation, signer *Signer) error {
	hash, err := op.Hash(e.cfg.EntryPoint, big.NewInt(e.cfg.ChainID))
	if err != nil {
		return fmt.Errorf("userOp 哈希失败: %w", err)
	}
	sig, err := signer.SignHash(accounts.TextHash(hash.Bytes()))
	if err != nil {
		return fmt.Errorf("userOp 签名失败: %w", err)
	}
	sig[64] += 27
	op.Signature = sig
	return nil
}
