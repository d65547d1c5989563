package gasless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrReceiptTimeout 等待打包回执超时
var ErrReceiptTimeout = errors.New("timed out waiting for user operation receipt")

// UserOperation ERC-4337 v0.6 用户操作
type UserOperation struct {
	Sender               common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	PaymasterAndData     []byte
	Signature            []byte
}

// MarshalJSON 按 Bundler RPC 预期的 hex 编码序列化
func (op *UserOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"sender":               op.Sender.Hex(),
		"nonce":                hexutil.EncodeBig(op.Nonce),
		"initCode":             hexutil.Encode(op.InitCode),
		"callData":             hexutil.Encode(op.CallData),
		"callGasLimit":         hexutil.EncodeBig(op.CallGasLimit),
		"verificationGasLimit": hexutil.EncodeBig(op.VerificationGasLimit),
		"preVerificationGas":   hexutil.EncodeBig(op.PreVerificationGas),
		"maxFeePerGas":         hexutil.EncodeBig(op.MaxFeePerGas),
		"maxPriorityFeePerGas": hexutil.EncodeBig(op.MaxPriorityFeePerGas),
		"paymasterAndData":     hexutil.Encode(op.PaymasterAndData),
		"signature":            hexutil.Encode(op.Signature),
	})
}

var (
	uint256Ty, _ = abi.NewType("uint256", "", nil)
	bytes32Ty, _ = abi.NewType("bytes32", "", nil)
	addressTy, _ = abi.NewType("address", "", nil)

	userOpPackArgs = abi.Arguments{
		{Type: addressTy}, {Type: uint256Ty}, {Type: bytes32Ty}, {Type: bytes32Ty},
		{Type: uint256Ty}, {Type: uint256Ty}, {Type: uint256Ty}, {Type: uint256Ty},
		{Type: uint256Ty}, {Type: bytes32Ty},
	}
	userOpHashArgs = abi.Arguments{
		{Type: bytes32Ty}, {Type: addressTy}, {Type: uint256Ty},
	}
)

// Hash 计算 v0.6 的 userOpHash:
// keccak256(abi.encode(keccak256(packed), entryPoint, chainId))
func (op *UserOperation) Hash(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	packed, err := userOpPackArgs.Pack(
		op.Sender,
		op.Nonce,
		common.BytesToHash(crypto.Keccak256(op.InitCode)),
		common.BytesToHash(crypto.Keccak256(op.CallData)),
		op.CallGasLimit,
		op.VerificationGasLimit,
		op.PreVerificationGas,
		op.MaxFeePerGas,
		op.MaxPriorityFeePerGas,
		common.BytesToHash(crypto.Keccak256(op.PaymasterAndData)),
	)
	if err != nil {
		return common.Hash{}, err
	}

	enc, err := userOpHashArgs.Pack(common.BytesToHash(crypto.Keccak256(packed)), entryPoint, chainID)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(crypto.Keccak256(enc)), nil
}

// GasPrice Bundler 返回的建议费率
type GasPrice struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Receipt 打包回执
type Receipt struct {
	UserOpHash      string
	TransactionHash string
	BlockNumber     uint64
	GasUsed         uint64
	Success         bool
}

// BundlerClient 中继/Bundler 提交端点。测试中用 Spy 替换。
type BundlerClient interface {
	GetUserOperationGasPrice(ctx context.Context) (*GasPrice, error)
	SendUserOperation(ctx context.Context, op *UserOperation, entryPoint common.Address) (string, error)
	WaitForReceipt(ctx context.Context, userOpHash string) (*Receipt, error)
}

// RPCBundlerClient 基于 JSON-RPC 的实现 (Pimlico 风格端点)
type RPCBundlerClient struct {
	client       *rpc.Client
	pollInterval time.Duration
	waitTimeout  time.Duration
}

func NewRPCBundlerClient(bundlerURL string) (*RPCBundlerClient, error) {
	client, err := rpc.Dial(bundlerURL)
	if err != nil {
		return nil, fmt.Errorf("连接 Bundler 失败: %w", err)
	}
	return &RPCBundlerClient{
		client:       client,
		pollInterval: 3 * time.Second,
		waitTimeout:  120 * time.Second,
	}, nil
}

type gasPriceResult struct {
	Standard struct {
		MaxFeePerGas         string `json:"maxFeePerGas"`
		MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
	} `json:"standard"`
}

func (c *RPCBundlerClient) GetUserOperationGasPrice(ctx context.Context) (*GasPrice, error) {
	var result gasPriceResult
	if err := c.client.CallContext(ctx, &result, "pimlico_getUserOperationGasPrice"); err != nil {
		return nil, err
	}
	maxFee, err := hexutil.DecodeBig(result.Standard.MaxFeePerGas)
	if err != nil {
		return nil, fmt.Errorf("invalid maxFeePerGas %q: %w", result.Standard.MaxFeePerGas, err)
	}
	maxPriority, err := hexutil.DecodeBig(result.Standard.MaxPriorityFeePerGas)
	if err != nil {
		return nil, fmt.Errorf("invalid maxPriorityFeePerGas %q: %w", result.Standard.MaxPriorityFeePerGas, err)
	}
	return &GasPrice{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: maxPriority}, nil
}

func (c *RPCBundlerClient) SendUserOperation(ctx context.Context, op *UserOperation, entryPoint common.Address) (string, error) {
	var userOpHash string
	if err := c.client.CallContext(ctx, &userOpHash, "eth_sendUserOperation", op, entryPoint.Hex()); err != nil {
		return "", err
	}
	return userOpHash, nil
}

type receiptResult struct {
	Success bool `json:"success"`
	Receipt struct {
		TransactionHash string `json:"transactionHash"`
		BlockNumber     string `json:"blockNumber"`
		GasUsed         string `json:"gasUsed"`
	} `json:"receipt"`
}

// WaitForReceipt 阻塞轮询直到拿到回执或超时。
// 调用方一旦提交就不能中止操作，只能等待 —— 这里不透传上游 cancel 之外的取消。
func (c *RPCBundlerClient) WaitForReceipt(ctx context.Context, userOpHash string) (*Receipt, error) {
	deadline := time.Now().Add(c.waitTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		var result *receiptResult
		err := c.client.CallContext(ctx, &result, "eth_getUserOperationReceipt", userOpHash)
		if err == nil && result != nil {
			blockNumber, err := hexutil.DecodeUint64(result.Receipt.BlockNumber)
			if err != nil {
				return nil, fmt.Errorf("invalid blockNumber in receipt: %w", err)
			}
			gasUsed, err := hexutil.DecodeUint64(result.Receipt.GasUsed)
			if err != nil {
				return nil, fmt.Errorf("invalid gasUsed in receipt: %w", err)
			}
			return &Receipt{
				UserOpHash:      userOpHash,
				TransactionHash: result.Receipt.TransactionHash,
				BlockNumber:     blockNumber,
				GasUsed:         gasUsed,
				Success:         result.Success,
			}, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrReceiptTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
