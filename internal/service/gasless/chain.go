package gasless

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ChainReader 链上只读查询。测试中用假实现替换。
type ChainReader interface {
	// BalanceOf 读取 owner 的 ERC-20 余额 (最小单位)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	// TokenName 读取代币名称 (EIP-2612 domain 用)
	TokenName(ctx context.Context, token common.Address) (string, error)
	// PermitNonce 读取 owner 的 permit nonce
	PermitNonce(ctx context.Context, token, owner common.Address) (*big.Int, error)
	// AccountNonce 读取 EntryPoint 上智能账户的操作 nonce
	AccountNonce(ctx context.Context, entryPoint, sender common.Address) (*big.Int, error)
}

const erc20ABIJSON = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"nonces","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

const entryPointABIJSON = `[
	{"constant":true,"inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],"name":"getNonce","outputs":[{"name":"nonce","type":"uint256"}],"type":"function"}
]`

var (
	erc20ABI      abi.ABI
	entryPointABI abi.ABI
)

func init() {
	var err error
	erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic(fmt.Sprintf("解析 ERC-20 ABI 失败: %v", err))
	}
	entryPointABI, err = abi.JSON(strings.NewReader(entryPointABIJSON))
	if err != nil {
		panic(fmt.Sprintf("解析 EntryPoint ABI 失败: %v", err))
	}
}

// PackTransfer 构造 ERC-20 transfer 调用数据
func PackTransfer(to common.Address, value *big.Int) ([]byte, error) {
	return erc20ABI.Pack("transfer", to, value)
}

// EthChainReader 基于 ethclient 的实现
type EthChainReader struct {
	client *ethclient.Client
}

func NewEthChainReader(rpcURL string) (*EthChainReader, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接 RPC 失败: %w", err)
	}
	return &EthChainReader{client: client}, nil
}

func (r *EthChainReader) call(ctx context.Context, token common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	raw, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return erc20ABI.Unpack(method, raw)
}

func (r *EthChainReader) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := r.call(ctx, token, "balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("balanceOf 调用失败: %w", err)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

func (r *EthChainReader) TokenName(ctx context.Context, token common.Address) (string, error) {
	out, err := r.call(ctx, token, "name")
	if err != nil {
		return "", err
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

func (r *EthChainReader) PermitNonce(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := r.call(ctx, token, "nonces", owner)
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

func (r *EthChainReader) AccountNonce(ctx context.Context, entryPoint, sender common.Address) (*big.Int, error) {
	data, err := entryPointABI.Pack("getNonce", sender, big.NewInt(0))
	if err != nil {
		return nil, err
	}
	raw, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &entryPoint, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("getNonce 调用失败: %w", err)
	}
	out, err := entryPointABI.Unpack("getNonce", raw)
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}
