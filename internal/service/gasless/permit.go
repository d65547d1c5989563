package gasless

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"payment-core/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/zap"
)

// permitDeadlineWindow permit 授权的有效期
const permitDeadlineWindow = time.Hour

// SignPermit 构造并签名 EIP-2612 permit：
// 授权 spender (Paymaster) 从 owner 账户扣走不超过 value 的代币作为 Gas 补偿。
// domain name 读代币合约的 name()，读不到则回退 "Token"；
// nonce 读 nonces(owner)，没有 nonce 概念的代币回退 0。
// 返回 encodePacked(value, deadline, v, r, s)，共 129 字节。
func SignPermit(ctx context.Context, chain ChainReader, signer *Signer, token common.Address, chainID int64, spender common.Address, value *big.Int) ([]byte, error) {
	deadline := big.NewInt(time.Now().Add(permitDeadlineWindow).Unix())

	tokenName, err := chain.TokenName(ctx, token)
	if err != nil || tokenName == "" {
		// 部分代币没有 name()，按惯例回退
		tokenName = "Token"
	}

	nonce, err := chain.PermitNonce(ctx, token, signer.AccountAddress)
	if err != nil || nonce == nil {
		// 没有 nonces() 的代币按 0 处理
		nonce = big.NewInt(0)
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Permit": []apitypes.Type{
				{Name: "owner", Type: "address"},
				{Name: "spender", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "Permit",
		Domain: apitypes.TypedDataDomain{
			Name:              tokenName,
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: token.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"owner":    signer.AccountAddress.Hex(),
			"spender":  spender.Hex(),
			"value":    value.String(),
			"nonce":    nonce.String(),
			"deadline": deadline.String(),
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("permit typed data hash: %w", err)
	}

	sig, err := signer.SignHash(hash)
	if err != nil {
		return nil, fmt.Errorf("permit signing: %w", err)
	}

	// crypto.Sign 返回 [R || S || V]，V 为 0/1，合约侧预期 27/28
	v := sig[64] + 27
	r := sig[:32]
	s := sig[32:64]

	logger.Debug("permit 已签名",
		zap.String("token", token.Hex()),
		zap.String("spender", spender.Hex()),
		zap.String("value", value.String()))

	// encodePacked(uint256 value, uint256 deadline, uint8 v, bytes32 r, bytes32 s)
	packed := make([]byte, 0, 129)
	packed = append(packed, math.PaddedBigBytes(value, 32)...)
	packed = append(packed, math.PaddedBigBytes(deadline, 32)...)
	packed = append(packed, v)
	packed = append(packed, r...)
	packed = append(packed, s...)
	return packed, nil
}

// PackPaymasterData 按 Paymaster 合约预期的布局打包：
// encodePacked(uint8 mode=0, address token, uint256 permitAmount, bytes permitSig)
func PackPaymasterData(paymaster, token common.Address, permitAmount *big.Int, permitSig []byte) []byte {
	data := make([]byte, 0, 20+1+20+32+len(permitSig))
	data = append(data, paymaster.Bytes()...)
	data = append(data, 0x00)
	data = append(data, token.Bytes()...)
	data = append(data, math.PaddedBigBytes(permitAmount, 32)...)
	data = append(data, permitSig...)
	return data
}
