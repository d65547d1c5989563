package gasless

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignPermitLayout(t *testing.T) {
	signer := newTestSigner(t)
	defer signer.Destroy()
	token := usdcToken()
	spender := common.HexToAddress("0x2222222222222222222222222222222222222222")
	value := big.NewInt(10_000_000)

	chain := &fakeChain{tokenName: "USD Coin", permitNonce: big.NewInt(3)}
	packed, err := SignPermit(context.Background(), chain, signer, token.Address, 421614, spender, value)
	require.NoError(t, err)

	// encodePacked(value, deadline, v, r, s) 固定 129 字节
	require.Len(t, packed, 129)

	gotValue := new(big.Int).SetBytes(packed[:32])
	assert.Equal(t, value, gotValue)

	deadline := new(big.Int).SetBytes(packed[32:64]).Int64()
	now := time.Now().Unix()
	assert.Greater(t, deadline, now)
	assert.LessOrEqual(t, deadline, now+int64(permitDeadlineWindow.Seconds())+5)

	v := packed[64]
	assert.Contains(t, []byte{27, 28}, v)
}

func TestSignPermitNameFallback(t *testing.T) {
	signer := newTestSigner(t)
	defer signer.Destroy()

	// name() 不可用的代币也必须能出 permit (domain name 回退)
	chain := &fakeChain{nameErr: errors.New("execution reverted")}
	packed, err := SignPermit(context.Background(), chain, signer,
		usdcToken().Address, 421614,
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		big.NewInt(1))
	require.NoError(t, err)
	assert.Len(t, packed, 129)
}

func TestPackPaymasterData(t *testing.T) {
	paymaster := common.HexToAddress("0x2222222222222222222222222222222222222222")
	token := common.HexToAddress("0x75faf114eafb1BDbe2F0316DF893fd58CE46AA4d")
	permitSig := make([]byte, 129)
	amount := big.NewInt(10_000_000)

	data := PackPaymasterData(paymaster, token, amount, permitSig)

	// paymaster(20) + mode(1) + token(20) + amount(32) + sig(129)
	require.Len(t, data, 202)
	assert.Equal(t, paymaster.Bytes(), data[:20])
	assert.Equal(t, byte(0x00), data[20])
	assert.Equal(t, token.Bytes(), data[21:41])
	assert.Equal(t, amount, new(big.Int).SetBytes(data[41:73]))
}

func TestUserOperationHashDeterministic(t *testing.T) {
	entryPoint := common.HexToAddress(EntryPointV06)
	chainID := big.NewInt(421614)

	op := &UserOperation{
		Sender:               common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:                big.NewInt(1),
		InitCode:             []byte{},
		CallData:             []byte{0xb6, 0x1d, 0x27, 0xf6},
		CallGasLimit:         big.NewInt(150_000),
		VerificationGasLimit: big.NewInt(500_000),
		PreVerificationGas:   big.NewInt(100_000),
		MaxFeePerGas:         big.NewInt(100),
		MaxPriorityFeePerGas: big.NewInt(1),
		PaymasterAndData:     []byte{},
		Signature:            []byte{},
	}

	h1, err := op.Hash(entryPoint, chainID)
	require.NoError(t, err)
	h2, err := op.Hash(entryPoint, chainID)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	// 签名不参与哈希 (哈希先于签名计算)
	op.Signature = []byte{0x01}
	h3, err := op.Hash(entryPoint, chainID)
	require.NoError(t, err)
	assert.Equal(t, h1, h3)

	// nonce 变化哈希必须变化
	op.Nonce = big.NewInt(2)
	h4, err := op.Hash(entryPoint, chainID)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h4)

	// chainId 变化哈希必须变化 (跨链重放防护)
	op.Nonce = big.NewInt(1)
	h5, err := op.Hash(entryPoint, big.NewInt(1))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h5)
}

func TestUserOperationMarshalJSON(t *testing.T) {
	op := &UserOperation{
		Sender:               common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:                big.NewInt(7),
		InitCode:             []byte{},
		CallData:             []byte{0xb6, 0x1d, 0x27, 0xf6},
		CallGasLimit:         big.NewInt(150_000),
		VerificationGasLimit: big.NewInt(500_000),
		PreVerificationGas:   big.NewInt(100_000),
		MaxFeePerGas:         big.NewInt(256),
		MaxPriorityFeePerGas: big.NewInt(1),
		PaymasterAndData:     []byte{0xaa},
		Signature:            []byte{0xbb},
	}

	raw, err := json.Marshal(op)
	require.NoError(t, err)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(raw, &fields))

	// Bundler RPC 要求全部字段 hex 编码
	assert.Equal(t, "0x7", fields["nonce"])
	assert.Equal(t, "0x100", fields["maxFeePerGas"])
	assert.Equal(t, "0xb61d27f6", fields["callData"])
	assert.Equal(t, "0x", fields["initCode"])
	assert.Equal(t, "0xaa", fields["paymasterAndData"])
	assert.Equal(t, "0xbb", fields["signature"])
}
